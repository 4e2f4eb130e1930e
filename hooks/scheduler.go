package hooks

// Callback is run when a scheduled event is due.
type Callback func(c Control)

// EventID identifies a scheduled event.
type EventID uint64

type event struct {
	id    EventID
	delta uint64 // cycles after the previous event in the list
	cb    Callback
	prev  *event
	next  *event
}

// Scheduler is a cycle-driven event list. Every event stores its distance
// to its predecessor, so advancing time only touches the head.
//
// The scheduler is itself a hook: it consumes the cycles that passed since
// the previous boundary and fires what is due.
type Scheduler struct {
	head   *event
	tail   *event
	nextID EventID
	last   uint64 // cycle counter at the previous boundary
	synced bool
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Name returns "scheduler".
func (s *Scheduler) Name() string { return "scheduler" }

// Len returns the number of pending events.
func (s *Scheduler) Len() int {
	n := 0
	for ev := s.head; ev != nil; ev = ev.next {
		n++
	}
	return n
}

// Add schedules cb to run after delay cycles. A delay of zero fires at the
// next boundary.
func (s *Scheduler) Add(delay uint64, cb Callback) EventID {
	s.nextID++
	ev := &event{id: s.nextID, delta: delay, cb: cb}

	cur := s.head
	for cur != nil {
		if ev.delta < cur.delta {
			cur.delta -= ev.delta
			ev.prev = cur.prev
			ev.next = cur
			cur.prev = ev
			if ev.prev != nil {
				ev.prev.next = ev
			} else {
				s.head = ev
			}
			return ev.id
		}
		ev.delta -= cur.delta
		cur = cur.next
	}

	ev.prev = s.tail
	if s.tail != nil {
		s.tail.next = ev
	} else {
		s.head = ev
	}
	s.tail = ev
	return ev.id
}

// Cancel removes a pending event. It reports whether the event was found.
func (s *Scheduler) Cancel(id EventID) bool {
	for ev := s.head; ev != nil; ev = ev.next {
		if ev.id != id {
			continue
		}
		if ev.next != nil {
			ev.next.delta += ev.delta
			ev.next.prev = ev.prev
		} else {
			s.tail = ev.prev
		}
		if ev.prev != nil {
			ev.prev.next = ev.next
		} else {
			s.head = ev.next
		}
		return true
	}
	return false
}

// Advance moves time forward by t cycles and runs every event that became
// due, in due order. Callbacks may add new events.
func (s *Scheduler) Advance(t uint64, c Control) {
	for s.head != nil {
		ev := s.head
		if ev.delta > t {
			ev.delta -= t
			return
		}
		t -= ev.delta
		s.head = ev.next
		if s.head != nil {
			s.head.prev = nil
		} else {
			s.tail = nil
		}
		ev.cb(c)
	}
}

// AtBoundary advances by the cycles spent since the previous boundary.
func (s *Scheduler) AtBoundary(b Boundary, c Control) {
	now := b.Header.Cycles()
	if !s.synced || now < s.last {
		s.last = now
		s.synced = true
	}
	elapsed := now - s.last
	s.last = now
	s.Advance(elapsed, c)
}

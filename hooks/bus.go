package hooks

import (
	"sync"

	"github.com/rafzi/etiss/regs"
)

// Change is one register field update.
type Change struct {
	Struct string
	Field  string
	Old    uint64
	New    uint64
}

// Bus fans register change notifications out to subscribers of single
// fields. It implements regs.Observer, so delivery is synchronous with
// the write that caused it.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string][]subscription
}

type subscription struct {
	id int
	fn func(Change)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe calls fn for every change of field. An empty field name
// subscribes to all fields. Subscribers of a field are called in
// subscription order, before the subscribers of all fields. The returned
// function cancels the subscription.
func (b *Bus) Subscribe(field string, fn func(Change)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[field] = append(b.subs[field], subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[field]
		for i, sub := range subs {
			if sub.id == id {
				b.subs[field] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// FieldChanged implements regs.Observer.
func (b *Bus) FieldChanged(s *regs.Struct, f *regs.Field, old, new uint64) {
	ch := Change{Struct: s.Name(), Field: f.Name(), Old: old, New: new}

	b.mu.Lock()
	var fns []func(Change)
	for _, key := range []string{f.Name(), ""} {
		for _, sub := range b.subs[key] {
			fns = append(fns, sub.fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}

// Package blockcache keeps compiled blocks, keyed by PC, mode and
// translation configuration, in a set-associative LRU directory.
package blockcache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
	"golang.org/x/sync/singleflight"

	"github.com/rafzi/etiss/codegen"
	"github.com/rafzi/etiss/jit"
	"github.com/rafzi/etiss/translate"
)

// ErrClosed is returned by a cache after Close.
var ErrClosed = errors.New("block cache is closed")

// Config holds the directory geometry. Every (mode, version) pair gets a
// directory of Sets*Associativity entries.
type Config struct {
	Sets          int `json:"sets" yaml:"sets"`
	Associativity int `json:"associativity" yaml:"associativity"`
}

// DefaultConfig returns 256 sets of 4 ways.
func DefaultConfig() Config {
	return Config{
		Sets:          256,
		Associativity: 4,
	}
}

// Validate checks the geometry.
func (c Config) Validate() error {
	if c.Sets <= 0 {
		return fmt.Errorf("sets must be positive, got %d", c.Sets)
	}
	if c.Associativity <= 0 {
		return fmt.Errorf("associativity must be positive, got %d", c.Associativity)
	}
	return nil
}

// Statistics holds cache counters.
type Statistics struct {
	Lookups   uint64
	Hits      uint64
	Misses    uint64
	Compiles  uint64
	Failures  uint64
	Evictions uint64
}

// Entry is one compiled block. Entries returned by Get are pinned and stay
// callable until Unpin, even when they are evicted in between.
type Entry struct {
	Block *codegen.Block
	Func  jit.BlockFunc

	handle  jit.Handle
	cache   *Cache
	pins    int
	evicted bool
	dead    bool
}

// Unpin gives up the caller's reference.
func (e *Entry) Unpin() {
	c := e.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.pins == 0 {
		return
	}
	e.pins--
	if e.pins == 0 && e.evicted {
		c.release(e)
	}
}

type key struct {
	mode    uint32
	version uint64
}

type directory struct {
	dir     *akitacache.DirectoryImpl
	entries []*Entry // indexed by setID*associativity + wayID
}

// Cache translates, compiles and remembers blocks. It is safe for
// concurrent use and compiles every key at most once at a time.
type Cache struct {
	config  Config
	engine  *translate.Engine
	backend jit.Backend
	options jit.Options
	log     logr.Logger
	onMiss  func(pc uint64, mode uint32)

	mu     sync.Mutex
	dirs   map[key]*directory
	stats  Statistics
	closed bool

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithConfig sets the geometry.
func WithConfig(config Config) Option {
	return func(c *Cache) {
		c.config = config
	}
}

// WithOptions sets the compile options. The architecture headers of the
// engine are always added.
func WithOptions(opts jit.Options) Option {
	return func(c *Cache) {
		c.options = opts
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(c *Cache) {
		c.log = log
	}
}

// WithMissHandler sets a function called on every miss before the
// block is translated. It runs on the goroutine that called Get.
func WithMissHandler(fn func(pc uint64, mode uint32)) Option {
	return func(c *Cache) {
		c.onMiss = fn
	}
}

// New creates a cache that translates with engine and compiles with
// backend.
func New(engine *translate.Engine, backend jit.Backend, opts ...Option) (*Cache, error) {
	c := &Cache{
		config:  DefaultConfig(),
		engine:  engine,
		backend: backend,
		log:     logr.Discard(),
		dirs:    make(map[key]*directory),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid block cache config: %w", err)
	}

	c.options.Headers = append(append([]jit.Header(nil), c.options.Headers...), engine.Headers()...)
	return c, nil
}

// Config returns the geometry.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, d := range c.dirs {
		for _, e := range d.entries {
			if e != nil {
				n++
			}
		}
	}
	return n
}

// Get returns the pinned entry for the block at pc, translating and
// compiling it on a miss.
func (c *Cache) Get(f translate.Fetcher, pc uint64, mode uint32) (*Entry, error) {
	k := key{mode: mode, version: c.engine.Version()}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.stats.Lookups++
	if e := c.lookup(k, pc); e != nil {
		c.stats.Hits++
		e.pins++
		c.mu.Unlock()
		return e, nil
	}
	c.stats.Misses++
	c.mu.Unlock()

	if c.onMiss != nil {
		c.onMiss(pc, mode)
	}

	for {
		v, err, _ := c.group.Do(fmt.Sprintf("%d/%x/%x", k.mode, k.version, pc), func() (any, error) {
			return c.compile(f, k, pc)
		})
		if err != nil {
			return nil, err
		}

		e := v.(*Entry)
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		if !e.dead {
			e.pins++
			c.mu.Unlock()
			return e, nil
		}
		c.mu.Unlock()
	}
}

func (c *Cache) lookup(k key, pc uint64) *Entry {
	d := c.dirs[k]
	if d == nil {
		return nil
	}
	block := d.dir.Lookup(0, pc)
	if block == nil || !block.IsValid {
		return nil
	}
	d.dir.Visit(block)
	return d.entries[c.index(block)]
}

func (c *Cache) index(block *akitacache.Block) int {
	return block.SetID*c.config.Associativity + block.WayID
}

func (c *Cache) compile(f translate.Fetcher, k key, pc uint64) (*Entry, error) {
	c.mu.Lock()
	if e := c.lookup(k, pc); e != nil {
		c.mu.Unlock()
		return e, nil
	}
	c.mu.Unlock()

	b, err := c.engine.TranslateBlock(f, pc, k.mode)
	if err != nil {
		c.fail()
		return nil, err
	}

	h, err := c.backend.Translate(c.engine.Unit(b).Source(), c.options)
	if err != nil {
		c.fail()
		return nil, fmt.Errorf("failed to compile block at 0x%x: %w", pc, err)
	}
	fn, err := c.backend.Function(h, b.Symbol)
	if err != nil {
		c.fail()
		_ = c.backend.Release(h)
		return nil, fmt.Errorf("failed to resolve block at 0x%x: %w", pc, err)
	}

	e := &Entry{Block: b, Func: fn, handle: h, cache: c}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Compiles++
	if c.closed {
		c.release(e)
		return e, nil
	}
	c.insert(k, pc, e)

	c.log.V(2).Info("compiled block", "pc", pc, "mode", k.mode, "symbol", b.Symbol, "instructions", b.Instructions)
	return e, nil
}

func (c *Cache) fail() {
	c.mu.Lock()
	c.stats.Failures++
	c.mu.Unlock()
}

func (c *Cache) insert(k key, pc uint64, e *Entry) {
	d := c.dirs[k]
	if d == nil {
		d = &directory{
			dir: akitacache.NewDirectory(
				c.config.Sets,
				c.config.Associativity,
				1,
				akitacache.NewLRUVictimFinder(),
			),
			entries: make([]*Entry, c.config.Sets*c.config.Associativity),
		}
		c.dirs[k] = d
	}

	victim := d.dir.FindVictim(pc)
	if victim == nil {
		c.release(e)
		return
	}

	idx := c.index(victim)
	if victim.IsValid {
		c.stats.Evictions++
		c.evict(d.entries[idx])
	}

	victim.Tag = pc
	victim.IsValid = true
	victim.IsDirty = false
	d.entries[idx] = e
	d.dir.Visit(victim)
}

// evict drops e from the directory. The handle is released once nobody
// holds a pin.
func (c *Cache) evict(e *Entry) {
	if e == nil {
		return
	}
	e.evicted = true
	if e.pins == 0 {
		c.release(e)
	}
}

func (c *Cache) release(e *Entry) {
	if e.dead {
		return
	}
	e.dead = true
	if err := c.backend.Release(e.handle); err != nil {
		c.log.Error(err, "failed to release block", "symbol", e.Block.Symbol)
	}
}

// Invalidate drops the block starting at pc in every configuration of
// mode. It is used when guest code changes.
func (c *Cache) Invalidate(pc uint64, mode uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, d := range c.dirs {
		if k.mode != mode {
			continue
		}
		block := d.dir.Lookup(0, pc)
		if block == nil || !block.IsValid {
			continue
		}
		idx := c.index(block)
		block.IsValid = false
		c.evict(d.entries[idx])
		d.entries[idx] = nil
	}
}

// Flush drops every entry.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flush()
}

func (c *Cache) flush() {
	for k, d := range c.dirs {
		for _, e := range d.entries {
			c.evict(e)
		}
		delete(c.dirs, k)
	}
}

// Close flushes the cache and rejects later lookups.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flush()
	c.closed = true
}

package registry

import (
	"context"
	"runtime"
	"sync"
	"weak"

	"go.uber.org/zap"

	"github.com/wippyai/nativebind"
	"github.com/wippyai/nativebind/errors"
)

// FreeFunc releases one owned native handle.
type FreeFunc func(ctx context.Context, h nativebind.Handle, t *Type) error

// EventType identifies an Object lifecycle transition.
type EventType uint8

const (
	EventWrapped EventType = iota
	EventReleased
	EventFreed
	EventConsumed
	EventCollected
)

func (e EventType) String() string {
	switch e {
	case EventWrapped:
		return "wrapped"
	case EventReleased:
		return "released"
	case EventFreed:
		return "freed"
	case EventConsumed:
		return "consumed"
	case EventCollected:
		return "collected"
	default:
		return "unknown"
	}
}

// Event is an Object lifecycle notification. Object is nil for collected
// objects.
type Event struct {
	Object    *Object
	Err       error
	TypeName  string
	Handle    nativebind.Handle
	Refs      int
	Ownership Ownership
	Kind      EventType
}

// Observer receives Object lifecycle events.
type Observer interface {
	OnObjectEvent(Event)
}

type status uint8

const (
	live status = iota
	released
	consumed
	collected
)

// state is shared between an Object and its cleanup. It never points back
// at the Object.
type state struct {
	t      *Type
	h      nativebind.Handle
	extra  int
	own    Ownership
	status status
}

// Object is the managed identity of one native handle.
type Object struct {
	reg  *Registry
	st   *state
	refs int
}

// Handle returns the native handle.
func (o *Object) Handle() nativebind.Handle { return o.st.h }

// Type returns the type the handle was first wrapped as.
func (o *Object) Type() *Type { return o.st.t }

// Ownership returns the current ownership mode.
func (o *Object) Ownership() Ownership {
	o.reg.mu.Lock()
	defer o.reg.mu.Unlock()
	return o.st.own
}

// Refs returns the number of counted references.
func (o *Object) Refs() int {
	o.reg.mu.Lock()
	defer o.reg.mu.Unlock()
	return o.refs
}

// Live reports whether the handle may still be used.
func (o *Object) Live() bool {
	o.reg.mu.Lock()
	defer o.reg.mu.Unlock()
	return o.st.status == live
}

// Check returns an ownership error when the handle was released or consumed.
func (o *Object) Check() error {
	o.reg.mu.Lock()
	defer o.reg.mu.Unlock()
	return statusError(o.st.status, o.st.h)
}

func statusError(s status, h nativebind.Handle) error {
	switch s {
	case live:
		return nil
	case consumed:
		return errors.Ownership(errors.PhaseRegistry, uint32(h), "ownership was transferred to native code")
	default:
		return errors.Ownership(errors.PhaseRegistry, uint32(h), "handle was released")
	}
}

// Reference is one managed reference to an Object. Every Wrap returns a
// new Reference; releasing the same Reference twice is a no-op and never
// touches another Reference to the Object.
type Reference struct {
	*Object

	// status is live until this reference is released or consumed.
	// Guarded by reg.mu.
	status  status
	counted bool

	once  sync.Once
	value any
}

// Counted reports whether the reference holds one of the Object's counted
// references. Borrow returns uncounted references.
func (ref *Reference) Counted() bool { return ref.counted }

// Live reports whether the handle may still be used through ref.
func (ref *Reference) Live() bool {
	ref.reg.mu.Lock()
	defer ref.reg.mu.Unlock()
	return ref.status == live && ref.st.status == live
}

// Check returns an ownership error when ref or its Object was released or
// consumed.
func (ref *Reference) Check() error {
	ref.reg.mu.Lock()
	defer ref.reg.mu.Unlock()
	return ref.check()
}

// check is Check with reg.mu held.
func (ref *Reference) check() error {
	if ref.status != live {
		return statusError(ref.status, ref.st.h)
	}
	return statusError(ref.st.status, ref.st.h)
}

// Value returns the wrapper the type's factory builds for ref.
func (ref *Reference) Value() any {
	ref.once.Do(func() {
		if ref.st.t.New != nil {
			ref.value = ref.st.t.New(ref)
		}
	})
	return ref.value
}

type slot struct {
	ptr weak.Pointer[Object]
	st  *state
}

type deferredFree struct {
	t *Type
	h nativebind.Handle
}

// Registry is the handle to Object table of one session.
type Registry struct {
	Types *Types

	free      FreeFunc
	table     map[nativebind.Handle]*slot
	queue     []deferredFree
	observers []Observer
	mu        sync.Mutex
	obsMu     sync.RWMutex
}

// New creates a registry that releases owned handles through free.
func New(free FreeFunc) *Registry {
	return &Registry{
		Types: NewTypes(),
		free:  free,
		table: make(map[nativebind.Handle]*slot),
	}
}

// Wrap returns a new counted Reference to the live Object for h, creating
// the Object on first observation. A Full observation of a Borrowed Object
// upgrades it to Full.
func (r *Registry) Wrap(h nativebind.Handle, t *Type, own Ownership) (*Reference, error) {
	return r.wrap(h, t, own, true)
}

// Borrow returns an uncounted Reference to h. It shares the Object's
// identity but never keeps the handle alive: releasing it is a no-op and
// the Object is torn down when its counted references are released.
func (r *Registry) Borrow(h nativebind.Handle, t *Type) (*Reference, error) {
	return r.wrap(h, t, Borrowed, false)
}

func (r *Registry) wrap(h nativebind.Handle, t *Type, own Ownership, counted bool) (*Reference, error) {
	if t == nil {
		return nil, errors.InvalidInput(errors.PhaseRegistry, "wrap without a type")
	}
	if h.IsNull() {
		return nil, errors.NullHandle(errors.PhaseRegistry, nil, t.Name)
	}

	r.mu.Lock()
	owned := 0
	if s, ok := r.table[h]; ok && s.st.status == live {
		if o := s.ptr.Value(); o != nil {
			if counted {
				o.refs++
			}
			if own == Full {
				switch {
				case o.st.own == Borrowed:
					o.st.own = Full
				case o.st.t.Refcounted:
					o.st.extra++
				}
			}
			ev := r.event(o, EventWrapped)
			r.mu.Unlock()
			r.notify(ev)
			return &Reference{Object: o, counted: counted}, nil
		}
		// The Object is unreachable but its cleanup has not run yet. The
		// new Object inherits what the old one owned.
		s.st.status = collected
		if s.st.own == Full {
			owned = 1 + s.st.extra
		}
	}

	owned += r.unqueue(h)
	if own == Full {
		owned++
	}
	st := &state{t: t, h: h}
	if owned > 0 {
		st.own = Full
		if t.Refcounted {
			st.extra = owned - 1
		}
	}

	o := &Object{reg: r, st: st}
	if counted {
		o.refs = 1
	}
	r.table[h] = &slot{ptr: weak.Make(o), st: st}
	runtime.AddCleanup(o, r.collect, st)
	ev := r.event(o, EventWrapped)
	r.mu.Unlock()

	Logger().Debug("wrapped handle",
		zap.Uint32("handle", uint32(h)),
		zap.String("type", t.Name),
		zap.Stringer("ownership", st.own))
	r.notify(ev)
	return &Reference{Object: o, counted: counted}, nil
}

// unqueue cancels deferred frees of h and returns how many were pending.
// A handle observed again before its free ran is still alive natively.
func (r *Registry) unqueue(h nativebind.Handle) int {
	n := 0
	kept := r.queue[:0]
	for _, d := range r.queue {
		if d.h == h {
			n++
			continue
		}
		kept = append(kept, d)
	}
	r.queue = kept
	return n
}

// Release drops ref. Releasing the last counted reference tears the Object
// down and frees the handle if it is owned. Releasing a Reference twice,
// or one whose Object is already torn down, is a no-op.
func (r *Registry) Release(ctx context.Context, ref *Reference) error {
	if ref == nil || ref.Object == nil {
		return nil
	}
	r.mu.Lock()
	if ref.status != live {
		r.mu.Unlock()
		return nil
	}
	ref.status = released
	o := ref.Object
	if !ref.counted || o.st.status != live {
		r.mu.Unlock()
		return nil
	}
	o.refs--
	if o.refs > 0 {
		ev := r.event(o, EventReleased)
		r.mu.Unlock()
		r.notify(ev)
		return nil
	}

	frees := r.teardown(o.st, released)
	ev := r.event(o, EventReleased)
	r.mu.Unlock()

	r.notify(ev)
	return r.runFrees(ctx, frees)
}

// teardown removes st from the table and returns the frees it owes.
// Caller holds r.mu.
func (r *Registry) teardown(st *state, to status) []deferredFree {
	st.status = to
	if s, ok := r.table[st.h]; ok && s.st == st {
		delete(r.table, st.h)
	}
	if st.own != Full || to == consumed {
		return nil
	}
	frees := make([]deferredFree, 0, 1+st.extra)
	for i := 0; i <= st.extra; i++ {
		frees = append(frees, deferredFree{t: st.t, h: st.h})
	}
	return frees
}

// Consume records that ref's ownership moved to native code. A refcounted
// Object gives up one native reference and stays live while counted
// references remain; otherwise the Object leaves the table without a free
// and later use reports an ownership violation.
func (r *Registry) Consume(ctx context.Context, ref *Reference) error {
	if ref == nil || ref.Object == nil {
		return errors.InvalidInput(errors.PhaseRegistry, "consume without a reference")
	}
	r.mu.Lock()
	if err := ref.check(); err != nil {
		r.mu.Unlock()
		return err
	}
	ref.status = consumed
	o := ref.Object
	if ref.counted {
		o.refs--
	}
	st := o.st
	switch {
	case st.t.Refcounted && st.own == Full && st.extra > 0:
		st.extra--
	case st.t.Refcounted && st.own == Full && o.refs > 0:
		st.own = Borrowed
	case st.t.Refcounted && o.refs > 0:
	default:
		r.teardown(st, consumed)
		o.refs = 0
	}
	ev := r.event(o, EventConsumed)
	var frees []deferredFree
	if st.status == live && o.refs == 0 {
		frees = r.teardown(st, released)
	}
	r.mu.Unlock()

	r.notify(ev)
	return r.runFrees(ctx, frees)
}

// Lookup returns the live Object for h without adding a reference.
func (r *Registry) Lookup(h nativebind.Handle) (*Object, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.table[h]
	if !ok {
		return nil, false
	}
	o := s.ptr.Value()
	if o == nil || o.st.status != live {
		return nil, false
	}
	return o, true
}

// Len returns the number of live Objects.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.table {
		if s.ptr.Value() != nil {
			n++
		}
	}
	return n
}

// Pending returns the number of queued frees.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// collect runs on the cleanup goroutine after an Object became unreachable.
// It only queues work; Drain performs the native frees.
func (r *Registry) collect(st *state) {
	r.mu.Lock()
	if st.status != live {
		r.mu.Unlock()
		return
	}
	frees := r.teardown(st, collected)
	r.queue = append(r.queue, frees...)
	r.mu.Unlock()

	r.notify(Event{Handle: st.h, TypeName: st.t.Name, Ownership: st.own, Kind: EventCollected})
}

// Drain runs queued frees on the calling goroutine.
func (r *Registry) Drain(ctx context.Context) error {
	r.mu.Lock()
	q := r.queue
	r.queue = nil
	r.mu.Unlock()
	return r.runFrees(ctx, q)
}

func (r *Registry) runFrees(ctx context.Context, frees []deferredFree) error {
	var errs []error
	for _, d := range frees {
		var err error
		if r.free != nil {
			err = r.free(ctx, d.h, d.t)
		}
		if err != nil {
			Logger().Warn("native free failed",
				zap.Uint32("handle", uint32(d.h)),
				zap.String("type", d.t.Name),
				zap.Error(err))
			errs = append(errs, err)
		}
		r.notify(Event{Handle: d.h, TypeName: d.t.Name, Ownership: Full, Kind: EventFreed, Err: err})
	}
	return errors.Join(errs...)
}

// Close tears down every live Object, freeing owned handles, then drains
// the queue.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	var frees []deferredFree
	for _, s := range r.table {
		if s.st.status == live {
			frees = append(frees, r.teardown(s.st, released)...)
		}
	}
	r.table = make(map[nativebind.Handle]*slot)
	frees = append(frees, r.queue...)
	r.queue = nil
	r.mu.Unlock()
	return r.runFrees(ctx, frees)
}

// Subscribe adds an observer for lifecycle events.
func (r *Registry) Subscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, o)
}

// Unsubscribe removes an observer.
func (r *Registry) Unsubscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	for i, obs := range r.observers {
		if obs == o {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			return
		}
	}
}

// event snapshots o. Caller holds r.mu.
func (r *Registry) event(o *Object, kind EventType) Event {
	return Event{
		Object:    o,
		Handle:    o.st.h,
		TypeName:  o.st.t.Name,
		Refs:      o.refs,
		Ownership: o.st.own,
		Kind:      kind,
	}
}

func (r *Registry) notify(e Event) {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, o := range r.observers {
		o.OnObjectEvent(e)
	}
}

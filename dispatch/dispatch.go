// Package dispatch implements a typed publish/subscribe registry for decoded
// payloads.
//
// Delivery is synchronous: Dispatch invokes every subscriber registered for
// the payload's kind, in subscription order, on the caller's goroutine.
// Subscribe and Unsubscribe may be called from inside a callback. A
// subscriber removed during a round is not invoked for the rest of that
// round; one added during a round is first invoked on the next.
package dispatch

import (
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/luhtfiimanal/serialhub/payload"
)

var (
	// ErrUnknownHandle is returned by Unsubscribe for a handle that is not
	// (or no longer) registered.
	ErrUnknownHandle = errors.New("subscription handle not found")
	// ErrNilHandler is returned by Subscribe when the callback is nil.
	ErrNilHandler = errors.New("subscriber callback cannot be nil")
	// ErrCallbackFailed is matched by every CallbackError.
	ErrCallbackFailed = errors.New("subscriber callback failed")
)

// Handler receives one payload. A returned error, or a panic, is reported in
// the dispatch Report and does not stop delivery to other subscribers.
type Handler func(payload.Payload) error

// Handle identifies one subscription.
type Handle struct {
	id   uuid.UUID
	kind payload.Kind
}

// ID returns the unique subscription id.
func (h Handle) ID() uuid.UUID { return h.id }

// Kind returns the payload kind the subscription listens to.
func (h Handle) Kind() payload.Kind { return h.kind }

// IsZero reports whether h was never returned by Subscribe.
func (h Handle) IsZero() bool { return h.id == uuid.Nil }

func (h Handle) String() string { return fmt.Sprintf("%s/%s", h.kind, h.id) }

// CallbackError records a single failed callback.
type CallbackError struct {
	Handle Handle
	Kind   payload.Kind
	Err    error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("subscriber %s: %v", e.Handle.id, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// Is reports CallbackError as ErrCallbackFailed.
func (e *CallbackError) Is(target error) bool { return target == ErrCallbackFailed }

// Report is the outcome of one dispatch round.
type Report struct {
	Kind      payload.Kind
	Delivered int
	Failures  []*CallbackError
}

// Err joins the callback failures, or returns nil when every callback
// succeeded.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return stderrors.Join(errs...)
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Rounds      uint64
	Delivered   uint64
	Failed      uint64
	Undelivered uint64 // rounds with no subscriber for the kind
	Subscribers int
}

type subscriber struct {
	handle Handle
	fn     Handler
	active atomic.Bool
}

// Dispatcher owns the subscriber registry. The zero value is not usable; use
// New.
type Dispatcher struct {
	mu   sync.RWMutex
	subs map[payload.Kind][]*subscriber // copy-on-write, never mutated in place
	byID map[uuid.UUID]*subscriber

	rounds      atomic.Uint64
	delivered   atomic.Uint64
	failed      atomic.Uint64
	undelivered atomic.Uint64
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		subs: make(map[payload.Kind][]*subscriber),
		byID: make(map[uuid.UUID]*subscriber),
	}
}

// Subscribe registers fn for every payload of kind.
func (d *Dispatcher) Subscribe(kind payload.Kind, fn Handler) (Handle, error) {
	if fn == nil {
		return Handle{}, ErrNilHandler
	}
	s := &subscriber{handle: Handle{id: uuid.New(), kind: kind}, fn: fn}
	s.active.Store(true)

	d.mu.Lock()
	defer d.mu.Unlock()

	old := d.subs[kind]
	next := make([]*subscriber, len(old), len(old)+1)
	copy(next, old)
	d.subs[kind] = append(next, s)
	d.byID[s.handle.id] = s
	return s.handle, nil
}

// Unsubscribe removes the subscription. Rounds started after it returns do
// not invoke the callback, and neither does the rest of a round running on
// the calling goroutine, as when a callback unsubscribes itself or a later
// subscriber. A round already running on another goroutine may still invoke
// the callback once.
func (d *Dispatcher) Unsubscribe(h Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.byID[h.id]
	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "handle %s", h)
	}
	s.active.Store(false)
	delete(d.byID, h.id)

	old := d.subs[s.handle.kind]
	next := make([]*subscriber, 0, len(old))
	for _, o := range old {
		if o != s {
			next = append(next, o)
		}
	}
	if len(next) == 0 {
		delete(d.subs, s.handle.kind)
	} else {
		d.subs[s.handle.kind] = next
	}
	return nil
}

// Dispatch delivers p to every subscriber of p.Kind(). The registry is not
// locked while callbacks run. A nil payload is ignored.
func (d *Dispatcher) Dispatch(p payload.Payload) Report {
	if p == nil {
		return Report{}
	}
	kind := p.Kind()
	d.mu.RLock()
	subs := d.subs[kind]
	d.mu.RUnlock()

	d.rounds.Add(1)
	rep := Report{Kind: kind}
	if len(subs) == 0 {
		d.undelivered.Add(1)
		return rep
	}

	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		if err := invoke(s.fn, p); err != nil {
			rep.Failures = append(rep.Failures, &CallbackError{Handle: s.handle, Kind: kind, Err: err})
			d.failed.Add(1)
			continue
		}
		rep.Delivered++
		d.delivered.Add(1)
	}
	return rep
}

func invoke(fn Handler, p payload.Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %v", r)
		}
	}()
	return fn(p)
}

// Len returns the number of subscribers for kind.
func (d *Dispatcher) Len(kind payload.Kind) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[kind])
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	n := len(d.byID)
	d.mu.RUnlock()
	return Stats{
		Rounds:      d.rounds.Load(),
		Delivered:   d.delivered.Load(),
		Failed:      d.failed.Load(),
		Undelivered: d.undelivered.Load(),
		Subscribers: n,
	}
}

// Listen subscribes a callback typed to a concrete payload type. T must be a
// value type such as payload.GestureSample; its zero value selects the kind.
func Listen[T payload.Payload](d *Dispatcher, fn func(T) error) (Handle, error) {
	if fn == nil {
		return Handle{}, ErrNilHandler
	}
	var zero T
	return d.Subscribe(zero.Kind(), func(p payload.Payload) error {
		v, ok := p.(T)
		if !ok {
			return errors.Newf("unexpected payload type %T", p)
		}
		return fn(v)
	})
}

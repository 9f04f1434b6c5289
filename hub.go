package serialhub

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/luhtfiimanal/serialhub/classify"
	"github.com/luhtfiimanal/serialhub/dispatch"
	"github.com/luhtfiimanal/serialhub/internal/logger"
	"github.com/luhtfiimanal/serialhub/metrics"
	"github.com/luhtfiimanal/serialhub/payload"
	"github.com/luhtfiimanal/serialhub/serial"
)

// Defaults for Run.
const (
	DefaultTickInterval   = 16 * time.Millisecond
	DefaultReopenInterval = time.Second
)

// Hub owns one Reader and one Dispatcher and moves lines between them: each
// Tick polls the reader, classifies and decodes every line, and dispatches
// the payload before the next line is looked at.
type Hub struct {
	reader     *serial.Reader
	classifier *classify.Classifier
	decoder    *payload.Decoder
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time

	tickInterval   time.Duration
	reopenInterval time.Duration

	tickMu sync.Mutex // serialises Tick
	closes atomic.Uint64

	mu     sync.Mutex
	health Health
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// WithMetrics records pipeline counters into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithClassifier replaces the default classifier.
func WithClassifier(c *classify.Classifier) Option {
	return func(h *Hub) { h.classifier = c }
}

// WithDecoder replaces the default decoder.
func WithDecoder(d *payload.Decoder) Option {
	return func(h *Hub) { h.decoder = d }
}

// WithDispatcher shares an existing dispatcher.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(h *Hub) { h.dispatcher = d }
}

// WithTickInterval sets the period of Run.
func WithTickInterval(d time.Duration) Option {
	return func(h *Hub) { h.tickInterval = d }
}

// WithReopenInterval sets how often Run retries a closed reader. Zero
// disables reopening.
func WithReopenInterval(d time.Duration) Option {
	return func(h *Hub) { h.reopenInterval = d }
}

// WithClock overrides time.Now for health timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// New returns a Hub driving reader. The reader may be open or closed.
func New(reader *serial.Reader, opts ...Option) *Hub {
	h := &Hub{
		reader:         reader,
		log:            zap.NewNop(),
		now:            time.Now,
		tickInterval:   DefaultTickInterval,
		reopenInterval: DefaultReopenInterval,
	}
	for _, o := range opts {
		o(h)
	}
	if h.classifier == nil {
		h.classifier = classify.Default()
	}
	if h.decoder == nil {
		h.decoder = payload.NewDecoder()
	}
	if h.dispatcher == nil {
		h.dispatcher = dispatch.New()
	}
	h.log = logger.Component(h.log, "hub")
	h.recordState()
	return h
}

// TickReport summarises one Tick. Nothing in it is fatal; the host decides
// whether to escalate.
type TickReport struct {
	// State is the reader state when the tick finished. Degraded is
	// serial.ErrNotOpen while it is closed; it is not a failure and is
	// left out of Err.
	State    serial.State
	Degraded error

	Lines          int
	Unclassified   int
	Dispatched     int
	DecodeErrors   []error
	CallbackErrors []*dispatch.CallbackError
	ReadErr        error
}

// Err joins every failure of the tick, or returns nil.
func (r TickReport) Err() error {
	errs := make([]error, 0, len(r.DecodeErrors)+len(r.CallbackErrors)+1)
	errs = append(errs, r.DecodeErrors...)
	for _, e := range r.CallbackErrors {
		errs = append(errs, e)
	}
	if r.ReadErr != nil {
		errs = append(errs, r.ReadErr)
	}
	return stderrors.Join(errs...)
}

// Tick runs one polling iteration. Lines are handled in arrival order and
// each payload is fully dispatched before the next line is classified.
// Callbacks run on the calling goroutine. They may call Close, Reopen or
// Unsubscribe, but not Tick. After a callback calls Close the remaining lines
// of the tick are dropped.
func (h *Hub) Tick() TickReport {
	h.tickMu.Lock()
	defer h.tickMu.Unlock()

	var rep TickReport
	closes := h.closes.Load()
	lines, err := h.reader.Poll()
	for _, line := range lines {
		if h.closes.Load() != closes {
			break
		}
		h.handle(line, &rep)
	}

	if err != nil {
		rep.ReadErr = err
		h.log.Error("serial read failed, reader closed", zap.Error(err))
		h.mu.Lock()
		h.health.ReadErrors++
		h.mu.Unlock()
		if h.metrics != nil {
			h.metrics.ReadErrorsTotal.Inc()
		}
	}
	rep.State = h.recordState()
	if rep.State != serial.StateOpen {
		rep.Degraded = serial.ErrNotOpen
	}
	return rep
}

func (h *Hub) handle(line string, rep *TickReport) {
	rep.Lines++
	now := h.now()
	h.mu.Lock()
	h.health.Lines++
	h.health.LastLineAt = now
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.LinesTotal.Inc()
	}

	kind, ok := h.classifier.Classify(line)
	if !ok {
		rep.Unclassified++
		h.mu.Lock()
		h.health.Unclassified++
		h.mu.Unlock()
		if h.metrics != nil {
			h.metrics.UnclassifiedTotal.Inc()
		}
		h.log.Debug("unclassified line dropped", zap.String(logger.FieldLine, line))
		return
	}

	p, err := h.decoder.Decode(kind, line)
	if err != nil {
		rep.DecodeErrors = append(rep.DecodeErrors, err)
		h.mu.Lock()
		h.health.DecodeErrors++
		h.mu.Unlock()
		if h.metrics != nil {
			h.metrics.DecodeErrorsTotal.WithLabelValues(kind.String()).Inc()
		}
		h.log.Warn("payload decode failed",
			zap.Stringer(logger.FieldKind, kind),
			zap.String(logger.FieldLine, line),
			zap.Error(err))
		return
	}

	h.mu.Lock()
	h.health.Dispatched++
	h.health.LastPayloadAt = now
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.DispatchedTotal.WithLabelValues(kind.String()).Inc()
	}

	dr := h.dispatcher.Dispatch(p)
	rep.Dispatched++
	for _, f := range dr.Failures {
		rep.CallbackErrors = append(rep.CallbackErrors, f)
		h.mu.Lock()
		h.health.CallbackFailures++
		h.mu.Unlock()
		if h.metrics != nil {
			h.metrics.CallbackFailuresTotal.WithLabelValues(kind.String()).Inc()
		}
		h.log.Error("subscriber callback failed",
			zap.Stringer(logger.FieldKind, kind),
			zap.Stringer(logger.FieldSubscriber, f.Handle),
			zap.Error(f.Err))
	}
}

// Run ticks every tick interval until ctx is done, reopening a closed reader
// at most once per reopen interval. It closes the reader on return.
func (h *Hub) Run(ctx context.Context) error {
	defer h.Close()

	ticker := time.NewTicker(h.tickInterval)
	defer ticker.Stop()

	var lastReopen time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if h.reopenInterval > 0 && h.reader.State() == serial.StateClosed {
			if now := h.now(); now.Sub(lastReopen) >= h.reopenInterval {
				lastReopen = now
				if err := h.Reopen(); err != nil {
					h.log.Warn("serial reopen failed", zap.Error(err))
					continue
				}
			}
		}
		h.Tick()
	}
}

// Reopen closes and reopens the reader.
func (h *Hub) Reopen() error {
	if h.metrics != nil {
		h.metrics.ReopenAttemptsTotal.Inc()
	}
	err := h.reader.Reopen()
	h.recordState()
	return err
}

// Close releases the reader. Safe to call multiple times, including from a
// subscriber callback.
func (h *Hub) Close() error {
	h.closes.Add(1)
	err := h.reader.Close()
	h.recordState()
	return err
}

func (h *Hub) recordState() serial.State {
	state := h.reader.State()
	h.mu.Lock()
	h.health.State = state
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.SetOpen(state == serial.StateOpen)
	}
	return state
}

// OnGesture subscribes fn to gesture samples.
func (h *Hub) OnGesture(fn func(payload.GestureSample) error) (dispatch.Handle, error) {
	return dispatch.Listen(h.dispatcher, fn)
}

// OnCarStatus subscribes fn to car status reports.
func (h *Hub) OnCarStatus(fn func(payload.CarStatus) error) (dispatch.Handle, error) {
	return dispatch.Listen(h.dispatcher, fn)
}

// Unsubscribe removes a subscription made through the hub or its dispatcher.
func (h *Hub) Unsubscribe(handle dispatch.Handle) error {
	return h.dispatcher.Unsubscribe(handle)
}

// Dispatcher returns the hub's dispatcher.
func (h *Hub) Dispatcher() *dispatch.Dispatcher { return h.dispatcher }

// Reader returns the hub's reader.
func (h *Hub) Reader() *serial.Reader { return h.reader }

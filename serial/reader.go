package serial

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/luhtfiimanal/serialhub/internal/logger"
)

var (
	// ErrAlreadyOpen is returned by Open on a reader that is already open.
	ErrAlreadyOpen = errors.New("serial: already open")
	// ErrOpenFailed marks errors from acquiring the connection.
	ErrOpenFailed = errors.New("serial: open failed")
	// ErrReadFailed marks a read fault. The reader is closed when it is returned.
	ErrReadFailed = errors.New("serial: read failed")
	// ErrNotOpen is reported by Ready while the reader is closed.
	ErrNotOpen = errors.New("serial: not open")
)

// Port is the byte stream behind a Reader. Read must return within the
// configured read timeout, reporting (0, nil) when no data arrived.
type Port interface {
	io.Reader
	io.Closer
}

// Opener acquires a Port for cfg. The default opens the device named by
// cfg.Device.
type Opener func(cfg Config) (Port, error)

// State is the connection state of a Reader.
type State int32

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Stats counts reader activity since construction.
type Stats struct {
	Opens      uint64
	BytesRead  uint64
	Lines      uint64
	Discarded  uint64 // oversized fragments dropped
	ReadErrors uint64
}

// Reader assembles delimiter-terminated lines from a Port. It is driven by
// repeated Poll calls and never reads in the background. It is safe for
// concurrent use by multiple goroutines.
type Reader struct {
	mu       sync.Mutex
	cfg      Config
	open     Opener
	log      *zap.Logger
	port     Port
	state    State
	pending  []byte
	skipping bool // discarding an oversized line until the next delimiter
	buf      []byte
	stats    Stats
}

// Option configures a Reader.
type Option func(*Reader)

// WithOpener replaces the device opener, e.g. with an in-memory port.
func WithOpener(o Opener) Option {
	return func(r *Reader) { r.open = o }
}

// WithLogger sets the logger used for connection events.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.log = l
		}
	}
}

// New returns a closed Reader for cfg.
func New(cfg Config, opts ...Option) *Reader {
	cfg = cfg.withDefaults()
	r := &Reader{
		cfg:  cfg,
		open: openTTY,
		log:  zap.NewNop(),
		buf:  make([]byte, cfg.ReadBufferSize),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With(zap.String(logger.FieldDevice, cfg.Device))
	return r
}

// Open returns an open Reader for cfg.
func Open(cfg Config, opts ...Option) (*Reader, error) {
	r := New(cfg, opts...)
	if err := r.Open(); err != nil {
		return nil, err
	}
	return r, nil
}

// Open acquires the connection, moving the reader from closed to open.
func (r *Reader) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openLocked()
}

func (r *Reader) openLocked() error {
	if r.state == StateOpen {
		return ErrAlreadyOpen
	}
	port, err := r.open(r.cfg)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "open %s", r.cfg.Device), ErrOpenFailed)
	}
	r.port = port
	r.state = StateOpen
	r.pending = r.pending[:0]
	r.skipping = false
	r.stats.Opens++
	r.log.Info("serial port opened", zap.Int("baud", r.cfg.BaudRate))
	return nil
}

// Reopen closes the connection if needed and opens it again.
func (r *Reader) Reopen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.closeLocked(); err != nil {
		r.log.Warn("close before reopen failed", zap.Error(err))
	}
	return r.openLocked()
}

// Poll drains the bytes currently available and returns the completed,
// trimmed, non-empty lines in arrival order. A trailing partial line is kept
// for the next call.
//
// Polling a closed reader returns no lines and no error; Ready reports the
// degraded state. On a read fault the
// lines completed before the fault are returned together with an error
// marked ErrReadFailed, and the reader is closed.
func (r *Reader) Poll() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateOpen {
		return nil, nil
	}

	var lines []string
	for i := 0; i < r.cfg.MaxReadsPerPoll; i++ {
		n, err := r.port.Read(r.buf)
		if n > 0 {
			r.stats.BytesRead += uint64(n)
			lines = r.split(lines, r.buf[:n])
		}
		if err != nil {
			r.stats.ReadErrors++
			_ = r.closeLocked()
			return lines, errors.Mark(errors.Wrapf(err, "read %s", r.cfg.Device), ErrReadFailed)
		}
		// a short read means the port had nothing more buffered
		if n < len(r.buf) {
			break
		}
	}
	return lines, nil
}

func (r *Reader) split(lines []string, chunk []byte) []string {
	r.pending = append(r.pending, chunk...)
	delim := []byte(r.cfg.Delimiter)

	start := 0
	for {
		idx := bytes.Index(r.pending[start:], delim)
		if idx < 0 {
			break
		}
		raw := r.pending[start : start+idx]
		start += idx + len(delim)
		if r.skipping {
			r.skipping = false
			continue
		}
		if len(raw) > r.cfg.MaxLineLength {
			r.discard(len(raw))
			continue
		}
		line := strings.TrimSpace(string(raw))
		if line == "" {
			continue
		}
		lines = append(lines, line)
		r.stats.Lines++
	}
	r.pending = append(r.pending[:0], r.pending[start:]...)

	switch {
	case r.skipping:
		r.keepDelimiterTail()
	case len(r.pending) > r.cfg.MaxLineLength+len(delim)-1:
		r.discard(len(r.pending))
		r.keepDelimiterTail()
		r.skipping = true
	}
	return lines
}

func (r *Reader) discard(n int) {
	r.log.Warn("discarding oversized line",
		zap.Int("bytes", n),
		zap.Int("max_line_length", r.cfg.MaxLineLength))
	r.stats.Discarded++
}

// keepDelimiterTail drops a skipped fragment but keeps the bytes that may
// begin a delimiter split across reads.
func (r *Reader) keepDelimiterTail() {
	keep := len(r.cfg.Delimiter) - 1
	if keep > len(r.pending) {
		keep = len(r.pending)
	}
	r.pending = append(r.pending[:0], r.pending[len(r.pending)-keep:]...)
}

// Close releases the connection. Safe to call multiple times; subsequent
// calls are no-ops.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Reader) closeLocked() error {
	if r.state != StateOpen {
		return nil
	}
	r.state = StateClosed
	err := r.port.Close()
	r.port = nil
	r.pending = r.pending[:0]
	r.skipping = false
	r.log.Info("serial port closed")
	if err != nil {
		return errors.Wrapf(err, "close %s", r.cfg.Device)
	}
	return nil
}

// Ready returns nil while the reader is open and ErrNotOpen otherwise.
func (r *Reader) Ready() error {
	if r.State() != StateOpen {
		return ErrNotOpen
	}
	return nil
}

// State returns the current connection state.
func (r *Reader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stats returns a snapshot of the reader counters.
func (r *Reader) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Config returns the effective configuration, defaults applied.
func (r *Reader) Config() Config {
	return r.cfg
}

package serial

import (
	"io"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// scriptedPort returns one queued chunk per Read and (0, nil) once drained,
// or failWith if set.
type scriptedPort struct {
	mu       sync.Mutex
	chunks   [][]byte
	failWith error
	closeErr error
	closes   int
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.chunks) == 0 {
		if p.failWith != nil {
			return 0, p.failWith
		}
		return 0, nil
	}
	c := p.chunks[0]
	n := copy(b, c)
	if n < len(c) {
		p.chunks[0] = c[n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *scriptedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return p.closeErr
}

func (p *scriptedPort) push(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = append(p.chunks, []byte(s))
}

func newScripted(t *testing.T, cfg Config, port *scriptedPort) *Reader {
	t.Helper()
	if cfg.Device == "" {
		cfg.Device = "scripted"
	}
	r, err := Open(cfg, WithOpener(func(Config) (Port, error) { return port, nil }))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func pollAll(t *testing.T, r *Reader, times int) []string {
	t.Helper()
	var out []string
	for i := 0; i < times; i++ {
		lines, err := r.Poll()
		require.NoError(t, err)
		out = append(out, lines...)
	}
	return out
}

func TestReader_SplitsAndTrims(t *testing.T) {
	port := &scriptedPort{}
	port.push("  {\"a\":1}\r\n\n   \r\n{\"b\":2}\n{\"c\"")
	r := newScripted(t, Config{}, port)

	lines, err := r.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, lines)

	// fragment is withheld until its delimiter arrives
	lines, err = r.Poll()
	require.NoError(t, err)
	assert.Empty(t, lines)

	port.push(":3}\n")
	lines, err = r.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{`{"c":3}`}, lines)

	st := r.Stats()
	assert.Equal(t, uint64(3), st.Lines)
	assert.Equal(t, uint64(1), st.Opens)
}

func TestReader_ChunkBoundaryIndependence(t *testing.T) {
	input := "{\"source\":\"car\",\"left_speed\":120}\n" +
		"=== banner ===\r\n" +
		"\n" +
		"{\"acc\":[0.1,-0.9,0.02],\"gyro\":[1.0,150.0,-3.0]}\n" +
		"   padded   \n" +
		"tail-without-newline"
	want := []string{
		`{"source":"car","left_speed":120}`,
		"=== banner ===",
		`{"acc":[0.1,-0.9,0.02],"gyro":[1.0,150.0,-3.0]}`,
		"padded",
	}

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 200; trial++ {
		port := &scriptedPort{}
		rest := input
		for rest != "" {
			n := 1 + rng.Intn(len(rest))
			port.push(rest[:n])
			rest = rest[n:]
		}
		chunks := len(port.chunks)

		r := newScripted(t, Config{ReadBufferSize: 1 + rng.Intn(16)}, port)
		got := pollAll(t, r, chunks*20)
		require.Equal(t, want, got, "trial %d", trial)
	}
}

func TestReader_CustomDelimiter(t *testing.T) {
	port := &scriptedPort{}
	port.push("one\r\ntwo\nthree\r\n")
	r := newScripted(t, Config{Delimiter: "\r\n"}, port)

	lines, err := r.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two\nthree"}, lines)
}

func TestReader_OversizedFragmentDiscarded(t *testing.T) {
	port := &scriptedPort{}
	r := newScripted(t, Config{MaxLineLength: 8}, port)

	port.push("0123456789")
	lines, err := r.Poll()
	require.NoError(t, err)
	assert.Empty(t, lines)

	port.push("more-garbage")
	port.push("end\n{\"ok\":1}\n")
	got := pollAll(t, r, 3)
	assert.Equal(t, []string{`{"ok":1}`}, got)
	assert.Equal(t, uint64(1), r.Stats().Discarded)
}

func TestReader_OversizedSkipKeepsSplitDelimiter(t *testing.T) {
	port := &scriptedPort{}
	r := newScripted(t, Config{MaxLineLength: 8, Delimiter: "\r\n"}, port)

	port.push("0123456789")
	port.push("garbage\r")
	port.push("\n{\"ok\":1}\r\n")
	got := pollAll(t, r, 3)
	assert.Equal(t, []string{`{"ok":1}`}, got)
	assert.Equal(t, uint64(1), r.Stats().Discarded)
}

func TestReader_OversizedLineIndependentOfChunking(t *testing.T) {
	chunkings := map[string][]string{
		"single read": {"0123456789ABCDEF\nabcdefgh\n"},
		"two reads":   {"01234567", "89ABCDEF\nabcdefgh\n"},
		"byte reads":  strings.Split("0123456789ABCDEF\nabcdefgh\n", ""),
	}
	for name, chunks := range chunkings {
		t.Run(name, func(t *testing.T) {
			port := &scriptedPort{}
			r := newScripted(t, Config{MaxLineLength: 8}, port)
			for _, c := range chunks {
				port.push(c)
			}
			got := pollAll(t, r, len(chunks))
			assert.Equal(t, []string{"abcdefgh"}, got, "a line of exactly MaxLineLength is kept")
			assert.Equal(t, uint64(1), r.Stats().Discarded)
		})
	}
}

func TestReader_ReadErrorCloses(t *testing.T) {
	port := &scriptedPort{failWith: io.EOF}
	port.push("{\"a\":1}\npartial!")
	r := newScripted(t, Config{ReadBufferSize: 8}, port)

	lines, err := r.Poll()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReadFailed))
	assert.Equal(t, []string{`{"a":1}`}, lines, "lines completed before the fault are kept")
	assert.Equal(t, StateClosed, r.State())
	assert.Equal(t, 1, port.closes)
	assert.Equal(t, uint64(1), r.Stats().ReadErrors)

	// further polls are no-ops until reopened
	lines, err = r.Poll()
	assert.NoError(t, err)
	assert.Empty(t, lines)
}

func TestReader_ClosedPollAndIdempotentClose(t *testing.T) {
	port := &scriptedPort{}
	r := New(Config{Device: "scripted"}, WithOpener(func(Config) (Port, error) { return port, nil }))

	assert.Equal(t, StateClosed, r.State())
	assert.True(t, errors.Is(r.Ready(), ErrNotOpen))
	lines, err := r.Poll()
	assert.NoError(t, err)
	assert.Empty(t, lines)
	assert.NoError(t, r.Close())

	require.NoError(t, r.Open())
	assert.NoError(t, r.Ready())
	assert.True(t, errors.Is(r.Open(), ErrAlreadyOpen))
	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())
	assert.Equal(t, 1, port.closes)
}

func TestReader_Reopen(t *testing.T) {
	var opened []*scriptedPort
	opener := func(Config) (Port, error) {
		p := &scriptedPort{}
		p.push("x\n")
		opened = append(opened, p)
		return p, nil
	}
	r := New(Config{Device: "scripted"}, WithOpener(opener))
	require.NoError(t, r.Reopen())
	require.NoError(t, r.Reopen())

	require.Len(t, opened, 2)
	assert.Equal(t, 1, opened[0].closes)
	assert.Equal(t, 0, opened[1].closes)
	assert.Equal(t, StateOpen, r.State())
	assert.Equal(t, uint64(2), r.Stats().Opens)

	lines, err := r.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, lines)
	require.NoError(t, r.Close())
}

func TestReader_ReopenLogsCloseFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	port := &scriptedPort{closeErr: errors.New("ebusy")}
	r, err := Open(Config{Device: "scripted"},
		WithOpener(func(Config) (Port, error) { return port, nil }),
		WithLogger(zap.New(core)))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	require.NoError(t, r.Reopen())
	assert.Equal(t, StateOpen, r.State())

	warn := logs.FilterMessage("close before reopen failed").All()
	require.Len(t, warn, 1)
	assert.Equal(t, "scripted", warn[0].ContextMap()["device"])
}

func TestReader_OpenFailure(t *testing.T) {
	boom := errors.New("no such device")
	r := New(Config{Device: "/dev/missing"}, WithOpener(func(Config) (Port, error) { return nil, boom }))

	err := r.Open()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOpenFailed))
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, StateClosed, r.State())
}

func TestReader_MaxReadsPerPollBounded(t *testing.T) {
	port := &scriptedPort{}
	port.push(strings.Repeat("a\n", 100))
	r := newScripted(t, Config{ReadBufferSize: 2, MaxReadsPerPoll: 5}, port)

	lines, err := r.Poll()
	require.NoError(t, err)
	assert.Len(t, lines, 5)
}

func TestConfig_Defaults(t *testing.T) {
	r := New(Config{Device: "x"})
	cfg := r.Config()
	assert.Equal(t, DefaultBaudRate, cfg.BaudRate)
	assert.Equal(t, DefaultDelimiter, cfg.Delimiter)
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
	assert.Equal(t, DefaultMaxLineLength, cfg.MaxLineLength)

	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Device: "x", BaudRate: -1}.Validate())
	assert.NoError(t, Config{Device: "x"}.Validate())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed", StateClosed.String())
}

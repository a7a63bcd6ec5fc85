package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lancast/internal/protocol"
)

// pipeTransport is an in-memory line pipe for wiring two channels
// together in tests.
type pipeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	// once is shared between both ends, so closing either side (or
	// both, in any order) tears the pipe down exactly once.
	once *sync.Once
}

func newPipePair() (Transport, Transport) {
	a2b := make(chan []byte, 64)
	b2a := make(chan []byte, 64)
	closed := make(chan struct{})
	once := &sync.Once{}
	a := &pipeTransport{in: b2a, out: a2b, closed: closed, once: once}
	b := &pipeTransport{in: a2b, out: b2a, closed: closed, once: once}
	return a, b
}

func (t *pipeTransport) ReadLine() ([]byte, error) {
	select {
	case line := <-t.in:
		return line, nil
	case <-t.closed:
		return nil, io.EOF
	}
}

func (t *pipeTransport) WriteLine(line []byte) error {
	buf := make([]byte, len(line))
	copy(buf, line)
	select {
	case t.out <- buf:
		return nil
	case <-t.closed:
		return io.EOF
	}
}

func (t *pipeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func startPair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	ta, tb := newPipePair()
	log := zap.NewNop().Sugar()
	a := NewChannel(ta, log)
	b := NewChannel(tb, log)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestPipeClosesBothEndsOnce(t *testing.T) {
	ta, tb := newPipePair()
	require.NoError(t, ta.Close())
	require.NoError(t, tb.Close())
	require.NoError(t, ta.Close())

	_, err := ta.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, tb.WriteLine([]byte("x")), io.EOF)
}

type echoParams struct {
	Text string `json:"text"`
}

func TestRequestResponseBothDirections(t *testing.T) {
	a, b := startPair(t)

	echo := func(params json.RawMessage) (any, error) {
		var p echoParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return echoParams{Text: p.Text + "!"}, nil
	}
	a.Handle("Echo", echo)
	b.Handle("Echo", echo)
	a.Start()
	b.Start()

	ctx := context.Background()
	var out echoParams
	require.NoError(t, a.Request(ctx, "Echo", echoParams{Text: "ping"}, &out))
	assert.Equal(t, "ping!", out.Text)

	require.NoError(t, b.Request(ctx, "Echo", echoParams{Text: "pong"}, &out))
	assert.Equal(t, "pong!", out.Text)
}

func TestHandlerErrorBecomesErrResult(t *testing.T) {
	a, b := startPair(t)
	b.Handle("Fail", func(json.RawMessage) (any, error) {
		return nil, errors.New("capture device busy")
	})
	a.Start()
	b.Start()

	err := a.Request(context.Background(), "Fail", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture device busy")
}

func TestUnknownMethod(t *testing.T) {
	a, b := startPair(t)
	a.Start()
	b.Start()

	err := a.Request(context.Background(), "NoSuchMethod", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown method")
}

func TestSequenceWrapsAround(t *testing.T) {
	a, b := startPair(t)
	b.Handle("Seq", func(json.RawMessage) (any, error) { return "ok", nil })
	a.Start()
	b.Start()

	a.mu.Lock()
	a.sequence = 65535
	a.mu.Unlock()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		var out string
		require.NoError(t, a.Request(ctx, "Seq", nil, &out))
		assert.Equal(t, "ok", out)
	}
	a.mu.Lock()
	assert.Equal(t, uint16(2), a.sequence)
	a.mu.Unlock()
}

func TestWrapSkipsPendingSequence(t *testing.T) {
	a, b := startPair(t)
	b.Handle("Seq", func(json.RawMessage) (any, error) { return "ok", nil })
	a.Start()
	b.Start()

	// Pin sequence 0 as still in flight, then wrap onto it.
	stuck := make(chan protocol.Result, 1)
	a.mu.Lock()
	a.pending[0] = stuck
	a.sequence = 0
	a.mu.Unlock()

	var out string
	require.NoError(t, a.Request(context.Background(), "Seq", nil, &out))
	assert.Equal(t, "ok", out)

	a.mu.Lock()
	_, still := a.pending[0]
	assert.True(t, still)
	assert.Equal(t, uint16(2), a.sequence)
	a.mu.Unlock()
	assert.Empty(t, stuck)
}

func TestRequestTimeoutAndLateResponseDiscarded(t *testing.T) {
	a, b := startPair(t)
	release := make(chan struct{})
	b.Handle("Slow", func(json.RawMessage) (any, error) {
		<-release
		return "late", nil
	})
	b.Handle("Fast", func(json.RawMessage) (any, error) { return "fast", nil })
	a.Start()
	b.Start()

	a.timeout = 50 * time.Millisecond
	err := a.Request(context.Background(), "Slow", nil, nil)
	require.ErrorIs(t, err, ErrRequestTimeout)

	// Let the slow handler answer now; the stale response must not
	// disturb later requests.
	close(release)
	time.Sleep(50 * time.Millisecond)

	a.timeout = time.Second
	var out string
	require.NoError(t, a.Request(context.Background(), "Fast", nil, &out))
	assert.Equal(t, "fast", out)
}

func TestEmitFiresSubscribers(t *testing.T) {
	a, b := startPair(t)
	fired := make(chan struct{}, 1)
	b.OnEvent("ReadyNotify", func() { fired <- struct{}{} })
	a.Start()
	b.Start()

	require.NoError(t, a.Emit("ReadyNotify"))
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("event subscriber not fired")
	}
}

func TestMalformedLineDoesNotKillChannel(t *testing.T) {
	ta, tb := newPipePair()
	log := zap.NewNop().Sugar()
	a := NewChannel(ta, log)
	b := NewChannel(tb, log)
	defer a.Close()
	defer b.Close()
	b.Handle("Ping", func(json.RawMessage) (any, error) { return "pong", nil })
	a.Start()
	b.Start()

	// Inject garbage directly at b's reader.
	require.NoError(t, ta.WriteLine([]byte("{not json")))
	require.NoError(t, ta.WriteLine([]byte(`{"ty":"Banana","content":{}}`)))

	var out string
	require.NoError(t, a.Request(context.Background(), "Ping", nil, &out))
	assert.Equal(t, "pong", out)
}

func TestCloseFailsPendingRequests(t *testing.T) {
	a, b := startPair(t)
	b.Handle("Hang", func(json.RawMessage) (any, error) {
		select {}
	})
	a.Start()
	b.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Request(context.Background(), "Hang", nil, nil)
	}()
	time.Sleep(50 * time.Millisecond)
	a.Close()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("pending request not failed on close")
	}
}

func TestConcurrentRequests(t *testing.T) {
	a, b := startPair(t)
	b.Handle("N", func(params json.RawMessage) (any, error) {
		var n int
		if err := json.Unmarshal(params, &n); err != nil {
			return nil, err
		}
		return n * 2, nil
	})
	a.Start()
	b.Start()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			var out int
			err := a.Request(context.Background(), "N", n, &out)
			assert.NoError(t, err)
			assert.Equal(t, n*2, out, fmt.Sprintf("request %d", n))
		}(i)
	}
	wg.Wait()
}

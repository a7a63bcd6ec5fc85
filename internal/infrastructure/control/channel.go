// Package control runs the symmetric request/response/event channel
// between the engine and its host process. Either side may call the
// other; correlation uses a wrapping u16 sequence scoped to the
// channel.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"lancast/internal/protocol"
)

// requestTimeout bounds how long a caller waits for the peer to answer.
const requestTimeout = 5 * time.Second

var (
	ErrChannelClosed  = errors.New("control channel closed")
	ErrRequestTimeout = errors.New("control request timed out")
)

// Transport is the line pipe a channel runs over. ReadLine blocks for
// the next complete line. The channel serializes WriteLine calls, so
// transports need no write locking of their own.
type Transport interface {
	ReadLine() ([]byte, error)
	WriteLine(line []byte) error
	Close() error
}

// HandlerFunc answers one inbound request. The returned value is
// marshaled into the Ok result; a non-nil error becomes the Err
// result.
type HandlerFunc func(params json.RawMessage) (any, error)

// Channel multiplexes requests, responses and events over one
// transport.
type Channel struct {
	transport Transport
	log       *zap.SugaredLogger
	timeout   time.Duration

	wmu sync.Mutex

	mu       sync.Mutex
	sequence uint16
	pending  map[uint16]chan protocol.Result
	handlers map[string]HandlerFunc
	events   map[string][]func()
	closed   bool

	done chan struct{}
	once sync.Once
}

func NewChannel(transport Transport, log *zap.SugaredLogger) *Channel {
	return &Channel{
		transport: transport,
		log:       log,
		timeout:   requestTimeout,
		pending:   make(map[uint16]chan protocol.Result),
		handlers:  make(map[string]HandlerFunc),
		events:    make(map[string][]func()),
		done:      make(chan struct{}),
	}
}

// Handle registers the answering function for an inbound method.
// Registration must finish before Start.
func (c *Channel) Handle(method string, fn HandlerFunc) {
	c.mu.Lock()
	c.handlers[method] = fn
	c.mu.Unlock()
}

// OnEvent subscribes to an inbound notification method.
func (c *Channel) OnEvent(method string, fn func()) {
	c.mu.Lock()
	c.events[method] = append(c.events[method], fn)
	c.mu.Unlock()
}

// Start launches the read loop. It returns once the loop is running.
func (c *Channel) Start() {
	go c.readLoop()
}

// Close tears the channel down and fails every pending request.
func (c *Channel) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.transport.Close()
		c.mu.Lock()
		c.closed = true
		for seq, ch := range c.pending {
			ch <- protocol.Result{Err: ErrChannelClosed.Error()}
			delete(c.pending, seq)
		}
		c.mu.Unlock()
	})
	return nil
}

// Request calls the peer and unmarshals the Ok result into result when
// result is non-nil. An Err result comes back as an error carrying the
// peer's message.
func (c *Channel) Request(ctx context.Context, method string, params any, result any) error {
	var content json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return err
		}
		content = b
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	// Skip sequences still awaiting a response so a wrap cannot
	// correlate two outstanding requests.
	seq := c.sequence
	for {
		if _, busy := c.pending[seq]; !busy {
			break
		}
		seq++
	}
	c.sequence = seq + 1
	ch := make(chan protocol.Result, 1)
	c.pending[seq] = ch
	c.mu.Unlock()

	discard := func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}

	err := c.write(protocol.Envelope{Request: &protocol.Request{
		Method:   method,
		Sequence: seq,
		Content:  content,
	}})
	if err != nil {
		discard()
		return err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.Err != "" {
			return fmt.Errorf("%s: %s", method, res.Err)
		}
		if result != nil {
			return json.Unmarshal(res.Ok, result)
		}
		return nil
	case <-timer.C:
		discard()
		return fmt.Errorf("%w: %s", ErrRequestTimeout, method)
	case <-ctx.Done():
		discard()
		return ctx.Err()
	case <-c.done:
		discard()
		return ErrChannelClosed
	}
}

// Emit sends an uncorrelated notification to the peer.
func (c *Channel) Emit(method string) error {
	return c.write(protocol.Envelope{Event: &protocol.Event{Method: method}})
}

func (c *Channel) write(e protocol.Envelope) error {
	line, err := protocol.EncodeEnvelope(e)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	return c.transport.WriteLine(line)
}

func (c *Channel) readLoop() {
	for {
		line, err := c.transport.ReadLine()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Debugw("control transport closed", "error", err)
			}
			c.Close()
			return
		}
		if len(line) == 0 {
			continue
		}
		env, err := protocol.DecodeEnvelope(line)
		if err != nil {
			// A malformed line never kills the channel.
			c.log.Warnw("dropping malformed control line", "error", err)
			continue
		}
		switch {
		case env.Request != nil:
			go c.serve(env.Request)
		case env.Response != nil:
			c.resolve(env.Response)
		case env.Event != nil:
			c.fire(env.Event.Method)
		}
	}
}

func (c *Channel) serve(req *protocol.Request) {
	c.mu.Lock()
	handler, ok := c.handlers[req.Method]
	c.mu.Unlock()

	var res protocol.Result
	if !ok {
		res.Err = fmt.Sprintf("unknown method %q", req.Method)
	} else if value, err := handler(req.Content); err != nil {
		res.Err = err.Error()
	} else {
		body, err := json.Marshal(value)
		if err != nil {
			res.Err = err.Error()
		} else {
			res.Ok = body
		}
	}

	err := c.write(protocol.Envelope{Response: &protocol.Response{
		Sequence: req.Sequence,
		Content:  res,
	}})
	if err != nil && !errors.Is(err, ErrChannelClosed) {
		c.log.Warnw("failed to write control response", "method", req.Method, "error", err)
	}
}

func (c *Channel) resolve(resp *protocol.Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.Sequence]
	if ok {
		delete(c.pending, resp.Sequence)
	}
	c.mu.Unlock()
	if !ok {
		// Late answer to a request that already timed out.
		c.log.Debugw("discarding unmatched response", "sequence", resp.Sequence)
		return
	}
	ch <- resp.Content
}

func (c *Channel) fire(method string) {
	c.mu.Lock()
	fns := make([]func(), len(c.events[method]))
	copy(fns, c.events[method])
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

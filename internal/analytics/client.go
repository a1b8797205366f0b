// Package analytics buffers structured events until the analytics backend
// is ready, then forwards them in order.
package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is a named analytics event with a flat parameter bag.
type Event struct {
	Name      string         `json:"name"`
	ClientID  string         `json:"-"`
	Params    map[string]any `json:"params"`
	Timestamp time.Time      `json:"-"`
}

// Transport delivers events to an analytics backend.
type Transport interface {
	// Init prepares the backend. Events are queued until it returns nil.
	Init(ctx context.Context) error
	Send(ctx context.Context, event Event) error
}

// Options configures a Client.
type Options struct {
	// QueueLimit bounds the pre-init queue; 0 leaves it unbounded.
	// When full the oldest queued event is dropped.
	QueueLimit int
	// BufferSize bounds the events waiting for the sender once the client
	// is ready. When full new events are dropped.
	BufferSize int
	// Debug logs every event, the equivalent of development mode.
	Debug       bool
	SendTimeout time.Duration
}

const defaultBufferSize = 256

// Client queues events until its transport is initialized, then hands the
// queue and every later event to a single sender goroutine. Track never
// waits on the network.
type Client struct {
	transport Transport
	opts      Options
	log       *zap.Logger

	mu      sync.Mutex
	queue   []Event
	ready   bool
	closed  bool
	dropped int

	events    chan Event
	initOnce  sync.Once
	closeOnce sync.Once
	readyCh   chan struct{}
	done      chan struct{}
}

// NewClient creates a Client. Call Init to start the backend bootstrap.
func NewClient(transport Transport, opts Options, log *zap.Logger) *Client {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	return &Client{
		transport: transport,
		opts:      opts,
		log:       log,
		events:    make(chan Event, opts.BufferSize),
		readyCh:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Init starts transport initialization in the background. Callers never wait
// on it; Track keeps queueing until it succeeds. A failed init leaves the
// client queueing for the rest of its life.
func (c *Client) Init(ctx context.Context) {
	c.initOnce.Do(func() {
		go func() {
			if err := c.transport.Init(ctx); err != nil {
				c.log.Error("Analytics initialization failed, events stay queued", zap.Error(err))
				return
			}
			c.run()
		}()
	})
}

// Ready is closed once the pre-init queue has been sent.
func (c *Client) Ready() <-chan struct{} {
	return c.readyCh
}

// QueueLen returns the number of events waiting for initialization.
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Dropped returns how many events were discarded, either evicted from the
// pre-init queue or refused by a full send buffer.
func (c *Client) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Track records an event. It never blocks on the backend.
func (c *Client) Track(name string, params map[string]any) {
	event := Event{Name: name, Params: params, Timestamp: time.Now()}
	if id, ok := params["session_id"].(string); ok {
		event.ClientID = id
	}

	if c.opts.Debug {
		c.log.Debug("Analytics event", zap.String("event", name), zap.Any("params", params))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.dropped++
		return
	}
	if !c.ready {
		if c.opts.QueueLimit > 0 && len(c.queue) >= c.opts.QueueLimit {
			c.queue = c.queue[1:]
			c.dropped++
		}
		c.queue = append(c.queue, event)
		return
	}

	select {
	case c.events <- event:
	default:
		c.dropped++
		c.log.Warn("Analytics buffer is full, dropping event", zap.String("event", name))
	}
}

// Close stops accepting events and waits for the sender to drain the
// buffer. Events still queued before initialization are discarded.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		ready := c.ready
		close(c.events)
		c.mu.Unlock()

		if ready {
			<-c.done
		}
	})
}

// run sends the pre-init backlog, then every event handed over by Track.
// Events tracked while the backlog is sent wait in the buffer behind it.
func (c *Client) run() {
	defer close(c.done)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	backlog := c.queue
	c.queue = nil
	c.ready = true
	c.mu.Unlock()

	for _, event := range backlog {
		c.send(event)
	}
	close(c.readyCh)
	c.log.Info("Analytics initialized", zap.Int("flushed", len(backlog)))

	for event := range c.events {
		c.send(event)
	}
}

func (c *Client) send(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.SendTimeout)
	defer cancel()
	if err := c.transport.Send(ctx, event); err != nil {
		c.log.Warn("Failed to send analytics event",
			zap.String("event", event.Name),
			zap.Error(err))
	}
}

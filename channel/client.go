package channel

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"time"
)

// ClientConfig configures a Client. Zero values are replaced by the
// defaults from spec.md §6.
type ClientConfig struct {
	WorkerID             string
	Addr                 string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	return c
}

// Client is a worker-side endpoint: one TCP connection to the Server,
// reconnecting with exponential backoff on disconnect.
type Client struct {
	cfg ClientConfig

	mu     sync.Mutex
	conn   net.Conn
	closed bool

	events chan Event
	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewClient constructs a disconnected Client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		cfg:    cfg.withDefaults(),
		events: make(chan Event, 256),
		stopCh: make(chan struct{}),
	}
}

// Events returns the client's event stream.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	default:
	}
}

// Connect dials the server and sends an initial heartbeat so the server
// can bind the connection to WorkerID, then starts the read loop.
func (c *Client) Connect() error {
	conn, err := net.Dial("tcp", c.cfg.Addr)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrUnbound
	}
	c.conn = conn
	c.mu.Unlock()

	if err := c.Send(Message{
		ID:        c.cfg.WorkerID + "-hello",
		Type:      Heartbeat,
		From:      c.cfg.WorkerID,
		Timestamp: nowUnixMilli(),
	}); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.readLoop(conn)
	c.emit(Event{Kind: EventConnected, WorkerID: c.cfg.WorkerID})
	return nil
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			c.emit(Event{Kind: EventError, Err: err})
			continue
		}
		c.emit(Event{Kind: EventMessage, WorkerID: c.cfg.WorkerID, Message: msg})
	}

	c.mu.Lock()
	intentional := c.closed
	c.mu.Unlock()
	if intentional {
		return
	}

	c.emit(Event{Kind: EventDisconnected, WorkerID: c.cfg.WorkerID})
	c.reconnect()
}

// reconnect backs off between dial attempts, but a Close call must be able
// to interrupt a backoff in flight rather than block Close's wg.Wait for up
// to the full exponential delay, and must not let a late-arriving
// reconnect resurrect a connection after an intentional Close.
func (c *Client) reconnect() {
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		delay := c.cfg.ReconnectDelay * time.Duration(1<<uint(attempt-1))
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-c.stopCh:
			timer.Stop()
			return
		}

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		if err := c.Connect(); err == nil {
			return
		}
	}
	c.emit(Event{Kind: EventReconnectFailed, WorkerID: c.cfg.WorkerID})
}

// Send writes a single framed line to the server.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrUnbound
	}
	return writeMessage(conn, msg)
}

// Close disconnects the client and suppresses automatic reconnection.
// Idempotent: later calls return immediately. A concurrent reconnect backoff is interrupted immediately
// rather than left to block this call for the remainder of its delay.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.stopCh)
	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
	close(c.events)
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

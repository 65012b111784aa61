package channel

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/fluxforge/agentcore/observability"
)

// ErrTimeout is returned by WaitForMessage when no matching message arrives
// within the deadline.
var ErrTimeout = errors.New("channel: wait timed out")

// ErrUnbound is returned by Send when the destination has no live
// connection and no queued fallback could be attempted.
var ErrUnbound = errors.New("channel: destination not connected")

const maxLineSize = 1 << 20 // 1MiB, generous headroom over typical payloads

// ServerConfig configures a Server. Zero values of SelfID, MaxQueueSize and
// MessageTimeout are replaced by defaults. EnableRemoteFallback is used as
// given, so remote fallback is off unless it is set to true.
type ServerConfig struct {
	SelfID               string
	Port                 int // 0 = dynamic
	MaxQueueSize         int
	MessageTimeout       time.Duration
	EnableRemoteFallback bool
	RemoteSink           RemoteSink
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.SelfID == "" {
		c.SelfID = "orchestrator"
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 1000
	}
	if c.MessageTimeout <= 0 {
		c.MessageTimeout = 5 * time.Second
	}
	return c
}

type waiter struct {
	filter        func(Message) bool
	correlationID string
	ch            chan Message
}

// Server is the orchestrator-side endpoint: it accepts one TCP connection
// per worker, binds the connection to the worker id carried by its first
// message, and relays or delivers messages per spec.md §4.5.
type Server struct {
	cfg ServerConfig

	mu           sync.Mutex
	listener     net.Listener
	conns        map[string]net.Conn
	outbound     map[string][]Message
	inbound      map[string][]Message
	waiters      []*waiter
	remoteMarked map[string]bool

	events chan Event
	wg     sync.WaitGroup
	stopCh chan struct{}
	closed bool
}

// NewServer constructs a Server bound to no socket yet; call Listen to bind.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		cfg:          cfg.withDefaults(),
		conns:        make(map[string]net.Conn),
		outbound:     make(map[string][]Message),
		inbound:      make(map[string][]Message),
		remoteMarked: make(map[string]bool),
		events:       make(chan Event, 256),
		stopCh:       make(chan struct{}),
	}
}

// Listen binds the configured port (0 = OS-assigned) on loopback only and
// starts accepting connections. Returns the bound port.
func (s *Server) Listen() (int, error) {
	addr := "127.0.0.1:0"
	if s.cfg.Port != 0 {
		addr = "127.0.0.1:" + strconv.Itoa(s.cfg.Port)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, err
	}
	s.listener = ln
	s.wg.Add(1)
	go s.acceptLoop()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// Events returns the server's event stream.
func (s *Server) Events() <-chan Event {
	return s.events
}

func (s *Server) emit(e Event) {
	select {
	case s.events <- e:
	default:
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var workerID string
	defer func() {
		if workerID != "" {
			s.mu.Lock()
			if s.conns[workerID] == conn {
				delete(s.conns, workerID)
			}
			s.mu.Unlock()
			s.emit(Event{Kind: EventWorkerDisconnected, WorkerID: workerID})
		}
	}()

	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.emit(Event{Kind: EventError, Err: err})
			continue
		}
		if workerID == "" {
			workerID = msg.From
			s.bind(workerID, conn)
		}
		s.onMessage(msg)
	}
}

func (s *Server) bind(workerID string, conn net.Conn) {
	s.mu.Lock()
	s.conns[workerID] = conn
	queued := s.outbound[workerID]
	delete(s.outbound, workerID)
	s.mu.Unlock()

	for _, m := range queued {
		_ = writeMessage(conn, m)
	}
	s.emit(Event{Kind: EventWorkerConnected, WorkerID: workerID})
}

func (s *Server) onMessage(msg Message) {
	if msg.To != "" && msg.To != s.cfg.SelfID {
		s.Send(msg.To, msg)
		return
	}
	s.dispatchInbound(msg)
}

func (s *Server) dispatchInbound(msg Message) {
	observability.ChannelMessagesTotal.WithLabelValues(string(msg.Type), "inbound").Inc()

	s.mu.Lock()
	for i, w := range s.waiters {
		matched := false
		if w.correlationID != "" {
			matched = msg.CorrelationID == w.correlationID
		} else {
			matched = w.filter(msg)
		}
		if matched {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			s.mu.Unlock()
			w.ch <- msg
			return
		}
	}
	s.enqueueInboundLocked(msg)
	s.mu.Unlock()
	s.emit(Event{Kind: EventMessage, WorkerID: msg.From, Message: msg})
}

func (s *Server) enqueueInboundLocked(msg Message) {
	dest := msg.To
	if dest == "" {
		dest = s.cfg.SelfID
	}
	q := append(s.inbound[dest], msg)
	if len(q) > s.cfg.MaxQueueSize {
		q = q[len(q)-s.cfg.MaxQueueSize:]
		observability.ChannelQueueDrops.WithLabelValues(dest).Inc()
	}
	s.inbound[dest] = q
}

// WaitForMessage returns the first queued or future message matching
// filter, or ErrTimeout after timeout elapses.
func (s *Server) WaitForMessage(filter func(Message) bool, timeout time.Duration) (Message, error) {
	s.mu.Lock()
	for dest, q := range s.inbound {
		for i, m := range q {
			if filter(m) {
				s.inbound[dest] = append(q[:i:i], q[i+1:]...)
				s.mu.Unlock()
				return m, nil
			}
		}
	}
	w := &waiter{filter: filter, ch: make(chan Message, 1)}
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case m, ok := <-w.ch:
		if !ok {
			return Message{}, ErrTimeout
		}
		return m, nil
	case <-time.After(timeout):
		s.removeWaiter(w)
		return Message{}, ErrTimeout
	}
}

// WaitForCorrelation is the correlation-keyed counterpart to
// WaitForMessage, used by code that already knows the correlationId it is
// waiting on (e.g. ReviewCoordinator).
func (s *Server) WaitForCorrelation(correlationID string, timeout time.Duration) (Message, error) {
	s.mu.Lock()
	for dest, q := range s.inbound {
		for i, m := range q {
			if m.CorrelationID == correlationID {
				s.inbound[dest] = append(q[:i:i], q[i+1:]...)
				s.mu.Unlock()
				return m, nil
			}
		}
	}
	w := &waiter{correlationID: correlationID, ch: make(chan Message, 1)}
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case m, ok := <-w.ch:
		if !ok {
			return Message{}, ErrTimeout
		}
		return m, nil
	case <-time.After(timeout):
		s.removeWaiter(w)
		return Message{}, ErrTimeout
	}
}

func (s *Server) removeWaiter(target *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == target {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// MarkRemote declares workerId as a remote destination: sends to it skip
// the local connection entirely and go straight to the remote sink.
func (s *Server) MarkRemote(workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteMarked[workerID] = true
}

// Send writes msg to workerId's bound connection. It returns false (and
// routes through the remote fallback, if configured) when the destination
// is unbound, marked remote, or the write fails.
func (s *Server) Send(workerID string, msg Message) bool {
	s.mu.Lock()
	if s.remoteMarked[workerID] {
		s.mu.Unlock()
		s.handleRemoteFallback(workerID, msg)
		return false
	}
	conn, ok := s.conns[workerID]
	if !ok {
		s.enqueueOutboundLocked(workerID, msg)
		s.mu.Unlock()
		s.handleRemoteFallback(workerID, msg)
		return false
	}
	s.mu.Unlock()

	if err := writeMessage(conn, msg); err != nil {
		s.handleRemoteFallback(workerID, msg)
		return false
	}
	observability.ChannelMessagesTotal.WithLabelValues(string(msg.Type), "outbound").Inc()
	return true
}

func (s *Server) enqueueOutboundLocked(workerID string, msg Message) {
	q := append(s.outbound[workerID], msg)
	if len(q) > s.cfg.MaxQueueSize {
		q = q[len(q)-s.cfg.MaxQueueSize:]
		observability.ChannelQueueDrops.WithLabelValues(workerID).Inc()
	}
	s.outbound[workerID] = q
}

func (s *Server) handleRemoteFallback(workerID string, msg Message) {
	if !s.cfg.EnableRemoteFallback {
		return
	}
	if s.cfg.RemoteSink != nil {
		_ = s.cfg.RemoteSink.Send(msg)
	}
	observability.ChannelRemoteFallbacks.WithLabelValues(workerID).Inc()
	s.emit(Event{Kind: EventRemoteMessage, WorkerID: workerID, Message: msg})
}

// Broadcast writes msg to every connected worker.
func (s *Server) Broadcast(msg Message) {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = writeMessage(c, msg)
	}
}

// Stop closes every connection and the listener, and unblocks any pending
// waiters with ErrTimeout.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
	for _, c := range s.conns {
		c.Close()
	}
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, w := range waiters {
		close(w.ch)
	}
	s.wg.Wait()
	close(s.events)
}

func writeMessage(conn net.Conn, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = conn.Write(b)
	return err
}

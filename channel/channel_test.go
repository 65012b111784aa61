package channel

import (
	"strconv"
	"testing"
	"time"
)

func startServer(t *testing.T, cfg ServerConfig) (*Server, string) {
	t.Helper()
	s := NewServer(cfg)
	port, err := s.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return s, "127.0.0.1:" + strconv.Itoa(port)
}

func TestClientServerRoundTrip(t *testing.T) {
	srv, addr := startServer(t, ServerConfig{})
	defer srv.Stop()

	cli := NewClient(ClientConfig{WorkerID: "worker-1", Addr: addr})
	if err := cli.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cli.Close()

	// the initial hello heartbeat confirms the server has bound the connection
	if _, err := srv.WaitForMessage(func(m Message) bool { return m.Type == Heartbeat }, time.Second); err != nil {
		t.Fatalf("expected hello heartbeat, got error: %v", err)
	}

	if err := cli.Send(Message{ID: "m1", Type: TaskCompleted, From: "worker-1", Timestamp: 1}); err != nil {
		t.Fatalf("send: %v", err)
	}

	msg, err := srv.WaitForMessage(func(m Message) bool { return m.ID == "m1" }, time.Second)
	if err != nil {
		t.Fatalf("waitForMessage: %v", err)
	}
	if msg.Type != TaskCompleted || msg.From != "worker-1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestWaitForMessageTimesOut(t *testing.T) {
	srv, _ := startServer(t, ServerConfig{})
	defer srv.Stop()

	_, err := srv.WaitForMessage(func(Message) bool { return false }, 50*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestSendToUnboundWorkerReturnsFalse(t *testing.T) {
	srv, _ := startServer(t, ServerConfig{EnableRemoteFallback: false})
	defer srv.Stop()

	ok := srv.Send("ghost", Message{ID: "x", Type: Heartbeat})
	if ok {
		t.Fatal("expected Send to an unbound worker to return false")
	}
}

func TestRemoteFallbackInvokedOnUnboundSend(t *testing.T) {
	sink := &recordingSink{}
	srv, _ := startServer(t, ServerConfig{EnableRemoteFallback: true, RemoteSink: sink})
	defer srv.Stop()

	srv.Send("ghost", Message{ID: "x", Type: Heartbeat})

	select {
	case e := <-srv.Events():
		if e.Kind != EventRemoteMessage {
			t.Fatalf("expected remote-message event, got %v", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a remote-message event")
	}
	if len(sink.sent) != 1 {
		t.Fatalf("expected remote sink to receive 1 message, got %d", len(sink.sent))
	}
}

func TestServerRoutesMessageToOtherWorker(t *testing.T) {
	srv, addr := startServer(t, ServerConfig{})
	defer srv.Stop()

	workerA := NewClient(ClientConfig{WorkerID: "worker-a", Addr: addr})
	workerB := NewClient(ClientConfig{WorkerID: "worker-b", Addr: addr})
	if err := workerA.Connect(); err != nil {
		t.Fatalf("connect a: %v", err)
	}
	if err := workerB.Connect(); err != nil {
		t.Fatalf("connect b: %v", err)
	}
	defer workerA.Close()
	defer workerB.Close()

	// Connect emits worker-b's own connected event before any routed message
	if e := <-workerB.Events(); e.Kind != EventConnected {
		t.Fatalf("expected worker-b's first event to be connected, got %+v", e)
	}

	// give the server a moment to bind both connections
	time.Sleep(50 * time.Millisecond)

	if err := workerA.Send(Message{ID: "r1", Type: ReviewRequest, From: "worker-a", To: "worker-b", Timestamp: 2}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case e := <-workerB.Events():
		if e.Kind != EventMessage || e.Message.ID != "r1" {
			t.Fatalf("expected worker-b to receive r1, got %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("expected worker-b to receive the routed message")
	}
}

type recordingSink struct {
	sent []Message
}

func (r *recordingSink) Send(msg Message) error {
	r.sent = append(r.sent, msg)
	return nil
}

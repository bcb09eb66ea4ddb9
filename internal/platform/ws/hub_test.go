package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

// ---------------------------------------------------------------------------
// Hub tests
// ---------------------------------------------------------------------------

func TestHub_RegisterClient(t *testing.T) {
	hub := newTestHub()
	client := &Client{
		ID:     "client-1",
		Topics: []string{TopicVisits},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(TopicVisits) != 1 {
		t.Fatalf("expected 1 client on visits, got %d", hub.TopicCount(TopicVisits))
	}
}

func TestHub_UnregisterClient(t *testing.T) {
	hub := newTestHub()
	client := &Client{
		ID:     "client-2",
		Topics: []string{TopicPayments},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount(TopicPayments) != 0 {
		t.Fatalf("expected 0 clients on payments, got %d", hub.TopicCount(TopicPayments))
	}

	// Send channel closes on unregister
	_, ok := <-client.Send
	if ok {
		t.Fatal("expected Send channel to be closed after unregister")
	}
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := newTestHub()

	subscriber := &Client{
		ID:     "sub-1",
		Topics: []string{TopicVisits},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	otherTopic := &Client{
		ID:     "other-1",
		Topics: []string{TopicBackups},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(subscriber)
	hub.Register(otherTopic)

	hub.Broadcast(NewEvent(EventVisitOpened, TopicVisits, map[string]string{"visit_id": "v1"}))

	select {
	case msg := <-subscriber.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		if received.Type != EventVisitOpened {
			t.Fatalf("expected %s, got %s", EventVisitOpened, received.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case <-otherTopic.Send:
		t.Fatal("client on another topic should not have received the event")
	default:
		// expected
	}
}

func TestHub_UnsubscribedClientGetsEverything(t *testing.T) {
	hub := newTestHub()

	firehose := &Client{
		ID:     "firehose-1",
		Topics: []string{},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(firehose)

	hub.Broadcast(NewEvent(EventPaymentRecorded, TopicPayments, nil))
	hub.Broadcast(NewEvent(EventBackupProgress, TopicBackups, nil))

	for i := 0; i < 2; i++ {
		select {
		case <-firehose.Send:
		case <-time.After(time.Second):
			t.Fatalf("client with no subscriptions should receive event %d", i)
		}
	}
}

func TestHub_SubscribeNarrowsStream(t *testing.T) {
	hub := newTestHub()
	client := &Client{
		ID:     "narrow-1",
		Topics: []string{},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{TopicQueue}})

	if hub.TopicCount(TopicQueue) != 1 {
		t.Fatalf("expected 1 subscriber on queue, got %d", hub.TopicCount(TopicQueue))
	}

	hub.Broadcast(NewEvent(EventQueueUpdated, TopicQueue, nil))
	hub.Broadcast(NewEvent(EventStockLow, TopicStock, nil))

	select {
	case msg := <-client.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if received.Type != EventQueueUpdated {
			t.Fatalf("expected %s, got %s", EventQueueUpdated, received.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("did not receive subscribed event")
	}

	select {
	case <-client.Send:
		t.Fatal("subscribed client should not receive events from other topics")
	default:
		// expected
	}
}

func TestHub_UnsubscribeRestoresFirehose(t *testing.T) {
	hub := newTestHub()
	client := &Client{
		ID:     "restore-1",
		Topics: []string{TopicVisits},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{TopicVisits}})

	if len(client.Topics) != 0 {
		t.Fatalf("expected no topics remaining, got %d", len(client.Topics))
	}

	// Back on the firehose: receives events from any topic.
	hub.Broadcast(NewEvent(EventStockLow, TopicStock, nil))
	select {
	case <-client.Send:
	case <-time.After(time.Second):
		t.Fatal("client with no remaining topics should receive everything")
	}
}

func TestHub_ClientCountHook(t *testing.T) {
	hub := newTestHub()

	var mu sync.Mutex
	var counts []int
	hub.OnClientCountChange(func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	})

	c1 := &Client{ID: "hook-1", Send: make(chan []byte, 1), hub: hub}
	c2 := &Client{ID: "hook-2", Send: make(chan []byte, 1), hub: hub}
	hub.Register(c1)
	hub.Register(c2)
	hub.Unregister(c1)

	mu.Lock()
	defer mu.Unlock()
	if len(counts) != 3 {
		t.Fatalf("expected 3 hook calls, got %d", len(counts))
	}
	if counts[0] != 1 || counts[1] != 2 || counts[2] != 1 {
		t.Fatalf("unexpected count sequence: %v", counts)
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 2)

	clients := make([]*Client, n)
	for i := 0; i < n; i++ {
		clients[i] = &Client{
			ID:     "concurrent-" + string(rune(i)),
			Topics: []string{TopicVisits},
			Send:   make(chan []byte, 256),
			hub:    hub,
		}
	}

	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			hub.Register(clients[idx])
		}(i)
	}
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			hub.Unregister(clients[idx])
		}(i)
	}
	wg.Wait()

	if hub.ClientCount() < 0 {
		t.Fatalf("client count should not be negative, got %d", hub.ClientCount())
	}
}

// ---------------------------------------------------------------------------
// Event tests
// ---------------------------------------------------------------------------

func TestNewEvent_MarshalsPayload(t *testing.T) {
	event := NewEvent(EventPaymentRecorded, TopicPayments, map[string]string{
		"receipt_number": "RCP-001",
		"amount":         "5000.00",
	})

	if event.Type != EventPaymentRecorded {
		t.Fatalf("expected %s, got %s", EventPaymentRecorded, event.Type)
	}
	if event.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}

	var payload map[string]string
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		t.Fatalf("failed to unmarshal data: %v", err)
	}
	if payload["receipt_number"] != "RCP-001" {
		t.Fatalf("expected receipt RCP-001, got %s", payload["receipt_number"])
	}
}

func TestNewEvent_NilPayload(t *testing.T) {
	event := NewEvent(EventVisitClosed, TopicVisits, nil)
	if event.Data != nil {
		t.Fatalf("expected nil data, got %s", string(event.Data))
	}
}

// ---------------------------------------------------------------------------
// Publisher tests
// ---------------------------------------------------------------------------

func TestHub_PublishEvent(t *testing.T) {
	hub := newTestHub()

	client := &Client{
		ID:     "pub-1",
		Topics: []string{TopicBackups},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	var publisher Publisher = hub
	if err := publisher.Publish(context.Background(), NewEvent(EventBackupProgress, TopicBackups, map[string]int{"percent": 40})); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-client.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if received.Type != EventBackupProgress {
			t.Fatalf("expected %s, got %s", EventBackupProgress, received.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("did not receive published event")
	}
}

func TestNopPublisher(t *testing.T) {
	var publisher Publisher = NopPublisher{}
	if err := publisher.Publish(context.Background(), NewEvent(EventVisitOpened, TopicVisits, nil)); err != nil {
		t.Fatalf("NopPublisher should never fail: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

func TestHandler_RegisterRoutes(t *testing.T) {
	hub := newTestHub()
	handler := NewHandler(hub)

	e := echo.New()
	g := e.Group("")
	handler.RegisterRoutes(g)

	found := false
	for _, r := range e.Routes() {
		if r.Path == "/ws" && r.Method == http.MethodGet {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("expected GET /ws route to be registered")
	}
}

func TestHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	hub := newTestHub()
	handler := NewHandler(hub)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.HandleConnect(c)
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
}

func TestHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := newTestHub()
	handler := NewHandler(hub)

	e := echo.New()
	g := e.Group("")
	handler.RegisterRoutes(g)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	dialer := gorillaws.Dialer{}
	conn, resp, err := dialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	// Give the connect goroutine a moment to register
	time.Sleep(50 * time.Millisecond)
	if hub.ClientCount() < 1 {
		t.Fatal("expected at least 1 client registered after connect")
	}

	// Narrow to the visits topic
	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{TopicVisits}}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if hub.TopicCount(TopicVisits) != 1 {
		t.Fatalf("expected 1 subscriber on visits, got %d", hub.TopicCount(TopicVisits))
	}

	hub.Broadcast(NewEvent(EventVisitOpened, TopicVisits, map[string]string{"visit_id": "v1"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != EventVisitOpened {
		t.Fatalf("expected %s, got %s", EventVisitOpened, received.Type)
	}
}

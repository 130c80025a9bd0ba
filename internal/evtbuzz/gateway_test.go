package evtbuzz_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reboot-codes/cloverhub/internal/evtbuzz"
	"github.com/reboot-codes/cloverhub/internal/perms"
	"github.com/reboot-codes/cloverhub/internal/store"
	"github.com/reboot-codes/cloverhub/pkg/models"
)

// newTestGateway spins up the full HTTP surface over a running bus.
func newTestGateway(t *testing.T) (*httptest.Server, *store.Store, models.CoreUser) {
	t.Helper()
	s, master, core := store.NewConfiguredStore()
	filter := perms.NewFilter()
	bus := evtbuzz.NewBus(s, filter, core.EvtBuzz)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go bus.Run(ctx)

	gw := evtbuzz.NewGateway(bus, s, filter)
	srv := httptest.NewServer(gw.Routes())
	t.Cleanup(srv.Close)

	return srv, s, master
}

func TestHealthCheck(t *testing.T) {
	srv, _, _ := newTestGateway(t)

	resp, err := http.Get(srv.URL + "/health-check")
	if err != nil {
		t.Fatalf("GET /health-check: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var health evtbuzz.ServerHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if _, err := time.Parse(time.RFC3339Nano, health.UpSince); err != nil {
		t.Errorf("up_since %q is not ISO-8601: %v", health.UpSince, err)
	}
}

func TestWSRejectsMissingAuth(t *testing.T) {
	srv, s, _ := newTestGateway(t)

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["detail"] != "Action not authorized" {
		t.Errorf("detail = %q, want %q", body["detail"], "Action not authorized")
	}

	// No client record stays active.
	for id, c := range s.ClientsSnapshot() {
		if c.Active {
			t.Errorf("client %s still active after rejected upgrade", id)
		}
	}
}

func TestWSRejectsUnknownKey(t *testing.T) {
	srv, _, _ := newTestGateway(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/ws", nil)
	req.Header.Set("Authorization", "Token CLOVER:not-a-real-key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /ws: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestNotFoundShape(t *testing.T) {
	srv, _, _ := newTestGateway(t)

	resp, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["detail"] != "Not found" {
		t.Errorf("detail = %q, want %q", body["detail"], "Not found")
	}
}

// TestWSHappyPath covers the full auth → session → echo flow: a client
// authenticates with the master key, sends one message, and receives it
// back with a fresh id and its own author URL.
func TestWSHappyPath(t *testing.T) {
	srv, s, master := newTestGateway(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Authorization": []string{"Token " + master.APIKey}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d, want 101", resp.StatusCode)
	}

	// A client record and an open session exist for the master user.
	var clientID string
	for id, c := range s.ClientsSnapshot() {
		if c.Active && c.UserID == master.ID {
			clientID = id
		}
	}
	if clientID == "" {
		t.Fatal("no active client registered for master user")
	}
	user, _ := s.GetUser(master.ID)
	sess, ok := user.Sessions[clientID]
	if !ok {
		t.Fatal("no session opened")
	}
	if sess.EndTime != "" {
		t.Error("session already closed")
	}

	payload, _ := json.Marshal(models.WsIn{Kind: "clover://x/y", Message: "hi"})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The master key has echo on, so the message comes straight back.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got models.Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != "clover://x/y" || got.Message != "hi" {
		t.Errorf("echoed %+v", got)
	}
	if got.ID == "" {
		t.Error("no fresh id stamped")
	}
	wantAuthor := "ws:" + master.ID + "?client=" + clientID
	if got.Author != wantAuthor {
		t.Errorf("author = %q, want %q", got.Author, wantAuthor)
	}

	// Closing the socket ends the session and deactivates the client.
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	deadline := time.After(2 * time.Second)
	for {
		c, _ := s.GetClient(clientID)
		user, _ := s.GetUser(master.ID)
		if !c.Active && user.Sessions[clientID].EndTime != "" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("cleanup did not run after close")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestWSSendDenied verifies that allowed_events_from gates publication.
func TestWSSendDenied(t *testing.T) {
	srv, s, _ := newTestGateway(t)

	s.AddUser(models.UserConfig{
		ID:         "u-limited",
		UserType:   "com.example.limited",
		PrettyName: "Limited",
		APIKeys: []models.KeySpec{{
			Key:               "CLOVER:limited",
			AllowedEventsTo:   []string{".*"},
			AllowedEventsFrom: []string{"clover://allowed/.*"},
			Echo:              true,
		}},
	})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Authorization": []string{"Token CLOVER:limited"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	denied, _ := json.Marshal(models.WsIn{Kind: "clover://forbidden/x", Message: "no"})
	conn.WriteMessage(websocket.TextMessage, denied)
	allowed, _ := json.Marshal(models.WsIn{Kind: "clover://allowed/x", Message: "yes"})
	conn.WriteMessage(websocket.TextMessage, allowed)

	// Only the permitted message echoes back.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got models.Message
	json.Unmarshal(data, &got)
	if got.Kind != "clover://allowed/x" {
		t.Errorf("first echoed kind = %q, want clover://allowed/x", got.Kind)
	}
}

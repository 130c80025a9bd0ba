package evtbuzz_test

import (
	"context"
	"testing"
	"time"

	"github.com/reboot-codes/cloverhub/internal/evtbuzz"
	"github.com/reboot-codes/cloverhub/internal/perms"
	"github.com/reboot-codes/cloverhub/internal/store"
	"github.com/reboot-codes/cloverhub/pkg/models"
)

// newTestBus starts a bus with a running dispatch loop.
func newTestBus(t *testing.T) (*evtbuzz.Bus, *store.Store) {
	t.Helper()
	s, _, core := store.NewConfiguredStore()
	bus := evtbuzz.NewBus(s, perms.NewFilter(), core.EvtBuzz)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go bus.Run(ctx)

	return bus, s
}

// addClient registers a user, key, client record, and outbox.
func addClient(t *testing.T, bus *evtbuzz.Bus, s *store.Store, clientID string, to []string, echo bool) <-chan models.Message {
	t.Helper()
	keyStr := "CLOVER:" + clientID
	s.AddUser(models.UserConfig{
		ID:         "user-" + clientID,
		UserType:   "com.example.test",
		PrettyName: clientID,
		APIKeys: []models.KeySpec{{
			Key:               keyStr,
			AllowedEventsTo:   to,
			AllowedEventsFrom: []string{".*"},
			Echo:              echo,
		}},
	})
	s.PutClient(models.Client{ID: clientID, APIKey: keyStr, UserID: "user-" + clientID, Active: true})
	return bus.RegisterOutbox(clientID)
}

func recv(t *testing.T, ch <-chan models.Message) models.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return models.Message{}
	}
}

func expectSilence(t *testing.T, ch <-chan models.Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: kind=%s", msg.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatchByPattern(t *testing.T) {
	bus, s := newTestBus(t)
	outbox := addClient(t, bus, s, "c1", []string{"clover://a/.*"}, false)

	bus.Publish(models.Message{ID: "m1", Author: "ws:u9?client=c9", Kind: "clover://b/foo", Message: "nope"})
	expectSilence(t, outbox)

	bus.Publish(models.Message{ID: "m2", Author: "ws:u9?client=c9", Kind: "clover://a/foo", Message: "yes"})
	got := recv(t, outbox)
	if got.Kind != "clover://a/foo" || got.Message != "yes" {
		t.Errorf("delivered %+v, want kind clover://a/foo", got)
	}
}

func TestEchoSymmetry(t *testing.T) {
	bus, s := newTestBus(t)
	echoOn := addClient(t, bus, s, "c1", []string{".*"}, true)
	echoOff := addClient(t, bus, s, "c2", []string{".*"}, false)

	bus.Publish(models.Message{ID: "m1", Author: "ws:user-c1?client=c1", Kind: "clover://x/y", Message: "hi"})
	// The echo-on author gets its own message back; the other client gets
	// it by pattern.
	if got := recv(t, echoOn); got.ID != "m1" {
		t.Errorf("echo delivery id = %q, want m1", got.ID)
	}
	if got := recv(t, echoOff); got.ID != "m1" {
		t.Errorf("cross delivery id = %q, want m1", got.ID)
	}

	bus.Publish(models.Message{ID: "m2", Author: "ws:user-c2?client=c2", Kind: "clover://x/y", Message: "hi"})
	// c2 authored m2 with echo off: only c1 sees it.
	if got := recv(t, echoOn); got.ID != "m2" {
		t.Errorf("cross delivery id = %q, want m2", got.ID)
	}
	expectSilence(t, echoOff)
}

func TestRevocationSentinel(t *testing.T) {
	bus, s := newTestBus(t)
	outbox := addClient(t, bus, s, "c1", []string{".*"}, false)

	s.RemoveAPIKey("CLOVER:c1")
	bus.Publish(models.Message{ID: "m1", Author: "ws:u9?client=c9", Kind: "clover://x/y", Message: "hi"})

	got := recv(t, outbox)
	if got.Kind != evtbuzz.UnauthorizeKind("c1") {
		t.Errorf("sentinel kind = %q, want %q", got.Kind, evtbuzz.UnauthorizeKind("c1"))
	}
	if got.Message != evtbuzz.UnauthorizeBody {
		t.Errorf("sentinel body = %q, want %q", got.Message, evtbuzz.UnauthorizeBody)
	}

	// The client is out of the fabric: deactivated, no further deliveries.
	deadline := time.After(2 * time.Second)
	for {
		if c, _ := s.GetClient("c1"); !c.Active {
			break
		}
		select {
		case <-deadline:
			t.Fatal("client still active after revocation")
		case <-time.After(10 * time.Millisecond):
		}
	}

	bus.Publish(models.Message{ID: "m2", Author: "ws:u9?client=c9", Kind: "clover://x/y", Message: "hi"})
	expectSilence(t, outbox)
}

func TestPerOutboxOrdering(t *testing.T) {
	bus, s := newTestBus(t)
	outbox := addClient(t, bus, s, "c1", []string{".*"}, false)

	kinds := []string{"clover://o/1", "clover://o/2", "clover://o/3", "clover://o/4", "clover://o/5"}
	for i, kind := range kinds {
		bus.Publish(models.Message{ID: string(rune('a' + i)), Author: "ws:u9?client=c9", Kind: kind})
	}

	for _, want := range kinds {
		if got := recv(t, outbox); got.Kind != want {
			t.Fatalf("out of order: got %q, want %q", got.Kind, want)
		}
	}
}

// TestCancellationConvergence: cancelling the bus context terminates the
// dispatch loop and every subsystem pump within a bounded time budget.
func TestCancellationConvergence(t *testing.T) {
	s, _, core := store.NewConfiguredStore()
	bus := evtbuzz.NewBus(s, perms.NewFilter(), core.EvtBuzz)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		bus.Run(ctx)
	}()
	ipc := bus.RegisterSubsystem(ctx, core.Arbiter)

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch loop did not stop after cancel")
	}

	// The subsystem pump is also gone: its outbox no longer forwards.
	ipc.Outbox <- s.NewMessage(ipc.User, "clover://x/after-cancel", "late")
	expectSilence(t, ipc.Inbox)
}

func TestSubsystemRoundTrip(t *testing.T) {
	s, _, core := store.NewConfiguredStore()
	bus := evtbuzz.NewBus(s, perms.NewFilter(), core.EvtBuzz)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go bus.Run(ctx)

	ipc := bus.RegisterSubsystem(ctx, core.ModMan)
	outbox := addClient(t, bus, s, "c1", []string{".*"}, false)

	msg := s.NewMessage(ipc.User, "clover://com.reboot-codes.clover.modman/status", "finished-init")
	ipc.Outbox <- msg

	got := recv(t, outbox)
	if got.Kind != "clover://com.reboot-codes.clover.modman/status" {
		t.Errorf("kind = %q", got.Kind)
	}
	if got.Author != store.UserTypeModMan {
		t.Errorf("author = %q, want %q", got.Author, store.UserTypeModMan)
	}

	// The subsystem's wildcard core key sees every message on the fabric,
	// its own status event included (internal authors carry no client id,
	// so the echo comparison never suppresses them).
	if got := recv(t, ipc.Inbox); got.ID != msg.ID {
		t.Errorf("subsystem inbox id = %q, want its own status %q", got.ID, msg.ID)
	}

	bus.Publish(models.Message{ID: "m1", Author: "ws:u9?client=c9", Kind: "clover://elsewhere/x"})
	if got := recv(t, ipc.Inbox); got.ID != "m1" {
		t.Errorf("subsystem inbox id = %q, want m1", got.ID)
	}
}

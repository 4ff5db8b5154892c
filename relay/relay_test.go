package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/richinsley/viewcomfy/auth"
	"github.com/richinsley/viewcomfy/generation"
	"github.com/richinsley/viewcomfy/results"
	"github.com/richinsley/viewcomfy/session"
)

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []string
	seen chan struct{}
}

func (n *recordingNotifier) Notify(ctx context.Context, job *results.Job) {
	n.mu.Lock()
	n.jobs = append(n.jobs, job.PromptID)
	n.mu.Unlock()
	n.seen <- struct{}{}
}

// acceptingServer accepts every handshake and passes the connection to the test.
func acceptingServer(t *testing.T) (string, <-chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var hs map[string]interface{}
		if err := conn.ReadJSON(&hs); err != nil {
			conn.Close()
			return
		}
		conn.WriteJSON(map[string]interface{}{"event": session.EventConnect})
		conns <- conn
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), conns
}

func TestMountDisabledSession(t *testing.T) {
	s := session.New(session.Options{Credentials: auth.StaticSupplier("tok")})
	r := New(s, generation.NewTracker(generation.Options{}), Options{})

	if err := r.Mount(context.Background()); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	if s.HandlerCount() != 0 {
		t.Errorf("Expected no handlers, got %d", s.HandlerCount())
	}
	if r.IsConnected() {
		t.Error("Expected a disabled relay never to connect")
	}
	r.Teardown()
	r.Teardown()
}

func TestMountSignedOut(t *testing.T) {
	url, _ := acceptingServer(t)
	s := session.New(session.Options{URL: url, Credentials: auth.SignedOut})
	r := New(s, generation.NewTracker(generation.Options{}), Options{})

	if err := r.Mount(context.Background()); err != nil {
		t.Fatalf("Expected not being signed in to be swallowed, got %v", err)
	}
	if s.Done() != nil {
		t.Error("Expected no connection attempt")
	}
	r.Teardown()
	if s.HandlerCount() != 0 {
		t.Errorf("Expected Teardown to unregister handlers, %d left", s.HandlerCount())
	}
}

func TestRelayMergesResultsOnce(t *testing.T) {
	url, conns := acceptingServer(t)
	s := session.New(session.Options{URL: url, Credentials: auth.StaticSupplier("tok"), BaseDelay: 5 * time.Millisecond})
	n := &recordingNotifier{seen: make(chan struct{}, 8)}
	tracker := generation.NewTracker(generation.Options{Notifier: n})
	r := New(s, tracker, Options{})
	t.Cleanup(r.Teardown)

	if err := r.Mount(context.Background()); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	var conn *websocket.Conn
	select {
	case conn = <-conns:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the connection")
	}

	result := map[string]interface{}{"event": session.EventResult, "data": map[string]interface{}{
		"prompt_id": "p1", "completed": true, "status": "completed",
		"outputs": []interface{}{
			"inline text",
			map[string]interface{}{"filename": "a.png", "filepath": "https://cdn/a.png", "content_type": "image/png"},
			map[string]interface{}{"text": "meta"},
		},
	}}
	conn.WriteJSON(result)
	conn.WriteJSON(result)
	conn.WriteJSON(map[string]interface{}{"event": session.EventResult, "data": map[string]interface{}{"status": "completed"}})
	conn.WriteJSON(map[string]interface{}{"event": session.EventErrorMessage, "data": map[string]interface{}{"data": "no prompt"}})
	conn.WriteJSON(map[string]interface{}{"event": session.EventErrorMessage, "data": map[string]interface{}{"prompt_id": "p2", "data": "CUDA out of memory"}})

	for i := 0; i < 2; i++ {
		select {
		case <-n.seen:
		case <-time.After(5 * time.Second):
			t.Fatalf("Timed out waiting for notification %d", i+1)
		}
	}

	if tracker.Store().Len() != 2 {
		t.Fatalf("Expected 2 jobs, got %d", tracker.Store().Len())
	}
	g, ok := tracker.Generation("p1")
	if !ok || len(g.Outputs) != 1 || g.Outputs[0].URL != "https://cdn/a.png" {
		t.Errorf("Unexpected p1 generation %+v", g)
	}
	g, ok = tracker.Generation("p2")
	if !ok || g.Status != results.StatusError || g.ErrorMessage != "CUDA out of memory" {
		t.Errorf("Unexpected p2 generation %+v", g)
	}

	n.mu.Lock()
	if strings.Join(n.jobs, ",") != "p1,p2" {
		t.Errorf("Expected one notification per job, got %v", n.jobs)
	}
	n.mu.Unlock()

	r.Teardown()
	if s.HandlerCount() != 0 {
		t.Errorf("Expected Teardown to unregister handlers, %d left", s.HandlerCount())
	}
	if r.IsConnected() {
		t.Error("Expected Teardown to disconnect")
	}
}

// switchSupplier signs in and out on demand.
type switchSupplier struct {
	signedIn atomic.Bool
}

func (s *switchSupplier) SignedIn() bool { return s.signedIn.Load() }

func (s *switchSupplier) GetToken(ctx context.Context, opts auth.TokenOptions) (string, error) {
	if !s.signedIn.Load() {
		return "", nil
	}
	return "tok", nil
}

func waitConnected(t *testing.T, r *Relay, want bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for r.IsConnected() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for connected=%v", want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMountAgainAfterSignIn(t *testing.T) {
	url, conns := acceptingServer(t)
	creds := &switchSupplier{}
	s := session.New(session.Options{URL: url, Credentials: creds, BaseDelay: 5 * time.Millisecond})
	r := New(s, generation.NewTracker(generation.Options{}), Options{})
	t.Cleanup(r.Teardown)

	if err := r.Mount(context.Background()); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	if s.Done() != nil {
		t.Fatal("Expected no connection while signed out")
	}

	creds.signedIn.Store(true)
	if err := r.Mount(context.Background()); err != nil {
		t.Fatalf("Second Mount failed: %v", err)
	}
	select {
	case <-conns:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the connection")
	}
	waitConnected(t, r, true)
	if s.HandlerCount() != 5 {
		t.Errorf("Expected handlers to be registered once, got %d", s.HandlerCount())
	}
}

func TestSyncAuthFollowsSignInAndOut(t *testing.T) {
	url, _ := acceptingServer(t)
	creds := &switchSupplier{}
	s := session.New(session.Options{URL: url, Credentials: creds, BaseDelay: 5 * time.Millisecond})
	r := New(s, generation.NewTracker(generation.Options{}), Options{})
	t.Cleanup(r.Teardown)

	if err := r.SyncAuth(context.Background()); err != nil || s.Done() != nil {
		t.Fatalf("Expected an unmounted relay to ignore SyncAuth, got %v", err)
	}
	if err := r.Mount(context.Background()); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}

	creds.signedIn.Store(true)
	if err := r.SyncAuth(context.Background()); err != nil {
		t.Fatalf("SyncAuth failed: %v", err)
	}
	waitConnected(t, r, true)

	creds.signedIn.Store(false)
	if err := r.SyncAuth(context.Background()); err != nil {
		t.Fatalf("SyncAuth failed: %v", err)
	}
	if r.IsConnected() {
		t.Error("Expected sign-out to disconnect")
	}

	creds.signedIn.Store(true)
	r.SyncAuth(context.Background())
	waitConnected(t, r, true)
}

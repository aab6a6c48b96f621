package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonicline/backend/internal/protocol"
)

type fakeConn struct {
	id   string
	fail bool

	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(data []byte) error {
	if f.fail {
		return errors.New("peer gone")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) received(t *testing.T) []protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(f.frames))
	for _, raw := range f.frames {
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("received frame is not an envelope: %v", err)
		}
		out = append(out, env)
	}
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

func newTestRegistry() *Registry {
	return NewRegistry(Options{}, zerolog.Nop())
}

func TestAttachCreatesSessionLazily(t *testing.T) {
	r := newTestRegistry()
	if r.Len() != 0 {
		t.Fatalf("fresh registry has %d sessions, want 0", r.Len())
	}

	conn := &fakeConn{id: "c1"}
	s := r.Attach("s1", conn)
	if s == nil {
		t.Fatal("Attach returned nil session")
	}
	if r.Len() != 1 {
		t.Errorf("registry has %d sessions, want 1", r.Len())
	}
	if got := s.Summarize().Connections; got != 1 {
		t.Errorf("session has %d connections, want 1", got)
	}

	// Same id resolves to the same session.
	if again := r.Attach("s1", &fakeConn{id: "c2"}); again != s {
		t.Error("second Attach returned a different session for the same id")
	}
}

func TestDetachKeepsEmptySession(t *testing.T) {
	r := newTestRegistry()
	conn := &fakeConn{id: "c1"}
	s := r.Attach("s1", conn)
	s.AddDevice("phone")
	s.AppendMessage(json.RawMessage(`{"text":"hi"}`))

	r.Detach("s1", conn)

	kept, ok := r.Lookup("s1")
	if !ok {
		t.Fatal("session deleted on detach; history must survive for reconnect")
	}
	sum := kept.Summarize()
	if sum.Connections != 0 {
		t.Errorf("connections = %d, want 0", sum.Connections)
	}
	if sum.MessageCount != 1 {
		t.Errorf("message count = %d, want 1", sum.MessageCount)
	}
	if len(sum.ActiveDevices) != 1 {
		t.Errorf("devices = %v, want [phone]", sum.ActiveDevices)
	}

	// Detach of an unknown session or connection is a no-op.
	r.Detach("nope", conn)
	r.Detach("s1", conn)
}

func TestDeviceJoinLeave(t *testing.T) {
	r := newTestRegistry()
	s := r.Session("s1")

	if got := s.AddDevice("phone"); len(got) != 1 || got[0] != "phone" {
		t.Fatalf("AddDevice = %v, want [phone]", got)
	}
	// Repeated join does not duplicate.
	if got := s.AddDevice("phone"); len(got) != 1 {
		t.Errorf("repeated AddDevice = %v, want [phone]", got)
	}
	// Empty id is ignored.
	if got := s.AddDevice(""); len(got) != 1 {
		t.Errorf("AddDevice(\"\") = %v, want [phone]", got)
	}

	s.AddDevice("tablet")
	if got := s.RemoveDevice("phone"); len(got) != 1 || got[0] != "tablet" {
		t.Errorf("RemoveDevice = %v, want [tablet]", got)
	}
	// Removing an unknown device is a no-op on state.
	if got := s.RemoveDevice("watch"); len(got) != 1 {
		t.Errorf("RemoveDevice(unknown) = %v, want [tablet]", got)
	}
}

func TestHistoryBoundedFIFO(t *testing.T) {
	r := newTestRegistry()
	s := r.Session("s1")

	for i := 1; i <= 101; i++ {
		s.AppendAction(json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
	}

	sum := s.Summarize()
	if sum.ActionCount != 100 {
		t.Fatalf("action history length = %d, want 100", sum.ActionCount)
	}

	// Replay exposes the surviving entries: events 2..101, oldest first.
	conn := &fakeConn{id: "c1"}
	r.Attach("s1", conn)
	frames := conn.received(t)
	if len(frames) != 101 { // session_info + 100 actions
		t.Fatalf("replayed %d frames, want 101", len(frames))
	}
	var first, last struct {
		N int `json:"n"`
	}
	if err := json.Unmarshal(frames[1].Payload, &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(frames[100].Payload, &last); err != nil {
		t.Fatal(err)
	}
	if first.N != 2 || last.N != 101 {
		t.Errorf("surviving actions span %d..%d, want 2..101", first.N, last.N)
	}
}

func TestReplayOrder(t *testing.T) {
	r := newTestRegistry()
	s := r.Session("s1")
	s.AddDevice("phone")
	s.AppendMessage(json.RawMessage(`{"text":"one"}`))
	s.AppendMessage(json.RawMessage(`{"text":"two"}`))
	s.AppendAction(json.RawMessage(`{"action":"mint"}`))

	conn := &fakeConn{id: "c1"}
	r.Attach("s1", conn)

	frames := conn.received(t)
	wantTypes := []protocol.EventType{
		protocol.EventSessionInfo,
		protocol.EventNewMessage,
		protocol.EventNewMessage,
		protocol.EventActionUsed,
	}
	if len(frames) != len(wantTypes) {
		t.Fatalf("replayed %d frames, want %d", len(frames), len(wantTypes))
	}
	for i, want := range wantTypes {
		if frames[i].Type != want {
			t.Errorf("frame[%d].Type = %s, want %s", i, frames[i].Type, want)
		}
	}

	var info protocol.SessionInfo
	if err := json.Unmarshal(frames[0].Payload, &info); err != nil {
		t.Fatal(err)
	}
	if info.SessionID != "s1" || info.MessageCount != 2 || info.ActionCount != 1 {
		t.Errorf("session_info = %+v, want sessionId s1, 2 messages, 1 action", info)
	}
	if len(info.ActiveDevices) != 1 || info.ActiveDevices[0] != "phone" {
		t.Errorf("session_info devices = %v, want [phone]", info.ActiveDevices)
	}

	var msg struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(frames[1].Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Text != "one" {
		t.Errorf("first replayed message = %q, want oldest first", msg.Text)
	}
}

func TestReplayStopsOnFirstFailure(t *testing.T) {
	r := newTestRegistry()
	s := r.Session("s1")
	s.AppendMessage(json.RawMessage(`{"text":"hi"}`))

	conn := &fakeConn{id: "c1", fail: true}
	r.Attach("s1", conn)

	// Connection stays attached despite the failed replay.
	if got := s.Summarize().Connections; got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	r := newTestRegistry()
	s := r.Session("s1")

	good1 := &fakeConn{id: "g1"}
	bad := &fakeConn{id: "b1", fail: true}
	good2 := &fakeConn{id: "g2"}
	r.Attach("s1", good1)
	r.Attach("s1", bad)
	r.Attach("s1", good2)
	good1.reset()
	good2.reset()

	s.Broadcast([]byte(`{"type":"tool_used","payload":{}}`), nil)

	for _, c := range []*fakeConn{good1, good2} {
		if got := len(c.received(t)); got != 1 {
			t.Errorf("conn %s received %d frames, want 1", c.id, got)
		}
	}
	// Failing connection stays attached; only the transport removes it.
	if got := s.Summarize().Connections; got != 3 {
		t.Errorf("connections after failed delivery = %d, want 3", got)
	}
}

func TestBroadcastExclude(t *testing.T) {
	r := newTestRegistry()
	s := r.Session("s1")
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	r.Attach("s1", a)
	r.Attach("s1", b)
	a.reset()
	b.reset()

	s.Broadcast([]byte(`{}`), a)
	if got := len(a.received(t)); got != 0 {
		t.Errorf("excluded conn received %d frames, want 0", got)
	}
	if got := len(b.received(t)); got != 1 {
		t.Errorf("other conn received %d frames, want 1", got)
	}
}

func TestReap(t *testing.T) {
	r := NewRegistry(Options{SessionTTL: 24 * time.Hour}, zerolog.Nop())
	stale := r.Session("stale")
	fresh := r.Session("fresh")

	stale.mu.Lock()
	stale.lastActivity = time.Now().Add(-25 * time.Hour)
	stale.mu.Unlock()
	fresh.Touch()

	if n := r.reap(time.Now()); n != 1 {
		t.Fatalf("reap removed %d sessions, want 1", n)
	}
	if _, ok := r.Lookup("stale"); ok {
		t.Error("stale session survived the reaper")
	}
	if _, ok := r.Lookup("fresh"); !ok {
		t.Error("fresh session was reaped")
	}

	// An event on an orphaned connection recreates an empty session.
	recreated := r.Session("stale")
	if got := recreated.Summarize().MessageCount; got != 0 {
		t.Errorf("recreated session has %d messages, want 0", got)
	}
}

func TestReaperLifecycle(t *testing.T) {
	r := NewRegistry(Options{ReapInterval: 10 * time.Millisecond, SessionTTL: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r.Start(ctx)
	r.Session("s1")
	time.Sleep(30 * time.Millisecond)
	r.Close()

	// Close is idempotent enough to call once; sessions within TTL survive.
	if _, ok := r.Lookup("s1"); !ok {
		t.Error("active session reaped before TTL")
	}
}

func TestSummariesSorted(t *testing.T) {
	r := newTestRegistry()
	for _, id := range []string{"c", "a", "b"} {
		r.Session(id)
	}
	got := r.Summaries()
	if len(got) != 3 {
		t.Fatalf("got %d summaries, want 3", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].ID != want {
			t.Errorf("summaries[%d].ID = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestConcurrentSessionMutation(t *testing.T) {
	r := newTestRegistry()
	s := r.Session("s1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.AppendMessage(json.RawMessage(`{}`))
				s.AddDevice(fmt.Sprintf("d%d", n))
				s.Broadcast([]byte(`{}`), nil)
				s.Touch()
			}
		}(i)
	}
	wg.Wait()

	sum := s.Summarize()
	if sum.MessageCount != 100 {
		t.Errorf("message history = %d, want capped at 100", sum.MessageCount)
	}
	if len(sum.ActiveDevices) != 8 {
		t.Errorf("devices = %d, want 8", len(sum.ActiveDevices))
	}
}

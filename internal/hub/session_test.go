package hub

import (
	"context"
	"sync"
	"testing"
)

func newBareSession(t *testing.T) (*session, *fakeSocket) {
	t.Helper()
	m := newTestMain(t, Config{})
	conn, sock := newTestConn(t, m)
	_, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &session{
		id:     "s1",
		key:    sessionKey{conversationID: "c1", modelID: "alpha"},
		conn:   conn,
		cancel: cancel,
	}, sock
}

func TestSessionTerminalTransitionWinsOnce(t *testing.T) {
	s, _ := newBareSession(t)

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan sessionState, racers)
	for i := 0; i < racers; i++ {
		state := sessionDone
		if i%2 == 0 {
			state = sessionErrored
		}
		wg.Add(1)
		go func(state sessionState) {
			defer wg.Done()
			if s.finish(state, nil) {
				wins <- state
			}
		}(state)
	}
	wg.Wait()
	close(wins)

	var winners []sessionState
	for state := range wins {
		winners = append(winners, state)
	}
	if len(winners) != 1 {
		t.Fatalf("terminal transitions = %d, want exactly 1", len(winners))
	}
	if got := s.outcome(); got != winners[0] {
		t.Errorf("outcome = %v, want %v", got, winners[0])
	}
}

func TestSessionNoChunkAfterTerminal(t *testing.T) {
	s, sock := newBareSession(t)

	if !s.emitChunk("before") {
		t.Fatal("chunk before terminal should be accepted")
	}
	if !s.finish(sessionDone, &serverFrame{Type: "done"}) {
		t.Fatal("first finish should win")
	}
	if s.emitChunk("after") {
		t.Error("chunk after terminal should be refused")
	}

	waitFor(t, "frames flushed", func() bool { return len(sock.all()) == 2 })
	frames := sock.all()
	if frames[0].Type != "chunk" || frames[1].Type != "done" {
		t.Errorf("frame order = [%s %s], want [chunk done]", frames[0].Type, frames[1].Type)
	}
	if got := s.text(); got != "before" {
		t.Errorf("buffered text = %q, want %q", got, "before")
	}
}

func TestSessionBufferAccumulates(t *testing.T) {
	s, _ := newBareSession(t)

	for _, chunk := range []string{"a", "b", "c"} {
		s.emitChunk(chunk)
	}
	if got := s.text(); got != "abc" {
		t.Errorf("buffered text = %q, want %q", got, "abc")
	}
	if got := s.outcome(); got != sessionStreaming {
		t.Errorf("state = %v, want streaming", got)
	}
}

func TestThinkingSet(t *testing.T) {
	ts := NewThinkingSet()
	ts.Add("c1", "alpha")
	ts.Add("c1", "beta")
	ts.Add("c2", "alpha")

	if got := len(ts.Models("c1")); got != 2 {
		t.Errorf("c1 thinking = %d, want 2", got)
	}

	ts.Remove("c1", "alpha")
	ts.Remove("c1", "alpha") // second remove is a no-op
	if got := ts.Models("c1"); len(got) != 1 || got[0] != "beta" {
		t.Errorf("c1 thinking = %v, want [beta]", got)
	}

	ts.Remove("c2", "alpha")
	if got := len(ts.Models("c2")); got != 0 {
		t.Errorf("c2 thinking = %d, want 0", got)
	}
}

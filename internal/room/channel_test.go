package room

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// Simulates a connected client for replay tests
type mockPeer struct {
	mu        sync.Mutex
	received  []byte
	inHistory bool
}

func (m *mockPeer) Send(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, p...)
	return nil
}

func (m *mockPeer) SetInHistory(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inHistory = v
}

func (m *mockPeer) bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.received))
	copy(out, m.received)
	return out
}

func (m *mockPeer) catchingUp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inHistory
}

func newTestChannel(t *testing.T) *DurableChannel {
	t.Helper()

	path := filepath.Join(t.TempDir(), "stream.data")
	ch, err := newDurableChannel(path, false, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	t.Cleanup(ch.Close)
	return ch
}

func replayAndWait(t *testing.T, ch *DurableChannel, p Peer) {
	t.Helper()

	done := make(chan struct{})
	ch.onHistoryDone = func(Peer) { close(done) }
	ch.StartReplay(p)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("replay did not finish")
	}
}

func TestAppendAdvancesLogicalSize(t *testing.T) {
	ch := newTestChannel(t)

	ch.Append([]byte{1, 2, 3, 4})
	if got := ch.Size(); got != 4 {
		t.Errorf("Expected size 4, got %d", got)
	}

	ch.Append([]byte{5, 6})
	if got := ch.Size(); got != 6 {
		t.Errorf("Expected size 6, got %d", got)
	}
}

func TestReplayDeliversFullHistory(t *testing.T) {
	ch := newTestChannel(t)

	p1 := []byte{0xA, 0xB, 0xC}
	ch.Append(p1)

	peer := &mockPeer{}
	replayAndWait(t, ch, peer)

	if !bytes.Equal(peer.bytes(), p1) {
		t.Errorf("Expected history %v, got %v", p1, peer.bytes())
	}
	if peer.catchingUp() {
		t.Error("Peer should not be marked in-history after replay")
	}
}

func TestReplayEmptyLog(t *testing.T) {
	ch := newTestChannel(t)

	peer := &mockPeer{}
	replayAndWait(t, ch, peer)

	if len(peer.bytes()) != 0 {
		t.Errorf("Expected no history, got %d bytes", len(peer.bytes()))
	}
}

func TestReplayWaitsForPhysicalFlush(t *testing.T) {
	ch := newTestChannel(t)

	// Promise bytes that are not on disk yet, as a slow flush would.
	promised := []byte("lagging")
	ch.size.Add(int64(len(promised)))

	done := make(chan struct{})
	ch.onHistoryDone = func(Peer) { close(done) }

	peer := &mockPeer{}
	ch.StartReplay(peer)

	select {
	case <-done:
		t.Fatal("replay finished before the file caught up")
	case <-time.After(150 * time.Millisecond):
	}

	f, err := os.OpenFile(ch.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("Failed to open log: %v", err)
	}
	if _, err := f.Write(promised); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	f.Close()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("replay never finished after flush")
	}

	if !bytes.Equal(peer.bytes(), promised) {
		t.Errorf("Expected %q, got %q", promised, peer.bytes())
	}
}

func TestClearResetsLog(t *testing.T) {
	ch := newTestChannel(t)

	ch.Append([]byte("old strokes"))
	if err := ch.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if got := ch.Size(); got != 0 {
		t.Errorf("Expected size 0 after clear, got %d", got)
	}

	peer := &mockPeer{}
	replayAndWait(t, ch, peer)
	if len(peer.bytes()) != 0 {
		t.Errorf("Expected empty replay after clear, got %d bytes", len(peer.bytes()))
	}

	// The channel must keep accepting traffic through the reopened handle.
	ch.Append([]byte("new"))
	if got := ch.Size(); got != 3 {
		t.Errorf("Expected size 3 after new append, got %d", got)
	}
}

func TestWelcomeSentBeforeHistory(t *testing.T) {
	ch := newTestChannel(t)
	ch.welcome = func(p Peer) { p.Send([]byte("hello ")) }

	ch.Append([]byte("world"))

	peer := &mockPeer{}
	replayAndWait(t, ch, peer)

	if got := string(peer.bytes()); got != "hello world" {
		t.Errorf("Expected greeting before history, got %q", got)
	}
}

func TestRecoveryReadsSizeFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.data")
	if err := os.WriteFile(path, []byte("persisted"), 0644); err != nil {
		t.Fatalf("Failed to seed log: %v", err)
	}

	ch, err := newDurableChannel(path, true, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to recover channel: %v", err)
	}
	defer ch.Close()

	if got := ch.Size(); got != int64(len("persisted")) {
		t.Errorf("Expected recovered size %d, got %d", len("persisted"), got)
	}

	peer := &mockPeer{}
	replayAndWait(t, ch, peer)
	if got := string(peer.bytes()); got != "persisted" {
		t.Errorf("Expected recovered history, got %q", got)
	}
}

func TestCloseDrainsPendingAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.data")
	ch, err := newDurableChannel(path, false, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}

	payload := []byte("must not be lost")
	ch.Append(payload)
	ch.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("Expected %q on disk, got %q", payload, data)
	}

	// Appends after close are dropped, not a panic.
	ch.Append([]byte("late"))
	ch.Close()
}

func TestClearDuringAppendsKeepsSizeConsistent(t *testing.T) {
	ch := newTestChannel(t)

	// Every append must land wholly before or after each clear, so the
	// logical size always matches what survives on disk.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			ch.Append([]byte("0123456789"))
		}
	}()

	for i := 0; i < 20; i++ {
		if err := ch.Clear(); err != nil {
			t.Errorf("Clear failed: %v", err)
			break
		}
	}
	<-done

	size := ch.Size()
	ch.Close()

	st, err := os.Stat(ch.Path())
	if err != nil {
		t.Fatalf("Failed to stat log: %v", err)
	}
	if st.Size() != size {
		t.Errorf("Logical size %d does not match %d bytes on disk", size, st.Size())
	}
}

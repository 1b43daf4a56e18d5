package game

import (
	"sync"
	"testing"
	"time"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()

	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.clients == nil {
		t.Error("Hub clients map is nil")
	}
	if hub.broadcast == nil {
		t.Error("Hub broadcast channel is nil")
	}
	if hub.register == nil {
		t.Error("Hub register channel is nil")
	}
	if hub.unregister == nil {
		t.Error("Hub unregister channel is nil")
	}
}

func TestHub_GetClientCount(t *testing.T) {
	hub := NewHub()

	if count := hub.GetClientCount(); count != 0 {
		t.Errorf("GetClientCount() = %v, want 0", count)
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub()

	go hub.Run()
	defer close(hub.broadcast)

	time.Sleep(10 * time.Millisecond)

	// Should not block
	hub.Broadcast(WSMessage{Type: "round.tick", Data: RoundTickEvent{
		RoundID:             "r1",
		DisplayedMultiplier: 1.23,
	}})

	time.Sleep(10 * time.Millisecond)
}

func TestHub_BroadcastChannelFull(t *testing.T) {
	hub := NewHub()

	// Don't start the hub, so the broadcast channel fills up
	for i := 0; i < cap(hub.broadcast); i++ {
		hub.Broadcast(WSMessage{Type: "round.tick"})
	}

	// Next broadcast should drop the message instead of blocking
	done := make(chan bool, 1)
	go func() {
		hub.Broadcast(WSMessage{Type: "round.tick"})
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("Broadcast() blocked when channel was full")
	}
}

func TestHub_ConcurrentBroadcasts(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer close(hub.broadcast)

	time.Sleep(10 * time.Millisecond)

	var wg sync.WaitGroup
	broadcasts := 100

	for i := 0; i < broadcasts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			hub.Broadcast(WSMessage{Type: "round.tick", Data: RoundTickEvent{
				RoundID:             "r1",
				DisplayedMultiplier: float64(n),
			}})
		}(i)
	}

	done := make(chan bool)
	go func() {
		wg.Wait()
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Error("Concurrent broadcasts timed out")
	}
}

func BenchmarkHub_Broadcast(b *testing.B) {
	hub := NewHub()
	go hub.Run()
	defer close(hub.broadcast)

	time.Sleep(10 * time.Millisecond)

	msg := WSMessage{Type: "round.tick", Data: RoundTickEvent{RoundID: "r1", DisplayedMultiplier: 2.0}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.Broadcast(msg)
	}
}

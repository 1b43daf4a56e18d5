package game

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestManager_SnapshotBeforeFirstRound(t *testing.T) {
	m := NewManager(NewHub(), nil, nil, nil)

	if snap := m.Snapshot(); snap != nil {
		t.Errorf("Snapshot() = %v before any round, want nil", snap)
	}
	if m.Halted() {
		t.Error("Halted() = true on a fresh manager")
	}
}

func TestManager_PublishSwapsSnapshot(t *testing.T) {
	m := NewManager(NewHub(), nil, nil, nil)

	first := &RoundSnapshot{RoundID: "r1", Phase: PhaseWaiting}
	m.publish(first)

	if got := m.Snapshot(); got.RoundID != "r1" {
		t.Errorf("Snapshot().RoundID = %v, want r1", got.RoundID)
	}

	second := first.clone()
	second.Phase = PhaseRunning
	m.publish(second)

	if got := m.Snapshot(); got.Phase != PhaseRunning {
		t.Errorf("Snapshot().Phase = %v, want RUNNING", got.Phase)
	}
	// The old snapshot is immutable; readers holding it see WAITING.
	if first.Phase != PhaseWaiting {
		t.Error("published snapshot was mutated in place")
	}
}

func TestManager_ConcurrentSnapshotReads(t *testing.T) {
	m := NewManager(NewHub(), nil, nil, nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				snap := &RoundSnapshot{RoundID: "r", Nonce: i, Phase: PhaseRunning}
				m.publish(snap)
			}
		}
	}()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if snap := m.Snapshot(); snap != nil && snap.Phase != PhaseRunning {
					t.Error("read a torn snapshot")
					return
				}
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestManager_PlaceWagerValidation(t *testing.T) {
	m := NewManager(NewHub(), nil, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		req      BetRequest
		snapshot *RoundSnapshot
		wantCode string
	}{
		{
			name:     "Amount below minimum",
			req:      BetRequest{UserID: "u1", Amount: 0.5},
			wantCode: CodeInvalidRequest,
		},
		{
			name:     "Amount above maximum",
			req:      BetRequest{UserID: "u1", Amount: MAX_BET_AMOUNT + 1},
			wantCode: CodeInvalidRequest,
		},
		{
			name:     "No round open",
			req:      BetRequest{UserID: "u1", Amount: 10},
			wantCode: CodeRoundNotAccepting,
		},
		{
			name: "Round already running",
			req:  BetRequest{UserID: "u1", Amount: 10},
			snapshot: &RoundSnapshot{
				RoundID: "r1", Phase: PhaseRunning,
				WaitingDeadline: time.Now().Add(-time.Second),
			},
			wantCode: CodeRoundNotAccepting,
		},
		{
			name: "Waiting deadline passed",
			req:  BetRequest{UserID: "u1", Amount: 10},
			snapshot: &RoundSnapshot{
				RoundID: "r1", Phase: PhaseWaiting,
				WaitingDeadline: time.Now().Add(-time.Millisecond),
			},
			wantCode: CodeRoundNotAccepting,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.snapshot != nil {
				m.publish(tt.snapshot)
			}
			resp := m.PlaceWager(ctx, tt.req)
			if resp.Success {
				t.Fatal("PlaceWager() accepted an invalid bet")
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %v, want %v", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestManager_CashoutRejections(t *testing.T) {
	m := NewManager(NewHub(), nil, nil, nil)
	ctx := context.Background()

	t.Run("No round open", func(t *testing.T) {
		resp := m.Cashout(ctx, CashoutRequest{UserID: "u1", WagerID: "w1"})
		if resp.Success || resp.Code != CodeRoundNotAccepting {
			t.Errorf("code = %v, want %v", resp.Code, CodeRoundNotAccepting)
		}
	})

	t.Run("Round still waiting", func(t *testing.T) {
		m.publish(&RoundSnapshot{
			RoundID: "r1", Phase: PhaseWaiting,
			WaitingDeadline: time.Now().Add(time.Second),
		})
		resp := m.Cashout(ctx, CashoutRequest{UserID: "u1", WagerID: "w1"})
		if resp.Success || resp.Code != CodeRoundNotAccepting {
			t.Errorf("code = %v, want %v", resp.Code, CodeRoundNotAccepting)
		}
	})

	t.Run("Round resolved", func(t *testing.T) {
		m.publish(&RoundSnapshot{
			RoundID: "r1", Phase: PhaseResolved,
			ResolveAt: time.Now().Add(-time.Second),
		})
		resp := m.Cashout(ctx, CashoutRequest{UserID: "u1", WagerID: "w1"})
		if resp.Success || resp.Code != CodeCashoutTooLate {
			t.Errorf("code = %v, want %v", resp.Code, CodeCashoutTooLate)
		}
	})

	// A request received at or after the resolution instant loses even
	// while the snapshot still says RUNNING; the tie goes to the house.
	t.Run("Received after resolution instant", func(t *testing.T) {
		m.publish(&RoundSnapshot{
			RoundID: "r1", Phase: PhaseRunning,
			RunningStartedAt: time.Now().Add(-10 * time.Second),
			ResolveAt:        time.Now().Add(-time.Millisecond),
		})
		resp := m.Cashout(ctx, CashoutRequest{UserID: "u1", WagerID: "w1"})
		if resp.Success || resp.Code != CodeCashoutTooLate {
			t.Errorf("code = %v, want %v", resp.Code, CodeCashoutTooLate)
		}
	})
}

func TestPhaseOf(t *testing.T) {
	if got := phaseOf(nil); got != "" {
		t.Errorf("phaseOf(nil) = %q, want empty", got)
	}
	if got := phaseOf(&RoundSnapshot{Phase: PhaseRunning}); got != PhaseRunning {
		t.Errorf("phaseOf() = %v, want RUNNING", got)
	}
}

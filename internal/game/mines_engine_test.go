package game

import (
	"encoding/json"
	"strings"
	"testing"

	"crashpit/internal/fair"
)

func TestMinePositions_Deterministic(t *testing.T) {
	seed := fair.GenerateSeed()

	first := MinePositions(fair.NewStream(seed, "client", 3), 5)
	second := MinePositions(fair.NewStream(seed, "client", 3), 5)

	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("position %d differs: %d vs %d", i, first[i], second[i])
		}
	}
}

func TestMinePositions_UniqueAndInRange(t *testing.T) {
	seed := fair.GenerateSeed()

	for _, count := range []int{1, 3, 5, 10, 24} {
		positions := MinePositions(fair.NewStream(seed, "client", count), count)

		if len(positions) != count {
			t.Fatalf("got %d positions, want %d", len(positions), count)
		}

		seen := make(map[int]bool)
		for _, p := range positions {
			if p < 0 || p >= MINES_GRID_SIZE {
				t.Errorf("position %d outside grid", p)
			}
			if seen[p] {
				t.Errorf("duplicate position %d", p)
			}
			seen[p] = true
		}
	}
}

func TestMinesMultiplier_PayoutTable(t *testing.T) {
	tests := []struct {
		name      string
		mineCount int
		revealed  int
		want      float64
	}{
		{"No reveals", 1, 0, 1.00},
		{"1 mine, first reveal", 1, 1, 1.03},
		{"1 mine, full clear", 1, 24, 24.80},
		{"24 mines, single safe cell", 24, 1, 24.80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MinesMultiplier(tt.mineCount, tt.revealed); got != tt.want {
				t.Errorf("MinesMultiplier(%d, %d) = %v, want %v",
					tt.mineCount, tt.revealed, got, tt.want)
			}
		})
	}
}

func TestMinesMultiplier_MonotonicInReveals(t *testing.T) {
	for mines := MINES_MIN_COUNT; mines <= MINES_MAX_COUNT; mines++ {
		safe := MINES_GRID_SIZE - mines
		prev := 0.0
		for revealed := 1; revealed <= safe; revealed++ {
			m := MinesMultiplier(mines, revealed)
			if m <= prev {
				t.Fatalf("MinesMultiplier(%d, %d) = %v not above previous %v",
					mines, revealed, m, prev)
			}
			prev = m
		}
	}
}

func TestMinesMultiplier_SteeperWithMoreMines(t *testing.T) {
	// At a fixed reveal count, more mines must always pay more.
	for revealed := 1; revealed <= 5; revealed++ {
		prev := 0.0
		for mines := MINES_MIN_COUNT; mines <= 20; mines++ {
			m := MinesMultiplier(mines, revealed)
			if m <= prev {
				t.Fatalf("MinesMultiplier(%d, %d) = %v not above %d-mine value %v",
					mines, revealed, m, mines-1, prev)
			}
			prev = m
		}
	}
}

func TestMinesMultiplier_Capped(t *testing.T) {
	// 24 mines leaves one safe cell; anything beyond the cap clamps.
	if m := MinesMultiplier(24, 1); m > MINES_MAX_MULTIPLIER {
		t.Errorf("MinesMultiplier exceeded cap: %v", m)
	}
}

// Click and cashout responses must never carry a server seed field:
// the per-user pair stays live across plays, so any seed on the wire
// would make every future layout predictable.
func TestMinesResponses_NoSeedOnWire(t *testing.T) {
	bust, err := json.Marshal(MinesClickResponse{
		Success:    true,
		IsMine:     true,
		GameStatus: "BUSTED",
		Commitment: "deadbeef",
		Mines:      []int{3, 7, 11},
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(bust), "server_seed") {
		t.Error("bust response carries a server_seed field")
	}
	if !strings.Contains(string(bust), "commitment") {
		t.Error("bust response missing the commitment")
	}

	cashed, err := json.Marshal(MinesCashoutResponse{
		Success:    true,
		Payout:     18.00,
		Commitment: "deadbeef",
		Mines:      []int{3, 7, 11},
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(cashed), "server_seed") {
		t.Error("cashout response carries a server_seed field")
	}
}

func TestMinesEngine_GetType(t *testing.T) {
	engine := NewMinesEngine(nil, nil, nil)
	if engine.GetType() != GameTypeMines {
		t.Errorf("GetType() = %v, want %v", engine.GetType(), GameTypeMines)
	}
}

func BenchmarkMinesMultiplier(b *testing.B) {
	for i := 0; i < b.N; i++ {
		MinesMultiplier(5, 10)
	}
}

func BenchmarkMinePositions(b *testing.B) {
	seed := fair.GenerateSeed()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		MinePositions(fair.NewStream(seed, "client", i), 5)
	}
}

package game

import (
	"testing"

	"crashpit/internal/fair"
)

func TestDiceRoll_Deterministic(t *testing.T) {
	seed := fair.GenerateSeed()

	first := DiceRoll(fair.NewStream(seed, "client", 5))
	second := DiceRoll(fair.NewStream(seed, "client", 5))

	if first != second {
		t.Errorf("DiceRoll() not deterministic: %v != %v", first, second)
	}
}

func TestDiceRoll_Range(t *testing.T) {
	seed := fair.GenerateSeed()

	for nonce := 1; nonce <= 1000; nonce++ {
		roll := DiceRoll(fair.NewStream(seed, "client", nonce))
		if roll < 0 || roll >= 100 {
			t.Fatalf("DiceRoll() = %v outside [0, 100)", roll)
		}
	}
}

func TestDiceMultiplier(t *testing.T) {
	tests := []struct {
		name   string
		target float64
		isOver bool
		want   float64
	}{
		{"Under 50", 50.0, false, 1.98},
		{"Over 50", 50.0, true, 1.98},
		{"Under 25", 25.0, false, 3.96},
		{"Over 75", 75.0, true, 3.96},
		{"Under 99", 99.0, false, 1.00},
		{"Under 2", 2.0, false, 49.50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DiceMultiplier(tt.target, tt.isOver); got != tt.want {
				t.Errorf("DiceMultiplier(%v, %v) = %v, want %v",
					tt.target, tt.isOver, got, tt.want)
			}
		})
	}
}

func TestDiceMultiplier_ZeroChance(t *testing.T) {
	if m := DiceMultiplier(100.0, true); m != 0 {
		t.Errorf("DiceMultiplier with no win chance = %v, want 0", m)
	}
}

func TestDiceEngine_GetType(t *testing.T) {
	engine := NewDiceEngine(nil, nil, nil)
	if engine.GetType() != GameTypeDice {
		t.Errorf("GetType() = %v, want %v", engine.GetType(), GameTypeDice)
	}
}

func BenchmarkDiceRoll(b *testing.B) {
	seed := fair.GenerateSeed()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		DiceRoll(fair.NewStream(seed, "client", i))
	}
}

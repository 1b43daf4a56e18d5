package game

import (
	"math"
	"testing"
	"time"

	"crashpit/internal/fair"
)

func TestCrashPoint_Deterministic(t *testing.T) {
	seed := "a1b2c3d4e5f6a7b8a1b2c3d4e5f6a7b8a1b2c3d4e5f6a7b8a1b2c3d4e5f6a7b8"

	first := CrashPoint(fair.NewStream(seed, "client", 42))
	second := CrashPoint(fair.NewStream(seed, "client", 42))

	if first != second {
		t.Errorf("CrashPoint() not deterministic: %v != %v", first, second)
	}
}

func TestCrashPoint_Range(t *testing.T) {
	seed := fair.GenerateSeed()

	for nonce := 1; nonce <= 1000; nonce++ {
		cp := CrashPoint(fair.NewStream(seed, "client", nonce))

		if cp < MIN_MULTIPLIER {
			t.Fatalf("CrashPoint() = %v below MIN_MULTIPLIER at nonce %d", cp, nonce)
		}
		if cp > MAX_MULTIPLIER {
			t.Fatalf("CrashPoint() = %v above MAX_MULTIPLIER at nonce %d", cp, nonce)
		}

		// Two decimal places only
		scaled := cp * 100
		if math.Abs(scaled-math.Round(scaled)) > 1e-6 {
			t.Fatalf("CrashPoint() = %v has more than 2 decimal places", cp)
		}
	}
}

func TestCrashPoint_DifferentNonces(t *testing.T) {
	seed := fair.GenerateSeed()

	seen := make(map[float64]int)
	for nonce := 1; nonce <= 100; nonce++ {
		seen[CrashPoint(fair.NewStream(seed, "client", nonce))]++
	}

	// 100 rounds collapsing to a handful of values would mean the nonce
	// is not feeding the derivation.
	if len(seen) < 20 {
		t.Errorf("only %d distinct crash points across 100 nonces", len(seen))
	}
}

func TestMultiplierAt(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    float64
	}{
		{"at start", 0, 1.00},
		{"one second", 1 * time.Second, math.Floor(math.Exp(GROWTH_RATE)*100) / 100},
		{"ten seconds", 10 * time.Second, math.Floor(math.Exp(GROWTH_RATE*10)*100) / 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MultiplierAt(tt.elapsed); got != tt.want {
				t.Errorf("MultiplierAt(%v) = %v, want %v", tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestMultiplierAt_Monotonic(t *testing.T) {
	prev := 0.0
	for s := 0; s <= 60; s++ {
		m := MultiplierAt(time.Duration(s) * time.Second)
		if m < prev {
			t.Fatalf("multiplier decreased: %v after %v at %ds", m, prev, s)
		}
		prev = m
	}
}

// The resolution instant must follow exactly from the crash point so
// that it can be fixed once when the round starts running.
func TestRunDuration_InvertsCurve(t *testing.T) {
	for _, cp := range []float64{1.01, 1.5, 2.0, 4.2, 10.0, 100.0} {
		d := RunDuration(cp)

		// Just before the resolution instant the displayed multiplier
		// must still be at or below the crash point.
		before := MultiplierAt(d - time.Millisecond)
		if before > cp {
			t.Errorf("multiplier %v exceeds crash point %v before resolution", before, cp)
		}

		// At the resolution instant the raw curve reaches the crash point.
		atRaw := math.Exp(GROWTH_RATE * d.Seconds())
		if math.Abs(atRaw-cp) > 0.001 {
			t.Errorf("curve at RunDuration(%v) = %v, want ~%v", cp, atRaw, cp)
		}
	}
}

func TestRunDuration_InstantCrash(t *testing.T) {
	if d := RunDuration(MIN_MULTIPLIER); d != 0 {
		t.Errorf("RunDuration(%v) = %v, want 0", MIN_MULTIPLIER, d)
	}
}

func TestVerifyCrashRound(t *testing.T) {
	serverSeed, commitment := fair.Commit()
	clientSeed := "player-entropy"
	nonce := 7

	outcome := CrashPoint(fair.NewStream(serverSeed, clientSeed, nonce))

	t.Run("Valid reveal", func(t *testing.T) {
		if !VerifyCrashRound(serverSeed, commitment, clientSeed, nonce, outcome) {
			t.Error("VerifyCrashRound() = false for honest reveal")
		}
	})

	t.Run("Tampered seed", func(t *testing.T) {
		other := fair.GenerateSeed()
		if VerifyCrashRound(other, commitment, clientSeed, nonce, outcome) {
			t.Error("VerifyCrashRound() = true for a seed that does not match the commitment")
		}
	})

	t.Run("Tampered outcome", func(t *testing.T) {
		if VerifyCrashRound(serverSeed, commitment, clientSeed, nonce, outcome+1.0) {
			t.Error("VerifyCrashRound() = true for a steered outcome")
		}
	})

	t.Run("Wrong nonce", func(t *testing.T) {
		wrongOutcome := CrashPoint(fair.NewStream(serverSeed, clientSeed, nonce+1))
		if wrongOutcome != outcome && VerifyCrashRound(serverSeed, commitment, clientSeed, nonce, wrongOutcome) {
			t.Error("VerifyCrashRound() = true for outcome derived with a different nonce")
		}
	})
}

// A wager of 10.00 cashed out at 1.80x pays exactly 18.00; the payout
// math itself lives in the ledger, but the displayed multiplier the
// player locks must be exactly representable at 2 decimal places.
func TestMultiplierAt_TwoDecimalPlaces(t *testing.T) {
	for ms := 0; ms < 5000; ms += 100 {
		m := MultiplierAt(time.Duration(ms) * time.Millisecond)
		scaled := m * 100
		if math.Abs(scaled-math.Round(scaled)) > 1e-6 {
			t.Fatalf("MultiplierAt(%dms) = %v not truncated to 2dp", ms, m)
		}
	}
}

func BenchmarkCrashPoint(b *testing.B) {
	seed := fair.GenerateSeed()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CrashPoint(fair.NewStream(seed, "client", i))
	}
}

func BenchmarkMultiplierAt(b *testing.B) {
	for i := 0; i < b.N; i++ {
		MultiplierAt(3 * time.Second)
	}
}

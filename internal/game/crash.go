package game

import (
	"math"
	"time"

	"crashpit/internal/fair"
)

const (
	MIN_MULTIPLIER = 1.00
	MAX_MULTIPLIER = 1000000.00
	HOUSE_EDGE     = 0.01 // 1% instant-crash cut

	// GROWTH_RATE drives the displayed curve m(t) = e^(rate*t). The
	// exponential is exactly invertible, so the resolution instant is
	// fixed the moment the round starts running and never depends on
	// tick sampling.
	GROWTH_RATE = 0.10 // per second
)

// CrashPoint maps the first stream draw to a crash multiplier via an
// inverse-exponential curve biased toward low multipliers. Computed
// once at round open, only revealed progressively.
func CrashPoint(stream *fair.Stream) float64 {
	r := stream.Float64()

	if r < HOUSE_EDGE {
		return MIN_MULTIPLIER
	}

	crashValue := (1.0 - HOUSE_EDGE) / (1.0 - r)

	// Truncate to 2 decimal places
	finalMultiplier := math.Floor(crashValue*100) / 100.0

	if finalMultiplier < MIN_MULTIPLIER {
		return MIN_MULTIPLIER
	}
	if finalMultiplier > MAX_MULTIPLIER {
		return MAX_MULTIPLIER
	}

	return finalMultiplier
}

// MultiplierAt computes the displayed multiplier after the given time
// in the RUNNING phase.
func MultiplierAt(elapsed time.Duration) float64 {
	mult := math.Exp(GROWTH_RATE * elapsed.Seconds())
	return math.Floor(mult*100) / 100.0
}

// RunDuration inverts the displayed curve: how long the round runs
// before the displayed multiplier reaches the crash point.
func RunDuration(crashPoint float64) time.Duration {
	if crashPoint <= MIN_MULTIPLIER {
		return 0
	}
	seconds := math.Log(crashPoint) / GROWTH_RATE
	return time.Duration(seconds * float64(time.Second))
}

// VerifyCrashRound recomputes both the commitment hash and the crash
// point from the revealed seed, and checks both against what the round
// published. Anyone can run this after reveal.
func VerifyCrashRound(serverSeed, commitment, clientSeed string, nonce int, claimedOutcome float64) bool {
	if !fair.VerifyCommitment(serverSeed, commitment) {
		return false
	}

	calculated := CrashPoint(fair.NewStream(serverSeed, clientSeed, nonce))

	// Allow small floating point differences
	return math.Abs(calculated-claimedOutcome) < 0.01
}

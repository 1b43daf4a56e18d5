package game

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// The live snapshot must never leak the server seed, the crash point or
// the resolution instant before the reveal.
func TestRoundSnapshot_HiddenFields(t *testing.T) {
	snap := RoundSnapshot{
		RoundID:           "round-1",
		Phase:             PhaseRunning,
		Commitment:        "abc123",
		ClientSeed:        "client",
		Nonce:             1,
		CurrentMultiplier: 1.42,
		OpenedAt:          time.Now(),
		ServerSeed:        "super-secret-seed",
		CrashPoint:        7.77,
		ResolveAt:         time.Now().Add(10 * time.Second),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	body := string(data)
	if strings.Contains(body, "super-secret-seed") {
		t.Error("serialized snapshot leaks the server seed")
	}
	if strings.Contains(body, "7.77") {
		t.Error("serialized snapshot leaks the crash point")
	}
	if strings.Contains(body, "resolve_at") {
		t.Error("serialized snapshot leaks the resolution instant")
	}

	if !strings.Contains(body, "abc123") {
		t.Error("serialized snapshot missing the commitment")
	}
	if !strings.Contains(body, "1.42") {
		t.Error("serialized snapshot missing the displayed multiplier")
	}
}

func TestBetResponse_OmitsEmptyCode(t *testing.T) {
	resp := BetResponse{Success: true, Message: "ok", Phase: PhaseWaiting}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(data), "\"code\"") {
		t.Error("successful response carries an error code field")
	}
}

func TestWSMessage_RoundTrip(t *testing.T) {
	msg := WSMessage{
		Type: "round.opened",
		Data: RoundOpenedEvent{RoundID: "r1", ServerSeedHash: "h", Nonce: 3},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["type"] != "round.opened" {
		t.Errorf("type = %v, want round.opened", decoded["type"])
	}
}

package game

import (
	"time"
)

type RoundPhase string

const (
	PhaseWaiting  RoundPhase = "WAITING"
	PhaseRunning  RoundPhase = "RUNNING"
	PhaseResolved RoundPhase = "RESOLVED"
)

// RoundSnapshot is an immutable per-tick view of the active round.
// The round loop is the only writer; request handlers load the latest
// snapshot through Manager.Snapshot and never mutate it.
type RoundSnapshot struct {
	RoundID           string     `json:"round_id"`
	Phase             RoundPhase `json:"phase"`
	Commitment        string     `json:"commitment"`
	ClientSeed        string     `json:"client_seed"`
	Nonce             int        `json:"nonce"`
	CurrentMultiplier float64    `json:"current_multiplier"`
	OpenedAt          time.Time  `json:"opened_at"`
	WaitingDeadline   time.Time  `json:"waiting_deadline"`
	RunningStartedAt  time.Time  `json:"running_started_at,omitempty"`
	ResolvedAt        time.Time  `json:"resolved_at,omitempty"`

	// Hidden until the round resolves; the reveal goes out in the
	// round.resolved event, never through the live snapshot.
	ServerSeed string  `json:"-"`
	CrashPoint float64 `json:"-"`
	// ResolveAt is the internal resolution instant, fixed when the
	// round starts running. Compared against server receive time only.
	ResolveAt time.Time `json:"-"`
}

type BetRequest struct {
	UserID      string  `json:"user_id"`
	TokenID     string  `json:"token_id"`
	Amount      float64 `json:"amount"`
	AutoCashout float64 `json:"auto_cashout,omitempty"`
}

type BetResponse struct {
	Success bool       `json:"success"`
	Code    string     `json:"code,omitempty"`
	Message string     `json:"message"`
	Phase   RoundPhase `json:"phase,omitempty"`
	WagerID string     `json:"wager_id,omitempty"`
	RoundID string     `json:"round_id,omitempty"`
	Balance float64    `json:"balance,omitempty"`
}

type CashoutRequest struct {
	UserID  string `json:"user_id"`
	WagerID string `json:"wager_id"`
}

type CashoutResponse struct {
	Success    bool       `json:"success"`
	Code       string     `json:"code,omitempty"`
	Message    string     `json:"message"`
	Phase      RoundPhase `json:"phase,omitempty"`
	Multiplier float64    `json:"multiplier,omitempty"`
	Payout     float64    `json:"payout,omitempty"`
}

// Push-channel event payloads.

type RoundOpenedEvent struct {
	RoundID         string    `json:"round_id"`
	ServerSeedHash  string    `json:"server_seed_hash"`
	ClientSeed      string    `json:"client_seed"`
	Nonce           int       `json:"nonce"`
	WaitingDeadline time.Time `json:"waiting_deadline"`
}

type RoundTickEvent struct {
	RoundID             string  `json:"round_id"`
	DisplayedMultiplier float64 `json:"displayed_multiplier"`
}

type RoundResolvedEvent struct {
	RoundID      string  `json:"round_id"`
	Outcome      float64 `json:"outcome"`
	RevealedSeed string  `json:"revealed_seed"`
	ClientSeed   string  `json:"client_seed"`
	Nonce        int     `json:"nonce"`
}

type WagerAcceptedEvent struct {
	WagerID string  `json:"wager_id"`
	RoundID string  `json:"round_id"`
	UserID  string  `json:"user_id"`
	Amount  float64 `json:"amount"`
}

type WagerCashedOutEvent struct {
	WagerID        string  `json:"wager_id"`
	UserID         string  `json:"user_id"`
	ExitMultiplier float64 `json:"exit_multiplier"`
	Payout         float64 `json:"payout"`
}

type WagerLostEvent struct {
	WagerID string `json:"wager_id"`
	UserID  string `json:"user_id"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

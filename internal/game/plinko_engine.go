package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"crashpit/internal/fair"
	"crashpit/internal/ledger"
)

const (
	REDIS_KEY_PLINKO_GAME = "plinko:game:"
	PLINKO_DEFAULT_ROWS   = 16
)

// PlinkoRisk represents the risk level
type PlinkoRisk string

const (
	PlinkoRiskLow    PlinkoRisk = "low"
	PlinkoRiskMedium PlinkoRisk = "medium"
	PlinkoRiskHigh   PlinkoRisk = "high"
)

// Fixed symmetric payout tables indexed by landing slot (16 rows).
var plinkoMultipliers = map[PlinkoRisk][]float64{
	PlinkoRiskLow: {
		16.0, 9.0, 2.0, 1.4, 1.4, 1.2, 1.1, 1.0,
		0.5, 1.0, 1.1, 1.2, 1.4, 1.4, 2.0, 9.0, 16.0,
	},
	PlinkoRiskMedium: {
		110.0, 41.0, 10.0, 5.0, 3.0, 1.5, 1.0, 0.5,
		0.3, 0.5, 1.0, 1.5, 3.0, 5.0, 10.0, 41.0, 110.0,
	},
	PlinkoRiskHigh: {
		1000.0, 130.0, 26.0, 9.0, 4.0, 2.0, 0.2, 0.2,
		0.2, 0.2, 0.2, 2.0, 4.0, 9.0, 26.0, 130.0, 1000.0,
	},
}

// PlinkoPath draws one left/right decision per row from the fair
// stream. The terminal slot is the count of rights, which makes the
// landing distribution binomial.
func PlinkoPath(stream *fair.Stream, rows int) (path []int, landingSlot int) {
	path = make([]int, rows)
	for i := 0; i < rows; i++ {
		direction := stream.Intn(2)
		path[i] = direction
		if direction == 1 {
			landingSlot++
		}
	}
	return path, landingSlot
}

// PlinkoMultiplier returns the payout multiplier for a landing slot.
func PlinkoMultiplier(risk PlinkoRisk, landingSlot, rows int) float64 {
	multipliers, exists := plinkoMultipliers[risk]
	if !exists {
		return 1.0
	}

	// Scale multipliers based on rows (16 rows is the base)
	scaleFactor := float64(rows) / float64(PLINKO_DEFAULT_ROWS)

	if landingSlot < 0 {
		landingSlot = 0
	}
	if landingSlot >= len(multipliers) {
		landingSlot = len(multipliers) - 1
	}

	baseMultiplier := multipliers[landingSlot]

	if rows < PLINKO_DEFAULT_ROWS {
		// Fewer rows compress the extremes
		if baseMultiplier > 10.0 {
			baseMultiplier = 10.0 + (baseMultiplier-10.0)*scaleFactor
		}
	}

	return baseMultiplier
}

// PlinkoGameState represents a completed Plinko game
type PlinkoGameState struct {
	GameID      string     `json:"game_id"`
	WagerID     string     `json:"wager_id"`
	UserID      string     `json:"user_id"`
	TokenID     string     `json:"token_id"`
	BetAmount   float64    `json:"bet_amount"`
	Risk        PlinkoRisk `json:"risk"`
	Rows        int        `json:"rows"`
	Commitment  string     `json:"commitment"`
	ClientSeed  string     `json:"client_seed"`
	Nonce       int        `json:"nonce"`
	Path        []int      `json:"path"` // 0 = left, 1 = right
	LandingSlot int        `json:"landing_slot"`
	Multiplier  float64    `json:"multiplier"`
	Payout      float64    `json:"payout"`
	CreatedAt   time.Time  `json:"created_at"`
}

type PlinkoDropRequest struct {
	UserID  string     `json:"user_id"`
	TokenID string     `json:"token_id"`
	Amount  float64    `json:"amount"`
	Risk    PlinkoRisk `json:"risk"`
	Rows    int        `json:"rows"`
}

type PlinkoDropResponse struct {
	Success     bool    `json:"success"`
	Code        string  `json:"code,omitempty"`
	Message     string  `json:"message"`
	GameID      string  `json:"game_id,omitempty"`
	Path        []int   `json:"path,omitempty"`
	LandingSlot int     `json:"landing_slot"`
	Multiplier  float64 `json:"multiplier,omitempty"`
	Payout      float64 `json:"payout,omitempty"`
	Balance     float64 `json:"balance,omitempty"`
	Commitment  string  `json:"commitment,omitempty"`
	ClientSeed  string  `json:"client_seed,omitempty"`
	Nonce       int     `json:"nonce,omitempty"`
}

// PlinkoEngine implements the GameEngine interface for Plinko
type PlinkoEngine struct {
	redisClient *redis.Client
	ledger      *ledger.Service
	seeds       *SeedStore
	ctx         context.Context
}

func NewPlinkoEngine(redisClient *redis.Client, ledgerSvc *ledger.Service, seeds *SeedStore) *PlinkoEngine {
	return &PlinkoEngine{
		redisClient: redisClient,
		ledger:      ledgerSvc,
		seeds:       seeds,
		ctx:         context.Background(),
	}
}

func (p *PlinkoEngine) GetType() GameType {
	return GameTypePlinko
}

func (p *PlinkoEngine) Start(ctx context.Context) error {
	p.ctx = ctx
	log.Println("[PLINKO] Engine started")
	return nil
}

func (p *PlinkoEngine) Stop() error {
	log.Println("[PLINKO] Engine stopped")
	return nil
}

func (p *PlinkoEngine) GetState() interface{} {
	return map[string]string{"status": "ready"}
}

// PlaceBet handles a ball drop (instant result): debit, derive the
// path from the player's committed seed pair, credit the payout.
func (p *PlinkoEngine) PlaceBet(ctx context.Context, req interface{}) (interface{}, error) {
	dropReq, ok := req.(PlinkoDropRequest)
	if !ok {
		return nil, errors.New("invalid request type")
	}

	if dropReq.Amount < MIN_BET_AMOUNT || dropReq.Amount > MAX_BET_AMOUNT {
		return PlinkoDropResponse{
			Code:    CodeInvalidRequest,
			Message: fmt.Sprintf("Bet must be between %.2f and %.2f", MIN_BET_AMOUNT, MAX_BET_AMOUNT),
		}, nil
	}

	if dropReq.Rows != 8 && dropReq.Rows != 12 && dropReq.Rows != 16 {
		return PlinkoDropResponse{
			Code:    CodeInvalidRequest,
			Message: "Rows must be 8, 12, or 16",
		}, nil
	}

	if dropReq.Risk != PlinkoRiskLow && dropReq.Risk != PlinkoRiskMedium && dropReq.Risk != PlinkoRiskHigh {
		return PlinkoDropResponse{
			Code:    CodeInvalidRequest,
			Message: "Risk must be low, medium, or high",
		}, nil
	}
	if dropReq.TokenID == "" {
		dropReq.TokenID = DEFAULT_TOKEN
	}

	pair, err := p.seeds.NextNonce(ctx, dropReq.UserID)
	if err != nil {
		return PlinkoDropResponse{
			Code:    CodeLedgerUnavailable,
			Message: "Fairness seeds unavailable",
		}, nil
	}

	gameID := uuid.NewString()
	w := &ledger.Wager{
		ID:      uuid.NewString(),
		RoundID: gameID,
		UserID:  dropReq.UserID,
		TokenID: dropReq.TokenID,
		Stake:   dropReq.Amount,
	}
	if err := p.ledger.PlaceWager(ctx, w); err != nil {
		code, msg := classifyLedgerError(err)
		return PlinkoDropResponse{Code: code, Message: msg}, nil
	}

	stream := fair.NewStream(pair.ServerSeed, pair.ClientSeed, pair.Nonce)
	path, landingSlot := PlinkoPath(stream, dropReq.Rows)
	multiplier := PlinkoMultiplier(dropReq.Risk, landingSlot, dropReq.Rows)

	payout, err := p.ledger.CashOut(ctx, w.ID, dropReq.UserID, gameID, multiplier)
	if err != nil {
		// Wager is flagged for reconciliation; the player gets paid
		// once the credit replays.
		code, msg := classifyLedgerError(err)
		return PlinkoDropResponse{Code: code, Message: msg}, nil
	}

	gameState := PlinkoGameState{
		GameID:      gameID,
		WagerID:     w.ID,
		UserID:      dropReq.UserID,
		TokenID:     dropReq.TokenID,
		BetAmount:   dropReq.Amount,
		Risk:        dropReq.Risk,
		Rows:        dropReq.Rows,
		Commitment:  pair.Commitment(),
		ClientSeed:  stream.ClientSeed(),
		Nonce:       pair.Nonce,
		Path:        path,
		LandingSlot: landingSlot,
		Multiplier:  multiplier,
		Payout:      payout,
		CreatedAt:   time.Now(),
	}

	gameJSON, _ := json.Marshal(gameState)
	if err := p.redisClient.Set(ctx, REDIS_KEY_PLINKO_GAME+gameID, gameJSON, 1*time.Hour).Err(); err != nil {
		log.Printf("[PLINKO] Failed to store game %s: %v", gameID, err)
	}

	balance, _ := p.ledger.Balance(ctx, dropReq.UserID, dropReq.TokenID)

	log.Printf("[PLINKO] User %s dropped ball, landed at slot %d, multiplier %.2fx, payout %.2f",
		dropReq.UserID, landingSlot, multiplier, payout)

	return PlinkoDropResponse{
		Success:     true,
		Message:     "Ball dropped successfully",
		GameID:      gameID,
		Path:        path,
		LandingSlot: landingSlot,
		Multiplier:  multiplier,
		Payout:      payout,
		Balance:     balance,
		Commitment:  gameState.Commitment,
		ClientSeed:  gameState.ClientSeed,
		Nonce:       pair.Nonce,
	}, nil
}

// ProcessAction handles game-specific actions (not applicable for Plinko)
func (p *PlinkoEngine) ProcessAction(ctx context.Context, action string, req interface{}) (interface{}, error) {
	return nil, errors.New("no actions available for Plinko")
}

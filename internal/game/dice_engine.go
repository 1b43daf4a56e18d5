package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"crashpit/internal/fair"
	"crashpit/internal/ledger"
)

const (
	REDIS_KEY_DICE_GAME = "dice:game:"
	DICE_MIN_TARGET     = 1.00
	DICE_MAX_TARGET     = 99.00
	DICE_HOUSE_FACTOR   = 0.99
)

// DiceRoll maps one stream draw to a roll in [0, 100).
func DiceRoll(stream *fair.Stream) float64 {
	return math.Floor(stream.Float64()*10000) / 100.0
}

// DiceMultiplier pays inversely to the win chance with a 1% house cut.
func DiceMultiplier(target float64, isOver bool) float64 {
	winChance := target
	if isOver {
		winChance = 100.0 - target
	}
	if winChance <= 0 {
		return 0
	}
	return math.Floor((100.0/winChance)*DICE_HOUSE_FACTOR*100) / 100.0
}

type DiceGameState struct {
	GameID     string    `json:"game_id"`
	WagerID    string    `json:"wager_id"`
	UserID     string    `json:"user_id"`
	TokenID    string    `json:"token_id"`
	BetAmount  float64   `json:"bet_amount"`
	Target     float64   `json:"target"`
	IsOver     bool      `json:"is_over"` // true = roll over, false = roll under
	Commitment string    `json:"commitment"`
	ClientSeed string    `json:"client_seed"`
	Nonce      int       `json:"nonce"`
	RollResult float64   `json:"roll_result"`
	Win        bool      `json:"win"`
	Multiplier float64   `json:"multiplier"`
	Payout     float64   `json:"payout"`
	CreatedAt  time.Time `json:"created_at"`
}

type DiceRollRequest struct {
	UserID  string  `json:"user_id"`
	TokenID string  `json:"token_id"`
	Amount  float64 `json:"amount"`
	Target  float64 `json:"target"`
	IsOver  bool    `json:"is_over"`
}

type DiceRollResponse struct {
	Success    bool    `json:"success"`
	Code       string  `json:"code,omitempty"`
	Message    string  `json:"message"`
	GameID     string  `json:"game_id,omitempty"`
	RollResult float64 `json:"roll_result"`
	Win        bool    `json:"win"`
	Multiplier float64 `json:"multiplier,omitempty"`
	Payout     float64 `json:"payout,omitempty"`
	Balance    float64 `json:"balance,omitempty"`
	Commitment string  `json:"commitment,omitempty"`
	ClientSeed string  `json:"client_seed,omitempty"`
	Nonce      int     `json:"nonce,omitempty"`
}

// DiceEngine implements the GameEngine interface for Dice
type DiceEngine struct {
	redisClient *redis.Client
	ledger      *ledger.Service
	seeds       *SeedStore
	ctx         context.Context
}

func NewDiceEngine(redisClient *redis.Client, ledgerSvc *ledger.Service, seeds *SeedStore) *DiceEngine {
	return &DiceEngine{
		redisClient: redisClient,
		ledger:      ledgerSvc,
		seeds:       seeds,
		ctx:         context.Background(),
	}
}

func (d *DiceEngine) GetType() GameType {
	return GameTypeDice
}

func (d *DiceEngine) Start(ctx context.Context) error {
	d.ctx = ctx
	log.Println("[DICE] Engine started")
	return nil
}

func (d *DiceEngine) Stop() error {
	log.Println("[DICE] Engine stopped")
	return nil
}

func (d *DiceEngine) GetState() interface{} {
	return map[string]string{"status": "ready"}
}

// PlaceBet handles a dice roll (instant result)
func (d *DiceEngine) PlaceBet(ctx context.Context, req interface{}) (interface{}, error) {
	rollReq, ok := req.(DiceRollRequest)
	if !ok {
		return nil, errors.New("invalid request type")
	}

	if rollReq.Amount < MIN_BET_AMOUNT || rollReq.Amount > MAX_BET_AMOUNT {
		return DiceRollResponse{
			Code:    CodeInvalidRequest,
			Message: fmt.Sprintf("Bet must be between %.2f and %.2f", MIN_BET_AMOUNT, MAX_BET_AMOUNT),
		}, nil
	}

	if rollReq.Target < DICE_MIN_TARGET || rollReq.Target > DICE_MAX_TARGET {
		return DiceRollResponse{
			Code:    CodeInvalidRequest,
			Message: fmt.Sprintf("Target must be between %.2f and %.2f", DICE_MIN_TARGET, DICE_MAX_TARGET),
		}, nil
	}
	if rollReq.TokenID == "" {
		rollReq.TokenID = DEFAULT_TOKEN
	}

	pair, err := d.seeds.NextNonce(ctx, rollReq.UserID)
	if err != nil {
		return DiceRollResponse{
			Code:    CodeLedgerUnavailable,
			Message: "Fairness seeds unavailable",
		}, nil
	}

	gameID := uuid.NewString()
	w := &ledger.Wager{
		ID:      uuid.NewString(),
		RoundID: gameID,
		UserID:  rollReq.UserID,
		TokenID: rollReq.TokenID,
		Stake:   rollReq.Amount,
	}
	if err := d.ledger.PlaceWager(ctx, w); err != nil {
		code, msg := classifyLedgerError(err)
		return DiceRollResponse{Code: code, Message: msg}, nil
	}

	stream := fair.NewStream(pair.ServerSeed, pair.ClientSeed, pair.Nonce)
	roll := DiceRoll(stream)

	win := roll < rollReq.Target
	if rollReq.IsOver {
		win = roll > rollReq.Target
	}

	multiplier := 0.0
	payout := 0.0
	if win {
		multiplier = DiceMultiplier(rollReq.Target, rollReq.IsOver)
		payout, err = d.ledger.CashOut(ctx, w.ID, rollReq.UserID, gameID, multiplier)
		if err != nil {
			code, msg := classifyLedgerError(err)
			return DiceRollResponse{Code: code, Message: msg}, nil
		}
	} else {
		if err := d.ledger.MarkLost(ctx, w.ID); err != nil && !errors.Is(err, ledger.ErrAlreadySettled) {
			log.Printf("[DICE] Failed to settle lost wager %s: %v", w.ID, err)
		}
	}

	gameState := DiceGameState{
		GameID:     gameID,
		WagerID:    w.ID,
		UserID:     rollReq.UserID,
		TokenID:    rollReq.TokenID,
		BetAmount:  rollReq.Amount,
		Target:     rollReq.Target,
		IsOver:     rollReq.IsOver,
		Commitment: pair.Commitment(),
		ClientSeed: stream.ClientSeed(),
		Nonce:      pair.Nonce,
		RollResult: roll,
		Win:        win,
		Multiplier: multiplier,
		Payout:     payout,
		CreatedAt:  time.Now(),
	}

	gameJSON, _ := json.Marshal(gameState)
	if err := d.redisClient.Set(ctx, REDIS_KEY_DICE_GAME+gameID, gameJSON, 1*time.Hour).Err(); err != nil {
		log.Printf("[DICE] Failed to store game %s: %v", gameID, err)
	}

	balance, _ := d.ledger.Balance(ctx, rollReq.UserID, rollReq.TokenID)

	log.Printf("[DICE] User %s rolled %.2f (target %.2f %s), win=%v payout=%.2f",
		rollReq.UserID, roll, rollReq.Target, overUnder(rollReq.IsOver), win, payout)

	return DiceRollResponse{
		Success:    true,
		Message:    "Roll complete",
		GameID:     gameID,
		RollResult: roll,
		Win:        win,
		Multiplier: multiplier,
		Payout:     payout,
		Balance:    balance,
		Commitment: gameState.Commitment,
		ClientSeed: gameState.ClientSeed,
		Nonce:      pair.Nonce,
	}, nil
}

// ProcessAction handles game-specific actions (not applicable for Dice)
func (d *DiceEngine) ProcessAction(ctx context.Context, action string, req interface{}) (interface{}, error) {
	return nil, errors.New("no actions available for Dice")
}

func overUnder(isOver bool) string {
	if isOver {
		return "over"
	}
	return "under"
}

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
	MINES_GRID_SIZE      = 25 // 5x5 grid
	MINES_MIN_COUNT      = 1
	MINES_MAX_COUNT      = 24
	MINES_MAX_MULTIPLIER = 1000000.00

	REDIS_KEY_MINES_GAME = "mines:game:"

	// House factor across a game: 0.990 at the first safe reveal,
	// interpolated linearly up to 0.992 at full clear. The endpoints
	// pin the published payout table (1 mine: 1.03 first reveal,
	// 24.80 at the 24th); the interior follows the interpolation.
	minesEdgeFirst = 0.990
	minesEdgeFull  = 0.992
)

// MinePositions draws mine cells from the fair stream, rejecting
// duplicates, so the layout is fully determined by the seed triple.
func MinePositions(stream *fair.Stream, mineCount int) []int {
	positions := make([]int, 0, mineCount)
	used := make(map[int]bool)

	for i := 0; len(positions) < mineCount && i < 1000; i++ {
		position := stream.Intn(MINES_GRID_SIZE)
		if !used[position] {
			positions = append(positions, position)
			used[position] = true
		}
	}

	return positions
}

// MinesMultiplier is the payout multiplier after revealedCount safe
// cells with mineCount mines on the grid. Monotonically increasing in
// reveals, steeper with more mines, capped at MINES_MAX_MULTIPLIER.
func MinesMultiplier(mineCount, revealedCount int) float64 {
	if revealedCount == 0 {
		return 1.0
	}

	total := float64(MINES_GRID_SIZE)
	safe := MINES_GRID_SIZE - mineCount

	product := 1.0
	for i := 0; i < revealedCount; i++ {
		product *= (total - float64(i)) / (float64(safe) - float64(i))
	}

	edge := minesEdgeFull
	if safe > 1 {
		edge = minesEdgeFirst + (minesEdgeFull-minesEdgeFirst)*float64(revealedCount-1)/float64(safe-1)
	}

	mult := product * edge
	if mult > MINES_MAX_MULTIPLIER {
		mult = MINES_MAX_MULTIPLIER
	}
	return math.Round(mult*100) / 100.0
}

type MinesGameState struct {
	GameID        string    `json:"game_id"`
	WagerID       string    `json:"wager_id"`
	UserID        string    `json:"user_id"`
	TokenID       string    `json:"token_id"`
	BetAmount     float64   `json:"bet_amount"`
	MineCount     int       `json:"mine_count"`
	ServerSeed    string    `json:"-"` // never on the wire; revealed only by seed rotation
	Commitment    string    `json:"commitment"`
	ClientSeed    string    `json:"client_seed"`
	Nonce         int       `json:"nonce"`
	MinePositions []int     `json:"-"` // Hidden until game ends
	RevealedTiles []int     `json:"revealed_tiles"`
	Multiplier    float64   `json:"multiplier"`
	Status        string    `json:"status"` // ACTIVE, CASHED_OUT, BUSTED
	CreatedAt     time.Time `json:"created_at"`
	EndedAt       time.Time `json:"ended_at,omitempty"`
}

type MinesBetRequest struct {
	UserID    string  `json:"user_id"`
	TokenID   string  `json:"token_id"`
	Amount    float64 `json:"amount"`
	MineCount int     `json:"mine_count"`
}

type MinesBetResponse struct {
	Success    bool    `json:"success"`
	Code       string  `json:"code,omitempty"`
	Message    string  `json:"message"`
	GameID     string  `json:"game_id,omitempty"`
	Commitment string  `json:"commitment,omitempty"`
	Balance    float64 `json:"balance,omitempty"`
}

type MinesClickRequest struct {
	UserID string `json:"user_id"`
	GameID string `json:"game_id"`
	TileID int    `json:"tile_id"`
}

// The server seed never appears in click or cashout responses. The
// per-user pair stays live across plays, so disclosing it would let
// the player precompute every future outcome; only SeedStore.Rotate
// reveals it, after retiring it.
type MinesClickResponse struct {
	Success    bool    `json:"success"`
	Code       string  `json:"code,omitempty"`
	Message    string  `json:"message"`
	TileID     int     `json:"tile_id"`
	IsMine     bool    `json:"is_mine"`
	Multiplier float64 `json:"multiplier"`
	GameStatus string  `json:"game_status"`
	Commitment string  `json:"commitment,omitempty"`
	Mines      []int   `json:"mines,omitempty"`
}

type MinesCashoutRequest struct {
	UserID string `json:"user_id"`
	GameID string `json:"game_id"`
}

type MinesCashoutResponse struct {
	Success    bool    `json:"success"`
	Code       string  `json:"code,omitempty"`
	Message    string  `json:"message"`
	Payout     float64 `json:"payout"`
	Balance    float64 `json:"balance"`
	Commitment string  `json:"commitment,omitempty"`
	Mines      []int   `json:"mines,omitempty"`
}

type MinesEngine struct {
	redisClient *redis.Client
	ledger      *ledger.Service
	seeds       *SeedStore
	ctx         context.Context
}

func NewMinesEngine(redisClient *redis.Client, ledgerSvc *ledger.Service, seeds *SeedStore) *MinesEngine {
	return &MinesEngine{
		redisClient: redisClient,
		ledger:      ledgerSvc,
		seeds:       seeds,
		ctx:         context.Background(),
	}
}

func (m *MinesEngine) GetType() GameType {
	return GameTypeMines
}

func (m *MinesEngine) Start(ctx context.Context) error {
	m.ctx = ctx
	log.Println("[MINES] Engine started")
	return nil
}

func (m *MinesEngine) Stop() error {
	log.Println("[MINES] Engine stopped")
	return nil
}

func (m *MinesEngine) GetState() interface{} {
	return map[string]string{"status": "ready"}
}

func (m *MinesEngine) PlaceBet(ctx context.Context, req interface{}) (interface{}, error) {
	betReq, ok := req.(MinesBetRequest)
	if !ok {
		return nil, errors.New("invalid request type")
	}

	if betReq.MineCount < MINES_MIN_COUNT || betReq.MineCount > MINES_MAX_COUNT {
		return MinesBetResponse{
			Code:    CodeInvalidRequest,
			Message: fmt.Sprintf("Mine count must be between %d and %d", MINES_MIN_COUNT, MINES_MAX_COUNT),
		}, nil
	}

	if betReq.Amount < MIN_BET_AMOUNT || betReq.Amount > MAX_BET_AMOUNT {
		return MinesBetResponse{
			Code:    CodeInvalidRequest,
			Message: fmt.Sprintf("Bet must be between %.2f and %.2f", MIN_BET_AMOUNT, MAX_BET_AMOUNT),
		}, nil
	}
	if betReq.TokenID == "" {
		betReq.TokenID = DEFAULT_TOKEN
	}

	pair, err := m.seeds.NextNonce(ctx, betReq.UserID)
	if err != nil {
		return MinesBetResponse{
			Code:    CodeLedgerUnavailable,
			Message: "Fairness seeds unavailable",
		}, nil
	}

	gameID := uuid.NewString()
	w := &ledger.Wager{
		ID:      uuid.NewString(),
		RoundID: gameID,
		UserID:  betReq.UserID,
		TokenID: betReq.TokenID,
		Stake:   betReq.Amount,
	}
	if err := m.ledger.PlaceWager(ctx, w); err != nil {
		code, msg := classifyLedgerError(err)
		return MinesBetResponse{Code: code, Message: msg}, nil
	}

	stream := fair.NewStream(pair.ServerSeed, pair.ClientSeed, pair.Nonce)
	gameState := MinesGameState{
		GameID:        gameID,
		WagerID:       w.ID,
		UserID:        betReq.UserID,
		TokenID:       betReq.TokenID,
		BetAmount:     betReq.Amount,
		MineCount:     betReq.MineCount,
		ServerSeed:    pair.ServerSeed,
		Commitment:    pair.Commitment(),
		ClientSeed:    stream.ClientSeed(),
		Nonce:         pair.Nonce,
		MinePositions: MinePositions(stream, betReq.MineCount),
		RevealedTiles: []int{},
		Multiplier:    1.0,
		Status:        "ACTIVE",
		CreatedAt:     time.Now(),
	}

	if err := m.storeGame(ctx, &gameState); err != nil {
		// No durable game record means the play cannot proceed; give
		// the stake back rather than leaving it in limbo.
		if rerr := m.ledger.RefundWager(ctx, w.ID); rerr != nil {
			log.Printf("[MINES] Refund of wager %s failed: %v", w.ID, rerr)
		}
		return MinesBetResponse{
			Code:    CodeLedgerUnavailable,
			Message: "Failed to start game",
		}, nil
	}

	balance, _ := m.ledger.Balance(ctx, betReq.UserID, betReq.TokenID)

	log.Printf("[MINES] Game %s started for user %s with %d mines", gameID, betReq.UserID, betReq.MineCount)

	return MinesBetResponse{
		Success:    true,
		Message:    "Game started",
		GameID:     gameID,
		Commitment: gameState.Commitment,
		Balance:    balance,
	}, nil
}

func (m *MinesEngine) ProcessAction(ctx context.Context, action string, req interface{}) (interface{}, error) {
	switch action {
	case "click":
		return m.handleTileClick(ctx, req)
	case "cashout":
		return m.handleCashout(ctx, req)
	default:
		return nil, errors.New("unknown action")
	}
}

func (m *MinesEngine) handleTileClick(ctx context.Context, req interface{}) (interface{}, error) {
	clickReq, ok := req.(MinesClickRequest)
	if !ok {
		return nil, errors.New("invalid request type")
	}

	if clickReq.TileID < 0 || clickReq.TileID >= MINES_GRID_SIZE {
		return MinesClickResponse{
			Code:    CodeInvalidRequest,
			Message: "Invalid tile ID",
		}, nil
	}

	// The reveal is applied under the optimistic lock so two clicks on
	// the same game cannot interleave a duplicate reveal or a stale
	// multiplier.
	var rejection *MinesClickResponse
	gameState, err := m.mutateGame(ctx, clickReq.GameID, func(gs *MinesGameState) error {
		if gs.Status != "ACTIVE" || gs.UserID != clickReq.UserID {
			rejection = &MinesClickResponse{
				Code:       CodeAlreadySettled,
				Message:    "Game is not active",
				GameStatus: gs.Status,
			}
			return errMinesNoUpdate
		}

		for _, revealed := range gs.RevealedTiles {
			if revealed == clickReq.TileID {
				rejection = &MinesClickResponse{
					Code:    CodeInvalidRequest,
					Message: "Tile already revealed",
				}
				return errMinesNoUpdate
			}
		}

		for _, minePos := range gs.MinePositions {
			if minePos == clickReq.TileID {
				gs.Status = "BUSTED"
				gs.EndedAt = time.Now()
				gs.Multiplier = 0
				return nil
			}
		}

		gs.RevealedTiles = append(gs.RevealedTiles, clickReq.TileID)
		gs.Multiplier = MinesMultiplier(gs.MineCount, len(gs.RevealedTiles))
		return nil
	})
	if errors.Is(err, errMinesNoUpdate) {
		return *rejection, nil
	}
	if errors.Is(err, redis.Nil) {
		return MinesClickResponse{
			Code:    CodeWagerNotFound,
			Message: "Game not found",
		}, nil
	}
	if err != nil {
		return MinesClickResponse{
			Code:    CodeLedgerUnavailable,
			Message: "Failed to record reveal",
		}, nil
	}

	if gameState.Status == "BUSTED" {
		if err := m.ledger.MarkLost(ctx, gameState.WagerID); err != nil && !errors.Is(err, ledger.ErrAlreadySettled) {
			log.Printf("[MINES] Failed to settle lost wager %s: %v", gameState.WagerID, err)
		}

		log.Printf("[MINES] User %s hit a mine at tile %d", clickReq.UserID, clickReq.TileID)

		return MinesClickResponse{
			Success:    true,
			Message:    "You hit a mine!",
			TileID:     clickReq.TileID,
			IsMine:     true,
			Multiplier: 0,
			GameStatus: "BUSTED",
			Commitment: gameState.Commitment,
			Mines:      gameState.MinePositions,
		}, nil
	}

	return MinesClickResponse{
		Success:    true,
		Message:    "Safe tile!",
		TileID:     clickReq.TileID,
		IsMine:     false,
		Multiplier: gameState.Multiplier,
		GameStatus: "ACTIVE",
	}, nil
}

func (m *MinesEngine) handleCashout(ctx context.Context, req interface{}) (interface{}, error) {
	cashoutReq, ok := req.(MinesCashoutRequest)
	if !ok {
		return nil, errors.New("invalid request type")
	}

	gameState, err := m.loadGame(ctx, cashoutReq.GameID)
	if err != nil {
		return MinesCashoutResponse{
			Code:    CodeWagerNotFound,
			Message: "Game not found",
		}, nil
	}

	if gameState.Status != "ACTIVE" || gameState.UserID != cashoutReq.UserID {
		return MinesCashoutResponse{
			Code:    CodeAlreadySettled,
			Message: "Game is not active",
		}, nil
	}

	if len(gameState.RevealedTiles) == 0 {
		return MinesCashoutResponse{
			Code:    CodeInvalidRequest,
			Message: "Must reveal at least one tile before cashing out",
		}, nil
	}

	// The ledger's conditional flip is the settlement authority; a
	// racing click or duplicate cash-out loses here.
	payout, err := m.ledger.CashOut(ctx, gameState.WagerID, cashoutReq.UserID, gameState.GameID, gameState.Multiplier)
	if err != nil {
		code, msg := classifyLedgerError(err)
		return MinesCashoutResponse{Code: code, Message: msg}, nil
	}

	if _, err := m.mutateGame(ctx, cashoutReq.GameID, func(gs *MinesGameState) error {
		gs.Status = "CASHED_OUT"
		gs.EndedAt = time.Now()
		return nil
	}); err != nil {
		log.Printf("[MINES] Failed to store cashed-out game %s: %v", gameState.GameID, err)
	}

	balance, _ := m.ledger.Balance(ctx, cashoutReq.UserID, gameState.TokenID)

	log.Printf("[MINES] User %s cashed out for %.2f", cashoutReq.UserID, payout)

	return MinesCashoutResponse{
		Success:    true,
		Message:    "Cashed out successfully",
		Payout:     payout,
		Balance:    balance,
		Commitment: gameState.Commitment,
		Mines:      gameState.MinePositions,
	}, nil
}

// encodeMinesGame persists the full struct including hidden fields;
// the json tags only shape what clients see, not what the engine
// stores.
func encodeMinesGame(state *MinesGameState) ([]byte, error) {
	type persisted MinesGameState
	return json.Marshal(struct {
		*persisted
		ServerSeed    string `json:"server_seed"`
		MinePositions []int  `json:"mine_positions"`
	}{(*persisted)(state), state.ServerSeed, state.MinePositions})
}

func decodeMinesGame(data string) (*MinesGameState, error) {
	type persisted MinesGameState
	var stored struct {
		*persisted
		ServerSeed    string `json:"server_seed"`
		MinePositions []int  `json:"mine_positions"`
	}
	state := &MinesGameState{}
	stored.persisted = (*persisted)(state)
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, err
	}
	state.ServerSeed = stored.ServerSeed
	state.MinePositions = stored.MinePositions
	return state, nil
}

func (m *MinesEngine) storeGame(ctx context.Context, state *MinesGameState) error {
	data, err := encodeMinesGame(state)
	if err != nil {
		return err
	}
	return m.redisClient.Set(ctx, REDIS_KEY_MINES_GAME+state.GameID, data, 1*time.Hour).Err()
}

func (m *MinesEngine) loadGame(ctx context.Context, gameID string) (*MinesGameState, error) {
	data, err := m.redisClient.Get(ctx, REDIS_KEY_MINES_GAME+gameID).Result()
	if err != nil {
		return nil, err
	}
	return decodeMinesGame(data)
}

// errMinesNoUpdate aborts mutateGame without writing; the caller has
// already captured a rejection response.
var errMinesNoUpdate = errors.New("mines: no update")

// mutateGame applies fn to the stored game state under WATCH-based
// optimistic locking and retries when a concurrent writer commits
// first. Load-modify-store without the lock would let two clicks on
// the same game interleave.
func (m *MinesEngine) mutateGame(ctx context.Context, gameID string, fn func(*MinesGameState) error) (*MinesGameState, error) {
	key := REDIS_KEY_MINES_GAME + gameID
	var state *MinesGameState

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if err != nil {
			return err
		}
		state, err = decodeMinesGame(data)
		if err != nil {
			return err
		}
		if err := fn(state); err != nil {
			return err
		}
		payload, err := encodeMinesGame(state)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 1*time.Hour)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := m.redisClient.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return state, nil
	}
	return nil, redis.TxFailedErr
}

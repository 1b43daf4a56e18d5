package game

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"crashpit/internal/fair"
	"crashpit/internal/history"
	"crashpit/internal/ledger"
)

const (
	TICK_INTERVAL  = 100 * time.Millisecond
	BETTING_TIME   = 5 * time.Second
	COOLDOWN_TIME  = 3 * time.Second
	MIN_BET_AMOUNT = 1.0
	MAX_BET_AMOUNT = 10000.0

	DEFAULT_TOKEN = "USD"

	RECONCILE_INTERVAL = 1 * time.Minute

	REDIS_KEY_CURRENT_ROUND = "crash:round:current"
)

// Manager owns the crash round lifecycle. A single goroutine advances
// the round through WAITING -> RUNNING -> RESOLVED on the server clock
// and publishes immutable snapshots; request handlers read the latest
// snapshot and write wagers and balances only through the ledger.
type Manager struct {
	hub         *Hub
	ledger      *ledger.Service
	history     *history.Service
	redisClient *redis.Client

	snapshot atomic.Pointer[RoundSnapshot]
	halted   atomic.Bool

	nonce    int // round counter; loop-owned
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewManager(hub *Hub, ledgerSvc *ledger.Service, historySvc *history.Service, redisClient *redis.Client) *Manager {
	return &Manager{
		hub:         hub,
		ledger:      ledgerSvc,
		history:     historySvc,
		redisClient: redisClient,
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
	}
}

func (m *Manager) Start() {
	go m.roundLoop()
	go m.reconcileLoop()
}

func (m *Manager) Stop() {
	close(m.stopChan)
	<-m.doneChan
}

// Snapshot returns the latest published round view, nil before the
// first round opens.
func (m *Manager) Snapshot() *RoundSnapshot {
	return m.snapshot.Load()
}

// Halted reports whether round opening has been stopped after a failed
// self-verification.
func (m *Manager) Halted() bool {
	return m.halted.Load()
}

func (m *Manager) roundLoop() {
	defer close(m.doneChan)

	for {
		select {
		case <-m.stopChan:
			log.Println("[GAME] Round loop stopped")
			return
		default:
		}

		if m.halted.Load() {
			log.Println("[GAME] Round opening halted pending investigation")
			return
		}

		m.runRound()

		select {
		case <-m.stopChan:
		case <-time.After(COOLDOWN_TIME):
		}
	}
}

func (m *Manager) runRound() {
	ctx := context.Background()
	m.nonce++

	serverSeed, commitment := fair.Commit()
	clientSeed := fair.GenerateSeed() // stand-in for aggregated player seeds, disclosed at open
	crashPoint := CrashPoint(fair.NewStream(serverSeed, clientSeed, m.nonce))

	roundID := uuid.NewString()
	openedAt := time.Now()

	// Commitment must be durable before any bet is accepted.
	round := &history.Round{
		ID:             roundID,
		ServerSeedHash: commitment,
		ClientSeed:     clientSeed,
		Nonce:          m.nonce,
		Phase:          string(PhaseWaiting),
		OpenedAt:       openedAt,
	}
	if err := m.history.CreateCommitted(ctx, round); err != nil {
		log.Printf("[GAME] Failed to persist round commitment, skipping round: %v", err)
		return
	}

	snap := &RoundSnapshot{
		RoundID:           roundID,
		Phase:             PhaseWaiting,
		Commitment:        commitment,
		ClientSeed:        clientSeed,
		Nonce:             m.nonce,
		CurrentMultiplier: MIN_MULTIPLIER,
		OpenedAt:          openedAt,
		WaitingDeadline:   openedAt.Add(BETTING_TIME),
		ServerSeed:        serverSeed,
		CrashPoint:        crashPoint,
	}
	m.publish(snap)

	log.Printf("[GAME] Round %s opened, commitment %s...", roundID, commitment[:16])

	m.hub.Broadcast(WSMessage{Type: "round.opened", Data: RoundOpenedEvent{
		RoundID:         roundID,
		ServerSeedHash:  commitment,
		ClientSeed:      clientSeed,
		Nonce:           m.nonce,
		WaitingDeadline: snap.WaitingDeadline,
	}})

	select {
	case <-m.stopChan:
		return
	case <-time.After(time.Until(snap.WaitingDeadline)):
	}

	// RUNNING: the outcome is fixed; the resolution instant follows
	// from the curve inverse and never moves afterward.
	runningStart := time.Now()
	resolveAt := runningStart.Add(RunDuration(crashPoint))

	next := snap.clone()
	next.Phase = PhaseRunning
	next.RunningStartedAt = runningStart
	next.ResolveAt = resolveAt
	m.publish(next)

	if err := m.history.MarkRunning(ctx, roundID, runningStart); err != nil {
		log.Printf("[GAME] Failed to mark round %s running: %v", roundID, err)
	}

	m.hub.Broadcast(WSMessage{Type: "round.running", Data: RoundTickEvent{
		RoundID:             roundID,
		DisplayedMultiplier: MIN_MULTIPLIER,
	}})

	autoTargets := m.loadAutoCashouts(ctx, roundID)

	ticker := time.NewTicker(TICK_INTERVAL)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case now := <-ticker.C:
			if !now.Before(resolveAt) {
				m.resolveRound(ctx, next, resolveAt)
				return
			}

			current := MultiplierAt(now.Sub(runningStart))
			if current > crashPoint {
				current = crashPoint
			}

			tickSnap := next.clone()
			tickSnap.CurrentMultiplier = current
			m.publish(tickSnap)
			next = tickSnap

			m.hub.Broadcast(WSMessage{Type: "round.tick", Data: RoundTickEvent{
				RoundID:             roundID,
				DisplayedMultiplier: current,
			}})

			autoTargets = m.fireAutoCashouts(autoTargets, current, crashPoint)
		}
	}
}

func (m *Manager) resolveRound(ctx context.Context, snap *RoundSnapshot, resolvedAt time.Time) {
	resolved := snap.clone()
	resolved.Phase = PhaseResolved
	resolved.CurrentMultiplier = snap.CrashPoint
	resolved.ResolvedAt = resolvedAt
	m.publish(resolved)

	// Reveal immediately; settlement and persistence follow and may be
	// slow without affecting what observers saw.
	m.hub.Broadcast(WSMessage{Type: "round.resolved", Data: RoundResolvedEvent{
		RoundID:      snap.RoundID,
		Outcome:      snap.CrashPoint,
		RevealedSeed: snap.ServerSeed,
		ClientSeed:   snap.ClientSeed,
		Nonce:        snap.Nonce,
	}})

	log.Printf("[GAME] Round %s resolved at %.2fx", snap.RoundID, snap.CrashPoint)

	if err := m.history.Resolve(ctx, snap.RoundID, snap.ServerSeed, snap.CrashPoint, resolvedAt); err != nil {
		log.Printf("[GAME] Failed to persist resolution of round %s: %v", snap.RoundID, err)
	}

	lost, err := m.ledger.SettleRoundLosses(ctx, snap.RoundID)
	if err != nil {
		log.Printf("[GAME] Failed to settle losses for round %s: %v", snap.RoundID, err)
	}
	for _, w := range lost {
		m.hub.Broadcast(WSMessage{Type: "wager.lost", Data: WagerLostEvent{
			WagerID: w.ID,
			UserID:  w.UserID,
		}})
	}

	// Self-check the reveal. A mismatch means trust in the round is
	// broken; no further rounds open until someone investigates.
	if !VerifyCrashRound(snap.ServerSeed, snap.Commitment, snap.ClientSeed, snap.Nonce, snap.CrashPoint) {
		m.halted.Store(true)
		log.Printf("[GAME] VERIFICATION_FAILED for round %s: halting new rounds", snap.RoundID)
	}
}

// PlaceWager validates against the latest snapshot, then debits and
// records the wager in one durable transaction. If the round left
// WAITING while the write was in flight, the stake comes back as a
// refund and the bet is rejected.
func (m *Manager) PlaceWager(ctx context.Context, req BetRequest) BetResponse {
	if req.Amount < MIN_BET_AMOUNT || req.Amount > MAX_BET_AMOUNT {
		return BetResponse{
			Code:    CodeInvalidRequest,
			Message: "Bet amount out of range",
		}
	}
	if req.TokenID == "" {
		req.TokenID = DEFAULT_TOKEN
	}

	snap := m.snapshot.Load()
	if snap == nil || snap.Phase != PhaseWaiting || !time.Now().Before(snap.WaitingDeadline) {
		return BetResponse{
			Code:    CodeRoundNotAccepting,
			Message: "Betting is closed",
			Phase:   phaseOf(snap),
		}
	}

	w := &ledger.Wager{
		ID:          uuid.NewString(),
		RoundID:     snap.RoundID,
		UserID:      req.UserID,
		TokenID:     req.TokenID,
		Stake:       req.Amount,
		AutoCashout: req.AutoCashout,
	}

	if err := m.ledger.PlaceWager(ctx, w); err != nil {
		return betError(err, m.snapshot.Load())
	}

	// The round may have stopped accepting bets while the debit was in
	// flight; a late wager is refunded, never carried into RUNNING.
	after := m.snapshot.Load()
	if after == nil || after.RoundID != w.RoundID || after.Phase != PhaseWaiting {
		if err := m.ledger.RefundWager(ctx, w.ID); err != nil {
			log.Printf("[GAME] Late wager %s refund failed: %v", w.ID, err)
		}
		return BetResponse{
			Code:    CodeRoundNotAccepting,
			Message: "Betting closed while the wager was being placed; stake refunded",
			Phase:   phaseOf(after),
		}
	}

	balance, _ := m.ledger.Balance(ctx, req.UserID, req.TokenID)

	m.hub.Broadcast(WSMessage{Type: "wager.accepted", Data: WagerAcceptedEvent{
		WagerID: w.ID,
		RoundID: w.RoundID,
		UserID:  w.UserID,
		Amount:  w.Stake,
	}})

	log.Printf("[GAME] User %s wagered %.2f on round %s (wager %s)", req.UserID, req.Amount, w.RoundID, w.ID)

	return BetResponse{
		Success: true,
		Message: "Wager accepted",
		Phase:   PhaseWaiting,
		WagerID: w.ID,
		RoundID: w.RoundID,
		Balance: balance,
	}
}

// Cashout locks in a win at the multiplier displayed at the server
// receive time. The request is honored only when that time is strictly
// earlier than the round's resolution instant; ties and later arrivals
// fail with CASHOUT_TOO_LATE.
func (m *Manager) Cashout(ctx context.Context, req CashoutRequest) CashoutResponse {
	receivedAt := time.Now()

	snap := m.snapshot.Load()
	if snap == nil || snap.Phase == PhaseWaiting {
		return CashoutResponse{
			Code:    CodeRoundNotAccepting,
			Message: "Round is not running",
			Phase:   phaseOf(snap),
		}
	}
	if snap.Phase == PhaseResolved || !receivedAt.Before(snap.ResolveAt) {
		return CashoutResponse{
			Code:    CodeCashoutTooLate,
			Message: "Round already resolved",
			Phase:   phaseOf(snap),
		}
	}

	exitMultiplier := MultiplierAt(receivedAt.Sub(snap.RunningStartedAt))
	if exitMultiplier > snap.CrashPoint {
		exitMultiplier = snap.CrashPoint
	}

	payout, err := m.ledger.CashOut(ctx, req.WagerID, req.UserID, snap.RoundID, exitMultiplier)
	if err != nil {
		return cashoutError(err, m.snapshot.Load())
	}

	m.hub.Broadcast(WSMessage{Type: "wager.cashedOut", Data: WagerCashedOutEvent{
		WagerID:        req.WagerID,
		UserID:         req.UserID,
		ExitMultiplier: exitMultiplier,
		Payout:         payout,
	}})

	log.Printf("[GAME] User %s cashed out wager %s at %.2fx for %.2f", req.UserID, req.WagerID, exitMultiplier, payout)

	return CashoutResponse{
		Success:    true,
		Message:    "Cashed out",
		Phase:      PhaseRunning,
		Multiplier: exitMultiplier,
		Payout:     payout,
	}
}

type autoWager struct {
	wagerID string
	userID  string
	roundID string
	target  float64
}

func (m *Manager) loadAutoCashouts(ctx context.Context, roundID string) []autoWager {
	wagers, err := m.ledger.WagersForRound(ctx, roundID)
	if err != nil {
		log.Printf("[GAME] Failed to load auto-cashout targets for round %s: %v", roundID, err)
		return nil
	}

	var targets []autoWager
	for _, w := range wagers {
		if w.Status == ledger.StatusPlaced && w.AutoCashout > 0 {
			targets = append(targets, autoWager{wagerID: w.ID, userID: w.UserID, roundID: roundID, target: w.AutoCashout})
		}
	}
	return targets
}

// fireAutoCashouts triggers reached targets off the tick goroutine so
// ledger latency never delays the next tick.
func (m *Manager) fireAutoCashouts(targets []autoWager, current, crashPoint float64) []autoWager {
	remaining := targets[:0]
	for _, t := range targets {
		if current < t.target {
			remaining = append(remaining, t)
			continue
		}

		exit := t.target
		if exit > crashPoint {
			exit = crashPoint
		}

		go func(t autoWager, exit float64) {
			payout, err := m.ledger.CashOut(context.Background(), t.wagerID, t.userID, t.roundID, exit)
			if err != nil {
				log.Printf("[GAME] Auto-cashout of wager %s failed: %v", t.wagerID, err)
				return
			}
			m.hub.Broadcast(WSMessage{Type: "wager.cashedOut", Data: WagerCashedOutEvent{
				WagerID:        t.wagerID,
				UserID:         t.userID,
				ExitMultiplier: exit,
				Payout:         payout,
			}})
		}(t, exit)
	}
	return remaining
}

// reconcileLoop periodically replays credits for wagers that reached a
// terminal status without their payout landing, and loss settlement
// for rounds that resolved while it failed. Initialized at startup,
// torn down with the manager.
func (m *Manager) reconcileLoop() {
	ticker := time.NewTicker(RECONCILE_INTERVAL)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			m.reconcileOnce(ctx)
			cancel()
		}
	}
}

func (m *Manager) reconcileOnce(ctx context.Context) {
	flagged, err := m.ledger.UnreconciledWagers(ctx)
	if err != nil {
		log.Printf("[GAME] Reconciliation scan failed: %v", err)
		return
	}
	for _, w := range flagged {
		if err := m.ledger.Reconcile(ctx, w.ID); err != nil {
			log.Printf("[GAME] Reconciliation of wager %s failed: %v", w.ID, err)
		} else {
			log.Printf("[GAME] Reconciled wager %s", w.ID)
		}
	}

	// Rounds whose loss settlement failed at resolve time leave wagers
	// stuck in PLACED; replay until every one reaches a terminal state.
	rounds, err := m.ledger.UnsettledResolvedRounds(ctx)
	if err != nil {
		log.Printf("[GAME] Unsettled round scan failed: %v", err)
		return
	}
	for _, roundID := range rounds {
		lost, err := m.ledger.SettleRoundLosses(ctx, roundID)
		if err != nil {
			log.Printf("[GAME] Loss settlement replay for round %s failed: %v", roundID, err)
			continue
		}
		log.Printf("[GAME] Replayed loss settlement for round %s, settled %d wagers", roundID, len(lost))
		for _, w := range lost {
			m.hub.Broadcast(WSMessage{Type: "wager.lost", Data: WagerLostEvent{
				WagerID: w.ID,
				UserID:  w.UserID,
			}})
		}
	}
}

// publish swaps in the new snapshot and mirrors it to Redis for cold
// websocket joins. The Redis copy is a projection, never read back by
// the engine.
func (m *Manager) publish(snap *RoundSnapshot) {
	m.snapshot.Store(snap)

	if m.redisClient == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.redisClient.Set(ctx, REDIS_KEY_CURRENT_ROUND, data, time.Hour).Err(); err != nil {
		log.Printf("[GAME] Failed to mirror round snapshot: %v", err)
	}
}

func (s *RoundSnapshot) clone() *RoundSnapshot {
	c := *s
	return &c
}

func phaseOf(snap *RoundSnapshot) RoundPhase {
	if snap == nil {
		return ""
	}
	return snap.Phase
}

func betError(err error, snap *RoundSnapshot) BetResponse {
	code, msg := classifyLedgerError(err)
	return BetResponse{Code: code, Message: msg, Phase: phaseOf(snap)}
}

func cashoutError(err error, snap *RoundSnapshot) CashoutResponse {
	code, msg := classifyLedgerError(err)
	return CashoutResponse{Code: code, Message: msg, Phase: phaseOf(snap)}
}

func classifyLedgerError(err error) (code, message string) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return CodeInsufficientFunds, "Insufficient balance"
	case errors.Is(err, ledger.ErrWagerNotFound):
		return CodeWagerNotFound, "Wager not found"
	case errors.Is(err, ledger.ErrAlreadySettled):
		return CodeAlreadySettled, "Wager already settled"
	default:
		return CodeLedgerUnavailable, "Ledger temporarily unavailable"
	}
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Reason string

const (
	ReasonBetDebit     Reason = "BET_DEBIT"
	ReasonWinCredit    Reason = "WIN_CREDIT"
	ReasonRefundCredit Reason = "REFUND_CREDIT"
)

type WagerStatus string

const (
	StatusPlaced    WagerStatus = "PLACED"
	StatusCashedOut WagerStatus = "CASHED_OUT"
	StatusLost      WagerStatus = "LOST"
	StatusRefunded  WagerStatus = "REFUNDED"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWagerNotFound     = errors.New("wager not found")
	ErrAlreadySettled    = errors.New("wager already settled")
	ErrUnavailable       = errors.New("ledger unavailable")
)

const (
	maxRetries      = 3
	initialInterval = 50 * time.Millisecond
)

type Wager struct {
	ID             string
	RoundID        string
	UserID         string
	TokenID        string
	Stake          float64
	AutoCashout    float64
	Status         WagerStatus
	ExitMultiplier *float64
	SettledAmount  *float64
	PlacedAt       time.Time
	SettledAt      *time.Time
}

type Entry struct {
	ID         string
	UserID     string
	TokenID    string
	Delta      float64
	Reason     Reason
	RefWagerID string
	CreatedAt  time.Time
}

// Service is the sole writer of balances. Debits and credits are
// atomic; credits are idempotent on (wager, reason) so retried calls
// never double-credit. Same-user writes serialize on the balance row
// lock, different users proceed in parallel.
type Service struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// withRetry runs op with bounded exponential backoff. Domain errors
// are permanent; anything else is treated as a transient storage fault
// and surfaced as ErrUnavailable once retries are exhausted.
func (s *Service) withRetry(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInsufficientFunds) ||
			errors.Is(err, ErrWagerNotFound) ||
			errors.Is(err, ErrAlreadySettled) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.MaxElapsedTime = 2 * time.Second

	err := backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrWagerNotFound) ||
		errors.Is(err, ErrAlreadySettled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Balance returns the available balance, zero for unknown accounts.
func (s *Service) Balance(ctx context.Context, userID, tokenID string) (float64, error) {
	var amount float64
	err := s.pool.QueryRow(ctx,
		`SELECT amount FROM balances WHERE user_id = $1 AND token_id = $2`,
		userID, tokenID).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return amount, nil
}

// SetBalance overwrites an account balance (admin/testing only).
func (s *Service) SetBalance(ctx context.Context, userID, tokenID string, amount float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO balances (user_id, token_id, amount) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, token_id) DO UPDATE SET amount = EXCLUDED.amount`,
		userID, tokenID, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// PlaceWager debits the stake and records the wager and its BET_DEBIT
// entry in one transaction. The wager row is durable before this
// returns, so no stake is ever taken without a record (fail closed).
// The conditional balance update locks the user's row, serializing
// concurrent bets from the same user against the same balance.
func (s *Service) PlaceWager(ctx context.Context, w *Wager) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		ct, err := tx.Exec(ctx,
			`UPDATE balances SET amount = amount - $3
			 WHERE user_id = $1 AND token_id = $2 AND amount >= $3`,
			w.UserID, w.TokenID, w.Stake)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return ErrInsufficientFunds
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO wagers (id, round_id, user_id, token_id, stake, auto_cashout, status, placed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
			w.ID, w.RoundID, w.UserID, w.TokenID, w.Stake, w.AutoCashout, StatusPlaced); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger_entries (id, user_id, token_id, delta, reason, ref_wager_id)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.NewString(), w.UserID, w.TokenID, -w.Stake, ReasonBetDebit, w.ID); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

// CashOut flips a PLACED wager to CASHED_OUT and credits the payout.
// The flip is a conditional update scoped to the wager's round, so a
// duplicate cash-out, a lost race against round settlement, or a stale
// wager from an earlier round fails cleanly instead of corrupting
// state. If the credit fails after the flip, the wager stays flagged
// for reconciliation (terminal status with NULL settled_amount) rather
// than silently losing funds.
func (s *Service) CashOut(ctx context.Context, wagerID, userID, roundID string, exitMultiplier float64) (float64, error) {
	var tokenID string
	var stake float64

	err := s.withRetry(ctx, func() error {
		err := s.pool.QueryRow(ctx,
			`UPDATE wagers SET status = $3, exit_multiplier = $4, settled_at = now()
			 WHERE id = $1 AND user_id = $2 AND round_id = $6 AND status = $5
			 RETURNING token_id, stake`,
			wagerID, userID, StatusCashedOut, exitMultiplier, StatusPlaced, roundID).Scan(&tokenID, &stake)
		if errors.Is(err, pgx.ErrNoRows) {
			return s.classifyMissingWager(ctx, wagerID, userID, roundID)
		}
		return err
	})
	if err != nil {
		return 0, err
	}

	payout := math.Floor(stake*exitMultiplier*100) / 100.0

	if err := s.creditSettled(ctx, wagerID, userID, tokenID, payout, ReasonWinCredit); err != nil {
		log.Printf("[LEDGER] Wager %s cashed out but credit failed, flagged for reconciliation: %v", wagerID, err)
		return 0, err
	}

	return payout, nil
}

func (s *Service) classifyMissingWager(ctx context.Context, wagerID, userID, roundID string) error {
	var status WagerStatus
	var wagerRound string
	err := s.pool.QueryRow(ctx,
		`SELECT status, round_id FROM wagers WHERE id = $1 AND user_id = $2`,
		wagerID, userID).Scan(&status, &wagerRound)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrWagerNotFound
	}
	if err != nil {
		return err
	}
	// A wager from another round is not cashable here no matter its
	// status.
	if wagerRound != roundID {
		return ErrWagerNotFound
	}
	return ErrAlreadySettled
}

// creditSettled applies the win/refund credit idempotently: the entry
// insert is keyed on (ref_wager_id, reason) and the balance moves only
// when the entry was actually inserted. Replays are no-ops.
func (s *Service) creditSettled(ctx context.Context, wagerID, userID, tokenID string, amount float64, reason Reason) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		ct, err := tx.Exec(ctx,
			`INSERT INTO ledger_entries (id, user_id, token_id, delta, reason, ref_wager_id)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (ref_wager_id, reason) DO NOTHING`,
			uuid.NewString(), userID, tokenID, amount, reason, wagerID)
		if err != nil {
			return err
		}

		if ct.RowsAffected() == 1 {
			if _, err := tx.Exec(ctx,
				`INSERT INTO balances (user_id, token_id, amount) VALUES ($1, $2, $3)
				 ON CONFLICT (user_id, token_id) DO UPDATE SET amount = balances.amount + EXCLUDED.amount`,
				userID, tokenID, amount); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx,
			`UPDATE wagers SET settled_amount = $2 WHERE id = $1`,
			wagerID, amount); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

// RefundWager reverses a wager whose round stopped accepting bets
// between the phase check and the durable insert. Stake comes back in
// full via REFUND_CREDIT.
func (s *Service) RefundWager(ctx context.Context, wagerID string) error {
	var userID, tokenID string
	var stake float64

	err := s.withRetry(ctx, func() error {
		err := s.pool.QueryRow(ctx,
			`UPDATE wagers SET status = $2, settled_at = now()
			 WHERE id = $1 AND status = $3
			 RETURNING user_id, token_id, stake`,
			wagerID, StatusRefunded, StatusPlaced).Scan(&userID, &tokenID, &stake)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAlreadySettled
		}
		return err
	})
	if err != nil {
		return err
	}

	if err := s.creditSettled(ctx, wagerID, userID, tokenID, stake, ReasonRefundCredit); err != nil {
		log.Printf("[LEDGER] Wager %s refund credit failed, flagged for reconciliation: %v", wagerID, err)
		return err
	}

	return nil
}

// MarkLost settles a single PLACED wager as a loss. The stake was
// debited at placement, so the balance is untouched.
func (s *Service) MarkLost(ctx context.Context, wagerID string) error {
	return s.withRetry(ctx, func() error {
		ct, err := s.pool.Exec(ctx,
			`UPDATE wagers SET status = $2, settled_amount = 0, settled_at = now()
			 WHERE id = $1 AND status = $3`,
			wagerID, StatusLost, StatusPlaced)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return ErrAlreadySettled
		}
		return nil
	})
}

// SettleRoundLosses marks every still-PLACED wager in the round as
// LOST and returns them for broadcast. Wagers already CASHED_OUT were
// credited at cash-out time and are skipped by the status condition.
func (s *Service) SettleRoundLosses(ctx context.Context, roundID string) ([]Wager, error) {
	var lost []Wager

	err := s.withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx,
			`UPDATE wagers SET status = $2, settled_amount = 0, settled_at = now()
			 WHERE round_id = $1 AND status = $3
			 RETURNING id, user_id, token_id, stake`,
			roundID, StatusLost, StatusPlaced)
		if err != nil {
			return err
		}
		defer rows.Close()

		lost = lost[:0]
		for rows.Next() {
			var w Wager
			if err := rows.Scan(&w.ID, &w.UserID, &w.TokenID, &w.Stake); err != nil {
				return err
			}
			w.RoundID = roundID
			w.Status = StatusLost
			lost = append(lost, w)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return lost, nil
}

// GetWager loads a single wager.
func (s *Service) GetWager(ctx context.Context, wagerID string) (*Wager, error) {
	w := &Wager{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, round_id, user_id, token_id, stake, auto_cashout, status,
		        exit_multiplier, settled_amount, placed_at, settled_at
		 FROM wagers WHERE id = $1`,
		wagerID).Scan(&w.ID, &w.RoundID, &w.UserID, &w.TokenID, &w.Stake, &w.AutoCashout,
		&w.Status, &w.ExitMultiplier, &w.SettledAmount, &w.PlacedAt, &w.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWagerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return w, nil
}

// WagersForRound loads all wagers of a round, auto-cashout targets
// included, for the round loop to drive.
func (s *Service) WagersForRound(ctx context.Context, roundID string) ([]Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, round_id, user_id, token_id, stake, auto_cashout, status,
		        exit_multiplier, settled_amount, placed_at, settled_at
		 FROM wagers WHERE round_id = $1 ORDER BY placed_at`,
		roundID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var wagers []Wager
	for rows.Next() {
		var w Wager
		if err := rows.Scan(&w.ID, &w.RoundID, &w.UserID, &w.TokenID, &w.Stake, &w.AutoCashout,
			&w.Status, &w.ExitMultiplier, &w.SettledAmount, &w.PlacedAt, &w.SettledAt); err != nil {
			return nil, err
		}
		wagers = append(wagers, w)
	}
	return wagers, rows.Err()
}

// UnsettledResolvedRounds lists rounds that already resolved but still
// carry PLACED wagers, which happens when loss settlement failed at
// resolve time. Those rounds need SettleRoundLosses replayed. Instant
// games have no row in rounds, so their in-flight wagers never match.
func (s *Service) UnsettledResolvedRounds(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT w.round_id
		 FROM wagers w
		 JOIN rounds r ON r.id = w.round_id
		 WHERE w.status = $1 AND r.phase = 'RESOLVED'`,
		StatusPlaced)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var roundIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		roundIDs = append(roundIDs, id)
	}
	return roundIDs, rows.Err()
}

// UnreconciledWagers finds wagers that reached a terminal status but
// whose credit never landed (settled_amount still NULL).
func (s *Service) UnreconciledWagers(ctx context.Context) ([]Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, round_id, user_id, token_id, stake, auto_cashout, status,
		        exit_multiplier, settled_amount, placed_at, settled_at
		 FROM wagers
		 WHERE status IN ($1, $2) AND settled_amount IS NULL`,
		StatusCashedOut, StatusRefunded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var wagers []Wager
	for rows.Next() {
		var w Wager
		if err := rows.Scan(&w.ID, &w.RoundID, &w.UserID, &w.TokenID, &w.Stake, &w.AutoCashout,
			&w.Status, &w.ExitMultiplier, &w.SettledAmount, &w.PlacedAt, &w.SettledAt); err != nil {
			return nil, err
		}
		wagers = append(wagers, w)
	}
	return wagers, rows.Err()
}

// Reconcile replays the missing credit for a flagged wager. Safe to
// call repeatedly: the credit is idempotent.
func (s *Service) Reconcile(ctx context.Context, wagerID string) error {
	w, err := s.GetWager(ctx, wagerID)
	if err != nil {
		return err
	}

	switch w.Status {
	case StatusCashedOut:
		if w.ExitMultiplier == nil {
			return fmt.Errorf("wager %s cashed out without exit multiplier", wagerID)
		}
		payout := math.Floor(w.Stake*(*w.ExitMultiplier)*100) / 100.0
		return s.creditSettled(ctx, w.ID, w.UserID, w.TokenID, payout, ReasonWinCredit)
	case StatusRefunded:
		return s.creditSettled(ctx, w.ID, w.UserID, w.TokenID, w.Stake, ReasonRefundCredit)
	default:
		return nil
	}
}

// EntriesForUser lists ledger entries, newest first.
func (s *Service) EntriesForUser(ctx context.Context, userID, tokenID string, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, token_id, delta, reason, ref_wager_id, created_at
		 FROM ledger_entries
		 WHERE user_id = $1 AND token_id = $2
		 ORDER BY created_at DESC LIMIT $3`,
		userID, tokenID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.TokenID, &e.Delta, &e.Reason, &e.RefWagerID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	REDIS_KEY_RECENT_ROUNDS = "crash:rounds:recent"
	RECENT_ROUNDS_MAX       = 100

	// Distribution buckets: [1,2) [2,3) ... [9,10) plus an overflow
	// bucket for everything at 10x and above.
	bucketLow   = 1.0
	bucketHigh  = 10.0
	bucketCount = 9
)

var ErrRoundNotFound = errors.New("round not found")

// Round is the durable record of one betting cycle. The commitment row
// is written before any bet is accepted; seed and outcome are filled in
// exactly once at resolution.
type Round struct {
	ID               string     `json:"round_id"`
	ServerSeedHash   string     `json:"server_seed_hash"`
	ServerSeed       *string    `json:"server_seed,omitempty"`
	ClientSeed       string     `json:"client_seed"`
	Nonce            int        `json:"nonce"`
	Phase            string     `json:"phase"`
	CrashPoint       *float64   `json:"crash_point,omitempty"`
	OpenedAt         time.Time  `json:"opened_at"`
	RunningStartedAt *time.Time `json:"running_started_at,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

// RecentRound is the compact shape served by the history endpoint.
type RecentRound struct {
	RoundID    string    `json:"round_id"`
	Outcome    float64   `json:"outcome"`
	ResolvedAt time.Time `json:"resolved_at"`
}

type Bucket struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"` // 0 means unbounded
	Count int64   `json:"count"`
}

type Stats struct {
	Count   int64    `json:"count"`
	Mean    float64  `json:"mean"`
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Median  float64  `json:"median"`
	Buckets []Bucket `json:"buckets"`
}

// Service owns the append-only round record in Postgres plus a Redis
// projection of recent rounds for the hot read path. The database is
// the source of truth; Redis is rebuilt from it on a miss.
type Service struct {
	pool        *pgxpool.Pool
	redisClient *redis.Client
}

func New(pool *pgxpool.Pool, redisClient *redis.Client) *Service {
	return &Service{pool: pool, redisClient: redisClient}
}

// CreateCommitted persists the round commitment. Must succeed before
// the round accepts any bet; the commitment is immutable thereafter.
func (s *Service) CreateCommitted(ctx context.Context, r *Round) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rounds (id, server_seed_hash, client_seed, nonce, phase, opened_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.ServerSeedHash, r.ClientSeed, r.Nonce, r.Phase, r.OpenedAt)
	return err
}

func (s *Service) MarkRunning(ctx context.Context, roundID string, startedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE rounds SET phase = 'RUNNING', running_started_at = $2 WHERE id = $1`,
		roundID, startedAt)
	return err
}

// Resolve reveals the seed and outcome together, exactly once. The
// phase guard makes a replay a no-op instead of a second write.
func (s *Service) Resolve(ctx context.Context, roundID, serverSeed string, crashPoint float64, resolvedAt time.Time) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE rounds SET phase = 'RESOLVED', server_seed = $2, crash_point = $3, resolved_at = $4
		 WHERE id = $1 AND phase != 'RESOLVED'`,
		roundID, serverSeed, crashPoint, resolvedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return nil // already resolved
	}

	s.pushRecent(ctx, RecentRound{RoundID: roundID, Outcome: crashPoint, ResolvedAt: resolvedAt})
	return nil
}

// pushRecent maintains the Redis hot list. Purely a projection; a
// failure here is logged, never propagated.
func (s *Service) pushRecent(ctx context.Context, r RecentRound) {
	if s.redisClient == nil {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	pipe := s.redisClient.Pipeline()
	pipe.LPush(ctx, REDIS_KEY_RECENT_ROUNDS, data)
	pipe.LTrim(ctx, REDIS_KEY_RECENT_ROUNDS, 0, RECENT_ROUNDS_MAX-1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[HISTORY] Failed to cache recent round %s: %v", r.RoundID, err)
	}
}

func (s *Service) GetRound(ctx context.Context, roundID string) (*Round, error) {
	r := &Round{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, server_seed_hash, server_seed, client_seed, nonce, phase,
		        crash_point, opened_at, running_started_at, resolved_at
		 FROM rounds WHERE id = $1`,
		roundID).Scan(&r.ID, &r.ServerSeedHash, &r.ServerSeed, &r.ClientSeed, &r.Nonce,
		&r.Phase, &r.CrashPoint, &r.OpenedAt, &r.RunningStartedAt, &r.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Recent returns the latest resolved rounds, newest first. Served from
// the Redis projection when it covers the request, otherwise from
// Postgres.
func (s *Service) Recent(ctx context.Context, limit int) ([]RecentRound, error) {
	if limit <= 0 || limit > RECENT_ROUNDS_MAX {
		limit = RECENT_ROUNDS_MAX
	}

	if s.redisClient != nil {
		raw, err := s.redisClient.LRange(ctx, REDIS_KEY_RECENT_ROUNDS, 0, int64(limit-1)).Result()
		if err == nil && len(raw) == limit {
			rounds := make([]RecentRound, 0, len(raw))
			ok := true
			for _, item := range raw {
				var r RecentRound
				if json.Unmarshal([]byte(item), &r) != nil {
					ok = false
					break
				}
				rounds = append(rounds, r)
			}
			if ok {
				return rounds, nil
			}
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, crash_point, resolved_at FROM rounds
		 WHERE phase = 'RESOLVED'
		 ORDER BY resolved_at DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []RecentRound
	for rows.Next() {
		var r RecentRound
		if err := rows.Scan(&r.RoundID, &r.Outcome, &r.ResolvedAt); err != nil {
			return nil, err
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// Stats aggregates resolved rounds straight from the durable record.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(AVG(crash_point), 0),
		        COALESCE(MIN(crash_point), 0),
		        COALESCE(MAX(crash_point), 0),
		        COALESCE(PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY crash_point), 0)
		 FROM rounds WHERE phase = 'RESOLVED'`).
		Scan(&st.Count, &st.Mean, &st.Min, &st.Max, &st.Median)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT width_bucket(least(crash_point, $2), $1, $2, $3) AS bucket, COUNT(*)
		 FROM rounds WHERE phase = 'RESOLVED'
		 GROUP BY bucket ORDER BY bucket`,
		bucketLow, bucketHigh, bucketCount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var bucket int
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, err
		}
		counts[bucket] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	width := (bucketHigh - bucketLow) / bucketCount
	for i := 1; i <= bucketCount; i++ {
		low := bucketLow + float64(i-1)*width
		st.Buckets = append(st.Buckets, Bucket{
			Low:   math.Round(low*100) / 100,
			High:  math.Round((low+width)*100) / 100,
			Count: counts[i],
		})
	}
	// width_bucket puts values at the upper bound into bucket n+1
	st.Buckets = append(st.Buckets, Bucket{
		Low:   bucketHigh,
		High:  0,
		Count: counts[bucketCount+1],
	})

	return st, nil
}

// RevealData returns everything a client needs to verify a resolved
// round. Fails when the round has not revealed yet.
func (s *Service) RevealData(ctx context.Context, roundID string) (*Round, error) {
	r, err := s.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if r.Phase != "RESOLVED" || r.ServerSeed == nil || r.CrashPoint == nil {
		return nil, fmt.Errorf("round %s not resolved yet", roundID)
	}
	return r, nil
}

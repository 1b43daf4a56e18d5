package game

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"crashpit/internal/fair"
)

const REDIS_KEY_USER_SEEDS = "fairness:user:"

// SeedPair is the per-user fairness state for the instant games: the
// committed server seed (only its hash is disclosed until rotation),
// the player-controlled client seed and a nonce that increments once
// per play so the pair never repeats an output.
type SeedPair struct {
	ServerSeed string
	ClientSeed string
	Nonce      int
}

// Commitment returns what the player is allowed to see.
func (p SeedPair) Commitment() string {
	return fair.HashCommitment(p.ServerSeed)
}

// SeedStore keeps seed pairs in Redis, keyed per user. Initialized
// lazily on first use, rotated on demand; rotation reveals the old
// server seed so past plays become verifiable.
type SeedStore struct {
	redisClient *redis.Client
}

func NewSeedStore(redisClient *redis.Client) *SeedStore {
	return &SeedStore{redisClient: redisClient}
}

func (s *SeedStore) key(userID string) string {
	return REDIS_KEY_USER_SEEDS + userID
}

// Current loads the user's seed pair, creating one on first use.
func (s *SeedStore) Current(ctx context.Context, userID string) (SeedPair, error) {
	key := s.key(userID)

	// HSetNX makes concurrent first plays agree on one pair.
	created, err := s.redisClient.HSetNX(ctx, key, "server_seed", fair.GenerateSeed()).Result()
	if err != nil {
		return SeedPair{}, err
	}
	if created {
		if err := s.redisClient.HSetNX(ctx, key, "client_seed", fair.GenerateSeed()).Err(); err != nil {
			return SeedPair{}, err
		}
	}

	vals, err := s.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		return SeedPair{}, err
	}

	nonce, _ := strconv.Atoi(vals["nonce"])
	return SeedPair{
		ServerSeed: vals["server_seed"],
		ClientSeed: vals["client_seed"],
		Nonce:      nonce,
	}, nil
}

// NextNonce atomically claims the nonce for one play and returns the
// pair to derive it with.
func (s *SeedStore) NextNonce(ctx context.Context, userID string) (SeedPair, error) {
	pair, err := s.Current(ctx, userID)
	if err != nil {
		return SeedPair{}, err
	}

	nonce, err := s.redisClient.HIncrBy(ctx, s.key(userID), "nonce", 1).Result()
	if err != nil {
		return SeedPair{}, err
	}

	pair.Nonce = int(nonce)
	return pair, nil
}

// SetClientSeed lets the player supply their own entropy for future
// plays.
func (s *SeedStore) SetClientSeed(ctx context.Context, userID, clientSeed string) error {
	if clientSeed == "" {
		clientSeed = fair.DefaultClientSeed
	}
	return s.redisClient.HSet(ctx, s.key(userID), "client_seed", clientSeed).Err()
}

// Rotate reveals the current server seed and commits to a fresh one,
// resetting the nonce. Returns the revealed seed and the new
// commitment hash.
func (s *SeedStore) Rotate(ctx context.Context, userID string) (revealedSeed, newCommitment string, err error) {
	pair, err := s.Current(ctx, userID)
	if err != nil {
		return "", "", err
	}

	newSeed := fair.GenerateSeed()
	if err := s.redisClient.HSet(ctx, s.key(userID),
		"server_seed", newSeed,
		"nonce", 0,
	).Err(); err != nil {
		return "", "", fmt.Errorf("rotate seeds for %s: %w", userID, err)
	}

	return pair.ServerSeed, fair.HashCommitment(newSeed), nil
}

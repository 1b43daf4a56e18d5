package fair

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// DefaultClientSeed is substituted when a player never supplied a seed.
// It is disclosed in every reveal so verification stays possible.
const DefaultClientSeed = "crashpit-default-client-seed"

const maxUint64Float = 18446744073709551616.0 // 2^64

// GenerateSeed creates a cryptographically secure random seed
func GenerateSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashCommitment creates a SHA256 hash of the seed for commitment
func HashCommitment(seed string) string {
	h := sha256.New()
	h.Write([]byte(seed))
	return hex.EncodeToString(h.Sum(nil))
}

// Commit generates a fresh server seed and its public commitment hash.
// The seed must be held privately until the round is resolved.
func Commit() (serverSeed, commitment string) {
	serverSeed = GenerateSeed()
	return serverSeed, HashCommitment(serverSeed)
}

// VerifyCommitment checks that a revealed seed matches the hash
// published before any bet was accepted.
func VerifyCommitment(serverSeed, commitment string) bool {
	return HashCommitment(serverSeed) == commitment
}

// Stream is a deterministic random stream derived from
// (serverSeed, clientSeed, nonce). Every draw advances an internal
// cursor, so a single triple yields a reproducible sequence: the same
// inputs always produce the same outcomes, which is what makes
// verification meaningful.
type Stream struct {
	serverSeed string
	clientSeed string
	nonce      int
	cursor     int
}

// NewStream derives a stream for one round or play. An empty client
// seed falls back to DefaultClientSeed.
func NewStream(serverSeed, clientSeed string, nonce int) *Stream {
	if clientSeed == "" {
		clientSeed = DefaultClientSeed
	}
	return &Stream{
		serverSeed: serverSeed,
		clientSeed: clientSeed,
		nonce:      nonce,
	}
}

// ClientSeed returns the seed actually used, after any default
// substitution.
func (s *Stream) ClientSeed() string {
	return s.clientSeed
}

// Uint64 draws the next 64-bit value from the stream.
func (s *Stream) Uint64() uint64 {
	data := fmt.Sprintf("%s:%d:%d", s.clientSeed, s.nonce, s.cursor)
	s.cursor++

	h := hmac.New(sha256.New, []byte(s.serverSeed))
	h.Write([]byte(data))
	hashHex := hex.EncodeToString(h.Sum(nil))

	// First 16 hex characters (64 bits)
	i := new(big.Int)
	i.SetString(hashHex[:16], 16)
	return i.Uint64()
}

// Float64 draws the next value in [0, 1).
func (s *Stream) Float64() float64 {
	return float64(s.Uint64()) / maxUint64Float
}

// Intn draws the next value in [0, n).
func (s *Stream) Intn(n int) int {
	return int(s.Uint64() % uint64(n))
}

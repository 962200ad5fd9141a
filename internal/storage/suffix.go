package storage

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// suffixLength is the number of hex characters appended to every allocated filename.
const suffixLength = 8

// Suffix strategy names accepted in configuration.
const (
	SuffixRandom  = "random"
	SuffixCounter = "counter"
	SuffixBlake2b = "blake2b"
)

// SuffixGenerator produces the disambiguating part of an allocated filename.
// content may be nil when the caller does not have the artifact bytes at hand.
type SuffixGenerator interface {
	Suffix(content []byte) string
}

// NewSuffixGenerator resolves a configured strategy name.
func NewSuffixGenerator(name string) (SuffixGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", SuffixRandom:
		return RandomSuffix{}, nil
	case SuffixCounter:
		return NewCounterSuffix(), nil
	case SuffixBlake2b:
		return ContentHashSuffix{}, nil
	default:
		return nil, fmt.Errorf("unknown suffix strategy %q", name)
	}
}

// RandomSuffix takes the leading hex characters of a random UUID.
// Uniqueness is probabilistic: two allocations in the same second collide with probability 2^-32.
type RandomSuffix struct{}

func (RandomSuffix) Suffix([]byte) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLength]
}

// CounterSuffix is a process-wide monotonic counter. It never repeats within
// 2^32 allocations of one process; the random seed keeps restarts apart.
type CounterSuffix struct {
	next atomic.Uint32
}

func NewCounterSuffix() *CounterSuffix {
	c := &CounterSuffix{}
	var seed [4]byte
	if _, err := rand.Read(seed[:]); err == nil {
		c.next.Store(binary.BigEndian.Uint32(seed[:]))
	}
	return c
}

func (c *CounterSuffix) Suffix([]byte) string {
	return fmt.Sprintf("%08x", c.next.Add(1))
}

// ContentHashSuffix derives the suffix from a BLAKE2b-256 digest of the artifact.
// Identical content within the same second maps to the same key, which rewrites identical bytes.
type ContentHashSuffix struct{}

func (ContentHashSuffix) Suffix(content []byte) string {
	if len(content) == 0 {
		return RandomSuffix{}.Suffix(nil)
	}
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])[:suffixLength]
}

package domain

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Card represents a single issued business card. The identity seed is fixed
// at mint; name and URI change over the card's life as it is renamed, swapped,
// or re-elaborated by the oracle.
type Card struct {
	ID           uint64
	Name         string
	Position     string
	IdentitySeed *big.Int
	URI          string // empty until the first oracle round-trip completes
	Owner        common.Address
	MintedAt     time.Time
	UpdatedAt    time.Time
}

// CardProperties carries the caller-supplied mutable fields of a card.
// An empty Name or Position means "no change" on update paths.
type CardProperties struct {
	Name     string `json:"name"`
	Position string `json:"position"`
}

// NormalizeName lowercases a card name for reservation purposes. Reservation
// is case-insensitive: "Alice" and "alice" contend for the same slot.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

const (
	// MinNameLength and MaxNameLength bound the printable length of a card name.
	MinNameLength = 1
	MaxNameLength = 32

	// MaxPositionLength bounds the job-position string printed on a card.
	MaxPositionLength = 32
)

// ValidName reports whether name is an acceptable card name: within length
// bounds and consisting of printable ASCII without leading/trailing or
// doubled spaces.
func ValidName(name string) bool {
	if len(name) < MinNameLength || len(name) > MaxNameLength {
		return false
	}
	if name != strings.TrimSpace(name) || strings.Contains(name, "  ") {
		return false
	}
	return printableASCII(name)
}

// ValidPosition reports whether position is an acceptable job-position string.
func ValidPosition(position string) bool {
	if len(position) > MaxPositionLength {
		return false
	}
	return printableASCII(position)
}

func printableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

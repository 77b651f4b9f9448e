// Package crypto provides identity-seed derivation, HMAC authentication for
// the oracle callback channel, and encrypted secret storage.
package crypto

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

// IdentitySeed derives a card's identity seed from the mint context:
// Keccak-256 over (unix-nano timestamp, caller address, normalized name,
// card id), interpreted as an unsigned 256-bit integer.
//
// The inputs are readily predictable; the seed is committed flavor data that
// the oracle elaborates into a descriptor, not a security token. Nothing may
// rely on its unpredictability.
func IdentitySeed(at time.Time, caller common.Address, name string, cardID uint64) *big.Int {
	var ts, id [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(at.UnixNano()))
	binary.BigEndian.PutUint64(id[:], cardID)

	digest := ethcrypto.Keccak256(
		ts[:],
		caller.Bytes(),
		[]byte(domain.NormalizeName(name)),
		id[:],
	)
	return new(big.Int).SetBytes(digest)
}

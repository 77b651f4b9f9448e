package bank

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

var (
	alice = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestTransfer(t *testing.T) {
	b := New()
	b.Deposit(alice, big.NewInt(100))

	require.NoError(t, b.Transfer(alice, bob, big.NewInt(40)))
	require.Equal(t, int64(60), b.BalanceOf(alice).Int64())
	require.Equal(t, int64(40), b.BalanceOf(bob).Int64())
}

func TestTransferInsufficientFunds(t *testing.T) {
	b := New()
	b.Deposit(alice, big.NewInt(10))

	err := b.Transfer(alice, bob, big.NewInt(11))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// No partial movement.
	require.Equal(t, int64(10), b.BalanceOf(alice).Int64())
	require.Equal(t, int64(0), b.BalanceOf(bob).Int64())
}

func TestTransferBlockedRecipient(t *testing.T) {
	b := New()
	b.Deposit(alice, big.NewInt(10))
	b.Block(bob)

	require.ErrorIs(t, b.Transfer(alice, bob, big.NewInt(5)), domain.ErrTransferRejected)
	require.Equal(t, int64(10), b.BalanceOf(alice).Int64())

	b.Unblock(bob)
	require.NoError(t, b.Transfer(alice, bob, big.NewInt(5)))
}

func TestZeroTransferIsNoop(t *testing.T) {
	b := New()
	require.NoError(t, b.Transfer(alice, bob, nil))
	require.NoError(t, b.Transfer(alice, bob, big.NewInt(0)))
}

func TestBalanceOfReturnsCopy(t *testing.T) {
	b := New()
	b.Deposit(alice, big.NewInt(5))

	bal := b.BalanceOf(alice)
	bal.SetInt64(999)
	require.Equal(t, int64(5), b.BalanceOf(alice).Int64())
}

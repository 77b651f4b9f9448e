package token

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

var (
	owner    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	spender  = common.HexToAddress("0x0000000000000000000000000000000000000002")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000003")
)

func TestMintAndOwnerOf(t *testing.T) {
	r := NewRegistry()

	require.False(t, r.Exists(1))
	require.NoError(t, r.Mint(owner, 1))
	require.True(t, r.Exists(1))

	got, err := r.OwnerOf(1)
	require.NoError(t, err)
	require.Equal(t, owner, got)

	require.Error(t, r.Mint(owner, 1))
}

func TestTransferRequiresOwner(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Mint(owner, 1))

	require.ErrorIs(t, r.Transfer(stranger, spender, 1), domain.ErrNotOwnerOrApproved)
	require.ErrorIs(t, r.Transfer(owner, spender, 99), domain.ErrCardNotFound)

	require.NoError(t, r.Transfer(owner, spender, 1))
	got, err := r.OwnerOf(1)
	require.NoError(t, err)
	require.Equal(t, spender, got)
}

func TestApprovals(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Mint(owner, 1))

	ok, err := r.IsApprovedOrOwner(spender, 1)
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, r.Approve(stranger, spender, 1), domain.ErrNotOwnerOrApproved)
	require.NoError(t, r.Approve(owner, spender, 1))

	ok, err = r.IsApprovedOrOwner(spender, 1)
	require.NoError(t, err)
	require.True(t, ok)

	// Transfer clears approvals.
	require.NoError(t, r.Transfer(owner, stranger, 1))
	ok, err = r.IsApprovedOrOwner(spender, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

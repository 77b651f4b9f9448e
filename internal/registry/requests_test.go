package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

func TestRequestLedgerMarkAndClear(t *testing.T) {
	l := NewRequestLedger()

	require.False(t, l.IsPending(1))

	require.NoError(t, l.MarkPending(1))
	require.True(t, l.IsPending(1))

	require.NoError(t, l.Clear(1))
	require.False(t, l.IsPending(1))
}

func TestRequestLedgerSecondRequestRejected(t *testing.T) {
	l := NewRequestLedger()

	require.NoError(t, l.MarkPending(7))
	require.ErrorIs(t, l.MarkPending(7), domain.ErrRequestPending)

	// After the first resolves, a new request goes through again.
	require.NoError(t, l.Clear(7))
	require.NoError(t, l.MarkPending(7))
}

func TestRequestLedgerClearWithoutPending(t *testing.T) {
	l := NewRequestLedger()

	require.ErrorIs(t, l.Clear(42), domain.ErrRequestNotPending)

	// Cards are independent.
	require.NoError(t, l.MarkPending(1))
	require.ErrorIs(t, l.Clear(2), domain.ErrRequestNotPending)
	require.True(t, l.IsPending(1))
}

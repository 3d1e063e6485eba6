package enrich

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeasePolicy_RecyclesAfterMaxLeases(t *testing.T) {
	t.Parallel()

	p := newLeasePolicy(3)
	for i := 0; i < 3; i++ {
		require.False(t, p.noteAcquire(), "lease %d should not recycle", i)
		p.noteRelease()
	}
	require.True(t, p.noteAcquire())
	p.noteRelease()

	// Counter restarted after the recycle.
	require.False(t, p.noteAcquire())
	p.noteRelease()
}

func TestLeasePolicy_NeverRecyclesWhileLeasesOutstanding(t *testing.T) {
	t.Parallel()

	p := newLeasePolicy(1)
	require.False(t, p.noteAcquire())
	// A second concurrent lease is past the budget but cannot recycle
	// under the first one.
	require.False(t, p.noteAcquire())
	p.noteRelease()
	p.noteRelease()
	require.True(t, p.noteAcquire())
	p.noteRelease()
}

func TestLeasePolicy_ZeroBudgetNeverRecycles(t *testing.T) {
	t.Parallel()

	p := newLeasePolicy(0)
	for i := 0; i < 100; i++ {
		require.False(t, p.noteAcquire())
		p.noteRelease()
	}
}

func TestLeasePolicy_ResetClearsUsage(t *testing.T) {
	t.Parallel()

	p := newLeasePolicy(2)
	require.False(t, p.noteAcquire())
	p.noteRelease()
	require.False(t, p.noteAcquire())
	p.noteRelease()
	p.reset()
	require.False(t, p.noteAcquire())
	p.noteRelease()
}

package replicas

import (
	"github.com/janpfeifer/apagan/internal/losses"
	"github.com/stretchr/testify/require"
	"testing"
)

var _ losses.SynchronizationScope = (*Local)(nil)

func TestLocal(t *testing.T) {
	r := NewLocal()
	exitMapping := r.Enter(losses.SyncMapping, true)
	exitDisc := r.Enter(losses.SyncDiscriminator, false)
	require.Equal(t, 1, r.Active(losses.SyncMapping))
	require.Equal(t, 1, r.Active(losses.SyncDiscriminator))

	exitMapping()
	exitMapping() // Exiting twice is a no-op.
	exitDisc()
	require.Zero(t, r.Active(losses.SyncMapping))
	require.Zero(t, r.Active(losses.SyncDiscriminator))

	synchronized, local := r.Counts(losses.SyncMapping)
	require.Equal(t, 1, synchronized)
	require.Zero(t, local)
	synchronized, local = r.Counts(losses.SyncDiscriminator)
	require.Zero(t, synchronized)
	require.Equal(t, 1, local)
}

package staging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scientistigwe/pipelinecore/pkg/broker"
	"github.com/scientistigwe/pipelinecore/pkg/registry"
	"github.com/scientistigwe/pipelinecore/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b := broker.New(registry.New(), broker.Options{Workers: 1, QueueDepth: 16})
	b.Start(1)
	t.Cleanup(b.Stop)

	mgr, err := NewManager(store, b)
	require.NoError(t, err)
	return mgr
}

func owner(name string) types.ComponentIdentifier {
	return types.ComponentIdentifier{Name: name, Role: "manager", InstanceID: "owner-instance"}
}

func TestStoreThenRetrieveByOwner(t *testing.T) {
	mgr := newTestManager(t)

	entry, err := mgr.Store("stage-1", "pipeline-1", owner("quality_manager"), []byte("payload"), "csv", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, types.StagingStored, entry.State)
	assert.InDelta(t, 1.0, entry.QualityScore, 0.001)

	payload, _, err := mgr.Retrieve("stage-1", owner("quality_manager"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), payload)
}

func TestDuplicateStoreReturnsError(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.Store("stage-1", "pipeline-1", owner("quality_manager"), []byte("payload"), "csv", time.Hour)
	require.NoError(t, err)

	_, err = mgr.Store("stage-1", "pipeline-1", owner("quality_manager"), []byte("other"), "csv", time.Hour)
	assert.ErrorIs(t, err, ErrDuplicateStage)
}

func TestRetrieveWithoutGrantIsDenied(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.Store("stage-1", "pipeline-1", owner("quality_manager"), []byte("payload"), "csv", time.Hour)
	require.NoError(t, err)

	_, _, err = mgr.Retrieve("stage-1", owner("insight_manager"))
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestGrantThenRetrieveSucceeds(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.Store("stage-1", "pipeline-1", owner("quality_manager"), []byte("payload"), "csv", time.Hour)
	require.NoError(t, err)

	require.NoError(t, mgr.Grant("stage-1", owner("insight_manager")))

	payload, _, err := mgr.Retrieve("stage-1", owner("insight_manager"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), payload)
}

func TestQualityScoreComponents(t *testing.T) {
	assert.InDelta(t, 1.0, computeQualityScore([]byte("x"), "csv"), 0.001)
	assert.InDelta(t, 0.8333, computeQualityScore([]byte("x"), ""), 0.001)
	assert.InDelta(t, 0.5/3, computeQualityScore(nil, ""), 0.001)
}

func TestDeleteUnknownIDIsNotAnError(t *testing.T) {
	mgr := newTestManager(t)
	assert.NoError(t, mgr.Delete("does-not-exist"))
}

func TestDeleteRemovesPayloadAndEntry(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.Store("stage-1", "pipeline-1", owner("quality_manager"), []byte("payload"), "csv", time.Hour)
	require.NoError(t, err)

	require.NoError(t, mgr.Delete("stage-1"))

	_, _, err = mgr.Retrieve("stage-1", owner("quality_manager"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweepExpiredEntriesOnly(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.Store("fresh", "pipeline-1", owner("quality_manager"), []byte("payload"), "csv", time.Hour)
	require.NoError(t, err)
	_, err = mgr.Store("stale", "pipeline-1", owner("quality_manager"), []byte("payload"), "csv", time.Millisecond)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	deleted, err := mgr.sweepExpired(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, _, err = mgr.Retrieve("fresh", owner("quality_manager"))
	assert.NoError(t, err)

	_, _, err = mgr.Retrieve("stale", owner("quality_manager"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountsByStateAndBytesStored(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.Store("stage-1", "pipeline-1", owner("quality_manager"), []byte("12345"), "csv", time.Hour)
	require.NoError(t, err)
	_, err = mgr.Store("stage-2", "pipeline-1", owner("quality_manager"), []byte("67"), "csv", time.Hour)
	require.NoError(t, err)

	counts := mgr.CountsByState()
	assert.Equal(t, 2, counts[string(types.StagingStored)])
	assert.EqualValues(t, 7, mgr.BytesStored())
}

package snapshot

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/scientistigwe/pipelinecore/pkg/cpm"
	"github.com/scientistigwe/pipelinecore/pkg/log"
)

// Manager captures a pipeline's current CPM state into a Store. It
// holds no broker subscription of its own -- capture is always
// caller-initiated, never triggered by a message.
type Manager struct {
	store  *Store
	cpm    *cpm.Manager
	logger zerolog.Logger
}

// NewManager returns a Manager that reads pipeline state from cpmMgr
// and persists it through store.
func NewManager(store *Store, cpmMgr *cpm.Manager) *Manager {
	return &Manager{
		store:  store,
		cpm:    cpmMgr,
		logger: log.WithComponent("snapshot"),
	}
}

// Capture reads pipelineID's current status from the CPM and saves it.
func (m *Manager) Capture(pipelineID string) (Snapshot, error) {
	status, err := m.cpm.GetPipelineStatus(pipelineID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: capture: %w", err)
	}

	snap := Snapshot{
		PipelineID:   pipelineID,
		CurrentStage: status.CurrentStage,
		Status:       status.Status,
		Active:       status.Active,
		History:      status.History,
		ErrorKind:    status.ErrorKind,
		ErrorMessage: status.ErrorMessage,
		CapturedAt:   time.Now(),
	}

	if err := m.store.Save(snap); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: save: %w", err)
	}
	m.logger.Info().Str("pipeline_id", pipelineID).Msg("captured snapshot")
	return snap, nil
}

// Get returns pipelineID's last saved snapshot without touching the CPM.
func (m *Manager) Get(pipelineID string) (Snapshot, bool, error) {
	return m.store.Load(pipelineID)
}

// List returns every snapshot currently stored.
func (m *Manager) List() ([]Snapshot, error) {
	return m.store.List()
}

// Forget deletes pipelineID's stored snapshot.
func (m *Manager) Forget(pipelineID string) error {
	return m.store.Delete(pipelineID)
}

package staging

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scientistigwe/pipelinecore/pkg/broker"
	"github.com/scientistigwe/pipelinecore/pkg/log"
	"github.com/scientistigwe/pipelinecore/pkg/types"
)

// DefaultRetention is the per-entry retention window used when a
// caller does not specify one, per spec.md §4.3 "Retention".
const DefaultRetention = 24 * time.Hour

// Manager is the Staging Manager: it owns every StagingEntry, the
// payloads behind them, and the per-entry granted_to access list.
type Manager struct {
	store    *Store
	broker   *broker.Broker
	identity types.ComponentIdentifier
	logger   zerolog.Logger

	// indexMu guards the set of entries as a whole (creation/deletion);
	// entryLocks guards mutation of one entry's granted_to/state so two
	// stores for the same stage_id never race, per spec.md's "first
	// store wins" invariant.
	indexMu    sync.Mutex
	entryLocks map[string]*sync.Mutex
}

// NewManager constructs a Manager backed by store, registering itself
// with b as the staging_manager component.
func NewManager(store *Store, b *broker.Broker) (*Manager, error) {
	identity := types.ComponentIdentifier{
		Name: "staging_manager",
		Type: types.ComponentStagingManager,
		Role: "manager",
	}
	identity, err := b.Register(identity)
	if err != nil {
		return nil, fmt.Errorf("staging: register with broker: %w", err)
	}

	return &Manager{
		store:      store,
		broker:     b,
		identity:   identity,
		logger:     log.WithComponent("staging"),
		entryLocks: make(map[string]*sync.Mutex),
	}, nil
}

func (m *Manager) lockFor(stageID string) *sync.Mutex {
	m.indexMu.Lock()
	defer m.indexMu.Unlock()
	l, ok := m.entryLocks[stageID]
	if !ok {
		l = &sync.Mutex{}
		m.entryLocks[stageID] = l
	}
	return l
}

// Store records a new staging entry and its payload. The first store
// for a given stageID wins; subsequent calls return ErrDuplicateStage.
func (m *Manager) Store(stageID, pipelineID string, owner types.ComponentIdentifier, payload []byte, format string, retention time.Duration) (types.StagingEntry, error) {
	lock := m.lockFor(stageID)
	lock.Lock()
	defer lock.Unlock()

	if _, found, err := m.store.getEntry(stageID); err != nil {
		return types.StagingEntry{}, fmt.Errorf("staging: check existing entry: %w", err)
	} else if found {
		return types.StagingEntry{}, ErrDuplicateStage
	}

	if retention <= 0 {
		retention = DefaultRetention
	}

	now := time.Now()
	entry := types.StagingEntry{
		StageID:        stageID,
		PipelineID:     pipelineID,
		OwnerComponent: owner,
		State:          types.StagingStored,
		PayloadHandle:  stageID,
		SizeBytes:      int64(len(payload)),
		Format:         format,
		QualityScore:   computeQualityScore(payload, format),
		GrantedTo:      map[string]bool{owner.Tag(): true},
		Retention:      retention,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := m.store.putPayload(stageID, payload); err != nil {
		return types.StagingEntry{}, fmt.Errorf("staging: write payload: %w", err)
	}
	if err := m.store.putEntry(entry); err != nil {
		return types.StagingEntry{}, fmt.Errorf("staging: write entry: %w", err)
	}

	m.logger.Info().Str("stage_id", stageID).Str("pipeline_id", pipelineID).
		Float64("quality_score", entry.QualityScore).Msg("staged output stored")

	m.publish(types.MessageStagingStored, pipelineID, map[string]any{
		"stage_id":      stageID,
		"quality_score": entry.QualityScore,
		"size_bytes":    entry.SizeBytes,
	})

	return entry, nil
}

// Retrieve returns the payload for stageID if requester has been
// granted access; otherwise returns ErrAccessDenied.
func (m *Manager) Retrieve(stageID string, requester types.ComponentIdentifier) ([]byte, types.StagingEntry, error) {
	lock := m.lockFor(stageID)
	lock.Lock()
	defer lock.Unlock()

	entry, found, err := m.store.getEntry(stageID)
	if err != nil {
		return nil, types.StagingEntry{}, fmt.Errorf("staging: read entry: %w", err)
	}
	if !found {
		return nil, types.StagingEntry{}, ErrNotFound
	}

	if !entry.GrantedTo[requester.Tag()] {
		m.logger.Warn().Str("stage_id", stageID).Str("requester", requester.Tag()).
			Msg("retrieve refused: requester not in granted_to")
		m.publish(types.MessageStagingAccessDenied, entry.PipelineID, map[string]any{
			"stage_id": stageID, "requester": requester.Tag(),
		})
		return nil, entry, ErrAccessDenied
	}

	payload, found, err := m.store.getPayload(stageID)
	if err != nil {
		return nil, entry, fmt.Errorf("staging: read payload: %w", err)
	}
	if !found {
		return nil, entry, ErrNotFound
	}

	return payload, entry, nil
}

// Grant adds component to stageID's granted_to set. Access is always
// explicit; there is no ambient grant.
func (m *Manager) Grant(stageID string, component types.ComponentIdentifier) error {
	return m.addGrant(stageID, component)
}

// RequestAccess is Grant from the requester's own perspective -- a
// component asking to be added to a stage's granted_to set.
func (m *Manager) RequestAccess(stageID string, requester types.ComponentIdentifier) error {
	return m.addGrant(stageID, requester)
}

func (m *Manager) addGrant(stageID string, component types.ComponentIdentifier) error {
	lock := m.lockFor(stageID)
	lock.Lock()
	defer lock.Unlock()

	entry, found, err := m.store.getEntry(stageID)
	if err != nil {
		return fmt.Errorf("staging: read entry: %w", err)
	}
	if !found {
		return ErrNotFound
	}

	if entry.GrantedTo == nil {
		entry.GrantedTo = make(map[string]bool)
	}
	entry.GrantedTo[component.Tag()] = true
	entry.UpdatedAt = time.Now()

	if err := m.store.putEntry(entry); err != nil {
		return fmt.Errorf("staging: persist grant: %w", err)
	}
	m.logger.Debug().Str("stage_id", stageID).Str("component", component.Tag()).Msg("access granted")
	return nil
}

// Delete removes stageID's entry and payload, publishing
// StagingDeleteComplete. Deleting an unknown id is not an error.
func (m *Manager) Delete(stageID string) error {
	lock := m.lockFor(stageID)
	lock.Lock()
	defer lock.Unlock()

	entry, found, err := m.store.getEntry(stageID)
	if err != nil {
		return fmt.Errorf("staging: read entry: %w", err)
	}
	if !found {
		return nil
	}

	if err := m.store.deletePayload(stageID); err != nil {
		return fmt.Errorf("staging: delete payload: %w", err)
	}
	if err := m.store.deleteEntry(stageID); err != nil {
		return fmt.Errorf("staging: delete entry: %w", err)
	}

	m.logger.Info().Str("stage_id", stageID).Msg("staging entry deleted")
	m.publish(types.MessageStagingDeleteComplete, entry.PipelineID, map[string]any{
		"stage_id": stageID,
	})
	return nil
}

// CountsByState satisfies metrics.StagingStats, used by the metrics
// collector to refresh the staging gauges.
func (m *Manager) CountsByState() map[string]int {
	entries, err := m.store.listEntries()
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to list entries for metrics")
		return nil
	}
	counts := make(map[string]int)
	for _, e := range entries {
		counts[string(e.State)]++
	}
	return counts
}

// BytesStored satisfies metrics.StagingStats.
func (m *Manager) BytesStored() int64 {
	entries, err := m.store.listEntries()
	if err != nil {
		return 0
	}
	var total int64
	for _, e := range entries {
		total += e.SizeBytes
	}
	return total
}

// sweepExpired deletes every entry whose retention window has elapsed,
// returning the number deleted. Called by Sweeper.
func (m *Manager) sweepExpired(now time.Time) (int, error) {
	entries, err := m.store.listEntries()
	if err != nil {
		return 0, fmt.Errorf("staging: list entries for sweep: %w", err)
	}

	deleted := 0
	for _, entry := range entries {
		if now.Sub(entry.CreatedAt) <= entry.Retention {
			continue
		}
		if err := m.Delete(entry.StageID); err != nil {
			return deleted, fmt.Errorf("staging: sweep delete %s: %w", entry.StageID, err)
		}
		deleted++
	}
	return deleted, nil
}

func (m *Manager) publish(msgType types.MessageType, pipelineID string, content map[string]any) {
	_, err := m.broker.Publish(types.Message{
		Type:          msgType,
		Source:        m.identity,
		Target:        m.identity,
		Content:       content,
		CorrelationID: pipelineID,
	})
	if err != nil {
		m.logger.Error().Err(err).Str("pipeline_id", pipelineID).Msg("failed to publish staging event")
	}
}

// computeQualityScore mirrors staging_area.py's three checks: data
// presence, non-zero size, and a declared format. Each check
// contributes up to 1.0; a missing format is only half-penalized, the
// same leniency the original gives it.
func computeQualityScore(payload []byte, format string) float64 {
	var score float64

	if payload != nil {
		score += 1.0
	}
	if len(payload) > 0 {
		score += 1.0
	}
	if format != "" {
		score += 1.0
	} else {
		score += 0.5
	}

	return score / 3.0
}

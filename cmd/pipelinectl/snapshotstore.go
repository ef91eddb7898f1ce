package main

import (
	"fmt"

	"github.com/scientistigwe/pipelinecore/pkg/snapshot"
	"github.com/scientistigwe/pipelinecore/pkg/staging"
)

// openSnapshotStore opens dataDir's bbolt file for snapshot queries and
// deletion (status/list/snapshot) without booting a broker, CPM, or any
// department facade -- those only matter to a process that is actually
// driving a pipeline, which "status"/"list"/"snapshot" never do.
func openSnapshotStore(dataDir string) (*snapshot.Store, func(), error) {
	stagingStore, err := staging.OpenStore(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("pipelinectl: open data dir: %w", err)
	}

	store, err := snapshot.Open(stagingStore.DB())
	if err != nil {
		stagingStore.Close()
		return nil, nil, fmt.Errorf("pipelinectl: open snapshot store: %w", err)
	}

	return store, func() { stagingStore.Close() }, nil
}

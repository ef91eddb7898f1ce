package types

import "time"

// StagingState is the lifecycle of one StagingEntry.
type StagingState string

const (
	StagingPending  StagingState = "PENDING"
	StagingStored   StagingState = "STORED"
	StagingReleased StagingState = "RELEASED"
	StagingDeleted  StagingState = "DELETED"
	StagingError    StagingState = "ERROR"
)

// StagingEntry is the metadata record for one stage's staged output.
// The payload itself lives behind PayloadHandle in the Staging
// Manager's backing store; StagingEntry never embeds it directly.
type StagingEntry struct {
	StageID        string
	PipelineID     string
	OwnerComponent ComponentIdentifier
	State          StagingState
	PayloadHandle  string
	SizeBytes      int64
	Format         string
	QualityScore   float64
	GrantedTo      map[string]bool // keyed by ComponentIdentifier.Tag()
	Retention      time.Duration
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

package staging

import "errors"

var (
	// ErrNotFound is returned by Retrieve, Grant, and RequestAccess for
	// an unknown stage id. Delete of an unknown id returns nil instead.
	ErrNotFound = errors.New("staging: entry not found")
	// ErrAccessDenied is returned by Retrieve when requester is not in
	// the entry's granted_to set.
	ErrAccessDenied = errors.New("staging: access denied")
	// ErrDuplicateStage is returned by Store when stage_id already has
	// an entry; the first store wins.
	ErrDuplicateStage = errors.New("staging: stage already staged")
)

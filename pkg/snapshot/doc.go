/*
Package snapshot is the optional persistence collaborator spec.md §6
allows: it captures a pipeline's current stage/status plus its active
and archived control points so a restarted process can inspect what a
pipeline was doing, without the Control-Point Manager itself ever
depending on it. Nothing in pkg/cpm calls this package -- a caller
(typically cmd/pipelinectl) decides when to capture or list snapshots.

Grounded on pkg/storage/boltdb.go's bucketed-JSON pattern, opened
against the same go.etcd.io/bbolt file the Staging Manager already
uses (a separate bucket), per SPEC_FULL.md §10.8.
*/
package snapshot

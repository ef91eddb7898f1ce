/*
Package staging implements the Staging Manager: a store keyed by stage
id that holds each stage's output under a stable handle so the next
stage can consume it without re-fetching from the origin.

Entries and their payloads are persisted in a bbolt database (grounded
on pkg/storage's bucketed-JSON pattern): one bucket for StagingEntry
metadata, one for the raw payload bytes keyed by the same stage id,
which is what gives payload_handle concrete meaning. Access is
mediated by a granted_to set per entry -- retrieval by a component not
in that set is refused, never silently served. A background sweeper,
grounded on pkg/reconciler's ticker-plus-lock cycle, reaps entries past
their retention window and backs off exponentially when deletes fail.
*/
package staging

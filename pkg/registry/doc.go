/*
Package registry implements the Component Registry: it assigns and
remembers a stable instance id for every named component and tracks
each component's dependency/dependent graph.

get_id(name) returns the existing id if the name has been seen before,
otherwise it allocates one and stores it -- two callers naming the same
component always resolve to the same instance id, which is what lets
the broker de-alias stale ids at publish time (spec.md §4.2).

The registry is explicitly constructed by its owner with New (in
pipelinectl, the App hands a fresh one to broker.New) rather than built
lazily on first access, per spec.md §9 "Global registry". It has no
teardown method; it lives as long as its owner holds it.
*/
package registry

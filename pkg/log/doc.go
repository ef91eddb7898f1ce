/*
Package log provides structured logging for pipelinecore using zerolog.

A single global logger is initialized once via Init and scoped per
package with WithComponent; call sites that need to tag a specific
pipeline, control point, or stage use WithPipelineID, WithControlPointID,
or WithStageID instead of attaching ad hoc fields.
*/
package log

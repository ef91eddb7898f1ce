package worker

import "context"

// EchoHandler is a trivial Handler used by tests (and by example
// pipelines with no real department logic) to exercise the full
// publish/subscribe path: it always succeeds, optionally echoing a
// fixed set of quality issues.
type EchoHandler struct {
	QualityIssues []string
}

// Handle implements Handler.
func (e EchoHandler) Handle(ctx context.Context, req Request) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}
	return Result{
		QualityIssues: e.QualityIssues,
		Metadata:      map[string]any{"echoed_stage": string(req.Stage)},
	}, nil
}

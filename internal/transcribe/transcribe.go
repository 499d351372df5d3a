// Package transcribe defines the contract for the external transcription
// function the scheduler drives, plus an adapter that shells out to a
// whisper-style CLI so the daemon runs out of the box.
package transcribe

import (
	"context"

	"transcription-scheduler/internal/models"
)

// Request bundles the media descriptor and options for one transcription.
type Request struct {
	Input   models.Input
	Options models.Options
}

// Transcriber is the opaque, slow external function. Implementations should
// honor ctx for deadlines and cooperative cancellation and may push progress
// percentages through the callback; the scheduler never polls.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request, progress func(pct int)) (models.Result, error)
}

// Func adapts a plain function to the Transcriber interface.
type Func func(ctx context.Context, req Request, progress func(pct int)) (models.Result, error)

func (f Func) Transcribe(ctx context.Context, req Request, progress func(pct int)) (models.Result, error) {
	return f(ctx, req, progress)
}

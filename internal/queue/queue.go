// Package queue carries integration jobs from the HTTP request that finalises a
// transcript to the workers that run conflict detection.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrClosed = errors.New("queue closed")

// Job asks for conflict detection on one transcript.
type Job struct {
	TranscriptID uuid.UUID `json:"transcription_id"`
	RequestedAt  time.Time `json:"requested_at"`
}

// Handler processes one job. Errors are logged by the queue; jobs are not retried
// automatically (a transcript left in Checking For Conflicts can be rechecked).
type Handler func(ctx context.Context, job Job) error

// Queue is implemented by Local and NATS.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Start(ctx context.Context, h Handler) error
	Close()
}

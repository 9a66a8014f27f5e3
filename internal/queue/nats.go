package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/scribe/internal/hermes"
)

// Bus is the part of the hermes client the NATS queue uses.
type Bus interface {
	Publish(subject string, data any) error
	QueueSubscribe(subject, queue string, handler func(subject string, data []byte)) error
}

var _ Bus = (*hermes.Client)(nil)

// NATS publishes jobs to SubjectIntegrationRequested. Every scribe instance joins
// the same queue group, so each job is handled by exactly one of them; received
// jobs are fed to a Local queue for the instance's own worker pool.
type NATS struct {
	bus    Bus
	local  *Local
	logger *slog.Logger
}

var _ Queue = (*NATS)(nil)

func NewNATS(bus Bus, buffer, workers int, logger *slog.Logger) *NATS {
	return &NATS{
		bus:    bus,
		local:  NewLocal(buffer, workers, logger),
		logger: logger,
	}
}

func (q *NATS) Enqueue(_ context.Context, job Job) error {
	if err := q.bus.Publish(hermes.SubjectIntegrationRequested, job); err != nil {
		return fmt.Errorf("publish integration job: %w", err)
	}
	return nil
}

func (q *NATS) Start(ctx context.Context, h Handler) error {
	if err := q.local.Start(ctx, h); err != nil {
		return err
	}
	return q.bus.QueueSubscribe(hermes.SubjectIntegrationRequested, hermes.IntegrationQueue, func(_ string, data []byte) {
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			q.logger.Warn("invalid integration job", "error", err)
			return
		}
		if err := q.local.Enqueue(ctx, job); err != nil {
			q.logger.Error("failed to queue integration job",
				"transcript_id", job.TranscriptID,
				"error", err,
			)
		}
	})
}

// Close drains the local workers. The bus subscription is closed with the hermes
// client.
func (q *NATS) Close() {
	q.local.Close()
}

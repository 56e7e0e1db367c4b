package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aaurelions/pokertools-sub001/internal/queue"
	"github.com/aaurelions/pokertools-sub001/internal/room"
)

// Register wires every job name to its handler on one queue worker.
func Register(w *queue.Worker, rooms *room.Service, settler *Settler, persister *Persister, archiver *Archiver) {
	w.Handle(queue.JobSettleHand, settler.HandleSettleHand)
	w.Handle(queue.JobPersistSnapshot, persister.HandlePersistSnapshot)
	w.Handle(queue.JobArchiveHand, archiver.HandleArchiveHand)
	w.Handle(queue.JobPlayerTimeout, timeoutHandler(rooms))
	w.Handle(queue.JobNextHand, nextHandHandler(rooms))
}

// timeoutHandler forwards expired clocks to the orchestrator. Errors bubble
// up so the queue retries; stale timers already drop to nil inside.
func timeoutHandler(rooms *room.Service) queue.HandlerFunc {
	return func(ctx context.Context, job queue.Job) error {
		var payload room.TimeoutJob
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode timeout payload: %w", err)
		}
		return rooms.ApplyTimeout(ctx, payload)
	}
}

func nextHandHandler(rooms *room.Service) queue.HandlerFunc {
	return func(ctx context.Context, job queue.Job) error {
		var payload room.NextHandJob
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode next-hand payload: %w", err)
		}
		return rooms.AutoDeal(ctx, payload.TableID)
	}
}

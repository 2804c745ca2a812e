// Package worker runs background jobs off the request path.
//
// Two backends share the Queue contract:
//   - Pool: a fixed number of in-process workers reading a bounded channel.
//     Enqueue never blocks; a full queue is reported as ErrQueueFull so the
//     caller can push back (the marketplace redelivers unacknowledged
//     webhooks).
//   - AsynqQueue/AsynqServer: the same jobs persisted in Redis, used when a
//     Redis URL is configured so queued work survives restarts.
package worker

import (
	"context"
	"errors"
)

var (
	ErrQueueFull = errors.New("worker: queue is full")
	ErrStopped   = errors.New("worker: pool is stopped")
)

// Job is one unit of background work. Kind selects the handler; Key, when
// set, identifies the job for de-duplication by backends that support it.
type Job struct {
	Kind    string
	Key     string
	Payload []byte
}

// Handler processes a job payload. The context carries the job deadline.
type Handler func(ctx context.Context, payload []byte) error

// Queue accepts jobs for asynchronous execution.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

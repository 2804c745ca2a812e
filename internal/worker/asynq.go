package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// AsynqQueue enqueues jobs into Redis through asynq.
type AsynqQueue struct {
	client     *asynq.Client
	jobTimeout time.Duration
}

var _ Queue = (*AsynqQueue)(nil)

// NewAsynqQueue connects to the Redis instance at redisURL
// (redis://[:password@]host:port[/db]).
func NewAsynqQueue(redisURL string, jobTimeout time.Duration) (*AsynqQueue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("worker: parsing redis url: %w", err)
	}
	return &AsynqQueue{
		client:     asynq.NewClient(opt),
		jobTimeout: jobTimeout,
	}, nil
}

// Enqueue stores job in Redis. Jobs are not retried; a job with a Key that
// is already queued is accepted silently.
func (q *AsynqQueue) Enqueue(ctx context.Context, job Job) error {
	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Timeout(q.jobTimeout),
	}
	if job.Key != "" {
		opts = append(opts, asynq.TaskID(job.Kind+":"+job.Key))
	}

	_, err := q.client.EnqueueContext(ctx, asynq.NewTask(job.Kind, job.Payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("worker: enqueueing %s: %w", job.Kind, err)
	}
	return nil
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

// AsynqServer consumes jobs enqueued by AsynqQueue.
type AsynqServer struct {
	srv    *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

func NewAsynqServer(redisURL string, concurrency int, logger *slog.Logger) (*AsynqServer, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("worker: parsing redis url: %w", err)
	}

	s := &AsynqServer{
		mux:    asynq.NewServeMux(),
		logger: logger,
	}
	s.srv = asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		LogLevel:    asynq.WarnLevel,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error("job failed",
				slog.String("kind", task.Type()),
				slog.String("error", err.Error()),
			)
		}),
	})
	return s, nil
}

// Handle registers h for jobs of the given kind. Call before Start.
func (s *AsynqServer) Handle(kind string, h Handler) {
	s.mux.HandleFunc(kind, func(ctx context.Context, t *asynq.Task) error {
		return h(ctx, t.Payload())
	})
}

func (s *AsynqServer) Start() error {
	s.logger.Info("starting asynq worker server")
	if err := s.srv.Start(s.mux); err != nil {
		return fmt.Errorf("worker: starting asynq server: %w", err)
	}
	return nil
}

// Stop waits for active jobs to finish and shuts the server down.
func (s *AsynqServer) Stop() {
	s.srv.Shutdown()
	s.logger.Info("asynq worker server stopped")
}

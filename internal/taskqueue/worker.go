package taskqueue

import (
	"errors"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

// Client enqueues background tasks
type Client struct {
	client *asynq.Client
}

// NewClient creates a client for the Redis at redisAddr
func NewClient(redisAddr string) *Client {
	return &Client{client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

// EnqueueRefresh enqueues a prayer time refresh. Only one refresh is kept
// pending at a time.
func (c *Client) EnqueueRefresh(city string) error {
	log.Printf("TASKQUEUE: Enqueuing prayer time refresh (city: %q)", city)
	task, err := NewRefreshTask(city)
	if err != nil {
		return err
	}
	info, err := c.client.Enqueue(task,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Second),
		asynq.Unique(5*time.Minute),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		log.Printf("TASKQUEUE: Refresh already pending, skipping")
		return nil
	}
	if err != nil {
		log.Printf("TASKQUEUE: Failed to enqueue refresh: %v", err)
		return err
	}
	log.Printf("TASKQUEUE: Successfully enqueued task %s", info.ID)
	return nil
}

// Close closes the client
func (c *Client) Close() error {
	return c.client.Close()
}

// Worker runs the asynq server
type Worker struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

// NewWorker creates a worker serving h
func NewWorker(redisAddr string, h *Handlers) *Worker {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePrayerRefresh, h.HandleRefresh)
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{Concurrency: 10})
	return &Worker{srv: srv, mux: mux}
}

// Start starts processing in the background
func (w *Worker) Start() error {
	log.Printf("TASKQUEUE: Starting workers")
	return w.srv.Start(w.mux)
}

// Stop waits for active tasks and stops the worker
func (w *Worker) Stop() {
	log.Printf("TASKQUEUE: Stopping workers...")
	w.srv.Shutdown()
	log.Printf("TASKQUEUE: Workers stopped")
}

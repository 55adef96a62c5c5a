package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts asynq.RedisClientOpt
	Logger    *slog.Logger
	// Concurrency defaults to 1: submissions of one tenant must not race.
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueFiscal: 1,
		},
		Logger:   newAsynqLogger(cfg.Logger),
		LogLevel: asynq.WarnLevel,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			cfg.Logger.ErrorContext(ctx, "task failed",
				slog.String("job", task.Type()),
				slog.Bool("skip_retry", errors.Is(err, asynq.SkipRetry)),
				slog.Any("error", err),
			)
		}),
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{
			Location: time.UTC,
			Logger:   newAsynqLogger(cfg.Logger),
			LogLevel: asynq.WarnLevel,
		})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, err
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Submission tasks are never retried by the queue; the sweep is the only
// retry path.
func submissionOptions(unique time.Duration) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(QueueFiscal),
		asynq.MaxRetry(0),
		asynq.Unique(unique),
	}
}

// SweepCron registers the periodic retry sweep.
func SweepCron(spec string) (CronRegistration, error) {
	task, err := NewSweepTask("cron")
	if err != nil {
		return CronRegistration{}, err
	}
	return CronRegistration{Spec: spec, Task: task, Options: submissionOptions(55 * time.Minute)}, nil
}

// ReferenceSyncCron registers the periodic code list refresh.
func ReferenceSyncCron(spec string) (CronRegistration, error) {
	task, err := NewReferenceSyncTask(time.Time{})
	if err != nil {
		return CronRegistration{}, err
	}
	return CronRegistration{Spec: spec, Task: task, Options: []asynq.Option{
		asynq.Queue(QueueFiscal),
		asynq.MaxRetry(2),
		asynq.Unique(time.Hour),
	}}, nil
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	client := asynq.NewClient(redisOpts)
	return &Client{client: client}, nil
}

// EnqueueSubmit queues the submission of a document. A submission already
// waiting for the same document is not queued twice; info is nil then.
func (c *Client) EnqueueSubmit(ctx context.Context, class fiscal.Class, documentID string) (*asynq.TaskInfo, error) {
	task, err := NewSubmitTask(class, documentID)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task, submissionOptions(10*time.Minute)...)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil, nil
	}
	return info, err
}

// EnqueueSweep queues an immediate retry sweep.
func (c *Client) EnqueueSweep(ctx context.Context, trigger string) (*asynq.TaskInfo, error) {
	task, err := NewSweepTask(trigger)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task, submissionOptions(5*time.Minute)...)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil, nil
	}
	return info, err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// QueueInspector is the part of asynq.Inspector the health endpoint reads.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// QueueHealth is the body of the queue health endpoint.
type QueueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Archived  int    `json:"archived"`
	Paused    bool   `json:"paused"`
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	body, err := ReadQueueHealth(h.inspector)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// ReadQueueHealth reports the state of the fiscal queue. A queue that has
// never seen a task reads as empty.
func ReadQueueHealth(inspector QueueInspector) (QueueHealth, error) {
	body := QueueHealth{Queue: QueueFiscal}
	if inspector == nil {
		return body, nil
	}
	info, err := inspector.GetQueueInfo(QueueFiscal)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return body, nil
	}
	if err != nil {
		return body, err
	}
	if info != nil {
		body = QueueHealth{
			Queue:     info.Queue,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Archived:  info.Archived,
			Paused:    info.Paused,
		}
	}
	return body, nil
}

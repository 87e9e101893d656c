package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hibiken/asynq"
)

const (
	taskTypePDF = "pdf:process"
	queueName   = "pdf"
)

// Executor は Dispatcher から呼び出されるジョブ実行者です（Orchestrator が実装）。
type Executor interface {
	Execute(ctx context.Context, task Task) (*Outcome, error)
}

// Dispatcher は pending のジョブを実行者へ渡します。
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
	Start(exec Executor) error
	Shutdown(ctx context.Context) error
}

// ErrDispatcherClosed は停止後の投入を表します。
var ErrDispatcherClosed = errors.New("dispatcher is not running")

// InlineDispatcher はプロセス内のゴルーチンでジョブを実行します。
type InlineDispatcher struct {
	mu      sync.Mutex
	exec    Executor
	running bool
	wg      sync.WaitGroup
	base    context.Context
	cancel  context.CancelFunc
	log     *slog.Logger
}

func NewInlineDispatcher(logger *slog.Logger) *InlineDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &InlineDispatcher{base: base, cancel: cancel, log: logger}
}

func (d *InlineDispatcher) Start(exec Executor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if exec == nil {
		return errors.New("executor is nil")
	}
	d.exec = exec
	d.running = true
	return nil
}

// Dispatch はリクエストのキャンセルとは切り離してジョブを実行します。
func (d *InlineDispatcher) Dispatch(_ context.Context, task Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.exec.Execute(d.base, task); err != nil {
			d.log.Warn("inline job finished with error", "job_id", task.JobID, "err", err)
		}
	}()
	return nil
}

// Shutdown は新規投入を止め、実行中のジョブの完了を ctx の期限まで待ちます。
// 期限を過ぎた場合は実行中のジョブをキャンセルします。
func (d *InlineDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// QueueDispatcher は Asynq を使って Redis 経由でジョブを実行します。
type QueueDispatcher struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *slog.Logger
}

// NewQueueDispatcher は redisURL に接続する QueueDispatcher を作成します。
func NewQueueDispatcher(redisURL string, concurrency int, logger *slog.Logger) (*QueueDispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName: 1},
	})
	return &QueueDispatcher{
		client: asynq.NewClient(opt),
		server: server,
		mux:    asynq.NewServeMux(),
		log:    logger,
	}, nil
}

// Start はワーカーをバックグラウンドで起動します。
func (d *QueueDispatcher) Start(exec Executor) error {
	if exec == nil {
		return errors.New("executor is nil")
	}
	d.mux.HandleFunc(taskTypePDF, func(ctx context.Context, t *asynq.Task) error {
		var task Task
		if err := json.Unmarshal(t.Payload(), &task); err != nil {
			return fmt.Errorf("invalid task payload: %w", asynq.SkipRetry)
		}
		if task.JobID == "" {
			return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
		}
		// 失敗はジョブ行に記録済みのため、キューには成功として返す
		if _, err := exec.Execute(ctx, task); err != nil {
			d.log.Warn("queued job finished with error", "job_id", task.JobID, "err", err)
		}
		return nil
	})
	if err := d.server.Start(d.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Dispatch はジョブをキューに投入します。自動リトライは行いません。
func (d *QueueDispatcher) Dispatch(ctx context.Context, task Task) error {
	if task.JobID == "" {
		return fmt.Errorf("task.JobID is required")
	}
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	t := asynq.NewTask(taskTypePDF, body, asynq.Queue(queueName))
	info, err := d.client.EnqueueContext(ctx, t, asynq.MaxRetry(0), asynq.TaskID(task.JobID))
	if err != nil {
		return err
	}
	d.log.Debug("job enqueued", "job_id", task.JobID, "task_id", info.ID)
	return nil
}

func (d *QueueDispatcher) Shutdown(context.Context) error {
	d.server.Shutdown()
	return d.client.Close()
}

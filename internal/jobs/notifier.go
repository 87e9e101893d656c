package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix      = "job:"
	subscriberBacklog = 16
)

// Notifier はジョブ進捗のプッシュ通知です。状態の正は常にデータベースです。
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe は jobID のイベントを受け取るチャネルと解除関数を返します。
	Subscribe(ctx context.Context, jobID string) (<-chan Event, func(), error)
}

// snapshotter は最後に配信されたイベントを保持する Notifier です。
// 段階名などデータベースに残らない情報を、後から購読した利用者に渡すのに使います。
type snapshotter interface {
	Latest(ctx context.Context, jobID string) (*Event, error)
}

// MemoryNotifier は単一プロセス用の Notifier です。
type MemoryNotifier struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{subs: make(map[string]map[chan Event]struct{})}
}

// Publish は購読者に配信します。受信が追いつかない購読者の分は捨てます。
func (n *MemoryNotifier) Publish(_ context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs[ev.JobID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (n *MemoryNotifier) Subscribe(_ context.Context, jobID string) (<-chan Event, func(), error) {
	ch := make(chan Event, subscriberBacklog)
	n.mu.Lock()
	if n.subs[jobID] == nil {
		n.subs[jobID] = make(map[chan Event]struct{})
	}
	n.subs[jobID][ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs[jobID], ch)
			if len(n.subs[jobID]) == 0 {
				delete(n.subs, jobID)
			}
			n.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

// RedisNotifier は Redis Pub/Sub で複数インスタンスに進捗を配信します。
// 最新のイベントは job:<id> に ttl 付きで保存します。
type RedisNotifier struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

// NewRedisNotifier は RedisNotifier を作成します。
func NewRedisNotifier(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{rdb: rdb, ttl: ttl, log: logger}
}

func (n *RedisNotifier) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pipe := n.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(ev.JobID), payload, n.ttl)
	pipe.Publish(ctx, jobKey(ev.JobID), payload)
	_, err = pipe.Exec(ctx)
	return err
}

// Latest は最後に配信されたイベントを返します。存在しない場合は nil です。
func (n *RedisNotifier) Latest(ctx context.Context, jobID string) (*Event, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := n.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context, jobID string) (<-chan Event, func(), error) {
	sub := n.rdb.Subscribe(ctx, jobKey(jobID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan Event, subscriberBacklog)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				n.log.Warn("invalid job event payload", "job_id", jobID, "err", err)
				continue
			}
			select {
			case out <- ev:
			default:
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() { _ = sub.Close() })
	}
	return out, cancel, nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

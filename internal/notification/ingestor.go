package notification

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	notificationdb "github.com/nao1215/foodops/internal/notification/db"
)

// Publisher は通知の作成と配信を直列に行う配信先。*Hub が実装する。
type Publisher interface {
	Publish(create func() (Notification, error)) (Notification, int, error)
}

// Ingestor はドメインイベントを通知として保存し、配信する。
//
// 保存はPublisherの直列化の中で行うため、ストアの作成順と配信順は常に一致し、
// 未読件数の集計が保存と配信の間に割り込むこともない。
type Ingestor struct {
	// mu はタイムスタンプの採番を直列化する。
	mu sync.Mutex
	// store は通知の保存先。
	store Store
	// publisher は配信先。
	publisher Publisher
	// now は現在時刻を返す。
	now func() time.Time
	// last は直前に採番したタイムスタンプ。
	last time.Time
}

// IngestorOption はIngestorの設定を変更する関数。
type IngestorOption func(*Ingestor)

// WithClock は時刻の取得元を差し替える。
func WithClock(now func() time.Time) IngestorOption {
	return func(i *Ingestor) { i.now = now }
}

// NewIngestor は新しいIngestorを生成する。
func NewIngestor(store Store, publisher Publisher, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest はイベントを検証して通知を保存し、接続中のセッションへ配信する。
// 検証エラーとストアのエラーは呼び出し元へ返し、その場合は何も配信しない。
// 配信の失敗は戻り値に影響しない。
func (i *Ingestor) Ingest(ctx context.Context, ev Event) (Notification, error) {
	kind, err := ev.validate()
	if err != nil {
		return Notification{}, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	ts := i.now().UTC()
	if ts.Before(i.last) {
		ts = i.last
	}

	n, delivered, err := i.publisher.Publish(func() (Notification, error) {
		row, err := i.store.InsertNotification(ctx, notificationdb.Notification{
			ID:          uuid.NewString(),
			Kind:        string(kind),
			ClientName:  ev.ClientName,
			ProductName: ev.ProductName,
			CreatedAt:   ts.UnixNano(),
		})
		if err != nil {
			return Notification{}, err
		}
		return fromRow(row), nil
	})
	if err != nil {
		return Notification{}, err
	}
	i.last = ts

	log.Printf("[Ingestor] 通知 %s（%s）を作成し、%d セッションへ配信しました", n.ID, n.Kind, delivered)
	return n, nil
}

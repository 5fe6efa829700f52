// Package consumer はRabbitMQからドメインイベントを受信し、通知として取り込む。
//
// 注文・レビューのワークフローが発行するイベント（pkg/event）をキューから読み、
// notification.Ingestor に渡す。検証エラーなど再試行しても成功しないものはDLQへ送り、
// ストア障害のような一時的な失敗はワーカー内で再試行する。
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/streadway/amqp"

	"github.com/nao1215/foodops/internal/notification"
	"github.com/nao1215/foodops/pkg/event"
)

// Ingester はイベントを通知として取り込む。*notification.Ingestor が実装する。
type Ingester interface {
	Ingest(ctx context.Context, ev notification.Event) (notification.Notification, error)
}

// Config はコンシューマーの設定。
type Config struct {
	// Queue は受信するキュー名。
	Queue string
	// DLQ は処理できなかったメッセージの退避先キュー名。
	DLQ string
	// Workers は並列に処理するワーカー数。
	Workers int
	// Prefetch はブローカーから先読みする件数。
	Prefetch int
	// MaxAttempts はストア障害時にDLQへ送るまでの最大試行回数。
	MaxAttempts int
}

// Consumer はRabbitMQのキューを読み、イベントを取り込む。
type Consumer struct {
	conn     *amqp.Connection
	cfg      Config
	handler  *Handler
	mu       sync.Mutex
	cancel   context.CancelFunc
	finished chan struct{}
}

// Dial はブローカーに接続してコンシューマーを生成する。
func Dial(url string, cfg Config, ingester Ingester) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("RabbitMQへの接続に失敗: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 32
	}
	return &Consumer{
		conn:    conn,
		cfg:     cfg,
		handler: NewHandler(ingester, cfg.MaxAttempts),
	}, nil
}

// Start はキューを宣言し、バックグラウンドで受信を開始する。
func (c *Consumer) Start(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("チャネルの作成に失敗: %w", err)
	}
	if err := c.declare(ch); err != nil {
		_ = ch.Close()
		return fmt.Errorf("キューの宣言に失敗: %w", err)
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("QoSの設定に失敗: %w", err)
	}
	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("受信の開始に失敗: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.finished = make(chan struct{})
	c.mu.Unlock()

	var wg sync.WaitGroup
	for range c.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					c.handler.Handle(ctx, d.Body, d)
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		_ = ch.Close()
		close(c.finished)
	}()

	log.Printf("[Consumer] キュー %s の受信を開始しました（ワーカー: %d）", c.cfg.Queue, c.cfg.Workers)
	return nil
}

// Stop は受信を止め、処理中のメッセージの完了を待ってから接続を閉じる。
func (c *Consumer) Stop() {
	c.mu.Lock()
	cancel, finished := c.cancel, c.finished
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-finished
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		log.Printf("[Consumer] 接続のクローズに失敗: %v", err)
	}
	log.Printf("[Consumer] 停止しました")
}

// declare はキューとDLQを宣言する。キューの死活メッセージはDLQへ流れる。
func (c *Consumer) declare(ch *amqp.Channel) error {
	args := amqp.Table{}
	if c.cfg.DLQ != "" {
		if _, err := ch.QueueDeclare(c.cfg.DLQ, true, false, false, false, nil); err != nil {
			return err
		}
		args["x-dead-letter-exchange"] = ""
		args["x-dead-letter-routing-key"] = c.cfg.DLQ
	}
	_, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, args)
	return err
}

// toEvent はドメインイベントを通知イベントに変換する。
// 通知の対象外のイベントはok=falseを返す。
func toEvent(e *event.Event) (ev notification.Event, ok bool, err error) {
	switch e.EventType {
	case event.TypeOrderPlaced:
		d, err := event.DecodeData[event.OrderPlacedData](e)
		if err != nil {
			return notification.Event{}, false, err
		}
		return notification.Event{Kind: string(notification.KindOrder), ClientName: d.ClientName, ProductName: d.ProductName}, true, nil
	case event.TypeReviewPosted:
		d, err := event.DecodeData[event.ReviewPostedData](e)
		if err != nil {
			return notification.Event{}, false, err
		}
		return notification.Event{Kind: string(notification.KindReview), ClientName: d.ClientName, ProductName: d.ProductName}, true, nil
	case event.TypeOrderAssigned:
		return notification.Event{}, false, nil
	default:
		return notification.Event{}, false, fmt.Errorf("%w: %s", notification.ErrInvalidEventKind, e.EventType)
	}
}

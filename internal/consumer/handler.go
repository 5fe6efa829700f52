package consumer

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/nao1215/foodops/internal/notification"
	"github.com/nao1215/foodops/pkg/event"
	"github.com/nao1215/foodops/pkg/retry"
)

// Acknowledger はメッセージの処理結果をブローカーへ返す。amqp.Delivery が実装する。
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
	Reject(requeue bool) error
}

// Outcome はメッセージの処理結果。
type Outcome int

const (
	// Acked は処理済み（または対象外）として確認応答した。
	Acked Outcome = iota
	// Requeued は停止中のため処理を中断し、キューへ戻した。
	Requeued
	// DeadLettered は取り込めないためDLQへ送った。
	DeadLettered
)

// Handler は1メッセージを取り込み、結果に応じて確認応答する。
// ストア障害は同じワーカー内で再試行し、使い切ったらDLQへ送る。
type Handler struct {
	ingester Ingester
	retry    retry.Config
}

// NewHandler は新しいHandlerを生成する。maxAttemptsはストア障害時の最大試行回数。
func NewHandler(ingester Ingester, maxAttempts int) *Handler {
	return &Handler{
		ingester: ingester,
		retry: retry.Config{
			MaxAttempts:    maxAttempts,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			JitterFactor:   0.2,
		},
	}
}

// Handle はメッセージを処理し、確認応答した結果を返す。
func (h *Handler) Handle(ctx context.Context, body []byte, ack Acknowledger) Outcome {
	e, err := event.Parse(body)
	if err != nil {
		log.Printf("[Consumer] 解析できないメッセージをDLQへ送ります: %v", err)
		_ = ack.Reject(false)
		return DeadLettered
	}

	ev, ok, err := toEvent(e)
	if err != nil {
		log.Printf("[Consumer] イベント %s をDLQへ送ります: %v", e.ID, err)
		_ = ack.Reject(false)
		return DeadLettered
	}
	if !ok {
		_ = ack.Ack(false)
		return Acked
	}

	err = retry.Do(ctx, h.retry, func(attempt int) error {
		_, err := h.ingester.Ingest(ctx, ev)
		if err == nil || errors.Is(err, notification.ErrStoreUnavailable) {
			if err != nil {
				log.Printf("[Consumer] イベント %s の取り込みに失敗（%d 回目）: %v", e.ID, attempt, err)
			}
			return err
		}
		return retry.Permanent(err)
	})
	switch {
	case err == nil:
		_ = ack.Ack(false)
		return Acked
	case ctx.Err() != nil:
		_ = ack.Nack(false, true)
		return Requeued
	default:
		log.Printf("[Consumer] イベント %s をDLQへ送ります: %v", e.ID, err)
		_ = ack.Nack(false, false)
		return DeadLettered
	}
}

package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/foodops/internal/notification"
	notificationdb "github.com/nao1215/foodops/internal/notification/db"
	"github.com/nao1215/foodops/pkg/event"
)

// fakeAck は確認応答を記録する。
type fakeAck struct {
	mu      sync.Mutex
	acked   bool
	requeue *bool
	reject  bool
}

func (a *fakeAck) Ack(bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = true
	return nil
}

func (a *fakeAck) Nack(_ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requeue = &requeue
	return nil
}

func (a *fakeAck) Reject(bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reject = true
	return nil
}

// recordingIngester は取り込んだイベントを記録し、先頭から順にエラーを返す。
type recordingIngester struct {
	mu     sync.Mutex
	events []notification.Event
	errs   []error
}

func (r *recordingIngester) Ingest(_ context.Context, ev notification.Event) (notification.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return notification.Notification{}, err
		}
	}
	return notification.Notification{ID: "n"}, nil
}

func mustBody(t *testing.T, aggType event.AggregateType, typ event.Type, data any) []byte {
	t.Helper()
	e, err := event.New("agg-1", aggType, typ, data)
	require.NoError(t, err)
	body, err := json.Marshal(e)
	require.NoError(t, err)
	return body
}

var storeDown = fmt.Errorf("通知の保存に失敗: %w", notificationdb.ErrUnavailable)

func TestHandle(t *testing.T) {
	t.Parallel()

	t.Run("OrderPlacedを注文通知として取り込むこと", func(t *testing.T) {
		t.Parallel()
		ing := &recordingIngester{}
		ack := &fakeAck{}

		out := NewHandler(ing, 3).Handle(t.Context(),
			mustBody(t, event.AggregateTypeOrder, event.TypeOrderPlaced, event.OrderPlacedData{ClientName: "Bob"}), ack)

		assert.Equal(t, Acked, out)
		assert.True(t, ack.acked)
		require.Len(t, ing.events, 1)
		assert.Equal(t, notification.Event{Kind: "order", ClientName: "Bob"}, ing.events[0])
	})

	t.Run("ReviewPostedをレビュー通知として取り込むこと", func(t *testing.T) {
		t.Parallel()
		ing := &recordingIngester{}
		ack := &fakeAck{}

		out := NewHandler(ing, 3).Handle(t.Context(),
			mustBody(t, event.AggregateTypeReview, event.TypeReviewPosted,
				event.ReviewPostedData{ClientName: "Alice", ProductName: "Pizza", Rating: 5}), ack)

		assert.Equal(t, Acked, out)
		require.Len(t, ing.events, 1)
		assert.Equal(t, notification.Event{Kind: "review", ClientName: "Alice", ProductName: "Pizza"}, ing.events[0])
	})

	t.Run("通知対象外のイベントは取り込まずに確認応答すること", func(t *testing.T) {
		t.Parallel()
		ing := &recordingIngester{}
		ack := &fakeAck{}

		out := NewHandler(ing, 3).Handle(t.Context(),
			mustBody(t, event.AggregateTypeOrder, event.TypeOrderAssigned, event.OrderAssignedData{DeliveryManID: "dm"}), ack)

		assert.Equal(t, Acked, out)
		assert.Empty(t, ing.events)
	})

	t.Run("解析できないメッセージと未知の種類はDLQへ送ること", func(t *testing.T) {
		t.Parallel()
		ing := &recordingIngester{}
		h := NewHandler(ing, 3)

		for _, body := range [][]byte{
			[]byte("not json"),
			[]byte(`{"id":"x","data":{}}`),
			[]byte(`{"id":"x","event_type":"OrderPlaced","data":{"client_name":1}}`),
			mustBody(t, event.AggregateTypeOrder, event.Type("OrderRefunded"), map[string]string{}),
		} {
			ack := &fakeAck{}
			assert.Equal(t, DeadLettered, h.Handle(t.Context(), body, ack), string(body))
			assert.True(t, ack.reject)
		}
		assert.Empty(t, ing.events)
	})

	t.Run("検証エラーは再試行せずDLQへ送ること", func(t *testing.T) {
		t.Parallel()
		ing := &recordingIngester{errs: []error{fmt.Errorf("%w: 顧客名が空です", notification.ErrIncompleteEvent)}}
		ack := &fakeAck{}

		out := NewHandler(ing, 3).Handle(t.Context(),
			mustBody(t, event.AggregateTypeOrder, event.TypeOrderPlaced, event.OrderPlacedData{}), ack)

		assert.Equal(t, DeadLettered, out)
		require.NotNil(t, ack.requeue)
		assert.False(t, *ack.requeue)
		assert.Len(t, ing.events, 1)
	})

	t.Run("ストア障害は再試行し、回復すれば確認応答すること", func(t *testing.T) {
		t.Parallel()
		ing := &recordingIngester{errs: []error{storeDown, nil}}
		ack := &fakeAck{}

		out := NewHandler(ing, 3).Handle(t.Context(),
			mustBody(t, event.AggregateTypeOrder, event.TypeOrderPlaced, event.OrderPlacedData{ClientName: "Bob"}), ack)

		assert.Equal(t, Acked, out)
		assert.Len(t, ing.events, 2)
	})

	t.Run("ストア障害が続けばDLQへ送ること", func(t *testing.T) {
		t.Parallel()
		ing := &recordingIngester{errs: []error{storeDown, storeDown}}
		ack := &fakeAck{}

		out := NewHandler(ing, 2).Handle(t.Context(),
			mustBody(t, event.AggregateTypeOrder, event.TypeOrderPlaced, event.OrderPlacedData{ClientName: "Bob"}), ack)

		assert.Equal(t, DeadLettered, out)
		assert.Len(t, ing.events, 2)
	})

	t.Run("停止中はキューへ戻すこと", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		ing := &recordingIngester{}
		ack := &fakeAck{}

		out := NewHandler(ing, 3).Handle(ctx,
			mustBody(t, event.AggregateTypeOrder, event.TypeOrderPlaced, event.OrderPlacedData{ClientName: "Bob"}), ack)

		assert.Equal(t, Requeued, out)
		require.NotNil(t, ack.requeue)
		assert.True(t, *ack.requeue)
	})
}

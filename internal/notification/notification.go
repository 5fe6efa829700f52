package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	notificationdb "github.com/nao1215/foodops/internal/notification/db"
)

// Kind は通知の種類。
type Kind string

const (
	// KindOrder は新規注文の通知。
	KindOrder Kind = "order"
	// KindReview は新規レビューの通知。
	KindReview Kind = "review"
)

var (
	// ErrInvalidEventKind は未対応の種類のイベントを受け取ったことを示す。保存は行われない。
	ErrInvalidEventKind = errors.New("未対応のイベント種別です")
	// ErrIncompleteEvent はイベントに必須項目（顧客名、レビューの商品名）が無いことを示す。
	ErrIncompleteEvent = errors.New("イベントの必須項目が不足しています")
	// ErrStoreUnavailable は通知ストアの読み書きに失敗したことを示す。呼び出し側で再試行できる。
	ErrStoreUnavailable = notificationdb.ErrUnavailable
	// ErrNotificationNotFound は指定の通知が存在しないことを示す。
	ErrNotificationNotFound = notificationdb.ErrNotFound
	// ErrDeliveryMissed は接続中のセッションへ配信できなかったことを示す。
	// 呼び出し元には返さず、ログに記録するだけ。
	ErrDeliveryMissed = errors.New("セッションへの配信に失敗しました")
	// ErrHubClosed は停止済みのHubに接続しようとしたことを示す。
	ErrHubClosed = errors.New("配信ハブは停止しています")
)

// ParseKind は文字列を通知の種類に変換する。大文字小文字は区別しない。
// 旧コンソールが注文に使っていた "commande" も注文として受け付ける。
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "order", "commande":
		return KindOrder, nil
	case "review":
		return KindReview, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEventKind, s)
	}
}

// Event は注文・レビューのワークフローから届くドメインイベント。
type Event struct {
	// Kind はイベントの種類（order / commande / review）。
	Kind string
	// ClientName は顧客名。必須。
	ClientName string
	// ProductName は商品名。レビューでは必須、注文では空でもよい。
	ProductName string
}

// validate はイベントの種類と必須項目を検証し、種類を返す。
func (e Event) validate() (Kind, error) {
	kind, err := ParseKind(e.Kind)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(e.ClientName) == "" {
		return "", fmt.Errorf("%w: 顧客名が空です", ErrIncompleteEvent)
	}
	if kind == KindReview && strings.TrimSpace(e.ProductName) == "" {
		return "", fmt.Errorf("%w: レビューには商品名が必要です", ErrIncompleteEvent)
	}
	return kind, nil
}

// Notification は保存済みの通知。ライブチャネルと一覧APIで同じ形を返す。
type Notification struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// Seq は作成順の連番。
	Seq int64 `json:"seq"`
	// Kind は通知の種類。
	Kind Kind `json:"type"`
	// ClientName は顧客名。
	ClientName string `json:"client_name"`
	// ProductName は商品名。
	ProductName string `json:"product_name"`
	// Message は画面表示用の文言。
	Message string `json:"message"`
	// Timestamp は作成日時。
	Timestamp time.Time `json:"timestamp"`
	// IsViewed は既読状態。
	IsViewed bool `json:"is_viewed"`
}

// Render は通知の表示文言を返す。
func Render(kind Kind, clientName, productName string) string {
	switch kind {
	case KindReview:
		return fmt.Sprintf("%s a laissé un avis pour le produit %s", clientName, productName)
	case KindOrder:
		return fmt.Sprintf("%s a passé une commande", clientName)
	default:
		return ""
	}
}

// fromRow はDB行を通知に変換する。
func fromRow(r notificationdb.Notification) Notification {
	kind := Kind(r.Kind)
	return Notification{
		ID:          r.ID,
		Seq:         r.Seq,
		Kind:        kind,
		ClientName:  r.ClientName,
		ProductName: r.ProductName,
		Message:     Render(kind, r.ClientName, r.ProductName),
		Timestamp:   r.CreatedTime(),
		IsViewed:    r.IsViewed,
	}
}

// Store は通知サブシステムが使うストアの操作。
// *notificationdb.Store が実装する。
type Store interface {
	InsertNotification(ctx context.Context, n notificationdb.Notification) (notificationdb.Notification, error)
	ListNotifications(ctx context.Context, p notificationdb.ListParams) ([]notificationdb.Notification, error)
	GetNotification(ctx context.Context, id string) (notificationdb.Notification, error)
	CountUnviewed(ctx context.Context) (int, error)
	MarkAllViewed(ctx context.Context, at time.Time) (int64, error)
	MarkViewed(ctx context.Context, id string, at time.Time) (bool, error)
}

// ListOptions は通知一覧の取得条件。
type ListOptions struct {
	// UnreadOnly が真なら未読のみ。
	UnreadOnly bool
	// Limit は最大件数。0なら無制限。
	Limit int
	// Offset は読み飛ばす件数。
	Offset int
}

// List は通知を作成順（古い順）で返す。
func List(ctx context.Context, store Store, opts ListOptions) ([]Notification, error) {
	rows, err := store.ListNotifications(ctx, notificationdb.ListParams{
		UnviewedOnly: opts.UnreadOnly,
		Limit:        opts.Limit,
		Offset:       opts.Offset,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// Get はIDで通知を取得する。
func Get(ctx context.Context, store Store, id string) (Notification, error) {
	r, err := store.GetNotification(ctx, id)
	if err != nil {
		return Notification{}, err
	}
	return fromRow(r), nil
}

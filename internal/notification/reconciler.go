package notification

import (
	"context"
	"log"
	"time"
)

// CountPublisher は未読件数を集計して配信する先。*Hub が実装する。
// 集計から配信までの間に通知の作成が割り込まないことを保証する。
type CountPublisher interface {
	PublishUnreadCount(count func() (int, error)) (int, error)
}

// Reconciler は通知の既読状態を遷移させ、未読件数を管理する。
// 既読化はストアの条件付きUPDATEで行うため、同時に呼ばれても二重に数えない。
type Reconciler struct {
	store     Store
	publisher CountPublisher
	now       func() time.Time
}

// NewReconciler は新しいReconcilerを生成する。
func NewReconciler(store Store, publisher CountPublisher) *Reconciler {
	return &Reconciler{store: store, publisher: publisher, now: time.Now}
}

// MarkAllUnviewedAsRead は未読の通知をすべて既読にし、遷移した件数を返す。
// 1件以上遷移した場合は、最新の未読件数を全セッションへ配信する。
func (r *Reconciler) MarkAllUnviewedAsRead(ctx context.Context) (int, error) {
	n, err := r.store.MarkAllViewed(ctx, r.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.syncSessions(ctx)
	}
	return int(n), nil
}

// MarkAsRead は1件の通知を既読にする。未読から遷移した場合のみtrue。
func (r *Reconciler) MarkAsRead(ctx context.Context, id string) (bool, error) {
	changed, err := r.store.MarkViewed(ctx, id, r.now())
	if err != nil {
		return false, err
	}
	if changed {
		r.syncSessions(ctx)
	}
	return changed, nil
}

// GetUnviewedCount はストア上の未読件数を返す。
func (r *Reconciler) GetUnviewedCount(ctx context.Context) (int, error) {
	return r.store.CountUnviewed(ctx)
}

// syncSessions は各セッションのキャッシュをストアの未読件数に合わせる。
// 既読化自体は確定しているので、失敗してもログに残すだけ。
func (r *Reconciler) syncSessions(ctx context.Context) {
	_, err := r.publisher.PublishUnreadCount(func() (int, error) {
		return r.store.CountUnviewed(ctx)
	})
	if err != nil {
		log.Printf("[Reconciler] 未読件数の再計算に失敗: %v", err)
	}
}

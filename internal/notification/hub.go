package notification

import (
	"log"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// EnvelopeType はライブチャネルで送るメッセージの種類。
type EnvelopeType string

const (
	// EnvelopeNotification は新しい通知。
	EnvelopeNotification EnvelopeType = "notification"
	// EnvelopeUnreadCount はストア上の未読件数。
	EnvelopeUnreadCount EnvelopeType = "unread_count"
)

// Envelope はセッションのキューに積まれる1メッセージ。
type Envelope struct {
	// Type はメッセージの種類。
	Type EnvelopeType
	// Notification はType=notificationのときの通知。
	Notification Notification
	// UnreadCount はType=unread_countのときの未読件数。
	UnreadCount int
}

// Session は接続中の管理者クライアント1つを表す。
// 接続中に配信された通知のキューと、未読件数のキャッシュを持つ。
type Session struct {
	// id はセッション識別子。
	id string
	// hub は所属するハブ。
	hub *Hub
	// queue は配信待ちのメッセージ。Hubだけが書き込み、閉じない。
	queue chan Envelope
	// done は切断時に閉じられる。
	done chan struct{}
	// closeOnce はdoneを一度だけ閉じるためのもの。
	closeOnce sync.Once
	// unread は未読件数のキャッシュ。ストアの値のスナップショットに過ぎない。
	unread atomic.Int64
	// missed はキューが満杯で配信できなかった件数。
	missed atomic.Int64
}

// ID はセッション識別子を返す。
func (s *Session) ID() string { return s.id }

// Events は配信されたメッセージを受け取るチャネルを返す。
func (s *Session) Events() <-chan Envelope { return s.queue }

// Done は切断時に閉じられるチャネルを返す。
func (s *Session) Done() <-chan struct{} { return s.done }

// UnreadCount はキャッシュしている未読件数を返す。
func (s *Session) UnreadCount() int { return int(s.unread.Load()) }

// Missed は配信できなかったメッセージ数を返す。
func (s *Session) Missed() int64 { return s.missed.Load() }

// Close はセッションを切断する。何度呼んでもよい。
func (s *Session) Close() {
	s.hub.remove(s)
	s.markDone()
}

func (s *Session) markDone() {
	s.closeOnce.Do(func() { close(s.done) })
}

// deliver はメッセージをブロックせずにキューへ積む。満杯ならErrDeliveryMissed。
func (s *Session) deliver(env Envelope) error {
	select {
	case <-s.done:
		return ErrDeliveryMissed
	default:
	}
	select {
	case s.queue <- env:
	default:
		s.missed.Add(1)
		return ErrDeliveryMissed
	}
	switch env.Type {
	case EnvelopeNotification:
		s.unread.Add(1)
	case EnvelopeUnreadCount:
		s.unread.Store(int64(env.UnreadCount))
	}
	return nil
}

// Hub は接続中のセッション集合を管理し、通知を全セッションへ配信する。
//
// セッション集合はコピーオンライトのスライスで保持するため、
// 配信中の走査が接続・切断をブロックすることはない。
// 配信はpublishMuで直列化し、全セッションが同じ順序で受け取る。
// 通知の作成と未読件数の集計もpublishMuの中で行い、件数と配信の順序を揃える。
type Hub struct {
	// publishMu は作成・集計と配信を直列化する。
	publishMu sync.Mutex
	// mu はセッション集合の書き換えを直列化する。
	mu sync.Mutex
	// sessions は現在のセッション集合のスナップショット。
	sessions atomic.Pointer[[]*Session]
	// buffer はセッションごとのキュー長。
	buffer int
	// closed はClose済みかどうか。
	closed atomic.Bool
}

// NewHub はセッションごとのキュー長を指定してハブを生成する。
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	h := &Hub{buffer: buffer}
	h.sessions.Store(&[]*Session{})
	return h
}

// Connect は新しいセッションを登録する。
// 接続前に配信された通知は受け取らない。
func (h *Hub) Connect() (*Session, error) {
	s := &Session{
		id:    uuid.NewString(),
		hub:   h,
		queue: make(chan Envelope, h.buffer),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed.Load() {
		return nil, ErrHubClosed
	}
	cur := *h.sessions.Load()
	next := make([]*Session, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, s)
	h.sessions.Store(&next)

	log.Printf("[Hub] セッション %s が接続しました（接続数: %d）", s.id, len(next))
	return s, nil
}

// remove はセッションを集合から取り除く。
func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur := *h.sessions.Load()
	i := slices.Index(cur, s)
	if i < 0 {
		return
	}
	next := slices.Delete(slices.Clone(cur), i, i+1)
	h.sessions.Store(&next)
	log.Printf("[Hub] セッション %s が切断しました（接続数: %d）", s.id, len(next))
}

// SessionCount は接続中のセッション数を返す。
func (h *Hub) SessionCount() int {
	return len(*h.sessions.Load())
}

// Publish はcreateで通知を作成し、接続中の全セッションへ配信する。
// 作成から配信までを配信の直列化の中で行うので、未読件数のスナップショットと
// 通知の配信が前後することはない。createが失敗した場合は何も配信しない。
// 配信できなかったセッションはログに記録するだけで、再送はしない。
func (h *Hub) Publish(create func() (Notification, error)) (Notification, int, error) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	n, err := create()
	if err != nil {
		return Notification{}, 0, err
	}
	return n, h.broadcastLocked(Envelope{Type: EnvelopeNotification, Notification: n}), nil
}

// PublishUnreadCount はcountで数えたストア上の未読件数を全セッションへ知らせる。
// 数えてから配信し終えるまで通知の作成は割り込まないため、
// 各セッションのキャッシュは配信後にストアと一致する。
func (h *Hub) PublishUnreadCount(count func() (int, error)) (int, error) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	n, err := count()
	if err != nil {
		return 0, err
	}
	h.broadcastLocked(Envelope{Type: EnvelopeUnreadCount, UnreadCount: n})
	return n, nil
}

// Resync はcountで数えた未読件数を1つのセッションだけへ送り、キャッシュを合わせる。
// 接続直後に呼ぶ。接続からここまでに届いた通知はキューでこのメッセージより前に並び、
// 件数にも含まれているので、クライアントは最後の unread_count で正しい値に戻る。
func (h *Hub) Resync(s *Session, count func() (int, error)) (int, error) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	n, err := count()
	if err != nil {
		return 0, err
	}
	if err := s.deliver(Envelope{Type: EnvelopeUnreadCount, UnreadCount: n}); err != nil {
		return 0, err
	}
	return n, nil
}

// broadcastLocked は全セッションへ配信し、配信できた数を返す。publishMuを保持して呼ぶ。
func (h *Hub) broadcastLocked(env Envelope) int {
	delivered := 0
	for _, s := range *h.sessions.Load() {
		if err := s.deliver(env); err != nil {
			log.Printf("[Hub] セッション %s: %s %v", s.id, env.Type, err)
			continue
		}
		delivered++
	}
	return delivered
}

// Close は全セッションを切断し、以後の接続を拒否する。
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed.Store(true)
	cur := *h.sessions.Load()
	h.sessions.Store(&[]*Session{})
	h.mu.Unlock()

	for _, s := range cur {
		s.markDone()
	}
	log.Printf("[Hub] 停止しました（切断したセッション: %d）", len(cur))
}

package push

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMalformedRequest はtitle / body / tokenのいずれかが欠けていることを示す。
	ErrMalformedRequest = errors.New("プッシュ要求が不正です")
	// ErrRejected はゲートウェイが送信を拒否したことを示す（無効なトークンなど）。
	ErrRejected = errors.New("プッシュゲートウェイが送信を拒否しました")
	// ErrTransport はゲートウェイに到達できなかったか、一時的な障害で応答しなかったことを示す。
	ErrTransport = errors.New("プッシュゲートウェイとの通信に失敗しました")
)

// Request は1回のプッシュ送信の内容。
type Request struct {
	// Title は通知のタイトル。
	Title string `json:"title" validate:"required"`
	// Body は通知の本文。
	Body string `json:"body" validate:"required"`
	// Token は送信先端末のトークン。保存はしない。
	Token string `json:"token" validate:"required"`
}

// Receipt は送信に成功したときの受領情報。
type Receipt struct {
	// MessageID はゲートウェイが採番したメッセージID。
	MessageID string `json:"message_id"`
	// SentAt は送信に成功した日時。
	SentAt time.Time `json:"sent_at"`
}

// Error は送信失敗の詳細。errors.Isで種類（ErrRejectedなど）を判定できる。
type Error struct {
	// Kind は失敗の種類。
	Kind error
	// Reason はゲートウェイが返した理由や検証エラーの内容。
	Reason string
	// StatusCode はゲートウェイのHTTPステータス。応答が無い場合は0。
	StatusCode int
	// Err は下位のエラー。
	Err error
}

// Error はエラーメッセージを返す。
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status=%d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap は種類と下位のエラーを返す。
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsFatalToken はゲートウェイの理由が、トークン自体が使えないことを示すかどうかを返す。
// ペイロード全般の不備を表す理由（InvalidParameters など）は含めない。
func IsFatalToken(reason string) bool {
	switch reason {
	case "NotRegistered", "InvalidRegistration", "MismatchSenderId", "UNREGISTERED":
		return true
	default:
		return false
	}
}

package push

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Gateway は外部のプッシュゲートウェイ。
// 失敗は*Errorで返すことが期待されるが、それ以外のエラーは通信失敗として扱う。
type Gateway interface {
	Send(ctx context.Context, req Request) (messageID string, err error)
}

// Suppressor は無効と判明したトークンを記録する。
type Suppressor interface {
	IsSuppressed(ctx context.Context, token string) (bool, error)
	Suppress(ctx context.Context, token, reason string) error
}

// Dispatcher はプッシュ要求を検証してゲートウェイへ1回だけ送る。
// 通知や注文の状態は変更しない。
type Dispatcher struct {
	gateway    Gateway
	suppressor Suppressor
	validate   *validator.Validate
	now        func() time.Time
}

// Option はDispatcherの設定を変更する関数。
type Option func(*Dispatcher)

// WithSuppressor はトークン抑止ストアを設定する。nilなら抑止しない。
func WithSuppressor(s Suppressor) Option {
	return func(d *Dispatcher) { d.suppressor = s }
}

// NewDispatcher は新しいDispatcherを生成する。
func NewDispatcher(gateway Gateway, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		gateway:  gateway,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch は1回送信する。失敗は*Errorで返し、errors.Isで
// ErrMalformedRequest / ErrRejected / ErrTransport を判定できる。
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Receipt, error) {
	req = Request{
		Title: strings.TrimSpace(req.Title),
		Body:  strings.TrimSpace(req.Body),
		Token: strings.TrimSpace(req.Token),
	}
	if err := d.validate.Struct(req); err != nil {
		return Receipt{}, &Error{Kind: ErrMalformedRequest, Reason: missingFields(err)}
	}

	if d.suppressor != nil {
		suppressed, err := d.suppressor.IsSuppressed(ctx, req.Token)
		switch {
		case err != nil:
			log.Printf("[Push] 抑止状態を確認できないため送信を続けます: %v", err)
		case suppressed:
			return Receipt{}, &Error{Kind: ErrRejected, Reason: "無効として記録済みのトークンです"}
		}
	}

	id, err := d.gateway.Send(ctx, req)
	if err != nil {
		var pe *Error
		if !errors.As(err, &pe) {
			pe = &Error{Kind: ErrTransport, Err: err}
		}
		if errors.Is(pe, ErrRejected) && IsFatalToken(pe.Reason) && d.suppressor != nil {
			if serr := d.suppressor.Suppress(ctx, req.Token, pe.Reason); serr != nil {
				log.Printf("[Push] トークンの抑止に失敗: %v", serr)
			}
		}
		log.Printf("[Push] 送信に失敗: %v", pe)
		return Receipt{}, pe
	}

	log.Printf("[Push] 送信しました: message_id=%s", id)
	return Receipt{MessageID: id, SentAt: d.now().UTC()}, nil
}

// missingFields は検証エラーから欠けている項目名を取り出す。
func missingFields(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		names = append(names, strings.ToLower(fe.Field()))
	}
	return strings.Join(names, ", ") + " は必須です"
}

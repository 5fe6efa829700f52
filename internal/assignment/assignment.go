// Package assignment は注文への配達員割り当てを扱う。
//
// 割り当ては2段階で行う。まず割り当てを永続化し、その後で配達員の端末へプッシュを送る。
// プッシュの失敗は確定済みの割り当てを取り消さない。
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	notificationdb "github.com/nao1215/foodops/internal/notification/db"
	"github.com/nao1215/foodops/internal/push"
	"github.com/nao1215/foodops/pkg/retry"
)

const (
	// StatusInProgress は配達中を表す注文の状態。
	StatusInProgress = "en cours"
	// pushTitle は割り当て時に配達員へ送るプッシュのタイトル。
	pushTitle = "Livraison de la commande"
)

// ErrInvalidAssignment は割り当て要求の必須項目が欠けていることを示す。
var ErrInvalidAssignment = errors.New("割り当て要求が不正です")

// Store は割り当ての保存先。*notificationdb.Store が実装する。
type Store interface {
	UpsertAssignment(ctx context.Context, a notificationdb.Assignment) error
	GetAssignment(ctx context.Context, orderID string) (notificationdb.Assignment, error)
}

// Dispatcher はプッシュの送信先。*push.Dispatcher が実装する。
type Dispatcher interface {
	Dispatch(ctx context.Context, req push.Request) (push.Receipt, error)
}

// Request は割り当て要求。
type Request struct {
	// OrderID は注文ID。
	OrderID string `validate:"required"`
	// DeliveryManID は配達員ID。
	DeliveryManID string `validate:"required"`
	// Token は配達員の端末トークン。空ならプッシュは送らない。
	Token string
}

// Assignment は確定した割り当て。
type Assignment struct {
	OrderID       string    `json:"order_id"`
	DeliveryManID string    `json:"delivery_man_id"`
	Status        string    `json:"status"`
	AssignedAt    time.Time `json:"assigned_at"`
}

// PushOutcome はプッシュ送信の結果。
type PushOutcome struct {
	// Attempted は送信を試みたかどうか。
	Attempted bool `json:"attempted"`
	// Sent は送信に成功したかどうか。
	Sent bool `json:"sent"`
	// Attempts は試行回数。
	Attempts int `json:"attempts"`
	// MessageID は成功時のメッセージID。
	MessageID string `json:"message_id,omitempty"`
	// Message は画面に表示する結果の文言。
	Message string `json:"message"`
	// Err は失敗時のエラー。
	Err error `json:"-"`
}

// Result は割り当て処理の結果。
type Result struct {
	Assignment Assignment  `json:"assignment"`
	Push       PushOutcome `json:"push"`
}

// Service は割り当て処理を行う。
type Service struct {
	store      Store
	dispatcher Dispatcher
	retry      retry.Config
	validate   *validator.Validate
	now        func() time.Time
}

// NewService は新しいServiceを生成する。retryCfgは一時的な通信失敗の再試行にだけ使う。
func NewService(store Store, dispatcher Dispatcher, retryCfg retry.Config) *Service {
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		retry:      retryCfg,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		now:        time.Now,
	}
}

// Assign は割り当てを保存してからプッシュを送る。
// 返すエラーは割り当ての保存に関するものだけで、プッシュの結果はResult.Pushに入る。
func (s *Service) Assign(ctx context.Context, req Request) (Result, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.DeliveryManID = strings.TrimSpace(req.DeliveryManID)
	req.Token = strings.TrimSpace(req.Token)
	if err := s.validate.Struct(req); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidAssignment, err)
	}

	row := notificationdb.Assignment{
		OrderID:       req.OrderID,
		DeliveryManID: req.DeliveryManID,
		Status:        StatusInProgress,
		AssignedAt:    s.now().UTC().UnixNano(),
	}
	if err := s.store.UpsertAssignment(ctx, row); err != nil {
		return Result{}, fmt.Errorf("注文 %s の割り当て保存に失敗: %w", req.OrderID, err)
	}
	log.Printf("[Assignment] 注文 %s を配達員 %s に割り当てました", req.OrderID, req.DeliveryManID)

	return Result{
		Assignment: fromRow(row),
		Push:       s.notify(ctx, req),
	}, nil
}

// notify は配達員へプッシュを送る。通信失敗だけを再試行する。
func (s *Service) notify(ctx context.Context, req Request) PushOutcome {
	if req.Token == "" {
		return PushOutcome{Message: "端末トークンが無いためプッシュは送信していません"}
	}

	out := PushOutcome{Attempted: true}
	pr := push.Request{
		Title: pushTitle,
		Body:  "Commande ID: " + req.OrderID,
		Token: req.Token,
	}
	err := retry.Do(ctx, s.retry, func(attempt int) error {
		out.Attempts = attempt
		receipt, err := s.dispatcher.Dispatch(ctx, pr)
		if err == nil {
			out.MessageID = receipt.MessageID
			return nil
		}
		if errors.Is(err, push.ErrTransport) {
			return err
		}
		return retry.Permanent(err)
	})
	if err != nil {
		log.Printf("[Assignment] 注文 %s のプッシュ送信に失敗（%d 回試行）: %v", req.OrderID, out.Attempts, err)
		out.Err = err
		out.Message = "プッシュ通知の送信に失敗しました: " + err.Error()
		return out
	}
	out.Sent = true
	out.Message = "プッシュ通知を送信しました"
	return out
}

// Get は注文の割り当てを返す。
func (s *Service) Get(ctx context.Context, orderID string) (Assignment, error) {
	row, err := s.store.GetAssignment(ctx, orderID)
	if err != nil {
		return Assignment{}, err
	}
	return fromRow(row), nil
}

func fromRow(r notificationdb.Assignment) Assignment {
	return Assignment{
		OrderID:       r.OrderID,
		DeliveryManID: r.DeliveryManID,
		Status:        r.Status,
		AssignedAt:    r.AssignedTime(),
	}
}

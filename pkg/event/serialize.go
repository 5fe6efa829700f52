package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMalformed はメッセージがイベントとして解釈できないことを示す。
var ErrMalformed = errors.New("不正なイベントです")

// New は新しいイベントを生成する。
// dataにはイベント固有のデータ構造体を渡す。JSON形式にシリアライズされる。
func New(aggregateID string, aggregateType AggregateType, eventType Type, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Parse はメッセージボディをイベントにデシリアライズする。
// idかevent_typeが空のもの、JSONでないものはErrMalformedを返す。
func Parse(body []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("%w: デシリアライズに失敗: %w", ErrMalformed, err)
	}
	switch {
	case e.ID == "":
		return nil, fmt.Errorf("%w: idが空です", ErrMalformed)
	case e.EventType == "":
		return nil, fmt.Errorf("%w: event_typeが空です", ErrMalformed)
	}
	return &e, nil
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
// Dataが空ならErrMalformedを返す。
func DecodeData[T any](e *Event) (*T, error) {
	if len(e.Data) == 0 {
		return nil, fmt.Errorf("%w: %s のdataが空です", ErrMalformed, e.EventType)
	}
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: %s のdataのデシリアライズに失敗: %w", ErrMalformed, e.EventType, err)
	}
	return &data, nil
}

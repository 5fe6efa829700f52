package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの発生元となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeOrder は顧客の注文エンティティを表す。
	AggregateTypeOrder AggregateType = "Order"
	// AggregateTypeReview は商品レビューエンティティを表す。
	AggregateTypeReview AggregateType = "Review"
)

// Type はドメインイベントの種類を表す。
type Type string

const (
	// TypeOrderPlaced は顧客が新しい注文を行ったことを表す。
	TypeOrderPlaced Type = "OrderPlaced"
	// TypeReviewPosted は顧客が商品にレビューを投稿したことを表す。
	TypeReviewPosted Type = "ReviewPosted"
	// TypeOrderAssigned は注文が配達員に割り当てられたことを表す。
	TypeOrderAssigned Type = "OrderAssigned"
)

// Event は注文・レビューの各ワークフローが発行するドメインイベントの封筒。
// RabbitMQ経由で通知サービスに届く。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子（注文IDなど）。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが発行された日時。
	CreatedAt time.Time `json:"created_at"`
}

// OrderPlacedData はOrderPlacedイベントのデータ。
type OrderPlacedData struct {
	// ClientName は注文した顧客の表示名。
	ClientName string `json:"client_name"`
	// ProductName は注文の代表商品名。空でもよい。
	ProductName string `json:"product_name,omitempty"`
}

// ReviewPostedData はReviewPostedイベントのデータ。
type ReviewPostedData struct {
	// ClientName はレビューを書いた顧客の表示名。
	ClientName string `json:"client_name"`
	// ProductName はレビュー対象の商品名。
	ProductName string `json:"product_name"`
	// Rating は評価（1〜5）。通知には使わない。
	Rating int `json:"rating,omitempty"`
}

// OrderAssignedData はOrderAssignedイベントのデータ。
type OrderAssignedData struct {
	// DeliveryManID は割り当てられた配達員のID。
	DeliveryManID string `json:"delivery_man_id"`
	// Status は割り当て後の注文ステータス。
	Status string `json:"status"`
}

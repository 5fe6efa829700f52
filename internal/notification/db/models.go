package db

import "time"

// Notification はnotificationsテーブルの1行。
type Notification struct {
	// Seq は挿入順の連番。
	Seq int64 `db:"seq"`
	// ID は通知の一意識別子。
	ID string `db:"id"`
	// Kind は通知の種類（order / review）。
	Kind string `db:"kind"`
	// ClientName は顧客名。
	ClientName string `db:"client_name"`
	// ProductName は商品名。
	ProductName string `db:"product_name"`
	// CreatedAt は作成日時（Unixナノ秒）。
	CreatedAt int64 `db:"created_at"`
	// IsViewed は既読フラグ。
	IsViewed bool `db:"is_viewed"`
}

// CreatedTime は作成日時をtime.Timeで返す。
func (n Notification) CreatedTime() time.Time {
	return time.Unix(0, n.CreatedAt).UTC()
}

// Assignment はorder_assignmentsテーブルの1行。
type Assignment struct {
	OrderID       string `db:"order_id"`
	DeliveryManID string `db:"delivery_man_id"`
	Status        string `db:"status"`
	AssignedAt    int64  `db:"assigned_at"`
}

// AssignedTime は割り当て日時をtime.Timeで返す。
func (a Assignment) AssignedTime() time.Time {
	return time.Unix(0, a.AssignedAt).UTC()
}

// ListParams は通知一覧の取得条件。
type ListParams struct {
	// UnviewedOnly が真なら未読のみを返す。
	UnviewedOnly bool
	// Limit は最大件数。0以下なら無制限。
	Limit int
	// Offset は先頭から読み飛ばす件数。
	Offset int
}

// Package db は通知サービスのSQLiteストアを提供する。
//
// 通知の作成順はseq列で保持し、既読化は条件付きUPDATEで行う。
// ドライバーのエラーはすべてErrUnavailableで包んで返す。
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nao1215/foodops/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	// ErrUnavailable はストアの読み書きに失敗したことを示す。呼び出し側で再試行できる。
	ErrUnavailable = errors.New("通知ストアが利用できません")
	// ErrNotFound は対象の行が存在しないことを示す。
	ErrNotFound = errors.New("対象が見つかりません")
)

// Store は通知と配達員割り当てを保存するSQLiteストア。
type Store struct {
	db *sqlx.DB
}

// Open はpathのSQLiteデータベースを開き、移行を適用する。
// ":memory:" を渡すとインメモリDBになる（接続は1本に制限する）。
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	sqlxDB, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if path == ":memory:" {
		sqlxDB.SetMaxOpenConns(1)
	}

	s := New(sqlxDB)
	if err := s.Migrate(ctx); err != nil {
		_ = sqlxDB.Close()
		return nil, err
	}
	return s, nil
}

// New は既存の接続からストアを生成する。移行は行わない。
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate は未適用のスキーマ移行を適用する。
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := migration.Run(ctx, s.db.DB, migrations, "migrations"); err != nil {
		return fmt.Errorf("スキーマ移行に失敗: %w", err)
	}
	return nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping は接続の疎通を確認する。
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("疎通確認", err)
	}
	return nil
}

// InsertNotification は通知を1件挿入し、採番したSeqを設定して返す。
// 1文のINSERTなので、失敗時に中途半端な行は残らない。
func (s *Store) InsertNotification(ctx context.Context, n Notification) (Notification, error) {
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO notifications (id, kind, client_name, product_name, created_at, is_viewed)
		VALUES (:id, :kind, :client_name, :product_name, :created_at, 0)`, n)
	if err != nil {
		return Notification{}, unavailable("通知の保存", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return Notification{}, unavailable("通知の採番取得", err)
	}
	n.Seq = seq
	n.IsViewed = false
	return n, nil
}

// ListNotifications は通知を作成順（古い順）で返す。
func (s *Store) ListNotifications(ctx context.Context, p ListParams) ([]Notification, error) {
	var b strings.Builder
	b.WriteString(`SELECT seq, id, kind, client_name, product_name, created_at, is_viewed FROM notifications`)
	if p.UnviewedOnly {
		b.WriteString(` WHERE is_viewed = 0`)
	}
	b.WriteString(` ORDER BY seq ASC LIMIT ? OFFSET ?`)

	limit := p.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := max(p.Offset, 0)

	out := []Notification{}
	if err := s.db.SelectContext(ctx, &out, b.String(), limit, offset); err != nil {
		return nil, unavailable("通知一覧の取得", err)
	}
	return out, nil
}

// GetNotification はIDで通知を1件取得する。
func (s *Store) GetNotification(ctx context.Context, id string) (Notification, error) {
	var n Notification
	err := s.db.GetContext(ctx, &n, `
		SELECT seq, id, kind, client_name, product_name, created_at, is_viewed
		FROM notifications WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, fmt.Errorf("通知 %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Notification{}, unavailable("通知の取得", err)
	}
	return n, nil
}

// CountUnviewed は未読通知の件数を返す。
func (s *Store) CountUnviewed(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM notifications WHERE is_viewed = 0`); err != nil {
		return 0, unavailable("未読件数の取得", err)
	}
	return n, nil
}

// MarkAllViewed は未読の通知をすべて既読にし、変化した件数を返す。
// 1文のUPDATEで行うため、同時に呼ばれても同じ行を二重に数えることはない。
func (s *Store) MarkAllViewed(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_viewed = 1, viewed_at = ? WHERE is_viewed = 0`, at.UnixNano())
	if err != nil {
		return 0, unavailable("一括既読", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("一括既読の件数取得", err)
	}
	return n, nil
}

// MarkViewed は指定の通知を既読にする。未読から既読に変化した場合のみtrueを返す。
// 既に既読ならfalse、存在しなければErrNotFound。
func (s *Store) MarkViewed(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_viewed = 1, viewed_at = ? WHERE id = ? AND is_viewed = 0`, at.UnixNano(), id)
	if err != nil {
		return false, unavailable("既読", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("既読の件数取得", err)
	}
	if n == 1 {
		return true, nil
	}

	var exists int
	if err := s.db.GetContext(ctx, &exists, `SELECT COUNT(*) FROM notifications WHERE id = ?`, id); err != nil {
		return false, unavailable("通知の存在確認", err)
	}
	if exists == 0 {
		return false, fmt.Errorf("通知 %s: %w", id, ErrNotFound)
	}
	return false, nil
}

// UpsertAssignment は注文の割り当てを保存する。既存の割り当ては上書きする。
func (s *Store) UpsertAssignment(ctx context.Context, a Assignment) error {
	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO order_assignments (order_id, delivery_man_id, status, assigned_at)
		VALUES (:order_id, :delivery_man_id, :status, :assigned_at)
		ON CONFLICT(order_id) DO UPDATE SET
			delivery_man_id = excluded.delivery_man_id,
			status = excluded.status,
			assigned_at = excluded.assigned_at`, a); err != nil {
		return unavailable("割り当ての保存", err)
	}
	return nil
}

// GetAssignment は注文の割り当てを取得する。
func (s *Store) GetAssignment(ctx context.Context, orderID string) (Assignment, error) {
	var a Assignment
	err := s.db.GetContext(ctx, &a, `
		SELECT order_id, delivery_man_id, status, assigned_at
		FROM order_assignments WHERE order_id = ?`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, fmt.Errorf("注文 %s の割り当て: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return Assignment{}, unavailable("割り当ての取得", err)
	}
	return a, nil
}

// unavailable はドライバーのエラーをErrUnavailableで包む。
func unavailable(op string, err error) error {
	return fmt.Errorf("%sに失敗: %w: %w", op, ErrUnavailable, err)
}

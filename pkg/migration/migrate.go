// Package migration はSQLiteデータベースのスキーマ移行を管理する。
//
// embed.FSに同梱したSQLファイルをバージョン順に適用し、
// schema_migrationsテーブルで適用済みバージョンを記録する。
package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"path"
	"slices"
	"strconv"
	"strings"
)

// upSuffix は適用対象となるSQLファイルの拡張子。
const upSuffix = ".up.sql"

// Step は1つの移行ファイルを表す。
type Step struct {
	// Version はファイル名先頭の連番。
	Version int
	// Name はバージョン以降の説明部分。
	Name string
	// file は埋め込みFS上のパス。
	file string
}

// Run は未適用の移行を順番に適用し、新たに適用した件数を返す。
// ファイル名形式: 000001_description.up.sql
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, dir string) (int, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		return 0, fmt.Errorf("移行管理テーブルの作成に失敗: %w", err)
	}

	done, err := Applied(ctx, db)
	if err != nil {
		return 0, err
	}

	steps, err := Collect(fsys, dir)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, st := range steps {
		if slices.Contains(done, st.Version) {
			continue
		}
		if err := apply(ctx, db, fsys, st); err != nil {
			return count, fmt.Errorf("移行 %06d の適用に失敗: %w", st.Version, err)
		}
		log.Printf("[Migration] %06d_%s を適用しました", st.Version, st.Name)
		count++
	}
	return count, nil
}

// Applied は適用済みバージョンを昇順で返す。
func Applied(ctx context.Context, db *sql.DB) ([]int, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("適用済みバージョンの読み取りに失敗: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Collect はdir直下の移行ファイルをバージョン順に並べて返す。
// 命名規則に合わないファイルは無視する。同じバージョンが重複した場合はエラー。
func Collect(fsys fs.FS, dir string) ([]Step, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("移行ディレクトリの読み込みに失敗: %w", err)
	}

	var steps []Step
	seen := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), upSuffix) {
			continue
		}
		num, rest, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		v, err := strconv.Atoi(num)
		if err != nil {
			continue
		}
		if prev, dup := seen[v]; dup {
			return nil, fmt.Errorf("移行バージョン %06d が重複しています: %s, %s", v, prev, e.Name())
		}
		seen[v] = e.Name()
		steps = append(steps, Step{
			Version: v,
			Name:    strings.TrimSuffix(rest, upSuffix),
			file:    path.Join(dir, e.Name()),
		})
	}

	slices.SortFunc(steps, func(a, b Step) int { return a.Version - b.Version })
	return steps, nil
}

// apply は1つの移行をトランザクション内で適用する。
func apply(ctx context.Context, db *sql.DB, fsys fs.FS, st Step) error {
	body, err := fs.ReadFile(fsys, st.file)
	if err != nil {
		return fmt.Errorf("ファイル読み込みに失敗: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("SQL実行に失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", st.Version); err != nil {
		return fmt.Errorf("バージョン記録に失敗: %w", err)
	}
	return tx.Commit()
}

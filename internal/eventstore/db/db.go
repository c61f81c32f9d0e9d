// Package db はイベントストアサービスのデータベースアクセス層を提供する。
package db

import (
	"context"
	"database/sql"
	"time"
)

// Queries はイベントストアのクエリ実行オブジェクト。
type Queries struct {
	db *sql.DB
}

// New は新しいQueriesを生成する。
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Event はeventsテーブルの1行を表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string
	// AggregateID は対象エンティティの識別子。
	AggregateID string
	// AggregateType は対象エンティティの種類。
	AggregateType string
	// EventType はイベントの種類。
	EventType string
	// Data はイベント固有のデータ（JSON文字列）。
	Data string
	// Version はAggregate内でのイベントの順序番号。
	Version int64
	// CreatedAt はイベントの作成日時。
	CreatedAt time.Time
}

// AppendEventParams はAppendEventのパラメータ。
type AppendEventParams struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Data          string
	Version       int64
	CreatedAt     time.Time
}

const appendEvent = `
INSERT INTO events (id, aggregate_id, aggregate_type, event_type, data, version, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

// AppendEvent はイベントを追記する。
// 同一Aggregateのバージョンが重複した場合はユニーク制約違反となる。
func (q *Queries) AppendEvent(ctx context.Context, arg AppendEventParams) error {
	_, err := q.db.ExecContext(ctx, appendEvent,
		arg.ID, arg.AggregateID, arg.AggregateType, arg.EventType, arg.Data, arg.Version, arg.CreatedAt)
	return err
}

const latestVersion = `
SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?
`

// LatestVersion は指定Aggregateの最新バージョン番号を返す。
// イベントが存在しない場合は0を返す。
func (q *Queries) LatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	var version int64
	err := q.db.QueryRowContext(ctx, latestVersion, aggregateID).Scan(&version)
	return version, err
}

const selectColumns = `
SELECT id, aggregate_id, aggregate_type, event_type, data, version, created_at FROM events
`

// ListEvents は全イベントをコミット順に返す。
func (q *Queries) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := q.db.QueryContext(ctx, selectColumns+" ORDER BY created_at, version")
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// ListEventsSince は指定日時より後に作成されたイベントをコミット順に返す。
func (q *Queries) ListEventsSince(ctx context.Context, since time.Time) ([]Event, error) {
	rows, err := q.db.QueryContext(ctx, selectColumns+" WHERE created_at > ? ORDER BY created_at, version", since)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// ListEventsByAggregateID は指定Aggregateのイベントをバージョン順に返す。
func (q *Queries) ListEventsByAggregateID(ctx context.Context, aggregateID string) ([]Event, error) {
	rows, err := q.db.QueryContext(ctx, selectColumns+" WHERE aggregate_id = ? ORDER BY version", aggregateID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// scanEvents は結果セットをEventのスライスに変換する。
func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer func() { _ = rows.Close() }()

	events := make([]Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &e.Data, &e.Version, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

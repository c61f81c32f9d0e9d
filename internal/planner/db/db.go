// Package db はプランナーサービスのデータベースアクセス層を提供する。
package db

import (
	"context"
	"database/sql"
	"time"
)

// Queries はプランナーサービスのクエリ実行オブジェクト。
type Queries struct {
	db *sql.DB
}

// New は新しいQueriesを生成する。
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Meeting はmeetingsテーブルの1行を表す。
type Meeting struct {
	// ID は会議の一意識別子（UUID）。
	ID string
	// UserID は会議を作成したユーザーのID。
	UserID string
	// Title は会議のタイトル。
	Title string
	// StartTime は会議の開始日時（UTC）。
	StartTime time.Time
	// AgendaItems は議題一覧のJSON文字列。
	AgendaItems string
	// ReminderSent はリマインダーメールがキューに投入済みかどうか。
	ReminderSent bool
	// CreatedAt は会議の作成日時。
	CreatedAt time.Time
}

// Todo はtodosテーブルの1行を表す。
type Todo struct {
	// ID はToDoの一意識別子（UUID）。
	ID string
	// UserID はToDoを作成したユーザーのID。
	UserID string
	// Title はToDoのタイトル。
	Title string
	// Note は補足メモ。
	Note string
	// AssigneeEmail は担当者（パートナー）のメールアドレス。
	AssigneeEmail string
	// Done は完了済みかどうか。
	Done bool
	// CreatedAt はToDoの作成日時。
	CreatedAt time.Time
}

// CreateMeetingParams はCreateMeetingのパラメータ。
type CreateMeetingParams struct {
	ID          string
	UserID      string
	Title       string
	StartTime   time.Time
	AgendaItems string
}

const createMeeting = `
INSERT INTO meetings (id, user_id, title, start_time, agenda_items)
VALUES (?, ?, ?, ?, ?)
`

// CreateMeeting は会議を作成する。
func (q *Queries) CreateMeeting(ctx context.Context, arg CreateMeetingParams) error {
	_, err := q.db.ExecContext(ctx, createMeeting,
		arg.ID, arg.UserID, arg.Title, arg.StartTime, arg.AgendaItems)
	return err
}

const selectMeetingColumns = `
SELECT id, user_id, title, start_time, agenda_items, reminder_sent, created_at FROM meetings
`

// GetMeeting は指定IDの会議を返す。
func (q *Queries) GetMeeting(ctx context.Context, id string) (Meeting, error) {
	var m Meeting
	err := q.db.QueryRowContext(ctx, selectMeetingColumns+" WHERE id = ?", id).
		Scan(&m.ID, &m.UserID, &m.Title, &m.StartTime, &m.AgendaItems, &m.ReminderSent, &m.CreatedAt)
	return m, err
}

// ListMeetingsByUser は指定ユーザーの会議を開始日時順に返す。
func (q *Queries) ListMeetingsByUser(ctx context.Context, userID string) ([]Meeting, error) {
	rows, err := q.db.QueryContext(ctx, selectMeetingColumns+" WHERE user_id = ? ORDER BY start_time", userID)
	if err != nil {
		return nil, err
	}
	return scanMeetings(rows)
}

const listMeetingsInWindow = selectMeetingColumns + `
WHERE reminder_sent = 0 AND start_time >= ? AND start_time <= ?
ORDER BY start_time
`

// ListMeetingsInWindow はリマインダー未送信かつ開始日時が指定範囲内
// （両端を含む）の会議を返す。
func (q *Queries) ListMeetingsInWindow(ctx context.Context, from, to time.Time) ([]Meeting, error) {
	rows, err := q.db.QueryContext(ctx, listMeetingsInWindow, from, to)
	if err != nil {
		return nil, err
	}
	return scanMeetings(rows)
}

const markReminderSent = `
UPDATE meetings SET reminder_sent = 1 WHERE id = ?
`

// MarkReminderSent はリマインダーメールのキュー投入済みフラグを立てる。
// 対象の会議が存在しない場合はsql.ErrNoRowsを返す。
func (q *Queries) MarkReminderSent(ctx context.Context, id string) error {
	result, err := q.db.ExecContext(ctx, markReminderSent, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// scanMeetings は結果セットをMeetingのスライスに変換する。
func scanMeetings(rows *sql.Rows) ([]Meeting, error) {
	defer func() { _ = rows.Close() }()

	meetings := make([]Meeting, 0)
	for rows.Next() {
		var m Meeting
		if err := rows.Scan(&m.ID, &m.UserID, &m.Title, &m.StartTime, &m.AgendaItems, &m.ReminderSent, &m.CreatedAt); err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

// CreateTodoParams はCreateTodoのパラメータ。
type CreateTodoParams struct {
	ID            string
	UserID        string
	Title         string
	Note          string
	AssigneeEmail string
}

const createTodo = `
INSERT INTO todos (id, user_id, title, note, assignee_email)
VALUES (?, ?, ?, ?, ?)
`

// CreateTodo はToDoを作成する。
func (q *Queries) CreateTodo(ctx context.Context, arg CreateTodoParams) error {
	_, err := q.db.ExecContext(ctx, createTodo,
		arg.ID, arg.UserID, arg.Title, arg.Note, arg.AssigneeEmail)
	return err
}

const listTodosByUser = `
SELECT id, user_id, title, note, assignee_email, done, created_at
FROM todos WHERE user_id = ? ORDER BY created_at DESC
`

// ListTodosByUser は指定ユーザーのToDoを新しい順に返す。
func (q *Queries) ListTodosByUser(ctx context.Context, userID string) ([]Todo, error) {
	rows, err := q.db.QueryContext(ctx, listTodosByUser, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	todos := make([]Todo, 0)
	for rows.Next() {
		var td Todo
		if err := rows.Scan(&td.ID, &td.UserID, &td.Title, &td.Note, &td.AssigneeEmail, &td.Done, &td.CreatedAt); err != nil {
			return nil, err
		}
		todos = append(todos, td)
	}
	return todos, rows.Err()
}

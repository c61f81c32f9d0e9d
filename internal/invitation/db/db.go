// Package db はパートナー招待サービスのデータベースアクセス層を提供する。
package db

import (
	"context"
	"database/sql"
	"time"
)

// Queries はパートナー招待サービスのクエリ実行オブジェクト。
type Queries struct {
	db *sql.DB
}

// New は新しいQueriesを生成する。
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Invitation はinvitationsテーブルの1行を表す。
type Invitation struct {
	// ID は招待の一意識別子（UUID）。
	ID string
	// InviterID は招待者のユーザーID。
	InviterID string
	// InviterEmail は招待者のメールアドレス。
	InviterEmail string
	// InviterName は招待者の表示名。
	InviterName string
	// InviteeEmail は招待相手のメールアドレス。未指定の場合は無効。
	InviteeEmail sql.NullString
	// CoupleName はふたりの呼び名。
	CoupleName string
	// Status は招待のステータス（sent / accepted / declined / completed）。
	Status string
	// EmailedAt は招待メールがキューに投入された日時。未送信の場合は無効。
	EmailedAt sql.NullTime
	// CreatedAt は招待の作成日時。
	CreatedAt time.Time
	// UpdatedAt は招待の最終更新日時。
	UpdatedAt time.Time
}

// CreateInvitationParams はCreateInvitationのパラメータ。
type CreateInvitationParams struct {
	ID           string
	InviterID    string
	InviterEmail string
	InviterName  string
	InviteeEmail sql.NullString
	CoupleName   string
}

const createInvitation = `
INSERT INTO invitations (id, inviter_id, inviter_email, inviter_name, invitee_email, couple_name)
VALUES (?, ?, ?, ?, ?, ?)
`

// CreateInvitation は招待を作成する。ステータスの初期値はsentとなる。
func (q *Queries) CreateInvitation(ctx context.Context, arg CreateInvitationParams) error {
	_, err := q.db.ExecContext(ctx, createInvitation,
		arg.ID, arg.InviterID, arg.InviterEmail, arg.InviterName, arg.InviteeEmail, arg.CoupleName)
	return err
}

const selectColumns = `
SELECT id, inviter_id, inviter_email, inviter_name, invitee_email, couple_name,
       status, emailed_at, created_at, updated_at
FROM invitations
`

// GetInvitation は指定IDの招待を返す。
func (q *Queries) GetInvitation(ctx context.Context, id string) (Invitation, error) {
	var inv Invitation
	err := q.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id).
		Scan(&inv.ID, &inv.InviterID, &inv.InviterEmail, &inv.InviterName, &inv.InviteeEmail,
			&inv.CoupleName, &inv.Status, &inv.EmailedAt, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

// ListInvitationsByInviter は指定ユーザーが作成した招待を新しい順に返す。
func (q *Queries) ListInvitationsByInviter(ctx context.Context, inviterID string) ([]Invitation, error) {
	rows, err := q.db.QueryContext(ctx, selectColumns+" WHERE inviter_id = ? ORDER BY created_at DESC", inviterID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	invitations := make([]Invitation, 0)
	for rows.Next() {
		var inv Invitation
		if err := rows.Scan(&inv.ID, &inv.InviterID, &inv.InviterEmail, &inv.InviterName, &inv.InviteeEmail,
			&inv.CoupleName, &inv.Status, &inv.EmailedAt, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

const updateStatus = `
UPDATE invitations SET status = ?, updated_at = datetime('now')
WHERE id = ? AND status = ?
`

// UpdateStatus は招待のステータスをfromからtoへ遷移させる。
// 現在のステータスがfromと一致しない場合は更新せずsql.ErrNoRowsを返す。
// 条件付きUPDATEにより、並行リクエスト下でも同じ遷移が二重に成立しない。
func (q *Queries) UpdateStatus(ctx context.Context, id, from, to string) error {
	result, err := q.db.ExecContext(ctx, updateStatus, to, id, from)
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

const markEmailed = `
UPDATE invitations SET emailed_at = ?, updated_at = datetime('now') WHERE id = ?
`

// MarkEmailed は招待メールがキューに投入された日時を記録する。
// 対象の招待が存在しない場合はsql.ErrNoRowsを返す。
func (q *Queries) MarkEmailed(ctx context.Context, id string, emailedAt time.Time) error {
	result, err := q.db.ExecContext(ctx, markEmailed, emailedAt, id)
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

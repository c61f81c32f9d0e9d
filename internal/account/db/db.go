// Package db はアカウントサービスのデータベースアクセス層を提供する。
package db

import (
	"context"
	"database/sql"
	"time"
)

// Queries はアカウントサービスのクエリ実行オブジェクト。
type Queries struct {
	db *sql.DB
}

// New は新しいQueriesを生成する。
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// User はusersテーブルの1行を表す。
type User struct {
	// ID はユーザーの一意識別子（UUID）。
	ID string
	// Email はユーザーのメールアドレス。
	Email string
	// DisplayName はユーザーの表示名。
	DisplayName string
	// PartnerEmail はパートナーのメールアドレス。未設定の場合は無効。
	PartnerEmail sql.NullString
	// CreatedAt はユーザーの作成日時。
	CreatedAt time.Time
}

// Profile はprofilesテーブルの1行を表す。
type Profile struct {
	// UserID はプロフィールの所有者のユーザーID。
	UserID string
	// Email はプロフィールに登録されたメールアドレス。
	Email string
	// FirstName は名。
	FirstName string
	// LastName は姓。
	LastName string
	// CreatedAt はプロフィールの作成日時。
	CreatedAt time.Time
}

// CreateUserParams はCreateUserのパラメータ。
type CreateUserParams struct {
	ID          string
	Email       string
	DisplayName string
}

const createUser = `
INSERT INTO users (id, email, display_name)
VALUES (?, ?, ?)
`

// CreateUser はユーザーを作成する。
// メールアドレスが重複した場合はユニーク制約違反となる。
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) error {
	_, err := q.db.ExecContext(ctx, createUser, arg.ID, arg.Email, arg.DisplayName)
	return err
}

const getUserByID = `
SELECT id, email, display_name, partner_email, created_at FROM users WHERE id = ?
`

// GetUserByID は指定IDのユーザーを返す。
func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := q.db.QueryRowContext(ctx, getUserByID, id).
		Scan(&u.ID, &u.Email, &u.DisplayName, &u.PartnerEmail, &u.CreatedAt)
	return u, err
}

const getUserByEmail = `
SELECT id, email, display_name, partner_email, created_at FROM users WHERE email = ?
`

// GetUserByEmail は指定メールアドレスのユーザーを返す。
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := q.db.QueryRowContext(ctx, getUserByEmail, email).
		Scan(&u.ID, &u.Email, &u.DisplayName, &u.PartnerEmail, &u.CreatedAt)
	return u, err
}

const updatePartnerEmail = `
UPDATE users SET partner_email = ? WHERE id = ?
`

// UpdatePartnerEmail は指定ユーザーのパートナーメールアドレスを更新する。
// 対象ユーザーが存在しない場合はsql.ErrNoRowsを返す。
func (q *Queries) UpdatePartnerEmail(ctx context.Context, userID, partnerEmail string) error {
	result, err := q.db.ExecContext(ctx, updatePartnerEmail, partnerEmail, userID)
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

// CreateProfileParams はCreateProfileのパラメータ。
type CreateProfileParams struct {
	UserID    string
	Email     string
	FirstName string
	LastName  string
}

const createProfile = `
INSERT INTO profiles (user_id, email, first_name, last_name)
VALUES (?, ?, ?, ?)
`

// CreateProfile はプロフィールを作成する。
func (q *Queries) CreateProfile(ctx context.Context, arg CreateProfileParams) error {
	_, err := q.db.ExecContext(ctx, createProfile, arg.UserID, arg.Email, arg.FirstName, arg.LastName)
	return err
}

const getProfileByUserID = `
SELECT user_id, email, first_name, last_name, created_at FROM profiles WHERE user_id = ?
`

// GetProfileByUserID は指定ユーザーのプロフィールを返す。
func (q *Queries) GetProfileByUserID(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := q.db.QueryRowContext(ctx, getProfileByUserID, userID).
		Scan(&p.UserID, &p.Email, &p.FirstName, &p.LastName, &p.CreatedAt)
	return p, err
}

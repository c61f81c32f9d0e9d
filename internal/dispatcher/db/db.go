// Package db は通知Dispatcherのデータベースアクセス層を提供する。
// スキーマはembedされたマイグレーションファイルで管理する。
package db

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/nao1215/futari/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate はDispatcherのスキーマをデータベースに適用する。
func Migrate(db *sql.DB) error {
	return migration.Run(db, migrationsFS, "migrations")
}

// Queries は通知Dispatcherのクエリ実行オブジェクト。
type Queries struct {
	db *sql.DB
}

// New は新しいQueriesを生成する。
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Mail はmail_queueテーブルの1行を表す。
type Mail struct {
	// ID はメールの一意識別子（UUID）。
	ID string
	// Kind は通知の種類。
	Kind string
	// Recipient は宛先メールアドレス。
	Recipient string
	// Sender は送信元メールアドレス。
	Sender string
	// ReplyTo は返信先メールアドレス。
	ReplyTo string
	// Subject は件名。
	Subject string
	// Body は本文（HTML）。
	Body string
	// Status はキュー上の状態（queued / sent / failed）。
	Status string
	// CreatedAt はキュー投入日時。
	CreatedAt time.Time
}

// EnqueueMailParams はEnqueueMailのパラメータ。
type EnqueueMailParams struct {
	ID        string
	Kind      string
	Recipient string
	Sender    string
	ReplyTo   string
	Subject   string
	Body      string
}

const enqueueMail = `
INSERT INTO mail_queue (id, kind, recipient, sender, reply_to, subject, body)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

// EnqueueMail はメールを送信キューに投入する。
// 実際のSMTP送信は別プロセスのワーカーが行う。
func (q *Queries) EnqueueMail(ctx context.Context, arg EnqueueMailParams) error {
	_, err := q.db.ExecContext(ctx, enqueueMail,
		arg.ID, arg.Kind, arg.Recipient, arg.Sender, arg.ReplyTo, arg.Subject, arg.Body)
	return err
}

const listMailQueue = `
SELECT id, kind, recipient, sender, reply_to, subject, body, status, created_at
FROM mail_queue ORDER BY created_at, id
`

// ListMailQueue はキュー上の全メールを投入順に返す。
func (q *Queries) ListMailQueue(ctx context.Context) ([]Mail, error) {
	rows, err := q.db.QueryContext(ctx, listMailQueue)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	mails := make([]Mail, 0)
	for rows.Next() {
		var m Mail
		if err := rows.Scan(&m.ID, &m.Kind, &m.Recipient, &m.Sender, &m.ReplyTo, &m.Subject, &m.Body, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		mails = append(mails, m)
	}
	return mails, rows.Err()
}

const ledgerExists = `
SELECT EXISTS(SELECT 1 FROM notification_ledger WHERE key = ?)
`

// LedgerExists は台帳に指定キーが存在する（= 送信済み）かどうかを返す。
func (q *Queries) LedgerExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, ledgerExists, key).Scan(&exists)
	return exists, err
}

// CreateLedgerEntryParams はCreateLedgerEntryのパラメータ。
type CreateLedgerEntryParams struct {
	Key       string
	SubjectID string
	Recipient string
}

const createLedgerEntry = `
INSERT INTO notification_ledger (key, subject_id, recipient)
VALUES (?, ?, ?)
`

// CreateLedgerEntry は台帳に送信済みキーを記録する。
// キーが重複した場合は主キー制約違反となる。
func (q *Queries) CreateLedgerEntry(ctx context.Context, arg CreateLedgerEntryParams) error {
	_, err := q.db.ExecContext(ctx, createLedgerEntry,
		arg.Key, arg.SubjectID, arg.Recipient)
	return err
}

// AuditEntry はaudit_logテーブルの1行を表す。
type AuditEntry struct {
	// ID は監査レコードの一意識別子（UUID）。
	ID string
	// Kind は通知の種類。
	Kind string
	// Recipient は宛先メールアドレス。
	Recipient string
	// SentBy は記録元（呼び出し元のユーザーID、またはバックグラウンドプロセス名）。
	SentBy string
	// Detail は補足情報（対象の招待ID、会議IDなど）。
	Detail string
	// CreatedAt は記録日時。
	CreatedAt time.Time
}

// CreateAuditEntryParams はCreateAuditEntryのパラメータ。
type CreateAuditEntryParams struct {
	ID        string
	Kind      string
	Recipient string
	SentBy    string
	Detail    string
}

const createAuditEntry = `
INSERT INTO audit_log (id, kind, recipient, sent_by, detail)
VALUES (?, ?, ?, ?, ?)
`

// CreateAuditEntry は通知の監査レコードを記録する。
func (q *Queries) CreateAuditEntry(ctx context.Context, arg CreateAuditEntryParams) error {
	_, err := q.db.ExecContext(ctx, createAuditEntry,
		arg.ID, arg.Kind, arg.Recipient, arg.SentBy, arg.Detail)
	return err
}

const listAuditEntries = `
SELECT id, kind, recipient, sent_by, detail, created_at
FROM audit_log ORDER BY created_at, id
`

// ListAuditEntries は全監査レコードを記録順に返す。
func (q *Queries) ListAuditEntries(ctx context.Context) ([]AuditEntry, error) {
	rows, err := q.db.QueryContext(ctx, listAuditEntries)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	entries := make([]AuditEntry, 0)
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Recipient, &e.SentBy, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

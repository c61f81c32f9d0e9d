package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Mail はメール送信に関するデプロイ単位の設定。
type Mail struct {
	// Sender は送信元メールアドレス。
	Sender string `env:"MAIL_FROM" envDefault:"noreply@futari.app"`
	// ReplyTo は返信先メールアドレス。
	ReplyTo string `env:"MAIL_REPLY_TO" envDefault:"support@futari.app"`
	// AppBaseURL はアプリケーションのベースURL。メール本文のリンクに使用する。
	AppBaseURL string `env:"APP_BASE_URL" envDefault:"https://futari.app"`
	// HelpCenterURL はヘルプセンターのURL。メールフッターに使用する。
	HelpCenterURL string `env:"HELP_CENTER_URL" envDefault:"https://help.futari.app"`
	// InviteAcceptBaseURL は招待受諾ページのベースURL。
	InviteAcceptBaseURL string `env:"INVITE_ACCEPT_BASE_URL" envDefault:"https://futari.app/invite"`
	// TestRecipient はテストモード時に宛先未指定の場合に使用する送信先。
	TestRecipient string `env:"MAIL_TEST_RECIPIENT" envDefault:"test@futari.app"`
}

// Dispatcher は通知Dispatcherサービスの設定。
type Dispatcher struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT" envDefault:"8086"`
	// JWTSecret はJWT検証用の秘密鍵。
	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret-key"`
	// DBPath はSQLiteデータベースのファイルパス。
	DBPath string `env:"DISPATCHER_DB_PATH" envDefault:"/data/dispatcher.db"`
	// EventStoreURL はEvent StoreサービスのベースURL。
	EventStoreURL string `env:"EVENTSTORE_URL" envDefault:"http://localhost:8084"`
	// AccountURL はアカウントサービスのベースURL。
	AccountURL string `env:"ACCOUNT_URL" envDefault:"http://localhost:8080"`
	// InvitationURL は招待サービスのベースURL。
	InvitationURL string `env:"INVITATION_URL" envDefault:"http://localhost:8081"`
	// PlannerURL はプランナーサービスのベースURL。
	PlannerURL string `env:"PLANNER_URL" envDefault:"http://localhost:8082"`
	// PollInterval はEvent Storeのポーリング間隔。
	PollInterval time.Duration `env:"EVENT_POLL_INTERVAL" envDefault:"3s"`
	// ScanInterval は会議リマインダースキャンの実行間隔。
	ScanInterval time.Duration `env:"REMINDER_SCAN_INTERVAL" envDefault:"1h"`
	// Mail はメール送信設定。
	Mail Mail
}

// Account はアカウントサービスの設定。
type Account struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT" envDefault:"8080"`
	// JWTSecret はJWT署名用の秘密鍵。
	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret-key"`
	// DBPath はSQLiteデータベースのファイルパス。
	DBPath string `env:"ACCOUNT_DB_PATH" envDefault:"/data/account.db"`
	// EventStoreURL はEvent StoreサービスのベースURL。
	EventStoreURL string `env:"EVENTSTORE_URL" envDefault:"http://localhost:8084"`
	// FrontendURL はCORSで許可するフロントエンドのオリジン。
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
}

// Invitation は招待サービスの設定。
type Invitation struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT" envDefault:"8081"`
	// JWTSecret はJWT検証用の秘密鍵。
	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret-key"`
	// DBPath はSQLiteデータベースのファイルパス。
	DBPath string `env:"INVITATION_DB_PATH" envDefault:"/data/invitation.db"`
	// EventStoreURL はEvent StoreサービスのベースURL。
	EventStoreURL string `env:"EVENTSTORE_URL" envDefault:"http://localhost:8084"`
	// AccountURL はアカウントサービスのベースURL。パートナー紐付けに使用する。
	AccountURL string `env:"ACCOUNT_URL" envDefault:"http://localhost:8080"`
}

// Planner はプランナーサービスの設定。
type Planner struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT" envDefault:"8082"`
	// JWTSecret はJWT検証用の秘密鍵。
	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret-key"`
	// DBPath はSQLiteデータベースのファイルパス。
	DBPath string `env:"PLANNER_DB_PATH" envDefault:"/data/planner.db"`
	// EventStoreURL はEvent StoreサービスのベースURL。
	EventStoreURL string `env:"EVENTSTORE_URL" envDefault:"http://localhost:8084"`
	// DispatcherURL は通知DispatcherサービスのベースURL。ToDo通知の依頼に使用する。
	DispatcherURL string `env:"DISPATCHER_URL" envDefault:"http://localhost:8086"`
}

// EventStore はEvent Storeサービスの設定。
type EventStore struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT" envDefault:"8084"`
	// DBPath はSQLiteデータベースのファイルパス。
	DBPath string `env:"EVENTSTORE_DB_PATH" envDefault:"/data/eventstore.db"`
}

// LoadDispatcher は環境変数からDispatcher設定を読み込む。
func LoadDispatcher() (*Dispatcher, error) {
	var cfg Dispatcher
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("Dispatcher設定の読み込みに失敗: %w", err)
	}
	return &cfg, nil
}

// LoadAccount は環境変数からAccount設定を読み込む。
func LoadAccount() (*Account, error) {
	var cfg Account
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("Account設定の読み込みに失敗: %w", err)
	}
	return &cfg, nil
}

// LoadInvitation は環境変数からInvitation設定を読み込む。
func LoadInvitation() (*Invitation, error) {
	var cfg Invitation
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("Invitation設定の読み込みに失敗: %w", err)
	}
	return &cfg, nil
}

// LoadPlanner は環境変数からPlanner設定を読み込む。
func LoadPlanner() (*Planner, error) {
	var cfg Planner
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("Planner設定の読み込みに失敗: %w", err)
	}
	return &cfg, nil
}

// LoadEventStore は環境変数からEventStore設定を読み込む。
func LoadEventStore() (*EventStore, error) {
	var cfg EventStore
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("EventStore設定の読み込みに失敗: %w", err)
	}
	return &cfg, nil
}

package config

import (
	"testing"
	"time"
)

// TestLoadDispatcher はDispatcher設定の読み込みを検証する。
// 環境変数を操作するためt.Parallel()は使用しない。
func TestLoadDispatcher(t *testing.T) {
	t.Run("環境変数が未設定の場合デフォルト値が使用されること", func(t *testing.T) {
		cfg, err := LoadDispatcher()
		if err != nil {
			t.Fatalf("LoadDispatcher()でエラーが発生: %v", err)
		}

		if cfg.Port != "8086" {
			t.Errorf("Port = %q, want %q", cfg.Port, "8086")
		}
		if cfg.Mail.Sender != "noreply@futari.app" {
			t.Errorf("Mail.Sender = %q, want %q", cfg.Mail.Sender, "noreply@futari.app")
		}
		if cfg.Mail.ReplyTo != "support@futari.app" {
			t.Errorf("Mail.ReplyTo = %q, want %q", cfg.Mail.ReplyTo, "support@futari.app")
		}
		if cfg.Mail.InviteAcceptBaseURL != "https://futari.app/invite" {
			t.Errorf("Mail.InviteAcceptBaseURL = %q, want %q", cfg.Mail.InviteAcceptBaseURL, "https://futari.app/invite")
		}
		if cfg.PollInterval != 3*time.Second {
			t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, 3*time.Second)
		}
		if cfg.ScanInterval != time.Hour {
			t.Errorf("ScanInterval = %v, want %v", cfg.ScanInterval, time.Hour)
		}
	})

	t.Run("環境変数でデフォルト値を上書きできること", func(t *testing.T) {
		t.Setenv("MAIL_FROM", "ops@example.com")
		t.Setenv("REMINDER_SCAN_INTERVAL", "30m")

		cfg, err := LoadDispatcher()
		if err != nil {
			t.Fatalf("LoadDispatcher()でエラーが発生: %v", err)
		}

		if cfg.Mail.Sender != "ops@example.com" {
			t.Errorf("Mail.Sender = %q, want %q", cfg.Mail.Sender, "ops@example.com")
		}
		if cfg.ScanInterval != 30*time.Minute {
			t.Errorf("ScanInterval = %v, want %v", cfg.ScanInterval, 30*time.Minute)
		}
	})

	t.Run("不正な期間指定でエラーが返ること", func(t *testing.T) {
		t.Setenv("EVENT_POLL_INTERVAL", "not-a-duration")

		if _, err := LoadDispatcher(); err == nil {
			t.Fatal("LoadDispatcher()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestLoadAccount はAccount設定の読み込みを検証する。
func TestLoadAccount(t *testing.T) {
	t.Run("環境変数が未設定の場合デフォルト値が使用されること", func(t *testing.T) {
		cfg, err := LoadAccount()
		if err != nil {
			t.Fatalf("LoadAccount()でエラーが発生: %v", err)
		}

		if cfg.Port != "8080" {
			t.Errorf("Port = %q, want %q", cfg.Port, "8080")
		}
		if cfg.JWTSecret != "dev-secret-key" {
			t.Errorf("JWTSecret = %q, want %q", cfg.JWTSecret, "dev-secret-key")
		}
		if cfg.EventStoreURL != "http://localhost:8084" {
			t.Errorf("EventStoreURL = %q, want %q", cfg.EventStoreURL, "http://localhost:8084")
		}
	})

	t.Run("PORT環境変数で上書きできること", func(t *testing.T) {
		t.Setenv("PORT", "9999")

		cfg, err := LoadAccount()
		if err != nil {
			t.Fatalf("LoadAccount()でエラーが発生: %v", err)
		}

		if cfg.Port != "9999" {
			t.Errorf("Port = %q, want %q", cfg.Port, "9999")
		}
	})
}

// TestLoadOtherServices は残りのサービス設定のデフォルト値を検証する。
func TestLoadOtherServices(t *testing.T) {
	t.Run("Invitation設定のデフォルト値", func(t *testing.T) {
		cfg, err := LoadInvitation()
		if err != nil {
			t.Fatalf("LoadInvitation()でエラーが発生: %v", err)
		}
		if cfg.Port != "8081" {
			t.Errorf("Port = %q, want %q", cfg.Port, "8081")
		}
		if cfg.AccountURL != "http://localhost:8080" {
			t.Errorf("AccountURL = %q, want %q", cfg.AccountURL, "http://localhost:8080")
		}
	})

	t.Run("Planner設定のデフォルト値", func(t *testing.T) {
		cfg, err := LoadPlanner()
		if err != nil {
			t.Fatalf("LoadPlanner()でエラーが発生: %v", err)
		}
		if cfg.Port != "8082" {
			t.Errorf("Port = %q, want %q", cfg.Port, "8082")
		}
		if cfg.DispatcherURL != "http://localhost:8086" {
			t.Errorf("DispatcherURL = %q, want %q", cfg.DispatcherURL, "http://localhost:8086")
		}
	})

	t.Run("EventStore設定のデフォルト値", func(t *testing.T) {
		cfg, err := LoadEventStore()
		if err != nil {
			t.Fatalf("LoadEventStore()でエラーが発生: %v", err)
		}
		if cfg.Port != "8084" {
			t.Errorf("Port = %q, want %q", cfg.Port, "8084")
		}
	})
}

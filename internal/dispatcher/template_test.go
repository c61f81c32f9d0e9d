package dispatcher

import (
	"strings"
	"testing"
	"time"

	"github.com/nao1215/futari/pkg/config"
	"github.com/nao1215/futari/pkg/event"
)

// testMailConfig はテスト用のメール送信設定を返す。
func testMailConfig() config.Mail {
	return config.Mail{
		Sender:              "noreply@futari.test",
		ReplyTo:             "support@futari.test",
		AppBaseURL:          "https://futari.test",
		HelpCenterURL:       "https://help.futari.test",
		InviteAcceptBaseURL: "https://futari.test/invite",
		TestRecipient:       "test@futari.test",
	}
}

// testSnapshot はテスト用の招待スナップショットを返す。
func testSnapshot() event.InvitationSnapshot {
	return event.InvitationSnapshot{
		ID:           "inv-1",
		InviterID:    "user-1",
		InviterEmail: "hanako@example.com",
		InviterName:  "はなこ",
		InviteeEmail: "taro@example.com",
		CoupleName:   "はなたろ",
		Status:       event.InvitationStatusSent,
	}
}

// TestRendererWelcome はウェルカムメールの組み立てを検証する。
func TestRendererWelcome(t *testing.T) {
	t.Parallel()

	r := NewRenderer(testMailConfig())
	mail, err := r.Welcome("はなこ")
	if err != nil {
		t.Fatalf("組み立てに失敗: %v", err)
	}

	if mail.Subject != "ふたりへようこそ" {
		t.Errorf("件名 = %q", mail.Subject)
	}
	if !strings.Contains(mail.Body, "はなこ") {
		t.Error("本文に表示名が含まれていない")
	}
	if !strings.Contains(mail.Body, "https://help.futari.test") {
		t.Error("本文にヘルプセンターのリンクが含まれていない")
	}
	if mail.Sender != "noreply@futari.test" {
		t.Errorf("Sender = %q, want noreply@futari.test", mail.Sender)
	}
	if mail.ReplyTo != "support@futari.test" {
		t.Errorf("ReplyTo = %q, want support@futari.test", mail.ReplyTo)
	}
}

// TestRendererInviteSent は招待メールの組み立てを検証する。
func TestRendererInviteSent(t *testing.T) {
	t.Parallel()

	r := NewRenderer(testMailConfig())
	mail, err := r.InviteSent(testSnapshot())
	if err != nil {
		t.Fatalf("組み立てに失敗: %v", err)
	}

	if !strings.Contains(mail.Subject, "はなこ") {
		t.Errorf("件名に招待者名が含まれていない: %q", mail.Subject)
	}
	if !strings.Contains(mail.Body, "https://futari.test/invite/inv-1") {
		t.Error("本文に招待受諾リンクが含まれていない")
	}
	if !strings.Contains(mail.Body, "はなたろ") {
		t.Error("本文にふたりの呼び名が含まれていない")
	}
}

// TestRendererInvitationAccepted は受諾通知メールの組み立てを検証する。
func TestRendererInvitationAccepted(t *testing.T) {
	t.Parallel()

	r := NewRenderer(testMailConfig())
	mail, err := r.InvitationAccepted(testSnapshot())
	if err != nil {
		t.Fatalf("組み立てに失敗: %v", err)
	}

	// 受諾の事実が件名から分かること
	if !strings.Contains(mail.Subject, "承諾") {
		t.Errorf("件名 = %q, 承諾の旨が含まれていない", mail.Subject)
	}
}

// TestRendererMeetingReminder は会議リマインダーメールの組み立てを検証する。
func TestRendererMeetingReminder(t *testing.T) {
	t.Parallel()

	t.Run("議題が登録順に本文へ並ぶこと", func(t *testing.T) {
		t.Parallel()
		r := NewRenderer(testMailConfig())

		start := time.Date(2026, 9, 1, 20, 0, 0, 0, time.UTC)
		agenda := []string{"家計の見直し", "旅行の計画", "週末の予定"}
		mail, err := r.MeetingReminder("ふたり会議", start, agenda)
		if err != nil {
			t.Fatalf("組み立てに失敗: %v", err)
		}

		if !strings.Contains(mail.Subject, "ふたり会議") {
			t.Errorf("件名にタイトルが含まれていない: %q", mail.Subject)
		}

		prev := -1
		for _, item := range agenda {
			pos := strings.Index(mail.Body, item)
			if pos < 0 {
				t.Fatalf("本文に議題 %q が含まれていない", item)
			}
			if pos < prev {
				t.Errorf("議題 %q の順序が登録順と異なる", item)
			}
			prev = pos
		}
	})

	t.Run("議題が無い場合も組み立てられること", func(t *testing.T) {
		t.Parallel()
		r := NewRenderer(testMailConfig())

		mail, err := r.MeetingReminder("ふたり会議", time.Now().UTC(), nil)
		if err != nil {
			t.Fatalf("組み立てに失敗: %v", err)
		}
		if strings.Contains(mail.Body, "議題:") {
			t.Error("議題が無いのに議題セクションが含まれている")
		}
	})
}

// TestRendererTodoAssigned はToDo通知メールの組み立てを検証する。
func TestRendererTodoAssigned(t *testing.T) {
	t.Parallel()

	r := NewRenderer(testMailConfig())
	mail, err := r.TodoAssigned("ゴミ出し", "燃えるゴミは火曜日")
	if err != nil {
		t.Fatalf("組み立てに失敗: %v", err)
	}

	if !strings.Contains(mail.Subject, "ゴミ出し") {
		t.Errorf("件名にタイトルが含まれていない: %q", mail.Subject)
	}
	if !strings.Contains(mail.Body, "燃えるゴミは火曜日") {
		t.Error("本文にメモが含まれていない")
	}
}

// TestRendererGeneral は汎用メールの組み立てを検証する。
func TestRendererGeneral(t *testing.T) {
	t.Parallel()

	r := NewRenderer(testMailConfig())
	mail, err := r.General("お知らせ", "<p>メンテナンスのお知らせです。</p>")
	if err != nil {
		t.Fatalf("組み立てに失敗: %v", err)
	}

	if mail.Subject != "お知らせ" {
		t.Errorf("件名 = %q, want お知らせ", mail.Subject)
	}
	// 本文のHTMLがエスケープされないこと
	if !strings.Contains(mail.Body, "<p>メンテナンスのお知らせです。</p>") {
		t.Errorf("本文がそのまま使われていない: %q", mail.Body)
	}
}

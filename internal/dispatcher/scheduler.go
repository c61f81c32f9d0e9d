package dispatcher

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	dispatcherdb "github.com/nao1215/futari/internal/dispatcher/db"
	"github.com/nao1215/futari/pkg/httpclient"
)

// Scheduler はふたり会議のリマインダーを定期的にスキャンする
// バックグラウンドプロセス。
//
// 1時間ごとに、開始1〜2時間前のリマインダー未送信の会議を
// プランナーサービスから取得し、作成者のパートナー宛にリマインダー
// メールをキューに投入する。パートナーが未登録のユーザーの会議は
// 何もせずスキップする。
type Scheduler struct {
	// queries はクエリ実行オブジェクト。
	queries *dispatcherdb.Queries
	// plannerClient はプランナーサービスとの通信用HTTPクライアント。
	plannerClient *httpclient.Client
	// accountClient はアカウントサービスとの通信用HTTPクライアント。
	accountClient *httpclient.Client
	// renderer は通知メールの組み立てを行う。
	renderer *Renderer
	// interval はスキャンの実行間隔。
	interval time.Duration
	// cancel はバックグラウンドゴルーチンを停止するためのキャンセル関数。
	cancel context.CancelFunc
}

// NewScheduler は新しいSchedulerを生成する。
func NewScheduler(queries *dispatcherdb.Queries, renderer *Renderer, plannerURL, accountURL string, interval time.Duration) *Scheduler {
	return &Scheduler{
		queries:       queries,
		plannerClient: httpclient.New(plannerURL),
		accountClient: httpclient.New(accountURL),
		renderer:      renderer,
		interval:      interval,
	}
}

// Start はバックグラウンドで定期スキャンを開始する。
// 起動直後に1回実行し、以降はinterval間隔で実行する。
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		log.Println("Scheduler: リマインダースキャンを開始します")
		if err := s.scan(ctx, time.Now().UTC()); err != nil {
			log.Printf("Scheduler: スキャンエラー: %v", err)
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("Scheduler: スキャンを停止しました")
				return
			case <-ticker.C:
				if err := s.scan(ctx, time.Now().UTC()); err != nil {
					log.Printf("Scheduler: スキャンエラー: %v", err)
				}
			}
		}
	}()
}

// Stop はバックグラウンドのスキャンを停止する。
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// reminderMeeting はプランナーサービスから返される会議のJSON構造。
type reminderMeeting struct {
	// ID は会議の一意識別子。
	ID string `json:"id"`
	// UserID は会議を作成したユーザーのID。
	UserID string `json:"user_id"`
	// Title は会議のタイトル。
	Title string `json:"title"`
	// StartTime は会議の開始日時（RFC3339形式）。
	StartTime string `json:"start_time"`
	// AgendaItems は議題の一覧（順序付き）。
	AgendaItems []string `json:"agenda_items"`
}

// scan は開始1〜2時間前（両端を含む）のリマインダー未送信の会議を
// 取得し、1件ずつリマインダーを処理する。1件の失敗が他の会議の
// 処理を妨げないように、会議ごとに独立したゴルーチンで処理する。
func (s *Scheduler) scan(ctx context.Context, now time.Time) error {
	from := now.Add(time.Hour)
	to := now.Add(2 * time.Hour)

	path := fmt.Sprintf("/api/v1/internal/meetings/reminder-window?from=%s&to=%s",
		url.QueryEscape(from.Format(time.RFC3339)), url.QueryEscape(to.Format(time.RFC3339)))

	var meetings []reminderMeeting
	if err := s.plannerClient.GetJSON(ctx, path, &meetings); err != nil {
		return fmt.Errorf("リマインダー対象の取得に失敗: %w", err)
	}

	if len(meetings) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, m := range meetings {
		wg.Add(1)
		go func(m reminderMeeting) {
			defer wg.Done()
			if err := s.remind(ctx, m); err != nil {
				log.Printf("Scheduler: リマインダー処理エラー (meeting=%s): %v", m.ID, err)
			}
		}(m)
	}
	wg.Wait()

	log.Printf("Scheduler: %d件の会議を処理しました", len(meetings))
	return nil
}

// remind は1件の会議のリマインダーメールをキューに投入する。
// 宛先は会議作成者のパートナーで、パートナーが未登録の場合は何もしない。
// キュー投入後にプランナーサービスの送信済みフラグを立てる。
func (s *Scheduler) remind(ctx context.Context, m reminderMeeting) error {
	var user struct {
		PartnerEmail string `json:"partner_email"`
	}
	if err := s.accountClient.GetJSON(ctx, "/api/v1/internal/users/"+m.UserID, &user); err != nil {
		return fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	if user.PartnerEmail == "" {
		return nil
	}

	startTime, err := time.Parse(time.RFC3339, m.StartTime)
	if err != nil {
		return fmt.Errorf("開始日時のパースに失敗: %w", err)
	}

	mail, err := s.renderer.MeetingReminder(m.Title, startTime, m.AgendaItems)
	if err != nil {
		return err
	}
	if err := s.enqueue(ctx, m, user.PartnerEmail, mail); err != nil {
		return err
	}

	// フラグ更新に失敗しても次回スキャンで重複するだけなので、
	// リマインダー自体は成功扱いにする。
	path := fmt.Sprintf("/api/v1/internal/meetings/%s/reminder-sent", m.ID)
	if err := s.plannerClient.PutJSON(ctx, path, nil, nil); err != nil {
		log.Printf("Scheduler: 送信済みフラグの更新に失敗: meeting=%s, error=%v", m.ID, err)
	}
	return nil
}

// enqueue はリマインダーメールを送信キューに投入し、監査ログに記録する。
func (s *Scheduler) enqueue(ctx context.Context, m reminderMeeting, recipient string, mail renderedMail) error {
	if err := s.queries.EnqueueMail(ctx, dispatcherdb.EnqueueMailParams{
		ID:        uuid.New().String(),
		Kind:      string(KindMeetingReminder),
		Recipient: recipient,
		Sender:    mail.Sender,
		ReplyTo:   mail.ReplyTo,
		Subject:   mail.Subject,
		Body:      mail.Body,
	}); err != nil {
		return fmt.Errorf("メールのキュー投入に失敗: %w", err)
	}

	if err := s.queries.CreateAuditEntry(ctx, dispatcherdb.CreateAuditEntryParams{
		ID:        uuid.New().String(),
		Kind:      string(KindMeetingReminder),
		Recipient: recipient,
		SentBy:    "scheduler",
		Detail:    "meeting=" + m.ID,
	}); err != nil {
		log.Printf("Scheduler: 監査ログの記録に失敗: meeting=%s, error=%v", m.ID, err)
	}
	return nil
}

package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	dispatcherdb "github.com/nao1215/futari/internal/dispatcher/db"
	"github.com/nao1215/futari/pkg/event"
	"github.com/nao1215/futari/pkg/httpclient"
)

// Dispatcher はEvent Storeのイベントをポーリングし、通知メールを
// 送信キューに投入するバックグラウンドプロセス。
//
// 配信はat-least-onceであり、同じイベントが複数回届くことを前提とする。
// ウェルカム系の通知は台帳で、招待メールはemailed_atで二重送信を防ぐ。
type Dispatcher struct {
	// queries はクエリ実行オブジェクト。
	queries *dispatcherdb.Queries
	// eventClient はEvent Storeとの通信用HTTPクライアント。
	eventClient *httpclient.Client
	// invitationClient は招待サービスとの通信用HTTPクライアント。
	invitationClient *httpclient.Client
	// renderer は通知メールの組み立てを行う。
	renderer *Renderer
	// interval はポーリング間隔。
	interval time.Duration
	// lastTimestamp は最後にポーリングしたイベントのタイムスタンプ。
	lastTimestamp time.Time
	// mu はlastTimestampへの並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// cancel はバックグラウンドゴルーチンを停止するためのキャンセル関数。
	cancel context.CancelFunc
}

// NewDispatcher は新しいDispatcherを生成する。
func NewDispatcher(queries *dispatcherdb.Queries, renderer *Renderer, eventstoreURL, invitationURL string, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		queries:          queries,
		eventClient:      httpclient.New(eventstoreURL),
		invitationClient: httpclient.New(invitationURL),
		renderer:         renderer,
		interval:         interval,
		lastTimestamp:    time.Time{},
	}
}

// Start はバックグラウンドでEvent Storeのポーリングを開始する。
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go func() {
		log.Println("Dispatcher: Event Storeポーリングを開始します")
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("Dispatcher: ポーリングを停止しました")
				return
			case <-ticker.C:
				if err := d.poll(ctx); err != nil {
					log.Printf("Dispatcher: ポーリングエラー: %v", err)
				}
			}
		}
	}()
}

// Stop はバックグラウンドのポーリングを停止する。
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

// eventStoreResponse はEvent Store APIから返されるイベントのJSON構造。
type eventStoreResponse struct {
	// ID はイベントの一意識別子。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType string `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType string `json:"event_type"`
	// Data はイベント固有のデータ（JSON文字列）。
	Data string `json:"data"`
	// Version はAggregate内でのイベントの順序番号。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// poll はEvent Storeから新しいイベントを取得して通知処理を行う。
// 1件の処理失敗が他のイベントの処理を妨げないように、エラーはログに
// 記録して次のイベントへ進む。
func (d *Dispatcher) poll(ctx context.Context) error {
	d.mu.Lock()
	since := d.lastTimestamp
	d.mu.Unlock()

	// created_atはナノ秒精度のため、カーソルも精度を落とさずに送る。
	// 秒精度に丸めると直前に処理したイベントを再取得してしまう。
	sinceStr := since.UTC().Format(time.RFC3339Nano)
	path := fmt.Sprintf("/api/v1/events/since?since=%s", url.QueryEscape(sinceStr))

	var events []eventStoreResponse
	if err := d.eventClient.GetJSON(ctx, path, &events); err != nil {
		return fmt.Errorf("Event Storeからのイベント取得に失敗: %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	var latestTimestamp time.Time
	for _, ev := range events {
		if err := d.processEvent(ctx, ev); err != nil {
			log.Printf("Dispatcher: イベント処理エラー (id=%s, type=%s): %v", ev.ID, ev.EventType, err)
			continue
		}

		createdAt, err := time.Parse(time.RFC3339, ev.CreatedAt)
		if err == nil && createdAt.After(latestTimestamp) {
			latestTimestamp = createdAt
		}
	}

	if !latestTimestamp.IsZero() {
		d.mu.Lock()
		// 同じイベントを再取得しないように1ナノ秒進める
		d.lastTimestamp = latestTimestamp.Add(1 * time.Nanosecond)
		d.mu.Unlock()
	}

	log.Printf("Dispatcher: %d件のイベントを処理しました", len(events))
	return nil
}

// processEvent は1つのイベントに対する通知処理を行う。
func (d *Dispatcher) processEvent(ctx context.Context, ev eventStoreResponse) error {
	switch event.Type(ev.EventType) {
	case event.TypeUserSignedUp:
		return d.handleUserSignedUp(ctx, ev)
	case event.TypeProfileCreated:
		return d.handleProfileCreated(ctx, ev)
	case event.TypeInvitationCreated:
		return d.handleInvitationCreated(ctx, ev)
	case event.TypeInvitationStatusChanged:
		return d.handleInvitationStatusChanged(ctx, ev)
	default:
		return nil
	}
}

// handleUserSignedUp はサインアップイベントにウェルカムメールで応答する。
// 台帳キー welcome_<userID> で二重送信を防ぐ。
func (d *Dispatcher) handleUserSignedUp(ctx context.Context, ev eventStoreResponse) error {
	var data event.UserSignedUpData
	if err := json.Unmarshal([]byte(ev.Data), &data); err != nil {
		return fmt.Errorf("UserSignedUpDataのデシリアライズに失敗: %w", err)
	}

	key := fmt.Sprintf("welcome_%s", data.UserID)
	sent, err := d.alreadySent(ctx, key)
	if err != nil {
		return err
	}
	if sent {
		log.Printf("Dispatcher: 送信済みのためスキップ: key=%s", key)
		return nil
	}

	mail, err := d.renderer.Welcome(data.DisplayName)
	if err != nil {
		return err
	}
	if err := d.enqueue(ctx, KindWelcome, data.Email, mail, "user="+data.UserID); err != nil {
		return err
	}

	return d.recordLedger(ctx, key, data.UserID, data.Email)
}

// handleProfileCreated はプロフィール作成イベントに登録完了メールで応答する。
// 台帳キー new_account_<userID> で二重送信を防ぐ。
func (d *Dispatcher) handleProfileCreated(ctx context.Context, ev eventStoreResponse) error {
	var data event.ProfileCreatedData
	if err := json.Unmarshal([]byte(ev.Data), &data); err != nil {
		return fmt.Errorf("ProfileCreatedDataのデシリアライズに失敗: %w", err)
	}

	key := fmt.Sprintf("new_account_%s", data.UserID)
	sent, err := d.alreadySent(ctx, key)
	if err != nil {
		return err
	}
	if sent {
		log.Printf("Dispatcher: 送信済みのためスキップ: key=%s", key)
		return nil
	}

	mail, err := d.renderer.NewAccount(data.FirstName, data.LastName, data.Email)
	if err != nil {
		return err
	}
	if err := d.enqueue(ctx, KindNewAccount, data.Email, mail, "user="+data.UserID); err != nil {
		return err
	}

	return d.recordLedger(ctx, key, data.UserID, data.Email)
}

// handleInvitationCreated は招待作成イベントに招待メールで応答する。
// 招待相手のメールアドレスが未指定の場合は何もしない。二重送信の防止は
// 招待サービス側のemailed_atで行うため、送信済みの招待はスキップする。
func (d *Dispatcher) handleInvitationCreated(ctx context.Context, ev eventStoreResponse) error {
	var data event.InvitationCreatedData
	if err := json.Unmarshal([]byte(ev.Data), &data); err != nil {
		return fmt.Errorf("InvitationCreatedDataのデシリアライズに失敗: %w", err)
	}

	inv := data.Invitation
	if inv.InviteeEmail == "" {
		return nil
	}

	emailed, err := d.invitationEmailed(ctx, inv.ID)
	if err != nil {
		return err
	}
	if emailed {
		log.Printf("Dispatcher: 招待メール送信済みのためスキップ: invitation=%s", inv.ID)
		return nil
	}

	mail, err := d.renderer.InviteSent(inv)
	if err != nil {
		return err
	}
	if err := d.enqueue(ctx, KindInviteSent, inv.InviteeEmail, mail, "invitation="+inv.ID); err != nil {
		return err
	}

	// キュー投入後に送信済みを記録する。記録に失敗しても次回の
	// 再処理で重複するだけなので、イベント自体は成功扱いにする。
	path := fmt.Sprintf("/api/v1/internal/invitations/%s/emailed-at", inv.ID)
	if err := d.invitationClient.PutJSON(ctx, path, nil, nil); err != nil {
		log.Printf("Dispatcher: emailed_atの記録に失敗: invitation=%s, error=%v", inv.ID, err)
	}
	return nil
}

// handleInvitationStatusChanged は招待のステータス遷移イベントに
// 招待者向けの通知メールで応答する。変更前後のペアが遷移表と
// 完全一致しない場合は何もしない。
func (d *Dispatcher) handleInvitationStatusChanged(ctx context.Context, ev eventStoreResponse) error {
	var data event.InvitationStatusChangedData
	if err := json.Unmarshal([]byte(ev.Data), &data); err != nil {
		return fmt.Errorf("InvitationStatusChangedDataのデシリアライズに失敗: %w", err)
	}

	kind, ok := lifecycleKind(data.BeforeStatus, data.AfterStatus)
	if !ok {
		return nil
	}

	inv := data.Invitation
	var mail renderedMail
	var err error
	switch kind {
	case KindInvitationAccepted:
		mail, err = d.renderer.InvitationAccepted(inv)
	case KindInvitationDeclined:
		mail, err = d.renderer.InvitationDeclined(inv)
	case KindPartnerJoined:
		mail, err = d.renderer.PartnerJoined(inv)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	return d.enqueue(ctx, kind, inv.InviterEmail, mail, "invitation="+inv.ID)
}

// invitationEmailed は招待サービスに問い合わせ、招待メールが送信済みか
// どうかを返す。
func (d *Dispatcher) invitationEmailed(ctx context.Context, invitationID string) (bool, error) {
	var inv struct {
		EmailedAt string `json:"emailed_at"`
	}
	if err := d.invitationClient.GetJSON(ctx, "/api/v1/internal/invitations/"+invitationID, &inv); err != nil {
		return false, fmt.Errorf("招待の取得に失敗: %w", err)
	}
	return inv.EmailedAt != "", nil
}

// alreadySent は台帳に送信済みキーが存在するかどうかを返す。
func (d *Dispatcher) alreadySent(ctx context.Context, key string) (bool, error) {
	exists, err := d.queries.LedgerExists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("台帳の参照に失敗: %w", err)
	}
	return exists, nil
}

// recordLedger は台帳に送信済みキーを記録する。
// 参照と記録の間に同じイベントが処理された場合は主キー制約違反と
// なるが、メールの重複はat-least-once配信の許容範囲のためエラーに
// しない。
func (d *Dispatcher) recordLedger(ctx context.Context, key, subjectID, recipient string) error {
	if err := d.queries.CreateLedgerEntry(ctx, dispatcherdb.CreateLedgerEntryParams{
		Key:       key,
		SubjectID: subjectID,
		Recipient: recipient,
	}); err != nil {
		if strings.Contains(err.Error(), "constraint failed") {
			log.Printf("Dispatcher: 台帳キーが記録済み: key=%s", key)
			return nil
		}
		return fmt.Errorf("台帳の記録に失敗: %w", err)
	}
	return nil
}

// enqueue はメールを送信キューに投入し、監査ログに記録する。
// キュー投入に成功した場合はNotificationDispatchedイベントも発行する。
func (d *Dispatcher) enqueue(ctx context.Context, kind Kind, recipient string, mail renderedMail, detail string) error {
	mailID := uuid.New().String()
	if err := d.queries.EnqueueMail(ctx, dispatcherdb.EnqueueMailParams{
		ID:        mailID,
		Kind:      string(kind),
		Recipient: recipient,
		Sender:    mail.Sender,
		ReplyTo:   mail.ReplyTo,
		Subject:   mail.Subject,
		Body:      mail.Body,
	}); err != nil {
		return fmt.Errorf("メールのキュー投入に失敗: %w", err)
	}

	if err := d.queries.CreateAuditEntry(ctx, dispatcherdb.CreateAuditEntryParams{
		ID:        uuid.New().String(),
		Kind:      string(kind),
		Recipient: recipient,
		SentBy:    "dispatcher",
		Detail:    detail,
	}); err != nil {
		log.Printf("Dispatcher: 監査ログの記録に失敗: kind=%s, error=%v", kind, err)
	}

	d.emitDispatched(ctx, mailID, kind, recipient, mail.Subject)
	return nil
}

// emitDispatched はNotificationDispatchedイベントをEvent Storeに送信する。
// 送信に失敗した場合はログに記録するが、通知処理は成功扱いにする。
func (d *Dispatcher) emitDispatched(ctx context.Context, mailID string, kind Kind, recipient, subject string) {
	jsonData, err := json.Marshal(event.NotificationDispatchedData{
		Kind:      string(kind),
		Recipient: recipient,
		Subject:   subject,
	})
	if err != nil {
		log.Printf("Dispatcher: イベントデータのシリアライズに失敗: %v", err)
		return
	}

	reqBody := map[string]any{
		"aggregate_id":   fmt.Sprintf("notification-%s", mailID),
		"aggregate_type": string(event.AggregateTypeNotification),
		"event_type":     string(event.TypeNotificationDispatched),
		"data":           json.RawMessage(jsonData),
	}
	if err := d.eventClient.PostJSON(ctx, "/api/v1/events", reqBody, nil); err != nil {
		log.Printf("Dispatcher: Event Storeへのイベント送信に失敗: %v", err)
	}
}

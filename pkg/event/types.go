package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeUser はユーザーエンティティを表す。
	AggregateTypeUser AggregateType = "User"
	// AggregateTypeProfile はプロフィールエンティティを表す。
	AggregateTypeProfile AggregateType = "Profile"
	// AggregateTypeInvitation はパートナー招待エンティティを表す。
	AggregateTypeInvitation AggregateType = "Invitation"
	// AggregateTypeMeeting はふたり会議エンティティを表す。
	AggregateTypeMeeting AggregateType = "Meeting"
	// AggregateTypeNotification は通知メールエンティティを表す。
	AggregateTypeNotification AggregateType = "Notification"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeUserSignedUp はユーザーがサインアップしたことを表す。
	TypeUserSignedUp Type = "UserSignedUp"
	// TypeProfileCreated はプロフィールが作成されたことを表す。
	TypeProfileCreated Type = "ProfileCreated"
	// TypeInvitationCreated はパートナー招待が作成されたことを表す。
	TypeInvitationCreated Type = "InvitationCreated"
	// TypeInvitationStatusChanged は招待のステータスが遷移したことを表す。
	// 変更前後のステータスのペアをデータとして保持する。
	TypeInvitationStatusChanged Type = "InvitationStatusChanged"
	// TypeMeetingScheduled はふたり会議が予定されたことを表す。
	TypeMeetingScheduled Type = "MeetingScheduled"
	// TypeNotificationDispatched は通知メールがキューに投入されたことを表す。
	TypeNotificationDispatched Type = "NotificationDispatched"
)

// InvitationStatus はパートナー招待のライフサイクル上のステータスを表す。
// 遷移は sent → accepted / declined、accepted → completed のみが有効で、
// declined と completed は終端状態となる。
type InvitationStatus string

const (
	// InvitationStatusSent は招待が作成され、招待メール送信対象となった状態。
	InvitationStatusSent InvitationStatus = "sent"
	// InvitationStatusAccepted は招待相手が招待を受諾した状態。
	InvitationStatusAccepted InvitationStatus = "accepted"
	// InvitationStatusDeclined は招待相手が招待を辞退した状態（終端）。
	InvitationStatusDeclined InvitationStatus = "declined"
	// InvitationStatusCompleted はパートナーの登録が完了した状態（終端）。
	InvitationStatusCompleted InvitationStatus = "completed"
)

// Event はEvent Sourcingにおける不変のイベントレコードを表す。
// すべての状態変更はこの構造体としてEvent Storeに永続化される。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。同一エンティティに対する
	// 更新順序の保証に使用する。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// UserSignedUpData はUserSignedUpイベントのデータ。
type UserSignedUpData struct {
	// UserID はサインアップしたユーザーのID。
	UserID string `json:"user_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// DisplayName はユーザーの表示名。
	DisplayName string `json:"display_name"`
}

// ProfileCreatedData はProfileCreatedイベントのデータ。
type ProfileCreatedData struct {
	// UserID はプロフィールの所有者のユーザーID。
	UserID string `json:"user_id"`
	// Email はプロフィールに登録されたメールアドレス。
	Email string `json:"email"`
	// FirstName は名。
	FirstName string `json:"first_name"`
	// LastName は姓。
	LastName string `json:"last_name"`
}

// InvitationSnapshot はイベント発生時点の招待のスナップショット。
type InvitationSnapshot struct {
	// ID は招待の一意識別子。
	ID string `json:"id"`
	// InviterID は招待者のユーザーID。
	InviterID string `json:"inviter_id"`
	// InviterEmail は招待者のメールアドレス。
	InviterEmail string `json:"inviter_email"`
	// InviterName は招待者の表示名。
	InviterName string `json:"inviter_name"`
	// InviteeEmail は招待相手のメールアドレス。未指定の場合は空文字列。
	InviteeEmail string `json:"invitee_email"`
	// CoupleName はふたりの呼び名。
	CoupleName string `json:"couple_name"`
	// Status はイベント発生時点のステータス。
	Status InvitationStatus `json:"status"`
}

// InvitationCreatedData はInvitationCreatedイベントのデータ。
type InvitationCreatedData struct {
	// Invitation は作成時点の招待スナップショット。
	Invitation InvitationSnapshot `json:"invitation"`
}

// InvitationStatusChangedData はInvitationStatusChangedイベントのデータ。
// Dispatcherは変更前後のペアが遷移表と完全一致した場合のみ通知を送る。
type InvitationStatusChangedData struct {
	// BeforeStatus は遷移前のステータス。
	BeforeStatus InvitationStatus `json:"before_status"`
	// AfterStatus は遷移後のステータス。
	AfterStatus InvitationStatus `json:"after_status"`
	// Invitation は遷移後の招待スナップショット。
	Invitation InvitationSnapshot `json:"invitation"`
}

// MeetingScheduledData はMeetingScheduledイベントのデータ。
type MeetingScheduledData struct {
	// MeetingID は会議の一意識別子。
	MeetingID string `json:"meeting_id"`
	// UserID は会議を作成したユーザーのID。
	UserID string `json:"user_id"`
	// Title は会議のタイトル。
	Title string `json:"title"`
	// StartTime は会議の開始日時。
	StartTime time.Time `json:"start_time"`
	// AgendaItems は議題の一覧（順序付き）。
	AgendaItems []string `json:"agenda_items"`
}

// NotificationDispatchedData はNotificationDispatchedイベントのデータ。
type NotificationDispatchedData struct {
	// Kind は通知の種類。
	Kind string `json:"kind"`
	// Recipient は通知先のメールアドレス。
	Recipient string `json:"recipient"`
	// Subject はメールの件名。
	Subject string `json:"subject"`
}

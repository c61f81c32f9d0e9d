package dispatcher

import "github.com/nao1215/futari/pkg/event"

// Kind は通知メールの種類を表す。
type Kind string

const (
	// KindWelcome はサインアップ直後のウェルカムメール。
	KindWelcome Kind = "welcome"
	// KindNewAccount はプロフィール作成完了の通知メール。
	KindNewAccount Kind = "new_account"
	// KindInviteSent はパートナーへの招待メール。
	KindInviteSent Kind = "invite_sent"
	// KindInvitationAccepted は招待が受諾されたことを招待者に知らせるメール。
	KindInvitationAccepted Kind = "invitation_accepted"
	// KindInvitationDeclined は招待が辞退されたことを招待者に知らせるメール。
	KindInvitationDeclined Kind = "invitation_declined"
	// KindPartnerJoined はパートナーの登録完了を招待者に知らせるメール。
	KindPartnerJoined Kind = "partner_joined"
	// KindMeetingReminder はふたり会議の開始前リマインダーメール。
	KindMeetingReminder Kind = "meeting_reminder"
	// KindTodoAssigned はToDoの割り当て通知メール。
	KindTodoAssigned Kind = "todo_assigned"
	// KindGeneral は汎用の通知メール。
	KindGeneral Kind = "general"
)

// transition は招待ステータスの変更前後のペアを表す。
type transition struct {
	before event.InvitationStatus
	after  event.InvitationStatus
}

// lifecycleTransitions は通知対象となる招待ステータスの遷移表。
// ここに無いペア（同一ステータスへの再通知、終端状態からの遷移、
// 未知のステータスを含む遷移など）は通知を送らない。
var lifecycleTransitions = map[transition]Kind{
	{event.InvitationStatusSent, event.InvitationStatusAccepted}:      KindInvitationAccepted,
	{event.InvitationStatusSent, event.InvitationStatusDeclined}:      KindInvitationDeclined,
	{event.InvitationStatusAccepted, event.InvitationStatusCompleted}: KindPartnerJoined,
}

// lifecycleKind は招待ステータスの遷移に対応する通知の種類を返す。
// 遷移表に完全一致するペアが無い場合はfalseを返す。
func lifecycleKind(before, after event.InvitationStatus) (Kind, bool) {
	kind, ok := lifecycleTransitions[transition{before: before, after: after}]
	return kind, ok
}

// Package invitation はパートナー招待サービスの内部実装を提供する。
//
// 招待のライフサイクル（sent → accepted / declined、accepted → completed）を
// 管理する。declinedとcompletedは終端状態であり、それ以外の遷移は拒否する。
// 状態変更のたびにInvitationStatusChangedイベントをEvent Storeへ送信し、
// 通知Dispatcherが遷移の種類に応じたメールを招待者へ送る。
// 招待メール自体の送信済み記録（emailed_at）はDispatcherが内部APIで更新する。
package invitation

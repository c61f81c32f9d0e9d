// Package planner はプランナーサービスの内部実装を提供する。
//
// ふたり会議（定例ミーティング）とToDoの管理を担当する。
// 会議の作成時にはMeetingScheduledイベントをEvent Storeへ送信する。
// 会議リマインダーの対象抽出（開始1〜2時間前の未送信会議）と
// 送信済みフラグの更新は、通知Dispatcherが内部APIで行う。
// ToDoの割り当て時には通知Dispatcherへ直接送信を依頼する。
package planner

// Package dispatcher は通知Dispatcherサービスの内部実装を提供する。
//
// 3つの入力経路から通知メールを組み立て、送信キューに投入する。
//
//   - Event Storeのポーリング: サインアップ・招待ライフサイクルのイベントを
//     処理する。配信はat-least-onceのため、ウェルカム系の通知は台帳
//     （notification_ledger）で二重送信を防ぐ。招待ステータスの遷移通知は
//     変更前後のペアが遷移表と完全一致した場合のみ送信する。
//   - 定期スキャン: 開始1〜2時間前のふたり会議を抽出し、パートナーへ
//     リマインダーを送る。
//   - 呼び出し可能API: 他サービスやテストがメール送信を直接依頼する。
//
// キューに投入したメールは監査ログ（audit_log）にも記録する。
package dispatcher

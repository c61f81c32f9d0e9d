// Package eventstore はイベントストアサービスの内部実装を提供する。
//
// サインアップ・招待・会議など全サービスの状態変更をイベントとして
// 追記専用で永続化し、ポーリングするコンシューマ（通知Dispatcher）に
// 配信する。同一Aggregate内のイベントはバージョン番号で順序が保証される。
// 配信はat-least-onceであり、コンシューマ側での再処理耐性を前提とする。
package eventstore

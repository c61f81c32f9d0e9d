// Package account はアカウントサービスの内部実装を提供する。
//
// ユーザーのサインアップ・プロフィール管理・JWT発行を担当する。
// サインアップ時にはUserSignedUpとProfileCreatedのイベントをEvent Storeへ
// 送信し、通知Dispatcherがウェルカムメールを送信する契機となる。
// パートナー紐付け用の内部APIは招待サービスと通知Dispatcherから呼ばれる。
package account

// Package config は各サービスの環境変数ベースの設定を提供する。
//
// caarlos0/envで環境変数を構造体にパースする。すべての項目に
// ハードコードされたフォールバック値を持ち、環境変数が未設定でも
// ローカル環境でそのまま起動できる。
package config

// アカウントサービスのエントリポイント。
// ユーザー登録・プロフィール管理・パートナー紐付けを担当する。
package main

import (
	"log"

	"github.com/nao1215/futari/internal/account"
	"github.com/nao1215/futari/pkg/config"
)

func main() {
	cfg, err := config.LoadAccount()
	if err != nil {
		log.Fatalf("アカウント設定の読み込みに失敗: %v", err)
	}

	server, err := account.NewServer(cfg)
	if err != nil {
		log.Fatalf("アカウントサーバーの初期化に失敗: %v", err)
	}

	log.Printf("アカウントサービスを起動します: :%s", cfg.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("アカウントサービスの起動に失敗: %v", err)
	}
}

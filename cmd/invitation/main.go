// 招待サービスのエントリポイント。
// パートナー招待の作成と受諾・辞退・完了のライフサイクルを管理する。
package main

import (
	"log"

	"github.com/nao1215/futari/internal/invitation"
	"github.com/nao1215/futari/pkg/config"
)

func main() {
	cfg, err := config.LoadInvitation()
	if err != nil {
		log.Fatalf("招待設定の読み込みに失敗: %v", err)
	}

	server, err := invitation.NewServer(cfg)
	if err != nil {
		log.Fatalf("招待サーバーの初期化に失敗: %v", err)
	}

	log.Printf("招待サービスを起動します: :%s", cfg.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("招待サービスの起動に失敗: %v", err)
	}
}

// Event Storeサービスのエントリポイント。
// 全サービスが発行するドメインイベントを追記専用で永続化し、
// タイムスタンプによる取得APIを提供する。
package main

import (
	"log"

	"github.com/nao1215/futari/internal/eventstore"
	"github.com/nao1215/futari/pkg/config"
)

func main() {
	cfg, err := config.LoadEventStore()
	if err != nil {
		log.Fatalf("Event Store設定の読み込みに失敗: %v", err)
	}

	server, err := eventstore.NewServer(cfg)
	if err != nil {
		log.Fatalf("Event Storeサーバーの初期化に失敗: %v", err)
	}

	log.Printf("Event Storeサービスを起動します: :%s", cfg.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("Event Storeサービスの起動に失敗: %v", err)
	}
}

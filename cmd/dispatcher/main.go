// 通知Dispatcherサービスのエントリポイント。
// Event Storeのポーリングと会議リマインダーのスキャンを常駐実行しつつ、
// メール送信を直接依頼できるAPIを提供する。
package main

import (
	"log"

	"github.com/nao1215/futari/internal/dispatcher"
	"github.com/nao1215/futari/pkg/config"
)

func main() {
	cfg, err := config.LoadDispatcher()
	if err != nil {
		log.Fatalf("Dispatcher設定の読み込みに失敗: %v", err)
	}

	server, err := dispatcher.NewServer(cfg)
	if err != nil {
		log.Fatalf("Dispatcherサーバーの初期化に失敗: %v", err)
	}

	log.Printf("通知Dispatcherサービスを起動します: :%s", cfg.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("通知Dispatcherサービスの起動に失敗: %v", err)
	}
}

// プランナーサービスのエントリポイント。
// ふたり会議とToDoの管理、リマインダー対象会議の提供を担当する。
package main

import (
	"log"

	"github.com/nao1215/futari/internal/planner"
	"github.com/nao1215/futari/pkg/config"
)

func main() {
	cfg, err := config.LoadPlanner()
	if err != nil {
		log.Fatalf("プランナー設定の読み込みに失敗: %v", err)
	}

	server, err := planner.NewServer(cfg)
	if err != nil {
		log.Fatalf("プランナーサーバーの初期化に失敗: %v", err)
	}

	log.Printf("プランナーサービスを起動します: :%s", cfg.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("プランナーサービスの起動に失敗: %v", err)
	}
}

// 通知サービスのエントリポイント。
// 注文とレビューのイベントを取り込み、運用コンソールへライブ配信する。
// 配達員の割り当てと端末へのプッシュ送信も受け持つ。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"

	"github.com/nao1215/foodops/internal/assignment"
	"github.com/nao1215/foodops/internal/config"
	"github.com/nao1215/foodops/internal/consumer"
	"github.com/nao1215/foodops/internal/notification"
	notificationdb "github.com/nao1215/foodops/internal/notification/db"
	"github.com/nao1215/foodops/internal/push"
	"github.com/nao1215/foodops/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		gin.DisableConsoleColor()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := notificationdb.Open(ctx, cfg.DBPath)
	if err != nil {
		log.Fatalf("通知ストアの初期化に失敗: %v", err)
	}
	defer store.Close()

	hub := notification.NewHub(cfg.SessionBuffer)
	ingestor := notification.NewIngestor(store, hub)
	reconciler := notification.NewReconciler(store, hub)

	var pushOpts []push.Option
	if cfg.RedisURL != "" {
		suppressor, err := push.OpenRedisSuppressor(ctx, cfg.RedisURL, cfg.TokenSuppressTTL)
		if err != nil {
			log.Fatalf("トークン抑止キャッシュへの接続に失敗: %v", err)
		}
		defer suppressor.Close()
		pushOpts = append(pushOpts, push.WithSuppressor(suppressor))
	}
	dispatcher := push.NewDispatcher(
		push.NewFCMGateway(cfg.FCMEndpoint, cfg.FCMServerKey, cfg.PushTimeout),
		pushOpts...,
	)

	assigner := assignment.NewService(store, dispatcher, retry.Config{
		MaxAttempts:    cfg.AssignPushMaxAttempts,
		InitialBackoff: cfg.AssignPushInitialBackoff,
		MaxBackoff:     cfg.AssignPushMaxBackoff,
		JitterFactor:   0.2,
	})

	if cfg.RabbitURL != "" {
		c, err := consumer.Dial(cfg.RabbitURL, consumer.Config{
			Queue:       cfg.EventQueue,
			DLQ:         cfg.EventDLQ,
			Workers:     cfg.ConsumerWorkers,
			Prefetch:    cfg.ConsumerPrefetch,
			MaxAttempts: cfg.ConsumerMaxAttempts,
		}, ingestor)
		if err != nil {
			log.Fatalf("ブローカーへの接続に失敗: %v", err)
		}
		if err := c.Start(ctx); err != nil {
			log.Fatalf("イベントコンシューマーの起動に失敗: %v", err)
		}
		defer c.Stop()
		log.Printf("イベントコンシューマーを起動しました: queue=%s", cfg.EventQueue)
	}

	server := notification.NewServer(notification.Config{
		Port:            cfg.Port,
		JWTSecret:       cfg.JWTSecret,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		DevTokenEnabled: cfg.DevTokenEnabled,
	}, notification.Deps{
		Store:      store,
		Hub:        hub,
		Ingestor:   ingestor,
		Reconciler: reconciler,
		Pusher:     dispatcher,
		Assigner:   assigner,
	})

	log.Printf("通知サービスを起動します: :%s", cfg.Port)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("通知サービスの実行に失敗: %v", err)
	}
	log.Printf("通知サービスを停止しました")
}

package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/foodops/internal/assignment"
	"github.com/nao1215/foodops/internal/push"
	"github.com/nao1215/foodops/pkg/middleware"
)

// shutdownTimeout は停止時にリクエストの完了を待つ時間。
const shutdownTimeout = 5 * time.Second

// PushSender はプッシュ送信を行う。*push.Dispatcher が実装する。
type PushSender interface {
	Dispatch(ctx context.Context, req push.Request) (push.Receipt, error)
}

// OrderAssigner は注文の割り当てを行う。*assignment.Service が実装する。
type OrderAssigner interface {
	Assign(ctx context.Context, req assignment.Request) (assignment.Result, error)
	Get(ctx context.Context, orderID string) (assignment.Assignment, error)
}

// Config はHTTPサーバーの設定。
type Config struct {
	// Port はリッスンポート。
	Port string
	// JWTSecret は管理者トークンの署名鍵。
	JWTSecret string
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// DevTokenEnabled が真なら開発用トークン発行APIを公開する。
	DevTokenEnabled bool
	// Heartbeat はライブチャネルのハートビート間隔。0なら15秒。
	Heartbeat time.Duration
}

// Deps はサーバーが使うコンポーネント。
type Deps struct {
	Store      Store
	Hub        *Hub
	Ingestor   *Ingestor
	Reconciler *Reconciler
	Pusher     PushSender
	Assigner   OrderAssigner
}

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサーバー設定。
	cfg Config
	// store は通知ストア。
	store Store
	// hub はライブチャネルの配信ハブ。
	hub *Hub
	// ingestor はイベントの取り込み。
	ingestor *Ingestor
	// reconciler は既読状態の管理。
	reconciler *Reconciler
	// pusher は端末へのプッシュ送信。
	pusher PushSender
	// assigner は注文の割り当て。
	assigner OrderAssigner
}

// NewServer は新しい通知サーバーを生成する。
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	s := &Server{
		router:     router,
		cfg:        cfg,
		store:      deps.Store,
		hub:        deps.Hub,
		ingestor:   deps.Ingestor,
		reconciler: deps.Reconciler,
		pusher:     deps.Pusher,
		assigner:   deps.Assigner,
	}
	s.setupRoutes()
	return s
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxが終了したら停止する。
// 停止時はまずハブを閉じてライブチャネルを終わらせ、その後で残りのリクエストを待つ。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] :%s で待ち受けを開始します", s.cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTPサーバーが停止しました: %w", err)
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	log.Printf("[Server] 停止しました")
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// ライブチャネルはEventSourceがヘッダーを送れないため、クエリのトークンも受け付ける
	s.router.GET("/api/v1/notifications/stream", middleware.JWTAuth(s.cfg.JWTSecret, true), s.handleStream())

	api := s.router.Group("/api/v1")
	if s.cfg.DevTokenEnabled {
		api.POST("/auth/dev-token", s.handleDevToken())
	}

	authed := api.Group("")
	authed.Use(middleware.JWTAuth(s.cfg.JWTSecret, false))
	{
		notifications := authed.Group("/notifications")
		{
			// 通知一覧取得（古い順）
			notifications.GET("", s.handleList())
			// 未読件数取得
			notifications.GET("/unread-count", s.handleUnreadCount())
			// 通知1件の取得
			notifications.GET("/:id", s.handleGet())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
		}

		// イベント取り込み（内部API - 注文・レビューのワークフローから呼び出される）
		authed.POST("/internal/events", s.handleIngest())

		// 配達員端末へのプッシュ送信
		authed.POST("/push/send", s.handlePush())

		orders := authed.Group("/orders")
		{
			// 配達員の割り当て
			orders.POST("/:id/assign", s.handleAssign())
			// 割り当ての取得
			orders.GET("/:id/assignment", s.handleGetAssignment())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())
}

// pinger は疎通確認できるストア。
type pinger interface {
	Ping(ctx context.Context) error
}

// handleHealth はヘルスチェックのハンドラ。ストアに疎通できなければ503を返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p, ok := s.store.(pinger); ok {
			if err := p.Ping(c.Request.Context()); err != nil {
				log.Printf("[Health] ストアの疎通確認に失敗: %v", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "notification"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification", "sessions": s.hub.SessionCount()})
	}
}

// statusOf はエラーに対応するHTTPステータスを返す。
func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrInvalidEventKind),
		errors.Is(err, ErrIncompleteEvent),
		errors.Is(err, push.ErrMalformedRequest),
		errors.Is(err, assignment.ErrInvalidAssignment):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotificationNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrDeliveryMissed):
		return http.StatusServiceUnavailable
	case errors.Is(err, push.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, push.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError はエラーをステータスに変換して返す。
// 5xxの場合は詳細をログにだけ残し、msgを返す。
func respondError(c *gin.Context, err error, msg string) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		log.Printf("%s: %v", msg, err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// handleList は通知一覧を古い順に返すハンドラ。
// クエリ: unread=true で未読のみ、limit / offset でページング。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		var opts ListOptions
		var err error
		if v := c.Query("unread"); v != "" {
			if opts.UnreadOnly, err = strconv.ParseBool(v); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unread はtrueかfalseで指定してください"})
				return
			}
		}
		if opts.Limit, err = nonNegativeQuery(c, "limit"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if opts.Offset, err = nonNegativeQuery(c, "offset"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		list, err := List(c.Request.Context(), s.store, opts)
		if err != nil {
			respondError(c, err, "通知一覧の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// nonNegativeQuery はクエリパラメータを0以上の整数として読む。未指定なら0。
func nonNegativeQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s は0以上の整数で指定してください", key)
	}
	return n, nil
}

// handleUnreadCount は未読件数を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := s.reconciler.GetUnviewedCount(c.Request.Context())
		if err != nil {
			respondError(c, err, "未読件数の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"unread_count": count})
	}
}

// handleMarkAllAsRead は全通知を既読にし、新しい未読件数を返すハンドラ。
// 通知フィードを開いたときに呼ばれる。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := middleware.GetAdminID(c)
		marked, err := s.reconciler.MarkAllUnviewedAsRead(c.Request.Context())
		if err != nil {
			respondError(c, err, "全通知の既読処理に失敗しました")
			return
		}
		if marked > 0 {
			log.Printf("[Notification] 管理者 %s が %d 件を既読にしました", adminID, marked)
		}
		count, err := s.reconciler.GetUnviewedCount(c.Request.Context())
		if err != nil {
			respondError(c, err, "未読件数の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"marked": marked, "unread_count": count, "read_by": adminID})
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		changed, err := s.reconciler.MarkAsRead(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, ErrNotificationNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
				return
			}
			respondError(c, err, "通知の既読処理に失敗しました")
			return
		}
		count, err := s.reconciler.GetUnviewedCount(c.Request.Context())
		if err != nil {
			respondError(c, err, "未読件数の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "changed": changed, "unread_count": count, "read_by": middleware.GetAdminID(c)})
	}
}

// handleGet は通知を1件返すハンドラ。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := Get(c.Request.Context(), s.store, c.Param("id"))
		if err != nil {
			if errors.Is(err, ErrNotificationNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
				return
			}
			respondError(c, err, "通知の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, n)
	}
}

// ingestRequest はイベント取り込みリクエストのJSON構造。
type ingestRequest struct {
	// Type はイベントの種類（order / commande / review）。
	Type string `json:"type" binding:"required"`
	// ClientName は顧客名。
	ClientName string `json:"client_name"`
	// ProductName は商品名。
	ProductName string `json:"product_name"`
}

// handleIngest はイベントを通知として保存し配信するハンドラ。
func (s *Server) handleIngest() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ingestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		n, err := s.ingestor.Ingest(c.Request.Context(), Event{
			Kind:        req.Type,
			ClientName:  req.ClientName,
			ProductName: req.ProductName,
		})
		if err != nil {
			respondError(c, err, "通知の作成に失敗しました")
			return
		}
		c.JSON(http.StatusCreated, n)
	}
}

// handlePush は配達員の端末へプッシュを1回送るハンドラ。
// 結果は {"message": ...} の文言で返す。
func (s *Server) handlePush() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req push.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		receipt, err := s.pusher.Dispatch(c.Request.Context(), req)
		if err != nil {
			respondError(c, err, "プッシュ通知の送信に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "プッシュ通知を送信しました", "message_id": receipt.MessageID})
	}
}

// assignRequest は配達員割り当てリクエストのJSON構造。
type assignRequest struct {
	// DeliveryManID は配達員ID。
	DeliveryManID string `json:"delivery_man_id"`
	// Token は配達員端末のトークン。
	Token string `json:"token"`
}

// handleAssign は注文に配達員を割り当て、配達員へプッシュを送るハンドラ。
// プッシュに失敗しても割り当ては確定しているため200を返す。
func (s *Server) handleAssign() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req assignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		res, err := s.assigner.Assign(c.Request.Context(), assignment.Request{
			OrderID:       c.Param("id"),
			DeliveryManID: req.DeliveryManID,
			Token:         req.Token,
		})
		if err != nil {
			respondError(c, err, "注文の割り当てに失敗しました")
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// handleGetAssignment は注文の割り当てを返すハンドラ。
func (s *Server) handleGetAssignment() gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := s.assigner.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, ErrNotificationNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "割り当てが見つかりません"})
				return
			}
			respondError(c, err, "割り当ての取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

// devTokenRequest は開発用トークン発行リクエストのJSON構造。
type devTokenRequest struct {
	// AdminID は管理者ID。
	AdminID string `json:"admin_id" binding:"required"`
	// Email は管理者のメールアドレス。
	Email string `json:"email"`
}

// handleDevToken は開発用の管理者トークンを発行するハンドラ。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		token, err := middleware.GenerateJWT(s.cfg.JWTSecret, req.AdminID, req.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの発行に失敗しました"})
			log.Printf("トークン発行エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

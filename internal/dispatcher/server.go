package dispatcher

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	dispatcherdb "github.com/nao1215/futari/internal/dispatcher/db"
	"github.com/nao1215/futari/pkg/config"
	"github.com/nao1215/futari/pkg/middleware"
)

// Server は通知DispatcherサービスのHTTPサーバー。
// メール送信を直接依頼できるAPIを提供する。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はクエリ実行オブジェクト。
	queries *dispatcherdb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// renderer は通知メールの組み立てを行う。
	renderer *Renderer
	// mailCfg はメール送信設定。
	mailCfg config.Mail
	// dispatcher はEvent Storeのポーリングプロセス。
	dispatcher *Dispatcher
	// scheduler はリマインダーの定期スキャンプロセス。
	scheduler *Scheduler
}

// NewServer は新しい通知Dispatcherサーバーを生成する。
// データベースの初期化とマイグレーションの適用を行う。
func NewServer(cfg *config.Dispatcher) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := dispatcherdb.Migrate(sqlDB); err != nil {
		return nil, fmt.Errorf("マイグレーションの適用に失敗: %w", err)
	}

	queries := dispatcherdb.New(sqlDB)
	renderer := NewRenderer(cfg.Mail)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:     router,
		port:       cfg.Port,
		queries:    queries,
		db:         sqlDB,
		renderer:   renderer,
		mailCfg:    cfg.Mail,
		dispatcher: NewDispatcher(queries, renderer, cfg.EventStoreURL, cfg.InvitationURL, cfg.PollInterval),
		scheduler:  NewScheduler(queries, renderer, cfg.PlannerURL, cfg.AccountURL, cfg.ScanInterval),
	}
	s.setupRoutes(cfg.JWTSecret)

	return s, nil
}

// Run はバックグラウンドプロセスとHTTPサーバーを起動する。
func (s *Server) Run() error {
	ctx := context.Background()
	s.dispatcher.Start(ctx)
	s.scheduler.Start(ctx)
	defer s.dispatcher.Stop()
	defer s.scheduler.Stop()

	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
// 送信APIはBearerトークンまたはX-User-IDヘッダーで呼び出し元を識別する。
// テストモードのリクエストは識別なしでも受け付けるため、認証の判定は
// 各ハンドラで行う。
func (s *Server) setupRoutes(jwtSecret string) {
	api := s.router.Group("/api/v1")
	api.Use(middleware.OptionalJWTAuth(jwtSecret))
	{
		send := api.Group("/send")
		{
			send.POST("/meeting-reminder", s.handleSendMeetingReminder())
			send.POST("/todo", s.handleSendTodo())
			send.POST("/new-account", s.handleSendNewAccount())
			send.POST("/general", s.handleSendGeneral())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "dispatcher"})
	})
}

// sendResponse は送信APIのJSONレスポンス構造。
type sendResponse struct {
	// Success は処理が成功したかどうか。
	Success bool `json:"success"`
	// Message は処理結果の説明。
	Message string `json:"message"`
}

// respondInvalidArgument は入力不備のエラーレスポンスを返す。
func respondInvalidArgument(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, sendResponse{Success: false, Message: message})
}

// authorize は呼び出し元の識別を検証する。テストモードのリクエストは
// 識別なしでも許可する。識別できない場合は401を返しfalseを返す。
func authorize(c *gin.Context, testMode bool) bool {
	if middleware.GetUserID(c) == "" && !testMode {
		c.JSON(http.StatusUnauthorized, sendResponse{Success: false, Message: "認証されていません"})
		return false
	}
	return true
}

// resolveRecipient は宛先を決定する。テストモードで宛先が未指定の
// 場合はテスト用の宛先を使用する。決定できない場合は400を返し
// falseを返す。
func (s *Server) resolveRecipient(c *gin.Context, recipient string, testMode bool) (string, bool) {
	if recipient != "" {
		return recipient, true
	}
	if testMode {
		return s.mailCfg.TestRecipient, true
	}
	respondInvalidArgument(c, "recipientは必須です")
	return "", false
}

// deliver はメールをキューに投入して監査ログに記録し、レスポンスを返す。
func (s *Server) deliver(c *gin.Context, kind Kind, recipient string, mail renderedMail, detail string, err error) {
	if err != nil {
		c.JSON(http.StatusInternalServerError, sendResponse{Success: false, Message: "内部エラーが発生しました"})
		log.Printf("[Dispatcher] メールの組み立てに失敗: kind=%s, error=%v", kind, err)
		return
	}

	if err := s.queries.EnqueueMail(c.Request.Context(), dispatcherdb.EnqueueMailParams{
		ID:        uuid.New().String(),
		Kind:      string(kind),
		Recipient: recipient,
		Sender:    mail.Sender,
		ReplyTo:   mail.ReplyTo,
		Subject:   mail.Subject,
		Body:      mail.Body,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, sendResponse{Success: false, Message: "内部エラーが発生しました"})
		log.Printf("[Dispatcher] メールのキュー投入に失敗: kind=%s, error=%v", kind, err)
		return
	}

	if err := s.queries.CreateAuditEntry(c.Request.Context(), dispatcherdb.CreateAuditEntryParams{
		ID:        uuid.New().String(),
		Kind:      string(kind),
		Recipient: recipient,
		SentBy:    middleware.GetUserID(c),
		Detail:    detail,
	}); err != nil {
		log.Printf("[Dispatcher] 監査ログの記録に失敗: kind=%s, error=%v", kind, err)
	}

	c.JSON(http.StatusOK, sendResponse{Success: true, Message: "メールをキューに投入しました"})
}

// sendMeetingReminderRequest は会議リマインダー送信リクエストのJSON構造。
type sendMeetingReminderRequest struct {
	// Recipient は宛先メールアドレス。テストモード時は省略可能。
	Recipient string `json:"recipient"`
	// Title は会議のタイトル。
	Title string `json:"title"`
	// StartTime は会議の開始日時（RFC3339形式）。
	StartTime string `json:"start_time"`
	// AgendaItems は議題の一覧（順序付き）。
	AgendaItems []string `json:"agenda_items"`
	// TestMode はテスト送信かどうか。
	TestMode bool `json:"test_mode"`
}

// handleSendMeetingReminder は会議リマインダーの送信依頼を処理するハンドラを返す。
func (s *Server) handleSendMeetingReminder() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendMeetingReminderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalidArgument(c, fmt.Sprintf("リクエストが不正です: %v", err))
			return
		}
		if !authorize(c, req.TestMode) {
			return
		}
		if req.Title == "" {
			respondInvalidArgument(c, "titleは必須です")
			return
		}
		startTime, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			respondInvalidArgument(c, "start_timeはRFC3339形式で指定してください")
			return
		}
		recipient, ok := s.resolveRecipient(c, req.Recipient, req.TestMode)
		if !ok {
			return
		}

		mail, err := s.renderer.MeetingReminder(req.Title, startTime, req.AgendaItems)
		s.deliver(c, KindMeetingReminder, recipient, mail, "title="+req.Title, err)
	}
}

// sendTodoRequest はToDo通知送信リクエストのJSON構造。
type sendTodoRequest struct {
	// Recipient は宛先メールアドレス。テストモード時は省略可能。
	Recipient string `json:"recipient"`
	// Title はToDoのタイトル。
	Title string `json:"title"`
	// Note は補足メモ。
	Note string `json:"note"`
	// TestMode はテスト送信かどうか。
	TestMode bool `json:"test_mode"`
}

// handleSendTodo はToDo通知の送信依頼を処理するハンドラを返す。
func (s *Server) handleSendTodo() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendTodoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalidArgument(c, fmt.Sprintf("リクエストが不正です: %v", err))
			return
		}
		if !authorize(c, req.TestMode) {
			return
		}
		if req.Title == "" {
			respondInvalidArgument(c, "titleは必須です")
			return
		}
		recipient, ok := s.resolveRecipient(c, req.Recipient, req.TestMode)
		if !ok {
			return
		}

		mail, err := s.renderer.TodoAssigned(req.Title, req.Note)
		s.deliver(c, KindTodoAssigned, recipient, mail, "title="+req.Title, err)
	}
}

// sendNewAccountRequest はアカウント登録完了メール送信リクエストのJSON構造。
type sendNewAccountRequest struct {
	// Recipient は宛先メールアドレス。テストモード時は省略可能。
	Recipient string `json:"recipient"`
	// FirstName は名。
	FirstName string `json:"first_name"`
	// LastName は姓。
	LastName string `json:"last_name"`
	// TestMode はテスト送信かどうか。
	TestMode bool `json:"test_mode"`
}

// handleSendNewAccount はアカウント登録完了メールの送信依頼を処理するハンドラを返す。
func (s *Server) handleSendNewAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendNewAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalidArgument(c, fmt.Sprintf("リクエストが不正です: %v", err))
			return
		}
		if !authorize(c, req.TestMode) {
			return
		}
		if req.FirstName == "" || req.LastName == "" {
			respondInvalidArgument(c, "first_nameとlast_nameは必須です")
			return
		}
		recipient, ok := s.resolveRecipient(c, req.Recipient, req.TestMode)
		if !ok {
			return
		}

		mail, err := s.renderer.NewAccount(req.FirstName, req.LastName, recipient)
		s.deliver(c, KindNewAccount, recipient, mail, "", err)
	}
}

// sendGeneralRequest は汎用メール送信リクエストのJSON構造。
type sendGeneralRequest struct {
	// Recipient は宛先メールアドレス。テストモード時は省略可能。
	Recipient string `json:"recipient"`
	// Subject は件名。
	Subject string `json:"subject"`
	// Body は本文（HTML）。
	Body string `json:"body"`
	// TestMode はテスト送信かどうか。
	TestMode bool `json:"test_mode"`
}

// handleSendGeneral は汎用メールの送信依頼を処理するハンドラを返す。
func (s *Server) handleSendGeneral() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendGeneralRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalidArgument(c, fmt.Sprintf("リクエストが不正です: %v", err))
			return
		}
		if !authorize(c, req.TestMode) {
			return
		}
		if req.Subject == "" || req.Body == "" {
			respondInvalidArgument(c, "subjectとbodyは必須です")
			return
		}
		recipient, ok := s.resolveRecipient(c, req.Recipient, req.TestMode)
		if !ok {
			return
		}

		mail, err := s.renderer.General(req.Subject, req.Body)
		s.deliver(c, KindGeneral, recipient, mail, "", err)
	}
}

package planner

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	plannerdb "github.com/nao1215/futari/internal/planner/db"
	"github.com/nao1215/futari/pkg/config"
	"github.com/nao1215/futari/pkg/event"
	"github.com/nao1215/futari/pkg/httpclient"
	"github.com/nao1215/futari/pkg/middleware"
)

// Server はプランナーサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はクエリ実行オブジェクト。
	queries *plannerdb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// jwtSecret はJWT検証用の秘密鍵。
	jwtSecret string
	// eventClient はEvent Storeへの送信用HTTPクライアント。
	eventClient *httpclient.Client
	// dispatcherClient は通知Dispatcherへの送信用HTTPクライアント。
	dispatcherClient *httpclient.Client
}

// NewServer は新しいプランナーサーバーを生成する。
func NewServer(cfg *config.Planner) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:           router,
		port:             cfg.Port,
		queries:          plannerdb.New(sqlDB),
		db:               sqlDB,
		jwtSecret:        cfg.JWTSecret,
		eventClient:      httpclient.New(cfg.EventStoreURL),
		dispatcherClient: httpclient.New(cfg.DispatcherURL),
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// 認証必須のAPIエンドポイント
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		meetings := api.Group("/meetings")
		{
			meetings.POST("", s.handleCreateMeeting())
			meetings.GET("", s.handleListMeetings())
			meetings.GET("/:id", s.handleGetMeeting())
		}

		todos := api.Group("/todos")
		{
			todos.POST("", s.handleCreateTodo())
			todos.GET("", s.handleListTodos())
		}
	}

	// サービス間通信用の内部エンドポイント
	internal := s.router.Group("/api/v1/internal")
	{
		// 通知Dispatcherのリマインダースキャンが呼び出す
		internal.GET("/meetings/reminder-window", s.handleReminderWindow())
		internal.PUT("/meetings/:id/reminder-sent", s.handleMarkReminderSent())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "planner"})
	})
}

// createMeetingRequest は会議作成リクエストのJSON構造。
type createMeetingRequest struct {
	// Title は会議のタイトル。
	Title string `json:"title" binding:"required"`
	// StartTime は会議の開始日時（RFC3339形式）。
	StartTime time.Time `json:"start_time" binding:"required"`
	// AgendaItems は議題の一覧（順序付き）。
	AgendaItems []string `json:"agenda_items"`
}

// handleCreateMeeting はふたり会議の作成を処理するハンドラを返す。
// MeetingScheduledイベントをEvent Storeへ送信する。
func (s *Server) handleCreateMeeting() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createMeetingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		agendaItems := req.AgendaItems
		if agendaItems == nil {
			agendaItems = []string{}
		}
		agendaJSON, err := json.Marshal(agendaItems)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "議題のシリアライズに失敗しました"})
			return
		}

		meetingID := uuid.New().String()
		if err := s.queries.CreateMeeting(c.Request.Context(), plannerdb.CreateMeetingParams{
			ID:          meetingID,
			UserID:      userID,
			Title:       req.Title,
			StartTime:   req.StartTime.UTC(),
			AgendaItems: string(agendaJSON),
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "会議の作成に失敗しました"})
			log.Printf("[Planner] 会議作成エラー: %v", err)
			return
		}

		s.emitEvent(c, fmt.Sprintf("meeting-%s", meetingID), event.TypeMeetingScheduled,
			event.MeetingScheduledData{
				MeetingID:   meetingID,
				UserID:      userID,
				Title:       req.Title,
				StartTime:   req.StartTime.UTC(),
				AgendaItems: agendaItems,
			})

		c.JSON(http.StatusCreated, gin.H{"id": meetingID})
	}
}

// handleListMeetings は自分の会議一覧を返すハンドラを返す。
func (s *Server) handleListMeetings() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		meetings, err := s.queries.ListMeetingsByUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "会議の取得に失敗しました"})
			log.Printf("[Planner] 会議一覧取得エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, toMeetingResponses(meetings))
	}
}

// handleGetMeeting は会議の取得を処理するハンドラを返す。
func (s *Server) handleGetMeeting() gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := s.queries.GetMeeting(c.Request.Context(), c.Param("id"))
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "会議が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "会議の取得に失敗しました"})
			log.Printf("[Planner] 会議取得エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, toMeetingResponse(m))
	}
}

// createTodoRequest はToDo作成リクエストのJSON構造。
type createTodoRequest struct {
	// Title はToDoのタイトル。
	Title string `json:"title" binding:"required"`
	// Note は補足メモ。
	Note string `json:"note"`
	// AssigneeEmail は担当者（パートナー）のメールアドレス。
	AssigneeEmail string `json:"assignee_email" binding:"required,email"`
}

// handleCreateTodo はToDoの作成を処理するハンドラを返す。
// 作成後、通知Dispatcherへ担当者向けのToDo通知メール送信を依頼する。
// 通知の失敗はToDo作成自体を失敗させない。
func (s *Server) handleCreateTodo() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createTodoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		todoID := uuid.New().String()
		if err := s.queries.CreateTodo(c.Request.Context(), plannerdb.CreateTodoParams{
			ID:            todoID,
			UserID:        userID,
			Title:         req.Title,
			Note:          req.Note,
			AssigneeEmail: req.AssigneeEmail,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ToDoの作成に失敗しました"})
			log.Printf("[Planner] ToDo作成エラー: %v", err)
			return
		}

		ctx := httpclient.WithUserID(c.Request.Context(), userID)
		if err := s.dispatcherClient.PostJSON(ctx, "/api/v1/send/todo", map[string]any{
			"recipient": req.AssigneeEmail,
			"title":     req.Title,
			"note":      req.Note,
		}, nil); err != nil {
			log.Printf("[Planner] ToDo通知の依頼に失敗: todo=%s, error=%v", todoID, err)
		}

		c.JSON(http.StatusCreated, gin.H{"id": todoID})
	}
}

// handleListTodos は自分のToDo一覧を返すハンドラを返す。
func (s *Server) handleListTodos() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		todos, err := s.queries.ListTodosByUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ToDoの取得に失敗しました"})
			log.Printf("[Planner] ToDo一覧取得エラー: %v", err)
			return
		}

		responses := make([]gin.H, 0, len(todos))
		for _, td := range todos {
			responses = append(responses, gin.H{
				"id":             td.ID,
				"user_id":        td.UserID,
				"title":          td.Title,
				"note":           td.Note,
				"assignee_email": td.AssigneeEmail,
				"done":           td.Done,
			})
		}
		c.JSON(http.StatusOK, responses)
	}
}

// handleReminderWindow はリマインダー対象の会議を返すハンドラを返す。
// 開始日時が[from, to]の範囲内（両端を含む）かつリマインダー未送信の
// 会議を返す。
func (s *Server) handleReminderWindow() gin.HandlerFunc {
	return func(c *gin.Context) {
		from, err := time.Parse(time.RFC3339, c.Query("from"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fromはRFC3339形式で指定してください"})
			return
		}
		to, err := time.Parse(time.RFC3339, c.Query("to"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "toはRFC3339形式で指定してください"})
			return
		}

		meetings, err := s.queries.ListMeetingsInWindow(c.Request.Context(), from.UTC(), to.UTC())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "会議の取得に失敗しました"})
			log.Printf("[Planner] リマインダー対象取得エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, toMeetingResponses(meetings))
	}
}

// handleMarkReminderSent はリマインダー送信済みフラグの更新ハンドラを返す。
func (s *Server) handleMarkReminderSent() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := s.queries.MarkReminderSent(c.Request.Context(), c.Param("id"))
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "会議が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "送信済みフラグの更新に失敗しました"})
			log.Printf("[Planner] リマインダーフラグ更新エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	}
}

// toMeetingResponse はDB行をJSONレスポンスに変換する。
// 議題はJSON文字列から配列に展開して返す。
func toMeetingResponse(m plannerdb.Meeting) gin.H {
	agendaItems := []string{}
	if err := json.Unmarshal([]byte(m.AgendaItems), &agendaItems); err != nil {
		log.Printf("[Planner] 議題のパースに失敗: meeting=%s, error=%v", m.ID, err)
	}
	return gin.H{
		"id":            m.ID,
		"user_id":       m.UserID,
		"title":         m.Title,
		"start_time":    m.StartTime.UTC().Format(time.RFC3339),
		"agenda_items":  agendaItems,
		"reminder_sent": m.ReminderSent,
	}
}

// toMeetingResponses はDB行のスライスをJSONレスポンスのスライスに変換する。
func toMeetingResponses(meetings []plannerdb.Meeting) []gin.H {
	responses := make([]gin.H, 0, len(meetings))
	for _, m := range meetings {
		responses = append(responses, toMeetingResponse(m))
	}
	return responses
}

// emitEvent はEvent Storeにイベントを送信する。
// 送信に失敗した場合はログに記録するが、呼び出し元にはエラーを返さない。
func (s *Server) emitEvent(c *gin.Context, aggregateID string, eventType event.Type, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Planner] イベントデータのシリアライズに失敗: %v", err)
		return
	}

	reqBody := map[string]any{
		"aggregate_id":   aggregateID,
		"aggregate_type": string(event.AggregateTypeMeeting),
		"event_type":     string(eventType),
		"data":           json.RawMessage(jsonData),
	}

	ctx := httpclient.WithUserID(c.Request.Context(), middleware.GetUserID(c))
	if err := s.eventClient.PostJSON(ctx, "/api/v1/events", reqBody, nil); err != nil {
		log.Printf("[Planner] Event Storeへのイベント送信に失敗: %v", err)
	}
}

package invitation

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

	invitationdb "github.com/nao1215/futari/internal/invitation/db"
	"github.com/nao1215/futari/pkg/config"
	"github.com/nao1215/futari/pkg/event"
	"github.com/nao1215/futari/pkg/httpclient"
	"github.com/nao1215/futari/pkg/middleware"
)

// Server はパートナー招待サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はクエリ実行オブジェクト。
	queries *invitationdb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// jwtSecret はJWT検証用の秘密鍵。
	jwtSecret string
	// eventClient はEvent Storeへの送信用HTTPクライアント。
	eventClient *httpclient.Client
	// accountClient はアカウントサービスへの送信用HTTPクライアント。
	accountClient *httpclient.Client
}

// NewServer は新しいパートナー招待サーバーを生成する。
func NewServer(cfg *config.Invitation) (*Server, error) {
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
		router:        router,
		port:          cfg.Port,
		queries:       invitationdb.New(sqlDB),
		db:            sqlDB,
		jwtSecret:     cfg.JWTSecret,
		eventClient:   httpclient.New(cfg.EventStoreURL),
		accountClient: httpclient.New(cfg.AccountURL),
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
		invitations := api.Group("/invitations")
		{
			// 招待の作成
			invitations.POST("", s.handleCreateInvitation())
			// 自分が作成した招待の一覧
			invitations.GET("", s.handleListInvitations())
			// 招待の取得
			invitations.GET("/:id", s.handleGetInvitation())
			// ステータス遷移
			invitations.POST("/:id/accept", s.handleTransition(event.InvitationStatusSent, event.InvitationStatusAccepted))
			invitations.POST("/:id/decline", s.handleTransition(event.InvitationStatusSent, event.InvitationStatusDeclined))
			invitations.POST("/:id/complete", s.handleComplete())
		}
	}

	// サービス間通信用の内部エンドポイント
	internal := s.router.Group("/api/v1/internal")
	{
		// 通知Dispatcherが招待メールの送信判定に使用する
		internal.GET("/invitations/:id", s.handleGetInvitation())
		// 通知Dispatcherが招待メールのキュー投入後に呼び出す
		internal.PUT("/invitations/:id/emailed-at", s.handleMarkEmailed())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "invitation"})
	})
}

// createInvitationRequest は招待作成リクエストのJSON構造。
type createInvitationRequest struct {
	// InviteeEmail は招待相手のメールアドレス。後から伝える場合は省略可能。
	InviteeEmail string `json:"invitee_email" binding:"omitempty,email"`
	// CoupleName はふたりの呼び名。
	CoupleName string `json:"couple_name" binding:"required"`
}

// handleCreateInvitation は招待の作成を処理するハンドラを返す。
// 招待相手のメールアドレスが未指定の場合、招待メールは送信されない
// （通知Dispatcher側で宛先なしと判断してスキップされる）。
func (s *Server) handleCreateInvitation() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createInvitationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		inviterID := middleware.GetUserID(c)
		inviterEmail := middleware.GetEmail(c)
		if inviterID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		inviterName := s.resolveDisplayName(c, inviterID, inviterEmail)

		invitationID := uuid.New().String()
		inviteeEmail := sql.NullString{String: req.InviteeEmail, Valid: req.InviteeEmail != ""}
		err := s.queries.CreateInvitation(c.Request.Context(), invitationdb.CreateInvitationParams{
			ID:           invitationID,
			InviterID:    inviterID,
			InviterEmail: inviterEmail,
			InviterName:  inviterName,
			InviteeEmail: inviteeEmail,
			CoupleName:   req.CoupleName,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "招待の作成に失敗しました"})
			log.Printf("[Invitation] 招待作成エラー: %v", err)
			return
		}

		snapshot := event.InvitationSnapshot{
			ID:           invitationID,
			InviterID:    inviterID,
			InviterEmail: inviterEmail,
			InviterName:  inviterName,
			InviteeEmail: req.InviteeEmail,
			CoupleName:   req.CoupleName,
			Status:       event.InvitationStatusSent,
		}
		s.emitEvent(c, invitationID, event.TypeInvitationCreated, event.InvitationCreatedData{Invitation: snapshot})

		c.JSON(http.StatusCreated, gin.H{
			"id":     invitationID,
			"status": string(event.InvitationStatusSent),
		})
	}
}

// handleListInvitations は自分が作成した招待の一覧を返すハンドラを返す。
func (s *Server) handleListInvitations() gin.HandlerFunc {
	return func(c *gin.Context) {
		inviterID := middleware.GetUserID(c)
		if inviterID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		invitations, err := s.queries.ListInvitationsByInviter(c.Request.Context(), inviterID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "招待の取得に失敗しました"})
			log.Printf("[Invitation] 招待一覧取得エラー: %v", err)
			return
		}

		responses := make([]gin.H, 0, len(invitations))
		for _, inv := range invitations {
			responses = append(responses, toInvitationResponse(inv))
		}
		c.JSON(http.StatusOK, responses)
	}
}

// handleGetInvitation は招待の取得を処理するハンドラを返す。
func (s *Server) handleGetInvitation() gin.HandlerFunc {
	return func(c *gin.Context) {
		inv, err := s.queries.GetInvitation(c.Request.Context(), c.Param("id"))
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "招待が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "招待の取得に失敗しました"})
			log.Printf("[Invitation] 招待取得エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, toInvitationResponse(inv))
	}
}

// handleTransition は招待のステータス遷移を処理するハンドラを返す。
// 現在のステータスがfromと一致する場合のみtoへ遷移し、
// InvitationStatusChangedイベントをEvent Storeへ送信する。
// 一致しない場合は409を返し、イベントは送信しない。
func (s *Server) handleTransition(from, to event.InvitationStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		invitationID := c.Param("id")

		err := s.queries.UpdateStatus(c.Request.Context(), invitationID, string(from), string(to))
		if errors.Is(err, sql.ErrNoRows) {
			// 招待が存在しないのか、ステータスが遷移条件を満たさないのかを区別する
			if _, getErr := s.queries.GetInvitation(c.Request.Context(), invitationID); errors.Is(getErr, sql.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "招待が見つかりません"})
				return
			}
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("ステータスが%sではないため%sへ遷移できません", from, to)})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ステータスの更新に失敗しました"})
			log.Printf("[Invitation] ステータス更新エラー: %v", err)
			return
		}

		inv, err := s.queries.GetInvitation(c.Request.Context(), invitationID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "招待の取得に失敗しました"})
			log.Printf("[Invitation] 招待取得エラー: %v", err)
			return
		}

		s.emitEvent(c, invitationID, event.TypeInvitationStatusChanged, event.InvitationStatusChangedData{
			BeforeStatus: from,
			AfterStatus:  to,
			Invitation:   toSnapshot(inv),
		})

		c.JSON(http.StatusOK, toInvitationResponse(inv))
	}
}

// handleComplete はパートナー登録の完了を処理するハンドラを返す。
// accepted → completedの遷移に加えて、招待者のアカウントに
// パートナーのメールアドレスを紐付ける。紐付けの失敗は完了処理自体を
// 失敗させない。
func (s *Server) handleComplete() gin.HandlerFunc {
	transition := s.handleTransition(event.InvitationStatusAccepted, event.InvitationStatusCompleted)
	return func(c *gin.Context) {
		transition(c)
		if c.Writer.Status() != http.StatusOK {
			return
		}

		inv, err := s.queries.GetInvitation(c.Request.Context(), c.Param("id"))
		if err != nil || !inv.InviteeEmail.Valid {
			return
		}

		ctx := httpclient.WithUserID(c.Request.Context(), middleware.GetUserID(c))
		path := fmt.Sprintf("/api/v1/internal/users/%s/partner", inv.InviterID)
		if err := s.accountClient.PutJSON(ctx, path, map[string]string{
			"partner_email": inv.InviteeEmail.String,
		}, nil); err != nil {
			log.Printf("[Invitation] パートナー紐付けに失敗: invitation=%s, error=%v", inv.ID, err)
		}
	}
}

// handleMarkEmailed は招待メールのキュー投入日時を記録するハンドラを返す。
func (s *Server) handleMarkEmailed() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := s.queries.MarkEmailed(c.Request.Context(), c.Param("id"), time.Now().UTC())
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "招待が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "送信日時の記録に失敗しました"})
			log.Printf("[Invitation] emailed_at更新エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	}
}

// resolveDisplayName はアカウントサービスから招待者の表示名を取得する。
// 取得に失敗した場合はメールアドレスを表示名として使用する。
func (s *Server) resolveDisplayName(c *gin.Context, userID, fallback string) string {
	var user struct {
		DisplayName string `json:"display_name"`
	}
	ctx := httpclient.WithUserID(c.Request.Context(), userID)
	if err := s.accountClient.GetJSON(ctx, "/api/v1/internal/users/"+userID, &user); err != nil {
		log.Printf("[Invitation] 表示名の取得に失敗: user=%s, error=%v", userID, err)
		return fallback
	}
	if user.DisplayName == "" {
		return fallback
	}
	return user.DisplayName
}

// toSnapshot はDB行をイベント用スナップショットに変換する。
func toSnapshot(inv invitationdb.Invitation) event.InvitationSnapshot {
	inviteeEmail := ""
	if inv.InviteeEmail.Valid {
		inviteeEmail = inv.InviteeEmail.String
	}
	return event.InvitationSnapshot{
		ID:           inv.ID,
		InviterID:    inv.InviterID,
		InviterEmail: inv.InviterEmail,
		InviterName:  inv.InviterName,
		InviteeEmail: inviteeEmail,
		CoupleName:   inv.CoupleName,
		Status:       event.InvitationStatus(inv.Status),
	}
}

// toInvitationResponse はDB行をJSONレスポンスに変換する。
func toInvitationResponse(inv invitationdb.Invitation) gin.H {
	inviteeEmail := ""
	if inv.InviteeEmail.Valid {
		inviteeEmail = inv.InviteeEmail.String
	}
	emailedAt := ""
	if inv.EmailedAt.Valid {
		emailedAt = inv.EmailedAt.Time.UTC().Format(time.RFC3339)
	}
	return gin.H{
		"id":            inv.ID,
		"inviter_id":    inv.InviterID,
		"inviter_email": inv.InviterEmail,
		"inviter_name":  inv.InviterName,
		"invitee_email": inviteeEmail,
		"couple_name":   inv.CoupleName,
		"status":        inv.Status,
		"emailed_at":    emailedAt,
	}
}

// emitEvent はEvent Storeにイベントを送信する。
// 送信に失敗した場合はログに記録するが、呼び出し元にはエラーを返さない。
func (s *Server) emitEvent(c *gin.Context, invitationID string, eventType event.Type, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Invitation] イベントデータのシリアライズに失敗: %v", err)
		return
	}

	reqBody := map[string]any{
		"aggregate_id":   fmt.Sprintf("invitation-%s", invitationID),
		"aggregate_type": string(event.AggregateTypeInvitation),
		"event_type":     string(eventType),
		"data":           json.RawMessage(jsonData),
	}

	ctx := httpclient.WithUserID(c.Request.Context(), middleware.GetUserID(c))
	if err := s.eventClient.PostJSON(ctx, "/api/v1/events", reqBody, nil); err != nil {
		log.Printf("[Invitation] Event Storeへのイベント送信に失敗: %v", err)
	}
}

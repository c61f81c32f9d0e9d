package account

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	accountdb "github.com/nao1215/futari/internal/account/db"
	"github.com/nao1215/futari/pkg/config"
	"github.com/nao1215/futari/pkg/event"
	"github.com/nao1215/futari/pkg/httpclient"
	"github.com/nao1215/futari/pkg/middleware"
)

// Server はアカウントサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はクエリ実行オブジェクト。
	queries *accountdb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// eventClient はEvent Storeへの送信用HTTPクライアント。
	eventClient *httpclient.Client
}

// NewServer は新しいアカウントサーバーを生成する。
func NewServer(cfg *config.Account) (*Server, error) {
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
	router.Use(middleware.CORS([]string{cfg.FrontendURL}))

	s := &Server{
		router:      router,
		port:        cfg.Port,
		queries:     accountdb.New(sqlDB),
		db:          sqlDB,
		jwtSecret:   cfg.JWTSecret,
		eventClient: httpclient.New(cfg.EventStoreURL),
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
	// 認証不要のエンドポイント
	auth := s.router.Group("/auth")
	{
		// 開発用トークン発行
		auth.POST("/dev-token", s.handleDevToken())
	}

	// サインアップ（認証不要）
	s.router.POST("/api/v1/signup", s.handleSignup())

	// 認証必須のAPIエンドポイント
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		api.GET("/me", s.handleGetCurrentUser())
	}

	// サービス間通信用の内部エンドポイント（ゲートウェイ経由では公開しない）
	internal := s.router.Group("/api/v1/internal")
	{
		internal.GET("/users/:id", s.handleGetUser())
		internal.PUT("/users/:id/partner", s.handleUpdatePartner())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "account"})
	})
}

// signupRequest はサインアップリクエストのJSON構造。
type signupRequest struct {
	// Email はユーザーのメールアドレス。
	Email string `json:"email" binding:"required,email"`
	// DisplayName はユーザーの表示名。
	DisplayName string `json:"display_name" binding:"required"`
	// FirstName は名。
	FirstName string `json:"first_name" binding:"required"`
	// LastName は姓。
	LastName string `json:"last_name" binding:"required"`
}

// handleSignup はユーザーのサインアップを処理するハンドラを返す。
// ユーザーとプロフィールを作成し、UserSignedUpとProfileCreatedの
// イベントをEvent Storeへ送信する。イベント送信の失敗はサインアップ
// 自体を失敗させない（通知Dispatcher側のリトライに委ねる）。
func (s *Server) handleSignup() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		userID := uuid.New().String()
		err := s.queries.CreateUser(c.Request.Context(), accountdb.CreateUserParams{
			ID:          userID,
			Email:       req.Email,
			DisplayName: req.DisplayName,
		})
		if err != nil {
			if isUniqueViolation(err) {
				c.JSON(http.StatusConflict, gin.H{"error": "このメールアドレスは既に登録されています"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの作成に失敗しました"})
			log.Printf("[Account] ユーザー作成エラー: %v", err)
			return
		}

		if err := s.queries.CreateProfile(c.Request.Context(), accountdb.CreateProfileParams{
			UserID:    userID,
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "プロフィールの作成に失敗しました"})
			log.Printf("[Account] プロフィール作成エラー: %v", err)
			return
		}

		// ウェルカムメールとアカウント登録完了メールの契機となるイベント
		s.emitEvent(c, fmt.Sprintf("user-%s", userID), event.AggregateTypeUser, event.TypeUserSignedUp,
			event.UserSignedUpData{
				UserID:      userID,
				Email:       req.Email,
				DisplayName: req.DisplayName,
			})
		s.emitEvent(c, fmt.Sprintf("profile-%s", userID), event.AggregateTypeProfile, event.TypeProfileCreated,
			event.ProfileCreatedData{
				UserID:    userID,
				Email:     req.Email,
				FirstName: req.FirstName,
				LastName:  req.LastName,
			})

		token, err := middleware.GenerateJWT(s.jwtSecret, userID, req.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			log.Printf("[Account] JWT生成エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"user_id": userID,
			"token":   token,
		})
	}
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// 本番環境では無効化すべき。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.queries.GetUserByEmail(c.Request.Context(), "dev@localhost")
		if errors.Is(err, sql.ErrNoRows) {
			userID := uuid.New().String()
			if err := s.queries.CreateUser(c.Request.Context(), accountdb.CreateUserParams{
				ID:          userID,
				Email:       "dev@localhost",
				DisplayName: "開発ユーザー",
			}); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー作成に失敗しました"})
				log.Printf("[Account] 開発ユーザー作成エラー: %v", err)
				return
			}
			user = accountdb.User{ID: userID, Email: "dev@localhost"}
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー取得に失敗しました"})
			return
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, user.ID, user.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			log.Printf("[Account] JWT生成エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":   token,
			"user_id": user.ID,
		})
	}
}

// handleGetCurrentUser は認証済みユーザーの情報を返すハンドラを返す。
func (s *Server) handleGetCurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		user, err := s.queries.GetUserByID(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
			return
		}

		c.JSON(http.StatusOK, toUserResponse(user))
	}
}

// handleGetUser は内部API向けにユーザー情報を返すハンドラを返す。
// 通知Dispatcherが会議リマインダーの宛先（パートナー）を解決する際に使用する。
func (s *Server) handleGetUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.queries.GetUserByID(c.Request.Context(), c.Param("id"))
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
			log.Printf("[Account] ユーザー取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toUserResponse(user))
	}
}

// updatePartnerRequest はパートナー紐付けリクエストのJSON構造。
type updatePartnerRequest struct {
	// PartnerEmail はパートナーのメールアドレス。
	PartnerEmail string `json:"partner_email" binding:"required,email"`
}

// handleUpdatePartner はパートナーのメールアドレスを紐付けるハンドラを返す。
// 招待サービスが招待完了時に呼び出す。
func (s *Server) handleUpdatePartner() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updatePartnerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		err := s.queries.UpdatePartnerEmail(c.Request.Context(), c.Param("id"), req.PartnerEmail)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "パートナーの紐付けに失敗しました"})
			log.Printf("[Account] パートナー紐付けエラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"user_id": c.Param("id"), "partner_email": req.PartnerEmail})
	}
}

// toUserResponse はDB行をJSONレスポンスに変換する。
func toUserResponse(u accountdb.User) gin.H {
	partnerEmail := ""
	if u.PartnerEmail.Valid {
		partnerEmail = u.PartnerEmail.String
	}
	return gin.H{
		"id":            u.ID,
		"email":         u.Email,
		"display_name":  u.DisplayName,
		"partner_email": partnerEmail,
	}
}

// emitEvent はEvent Storeにイベントを送信する。
// 送信に失敗した場合はログに記録するが、呼び出し元にはエラーを返さない。
func (s *Server) emitEvent(c *gin.Context, aggregateID string, aggregateType event.AggregateType, eventType event.Type, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Account] イベントデータのシリアライズに失敗: %v", err)
		return
	}

	reqBody := map[string]any{
		"aggregate_id":   aggregateID,
		"aggregate_type": string(aggregateType),
		"event_type":     string(eventType),
		"data":           json.RawMessage(jsonData),
	}

	ctx := httpclient.WithUserID(c.Request.Context(), middleware.GetUserID(c))
	if err := s.eventClient.PostJSON(ctx, "/api/v1/events", reqBody, nil); err != nil {
		log.Printf("[Account] Event Storeへのイベント送信に失敗: %v", err)
	}
}

// isUniqueViolation はSQLiteのユニーク制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}

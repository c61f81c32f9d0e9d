package eventstore

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	eventstoredb "github.com/nao1215/futari/internal/eventstore/db"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestServer はテスト用のイベントストアサーバーをインメモリSQLiteで構築する。
func setupTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}

	router := gin.New()
	s := &Server{
		router:  router,
		port:    "0",
		queries: eventstoredb.New(sqlDB),
		db:      sqlDB,
	}

	api := router.Group("/api/v1")
	{
		events := api.Group("/events")
		{
			events.POST("", s.handleAppendEvent())
			events.GET("", s.handleListEvents())
			events.GET("/since", s.handleGetEventsSince())
			events.GET("/aggregate/:aggregate_id", s.handleGetEventsByAggregateID())
			events.GET("/aggregate/:aggregate_id/version", s.handleGetLatestVersion())
		}
	}

	return s, router
}

// doRequest はテスト用のHTTPリクエストを実行し、レスポンスを返すヘルパー関数。
func doRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// appendTestEvent はテスト用イベントをAPI経由で追記するヘルパー関数。
func appendTestEvent(t *testing.T, router *gin.Engine, aggregateID, aggregateType, eventType string, data map[string]any) {
	t.Helper()

	w := doRequest(router, http.MethodPost, "/api/v1/events", map[string]any{
		"aggregate_id":   aggregateID,
		"aggregate_type": aggregateType,
		"event_type":     eventType,
		"data":           data,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("テスト用イベントの追記に失敗: status=%d, body=%s", w.Code, w.Body.String())
	}
}

// TestHandleAppendEvent はイベント追記ハンドラを検証する。
func TestHandleAppendEvent(t *testing.T) {
	t.Parallel()

	t.Run("イベントを正常に追記できること", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t)

		w := doRequest(router, http.MethodPost, "/api/v1/events", map[string]any{
			"aggregate_id":   "user-1",
			"aggregate_type": "User",
			"event_type":     "UserSignedUp",
			"data":           map[string]any{"user_id": "user-1", "email": "hanako@example.com"},
		})

		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
		}

		var result map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if result["id"] == "" {
			t.Error("イベントIDが空")
		}
		if result["version"].(float64) != 1 {
			t.Errorf("version = %v, want 1", result["version"])
		}
	})

	t.Run("同一Aggregateへの追記でバージョンが加算されること", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t)

		appendTestEvent(t, router, "invitation-1", "Invitation", "InvitationCreated", nil)

		w := doRequest(router, http.MethodPost, "/api/v1/events", map[string]any{
			"aggregate_id":   "invitation-1",
			"aggregate_type": "Invitation",
			"event_type":     "InvitationStatusChanged",
			"data":           map[string]any{"before_status": "sent", "after_status": "accepted"},
		})

		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusCreated)
		}

		var result map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if result["version"].(float64) != 2 {
			t.Errorf("version = %v, want 2", result["version"])
		}
	})

	t.Run("必須フィールドが欠けている場合400が返ること", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t)

		w := doRequest(router, http.MethodPost, "/api/v1/events", map[string]any{
			"aggregate_id": "user-1",
			// aggregate_typeとevent_typeが欠けている
		})

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("dataが省略された場合空のJSONオブジェクトとして保存されること", func(t *testing.T) {
		t.Parallel()
		s, router := setupTestServer(t)

		appendTestEvent(t, router, "meeting-1", "Meeting", "MeetingScheduled", nil)

		events, err := s.queries.ListEventsByAggregateID(t.Context(), "meeting-1")
		if err != nil {
			t.Fatalf("イベント取得に失敗: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("イベント数 = %d, want 1", len(events))
		}
		if events[0].Data != "null" && events[0].Data != "{}" {
			t.Errorf("Data = %q, want 空のJSON", events[0].Data)
		}
	})
}

// TestHandleGetEventsSince は日時指定によるイベント取得ハンドラを検証する。
func TestHandleGetEventsSince(t *testing.T) {
	t.Parallel()

	t.Run("指定日時より後のイベントのみ返ること", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t)

		appendTestEvent(t, router, "user-1", "User", "UserSignedUp", nil)

		// 追記済みイベントより未来の日時を指定すると何も返らないこと
		cutoff := time.Now().UTC().Add(time.Hour)
		w := doRequest(router, http.MethodGet, "/api/v1/events/since?since="+cutoff.Format(time.RFC3339), nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}

		var result []map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if len(result) != 0 {
			t.Errorf("未来日時を指定したのにイベントが返った: %d件", len(result))
		}
	})

	t.Run("過去日時を指定するとすべてのイベントが返ること", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t)

		appendTestEvent(t, router, "user-3", "User", "UserSignedUp", nil)
		appendTestEvent(t, router, "user-3", "Profile", "ProfileCreated", nil)

		past := time.Now().UTC().Add(-time.Hour)
		w := doRequest(router, http.MethodGet, "/api/v1/events/since?since="+past.Format(time.RFC3339), nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}

		var result []map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if len(result) != 2 {
			t.Errorf("イベント数 = %d, want 2", len(result))
		}
	})

	t.Run("sinceパラメータが無い場合400が返ること", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t)

		w := doRequest(router, http.MethodGet, "/api/v1/events/since", nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("sinceパラメータが不正な形式の場合400が返ること", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t)

		w := doRequest(router, http.MethodGet, "/api/v1/events/since?since=yesterday", nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestHandleGetEventsByAggregateID はAggregateIDによるイベント取得ハンドラを検証する。
func TestHandleGetEventsByAggregateID(t *testing.T) {
	t.Parallel()

	t.Run("指定Aggregateのイベントのみバージョン順に返ること", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t)

		appendTestEvent(t, router, "invitation-1", "Invitation", "InvitationCreated", nil)
		appendTestEvent(t, router, "invitation-2", "Invitation", "InvitationCreated", nil)
		appendTestEvent(t, router, "invitation-1", "Invitation", "InvitationStatusChanged", nil)

		w := doRequest(router, http.MethodGet, "/api/v1/events/aggregate/invitation-1", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}

		var result []map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if len(result) != 2 {
			t.Fatalf("イベント数 = %d, want 2", len(result))
		}
		if result[0]["version"].(float64) != 1 || result[1]["version"].(float64) != 2 {
			t.Errorf("バージョン順になっていない: %v, %v", result[0]["version"], result[1]["version"])
		}
	})
}

// TestHandleGetLatestVersion は最新バージョン取得ハンドラを検証する。
func TestHandleGetLatestVersion(t *testing.T) {
	t.Parallel()

	t.Run("イベントが存在しない場合0が返ること", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t)

		w := doRequest(router, http.MethodGet, "/api/v1/events/aggregate/unknown/version", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}

		var result map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if result["version"].(float64) != 0 {
			t.Errorf("version = %v, want 0", result["version"])
		}
	})

	t.Run("追記済みイベントの最新バージョンが返ること", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t)

		appendTestEvent(t, router, "user-9", "User", "UserSignedUp", nil)
		appendTestEvent(t, router, "user-9", "Profile", "ProfileCreated", nil)

		w := doRequest(router, http.MethodGet, "/api/v1/events/aggregate/user-9/version", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}

		var result map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if result["version"].(float64) != 2 {
			t.Errorf("version = %v, want 2", result["version"])
		}
	})
}

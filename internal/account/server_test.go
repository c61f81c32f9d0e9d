package account

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	accountdb "github.com/nao1215/futari/internal/account/db"
	"github.com/nao1215/futari/pkg/httpclient"
	"github.com/nao1215/futari/pkg/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testJWTSecret = "test-secret"

// capturedEvent はテスト用Event Storeが受信したイベント。
type capturedEvent struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
}

// eventRecorder はEvent Storeの代わりにイベントを記録するテスト用サーバー。
type eventRecorder struct {
	mu     sync.Mutex
	events []capturedEvent
}

// start はイベントを記録するhttptestサーバーを起動する。
func (r *eventRecorder) start(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var e capturedEvent
		if err := json.NewDecoder(req.Body).Decode(&e); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"test-event","version":1}`))
	}))
	t.Cleanup(ts.Close)
	return ts
}

// captured は記録済みイベントのコピーを返す。
func (r *eventRecorder) captured() []capturedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]capturedEvent(nil), r.events...)
}

// setupTestServer はテスト用のアカウントサーバーをインメモリSQLiteで構築する。
func setupTestServer(t *testing.T) (*Server, *gin.Engine, *eventRecorder) {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}

	recorder := &eventRecorder{}
	ts := recorder.start(t)

	router := gin.New()
	s := &Server{
		router:      router,
		port:        "0",
		queries:     accountdb.New(sqlDB),
		db:          sqlDB,
		jwtSecret:   testJWTSecret,
		eventClient: httpclient.New(ts.URL),
	}
	s.setupRoutes()

	return s, router, recorder
}

// doRequest はテスト用のHTTPリクエストを実行し、レスポンスを返すヘルパー関数。
func doRequest(router *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *bytes.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// signupTestUser はテスト用ユーザーをサインアップし、user_idとtokenを返すヘルパー関数。
func signupTestUser(t *testing.T, router *gin.Engine, email, displayName string) (userID, token string) {
	t.Helper()

	w := doRequest(router, http.MethodPost, "/api/v1/signup", map[string]any{
		"email":        email,
		"display_name": displayName,
		"first_name":   "花子",
		"last_name":    "山田",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("テスト用ユーザーのサインアップに失敗: status=%d, body=%s", w.Code, w.Body.String())
	}

	var result map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v", err)
	}
	return result["user_id"], result["token"]
}

// TestHandleSignup はサインアップハンドラを検証する。
func TestHandleSignup(t *testing.T) {
	t.Parallel()

	t.Run("サインアップが成功しトークンが返ること", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		userID, token := signupTestUser(t, router, "hanako@example.com", "はなこ")
		if userID == "" {
			t.Error("user_idが空")
		}
		if token == "" {
			t.Error("tokenが空")
		}
	})

	t.Run("サインアップでUserSignedUpとProfileCreatedのイベントが送信されること", func(t *testing.T) {
		t.Parallel()
		_, router, recorder := setupTestServer(t)

		userID, _ := signupTestUser(t, router, "taro@example.com", "たろう")

		events := recorder.captured()
		if len(events) != 2 {
			t.Fatalf("イベント数 = %d, want 2", len(events))
		}
		if events[0].EventType != "UserSignedUp" {
			t.Errorf("1件目のイベント = %q, want UserSignedUp", events[0].EventType)
		}
		if events[0].AggregateID != "user-"+userID {
			t.Errorf("AggregateID = %q, want user-%s", events[0].AggregateID, userID)
		}
		if events[1].EventType != "ProfileCreated" {
			t.Errorf("2件目のイベント = %q, want ProfileCreated", events[1].EventType)
		}
	})

	t.Run("メールアドレスが重複した場合409が返ること", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		signupTestUser(t, router, "dup@example.com", "ひとりめ")

		w := doRequest(router, http.MethodPost, "/api/v1/signup", map[string]any{
			"email":        "dup@example.com",
			"display_name": "ふたりめ",
			"first_name":   "次郎",
			"last_name":    "佐藤",
		}, nil)
		if w.Code != http.StatusConflict {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusConflict)
		}
	})

	t.Run("メールアドレスの形式が不正な場合400が返ること", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		w := doRequest(router, http.MethodPost, "/api/v1/signup", map[string]any{
			"email":        "not-an-email",
			"display_name": "はなこ",
			"first_name":   "花子",
			"last_name":    "山田",
		}, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestHandleGetCurrentUser は認証済みユーザー情報取得ハンドラを検証する。
func TestHandleGetCurrentUser(t *testing.T) {
	t.Parallel()

	t.Run("発行されたトークンで自分の情報を取得できること", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		userID, token := signupTestUser(t, router, "me@example.com", "わたし")

		w := doRequest(router, http.MethodGet, "/api/v1/me", nil, map[string]string{
			"Authorization": "Bearer " + token,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		var result map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if result["id"] != userID {
			t.Errorf("id = %v, want %s", result["id"], userID)
		}
		if result["email"] != "me@example.com" {
			t.Errorf("email = %v, want me@example.com", result["email"])
		}
	})

	t.Run("トークンが無い場合401が返ること", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		w := doRequest(router, http.MethodGet, "/api/v1/me", nil, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// TestHandleGetUser は内部API向けユーザー取得ハンドラを検証する。
func TestHandleGetUser(t *testing.T) {
	t.Parallel()

	t.Run("内部APIで認証なしにユーザー情報を取得できること", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		userID, _ := signupTestUser(t, router, "internal@example.com", "うちがわ")

		w := doRequest(router, http.MethodGet, "/api/v1/internal/users/"+userID, nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}

		var result map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if result["partner_email"] != "" {
			t.Errorf("紐付け前のpartner_email = %v, want 空文字列", result["partner_email"])
		}
	})

	t.Run("存在しないユーザーの場合404が返ること", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		w := doRequest(router, http.MethodGet, "/api/v1/internal/users/unknown", nil, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestHandleUpdatePartner はパートナー紐付けハンドラを検証する。
func TestHandleUpdatePartner(t *testing.T) {
	t.Parallel()

	t.Run("パートナーのメールアドレスを紐付けられること", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		userID, _ := signupTestUser(t, router, "pair@example.com", "ぺあ")

		w := doRequest(router, http.MethodPut, "/api/v1/internal/users/"+userID+"/partner", map[string]any{
			"partner_email": "partner@example.com",
		}, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		got := doRequest(router, http.MethodGet, "/api/v1/internal/users/"+userID, nil, nil)
		var result map[string]any
		if err := json.Unmarshal(got.Body.Bytes(), &result); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if result["partner_email"] != "partner@example.com" {
			t.Errorf("partner_email = %v, want partner@example.com", result["partner_email"])
		}
	})

	t.Run("存在しないユーザーの場合404が返ること", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		w := doRequest(router, http.MethodPut, "/api/v1/internal/users/unknown/partner", map[string]any{
			"partner_email": "partner@example.com",
		}, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestHandleDevToken は開発用トークン発行ハンドラを検証する。
func TestHandleDevToken(t *testing.T) {
	t.Parallel()

	t.Run("開発用トークンが発行され検証可能であること", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		w := doRequest(router, http.MethodPost, "/auth/dev-token", nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		var result map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}

		// 発行されたトークンで認証必須エンドポイントにアクセスできること
		me := doRequest(router, http.MethodGet, "/api/v1/me", nil, map[string]string{
			"Authorization": "Bearer " + result["token"],
		})
		if me.Code != http.StatusOK {
			t.Errorf("発行トークンでの/meアクセス: ステータスコード = %d, want %d", me.Code, http.StatusOK)
		}
	})

	t.Run("2回呼んでも同一の開発ユーザーが使われること", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		first := doRequest(router, http.MethodPost, "/auth/dev-token", nil, nil)
		second := doRequest(router, http.MethodPost, "/auth/dev-token", nil, nil)

		var r1, r2 map[string]string
		if err := json.Unmarshal(first.Body.Bytes(), &r1); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if err := json.Unmarshal(second.Body.Bytes(), &r2); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if r1["user_id"] != r2["user_id"] {
			t.Errorf("user_idが一致しない: %s != %s", r1["user_id"], r2["user_id"])
		}
	})
}

// TestSignupTokenClaims はサインアップで発行されたトークンのクレームを検証する。
func TestSignupTokenClaims(t *testing.T) {
	t.Parallel()

	_, router, _ := setupTestServer(t)
	userID, _ := signupTestUser(t, router, "claims@example.com", "くれーむ")

	token, err := middleware.GenerateJWT(testJWTSecret, userID, "claims@example.com")
	if err != nil {
		t.Fatalf("トークン生成に失敗: %v", err)
	}

	w := doRequest(router, http.MethodGet, "/api/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
}

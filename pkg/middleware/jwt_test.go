package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSecret はテスト用のJWTシークレット。
const testSecret = "test-secret-key-for-unit-tests"

// newProtectedRouter はJWTAuthを適用したテスト用ルーターを生成する。
// /whoami は取得した管理者IDをそのまま返す。
func newProtectedRouter(allowQuery bool) *gin.Engine {
	router := gin.New()
	router.Use(JWTAuth(testSecret, allowQuery))
	router.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"admin_id": GetAdminID(c)})
	})
	return router
}

// TestGenerateJWT はGenerateJWT関数を検証する。
func TestGenerateJWT(t *testing.T) {
	t.Parallel()

	t.Run("正常にJWTトークンを生成できること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "admin-1", "ops@example.com")
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		claims := &AdminClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
			return []byte(testSecret), nil
		})
		if err != nil {
			t.Fatalf("トークンのパースに失敗: %v", err)
		}
		if !token.Valid {
			t.Fatal("トークンが無効")
		}
		if claims.AdminID != "admin-1" {
			t.Errorf("AdminID = %q, want %q", claims.AdminID, "admin-1")
		}
		if claims.Email != "ops@example.com" {
			t.Errorf("Email = %q, want %q", claims.Email, "ops@example.com")
		}
		if claims.Issuer != "foodops-console" {
			t.Errorf("Issuer = %q, want %q", claims.Issuer, "foodops-console")
		}
	})

	t.Run("トークンの有効期限が12時間後であること", func(t *testing.T) {
		t.Parallel()

		before := time.Now()
		tokenStr, err := GenerateJWT(testSecret, "admin-exp", "exp@example.com")
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		claims := &AdminClaims{}
		if _, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
			return []byte(testSecret), nil
		}); err != nil {
			t.Fatalf("トークンのパースに失敗: %v", err)
		}

		expected := before.Add(12 * time.Hour)
		if claims.ExpiresAt.Time.Before(expected.Add(-time.Minute)) || claims.ExpiresAt.Time.After(expected.Add(time.Minute)) {
			t.Errorf("ExpiresAt = %v, want around %v", claims.ExpiresAt.Time, expected)
		}
	})

	t.Run("署名アルゴリズムがHS256であること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "admin-alg", "alg@example.com")
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		token, _, err := new(jwt.Parser).ParseUnverified(tokenStr, &AdminClaims{})
		if err != nil {
			t.Fatalf("トークンのパースに失敗: %v", err)
		}
		if token.Method.Alg() != "HS256" {
			t.Errorf("署名アルゴリズム = %q, want %q", token.Method.Alg(), "HS256")
		}
	})
}

// TestJWTAuth はJWTAuthミドルウェアを検証する。
func TestJWTAuth(t *testing.T) {
	t.Parallel()

	validToken, err := GenerateJWT(testSecret, "admin-ok", "ok@example.com")
	if err != nil {
		t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
	}
	otherSecretToken, err := GenerateJWT("another-secret", "admin-x", "x@example.com")
	if err != nil {
		t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
	}

	expiredClaims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-13 * time.Hour)),
			Issuer:    "foodops-console",
		},
		AdminID: "admin-expired",
	}
	expiredToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expiredClaims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("トークンの署名に失敗: %v", err)
	}

	tests := []struct {
		name       string
		allowQuery bool
		header     string
		query      string
		wantStatus int
	}{
		{name: "有効なBearerトークンで200が返ること", header: "Bearer " + validToken, wantStatus: http.StatusOK},
		{name: "Authorizationヘッダーが無い場合401が返ること", wantStatus: http.StatusUnauthorized},
		{name: "Bearer接頭辞が無い場合401が返ること", header: validToken, wantStatus: http.StatusUnauthorized},
		{name: "無効なトークンで401が返ること", header: "Bearer invalid.token.value", wantStatus: http.StatusUnauthorized},
		{name: "異なるシークレットで署名されたトークンで401が返ること", header: "Bearer " + otherSecretToken, wantStatus: http.StatusUnauthorized},
		{name: "期限切れトークンで401が返ること", header: "Bearer " + expiredToken, wantStatus: http.StatusUnauthorized},
		{name: "クエリ許可時はaccess_tokenで認証できること", allowQuery: true, query: validToken, wantStatus: http.StatusOK},
		{name: "クエリ不許可時はaccess_tokenを無視すること", allowQuery: false, query: validToken, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := "/whoami"
			if tt.query != "" {
				path += "?access_token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			newProtectedRouter(tt.allowQuery).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("ステータスコード = %d, want %d (body=%s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

// TestGetAdminID はGetAdminID関数を検証する。
func TestGetAdminID(t *testing.T) {
	t.Parallel()

	t.Run("コンテキストにadmin_idが設定されている場合に取得できること", func(t *testing.T) {
		t.Parallel()

		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Set("admin_id", "admin-get-id")

		if got := GetAdminID(c); got != "admin-get-id" {
			t.Errorf("GetAdminID() = %q, want %q", got, "admin-get-id")
		}
	})

	t.Run("admin_idが文字列以外の型の場合に空文字列が返ること", func(t *testing.T) {
		t.Parallel()

		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Set("admin_id", 12345)

		if got := GetAdminID(c); got != "" {
			t.Errorf("GetAdminID() = %q, want empty string", got)
		}
	})
}

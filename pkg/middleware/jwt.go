package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// tokenIssuer は管理コンソール用JWTの発行者名。
const tokenIssuer = "foodops-console"

// tokenTTL は発行するJWTの有効期間。
const tokenTTL = 12 * time.Hour

// AdminClaims は管理者セッションのJWTクレームを表す。
type AdminClaims struct {
	jwt.RegisteredClaims
	// AdminID は認証済み管理者の一意識別子。
	AdminID string `json:"admin_id"`
	// Email は管理者のメールアドレス。
	Email string `json:"email"`
}

// contextKeyAdminID はGinコンテキストに管理者IDを格納するキー。
const contextKeyAdminID = "admin_id"

// queryKeyAccessToken はヘッダーを設定できないEventSource向けのトークン受け渡しクエリキー。
const queryKeyAccessToken = "access_token"

// GenerateJWT は管理者情報からJWTトークンを生成する。
func GenerateJWT(secret, adminID, email string) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
		AdminID: adminID,
		Email:   email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// トークンはAuthorizationヘッダー（Bearer）から取得する。allowQueryがtrueの場合は
// access_tokenクエリパラメータも受け付ける（SSE接続用）。
// 検証に成功した場合、コンテキストに "admin_id" を設定する。
func JWTAuth(secret string, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c, allowQuery)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "認証トークンが必要です",
			})
			return
		}

		claims := &AdminClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("想定外の署名方式: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid || claims.AdminID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set(contextKeyAdminID, claims.AdminID)
		c.Next()
	}
}

// extractToken はリクエストからトークン文字列を取り出す。
func extractToken(c *gin.Context, allowQuery bool) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || tokenString == "" {
			return "", false
		}
		return tokenString, true
	}
	if allowQuery {
		if q := c.Query(queryKeyAccessToken); q != "" {
			return q, true
		}
	}
	return "", false
}

// GetAdminID はGinコンテキストから管理者IDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetAdminID(c *gin.Context) string {
	adminID, _ := c.Get(contextKeyAdminID)
	if id, ok := adminID.(string); ok {
		return id
	}
	return ""
}

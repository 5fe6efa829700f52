package middleware

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
//
// まだ何も書き出していなければ500とエラーボディを返す。
// ライブチャネルのように応答の途中でパニックした場合は、接続を打ち切るだけにする。
// http.ErrAbortHandler はnet/httpに接続を切らせるため、そのまま投げ直す。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if err, ok := r.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(r)
			}
			log.Printf("[Recovery] パニックを回復しました: %s %s: %v", c.Request.Method, c.Request.URL.Path, r)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "内部サーバーエラーが発生しました",
			})
		}()
		c.Next()
	}
}

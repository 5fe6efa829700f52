package notification

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
)

// handleStream はライブチャネル（Server-Sent Events）のハンドラ。
//
// 接続するとセッションを登録し、ストア上の未読件数を unread_count イベントで送る。
// 以後は配信された通知を notification イベントで送り、一定間隔でコメント行のハートビートを送る。
// 接続前に作成された通知は送らない。登録から集計までに作成された通知は
// unread_count より前に届き、その件数にも含まれる。
func (s *Server) handleStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := s.hub.Connect()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ライブチャネルは停止しています"})
			return
		}
		defer sess.Close()

		if _, err := s.hub.Resync(sess, func() (int, error) {
			return s.reconciler.GetUnviewedCount(c.Request.Context())
		}); err != nil {
			respondError(c, err, "未読件数の取得に失敗しました")
			return
		}

		h := c.Writer.Header()
		h.Set("Content-Type", sse.ContentType)
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
		c.Writer.Flush()

		ticker := time.NewTicker(s.cfg.Heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-c.Request.Context().Done():
				return
			case <-sess.Done():
				return
			case env := <-sess.Events():
				if err := writeEnvelope(c, env); err != nil {
					log.Printf("[Stream] セッション %s への書き込みに失敗: %v", sess.ID(), err)
					return
				}
			case <-ticker.C:
				if _, err := c.Writer.WriteString(": ping\n\n"); err != nil {
					return
				}
				c.Writer.Flush()
			}
		}
	}
}

// writeEnvelope は1メッセージをSSEとして書き出す。
func writeEnvelope(c *gin.Context, env Envelope) error {
	ev := sse.Event{Event: string(env.Type)}
	switch env.Type {
	case EnvelopeNotification:
		ev.Id = env.Notification.ID
		ev.Data = env.Notification
	case EnvelopeUnreadCount:
		ev.Data = gin.H{"unread_count": env.UnreadCount}
	}
	if err := sse.Encode(c.Writer, ev); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

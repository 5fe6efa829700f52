package push

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// suppressPrefix は抑止中トークンのキー接頭辞。
const suppressPrefix = "push:token:suppressed:"

// RedisSuppressor はゲートウェイが無効と判断したトークンをRedisに記録する。
type RedisSuppressor struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSuppressor は既存のクライアントから抑止ストアを生成する。ttlが0以下なら24時間。
func NewRedisSuppressor(client *redis.Client, ttl time.Duration) *RedisSuppressor {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSuppressor{client: client, ttl: ttl}
}

// OpenRedisSuppressor はredis://形式のURLに接続して抑止ストアを生成する。
func OpenRedisSuppressor(ctx context.Context, url string, ttl time.Duration) (*RedisSuppressor, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URL の解析に失敗: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}
	return NewRedisSuppressor(client, ttl), nil
}

// IsSuppressed はトークンが抑止中かどうかを返す。
func (r *RedisSuppressor) IsSuppressed(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, suppressPrefix+token).Result()
	if err != nil {
		return false, fmt.Errorf("抑止状態の取得に失敗: %w", err)
	}
	return n == 1, nil
}

// Suppress はトークンをTTL付きで抑止する。
func (r *RedisSuppressor) Suppress(ctx context.Context, token, reason string) error {
	if err := r.client.SetEX(ctx, suppressPrefix+token, reason, r.ttl).Err(); err != nil {
		return fmt.Errorf("トークンの抑止に失敗: %w", err)
	}
	return nil
}

// Close はRedis接続を閉じる。
func (r *RedisSuppressor) Close() error {
	return r.client.Close()
}

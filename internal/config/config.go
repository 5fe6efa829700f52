// Package config は通知サービスの設定を環境変数と.envファイルから読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config は通知サービスの全設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `mapstructure:"PORT"`
	// DBPath はSQLiteデータベースファイルのパス。
	DBPath string `mapstructure:"DB_PATH"`
	// JWTSecret は管理者トークンの署名鍵。
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// CORSAllowedOrigins は許可するオリジンの一覧。空なら同一オリジンのみ。
	CORSAllowedOrigins []string `mapstructure:"-"`
	// DevTokenEnabled が真のとき開発用トークン発行APIを公開する。
	DevTokenEnabled bool `mapstructure:"DEV_TOKEN_ENABLED"`
	// SessionBuffer は接続セッションごとの配信キュー長。
	SessionBuffer int `mapstructure:"SESSION_BUFFER"`

	// FCMEndpoint はプッシュゲートウェイの送信URL。
	FCMEndpoint string `mapstructure:"FCM_ENDPOINT"`
	// FCMServerKey はプッシュゲートウェイのサーバーキー。
	FCMServerKey string `mapstructure:"FCM_SERVER_KEY"`
	// PushTimeout はゲートウェイ呼び出し1回あたりのタイムアウト。
	PushTimeout time.Duration `mapstructure:"PUSH_TIMEOUT"`
	// RedisURL はトークン抑止キャッシュの接続先。空なら抑止しない。
	RedisURL string `mapstructure:"REDIS_URL"`
	// TokenSuppressTTL は拒否されたトークンを抑止する期間。
	TokenSuppressTTL time.Duration `mapstructure:"TOKEN_SUPPRESS_TTL"`

	// AssignPushMaxAttempts は配達員割り当て時のプッシュ最大試行回数。
	AssignPushMaxAttempts int `mapstructure:"ASSIGN_PUSH_MAX_ATTEMPTS"`
	// AssignPushInitialBackoff は再試行の初回待機時間。
	AssignPushInitialBackoff time.Duration `mapstructure:"ASSIGN_PUSH_INITIAL_BACKOFF"`
	// AssignPushMaxBackoff は再試行の待機時間の上限。
	AssignPushMaxBackoff time.Duration `mapstructure:"ASSIGN_PUSH_MAX_BACKOFF"`

	// RabbitURL はドメインイベントを受信するブローカーの接続先。空ならコンシューマーを起動しない。
	RabbitURL string `mapstructure:"RABBITMQ_URL"`
	// EventQueue はドメインイベントのキュー名。
	EventQueue string `mapstructure:"EVENT_QUEUE"`
	// EventDLQ は処理できなかったイベントの退避先キュー名。
	EventDLQ string `mapstructure:"EVENT_DLQ"`
	// ConsumerWorkers はイベント処理の並列数。
	ConsumerWorkers int `mapstructure:"CONSUMER_WORKERS"`
	// ConsumerPrefetch はブローカーから先読みするメッセージ数。
	ConsumerPrefetch int `mapstructure:"CONSUMER_PREFETCH"`
	// ConsumerMaxAttempts はストア障害時にDLQへ送るまでの最大試行回数。
	ConsumerMaxAttempts int `mapstructure:"CONSUMER_MAX_ATTEMPTS"`
}

// defaults は各キーの既定値。
var defaults = map[string]any{
	"PORT":                        "8086",
	"DB_PATH":                     "/data/notification.db",
	"JWT_SECRET":                  "dev-secret-key",
	"CORS_ALLOWED_ORIGINS":        "",
	"DEV_TOKEN_ENABLED":           false,
	"SESSION_BUFFER":              64,
	"FCM_ENDPOINT":                "https://fcm.googleapis.com/fcm/send",
	"FCM_SERVER_KEY":              "",
	"PUSH_TIMEOUT":                "10s",
	"REDIS_URL":                   "",
	"TOKEN_SUPPRESS_TTL":          "24h",
	"ASSIGN_PUSH_MAX_ATTEMPTS":    3,
	"ASSIGN_PUSH_INITIAL_BACKOFF": "500ms",
	"ASSIGN_PUSH_MAX_BACKOFF":     "5s",
	"RABBITMQ_URL":                "",
	"EVENT_QUEUE":                 "console.events",
	"EVENT_DLQ":                   "console.events.dlq",
	"CONSUMER_WORKERS":            4,
	"CONSUMER_PREFETCH":           32,
	"CONSUMER_MAX_ATTEMPTS":       5,
}

// Load は設定を読み込んで検証する。
// 優先順位は 環境変数 > envFiles（省略時は.env） > 既定値。
// envFilesは存在しなくてもよい。
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, f := range envFiles {
		values, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("%s の読み込みに失敗: %w", f, err)
		}
		for k, val := range values {
			v.SetDefault(k, val)
		}
	}
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("設定の解析に失敗: %w", err)
	}
	cfg.CORSAllowedOrigins = splitList(v.GetString("CORS_ALLOWED_ORIGINS"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT が空です"))
	}
	if c.SessionBuffer <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_BUFFER は1以上が必要です: %d", c.SessionBuffer))
	}
	if c.AssignPushMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("ASSIGN_PUSH_MAX_ATTEMPTS は1以上が必要です: %d", c.AssignPushMaxAttempts))
	}
	if c.ConsumerWorkers < 1 {
		errs = append(errs, fmt.Errorf("CONSUMER_WORKERS は1以上が必要です: %d", c.ConsumerWorkers))
	}
	if c.ConsumerMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("CONSUMER_MAX_ATTEMPTS は1以上が必要です: %d", c.ConsumerMaxAttempts))
	}
	if c.PushTimeout <= 0 {
		errs = append(errs, fmt.Errorf("PUSH_TIMEOUT は正の値が必要です: %s", c.PushTimeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("設定が不正です: %w", errors.Join(errs...))
	}
	return nil
}

// splitList はカンマ区切りの文字列を空要素を除いて分割する。
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

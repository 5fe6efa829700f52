// Package retry は指数バックオフ付きの再試行を提供する。
//
// Permanentで包んだエラーは再試行せずに即座に返す。
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Config は再試行の振る舞いを表す。
type Config struct {
	// MaxAttempts は初回を含む最大試行回数。
	MaxAttempts int
	// InitialBackoff は1回目の待機時間。
	InitialBackoff time.Duration
	// MaxBackoff は待機時間の上限。
	MaxBackoff time.Duration
	// JitterFactor は待機時間に加える揺らぎの割合（0.2なら±20%）。
	JitterFactor float64
}

// permanentError は再試行しないことを示すラッパー。
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent はerrを再試行不能としてマークする。nilはnilのまま返す。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do はfnが成功するか、再試行不能なエラーを返すか、試行回数を使い切るまで実行する。
// 戻り値のエラーはPermanentの包みを外した元のエラー。
// attemptには1始まりの試行回数が渡される。
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	cfg = withDefaults(cfg)

	backoff := cfg.InitialBackoff
	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return errors.Join(err, ctxErr)
			}
			return ctxErr
		}

		if err = fn(attempt); err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(min(jitter(backoff, cfg.JitterFactor), cfg.MaxBackoff))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}

		backoff = min(backoff*2, cfg.MaxBackoff)
	}
	return err
}

// withDefaults は未設定の項目に既定値を入れる。
func withDefaults(cfg Config) Config {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.JitterFactor < 0 {
		cfg.JitterFactor = 0
	}
	return cfg
}

func jitter(d time.Duration, factor float64) time.Duration {
	delta := int64(float64(d) * factor)
	if delta <= 0 {
		return d
	}
	return d + time.Duration(rand.Int64N(2*delta)-delta)
}

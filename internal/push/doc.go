// Package push は配達員の端末へのプッシュ送信を提供する。
//
// Dispatcherは1回の送信を同期的に行い、失敗を
// ErrMalformedRequest / ErrRejected / ErrTransport のいずれかで返す。
// 再試行は行わない。再試行するかどうかは呼び出し側が決める。
//
// ゲートウェイはFCMのHTTP APIを実装したFCMGatewayを標準とし、
// ゲートウェイが無効と判断したトークンはRedisに一定期間記録して以後の送信を即座に拒否する。
package push

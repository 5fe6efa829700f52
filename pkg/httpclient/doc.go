// Package httpclient は外部サービスとのJSON over HTTP通信を行うクライアントを提供する。
//
// プッシュゲートウェイ（FCM）への送信など、通知サービスが外部APIを
// 呼び出す際の通信パターンを統一する。非2xxレスポンスは *StatusError として返し、
// 呼び出し側がステータスコードで失敗を分類できるようにする。
package httpclient

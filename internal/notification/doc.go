// Package notification は管理コンソール向けの通知サブシステムを提供する。
//
// 注文・レビューのドメインイベントを通知として保存し（Ingestor）、
// 接続中の全管理者セッションへリアルタイムに配信する（Hub / Session）。
// 既読状態はReconcilerが条件付きUPDATEで一括・単体に遷移させ、
// 未読件数の変化をHub経由で各セッションへ知らせる。
//
// HTTP APIはGinで公開し、ライブチャネルはServer-Sent Eventsで提供する。
// 配達員へのプッシュ送信と注文割り当ては push / assignment パッケージに委譲する。
package notification

// Package middleware は通知サービスのHTTP APIで使用する共通ミドルウェアを提供する。
//
// 管理者セッションのJWT検証、パニックリカバリ、管理コンソールからの
// CORS許可を含む。
package middleware

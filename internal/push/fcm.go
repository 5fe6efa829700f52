package push

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nao1215/foodops/pkg/httpclient"
)

// FCMGateway はFCMのHTTP API（サーバーキー認証）で送信するゲートウェイ。
type FCMGateway struct {
	// client はFCMエンドポイント向けのHTTPクライアント。
	client *httpclient.Client
}

// NewFCMGateway はFCMゲートウェイを生成する。endpointは送信URLそのもの。
func NewFCMGateway(endpoint, serverKey string, timeout time.Duration, opts ...httpclient.Option) *FCMGateway {
	opts = append([]httpclient.Option{
		httpclient.WithTimeout(timeout),
		httpclient.WithHeader("Authorization", "key="+serverKey),
	}, opts...)
	return &FCMGateway{client: httpclient.New(endpoint, opts...)}
}

// fcmMessage はFCMへの送信ボディ。
type fcmMessage struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Priority        string            `json:"priority"`
	Notification    map[string]string `json:"notification"`
}

// fcmResponse はFCMの応答。結果は送信トークンと同じ順に並ぶ。
type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// Send は1つのトークンへ送信し、メッセージIDを返す。
// 失敗は常に*Errorで返す。
func (g *FCMGateway) Send(ctx context.Context, req Request) (string, error) {
	msg := fcmMessage{
		RegistrationIDs: []string{req.Token},
		Priority:        "high",
		Notification: map[string]string{
			"title": req.Title,
			"body":  req.Body,
		},
	}

	var resp fcmResponse
	if err := g.client.PostJSON(ctx, "", msg, &resp); err != nil {
		return "", classify(err)
	}

	if len(resp.Results) == 0 {
		return "", &Error{Kind: ErrTransport, Reason: "ゲートウェイの応答に結果がありません"}
	}
	res := resp.Results[0]
	if res.Error != "" {
		return "", &Error{Kind: ErrRejected, Reason: res.Error, StatusCode: http.StatusOK}
	}
	return res.MessageID, nil
}

// classify はHTTP層のエラーを失敗の種類に振り分ける。
// 429と5xxは一時的な障害、それ以外の4xxは拒否、応答が無ければ通信失敗。
func classify(err error) error {
	var se *httpclient.StatusError
	if !errors.As(err, &se) {
		return &Error{Kind: ErrTransport, Err: err}
	}
	if se.Temporary() {
		return &Error{Kind: ErrTransport, StatusCode: se.StatusCode, Reason: se.Body}
	}
	return &Error{Kind: ErrRejected, StatusCode: se.StatusCode, Reason: se.Body}
}

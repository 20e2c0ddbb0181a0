package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Gateway posts messages to the WhatsApp gateway's /messages endpoint.
type Gateway struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewGateway(baseURL, token string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Gateway{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type gatewayPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

type gatewayRequest struct {
	To    string        `json:"to"`
	Parts []gatewayPart `json:"parts"`
}

func toGatewayRequest(to model.Recipient, unit model.ContentUnit) gatewayRequest {
	req := gatewayRequest{To: to.Phone}
	for _, p := range unit.Parts {
		gp := gatewayPart{Type: string(p.Kind), Text: p.Text}
		if p.Media != nil {
			gp.MediaURL = p.Media.URL
			gp.MimeType = p.Media.MimeType
		}
		req.Parts = append(req.Parts, gp)
	}
	return req
}

func (g *Gateway) Send(ctx context.Context, to model.Recipient, unit model.ContentUnit) error {
	body, err := json.Marshal(toGatewayRequest(to, unit))
	if err != nil {
		return appErrors.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return appErrors.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return appErrors.Transient(err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	return classify(resp.StatusCode, respBody)
}

// classify maps gateway status codes: 2xx delivered, 408/429/5xx retryable,
// any other 4xx is the recipient or payload and will not improve on retry.
func classify(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return appErrors.Transient(fmt.Errorf("gateway error (status %d): %s", status, body))
	default:
		return appErrors.Permanent(fmt.Errorf("gateway rejected message (status %d): %s", status, body))
	}
}

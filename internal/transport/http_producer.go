package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sawpanic/scouter/internal/records"
	"github.com/sawpanic/scouter/internal/scouterrors"
)

// TokenSource supplies the bearer token for HTTPProducer requests and
// refreshes it once on a 401.
type TokenSource interface {
	Token() string
	Refresh(ctx context.Context) (string, error)
}

// HTTPProducer implements queue.Producer by POSTing ServerRecords JSON to
// the /scouter/message route of a Scouter server. gRPC is the structural
// twin (same retry/auth semantics over a different wire codec) and is not
// implemented here; its route layer is out of scope for this transport.
type HTTPProducer struct {
	client  *http.Client
	baseURL string
	tokens  TokenSource
	retry   RetryConfig
}

// NewHTTPProducer builds an HTTP producer with a 60s request timeout.
func NewHTTPProducer(baseURL string, tokens TokenSource, retry RetryConfig) *HTTPProducer {
	return &HTTPProducer{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: baseURL,
		tokens:  tokens,
		retry:   retry,
	}
}

func (p *HTTPProducer) Publish(ctx context.Context, batch records.ServerRecords) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return scouterrors.New(scouterrors.KindInternal, "transport.HTTPProducer.Publish", err)
	}

	status, err := p.post(ctx, payload, p.tokens.Token())
	if err != nil {
		return scouterrors.New(scouterrors.KindTransport, "transport.HTTPProducer.Publish", err)
	}
	if status == http.StatusUnauthorized {
		newToken, rerr := p.tokens.Refresh(ctx)
		if rerr != nil {
			return scouterrors.New(scouterrors.KindAuth, "transport.HTTPProducer.Publish", rerr)
		}
		status, err = p.post(ctx, payload, newToken)
		if err != nil {
			return scouterrors.New(scouterrors.KindTransport, "transport.HTTPProducer.Publish", err)
		}
	}
	if status >= 300 {
		return scouterrors.Newf(scouterrors.KindTransport, "transport.HTTPProducer.Publish", "message post returned status %d", status)
	}
	return nil
}

func (p *HTTPProducer) post(ctx context.Context, payload []byte, token string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/scouter/message", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (p *HTTPProducer) Flush(ctx context.Context) error { return nil }

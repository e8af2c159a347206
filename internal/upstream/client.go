// Package upstream executes calls against the session-oriented upstream chat
// API. Conversations are created once and continued through a server-side
// parent pointer; the client attaches opaque credentials to every request and
// decodes the upstream's loosely-typed payloads into tagged events at the
// boundary.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sessionbridge/sessionbridge/internal/credentials"
	apperrors "github.com/sessionbridge/sessionbridge/internal/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	chatsPath       = "/api/v1/chats"
	completionsPath = "/api/v1/chat/completions"

	challengeTokenHeader = "X-Request-Token"

	// streamScanBuffer bounds a single upstream SSE line.
	streamScanBuffer = 10 * 1024 * 1024 // 10MB
)

// Client talks to the upstream chat API.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	creds        credentials.Provider
}

// NewClient creates an upstream client. The timeout applies to unary calls
// only; streaming reads are bounded by the request context instead. The
// stream client therefore carries no client-level timeout — http.Client.Timeout
// covers the whole exchange including body reads and would cut off healthy
// long turns. Dial and response-header waits stay bounded on both paths via
// the shared transport.
func NewClient(baseURL string, creds credentials.Provider, timeout time.Duration) *Client {
	// DisableCompression: we negotiate gzip ourselves so streaming and
	// unary paths share one decode spot.
	transport := &http.Transport{
		DisableCompression:    true,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
		ResponseHeaderTimeout: timeout,
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		streamClient: &http.Client{Transport: transport},
		creds:        creds,
	}
}

// CreateChat opens a new upstream conversation and returns its opaque id.
func (c *Client) CreateChat(ctx context.Context, model string) (string, error) {
	body, _ := sjson.Set(`{"model":""}`, "model", model)
	data, err := c.postJSON(ctx, c.baseURL+chatsPath, []byte(body))
	if err != nil {
		return "", err
	}
	chatID := gjson.GetBytes(data, "id").String()
	if chatID == "" {
		return "", apperrors.NewUpstreamAPI(http.StatusBadGateway, "upstream chat creation returned no id")
	}
	return chatID, nil
}

// Complete performs a unary completion call and returns the raw upstream
// JSON body.
func (c *Client) Complete(ctx context.Context, payload []byte) ([]byte, error) {
	return c.postJSON(ctx, c.baseURL+completionsPath, payload)
}

// CompleteStream performs a streaming completion call. Decoded events are
// delivered on the returned channel, which closes when the upstream stream
// ends or the context is cancelled. A transport failure mid-stream surfaces
// as a final EventError.
func (c *Client) CompleteStream(ctx context.Context, payload []byte) (<-chan Event, error) {
	httpReq, err := c.newRequest(ctx, c.baseURL+completionsPath, payload)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewNetwork("upstream stream request failed", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer closeBody(httpResp)
		b, _ := io.ReadAll(httpResp.Body)
		return nil, statusError(httpResp.StatusCode, b)
	}

	reader, err := decodeBody(httpResp)
	if err != nil {
		closeBody(httpResp)
		return nil, apperrors.NewNetwork("upstream stream decode failed", err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer closeBody(httpResp)

		scanner := bufio.NewScanner(reader)
		scanner.Buffer(nil, streamScanBuffer)
		for scanner.Scan() {
			ev, ok := parseStreamEvent(scanner.Bytes())
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Kind == EventDone {
				return
			}
		}
		if errScan := scanner.Err(); errScan != nil && !errors.Is(errScan, context.Canceled) {
			select {
			case out <- Event{Kind: EventError, Err: apperrors.NewNetwork("upstream stream interrupted", errScan)}:
			case <-ctx.Done():
			}
			return
		}
		// EOF without a [DONE] sentinel still finalizes the stream.
		select {
		case out <- Event{Kind: EventDone}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, url string, payload []byte) ([]byte, error) {
	httpReq, err := c.newRequest(ctx, url, payload)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewNetwork("upstream request failed", err)
	}
	defer closeBody(httpResp)

	reader, err := decodeBody(httpResp)
	if err != nil {
		return nil, apperrors.NewNetwork("upstream response decode failed", err)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, apperrors.NewNetwork("upstream response read failed", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		log.Debugf("upstream error, status: %d, body: %s", httpResp.StatusCode, truncateForLog(data))
		return nil, statusError(httpResp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) newRequest(ctx context.Context, url string, payload []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	creds, err := c.creds.Current()
	if err != nil {
		return nil, apperrors.NewAuthentication("no upstream credentials available", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept-Encoding", "gzip")
	httpReq.Header.Set("Cookie", creds.Cookie)
	if creds.ChallengeToken != "" {
		httpReq.Header.Set(challengeTokenHeader, creds.ChallengeToken)
	}
	return httpReq, nil
}

// decodeBody returns a reader over the (possibly gzip-compressed) body.
func decodeBody(resp *http.Response) (io.Reader, error) {
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return gzip.NewReader(resp.Body)
	}
	return resp.Body, nil
}

func statusError(status int, body []byte) error {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.NewAuthentication("upstream rejected credentials: "+msg, nil)
	default:
		return apperrors.NewUpstreamAPI(status, msg)
	}
}

func closeBody(resp *http.Response) {
	if errClose := resp.Body.Close(); errClose != nil {
		log.Errorf("upstream client: close response body error: %v", errClose)
	}
}

func truncateForLog(b []byte) string {
	const max = 512
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}

// Package transcoder talks to the media pipeline that transcodes uploads.
package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Guyuepp/videohub/domain"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

const IdempotencyHeader = "Idempotency-Key"

type Config struct {
	// BaseURL of the transcoding service. Empty selects the logging requester.
	BaseURL string
	Timeout time.Duration
}

type transcodeRequest struct {
	VideoID   int64  `json:"videoId"`
	RequestID string `json:"requestId"`
}

// Client posts transcode requests over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
}

// New returns the HTTP client, or a requester that only logs when no URL is configured.
func New(cfg Config) domain.TranscodeRequester {
	if cfg.BaseURL == "" {
		return LogRequester{}
	}
	return NewClient(cfg.BaseURL, &http.Client{Timeout: cfg.Timeout})
}

func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/transcodes",
		http:     hc,
	}
}

// RequestTranscode asks for a transcode. The service drops requests whose
// request id it has already seen and answers 409, which counts as success.
// Other 4xx answers are permanent, 5xx and transport errors are retried.
func (c *Client) RequestTranscode(ctx context.Context, videoID int64, requestID string) error {
	body, err := json.Marshal(transcodeRequest{VideoID: videoID, RequestID: requestID})
	if err != nil {
		return fmt.Errorf("encode transcode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Permanent(fmt.Errorf("build transcode request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set(IdempotencyHeader, requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("transcode video %d: %w", videoID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300, resp.StatusCode == http.StatusConflict:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("transcode video %d: %s", videoID, status(resp))
	default:
		return domain.Permanent(fmt.Errorf("transcode video %d: %s", videoID, status(resp)))
	}
}

func status(resp *http.Response) string {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if len(msg) == 0 {
		return resp.Status
	}
	return resp.Status + ": " + strings.TrimSpace(string(msg))
}

// LogRequester stands in for the transcoding service in local setups.
type LogRequester struct{}

func (LogRequester) RequestTranscode(_ context.Context, videoID int64, requestID string) error {
	logrus.WithFields(logrus.Fields{
		"video_id":   videoID,
		"request_id": requestID,
	}).Info("transcoder not configured, skipping request")
	return nil
}

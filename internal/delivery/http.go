package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/syntrixbase/syntrix-offline/internal/queue"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
	"github.com/zeebo/blake3"
)

// Request headers set by HTTPSender.
const (
	SignatureHeader = "X-Syntrix-Signature"
	DigestHeader    = "X-Syntrix-Content-Digest"
	SortKeyHeader   = "X-Syntrix-Sort-Key"
	userAgent       = "Syntrix-Offline/1.0"
)

// maxResponseBody caps how much of a response body is read.
const maxResponseBody = 1 << 20

// HTTPSender POSTs each update as JSON to a fixed URL.
//
// 2xx responses succeed; the decoded JSON body (or the raw body) is the
// send result. 4xx responses fail with a model.FatalError, anything else
// with a retryable error.
type HTTPSender struct {
	client  *http.Client
	url     string
	headers map[string]string
	secret  string
	key     []byte
	ttl     time.Duration
	issuer  string
	logger  *slog.Logger
}

var _ queue.Sender = (*HTTPSender)(nil)

// NewHTTPSender creates an HTTP sender.
func NewHTTPSender(cfg HTTPConfig, logger *slog.Logger) (*HTTPSender, error) {
	if cfg.URL == "" {
		return nil, errors.New("delivery url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ttl := cfg.TokenTTL
	if ttl == 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSender{
		client:  &http.Client{Timeout: timeout},
		url:     cfg.URL,
		headers: cfg.Headers,
		secret:  cfg.Secret,
		key:     []byte(cfg.TokenKey),
		ttl:     ttl,
		issuer:  cfg.Issuer,
		logger:  logger.With("component", "http-sender"),
	}, nil
}

// Send implements queue.Sender.
func (s *HTTPSender) Send(ctx context.Context, d *queue.Delivery) (interface{}, error) {
	payload, err := json.Marshal(newEnvelope(d))
	if err != nil {
		return nil, &model.FatalError{Err: fmt.Errorf("failed to marshal update: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, &model.FatalError{Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(IdempotencyHeader, d.IdempotencyKey)
	req.Header.Set(SortKeyHeader, fmt.Sprintf("%d", d.SortKey))
	req.Header.Set(DigestHeader, Digest(payload))

	if s.secret != "" {
		req.Header.Set(SignatureHeader, Sign(payload, s.secret, time.Now().Unix()))
	}
	if len(s.key) > 0 {
		token, err := s.token(d.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to sign token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.logger.Debug("Update delivered", "sort", d.SortKey, "status", resp.StatusCode)
		return decodeBody(resp.Header.Get("Content-Type"), body), nil
	}

	// 4xx errors are fatal, 5xx are retryable.
	err = fmt.Errorf("delivery failed with status: %d", resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &model.FatalError{Err: err}
	}
	return nil, err
}

// Close implements Sender.
func (s *HTTPSender) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *HTTPSender) token(id string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   "queue-delivery",
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func decodeBody(contentType string, body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}
	if strings.HasPrefix(contentType, "application/json") {
		var out interface{}
		if err := json.Unmarshal(body, &out); err == nil {
			return out
		}
	}
	return string(body)
}

// Sign returns the signature header value for body: t={ts},v1={hex(hmac)}.
func Sign(body []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", timestamp)))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, sig)
}

// Digest returns the content digest header value for body.
func Digest(body []byte) string {
	sum := blake3.Sum256(body)
	return "blake3=" + hex.EncodeToString(sum[:])
}

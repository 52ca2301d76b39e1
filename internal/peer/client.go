// Package peer реализует HTTP клиент к API другой реплики.
package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/iudanet/dirsync/internal/crdt"
	"github.com/iudanet/dirsync/internal/models"
	"github.com/iudanet/dirsync/internal/replication"
	"github.com/iudanet/dirsync/internal/server/handlers"
	"github.com/iudanet/dirsync/pkg/api"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultRetries    = 3
	defaultRetryDelay = 100 * time.Millisecond
	// tokenRefreshSlack токен перевыпускается заранее, до истечения срока
	tokenRefreshSlack = 10 * time.Second
)

// ErrRejected возвращается, если удаленная реплика не применила часть сообщений
var ErrRejected = errors.New("peer rejected updates")

// StatusError ответ реплики с кодом, отличным от 2xx
type StatusError struct {
	Message    string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// Identity идентификатор и секрет, которыми клиент подписывает запросы
type Identity struct {
	Name string
	JWT  handlers.JWTConfig
	ID   uint16
}

// Client HTTP клиент к удаленной реплике
type Client struct {
	expiresAt  time.Time
	httpClient *http.Client
	logger     *slog.Logger
	name       string
	baseURL    string
	token      string
	identity   Identity
	retries    uint64
	retryDelay time.Duration
	mu         sync.Mutex
}

var _ replication.Peer = (*Client)(nil)

// Option настраивает Client
type Option func(*Client)

// WithHTTPClient задает HTTP клиент
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry задает число повторов и начальную задержку для временных ошибок
func WithRetry(retries uint64, delay time.Duration) Option {
	return func(c *Client) {
		c.retries = retries
		c.retryDelay = delay
	}
}

// NewClient создает клиент реплики name, доступной по baseURL
func NewClient(name, baseURL string, identity Identity, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		identity:   identity,
		logger:     logger,
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name возвращает имя удаленной реплики
func (c *Client) Name() string {
	return c.name
}

// PushUpdates отправляет пакет сообщений. Ошибки отдельных сообщений
// собираются в одну ошибку ErrRejected.
func (c *Client) PushUpdates(ctx context.Context, msgs []*models.UpdateMsg) error {
	if len(msgs) == 0 {
		return nil
	}

	var resp api.UpdatesResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/replication/updates", api.UpdatesRequest{Updates: msgs}, &resp); err != nil {
		return fmt.Errorf("push updates to %s: %w", c.name, err)
	}

	var rejected []string
	for _, res := range resp.Results {
		if res.Error != "" {
			rejected = append(rejected, res.CN.String()+": "+res.Error)
		}
	}
	if len(rejected) > 0 {
		return fmt.Errorf("%w by %s: %s", ErrRejected, c.name, strings.Join(rejected, "; "))
	}

	c.logger.Debug("Updates pushed", "peer", c.name, "count", len(msgs))
	return nil
}

// FetchChanges запрашивает до limit операций после since
func (c *Client) FetchChanges(ctx context.Context, since crdt.ChangeNumber, limit int) ([]*models.UpdateMsg, error) {
	query := url.Values{}
	if !since.IsZero() {
		query.Set("since", since.String())
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/replication/changes"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp api.ChangesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch changes from %s: %w", c.name, err)
	}
	return resp.Changes, nil
}

// do выполняет запрос, повторяя его при сетевых ошибках и ответах 5xx и 429
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = data
	}

	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(c.retryDelay))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			c.logger.Warn("Retrying peer request", "peer", c.name, "path", path, "attempt", attempt)
		}

		err := c.doOnce(ctx, method, path, payload, result)
		var statusErr *StatusError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &statusErr):
			if statusErr.StatusCode >= http.StatusInternalServerError || statusErr.StatusCode == http.StatusTooManyRequests {
				return retry.RetryableError(err)
			}
			return err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			return retry.RetryableError(err)
		}
	})
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, result any) error {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.bearerToken()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Message: string(respBody)}
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Message != "" {
			statusErr.Message = errResp.Message
		}
		return statusErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// bearerToken возвращает закешированный токен реплики, перевыпуская его перед истечением
func (c *Client) bearerToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.expiresAt) > tokenRefreshSlack {
		return c.token, nil
	}

	token, expiresAt, err := handlers.GenerateReplicaToken(c.identity.JWT, c.identity.ID, c.identity.Name)
	if err != nil {
		return "", fmt.Errorf("failed to issue replica token: %w", err)
	}
	c.token = token
	c.expiresAt = expiresAt
	return token, nil
}

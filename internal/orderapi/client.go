package orderapi

import (
	"bulk_orders/internal/metrics"
	"bulk_orders/internal/model"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 1 << 20
)

// Error - отказ API приема заказов. Error() возвращает сообщение сервера без изменений.
type Error struct {
	StatusCode int
	Message    string
	Timeout    bool
}

func (e *Error) Error() string { return e.Message }

// Config управляет поведением клиента.
type Config struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client отправляет принятые пакеты во внешний API приема заказов.
type Client struct {
	url        string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// New создает клиент. URL обязателен.
func New(cfg Config) (*Client, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("orderapi: не указан URL API приема заказов")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Client{
		url:        url,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		timeout:    timeout,
		httpClient: httpClient,
	}, nil
}

// Submit отправляет пакет одним запросом. Повторов нет: при ошибке решение
// о повторной отправке принимает пользователь.
func (c *Client) Submit(ctx context.Context, payload model.BulkSubmission) (*model.SubmissionAccepted, error) {
	timer := prometheus.NewTimer(metrics.OrderAPIDuration)
	defer timer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("orderapi: ошибка сериализации пакета: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("orderapi: ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Message: "order service did not respond in time", Timeout: true}
		}
		return nil, &Error{Message: fmt.Sprintf("order service unavailable: %v", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Message: fmt.Sprintf("order service response unreadable: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{StatusCode: resp.StatusCode, Message: failureMessage(resp.StatusCode, data)}
	}

	var accepted model.SubmissionAccepted
	if err := json.Unmarshal(data, &accepted); err != nil || accepted.SubmissionID == "" || accepted.PaymentPIN == "" {
		return nil, &Error{StatusCode: resp.StatusCode, Message: "order service returned an invalid response"}
	}
	return &accepted, nil
}

func failureMessage(status int, body []byte) string {
	var failure struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &failure); err == nil && failure.Message != "" {
		return failure.Message
	}
	return http.StatusText(status)
}

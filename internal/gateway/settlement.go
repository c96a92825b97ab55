// Package gateway performs the single outbound settlement call to a payment
// processor and classifies its result. It never retries.
package gateway

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment-router/internal/models"
)

// TimestampLayout is ISO-8601 UTC with millisecond precision and a Z suffix.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Hinter receives the best-effort "processor may be failing" signal on 5xx.
type Hinter interface {
	Hint()
}

// Gateway posts settlement requests to one processor endpoint.
type Gateway struct {
	name       string
	url        string
	httpClient *http.Client
	hinter     Hinter
	logger     *zap.Logger
}

// Options configures a Gateway.
type Options struct {
	Name           string
	URL            string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	Hinter         Hinter
	Logger         *zap.Logger
}

// New builds a gateway whose client bounds the whole call by Timeout and
// connection establishment by the shorter ConnectTimeout.
func New(opts Options) *Gateway {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	connect := opts.ConnectTimeout
	if connect == 0 || connect > timeout {
		connect = timeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = connect
	transport.MaxIdleConnsPerHost = 64

	return &Gateway{
		name: opts.Name,
		url:  opts.URL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		hinter: opts.Hinter,
		logger: logger.With(zap.String("processor", opts.Name)),
	}
}

// Name is the processor this gateway talks to.
func (g *Gateway) Name() string { return g.name }

type settlementRequest struct {
	CorrelationID string      `json:"correlationId"`
	Amount        json.Number `json:"amount"`
	RequestedAt   string      `json:"requestedAt"`
}

// Dispatch makes one settlement attempt.
func (g *Gateway) Dispatch(ctx context.Context, correlationID string, amount decimal.Decimal, requestedAt time.Time) models.Outcome {
	body, err := json.Marshal(settlementRequest{
		CorrelationID: correlationID,
		Amount:        json.Number(amount.StringFixed(2)),
		RequestedAt:   FormatTimestamp(requestedAt),
	})
	if err != nil {
		g.logger.Error("encode settlement request", zap.String("correlation_id", correlationID), zap.Error(err))
		return models.OutcomeUnreachable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		g.logger.Error("build settlement request", zap.String("correlation_id", correlationID), zap.Error(err))
		return models.OutcomeUnreachable
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Debug("processor unreachable", zap.String("correlation_id", correlationID), zap.Error(err))
		return models.OutcomeUnreachable
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return g.classify(correlationID, resp.StatusCode)
}

func (g *Gateway) classify(correlationID string, status int) models.Outcome {
	switch {
	case status >= 200 && status < 300:
		return models.OutcomeSettled
	case status >= 500:
		if g.hinter != nil {
			g.hinter.Hint()
		}
		g.logger.Debug("processor rejected settlement", zap.String("correlation_id", correlationID), zap.Int("status", status))
		return models.OutcomeRejected
	default:
		g.logger.Debug("processor answered with non-2xx", zap.String("correlation_id", correlationID), zap.Int("status", status))
		return models.OutcomeUnreachable
	}
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

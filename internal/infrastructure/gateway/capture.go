package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"debitledger/internal/config"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	// ErrChargeDeclined 网关明确拒绝扣款，重试无意义
	ErrChargeDeclined = errors.New("charge declined")
	// ErrUnavailable 网关不可用或熔断中
	ErrUnavailable = errors.New("capture gateway unavailable")
)

// ChargeRequest 向外部资金网关发起的一次扣款
type ChargeRequest struct {
	CustomerExternalID string
	SourceRef          string
	Amount             decimal.Decimal
	Description        string
}

// CaptureGateway 扣款成功返回网关交易号
type CaptureGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (string, error)
}

type chargeBody struct {
	CustomerID  string          `json:"customerId"`
	SourceID    string          `json:"sourceId"`
	Amount      decimal.Decimal `json:"amount"`
	Capture     bool            `json:"capture"`
	Description string          `json:"description"`
}

type chargeReply struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

// HTTPGateway 通过 HTTP 调用外部网关，外层套熔断器
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewHTTPGateway(cfg config.GatewayConfig, client *http.Client, logger *zap.Logger) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	g := &HTTPGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
		logger:  logger,
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "capture-gateway",
		MaxRequests: cfg.BreakerHalfOpens,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("熔断器状态变化",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return g
}

// Charge 拒绝扣款不计入熔断失败次数
func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.post(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return "", err
	}

	reply := result.(*chargeReply)
	if reply.TransactionID == "" {
		return "", fmt.Errorf("%w: %s", ErrChargeDeclined, reply.Message)
	}
	return reply.TransactionID, nil
}

// post 只有传输错误和 5xx 返回 error，4xx 拒绝以空交易号返回
func (g *HTTPGateway) post(ctx context.Context, req ChargeRequest) (*chargeReply, error) {
	payload, err := json.Marshal(chargeBody{
		CustomerID:  req.CustomerExternalID,
		SourceID:    req.SourceRef,
		Amount:      req.Amount,
		Capture:     true,
		Description: req.Description,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout())
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/payments", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var reply chargeReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil && resp.StatusCode < 500 {
		return nil, fmt.Errorf("decode gateway reply: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		if reply.Message == "" {
			reply.Message = fmt.Sprintf("status %d", resp.StatusCode)
		}
		reply.TransactionID = ""
		return &reply, nil
	case reply.TransactionID == "":
		return nil, fmt.Errorf("%w: empty transaction id", ErrUnavailable)
	}
	return &reply, nil
}

func (g *HTTPGateway) timeout() time.Duration {
	if g.client.Timeout > 0 {
		return g.client.Timeout
	}
	return 10 * time.Second
}

func (g *HTTPGateway) State() gobreaker.State {
	return g.breaker.State()
}

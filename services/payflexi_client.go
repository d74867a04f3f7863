package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const transactionsPath = "/merchants/transactions"

// APIError is a business rejection from the PayFlexi API: the call reached
// the aggregator but was refused. The message is safe to surface to the
// buyer. Transport failures and non-200 responses are returned as plain
// wrapped errors and must be treated as transient.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("payflexi api error (status %d)", e.StatusCode)
}

// CheckoutRequest is the session-create payload for the PayFlexi API.
type CheckoutRequest struct {
	Name         string          `json:"name"`
	Amount       decimal.Decimal `json:"amount"`
	Email        string          `json:"email"`
	Reference    string          `json:"reference"`
	Currency     string          `json:"currency"`
	CallbackURL  string          `json:"callback_url"`
	Domain       string          `json:"domain"`
	Gateway      string          `json:"gateway"`
	PlansEnabled bool            `json:"plans_enabled"`
	Meta         CheckoutMeta    `json:"meta"`
}

type CheckoutMeta struct {
	Title      string `json:"title"`
	OrderID    uint   `json:"order_id"`
	OrderKey   string `json:"order_key"`
	CoursePlan string `json:"course_plan"`
}

type CheckoutResponse struct {
	CheckoutURL string          `json:"checkout_url"`
	Errors      json.RawMessage `json:"errors"`
	Message     string          `json:"message"`
}

// TransactionData is the verified state of a payment attempt as reported by
// the aggregator. Amount is the session total, TxnAmount what was actually
// paid in this attempt.
type TransactionData struct {
	Status           string          `json:"status"`
	Reference        string          `json:"reference"`
	InitialReference string          `json:"initial_reference"`
	Amount           decimal.Decimal `json:"amount"`
	TxnAmount        decimal.Decimal `json:"txn_amount"`
	Currency         string          `json:"currency"`
}

type transactionResponse struct {
	Errors  json.RawMessage `json:"errors"`
	Message string          `json:"message"`
	Data    TransactionData `json:"data"`
}

// PayFlexiClient talks to the PayFlexi merchant API with bearer auth.
type PayFlexiClient struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewPayFlexiClient(baseURL, secretKey string, logger *zap.Logger) *PayFlexiClient {
	return &PayFlexiClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// CreateCheckout creates a checkout session and returns its hosted URL.
func (c *PayFlexiClient) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+transactionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("payflexi checkout request failed: %w", err)
	}
	defer resp.Body.Close()

	var out CheckoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("payflexi checkout response decode failed: %w", err)
	}

	if hasAPIErrors(out.Errors) || (resp.StatusCode == http.StatusOK && out.CheckoutURL == "") {
		c.logger.Warn("PayFlexi checkout rejected",
			zap.String("reference", req.Reference),
			zap.Int("status", resp.StatusCode),
			zap.String("message", out.Message),
		)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: out.Message}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payflexi checkout returned status %d", resp.StatusCode)
	}

	c.logger.Info("PayFlexi checkout session created", zap.String("reference", req.Reference))
	return &out, nil
}

// FetchTransaction looks up a payment attempt by its reference. Any failure
// to reach the API or a non-200 status is transient: the payment may still
// have succeeded aggregator-side, so callers must not fail the order.
func (c *PayFlexiClient) FetchTransaction(ctx context.Context, reference string) (*TransactionData, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+transactionsPath+"/"+reference, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("payflexi transaction lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payflexi transaction lookup returned status %d", resp.StatusCode)
	}

	var out transactionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("payflexi transaction response decode failed: %w", err)
	}
	if hasAPIErrors(out.Errors) {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: out.Message}
	}

	return &out.Data, nil
}

// hasAPIErrors reports whether the errors field carries anything. PayFlexi
// sends null/false when the call succeeded.
func hasAPIErrors(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "false", "{}", "[]":
		return false
	}
	return true
}

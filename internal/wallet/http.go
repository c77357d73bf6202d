package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/attnx/tournament-engine/internal/model"
)

// HTTPWallet calls the wallet service:
//
//	POST {baseURL}/api/v1/wallets/{userID}/debit   {"amount": "10.00", "reference": "entry:..."}
//	POST {baseURL}/api/v1/wallets/{userID}/credit
//
// 402 maps to model.ErrInsufficientFunds, 409 (reference already applied)
// counts as success, anything else non-2xx is model.ErrWalletUnavailable.
type HTTPWallet struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewHTTPWallet creates a client authenticating with the service token.
func NewHTTPWallet(baseURL, token string) *HTTPWallet {
	return &HTTPWallet{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type movement struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

func (w *HTTPWallet) Debit(ctx context.Context, userID string, amount decimal.Decimal, ref string) error {
	return w.post(ctx, userID, "debit", movement{Amount: amount, Reference: ref})
}

func (w *HTTPWallet) Credit(ctx context.Context, userID string, amount decimal.Decimal, ref string) error {
	return w.post(ctx, userID, "credit", movement{Amount: amount, Reference: ref})
}

func (w *HTTPWallet) post(ctx context.Context, userID, op string, body movement) error {
	u, err := url.JoinPath(w.BaseURL, "api", "v1", "wallets", userID, op)
	if err != nil {
		return fmt.Errorf("build wallet url: %w", err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create wallet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", w.Token)

	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", model.ErrWalletUnavailable, op, userID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300, resp.StatusCode == http.StatusConflict:
		return nil
	case resp.StatusCode == http.StatusPaymentRequired:
		return fmt.Errorf("%w: user %s", model.ErrInsufficientFunds, userID)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %s returned status %d: %s", model.ErrWalletUnavailable, op, resp.StatusCode, string(msg))
	}
}

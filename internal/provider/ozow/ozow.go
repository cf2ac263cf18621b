// Package ozow implements the provider contract for Ozow instant EFT.
// Requests and notifications are authenticated with a SHA512 hashcheck
// over the field values plus the site's private key.
package ozow

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nelani/payment-gateway/internal/payment/domain"
	"github.com/nelani/payment-gateway/internal/provider"
)

const (
	apiURL = "https://api.ozow.com/postpaymentrequest"

	statusComplete  = "Complete"
	statusCancelled = "Cancelled"
	statusError     = "Error"
	statusAbandoned = "Abandoned"
)

type Config struct {
	SiteCode   string
	PrivateKey string
	APIKey     string
	NotifyURL  string
	IsTest     bool
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
	// BaseURL overrides the Ozow API endpoint, mainly for tests.
	BaseURL string
}

type Adapter struct {
	log  *slog.Logger
	cfg  Config
	http *http.Client
	base string
}

func New(log *slog.Logger, cfg Config) *Adapter {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Each attempt must finish well under the retry backoff ceiling.
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	base := cfg.BaseURL
	if base == "" {
		base = apiURL
	}
	return &Adapter{log: log, cfg: cfg, http: httpClient, base: base}
}

func (a *Adapter) Identify() domain.Provider { return domain.ProviderOzow }

func (a *Adapter) SupportsResume() bool { return false }

type paymentRequest struct {
	SiteCode             string `json:"SiteCode"`
	CountryCode          string `json:"CountryCode"`
	CurrencyCode         string `json:"CurrencyCode"`
	Amount               string `json:"Amount"`
	TransactionReference string `json:"TransactionReference"`
	BankReference        string `json:"BankReference"`
	NotifyURL            string `json:"NotifyUrl"`
	IsTest               bool   `json:"IsTest"`
	HashCheck            string `json:"HashCheck"`
}

type paymentResponse struct {
	PaymentRequestID string `json:"paymentRequestId"`
	URL              string `json:"url"`
	ErrorMessage     string `json:"errorMessage"`
}

// CreateSession posts a payment request; the transaction reference is the
// internal payment ID, so a retried attempt resolves to the same
// transaction on Ozow's side.
func (a *Adapter) CreateSession(ctx context.Context, p *domain.Payment) (*provider.SessionResult, error) {
	a.log.Info("creating ozow payment request", "payment_id", p.ID, "order_id", p.OrderID)

	req := paymentRequest{
		SiteCode:             a.cfg.SiteCode,
		CountryCode:          "ZA",
		CurrencyCode:         "ZAR",
		Amount:               p.Amount.StringFixed(2),
		TransactionReference: p.ID.String(),
		BankReference:        p.OrderID,
		NotifyURL:            a.cfg.NotifyURL,
		IsTest:               a.cfg.IsTest,
	}
	req.HashCheck = hashCheck(a.cfg.PrivateKey,
		req.SiteCode, req.CountryCode, req.CurrencyCode, req.Amount,
		req.TransactionReference, req.BankReference, req.NotifyURL,
		fmt.Sprintf("%t", req.IsTest))

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ozow request", provider.ErrInvalidRequest)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: ozow request", provider.ErrInvalidRequest)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("ApiKey", a.cfg.APIKey)

	resp, err := a.http.Do(httpReq)
	if err != nil {
		a.log.Warn("ozow call failed", "payment_id", p.ID, "err", err)
		return nil, fmt.Errorf("%w: ozow", provider.ErrTemporary)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		a.log.Error("ozow authentication failure", "payment_id", p.ID, "status", resp.StatusCode)
		return nil, provider.ErrMisconfigured
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		a.log.Warn("transient ozow failure", "payment_id", p.ID, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: ozow", provider.ErrTemporary)
	case resp.StatusCode >= http.StatusBadRequest:
		a.log.Error("ozow rejected request", "payment_id", p.ID, "status", resp.StatusCode)
		return nil, provider.ErrInvalidRequest
	}

	var out paymentResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		a.log.Warn("ozow response unreadable", "payment_id", p.ID, "err", err)
		return nil, fmt.Errorf("%w: ozow", provider.ErrTemporary)
	}
	if out.ErrorMessage != "" {
		a.log.Error("ozow returned error", "payment_id", p.ID)
		return nil, provider.ErrInvalidRequest
	}

	a.log.Info("ozow payment request created", "payment_id", p.ID, "request_id", out.PaymentRequestID)
	return &provider.SessionResult{
		Provider:     domain.ProviderOzow,
		Reference:    out.PaymentRequestID,
		ClientSecret: out.URL,
	}, nil
}

func (a *Adapter) ResumeSession(ctx context.Context, p *domain.Payment) (*provider.SessionResult, error) {
	return nil, fmt.Errorf("%w: ozow sessions cannot be resumed", provider.ErrInvalidRequest)
}

type notification struct {
	TransactionID        string `json:"TransactionId"`
	TransactionReference string `json:"TransactionReference"`
	Amount               string `json:"Amount"`
	Status               string `json:"Status"`
	Hash                 string `json:"Hash"`
}

// VerifyAndParseWebhook checks the notification hashcheck and maps Ozow's
// terminal statuses.
func (a *Adapter) VerifyAndParseWebhook(payload []byte, signature string) (*provider.Event, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, provider.ErrInvalidSignature
	}

	want := hashCheck(a.cfg.PrivateKey, n.TransactionID, n.TransactionReference, n.Amount, n.Status)
	got := n.Hash
	if got == "" {
		got = signature
	}
	if want != strings.ToLower(got) {
		return nil, provider.ErrInvalidSignature
	}

	var succeeded bool
	switch n.Status {
	case statusComplete:
		succeeded = true
	case statusCancelled, statusError, statusAbandoned:
		succeeded = false
	default:
		a.log.Debug("unhandled ozow status", "status", n.Status)
		return nil, nil
	}

	paymentID, err := uuid.Parse(n.TransactionReference)
	if err != nil {
		a.log.Warn("ozow notification carries malformed transaction reference")
		return nil, nil
	}

	return &provider.Event{ID: n.TransactionID, PaymentID: paymentID, Succeeded: succeeded}, nil
}

// hashCheck is SHA512 over the lowercased concatenation of the values
// followed by the private key.
func hashCheck(privateKey string, values ...string) string {
	var b strings.Builder
	for _, v := range values {
		b.WriteString(v)
	}
	b.WriteString(privateKey)
	sum := sha512.Sum512([]byte(strings.ToLower(b.String())))
	return hex.EncodeToString(sum[:])
}

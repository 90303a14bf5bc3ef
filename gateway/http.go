package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/warp/club-activity-engine/engine"
)

// DefaultHTTPTimeout bounds one credit call to the wallet service.
const DefaultHTTPTimeout = 10 * time.Second

// HTTP credits rewards through a remote wallet service:
//
//	POST {BaseURL}/wallets/{club}/credits
//	Idempotency-Key: club-reward:<club>:<yyyy-mm>
//
// 200/201 credited, 409 already credited for the key, 4xx rejected,
// 5xx or a transport failure after the request was sent is ambiguous.
type HTTP struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTP{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

type creditRequest struct {
	Amount      int64  `json:"amount"`
	Reason      string `json:"reason"`
	Period      string `json:"period"`
	RequestedBy string `json:"requested_by,omitempty"`
}

type creditResponse struct {
	Reference     string    `json:"reference"`
	Amount        int64     `json:"amount"`
	DistributedAt time.Time `json:"distributed_at"`
}

type walletError struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (g *HTTP) Distribute(ctx context.Context, req engine.DistributionRequest) (engine.DistributionReceipt, error) {
	if err := req.Validate(); err != nil {
		return engine.DistributionReceipt{}, err
	}

	body, err := json.Marshal(creditRequest{
		Amount:      req.Amount,
		Reason:      req.Reason,
		Period:      req.Period.String(),
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		return engine.DistributionReceipt{}, fmt.Errorf("failed to encode credit: %w", err)
	}

	endpoint := fmt.Sprintf("%s/wallets/%s/credits", g.BaseURL, url.PathEscape(string(req.ClubID)))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return engine.DistributionReceipt{}, unavailable(err, false)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	if err := ctx.Err(); err != nil {
		return engine.DistributionReceipt{}, unavailable(err, false)
	}

	resp, err := g.client().Do(httpReq)
	if err != nil {
		return engine.DistributionReceipt{}, unavailable(err, !notSent(err))
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return decodeReceipt(req, payload, false)

	case resp.StatusCode == http.StatusConflict:
		receipt, err := decodeReceipt(req, payload, true)
		if err != nil {
			return receipt, err
		}
		return receipt, engine.ErrDuplicateDistribution

	case resp.StatusCode == http.StatusNotFound:
		return engine.DistributionReceipt{}, unavailable(
			&engine.NotFoundError{Kind: "wallet", ID: string(req.ClubID)}, false)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var we walletError
		json.Unmarshal(payload, &we)
		field := we.Field
		if field == "" {
			field = "distribution"
		}
		msg := we.Error
		if msg == "" {
			msg = fmt.Sprintf("rejected by wallet service (%d)", resp.StatusCode)
		}
		return engine.DistributionReceipt{}, &engine.ValidationError{Field: field, Message: msg}

	default:
		return engine.DistributionReceipt{}, unavailable(
			fmt.Errorf("wallet service returned %d", resp.StatusCode), true)
	}
}

func (g *HTTP) client() *http.Client {
	if g.Client != nil {
		return g.Client
	}
	return http.DefaultClient
}

func decodeReceipt(req engine.DistributionRequest, payload []byte, replayed bool) (engine.DistributionReceipt, error) {
	var cr creditResponse
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cr); err != nil && !replayed {
			// The credit happened but we cannot read its reference.
			return engine.DistributionReceipt{}, unavailable(fmt.Errorf("unreadable receipt: %w", err), true)
		}
	}
	amount := cr.Amount
	if amount == 0 {
		amount = req.Amount
	}
	return engine.DistributionReceipt{
		Reference:     cr.Reference,
		ClubID:        req.ClubID,
		Amount:        amount,
		DistributedAt: cr.DistributedAt,
		Replayed:      replayed,
	}, nil
}

func unavailable(err error, ambiguous bool) error {
	return &engine.DependencyError{Dependency: "wallet service", Ambiguous: ambiguous, Err: err}
}

// notSent reports whether the transport failed before the request left,
// in which case the wallet cannot have been credited.
func notSent(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// Package datastore implements the HTTP client for the versioned balance
// store. The store is a black box exposing a descending version index, a
// per-version balance document and a conditional write keyed by If-Match.
//
// Transport outcomes map onto the business sentinels: an empty index is
// ErrAccountNotProvisioned, a rejected precondition is
// ErrBalanceVersionConflict, and everything else that is not a well-formed
// answer (timeouts, 5xx, malformed bodies, an open circuit breaker) is
// ErrBalanceStoreUnavailable. The client never retries; conflicts belong to
// the caller.
package datastore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mysverse/worker-bank/internal/bank"
	"github.com/mysverse/worker-bank/pkg/commons"
	"github.com/mysverse/worker-bank/pkg/commons/circuitbreaker"
	constant "github.com/mysverse/worker-bank/pkg/commons/constants"
	"github.com/mysverse/worker-bank/pkg/commons/log"
	"github.com/mysverse/worker-bank/pkg/commons/opentelemetry"
)

const (
	// DefaultRequestTimeout bounds every call to the store.
	DefaultRequestTimeout = 10 * time.Second

	breakerName      = "balance-store"
	maxResponseBytes = 1 << 20
)

// ErrBaseURLRequired indicates the client was configured without a store URL.
var ErrBaseURLRequired = fmt.Errorf("balance store base URL is required")

// Config holds the connection settings for the balance store.
type Config struct {
	// BaseURL is the store root, without a trailing slash.
	BaseURL string
	// APIKey is sent as x-api-key on every call.
	APIKey string
	// RequestTimeout bounds each individual call. Zero means
	// DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// Client talks to the versioned balance store. It implements
// bank.BalanceStore.
type Client struct {
	config  Config
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

var _ bank.BalanceStore = (*Client)(nil)

// New builds a store client. All calls share one circuit breaker so a dead
// remote fails fast instead of queueing timeouts.
func New(config Config, logger log.Logger) (*Client, error) {
	config.BaseURL = strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if config.BaseURL == "" {
		return nil, ErrBaseURLRequired
	}

	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}

	return &Client{
		config:  config,
		client:  &http.Client{},
		breaker: circuitbreaker.New(breakerName, circuitbreaker.HTTPServiceConfig(), logger),
	}, nil
}

// versionsResponse is the version index answer, newest marker first.
type versionsResponse struct {
	Versions []string `json:"versions"`
}

// balanceDocument is the stored balance payload.
type balanceDocument struct {
	Balance decimal.Decimal `json:"balance"`
}

// LatestVersion queries the descending version index with page size one and
// returns the newest marker.
func (c *Client) LatestVersion(ctx context.Context, account bank.Account) (bank.Version, error) {
	_, tracer, _, _ := commons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "datastore.latest_version")
	defer span.End()

	endpoint := fmt.Sprintf("%s/v1/index/%s/%s/versions?limit=1&order=desc",
		c.config.BaseURL, url.PathEscape(account.Bank), url.PathEscape(account.UserID))

	result, err := c.do(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "query version index", err)

		return "", err
	}

	if result.status != http.StatusOK {
		err := fmt.Errorf("%w: version index answered %d", constant.ErrBalanceStoreUnavailable, result.status)
		opentelemetry.HandleSpanError(&span, "query version index", err)

		return "", err
	}

	var index versionsResponse
	if err := json.Unmarshal(result.body, &index); err != nil {
		err = fmt.Errorf("%w: decode version index: %v", constant.ErrBalanceStoreUnavailable, err)
		opentelemetry.HandleSpanError(&span, "decode version index", err)

		return "", err
	}

	if len(index.Versions) == 0 {
		err := fmt.Errorf("%w: account %s has no versions", constant.ErrAccountNotProvisioned, account)
		opentelemetry.HandleSpanBusinessErrorEvent(&span, "account.not_provisioned", err)

		return "", err
	}

	return bank.Version(index.Versions[0]), nil
}

// ReadBalance fetches the balance document stored at the given version.
func (c *Client) ReadBalance(ctx context.Context, account bank.Account, version bank.Version) (bank.BalanceRecord, error) {
	_, tracer, _, _ := commons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "datastore.read_balance")
	defer span.End()

	endpoint := fmt.Sprintf("%s/v1/data/%s/%s/%s",
		c.config.BaseURL, url.PathEscape(account.Bank), url.PathEscape(account.UserID), url.PathEscape(string(version)))

	result, err := c.do(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "read balance", err)

		return bank.BalanceRecord{}, err
	}

	if result.status != http.StatusOK {
		err := fmt.Errorf("%w: balance read answered %d", constant.ErrBalanceStoreUnavailable, result.status)
		opentelemetry.HandleSpanError(&span, "read balance", err)

		return bank.BalanceRecord{}, err
	}

	var document balanceDocument
	if err := json.Unmarshal(result.body, &document); err != nil {
		err = fmt.Errorf("%w: decode balance document: %v", constant.ErrBalanceStoreUnavailable, err)
		opentelemetry.HandleSpanError(&span, "decode balance document", err)

		return bank.BalanceRecord{}, err
	}

	return bank.BalanceRecord{Balance: document.Balance}, nil
}

// CompareAndWrite stores record under an If-Match precondition on version.
// The store answers 412 when the version is no longer the latest; exactly
// one attempt is made either way.
func (c *Client) CompareAndWrite(ctx context.Context, account bank.Account, version bank.Version, record bank.BalanceRecord) error {
	_, tracer, _, _ := commons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "datastore.compare_and_write")
	defer span.End()

	payload, err := json.Marshal(balanceDocument{Balance: record.Balance})
	if err != nil {
		opentelemetry.HandleSpanError(&span, "encode balance document", err)

		return fmt.Errorf("encode balance document: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/data/%s/%s",
		c.config.BaseURL, url.PathEscape(account.Bank), url.PathEscape(account.UserID))

	header := http.Header{}
	header.Set(constant.HeaderIfMatch, string(version))

	result, err := c.do(ctx, http.MethodPut, endpoint, payload, header)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "conditional write", err)

		return err
	}

	switch {
	case result.status == http.StatusPreconditionFailed:
		err := fmt.Errorf("%w: version %s is no longer latest", constant.ErrBalanceVersionConflict, version)
		opentelemetry.HandleSpanBusinessErrorEvent(&span, "balance.version_conflict", err)

		return err
	case result.status < http.StatusOK || result.status >= http.StatusMultipleChoices:
		err := fmt.Errorf("%w: conditional write answered %d", constant.ErrBalanceStoreUnavailable, result.status)
		opentelemetry.HandleSpanError(&span, "conditional write", err)

		return err
	}

	return nil
}

// callResult is a fully consumed store answer.
type callResult struct {
	status int
	body   []byte
}

// do runs one HTTP call through the circuit breaker under the per-call
// timeout. Only transport faults and 5xx answers count against the breaker;
// statuses below 500 are well-formed answers for the operation to map. Any
// failure here, including an open breaker, surfaces as
// ErrBalanceStoreUnavailable.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte, header http.Header) (callResult, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		req.Header.Set("Accept", "application/json")

		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		if c.config.APIKey != "" {
			req.Header.Set(constant.HeaderAPIKey, c.config.APIKey)
		}

		for key, values := range header {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}

		opentelemetry.InjectHTTPContext(&req.Header, ctx)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("status %s", resp.Status)
		}

		return callResult{status: resp.StatusCode, body: responseBody}, nil
	})
	if err != nil {
		return callResult{}, fmt.Errorf("%w: %v", constant.ErrBalanceStoreUnavailable, err)
	}

	return result.(callResult), nil
}

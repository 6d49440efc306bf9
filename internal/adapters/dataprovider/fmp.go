package dataprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Amund211/tickerlight/internal/config"
	"github.com/Amund211/tickerlight/internal/constants"
	"github.com/Amund211/tickerlight/internal/domain"
	"github.com/Amund211/tickerlight/internal/logging"
	"github.com/Amund211/tickerlight/internal/ratelimiting"
	"github.com/Amund211/tickerlight/internal/reporting"
	"github.com/Amund211/tickerlight/internal/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const DefaultBaseURL = "https://financialmodelingprep.com"

// Upper bound on how long one request is expected to take, used to skip requests that would
// not finish before the caller's deadline
const maxRequestTime = 5 * time.Second

// Starter plan limit
const (
	requestLimit  = 300
	requestWindow = 1 * time.Minute
)

// Replaces the api key in urls that end up in error messages
const redactedAPIKey = "REDACTED"

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type RequestLimiter interface {
	Do(ctx context.Context, maxOperationTime time.Duration, op func(ctx context.Context) error) error
}

// DataProvider fetches the raw JSON document for one dataset of a symbol.
//
// A symbol the provider has no data for yields an empty document, not an error.
type DataProvider interface {
	Fetch(ctx context.Context, dataset domain.Dataset, symbol string) (json.RawMessage, error)
}

// endpointFor returns the path and query of the endpoint serving dataset
func endpointFor(dataset domain.Dataset, symbol string) (string, url.Values, bool) {
	pathSymbol := func(path string, query url.Values) (string, url.Values, bool) {
		return path + "/" + url.PathEscape(symbol), query, true
	}
	paramSymbol := func(path, param string, query url.Values) (string, url.Values, bool) {
		if query == nil {
			query = url.Values{}
		}
		query.Set(param, symbol)
		return path, query, true
	}

	switch dataset {
	case domain.DatasetProfile:
		return pathSymbol("/api/v3/profile", nil)
	case domain.DatasetQuote:
		return pathSymbol("/api/v3/quote", nil)
	case domain.DatasetIncomeStatement:
		return pathSymbol("/api/v3/income-statement", url.Values{"limit": {"5"}})
	case domain.DatasetBalanceSheet:
		return pathSymbol("/api/v3/balance-sheet-statement", url.Values{"limit": {"5"}})
	case domain.DatasetCashFlow:
		return pathSymbol("/api/v3/cash-flow-statement", url.Values{"limit": {"5"}})
	case domain.DatasetRatios:
		return pathSymbol("/api/v3/ratios", url.Values{"limit": {"5"}})
	case domain.DatasetKeyMetrics:
		return pathSymbol("/api/v3/key-metrics", url.Values{"limit": {"5"}})
	case domain.DatasetDCF:
		return pathSymbol("/api/v3/discounted-cash-flow", nil)
	case domain.DatasetFilings:
		return pathSymbol("/api/v3/sec_filings", url.Values{"limit": {"20"}})
	case domain.DatasetNews:
		return paramSymbol("/api/v3/stock_news", "tickers", url.Values{"limit": {"20"}})
	case domain.DatasetPeers:
		return paramSymbol("/api/v4/stock_peers", "symbol", nil)
	case domain.DatasetTranscripts:
		return paramSymbol("/api/v4/earning_call_transcript", "symbol", nil)
	default:
		return "", nil, false
	}
}

type fmpMetricsCollection struct {
	requestCount metric.Int64Counter
}

func setupFMPMetrics(meter metric.Meter) (fmpMetricsCollection, error) {
	requestCount, err := meter.Int64Counter("dataprovider/fmp/request_count")
	if err != nil {
		return fmpMetricsCollection{}, fmt.Errorf("failed to create request count metric: %w", err)
	}

	return fmpMetricsCollection{
		requestCount: requestCount,
	}, nil
}

type fmp struct {
	httpClient HttpClient
	limiter    RequestLimiter
	fetcher    *retry.Fetcher
	baseURL    string
	apiKey     string

	metrics fmpMetricsCollection
	tracer  trace.Tracer
}

func NewFMP(httpClient HttpClient, limiter RequestLimiter, fetcher *retry.Fetcher, baseURL string, apiKey string) (*fmp, error) {
	const name = "tickerlight/dataprovider/fmp"

	metrics, err := setupFMPMetrics(otel.Meter(name))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &fmp{
		httpClient: httpClient,
		limiter:    limiter,
		fetcher:    fetcher,
		baseURL:    baseURL,
		apiKey:     apiKey,

		metrics: metrics,
		tracer:  otel.Tracer(name),
	}, nil
}

func (p *fmp) Fetch(ctx context.Context, dataset domain.Dataset, symbol string) (json.RawMessage, error) {
	ctx, span := p.tracer.Start(ctx, "FMP.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("dataset", string(dataset)), attribute.String("symbol", symbol))

	path, query, ok := endpointFor(dataset, symbol)
	if !ok {
		err := fmt.Errorf("%w: no endpoint for dataset %s", domain.ErrClient, dataset)
		reporting.Report(ctx, err)
		return nil, err
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("apikey", redactedAPIKey)
	redactedURL := p.baseURL + path + "?" + query.Encode()
	query.Set("apikey", p.apiKey)
	requestURL := p.baseURL + path + "?" + query.Encode()

	start := time.Now()
	resp, err := p.fetcher.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", constants.USER_AGENT)

		var resp *http.Response
		err = p.limiter.Do(ctx, maxRequestTime, func(ctx context.Context) error {
			var err error
			resp, err = p.httpClient.Do(req)
			return redactURLError(err, redactedURL)
		})
		if errors.Is(err, ratelimiting.ErrDeadlineTooSoon) {
			return nil, fmt.Errorf("%w: %w", domain.ErrServer, err)
		}
		return resp, err
	})
	if err != nil {
		p.recordRequest(ctx, dataset, "error")
		return nil, fmt.Errorf("failed to fetch %s for %s: %w", dataset, symbol, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		p.recordRequest(ctx, dataset, "error")
		return nil, fmt.Errorf("%w: failed to read response body: %w", domain.ErrNetwork, err)
	}

	logging.FromContext(ctx).InfoContext(
		ctx,
		"FMP request completed",
		"dataset", dataset,
		"status", resp.StatusCode,
		"duration", time.Since(start).String(),
	)
	p.recordRequest(ctx, dataset, strconv.Itoa(resp.StatusCode))

	document, err := documentFromResponse(resp.StatusCode, data)
	if err != nil {
		if !errors.Is(err, domain.ErrClient) {
			reporting.Report(ctx, err, map[string]string{
				"dataset": string(dataset),
				"status":  strconv.Itoa(resp.StatusCode),
			})
		}
		return nil, err
	}
	return document, nil
}

func (p *fmp) recordRequest(ctx context.Context, dataset domain.Dataset, status string) {
	p.metrics.requestCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dataset", string(dataset)),
		attribute.String("status", status),
	))
}

type fmpErrorResponse struct {
	ErrorMessage string `json:"Error Message"`
}

// documentFromResponse classifies a completed response. Retryable statuses never get here.
func documentFromResponse(statusCode int, data []byte) (json.RawMessage, error) {
	if statusCode == http.StatusNotFound {
		return json.RawMessage("[]"), nil
	}

	if err := retry.ClassifyStatus(statusCode); err != nil {
		return nil, fmt.Errorf("FMP returned status %d: %w", statusCode, err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return json.RawMessage("[]"), nil
	}

	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: FMP returned invalid JSON", domain.ErrServer)
	}

	// Invalid keys and plan limits come back as 200 with an error document
	if trimmed[0] == '{' {
		var errorResponse fmpErrorResponse
		if err := json.Unmarshal(trimmed, &errorResponse); err == nil && errorResponse.ErrorMessage != "" {
			return nil, fmt.Errorf("%w: FMP error: %s", domain.ErrClient, errorResponse.ErrorMessage)
		}
	}

	return json.RawMessage(trimmed), nil
}

// NewFMPOrMock returns the real provider when an API key is configured, and canned data in
// development
func NewFMPOrMock(conf config.Config, httpClient HttpClient, fetcher *retry.Fetcher) (DataProvider, error) {
	if conf.FMPAPIKey() != "" {
		limiter, err := ratelimiting.NewWindowLimiter(requestLimit, requestWindow, time.Now, time.After)
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		return NewFMP(httpClient, limiter, fetcher, DefaultBaseURL, conf.FMPAPIKey())
	}
	if conf.IsDevelopment() {
		return NewMock(), nil
	}
	return nil, fmt.Errorf("missing FMP API key in non-development environment")
}

// Transport errors carry the request url, which includes the api key. Error messages reach
// logs, Sentry and API responses.
func redactURLError(err error, redactedURL string) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	return &url.Error{Op: urlErr.Op, URL: redactedURL, Err: urlErr.Err}
}

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Amund211/tickerlight/internal/cache"
	"github.com/Amund211/tickerlight/internal/domain"
	"github.com/Amund211/tickerlight/internal/logging"
	"github.com/Amund211/tickerlight/internal/orchestrator"
)

type ResolveDashboard func(ctx context.Context, o *orchestrator.Orchestrator, rawSymbol string) (orchestrator.AggregateResult, error)

type dataProvider interface {
	Fetch(ctx context.Context, dataset domain.Dataset, symbol string) (json.RawMessage, error)
}

type summarizer interface {
	Summarize(ctx context.Context, symbol string, profile json.RawMessage) (string, error)
}

// Shown in place of optional datasets that failed
var dashboardDefaults = map[string]any{
	string(domain.DatasetIncomeStatement): json.RawMessage("[]"),
	string(domain.DatasetBalanceSheet):    json.RawMessage("[]"),
	string(domain.DatasetCashFlow):        json.RawMessage("[]"),
	string(domain.DatasetRatios):          json.RawMessage("[]"),
	string(domain.DatasetKeyMetrics):      json.RawMessage("[]"),
	string(domain.DatasetDCF):             json.RawMessage("[]"),
	string(domain.DatasetNews):            json.RawMessage("[]"),
	string(domain.DatasetPeers):           json.RawMessage("[]"),
	string(domain.DatasetTranscripts):     json.RawMessage("[]"),
	string(domain.DatasetFilings):         json.RawMessage("[]"),
	string(domain.DatasetAISummary):       "",
}

// BuildResolveDashboard resolves every dataset of a symbol through the cache.
//
// ttls overrides domain.Dataset.DefaultTTL per dataset.
func BuildResolveDashboard(
	store *cache.Store,
	provider dataProvider,
	summarizer summarizer,
	ttls map[domain.Dataset]time.Duration,
) ResolveDashboard {
	ttlFor := func(dataset domain.Dataset) time.Duration {
		if ttl, ok := ttls[dataset]; ok {
			return ttl
		}
		return dataset.DefaultTTL()
	}

	cachedDocument := func(symbol string, dataset domain.Dataset, fetch func(ctx context.Context) (json.RawMessage, error)) orchestrator.Producer {
		return func(ctx context.Context) (any, error) {
			return cache.GetOrFetch(ctx, store, dataset.CacheKey(symbol), ttlFor(dataset), fetch)
		}
	}

	return func(ctx context.Context, o *orchestrator.Orchestrator, rawSymbol string) (orchestrator.AggregateResult, error) {
		symbol, err := domain.NormalizeSymbol(rawSymbol)
		if err != nil {
			return orchestrator.AggregateResult{}, err
		}
		ctx = logging.AddMetaToContext(ctx, slog.String("symbol", symbol))

		// Written by the profile producer during the required phase, read by the summary
		// producer during the optional phase
		var profile json.RawMessage

		required := map[string]orchestrator.Producer{}
		optional := map[string]orchestrator.Producer{}

		required[string(domain.DatasetProfile)] = func(ctx context.Context) (any, error) {
			document, err := cache.GetOrFetch(ctx, store, domain.DatasetProfile.CacheKey(symbol), ttlFor(domain.DatasetProfile), func(ctx context.Context) (json.RawMessage, error) {
				document, err := provider.Fetch(ctx, domain.DatasetProfile, symbol)
				if err != nil {
					return nil, err
				}
				// Not cached, the symbol may be listed later
				if orchestrator.IsEmpty(document) {
					return nil, fmt.Errorf("%w: %s", domain.ErrUnknownSymbol, symbol)
				}
				return document, nil
			})
			if err != nil {
				return nil, err
			}
			profile = document
			return document, nil
		}

		for _, dataset := range domain.RequiredDatasets {
			if dataset == domain.DatasetProfile {
				continue
			}
			required[string(dataset)] = cachedDocument(symbol, dataset, func(ctx context.Context) (json.RawMessage, error) {
				return provider.Fetch(ctx, dataset, symbol)
			})
		}

		for _, dataset := range domain.OptionalDatasets {
			if dataset == domain.DatasetAISummary {
				continue
			}
			optional[string(dataset)] = cachedDocument(symbol, dataset, func(ctx context.Context) (json.RawMessage, error) {
				return provider.Fetch(ctx, dataset, symbol)
			})
		}

		optional[string(domain.DatasetAISummary)] = func(ctx context.Context) (any, error) {
			return cache.GetOrFetch(ctx, store, domain.DatasetAISummary.CacheKey(symbol), ttlFor(domain.DatasetAISummary), func(ctx context.Context) (string, error) {
				return summarizer.Summarize(ctx, symbol, profile)
			})
		}

		result, err := o.Run(ctx, symbol, required, optional, dashboardDefaults)
		if err != nil {
			return orchestrator.AggregateResult{}, fmt.Errorf("failed to resolve dashboard for %s: %w", symbol, err)
		}
		return result, nil
	}
}

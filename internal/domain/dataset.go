package domain

import "time"

// Dataset names one category of data shown on the dashboard for a symbol
type Dataset string

const (
	DatasetProfile         Dataset = "profile"
	DatasetQuote           Dataset = "quote"
	DatasetIncomeStatement Dataset = "income_statement"
	DatasetBalanceSheet    Dataset = "balance_sheet"
	DatasetCashFlow        Dataset = "cash_flow"
	DatasetRatios          Dataset = "ratios"
	DatasetKeyMetrics      Dataset = "key_metrics"
	DatasetDCF             Dataset = "dcf"
	DatasetNews            Dataset = "news"
	DatasetPeers           Dataset = "peers"
	DatasetTranscripts     Dataset = "transcripts"
	DatasetFilings         Dataset = "filings"
	DatasetAISummary       Dataset = "ai_summary"
)

// RequiredDatasets gate the dashboard. Without them nothing is shown.
var RequiredDatasets = []Dataset{
	DatasetProfile,
	DatasetQuote,
}

var OptionalDatasets = []Dataset{
	DatasetIncomeStatement,
	DatasetBalanceSheet,
	DatasetCashFlow,
	DatasetRatios,
	DatasetKeyMetrics,
	DatasetDCF,
	DatasetNews,
	DatasetPeers,
	DatasetTranscripts,
	DatasetFilings,
	DatasetAISummary,
}

// DefaultTTL is how long a dataset stays fresh in the cache
func (d Dataset) DefaultTTL() time.Duration {
	switch d {
	case DatasetQuote:
		return 1 * time.Minute
	case DatasetNews:
		return 15 * time.Minute
	case DatasetProfile, DatasetPeers, DatasetDCF:
		return 24 * time.Hour
	case DatasetAISummary:
		return 12 * time.Hour
	case DatasetIncomeStatement, DatasetBalanceSheet, DatasetCashFlow, DatasetRatios, DatasetKeyMetrics,
		DatasetTranscripts, DatasetFilings:
		return 7 * 24 * time.Hour
	default:
		return 1 * time.Hour
	}
}

// CacheKey is the cache key of the dataset for an already normalized symbol
func (d Dataset) CacheKey(symbol string) string {
	return string(d) + ":" + symbol
}

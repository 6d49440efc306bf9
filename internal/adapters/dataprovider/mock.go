package dataprovider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Amund211/tickerlight/internal/domain"
)

type mock struct{}

// NewMock returns a provider serving small canned documents for any symbol
func NewMock() DataProvider {
	return &mock{}
}

func (m *mock) Fetch(ctx context.Context, dataset domain.Dataset, symbol string) (json.RawMessage, error) {
	switch dataset {
	case domain.DatasetProfile:
		return json.RawMessage(fmt.Sprintf(`[{"symbol":%q,"companyName":"%s Inc.","currency":"USD","exchangeShortName":"NASDAQ","sector":"Technology","description":"Mocked company profile for %s."}]`, symbol, symbol, symbol)), nil
	case domain.DatasetQuote:
		return json.RawMessage(fmt.Sprintf(`[{"symbol":%q,"price":123.45,"changesPercentage":1.23,"marketCap":1000000000}]`, symbol)), nil
	case domain.DatasetIncomeStatement, domain.DatasetBalanceSheet, domain.DatasetCashFlow,
		domain.DatasetRatios, domain.DatasetKeyMetrics:
		return json.RawMessage(fmt.Sprintf(`[{"symbol":%q,"date":"2024-12-31","period":"FY"}]`, symbol)), nil
	case domain.DatasetDCF:
		return json.RawMessage(fmt.Sprintf(`[{"symbol":%q,"dcf":150.5,"Stock Price":123.45}]`, symbol)), nil
	case domain.DatasetNews:
		return json.RawMessage(fmt.Sprintf(`[{"symbol":%q,"title":"Mocked headline","site":"example.com"}]`, symbol)), nil
	case domain.DatasetPeers:
		return json.RawMessage(fmt.Sprintf(`[{"symbol":%q,"peersList":["MOCK1","MOCK2"]}]`, symbol)), nil
	case domain.DatasetTranscripts, domain.DatasetFilings:
		return json.RawMessage("[]"), nil
	default:
		return nil, fmt.Errorf("%w: no mocked data for dataset %s", domain.ErrClient, dataset)
	}
}

package facades

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sbilibin2017/gw-deposit-settler/internal/logger"
	"github.com/sbilibin2017/gw-deposit-settler/internal/models"
	"github.com/shopspring/decimal"
)

// exchangeRateResponse is the body of GET /exchange_rate.
type exchangeRateResponse struct {
	ExchangeRate decimal.Decimal `json:"exchangeRate"`
	USDAmount    decimal.Decimal `json:"usdAmount"`
	StatusText   string          `json:"statusText"`
}

// ExchangeRateHTTPFacade converts deposit amounts into the settlement currency
// using the financial service over HTTP.
type ExchangeRateHTTPFacade struct {
	client  *http.Client
	baseURL string
}

// NewExchangeRateHTTPFacade creates a new facade. baseURL is the scheme and host
// of the financial service, e.g. http://financial:8082.
func NewExchangeRateHTTPFacade(client *http.Client, baseURL string) *ExchangeRateHTTPFacade {
	if client == nil {
		client = http.DefaultClient
	}
	return &ExchangeRateHTTPFacade{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Convert returns amount expressed in the settlement currency.
// The provider's floating point usdAmount is ignored; the amount is recomputed
// from the rate in fixed point and rounded to minor units.
func (f *ExchangeRateHTTPFacade) Convert(ctx context.Context, amount decimal.Decimal, currency string) (models.Conversion, error) {
	q := url.Values{}
	q.Set("amount", amount.String())
	q.Set("currency", currency)
	endpoint := f.baseURL + "/exchange_rate?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.Conversion{}, fmt.Errorf("build exchange rate request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		logger.Log.Errorw("failed to fetch exchange rate", "currency", currency, "error", err)
		return models.Conversion{}, fmt.Errorf("fetch exchange rate: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Conversion{}, fmt.Errorf("read exchange rate response: %w", err)
	}

	var payload exchangeRateResponse
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		_ = json.Unmarshal(body, &payload)
		logger.Log.Warnw("exchange rate service rejected currency",
			"currency", currency, "status", resp.StatusCode, "status_text", payload.StatusText)
		return models.Conversion{}, fmt.Errorf("%w: %s %s", models.ErrUnsupportedCurrency, currency, payload.StatusText)
	case resp.StatusCode != http.StatusOK:
		logger.Log.Errorw("unexpected exchange rate status", "currency", currency, "status", resp.StatusCode)
		return models.Conversion{}, fmt.Errorf("exchange rate service: unexpected status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return models.Conversion{}, fmt.Errorf("decode exchange rate response: %w", err)
	}
	if !payload.ExchangeRate.IsPositive() {
		return models.Conversion{}, fmt.Errorf("exchange rate service: invalid rate %s for %s", payload.ExchangeRate, currency)
	}

	settled := amount.Div(payload.ExchangeRate).Round(models.MinorUnitScale)

	logger.Log.Debugw("converted deposit amount",
		"currency", currency, "amount", amount, "rate", payload.ExchangeRate,
		"settled", settled, "provider_amount", payload.USDAmount)

	return models.Conversion{Rate: payload.ExchangeRate, Amount: settled}, nil
}

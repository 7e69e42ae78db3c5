package facades

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sbilibin2017/gw-deposit-settler/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRateServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestConvert_Success(t *testing.T) {
	var gotAmount, gotCurrency string
	srv := newRateServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exchange_rate", r.URL.Path)
		gotAmount = r.URL.Query().Get("amount")
		gotCurrency = r.URL.Query().Get("currency")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"exchangeRate":0.83,"usdAmount":120.48192771084337}`))
	})

	facade := NewExchangeRateHTTPFacade(srv.Client(), srv.URL+"/")
	conv, err := facade.Convert(context.Background(), decimal.RequireFromString("100"), "EUR")
	require.NoError(t, err)

	assert.Equal(t, "100", gotAmount)
	assert.Equal(t, "EUR", gotCurrency)
	assert.True(t, conv.Rate.Equal(decimal.RequireFromString("0.83")))
	assert.Equal(t, "120.48", conv.Amount.StringFixed(2))
}

func TestConvert_UnitRate(t *testing.T) {
	srv := newRateServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"exchangeRate":1,"usdAmount":1000}`))
	})

	facade := NewExchangeRateHTTPFacade(srv.Client(), srv.URL)
	conv, err := facade.Convert(context.Background(), decimal.NewFromInt(1000), "USD")
	require.NoError(t, err)
	assert.True(t, conv.Amount.Equal(decimal.NewFromInt(1000)))
}

func TestConvert_NegativeAmountPassesThrough(t *testing.T) {
	srv := newRateServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "-50", r.URL.Query().Get("amount"))
		_, _ = w.Write([]byte(`{"exchangeRate":1,"usdAmount":-50}`))
	})

	facade := NewExchangeRateHTTPFacade(srv.Client(), srv.URL)
	conv, err := facade.Convert(context.Background(), decimal.NewFromInt(-50), "USD")
	require.NoError(t, err)
	assert.True(t, conv.Amount.Equal(decimal.NewFromInt(-50)))
}

func TestConvert_UnsupportedCurrency(t *testing.T) {
	srv := newRateServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"statusText":"Currency XYZ is not supported"}`))
	})

	facade := NewExchangeRateHTTPFacade(srv.Client(), srv.URL)
	_, err := facade.Convert(context.Background(), decimal.NewFromInt(10), "XYZ")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnsupportedCurrency)
}

func TestConvert_ServerError(t *testing.T) {
	srv := newRateServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	facade := NewExchangeRateHTTPFacade(srv.Client(), srv.URL)
	_, err := facade.Convert(context.Background(), decimal.NewFromInt(10), "EUR")
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrUnsupportedCurrency)
}

func TestConvert_InvalidBody(t *testing.T) {
	srv := newRateServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})

	facade := NewExchangeRateHTTPFacade(srv.Client(), srv.URL)
	_, err := facade.Convert(context.Background(), decimal.NewFromInt(10), "EUR")
	assert.Error(t, err)
}

func TestConvert_ZeroRate(t *testing.T) {
	srv := newRateServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"exchangeRate":0,"usdAmount":0}`))
	})

	facade := NewExchangeRateHTTPFacade(srv.Client(), srv.URL)
	_, err := facade.Convert(context.Background(), decimal.NewFromInt(10), "EUR")
	assert.Error(t, err)
}

func TestConvert_Timeout(t *testing.T) {
	srv := newRateServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	facade := NewExchangeRateHTTPFacade(srv.Client(), srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := facade.Convert(ctx, decimal.NewFromInt(10), "EUR")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewExchangeRateHTTPFacade_DefaultClient(t *testing.T) {
	facade := NewExchangeRateHTTPFacade(nil, "http://financial:8082/")
	assert.Equal(t, http.DefaultClient, facade.client)
	assert.Equal(t, "http://financial:8082", facade.baseURL)
}

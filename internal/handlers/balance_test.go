package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang/mock/gomock"
	"github.com/sbilibin2017/gw-deposit-settler/internal/middlewares"
	"github.com/sbilibin2017/gw-deposit-settler/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBalanceRouter(tokener middlewares.Tokener, reader BalanceReader) http.Handler {
	r := chi.NewRouter()
	r.With(middlewares.AuthMiddleware(tokener)).Get("/accounts/{email}/balance", NewGetBalanceHandler(reader))
	return r
}

func TestGetBalanceHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTokener := middlewares.NewMockTokener(ctrl)
	mockReader := NewMockBalanceReader(ctrl)

	token := "valid-token"
	email := "demo@example.com"

	tests := []struct {
		name           string
		path           string
		setupMocks     func()
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "successful balance fetch",
			path: "/accounts/demo@example.com/balance",
			setupMocks: func() {
				mockTokener.EXPECT().GetTokenFromRequest(gomock.Any(), gomock.Any()).Return(token, nil)
				mockTokener.EXPECT().GetSubject(gomock.Any(), token).Return(email, nil)
				mockReader.EXPECT().Get(gomock.Any(), email).
					Return(decimal.RequireFromString("1250.5"), true, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"email":"demo@example.com","balance":1250.50}`,
		},
		{
			name: "escaped account in path",
			path: "/accounts/demo%40example.com/balance",
			setupMocks: func() {
				mockTokener.EXPECT().GetTokenFromRequest(gomock.Any(), gomock.Any()).Return(token, nil)
				mockTokener.EXPECT().GetSubject(gomock.Any(), token).Return(email, nil)
				mockReader.EXPECT().Get(gomock.Any(), email).Return(decimal.NewFromInt(7), true, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"email":"demo@example.com","balance":7.00}`,
		},
		{
			name: "absent account reports zero",
			path: "/accounts/demo@example.com/balance",
			setupMocks: func() {
				mockTokener.EXPECT().GetTokenFromRequest(gomock.Any(), gomock.Any()).Return(token, nil)
				mockTokener.EXPECT().GetSubject(gomock.Any(), token).Return(email, nil)
				mockReader.EXPECT().Get(gomock.Any(), email).Return(decimal.Zero, false, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"email":"demo@example.com","balance":0.00}`,
		},
		{
			name: "unauthorized missing token",
			path: "/accounts/demo@example.com/balance",
			setupMocks: func() {
				mockTokener.EXPECT().GetTokenFromRequest(gomock.Any(), gomock.Any()).
					Return("", errors.New("no token"))
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "forbidden for another account",
			path: "/accounts/other@example.com/balance",
			setupMocks: func() {
				mockTokener.EXPECT().GetTokenFromRequest(gomock.Any(), gomock.Any()).Return(token, nil)
				mockTokener.EXPECT().GetSubject(gomock.Any(), token).Return(email, nil)
			},
			expectedStatus: http.StatusForbidden,
			expectedBody:   `{"error":"Forbidden"}`,
		},
		{
			name: "internal server error from store",
			path: "/accounts/demo@example.com/balance",
			setupMocks: func() {
				mockTokener.EXPECT().GetTokenFromRequest(gomock.Any(), gomock.Any()).Return(token, nil)
				mockTokener.EXPECT().GetSubject(gomock.Any(), token).Return(email, nil)
				mockReader.EXPECT().Get(gomock.Any(), email).Return(decimal.Zero, false, errors.New("db error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"error":"Internal server error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setupMocks()

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rr := httptest.NewRecorder()

			newBalanceRouter(mockTokener, mockReader).ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedBody != "" {
				assert.JSONEq(t, tt.expectedBody, rr.Body.String())
			}
		})
	}
}

func TestGetBalanceHandler_WithoutAuthMiddleware(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	r := chi.NewRouter()
	r.Get("/accounts/{email}/balance", NewGetBalanceHandler(NewMockBalanceReader(ctrl)))

	req := httptest.NewRequest(http.MethodGet, "/accounts/demo@example.com/balance", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Unauthorized", resp.Error)
}

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHealthHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

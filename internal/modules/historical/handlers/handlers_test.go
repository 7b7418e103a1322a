package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantfolio/internal/modules/historical"
	testutil "github.com/aristath/quantfolio/internal/testing"
)

func setupRouter(t *testing.T) (*chi.Mux, *historical.HistoryDB) {
	t.Helper()
	db, cleanup := testutil.NewTestDB(t, "history")
	t.Cleanup(cleanup)

	logger := zerolog.New(nil).Level(zerolog.Disabled)
	historyDB := historical.NewHistoryDB(db.Conn(), logger)
	handler := NewHandler(historyDB, logger)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return router, historyDB
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response), w.Body.String())
	return w, response
}

func seed(t *testing.T, router http.Handler) {
	t.Helper()
	series := map[string][]float64{
		"AAA": {100, 110, 99, 120, 118},
		"BBB": {50, 55, 56, 44, 47},
	}
	for asset, closes := range series {
		prices := make([]map[string]interface{}, len(closes))
		for i, c := range closes {
			prices[i] = map[string]interface{}{
				"date":  testutil.FixtureStart.AddDate(0, 0, i).Format(dateLayout),
				"close": c,
			}
		}
		w, _ := do(t, router, http.MethodPost, "/history/prices", map[string]interface{}{
			"asset":  asset,
			"prices": prices,
		})
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestHandleSyncPrices(t *testing.T) {
	router, _ := setupRouter(t)

	w, response := do(t, router, http.MethodPost, "/history/prices", map[string]interface{}{
		"asset": "AAA",
		"prices": []map[string]interface{}{
			{"date": "2024-01-01", "close": 100},
			{"date": "2024-01-02", "close": 101, "adjusted_close": 100.5},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	data := response["data"].(map[string]interface{})
	assert.Equal(t, "AAA", data["asset"])
	assert.Equal(t, float64(2), data["count"])

	w, response = do(t, router, http.MethodGet, "/history/prices/AAA?start=2023-12-01&end=2024-02-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data = response["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["count"])
	prices := data["prices"].([]interface{})
	second := prices[1].(map[string]interface{})
	assert.Equal(t, 100.5, second["adjusted_close"])
}

func TestHandleSyncPrices_Validation(t *testing.T) {
	router, _ := setupRouter(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing asset", map[string]interface{}{"prices": []map[string]interface{}{{"date": "2024-01-01", "close": 1}}}},
		{"no prices", map[string]interface{}{"asset": "AAA", "prices": []map[string]interface{}{}}},
		{"bad date", map[string]interface{}{"asset": "AAA", "prices": []map[string]interface{}{{"date": "Jan 1", "close": 1}}}},
		{"negative close", map[string]interface{}{"asset": "AAA", "prices": []map[string]interface{}{{"date": "2024-01-01", "close": -1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, response := do(t, router, http.MethodPost, "/history/prices", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, response["error"])
		})
	}
}

func TestHandleUpsertMarketCaps(t *testing.T) {
	router, historyDB := setupRouter(t)

	w, _ := do(t, router, http.MethodPost, "/history/market-caps", map[string]interface{}{
		"as_of": "2024-06-30",
		"caps":  map[string]float64{"AAA": 3e9, "BBB": 1e9},
	})
	require.Equal(t, http.StatusOK, w.Code)

	weights, err := historyDB.GetMarketCapWeights(context.Background(), []string{"AAA", "BBB"})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, weights["AAA"], 1e-12)

	w, _ = do(t, router, http.MethodPost, "/history/market-caps", map[string]interface{}{
		"as_of": "2024-06-30",
		"caps":  map[string]float64{"AAA": 0},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetReturns(t *testing.T) {
	router, _ := setupRouter(t)
	seed(t, router)

	w, response := do(t, router, http.MethodGet, "/history/returns?assets=AAA,BBB&start=2023-12-01&end=2024-02-01", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	data := response["data"].(map[string]interface{})
	assert.Equal(t, "daily", data["frequency"])
	returns := data["returns"].(map[string]interface{})
	aaa := returns["AAA"].([]interface{})
	require.Len(t, aaa, 4)
	assert.InDelta(t, 0.1, aaa[0].(float64), 1e-12)
}

func TestHandleGetReturns_Errors(t *testing.T) {
	router, _ := setupRouter(t)
	seed(t, router)

	tests := []struct {
		name string
		path string
	}{
		{"missing assets", "/history/returns?start=2023-12-01&end=2024-02-01"},
		{"duplicate assets", "/history/returns?assets=AAA,AAA&start=2023-12-01&end=2024-02-01"},
		{"bad start", "/history/returns?assets=AAA&start=yesterday"},
		{"reversed range", "/history/returns?assets=AAA&start=2024-02-01&end=2023-12-01"},
		{"unknown asset", "/history/returns?assets=AAA,ZZZ&start=2023-12-01&end=2024-02-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, response := do(t, router, http.MethodGet, tt.path, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, response["error"])
		})
	}
}

func TestHandleGetCorrelationMatrix(t *testing.T) {
	router, _ := setupRouter(t)
	seed(t, router)

	w, response := do(t, router, http.MethodGet, "/history/returns/correlation-matrix?assets=AAA,BBB&start=2023-12-01&end=2024-02-01", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	data := response["data"].(map[string]interface{})
	matrix := data["matrix"].([]interface{})
	require.Len(t, matrix, 2)
	row0 := matrix[0].([]interface{})
	row1 := matrix[1].([]interface{})
	assert.InDelta(t, 1.0, row0[0].(float64), 1e-9)
	assert.InDelta(t, row0[1].(float64), row1[0].(float64), 1e-12)
	assert.LessOrEqual(t, row0[1].(float64), 1.0)
	assert.GreaterOrEqual(t, row0[1].(float64), -1.0)
}

func TestRegisterRoutes(t *testing.T) {
	router, _ := setupRouter(t)

	testCases := []struct {
		method string
		path   string
	}{
		{"POST", "/history/prices"},
		{"POST", "/history/market-caps"},
		{"GET", "/history/prices/AAA"},
		{"GET", "/history/returns"},
		{"GET", "/history/returns/correlation-matrix"},
	}
	for _, tc := range testCases {
		req := httptest.NewRequest(tc.method, tc.path, bytes.NewReader([]byte("{}")))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.NotEqual(t, http.StatusNotFound, w.Code, "%s %s should be routed", tc.method, tc.path)
		assert.NotEqual(t, http.StatusMethodNotAllowed, w.Code, "%s %s should be routed", tc.method, tc.path)
	}
}

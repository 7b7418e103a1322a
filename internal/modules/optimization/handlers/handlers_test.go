package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantfolio/internal/modules/optimization"
)

// sineReturns is a deterministic ReturnsProvider.
type sineReturns struct{}

func (sineReturns) GetHistoricalReturns(_ context.Context, assets []string, _, _ time.Time) (optimization.ReturnSeries, error) {
	out := optimization.ReturnSeries{Frequency: optimization.FrequencyDaily, Returns: map[string][]float64{}}
	for k, a := range assets {
		r := make([]float64, 90)
		for t := range r {
			r[t] = 0.0002*float64(k+1) +
				0.003*math.Sin(float64(t)*0.41) +
				0.005*math.Sin(float64(t)*(0.13+0.05*float64(k))+float64(k))
		}
		out.Returns[a] = r
	}
	return out, nil
}

// failingOptimizer returns a fixed error from every run.
type failingOptimizer struct {
	err error
}

func (f failingOptimizer) RunBlackLitterman(context.Context, []string, optimization.Views, optimization.Constraints, time.Time, time.Time) (*optimization.BlackLittermanModel, error) {
	return nil, f.err
}

func (f failingOptimizer) RunRiskParity(context.Context, []string, optimization.Constraints, time.Time, time.Time) (*optimization.RiskParityPortfolio, error) {
	return nil, f.err
}

func (f failingOptimizer) RunHRP(context.Context, []string, optimization.Constraints, time.Time, time.Time) (*optimization.HierarchicalRiskParity, error) {
	return nil, f.err
}

func (f failingOptimizer) RunMinimumVariance(context.Context, []string, optimization.Constraints, time.Time, time.Time) (*optimization.MinimumVariancePortfolio, error) {
	return nil, f.err
}

func (f failingOptimizer) CompareAll(context.Context, []string, optimization.Constraints, time.Time, time.Time) ([]optimization.Ranking, error) {
	return nil, f.err
}

func (f failingOptimizer) Options() optimization.ServiceOptions {
	return optimization.ServiceOptions{}
}

func setupRouter(t *testing.T, service Optimizer) *chi.Mux {
	t.Helper()
	handler := NewHandler(service, zerolog.Nop())
	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return router
}

func newService() *optimization.OptimizerService {
	return optimization.NewOptimizerService(sineReturns{}, nil, nil, nil, optimization.ServiceOptions{}, zerolog.Nop())
}

func post(t *testing.T, router http.Handler, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response), w.Body.String())
	return w, response
}

func baseRequest() map[string]interface{} {
	return map[string]interface{}{
		"assets": []string{"AAA", "BBB", "CCC"},
		"start":  "2024-01-01",
		"end":    "2024-06-30",
	}
}

func TestRegisterRoutes(t *testing.T) {
	router := chi.NewRouter()
	handler := NewHandler(newService(), zerolog.Nop())

	assert.NotPanics(t, func() {
		handler.RegisterRoutes(router)
	}, "RegisterRoutes should not panic")

	testCases := []struct {
		method string
		path   string
	}{
		{"GET", "/optimizer/"},
		{"POST", "/optimizer/black-litterman"},
		{"POST", "/optimizer/risk-parity"},
		{"POST", "/optimizer/hrp"},
		{"POST", "/optimizer/min-variance"},
		{"POST", "/optimizer/compare"},
	}
	for _, tc := range testCases {
		req := httptest.NewRequest(tc.method, tc.path, bytes.NewReader([]byte("{}")))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.NotEqual(t, http.StatusNotFound, w.Code, "%s %s should be routed", tc.method, tc.path)
		assert.NotEqual(t, http.StatusMethodNotAllowed, w.Code, "%s %s should be routed", tc.method, tc.path)
	}
}

func TestHandleGetStatus(t *testing.T) {
	router := setupRouter(t, newService())

	req := httptest.NewRequest(http.MethodGet, "/optimizer/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	data := response["data"].(map[string]interface{})
	assert.Len(t, data["methods"], 4)
	assert.Contains(t, response, "metadata")

	engines := data["engines"].(map[string]interface{})
	bl := engines["black_litterman"].(map[string]interface{})
	assert.Equal(t, 2.5, bl["risk_aversion"])
}

func TestHandleMethods(t *testing.T) {
	router := setupRouter(t, newService())

	paths := []string{
		"/optimizer/black-litterman",
		"/optimizer/risk-parity",
		"/optimizer/hrp",
		"/optimizer/min-variance",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			w, response := post(t, router, path, baseRequest())
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			data := response["data"].(map[string]interface{})
			assert.NotEmpty(t, data["run_id"])
			weights := data["weights"].(map[string]interface{})
			sum := 0.0
			for _, v := range weights {
				sum += v.(float64)
			}
			assert.InDelta(t, 1.0, sum, 1e-6)
		})
	}
}

func TestHandleBlackLitterman_WithViews(t *testing.T) {
	router := setupRouter(t, newService())

	body := baseRequest()
	body["views"] = map[string]float64{"AAA": 0.3}
	body["confidences"] = map[string]float64{"AAA": 1}
	w, response := post(t, router, "/optimizer/black-litterman", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	data := response["data"].(map[string]interface{})
	posterior := data["posterior_returns"].(map[string]interface{})
	assert.InDelta(t, 0.3, posterior["AAA"].(float64), 1e-9)
}

func TestHandleBlackLitterman_InvalidView(t *testing.T) {
	router := setupRouter(t, newService())

	body := baseRequest()
	body["views"] = map[string]float64{"AAA": 0.3}
	w, response := post(t, router, "/optimizer/black-litterman", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, response["error"], "missing confidence")
}

func TestHandleCompare(t *testing.T) {
	router := setupRouter(t, newService())

	w, response := post(t, router, "/optimizer/compare", baseRequest())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	data := response["data"].(map[string]interface{})
	assert.Equal(t, float64(4), data["count"])
	rankings := data["rankings"].([]interface{})
	first := rankings[0].(map[string]interface{})
	assert.Equal(t, float64(1), first["rank"])
}

func TestHandleConstraints(t *testing.T) {
	router := setupRouter(t, newService())

	body := baseRequest()
	body["constraints"] = map[string]interface{}{"max_weight": 0.2}
	w, response := post(t, router, "/optimizer/min-variance", body)
	require.Equal(t, http.StatusOK, w.Code)

	data := response["data"].(map[string]interface{})
	assert.Equal(t, false, data["success"], "three assets cannot reach 100% at 20% each")
}

func TestHandleRequestValidation(t *testing.T) {
	router := setupRouter(t, newService())

	tests := []struct {
		name   string
		modify func(map[string]interface{})
	}{
		{"missing assets", func(b map[string]interface{}) { delete(b, "assets") }},
		{"empty assets", func(b map[string]interface{}) { b["assets"] = []string{} }},
		{"duplicate assets", func(b map[string]interface{}) { b["assets"] = []string{"AAA", "AAA"} }},
		{"bad date", func(b map[string]interface{}) { b["start"] = "01/02/2024" }},
		{"reversed dates", func(b map[string]interface{}) { b["start"], b["end"] = "2024-06-30", "2024-01-01" }},
		{"bad constraints", func(b map[string]interface{}) {
			b["constraints"] = map[string]interface{}{"min_weight": 0.8, "max_weight": 0.1}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := baseRequest()
			tt.modify(body)
			w, response := post(t, router, "/optimizer/hrp", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, response["error"])
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/optimizer/hrp", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"singular", &optimization.SingularMatrixError{Operation: "test"}, http.StatusUnprocessableEntity},
		{"insufficient data", &optimization.InsufficientDataError{Asset: "AAA"}, http.StatusBadRequest},
		{"infeasible", optimization.ErrInfeasibleConstraints, http.StatusBadRequest},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouter(t, failingOptimizer{err: tt.err})
			w, response := post(t, router, "/optimizer/risk-parity", baseRequest())
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.err.Error(), response["error"])
		})
	}
}

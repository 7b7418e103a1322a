// Package handlers provides HTTP handlers for historical data operations.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/aristath/quantfolio/internal/modules/historical"
	"github.com/aristath/quantfolio/internal/modules/optimization"
	"github.com/aristath/quantfolio/pkg/formulas"
)

const dateLayout = "2006-01-02"

// Handler handles historical data HTTP requests
type Handler struct {
	historyDB *historical.HistoryDB
	validate  *validator.Validate
	log       zerolog.Logger
}

// NewHandler creates a new historical data handler
func NewHandler(historyDB *historical.HistoryDB, log zerolog.Logger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		historyDB: historyDB,
		validate:  v,
		log:       log.With().Str("handler", "historical").Logger(),
	}
}

type syncPricesRequest struct {
	Asset  string                  `json:"asset" validate:"required"`
	Prices []historical.DailyPrice `json:"prices" validate:"required,min=1,dive"`
}

type marketCapsRequest struct {
	AsOf string             `json:"as_of" validate:"required,datetime=2006-01-02"`
	Caps map[string]float64 `json:"caps" validate:"required,min=1,dive,keys,required,endkeys,gt=0"`
}

// HandleSyncPrices handles POST /api/history/prices
func (h *Handler) HandleSyncPrices(w http.ResponseWriter, r *http.Request) {
	var req syncPricesRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.historyDB.SyncHistoricalPrices(req.Asset, req.Prices); err != nil {
		h.log.Error().Err(err).Str("asset", req.Asset).Msg("Failed to sync prices")
		h.writeJSON(w, r, http.StatusInternalServerError, errorBody("Failed to sync prices"))
		return
	}

	h.writeJSON(w, r, http.StatusOK, envelope(map[string]interface{}{
		"asset": req.Asset,
		"count": len(req.Prices),
	}))
}

// HandleUpsertMarketCaps handles POST /api/history/market-caps
func (h *Handler) HandleUpsertMarketCaps(w http.ResponseWriter, r *http.Request) {
	var req marketCapsRequest
	if !h.decode(w, r, &req) {
		return
	}

	asOf, _ := time.Parse(dateLayout, req.AsOf)
	if err := h.historyDB.UpsertMarketCaps(req.Caps, asOf); err != nil {
		h.log.Error().Err(err).Msg("Failed to store market caps")
		h.writeJSON(w, r, http.StatusInternalServerError, errorBody("Failed to store market caps"))
		return
	}

	h.writeJSON(w, r, http.StatusOK, envelope(map[string]interface{}{
		"as_of": req.AsOf,
		"count": len(req.Caps),
	}))
}

// HandleGetDailyPrices handles GET /api/history/prices/{asset}?start=&end=
func (h *Handler) HandleGetDailyPrices(w http.ResponseWriter, r *http.Request, asset string) {
	start, end, err := parseRange(r)
	if err != nil {
		h.writeJSON(w, r, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	prices, err := h.historyDB.GetDailyPrices(r.Context(), asset, start, end)
	if err != nil {
		h.log.Error().Err(err).Str("asset", asset).Msg("Failed to get daily prices")
		h.writeJSON(w, r, http.StatusInternalServerError, errorBody("Failed to get daily prices"))
		return
	}
	if prices == nil {
		prices = []historical.DailyPrice{}
	}

	h.writeJSON(w, r, http.StatusOK, envelope(map[string]interface{}{
		"asset":  asset,
		"prices": prices,
		"count":  len(prices),
	}))
}

// HandleGetReturns handles GET /api/history/returns?assets=A,B&start=&end=
func (h *Handler) HandleGetReturns(w http.ResponseWriter, r *http.Request) {
	assets, start, end, ok := h.parseSeriesQuery(w, r)
	if !ok {
		return
	}

	series, err := h.historyDB.GetHistoricalReturns(r.Context(), assets, start, end)
	if err != nil {
		h.writeSeriesError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, envelope(map[string]interface{}{
		"frequency": series.Frequency,
		"returns":   series.Returns,
	}))
}

// HandleGetCorrelationMatrix handles GET /api/history/returns/correlation-matrix
func (h *Handler) HandleGetCorrelationMatrix(w http.ResponseWriter, r *http.Request) {
	assets, start, end, ok := h.parseSeriesQuery(w, r)
	if !ok {
		return
	}

	series, err := h.historyDB.GetHistoricalReturns(r.Context(), assets, start, end)
	if err != nil {
		h.writeSeriesError(w, r, err)
		return
	}

	est, err := optimization.Estimate(series, assets, optimization.EstimatorOptions{})
	if err != nil {
		h.writeSeriesError(w, r, err)
		return
	}

	corr, err := formulas.CorrelationMatrixFromCovariance(est.Covariance)
	if err != nil {
		h.writeJSON(w, r, http.StatusUnprocessableEntity, errorBody(err.Error()))
		return
	}

	h.writeJSON(w, r, http.StatusOK, envelope(map[string]interface{}{
		"assets": assets,
		"matrix": corr,
	}))
}

func (h *Handler) parseSeriesQuery(w http.ResponseWriter, r *http.Request) ([]string, time.Time, time.Time, bool) {
	raw := r.URL.Query().Get("assets")
	if raw == "" {
		h.writeJSON(w, r, http.StatusBadRequest, errorBody("assets parameter is required"))
		return nil, time.Time{}, time.Time{}, false
	}

	var assets []string
	for _, a := range strings.Split(raw, ",") {
		if a = strings.TrimSpace(a); a != "" {
			assets = append(assets, a)
		}
	}
	if err := optimization.ValidateUniverse(assets); err != nil {
		h.writeJSON(w, r, http.StatusBadRequest, errorBody(err.Error()))
		return nil, time.Time{}, time.Time{}, false
	}

	start, end, err := parseRange(r)
	if err != nil {
		h.writeJSON(w, r, http.StatusBadRequest, errorBody(err.Error()))
		return nil, time.Time{}, time.Time{}, false
	}
	return assets, start, end, true
}

// parseRange reads start/end query parameters; both default to a one-year window ending today.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	start := end.AddDate(-1, 0, 0)

	if s := r.URL.Query().Get("start"); s != "" {
		parsed, err := time.Parse(dateLayout, s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q", s)
		}
		start = parsed
	}
	if s := r.URL.Query().Get("end"); s != "" {
		parsed, err := time.Parse(dateLayout, s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q", s)
		}
		end = parsed
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, optimization.ErrInvalidDateRange
	}
	return start, end, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		h.writeJSON(w, r, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeJSON(w, r, http.StatusBadRequest, errorBody(validationMessage(err)))
		return false
	}
	return true
}

func (h *Handler) writeSeriesError(w http.ResponseWriter, r *http.Request, err error) {
	if optimization.IsInputError(err) {
		h.writeJSON(w, r, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	h.log.Error().Err(err).Msg("Failed to build return series")
	h.writeJSON(w, r, http.StatusInternalServerError, errorBody("Failed to build return series"))
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	render.Status(r, status)
	render.JSON(w, r, data)
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

func errorBody(message string) map[string]interface{} {
	return map[string]interface{}{
		"error": message,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

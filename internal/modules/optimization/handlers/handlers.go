// Package handlers provides HTTP handlers for portfolio optimization.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/aristath/quantfolio/internal/modules/optimization"
)

const dateLayout = "2006-01-02"

// Optimizer is the service surface the handlers drive.
type Optimizer interface {
	RunBlackLitterman(ctx context.Context, assets []string, views optimization.Views, constraints optimization.Constraints, start, end time.Time) (*optimization.BlackLittermanModel, error)
	RunRiskParity(ctx context.Context, assets []string, constraints optimization.Constraints, start, end time.Time) (*optimization.RiskParityPortfolio, error)
	RunHRP(ctx context.Context, assets []string, constraints optimization.Constraints, start, end time.Time) (*optimization.HierarchicalRiskParity, error)
	RunMinimumVariance(ctx context.Context, assets []string, constraints optimization.Constraints, start, end time.Time) (*optimization.MinimumVariancePortfolio, error)
	CompareAll(ctx context.Context, assets []string, constraints optimization.Constraints, start, end time.Time) ([]optimization.Ranking, error)
	Options() optimization.ServiceOptions
}

// Handler handles optimizer HTTP requests
type Handler struct {
	service  Optimizer
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a new optimizer handler
func NewHandler(service Optimizer, log zerolog.Logger) *Handler {
	v := validator.New()
	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		service:  service,
		validate: v,
		log:      log.With().Str("handler", "optimizer").Logger(),
	}
}

type constraintsRequest struct {
	MinWeight     *float64                       `json:"min_weight"`
	MaxWeight     *float64                       `json:"max_weight"`
	FullyInvested *bool                          `json:"fully_invested"`
	LongOnly      *bool                          `json:"long_only"`
	AssetBounds   map[string]optimization.Bounds `json:"asset_bounds"`
}

type optimizeRequest struct {
	Assets      []string            `json:"assets" validate:"required,min=1,unique,dive,required"`
	Start       string              `json:"start" validate:"required,datetime=2006-01-02"`
	End         string              `json:"end" validate:"required,datetime=2006-01-02"`
	Constraints *constraintsRequest `json:"constraints"`
	Views       map[string]float64  `json:"views"`
	Confidences map[string]float64  `json:"confidences"`
}

type parsedRequest struct {
	assets      []string
	start, end  time.Time
	constraints optimization.Constraints
	views       optimization.Views
}

// HandleGetStatus handles GET /api/optimizer/
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	opts := h.service.Options()
	response := map[string]interface{}{
		"data": map[string]interface{}{
			"methods":     optimization.AllMethods,
			"constraints": optimization.DefaultConstraints(),
			"estimator": map[string]interface{}{
				"shrinkage":        opts.Estimator.Shrinkage,
				"periods_per_year": opts.Estimator.PeriodsPerYear,
			},
			"engines": opts.Engines,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
	h.writeJSON(w, r, http.StatusOK, response)
}

// HandleBlackLitterman handles POST /api/optimizer/black-litterman
func (h *Handler) HandleBlackLitterman(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	result, err := h.service.RunBlackLitterman(r.Context(), req.assets, req.views, req.constraints, req.start, req.end)
	if err != nil {
		h.writeError(w, r, optimization.MethodBlackLitterman, err)
		return
	}
	h.writeResult(w, r, result)
}

// HandleRiskParity handles POST /api/optimizer/risk-parity
func (h *Handler) HandleRiskParity(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	result, err := h.service.RunRiskParity(r.Context(), req.assets, req.constraints, req.start, req.end)
	if err != nil {
		h.writeError(w, r, optimization.MethodRiskParity, err)
		return
	}
	h.writeResult(w, r, result)
}

// HandleHRP handles POST /api/optimizer/hrp
func (h *Handler) HandleHRP(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	result, err := h.service.RunHRP(r.Context(), req.assets, req.constraints, req.start, req.end)
	if err != nil {
		h.writeError(w, r, optimization.MethodHRP, err)
		return
	}
	h.writeResult(w, r, result)
}

// HandleMinimumVariance handles POST /api/optimizer/min-variance
func (h *Handler) HandleMinimumVariance(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	result, err := h.service.RunMinimumVariance(r.Context(), req.assets, req.constraints, req.start, req.end)
	if err != nil {
		h.writeError(w, r, optimization.MethodMinimumVariance, err)
		return
	}
	h.writeResult(w, r, result)
}

// HandleCompare handles POST /api/optimizer/compare
func (h *Handler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	rankings, err := h.service.CompareAll(r.Context(), req.assets, req.constraints, req.start, req.end)
	if err != nil {
		h.writeError(w, r, "compare", err)
		return
	}
	h.writeResult(w, r, map[string]interface{}{
		"rankings": rankings,
		"count":    len(rankings),
	})
}

func (h *Handler) parse(w http.ResponseWriter, r *http.Request) (parsedRequest, bool) {
	var body optimizeRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		h.writeJSON(w, r, http.StatusBadRequest, errorBody("invalid JSON body"))
		return parsedRequest{}, false
	}
	if err := h.validate.Struct(body); err != nil {
		h.writeJSON(w, r, http.StatusBadRequest, errorBody(validationMessage(err)))
		return parsedRequest{}, false
	}

	start, _ := time.Parse(dateLayout, body.Start)
	end, _ := time.Parse(dateLayout, body.End)

	return parsedRequest{
		assets:      body.Assets,
		start:       start,
		end:         end,
		constraints: body.Constraints.toConstraints(),
		views: optimization.Views{
			Returns:    body.Views,
			Confidence: body.Confidences,
		},
	}, true
}

func (c *constraintsRequest) toConstraints() optimization.Constraints {
	out := optimization.DefaultConstraints()
	if c == nil {
		return out
	}
	if c.MinWeight != nil {
		out.MinWeight = *c.MinWeight
	}
	if c.MaxWeight != nil {
		out.MaxWeight = *c.MaxWeight
	}
	if c.FullyInvested != nil {
		out.FullyInvested = *c.FullyInvested
	}
	if c.LongOnly != nil {
		out.LongOnly = *c.LongOnly
	}
	out.AssetBounds = c.AssetBounds
	return out
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

// statusFor maps optimizer errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case optimization.IsInputError(err):
		return http.StatusBadRequest
	case optimization.IsSingular(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, method optimization.Method, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("method", string(method)).Msg("Optimization request failed")
	}
	h.writeJSON(w, r, status, errorBody(err.Error()))
}

func (h *Handler) writeResult(w http.ResponseWriter, r *http.Request, data interface{}) {
	h.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	render.Status(r, status)
	render.JSON(w, r, data)
}

func errorBody(message string) map[string]interface{} {
	return map[string]interface{}{
		"error": message,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

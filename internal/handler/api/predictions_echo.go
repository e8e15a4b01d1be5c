package api

import (
	"errors"
	"net/http"

	models "PredServe/internal/domain/models"
	"PredServe/internal/service/ratelimit"
	"PredServe/internal/usecase"
	xhttp "PredServe/pkg/http"
	xlogger "PredServe/pkg/logger"

	"github.com/labstack/echo/v4"
)

// predict endpoints allow this many requests per second per client.
const (
	predictRateCapacity = 50
	predictRefillPerSec = 25
)

// PredictionsEchoHandler exposes the serving surface over Echo.
type PredictionsEchoHandler struct {
	logger   *xlogger.Logger
	engine   *usecase.Engine
	ensemble *usecase.EnsembleService
	limiter  *ratelimit.Limiter
}

func NewPredictionsEchoHandler(logger *xlogger.Logger, engine *usecase.Engine, ensemble *usecase.EnsembleService) *PredictionsEchoHandler {
	return &PredictionsEchoHandler{
		logger:   logger,
		engine:   engine,
		ensemble: ensemble,
		limiter:  ratelimit.New(),
	}
}

func (h *PredictionsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/predict", h.Predict, h.rateLimit)
	g.POST("/predict/batch", h.PredictBatch, h.rateLimit)
	g.GET("/predict/ensemble", h.Ensemble, h.rateLimit)
	g.GET("/metrics/engine", h.EngineMetrics)
	e.GET("/healthz", h.Health)
}

func (h *PredictionsEchoHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.limiter.Allow(c.RealIP(), predictRateCapacity, predictRefillPerSec) {
			return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limit exceeded")
		}
		return next(c)
	}
}

func (h *PredictionsEchoHandler) Predict(c echo.Context) error {
	req := &models.PredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.engine.Predict(c.Request().Context(), req.Symbol, req.Horizon)
	if err != nil {
		h.logger.Error("predict error",
			xlogger.String("symbol", req.Symbol),
			xlogger.Error(err),
		)
		return h.errorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PredictionsEchoHandler) PredictBatch(c echo.Context) error {
	req := &models.BatchPredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.engine.PredictBatch(c.Request().Context(), req.Symbols, req.Horizon)
	if err != nil {
		h.logger.Error("batch predict error", xlogger.Error(err))
		return h.errorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PredictionsEchoHandler) Ensemble(c echo.Context) error {
	req := &models.EnsembleRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.ensemble.Predict(c.Request().Context(), req.Symbol, req.Horizon, req.ModelIDs)
	if err != nil {
		h.logger.Error("ensemble predict error",
			xlogger.String("symbol", req.Symbol),
			xlogger.Error(err),
		)
		return h.errorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PredictionsEchoHandler) EngineMetrics(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.engine.Metrics())
}

func (h *PredictionsEchoHandler) Health(c echo.Context) error {
	st := h.engine.Health(c.Request().Context())
	if len(st.Issues) > 0 {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, st)
	}
	return xhttp.SuccessResponse(c, st)
}

// errorResponse maps serving errors onto HTTP statuses.
func (h *PredictionsEchoHandler) errorResponse(c echo.Context, err error) error {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return xhttp.BadRequestResponse(c, verr.Error())
	case errors.Is(err, models.ErrFeatureMissing), errors.Is(err, models.ErrModelNotFound):
		return xhttp.NotFoundResponse(c, err.Error())
	case errors.Is(err, models.ErrQueueOverflow):
		return xhttp.DataResponse(c, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, models.ErrTimeout):
		return xhttp.DataResponse(c, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, models.ErrFeatureDegraded), errors.Is(err, models.ErrEnsembleTotalFailure):
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, err.Error())
	default:
		return xhttp.InternalServerErrorResponse(c)
	}
}

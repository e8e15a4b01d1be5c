package api

import (
	"errors"

	models "PredServe/internal/domain/models"
	domrepo "PredServe/internal/domain/repository"
	"PredServe/internal/service/modelcache"
	pkgcache "PredServe/pkg/cache"
	xhttp "PredServe/pkg/http"
	xlogger "PredServe/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RegistryEchoHandler exposes model lifecycle operations.
type RegistryEchoHandler struct {
	logger   *xlogger.Logger
	registry domrepo.ModelRegistry
	cache    *modelcache.Cache
	results  pkgcache.Service
}

func NewRegistryEchoHandler(logger *xlogger.Logger, registry domrepo.ModelRegistry, cache *modelcache.Cache, results pkgcache.Service) *RegistryEchoHandler {
	return &RegistryEchoHandler{logger: logger, registry: registry, cache: cache, results: results}
}

func (h *RegistryEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/models")
	g.POST("", h.Register)
	g.GET("/:id", h.Get)
	g.POST("/:id/deploy", h.Deploy)
	g.POST("/rollback", h.Rollback)
	g.GET("/cache/stats", h.CacheStats)
}

func (h *RegistryEchoHandler) Register(c echo.Context) error {
	req := &models.RegisterModelRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	rec := &models.ModelRecord{
		Name:              req.Name,
		Version:           req.Version,
		ModelType:         models.ModelType(req.ModelType),
		Objective:         req.Objective,
		TargetVariable:    req.TargetVariable,
		PredictionHorizon: req.Horizon,
		ValidationScore:   req.ValidationScore,
		TestScore:         req.TestScore,
		ArtifactPath:      req.ArtifactPath,
		Checksum:          req.Checksum,
	}
	id, err := h.registry.Register(c.Request().Context(), rec)
	if err != nil {
		h.logger.Error("model register error", xlogger.Error(err))
		return h.errorResponse(c, err)
	}
	return xhttp.CreatedResponse(c, map[string]string{"model_id": id})
}

func (h *RegistryEchoHandler) Get(c echo.Context) error {
	rec, err := h.registry.ResolveByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.errorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *RegistryEchoHandler) Deploy(c echo.Context) error {
	req := &models.DeployRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	id := c.Param("id")
	err := h.registry.Deploy(c.Request().Context(), id, models.DeployRole(req.Role), req.TrafficFraction)
	if err != nil {
		h.logger.Error("model deploy error",
			xlogger.String("model_id", id),
			xlogger.Error(err),
		)
		return h.errorResponse(c, err)
	}
	// Serve the newly deployed version on the next request: drop the
	// resident predictor and every cached result of the old champion.
	h.cache.Invalidate(id)
	if err := h.results.DeleteByPattern(c.Request().Context(), pkgcache.BuildPattern("pred:")); err != nil {
		h.logger.Warn("result cache flush failed", xlogger.Error(err))
	}
	return xhttp.SuccessResponse(c, map[string]string{"model_id": id, "status": "DEPLOYED"})
}

func (h *RegistryEchoHandler) Rollback(c echo.Context) error {
	req := &models.RollbackRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	rec, err := h.registry.Rollback(c.Request().Context(), req.Objective, req.Horizon)
	if err != nil {
		h.logger.Error("model rollback error", xlogger.Error(err))
		return h.errorResponse(c, err)
	}
	h.cache.Invalidate(rec.ModelID)
	if err := h.results.DeleteByPattern(c.Request().Context(), pkgcache.BuildPattern("pred:")); err != nil {
		h.logger.Warn("result cache flush failed", xlogger.Error(err))
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *RegistryEchoHandler) CacheStats(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.cache.Snapshot())
}

func (h *RegistryEchoHandler) errorResponse(c echo.Context, err error) error {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return xhttp.BadRequestResponse(c, verr.Error())
	case errors.Is(err, models.ErrModelNotFound):
		return xhttp.NotFoundResponse(c, err.Error())
	default:
		return xhttp.InternalServerErrorResponse(c)
	}
}

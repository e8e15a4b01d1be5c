package api

import (
	"github.com/labstack/echo/v4"
)

// Router combines the serving and registry handlers into one route
// registrar for the HTTP server.
type Router struct {
	predictions *PredictionsEchoHandler
	registry    *RegistryEchoHandler
}

func NewRouter(predictions *PredictionsEchoHandler, registry *RegistryEchoHandler) *Router {
	return &Router{predictions: predictions, registry: registry}
}

func (r *Router) RegisterRoutes(e *echo.Echo) {
	r.predictions.RegisterRoutes(e)
	r.registry.RegisterRoutes(e)
}

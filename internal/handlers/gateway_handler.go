package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"payment-engine/internal/gateway"
	"payment-engine/internal/models"
)

// GatewayHandler exposes gateway introspection.
type GatewayHandler struct {
	registry *gateway.Registry
	logger   *logrus.Entry
}

func NewGatewayHandler(registry *gateway.Registry, logger *logrus.Logger) *GatewayHandler {
	return &GatewayHandler{
		registry: registry,
		logger:   logger.WithField("component", "gateway_handler"),
	}
}

// List handles GET /api/v1/gateways
func (h *GatewayHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	infos := make([]models.GatewayInfo, 0)

	for _, name := range h.registry.Names() {
		m, err := h.registry.Resolve(name)
		if err != nil {
			continue
		}
		features := make([]string, 0)
		for _, f := range m.Features() {
			features = append(features, string(f))
		}
		infos = append(infos, models.GatewayInfo{
			Name:      name,
			Default:   name == h.registry.DefaultName(),
			Available: m.IsAvailable(ctx),
			Features:  features,
		})
	}
	c.JSON(http.StatusOK, gin.H{"gateways": infos, "default": h.registry.DefaultName()})
}

// Package api exposes the sale ledger over HTTP.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"presale-ledger/internal/events"
	"presale-ledger/internal/sale"
)

// Options configures the router.
type Options struct {
	Service *sale.Service
	// Hub streams events at /v1/events/ws when set.
	Hub *events.Hub
	// AdminToken guards the authority routes. Empty disables them.
	AdminToken string
	Logger     logrus.FieldLogger
}

// NewRouter builds the gin engine serving the v1 API.
func NewRouter(opts Options) (*gin.Engine, error) {
	if opts.Service == nil {
		return nil, errors.New("sale service is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "api")

	router := gin.New()
	router.Use(RequestID(), Logger(logger), Recovery(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	admin := v1.Group("", AdminAuth(opts.AdminToken))
	NewHandler(opts.Service).RegisterRoutes(v1, admin)

	if opts.Hub != nil {
		v1.GET("/events/ws", gin.WrapH(opts.Hub))
	}

	return router, nil
}

// Package http is the REST transport for the signature transfer engine.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter builds the gin router over the given handlers.
func SetupRouter(h *Handlers, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), RequestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	{
		v1.POST("/transfers", h.Transfer)
		v1.POST("/transfers/witness", h.TransferWitness)
		v1.POST("/transfers/batch", h.BatchTransfer)
		v1.POST("/transfers/batch/witness", h.BatchTransferWitness)
		v1.POST("/nonces/invalidate", h.InvalidateNonces)
		v1.GET("/nonces/:owner/:word", h.NonceWord)

		if h.ledger != nil {
			v1.POST("/bank/mint", h.Mint)
			v1.GET("/bank/balances/:token/:account", h.Balance)
		}
	}

	return router
}

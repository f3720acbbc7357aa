package main

import (
	"voice-relay/internal/auth"
	"voice-relay/internal/httpapi"
	"voice-relay/internal/relay"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, tokenManager *auth.Manager, api httpapi.Handlers, streams *relay.StreamHandlers) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Token issuance is open; everything it protects is not.
	r.POST("/generate-token", api.GenerateToken)

	// Carrier callback (public). The carrier fetches markup here when the
	// callee answers; it authenticates the subsequent stream dial with the
	// token embedded in the markup.
	r.Any("/outbound-call-twiml", api.OutboundCallTwiML)

	// Control plane (bearer token required).
	authed := r.Group("/", auth.RequireToken(tokenManager))
	{
		authed.POST("/outbound-call", api.OutboundCall)
		authed.POST("/end-call", api.EndCall)
		authed.GET("/call-status", api.CallStatus)
	}

	// Streaming endpoints. Tokens ride the query string; the upgrade gate
	// checks them before any socket is accepted.
	r.GET("/outbound-media-stream", streams.HandleCarrierStream)
	r.GET("/frontend-stream", streams.HandleObserverStream)
}

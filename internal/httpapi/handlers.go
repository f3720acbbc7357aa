package httpapi

import (
	"errors"
	"net/http"
	"time"

	"voice-relay/internal/auth"
	"voice-relay/internal/calls"
	"voice-relay/internal/telephony"
	"voice-relay/internal/tenants"
	"voice-relay/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers are the control-plane endpoints. They bind requests, delegate to
// internal services, and map sentinel errors to JSON responses.
// No business logic here.
type Handlers struct {
	Calls *calls.Service
	Auth  *auth.Manager

	// StreamHost is the host the carrier should open its media stream
	// against, taken from SERVER_BASE_URL.
	StreamHost string
}

type outboundCallRequest struct {
	UserID       string `json:"user_id"`
	Number       string `json:"number"`
	Prompt       string `json:"prompt"`
	FirstMessage string `json:"first_message"`
}

// OutboundCall handles POST /outbound-call.
func (h Handlers) OutboundCall(c *gin.Context) {
	log := logger.FromGin(c)

	var req outboundCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	if req.UserID == "" || req.Number == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "user_id and number are required"})
		return
	}

	sid, err := h.Calls.Place(c.Request.Context(), req.UserID, req.Number, req.Prompt, req.FirstMessage)
	if err != nil {
		log.Error("outbound call failed", "tenant_id", req.UserID, "err", err)
		writeCallError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "callSid": sid})
}

// OutboundCallTwiML handles ALL /outbound-call-twiml. The carrier fetches
// this when the callee answers; it always gets markup, even for missing
// parameters.
func (h Handlers) OutboundCallTwiML(c *gin.Context) {
	params := telephony.StreamParams{
		TenantID:     c.Query("user_id"),
		Prompt:       c.Query("prompt"),
		FirstMessage: c.Query("first_message"),
	}

	// The stream upgrade passes the same token gate as every caller; mint
	// a backend token for the carrier's dial.
	token, err := h.Auth.Issue(auth.SourceBackend, time.Now())
	if err != nil {
		logger.FromGin(c).Error("stream token issue failed", "err", err)
		token = ""
	}

	xml, err := telephony.StreamTwiML(h.StreamHost, token, params)
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.String(http.StatusOK, "<Response></Response>")
		return
	}
	c.Data(http.StatusOK, "application/xml", []byte(xml))
}

type endCallRequest struct {
	CallSID string `json:"callSid"`
	UserID  string `json:"user_id"`
}

// EndCall handles POST /end-call.
func (h Handlers) EndCall(c *gin.Context) {
	var req endCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	if req.CallSID == "" || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "callSid and user_id are required"})
		return
	}

	if err := h.Calls.End(c.Request.Context(), req.UserID, req.CallSID); err != nil {
		logger.FromGin(c).Error("end call failed", "call_sid", req.CallSID, "err", err)
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// CallStatus handles GET /call-status.
func (h Handlers) CallStatus(c *gin.Context) {
	callSID := c.Query("callSid")
	userID := c.Query("user_id")
	if callSID == "" || userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "callSid and user_id are required"})
		return
	}

	info, err := h.Calls.Status(c.Request.Context(), userID, callSID)
	if err != nil {
		logger.FromGin(c).Error("call status failed", "call_sid", callSID, "err", err)
		writeCallError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"status":    info.Status,
		"startTime": info.StartTime,
		"endTime":   info.EndTime,
		"duration":  info.Duration,
	})
}

type generateTokenRequest struct {
	Source string `json:"source"`
}

// GenerateToken handles POST /generate-token.
func (h Handlers) GenerateToken(c *gin.Context) {
	var req generateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	source := auth.Source(req.Source)
	if !auth.ValidSource(source) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "source must be frontend or backend"})
		return
	}

	token, err := h.Auth.Issue(source, time.Now())
	if err != nil {
		logger.FromGin(c).Error("token issue failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// writeCallError maps service sentinels onto the response contract.
func writeCallError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "missing required fields"})
	case errors.Is(err, calls.ErrTooManyCalls):
		c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "concurrent call limit reached"})
	case errors.Is(err, telephony.ErrCallNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "call not found"})
	case errors.Is(err, tenants.ErrTenantNotFound):
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "user not found"})
	case errors.Is(err, tenants.ErrIncompleteCredentials):
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Missing required credentials. Configure Twilio and ElevenLabs settings first."})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
	}
}

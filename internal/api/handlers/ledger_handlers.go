package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/helgykoin/hkn_ledger/internal/api/dispatch"
	"github.com/helgykoin/hkn_ledger/internal/api/middleware"
	"github.com/helgykoin/hkn_ledger/pkg/logger"
)

// LedgerHandlers exposes the dispatch registry over HTTP
type LedgerHandlers struct {
	registry *dispatch.Registry
	logger   *logger.Logger
}

// NewLedgerHandlers creates a new LedgerHandlers instance
func NewLedgerHandlers(registry *dispatch.Registry, logger *logger.Logger) *LedgerHandlers {
	return &LedgerHandlers{registry: registry, logger: logger}
}

// Command handles POST /api/v1/commands
// @Summary Execute a tagged ledger request
// @Description Body is {"kind": "...", ...fields of that kind}
// @Tags ledger
// @Accept json
// @Produce json
// @Param X-Account-ID header int true "Caller account"
// @Param Idempotency-Key header string false "Replay protection key"
// @Success 200 {object} interface{}
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/commands [post]
func (h *LedgerHandlers) Command(c *gin.Context) {
	var req dispatch.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		SendBadRequest(c, ErrCodeInvalidRequest, MsgInvalidRequest)
		return
	}
	if req.Kind == "" {
		SendBadRequest(c, ErrCodeValidationError, "kind is required")
		return
	}
	h.dispatch(c, req)
}

// Handle returns a handler running kind with the JSON body as payload.
// Path and query parameters named in params are copied into the payload,
// integers as numbers. Body numbers keep their literal text.
func (h *LedgerHandlers) Handle(kind dispatch.Kind, params ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload := map[string]interface{}{}
		if c.Request.Body != nil && c.Request.ContentLength != 0 {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				SendBadRequest(c, ErrCodeInvalidRequest, MsgInvalidRequest)
				return
			}
			if len(bytes.TrimSpace(body)) > 0 {
				dec := json.NewDecoder(bytes.NewReader(body))
				dec.UseNumber()
				if err := dec.Decode(&payload); err != nil {
					SendBadRequest(c, ErrCodeInvalidRequest, MsgInvalidRequest)
					return
				}
			}
		}
		for _, name := range params {
			value := c.Param(name)
			if value == "" {
				value = c.Query(name)
			}
			if value == "" {
				continue
			}
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				payload[name] = n
			} else {
				payload[name] = value
			}
		}

		raw, err := json.Marshal(payload)
		if err != nil {
			SendBadRequest(c, ErrCodeInvalidRequest, MsgInvalidRequest)
			return
		}
		h.dispatch(c, dispatch.Request{Kind: kind, Payload: raw})
	}
}

func (h *LedgerHandlers) dispatch(c *gin.Context, req dispatch.Request) {
	actor := c.GetInt64(middleware.ContextAccountID)

	out, err := h.registry.Dispatch(c.Request.Context(), actor, req)
	if err != nil {
		h.logger.Debug("Request rejected",
			"kind", req.Kind,
			"account_id", actor,
			"error", err)
		respondError(c, h.logger, err)
		return
	}
	SendSuccess(c, out)
}

// Kinds handles GET /api/v1/commands
// @Summary List request kinds
// @Tags ledger
// @Produce json
// @Success 200 {array} string
// @Router /api/v1/commands [get]
func (h *LedgerHandlers) Kinds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"kinds": h.registry.Kinds()})
}

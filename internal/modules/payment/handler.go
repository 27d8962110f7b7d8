package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"legalbot/internal/pkg/response"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the public payment endpoints.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	payments := rg.Group("/payments")
	{
		payments.POST("", h.Create)
		payments.GET("/:id", h.Get)
		payments.POST("/:id/checkout", h.ReissueCheckout)
		payments.POST("/webhook/:provider", h.Webhook)
	}
}

// RegisterStaffRoutes mounts the token-protected staff endpoints.
func (h *Handler) RegisterStaffRoutes(rg *gin.RouterGroup) {
	rg.POST("/payments/:id/refund", h.Refund)
	rg.PATCH("/payments/:id/no-refund", h.SetNoRefund)
	rg.POST("/reconcile", h.Reconcile)
}

func (h *Handler) Create(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	userID, ok := userIDFrom(c)
	if !ok {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "X-User-ID header is required")
		return
	}

	resp, err := h.service.CreatePayment(c.Request.Context(), userID, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, resp)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payment id")
		return
	}
	resp, err := h.service.GetPayment(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}

func (h *Handler) ReissueCheckout(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payment id")
		return
	}
	resp, err := h.service.ReissueCheckout(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}

// Webhook receives provider callbacks. Click posts form-encoded bodies,
// Payme and Uzum post JSON; both flatten into the string map the adapters
// verify against. Rejections return 400 so the provider retries or alerts.
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := flattenPayload(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "unreadable callback body")
		return
	}

	result, err := h.service.ProcessCallback(c.Request.Context(), c.Param("provider"), payload)
	if err != nil {
		// Providers expect a flat 400 on any rejected callback. The richer
		// status mapping is for our own clients.
		response.Error(c, http.StatusBadRequest, "CALLBACK_REJECTED", err.Error())
		return
	}
	response.Success(c, http.StatusOK, result)
}

func (h *Handler) Refund(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payment id")
		return
	}
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Actor == "" {
		req.Actor = "staff"
	}

	resp, err := h.service.RefundPayment(c.Request.Context(), id, req.Reason, req.Actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}

func (h *Handler) SetNoRefund(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payment id")
		return
	}
	var req NoRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Actor == "" {
		req.Actor = "staff"
	}

	resp, err := h.service.SetNoRefund(c.Request.Context(), id, req.NoRefund, req.Actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}

func (h *Handler) Reconcile(c *gin.Context) {
	batch := 100
	if raw := c.Query("batch"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			batch = n
		}
	}
	result, err := h.service.Reconcile(c.Request.Context(), batch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnknownProvider):
		response.Error(c, http.StatusBadRequest, "UNKNOWN_PROVIDER", err.Error())
	case errors.Is(err, ErrCheckoutFailed):
		response.Error(c, http.StatusBadGateway, "CHECKOUT_FAILED", "provider checkout unavailable")
	case errors.Is(err, ErrRefundFailed):
		response.Error(c, http.StatusBadGateway, "REFUND_FAILED", "provider rejected the refund")
	default:
		response.FromError(c, err)
	}
}

func userIDFrom(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// flattenPayload normalizes a callback body into map[string]string. Click
// posts urlencoded forms, Payme and Uzum post JSON; JSON numbers keep their
// wire text (UseNumber) so signatures recompute over the exact digits the
// provider signed.
func flattenPayload(c *gin.Context) (map[string]string, error) {
	if strings.HasPrefix(c.ContentType(), "application/x-www-form-urlencoded") {
		if err := c.Request.ParseForm(); err != nil {
			return nil, err
		}
		out := make(map[string]string, len(c.Request.PostForm))
		for k, vs := range c.Request.PostForm {
			if len(vs) > 0 {
				out[k] = vs[0]
			}
		}
		return out, nil
	}

	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool:
			out[k] = strconv.FormatBool(val)
		case nil:
			// dropped, signatures exclude nulls
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return nil, err
			}
			out[k] = string(b)
		}
	}
	return out, nil
}

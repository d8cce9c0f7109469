package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/domain/apperr"
	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

// heldBody never reveals why a transaction is held
type heldBody struct {
	Status string `json:"status"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindConfiguration:
		return http.StatusUnprocessableEntity
	case apperr.KindUpstreamTimeout:
		return http.StatusServiceUnavailable
	case apperr.KindIntegrity:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// respondError maps an engine error onto the API envelope
func (h *Handlers) respondError(c *gin.Context, op string, err error) {
	kind := apperr.KindOf(err)
	code := statusFor(kind)
	resp := Response{Success: false, Kind: string(kind), Error: err.Error()}

	switch kind {
	case apperr.KindConfiguration, apperr.KindUpstreamTimeout:
		resp.Error = "transaction is under review"
		resp.Data = heldBody{Status: entity.PublicHoldStatus}
	case apperr.KindInternal:
		resp.Error = "internal error"
	}

	if code >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("op", op), zap.Error(err))
	} else {
		h.logger.Info("Request rejected",
			zap.String("op", op),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	c.JSON(code, resp)
}

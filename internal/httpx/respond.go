package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/safar/rewear-store/internal/apperr"
)

const (
	codeRequestInProgress = "REQUEST_IN_PROGRESS"

	maskedTransactionMessage = "the request could not be completed, please retry"
	maskedInternalMessage    = "internal server error"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInsufficientStock:
		return http.StatusConflict
	case apperr.KindInvalidStatus:
		return http.StatusUnprocessableEntity
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindTransaction:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the status its kind maps to. Infrastructure
// failures are always logged; in production their text is replaced.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	detail := errorDetail{Code: string(kind), Message: err.Error()}

	var (
		stock      *apperr.InsufficientStockError
		validation *apperr.ValidationError
	)
	switch {
	case errors.As(err, &stock):
		detail.Details = map[string]any{
			"product_id": stock.ProductID,
			"requested":  stock.Requested,
			"available":  stock.Available,
		}
	case errors.As(err, &validation) && validation.Field != "":
		detail.Details = map[string]any{"field": validation.Field}
	}

	if !apperr.IsDomain(err) {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("code", detail.Code),
			zap.Error(err),
		)
		if h.production {
			detail.Message = maskedInternalMessage
			if kind == apperr.KindTransaction {
				detail.Message = maskedTransactionMessage
			}
		}
	}

	writeJSON(w, status, errorBody{Error: detail})
}

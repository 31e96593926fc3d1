package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/safar/rewear-store/internal/apperr"
	"github.com/safar/rewear-store/internal/auth"
	"github.com/safar/rewear-store/internal/idempotency"
	"github.com/safar/rewear-store/internal/orders"
)

const (
	headerIdempotencyKey  = "Idempotency-Key"
	headerIdempotentReply = "Idempotent-Replay"
)

type updateStatusReq struct {
	Status string `json:"status"`
}

func (h *handler) caller(w http.ResponseWriter, r *http.Request) (orders.Caller, bool) {
	caller, ok := auth.CallerFrom(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, auth.CodeUnauthorized, "not authorized")
	}
	return caller, ok
}

func (h *handler) createOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req orders.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperr.Validation("", "invalid json body"))
		return
	}

	key := r.Header.Get(headerIdempotencyKey)
	if key == "" || h.idem == nil {
		h.placeOrder(w, r, caller, req)
		return
	}
	if len(key) > idempotency.MaxKeyLength {
		h.writeError(w, r, apperr.Validation(headerIdempotencyKey, "is too long"))
		return
	}

	res, err := h.idem.Reserve(r.Context(), caller.UserID, key)
	if err != nil {
		// an unavailable key store must not block checkout
		h.logger.Warn("idempotency unavailable, placing order unguarded", zap.Error(err))
		h.placeOrder(w, r, caller, req)
		return
	}

	switch res.State {
	case idempotency.Pending:
		writeErrorCode(w, http.StatusConflict, codeRequestInProgress,
			"a request with this idempotency key is still in progress")
	case idempotency.Completed:
		order, err := h.orders.GetOrder(r.Context(), caller, res.OrderID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		w.Header().Set(headerIdempotentReply, "true")
		writeJSON(w, http.StatusOK, order)
	default:
		order, err := h.orders.CreateOrder(r.Context(), caller, req)
		bg := context.WithoutCancel(r.Context())
		if err != nil {
			if relErr := h.idem.Release(bg, caller.UserID, key); relErr != nil {
				h.logger.Warn("release idempotency key", zap.Error(relErr))
			}
			h.writeError(w, r, err)
			return
		}
		if err := h.idem.Complete(bg, caller.UserID, key, order.ID); err != nil {
			h.logger.Warn("complete idempotency key", zap.String("order_id", order.ID), zap.Error(err))
		}
		writeJSON(w, http.StatusCreated, order)
	}
}

func (h *handler) placeOrder(w http.ResponseWriter, r *http.Request, caller orders.Caller, req orders.CreateOrderRequest) {
	order, err := h.orders.CreateOrder(r.Context(), caller, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *handler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	limit, err := intQuery(r, "limit", orders.DefaultPageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, err := h.orders.ListMyOrders(r.Context(), caller, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) listAllOrders(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	page, pageSize, err := pageQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.orders.ListAllOrders(r.Context(), caller, r.URL.Query().Get("status"), page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperr.Validation("", "invalid json body"))
		return
	}
	if req.Status == "" {
		h.writeError(w, r, apperr.Validation("status", "is required"))
		return
	}
	order, err := h.orders.UpdateStatus(r.Context(), caller, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation(name, "must be an integer")
	}
	return n, nil
}

func pageQuery(r *http.Request) (page, pageSize int, err error) {
	if page, err = intQuery(r, "page", 1); err != nil {
		return 0, 0, err
	}
	if pageSize, err = intQuery(r, "page_size", orders.DefaultPageSize); err != nil {
		return 0, 0, err
	}
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize < 1:
		pageSize = orders.DefaultPageSize
	case pageSize > orders.MaxPageSize:
		pageSize = orders.MaxPageSize
	}
	return page, pageSize, nil
}

package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/rwaexchange/internal/models"
)

// OperatorHeader carries the shared operator secret
const OperatorHeader = "X-Operator-Token"

// OperatorMiddleware admits requests carrying the operator token. With no
// token configured every operator route is refused.
func (h *Handler) OperatorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(OperatorHeader)
		if h.OperatorToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.OperatorToken)) != 1 {
			writeError(w, http.StatusForbidden, "Operator token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ConfirmSettlement records the external ledger's verdict on a trade
func (h *Handler) ConfirmSettlement(w http.ResponseWriter, r *http.Request) {
	tradeID, err := uuid.Parse(chi.URLParam(r, "tradeID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid trade ID")
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	status, err := models.ParseSettlementStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trade, err := h.Exchange.ConfirmSettlement(r.Context(), tradeID, status)
	if err != nil {
		h.fail(w, r, err, "Failed to confirm settlement")
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// SetAssetStatus halts, resumes or delists an asset
func (h *Handler) SetAssetStatus(w http.ResponseWriter, r *http.Request) {
	assetID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid asset ID")
		return
	}
	var req struct {
		Status models.AssetStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	switch req.Status {
	case models.AssetActive, models.AssetHalted, models.AssetDelisted:
	default:
		writeError(w, http.StatusBadRequest, "Status must be 'active', 'halted' or 'delisted'")
		return
	}

	if err := h.Store.SetAssetStatus(r.Context(), assetID, req.Status); err != nil {
		h.fail(w, r, err, "Failed to update asset")
		return
	}
	if h.Assets != nil {
		if err := h.Assets.Invalidate(r.Context(), assetID); err != nil {
			h.Log.WithError(err).WithField("asset_id", assetID).Warn("Failed to invalidate cached asset")
		}
	}
	h.Log.WithFields(logrus.Fields{"asset_id": assetID, "status": req.Status}).Info("Asset status changed")
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": assetID, "status": req.Status})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/webhook"
)

// webhookResponse carries the plaintext secret on create, the masked one
// everywhere else.
type webhookResponse struct {
	*webhook.Config
	Secret string `json:"secret"`
}

func masked(cfg *webhook.Config) webhookResponse {
	return webhookResponse{Config: cfg, Secret: cfg.MaskedSecret()}
}

type setStatusRequest struct {
	Status webhook.Status `json:"status"`
}

type secretResponse struct {
	Secret string `json:"secret"`
}

type testEventResponse struct {
	EventID id.ID `json:"event_id"`
}

func companyID(r *http.Request) string {
	return chi.URLParam(r, "companyID")
}

func (h *Handler) webhookID(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	whID, err := id.ParseWebhookID(chi.URLParam(r, "webhookID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return id.Nil, false
	}
	return whID, true
}

func (h *Handler) createWebhook(w http.ResponseWriter, r *http.Request) {
	var in webhook.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, err := h.herald.CreateWebhook(r.Context(), companyID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, webhookResponse{Config: cfg, Secret: cfg.Secret})
}

func (h *Handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	offset, limit := page(r)
	opts := webhook.ListOpts{
		Status: webhook.Status(r.URL.Query().Get("status")),
		Offset: offset,
		Limit:  limit,
	}
	if opts.Status != "" && !opts.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	cfgs, err := h.herald.ListWebhooks(r.Context(), companyID(r), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]webhookResponse, 0, len(cfgs))
	for _, cfg := range cfgs {
		out = append(out, masked(cfg))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getWebhook(w http.ResponseWriter, r *http.Request) {
	whID, ok := h.webhookID(w, r)
	if !ok {
		return
	}
	cfg, err := h.herald.GetWebhook(r.Context(), companyID(r), whID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, masked(cfg))
}

func (h *Handler) updateWebhook(w http.ResponseWriter, r *http.Request) {
	whID, ok := h.webhookID(w, r)
	if !ok {
		return
	}
	var in webhook.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, err := h.herald.UpdateWebhook(r.Context(), companyID(r), whID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, masked(cfg))
}

func (h *Handler) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	whID, ok := h.webhookID(w, r)
	if !ok {
		return
	}
	if err := h.herald.DeleteWebhook(r.Context(), companyID(r), whID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setWebhookStatus(w http.ResponseWriter, r *http.Request) {
	whID, ok := h.webhookID(w, r)
	if !ok {
		return
	}
	var req setStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, err := h.herald.SetWebhookStatus(r.Context(), companyID(r), whID, req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, masked(cfg))
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	whID, ok := h.webhookID(w, r)
	if !ok {
		return
	}
	secret, err := h.herald.RotateSecret(r.Context(), companyID(r), whID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, secretResponse{Secret: secret})
}

func (h *Handler) sendTestEvent(w http.ResponseWriter, r *http.Request) {
	whID, ok := h.webhookID(w, r)
	if !ok {
		return
	}
	evtID, err := h.herald.SendTestEvent(r.Context(), companyID(r), whID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, testEventResponse{EventID: evtID})
}

func (h *Handler) deliveryStats(w http.ResponseWriter, r *http.Request) {
	whID, ok := h.webhookID(w, r)
	if !ok {
		return
	}
	stats, err := h.herald.DeliveryStats(r.Context(), companyID(r), whID, queryInt(r, "period_days", 0))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) listWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	whID, ok := h.webhookID(w, r)
	if !ok {
		return
	}
	if _, err := h.herald.GetWebhook(r.Context(), companyID(r), whID); err != nil {
		h.fail(w, r, err)
		return
	}

	opts, ok := deliveryListOpts(w, r)
	if !ok {
		return
	}
	opts.WebhookID = whID
	h.writeDeliveries(w, r, opts)
}

func (h *Handler) writeDeliveries(w http.ResponseWriter, r *http.Request, opts delivery.ListOpts) {
	ds, err := h.herald.ListDeliveries(r.Context(), companyID(r), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/herald"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
)

// emitRequest lets non-Go producers raise events.
type emitRequest struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EntityType string          `json:"entity_type,omitempty"`
	EntityID   string          `json:"entity_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

func (h *Handler) eventID(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	evtID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return id.Nil, false
	}
	return evtID, true
}

func (h *Handler) emitEvent(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, "payload is required")
		return
	}

	var opts []herald.EmitOption
	if req.EntityType != "" || req.EntityID != "" {
		opts = append(opts, herald.WithEntity(req.EntityType, req.EntityID))
	}
	if len(req.Metadata) > 0 {
		opts = append(opts, herald.WithMetadata(req.Metadata))
	}

	evt, err := h.herald.Emit(r.Context(), companyID(r), req.Type, req.Payload, opts...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, evt)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	offset, limit := page(r)
	opts := event.ListOpts{
		Offset: offset,
		Limit:  limit,
		Type:   r.URL.Query().Get("type"),
	}

	var ok bool
	if opts.From, ok = queryTime(w, r, "from"); !ok {
		return
	}
	if opts.To, ok = queryTime(w, r, "to"); !ok {
		return
	}

	evts, err := h.herald.ListEvents(r.Context(), companyID(r), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evts)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	evtID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	evt, err := h.herald.GetEvent(r.Context(), companyID(r), evtID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

func (h *Handler) eventDeliveries(w http.ResponseWriter, r *http.Request) {
	evtID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	ds, err := h.herald.EventDeliveries(r.Context(), companyID(r), evtID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	opts, ok := deliveryListOpts(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	if v := q.Get("webhook_id"); v != "" {
		whID, err := id.ParseWebhookID(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid webhook_id")
			return
		}
		opts.WebhookID = whID
	}
	if v := q.Get("event_id"); v != "" {
		evtID, err := id.ParseEventID(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid event_id")
			return
		}
		opts.EventID = evtID
	}
	h.writeDeliveries(w, r, opts)
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	delID, err := id.ParseDeliveryID(chi.URLParam(r, "deliveryID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}
	d, err := h.herald.GetDelivery(r.Context(), companyID(r), delID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// deliveryListOpts reads paging and the status filter.
func deliveryListOpts(w http.ResponseWriter, r *http.Request) (delivery.ListOpts, bool) {
	offset, limit := page(r)
	opts := delivery.ListOpts{
		Offset: offset,
		Limit:  limit,
		Status: delivery.Status(r.URL.Query().Get("status")),
	}
	if opts.Status != "" && !opts.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return opts, false
	}
	return opts, true
}

// queryTime parses an optional RFC 3339 query parameter.
func queryTime(w http.ResponseWriter, r *http.Request, key string) (*time.Time, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+key+": want RFC 3339")
		return nil, false
	}
	return &t, true
}

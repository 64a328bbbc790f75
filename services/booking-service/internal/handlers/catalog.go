package handlers

import "net/http"

func (h *BookingHandler) CreateSessionType(w http.ResponseWriter, r *http.Request) {
	var req sessionTypeDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	st, err := req.toModel()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	created, err := h.svc.CreateSessionType(r.Context(), principal(r), st)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionTypeDTO(created))
}

func (h *BookingHandler) ListSessionTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.svc.ListSessionTypes(r.Context(), r.PathValue("builder_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	items := make([]sessionTypeDTO, 0, len(types))
	for _, st := range types {
		items = append(items, toSessionTypeDTO(st))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) DeactivateSessionType(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeactivateSessionType(r.Context(), principal(r), r.PathValue("builder_id"), r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BookingHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	avail, err := h.svc.GetAvailability(r.Context(), r.PathValue("builder_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAvailabilityDTO(avail))
}

func (h *BookingHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req.BuilderID = r.PathValue("builder_id")
	avail, err := req.toModel()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	saved, err := h.svc.SetAvailability(r.Context(), principal(r), avail)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAvailabilityDTO(saved))
}

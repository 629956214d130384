package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/landscaper/internal/ingest"
	"github.com/sells-group/landscaper/internal/jobs"
	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/internal/review"
)

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// upload accepts multipart form fields project_id, doc_type and file.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		badRequest(w, "expected a multipart form with a file: "+err.Error())
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, "read upload: "+err.Error())
		return
	}

	res, err := h.ingest.Ingest(r.Context(), ingest.Upload{
		ProjectID: r.FormValue("project_id"),
		Filename:  hdr.Filename,
		DocType:   model.DocType(r.FormValue("doc_type")),
		Data:      data,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Collision == model.CollisionDuplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *Handler) proposal(w http.ResponseWriter, r *http.Request) {
	p, err := h.jobs.Propose(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) confirmMapping(w http.ResponseWriter, r *http.Request) {
	var c jobs.Confirmation
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if c.DocumentID == "" {
		badRequest(w, "document_id is required")
		return
	}
	job, err := h.jobs.Confirm(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID, "mapping_set_id": job.MappingSetID})
}

func (h *Handler) jobStatus(w http.ResponseWriter, r *http.Request) {
	v, err := h.jobs.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job.View())
}

func (h *Handler) openReview(w http.ResponseWriter, r *http.Request) {
	doc, err := h.review.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) approveReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.review.Approve(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"document_id": id, "review_status": string(model.ReviewCorrected)})
}

func (h *Handler) commitReview(w http.ResponseWriter, r *http.Request) {
	sum, err := h.review.Commit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// correctionRequest is one reviewer edit. The AI value and its confidence
// are read from the stored record, not trusted from the client.
type correctionRequest struct {
	RecordID  string               `json:"record_id"`
	FieldPath string               `json:"field_path"`
	UserValue any                  `json:"user_value"`
	Type      model.CorrectionType `json:"correction_type"`
	Notes     string               `json:"notes,omitempty"`
}

func (h *Handler) logCorrection(w http.ResponseWriter, r *http.Request) {
	var req correctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	c, err := h.review.Correct(r.Context(), review.Edit{
		RecordID:  req.RecordID,
		FieldPath: req.FieldPath,
		Value:     req.UserValue,
		Type:      req.Type,
		Notes:     req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) accuracy(w http.ResponseWriter, r *http.Request) {
	days := 30
	if s := r.URL.Query().Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			badRequest(w, "days must be 7, 30 or 90")
			return
		}
		days = n
	}
	trend, err := h.analytics.AccuracyTrend(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trend)
}

func (h *Handler) recategorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	id := chi.URLParam(r, "id")
	changed, err := h.review.Recategorize(r.Context(), id, req.Category)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record_id": id, "category": req.Category, "changed": changed})
}

func (h *Handler) assistantMessage(w http.ResponseWriter, r *http.Request) {
	if h.assistant == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "assistant is not configured", Code: "unavailable"})
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		badRequest(w, "text is required")
		return
	}
	res, err := h.assistant.Send(r.Context(), chi.URLParam(r, "document_id"), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := map[string]any{"result": res}
	if res.Budget != nil {
		out["notice"] = "The assistant ran out of budget (" + res.Budget.Reason + "); the answer summarizes partial work."
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) confirmAction(w http.ResponseWriter, r *http.Request) {
	if h.assistant == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "assistant is not configured", Code: "unavailable"})
		return
	}
	always := r.URL.Query().Get("always") == "true"
	tc, err := h.assistant.ConfirmAction(r.Context(), chi.URLParam(r, "document_id"), chi.URLParam(r, "action_id"), always)
	if err != nil && !tc.IsError {
		writeError(w, r, err)
		return
	}
	// A tool that ran and failed is reported in the tool call itself.
	writeJSON(w, http.StatusOK, tc)
}

func (h *Handler) rejectAction(w http.ResponseWriter, r *http.Request) {
	if h.assistant == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "assistant is not configured", Code: "unavailable"})
		return
	}
	if err := h.assistant.RejectAction(chi.URLParam(r, "document_id"), chi.URLParam(r, "action_id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

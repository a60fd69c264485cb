package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	service "github.com/okian/runac/internal/app"
	"github.com/okian/runac/internal/domain/model"
	"github.com/okian/runac/internal/domain/rating"
)

// RecordDependencies submits and moderates runs.
type RecordDependencies interface {
	SubmitRecord(ctx context.Context, in service.SubmitRecordInput) (model.RunRecord, error)
	UserRecords(ctx context.Context, seq int64) ([]service.ScoredRecord, rating.UserRating, error)
	PendingRecords(ctx context.Context, actor int64) ([]model.RunRecord, error)
	ApproveRecord(ctx context.Context, actor int64, id string) (model.RunRecord, error)
	RejectRecord(ctx context.Context, actor int64, id string) (model.RunRecord, error)
}

// RecordHandler handles run record requests.
type RecordHandler struct {
	deps RecordDependencies
}

// NewRecordHandler creates a new record handler.
func NewRecordHandler(deps RecordDependencies) *RecordHandler {
	return &RecordHandler{deps: deps}
}

type submitRecordRequest struct {
	Time       string  `json:"time" validate:"required"`
	DistanceKm float64 `json:"distance_km" validate:"gt=0"`
	Date       string  `json:"date" validate:"required,datetime=2006-01-02"`
	ImageURL   string  `json:"image_url" validate:"omitempty,url"`
}

type userRecordsResponse struct {
	Rating  rating.UserRating      `json:"rating"`
	Records []service.ScoredRecord `json:"records"`
}

// HandleSubmit handles POST /api/records for the caller.
func (h *RecordHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_record"
	var req submitRecordRequest
	if err := decode(r, &req); err != nil {
		fail(w, op, err)
		return
	}
	seq, _ := UserFromContext(r.Context())
	rec, err := h.deps.SubmitRecord(r.Context(), service.SubmitRecordInput{
		UserSeq:    seq,
		Time:       req.Time,
		DistanceKm: req.DistanceKm,
		Date:       req.Date,
		ImageURL:   req.ImageURL,
	})
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// HandleUserRecords handles GET /api/records/user/{seq}.
func (h *RecordHandler) HandleUserRecords(w http.ResponseWriter, r *http.Request) {
	const op = "api.user_records"
	seq, err := pathSeq(r, "seq")
	if err != nil {
		fail(w, op, err)
		return
	}
	recs, rt, err := h.deps.UserRecords(r.Context(), seq)
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, userRecordsResponse{Rating: rt, Records: recs})
}

// HandlePending handles GET /api/records/pending for admins.
func (h *RecordHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	actor, _ := UserFromContext(r.Context())
	recs, err := h.deps.PendingRecords(r.Context(), actor)
	if err != nil {
		fail(w, "api.pending_records", err)
		return
	}
	if recs == nil {
		recs = []model.RunRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleApprove handles PUT /api/records/{id}/approve for admins.
func (h *RecordHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "api.approve_record", h.deps.ApproveRecord)
}

// HandleReject handles PUT /api/records/{id}/reject for admins.
func (h *RecordHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "api.reject_record", h.deps.RejectRecord)
}

func (h *RecordHandler) decide(w http.ResponseWriter, r *http.Request, op string,
	fn func(context.Context, int64, string) (model.RunRecord, error),
) {
	actor, _ := UserFromContext(r.Context())
	rec, err := fn(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

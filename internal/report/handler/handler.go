package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"

	"aeroinsight/internal/report/models"
	"aeroinsight/internal/report/store"
	"aeroinsight/internal/session"
	dErrors "aeroinsight/pkg/domain-errors"
	"aeroinsight/pkg/platform/httputil"
	"aeroinsight/pkg/requestcontext"
)

// Service defines the report operations used by the HTTP layer.
type Service interface {
	Submit(ctx context.Context, sess *session.Session, sub models.Submission) (*models.Report, error)
	Get(ctx context.Context, sess *session.Session, id string) (*models.Report, error)
	List(ctx context.Context, sess *session.Session) ([]*models.Report, error)
	Watch(ctx context.Context, sess *session.Session) (*store.Subscription, error)
	Review(ctx context.Context, sess *session.Session, id string, u models.ReviewUpdate) (*models.Report, error)
}

// Handler serves the report endpoints.
type Handler struct {
	reports   Service
	logger    *slog.Logger
	loginPath string
	keepAlive time.Duration
}

// New creates a report Handler.
func New(reports Service, logger *slog.Logger, loginPath string) *Handler {
	return &Handler{
		reports:   reports,
		logger:    logger,
		loginPath: loginPath,
		keepAlive: 15 * time.Second,
	}
}

// Register registers the report routes with the chi router. The session
// middleware must already be installed.
func (h *Handler) Register(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Use(session.RequireSession(h.loginPath))
		r.Post("/", h.HandleSubmit)
		r.Get("/", h.HandleList)
		r.Get("/stream", h.HandleStream)
		r.Get("/{id}", h.HandleGet)
		r.Patch("/{id}/review", h.HandleReview)
	})
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	report, err := h.reports.Submit(ctx, session.FromContext(ctx), req.Submission())
	if err != nil {
		h.writeError(ctx, w, "submit report", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, report)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reports, err := h.reports.List(ctx, session.FromContext(ctx))
	if err != nil {
		h.writeError(ctx, w, "list reports", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{Reports: reports})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.reports.Get(ctx, session.FromContext(ctx), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(ctx, w, "get report", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) HandleReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ReviewRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	report, err := h.reports.Review(ctx, session.FromContext(ctx), chi.URLParam(r, "id"), req.Update())
	if err != nil {
		h.writeError(ctx, w, "review report", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// HandleStream serves the caller's live report list as Server-Sent Events.
// Each snapshot is one "snapshot" event whose id is the snapshot sequence.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sub, err := h.reports.Watch(ctx, session.FromContext(ctx))
	if err != nil {
		h.writeError(ctx, w, "open report stream", err)
		return
	}
	defer sub.Close()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.WarnContext(ctx, "report stream cannot flush", "error", err)
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case snap, ok := <-sub.Updates():
			if !ok {
				return
			}
			if err := writeSnapshot(w, snap); err != nil {
				h.logger.DebugContext(ctx, "report stream closed by client", "error", err)
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeSnapshot(w io.Writer, snap models.Snapshot) error {
	if snap.Reports == nil {
		snap.Reports = []*models.Report{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\nid: %d\ndata: %s\n\n", snap.Seq, data)
	return err
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	code := dErrors.CodeOf(err)
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"code", string(code),
		"error", err,
	}
	switch code {
	case dErrors.CodeInternal:
		h.logger.ErrorContext(ctx, "failed to "+op, attrs...)
		sentry.CaptureException(err)
	case dErrors.CodeUnavailable:
		h.logger.ErrorContext(ctx, "failed to "+op, attrs...)
	default:
		h.logger.InfoContext(ctx, "rejected "+op, attrs...)
	}
	httputil.WriteError(w, err)
}

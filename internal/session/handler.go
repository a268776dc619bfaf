package session

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"aeroinsight/internal/identity/models"
	"aeroinsight/pkg/platform/httputil"
)

// View is the JSON shape of GET /session.
type View struct {
	Principal      *models.Principal `json:"principal"`
	Profile        *models.Profile   `json:"profile,omitempty"`
	ProfileMissing bool              `json:"profile_missing"`
	Privileged     bool              `json:"privileged"`
}

// Handler serves the session view.
type Handler struct {
	loginPath string
}

func NewHandler(loginPath string) *Handler {
	return &Handler{loginPath: loginPath}
}

// Register registers the session routes with the router.
func (h *Handler) Register(r chi.Router) {
	r.With(RequireSession(h.loginPath)).Get("/session", h.HandleSession)
}

// HandleSession returns the caller's principal and profile.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	sess := FromContext(r.Context())
	httputil.WriteJSON(w, http.StatusOK, View{
		Principal:      sess.Principal,
		Profile:        sess.Profile,
		ProfileMissing: sess.Profile == nil,
		Privileged:     sess.Subject().Privileged(),
	})
}

package reminder

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-reminder/internal/auth"
	"github.com/ovaphlow/pitchfork/service-reminder/internal/reminder/entity"
)

// Handler exposes reminder and notification endpoints. Every route expects
// auth.RequireUser in front of it.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// CreateRequest is the JSON body of POST /reminders. When accepts RFC 3339;
// a timestamp without zone is read as UTC.
type CreateRequest struct {
	Title                 string  `json:"title"`
	Body                  string  `json:"body"`
	When                  string  `json:"when"`
	Recurrence            *string `json:"recurrence,omitempty"`
	RepeatIntervalSeconds *int64  `json:"repeat_interval_seconds,omitempty"`
	Category              *string `json:"category,omitempty"`
	Tags                  *string `json:"tags,omitempty"`
}

var whenLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

func parseWhen(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range whenLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	when, ok := parseWhen(req.When)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "when must be an ISO 8601 timestamp"})
		return
	}
	rem, err := h.svc.Create(r.Context(), uid, CreateInput{
		Title:                 req.Title,
		Body:                  req.Body,
		When:                  when,
		Recurrence:            req.Recurrence,
		RepeatIntervalSeconds: req.RepeatIntervalSeconds,
		Category:              req.Category,
		Tags:                  req.Tags,
	})
	if err != nil {
		h.fail(w, "create reminder", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":              rem.ID,
		"scheduled_for":   rem.When,
		"repeat_interval": rem.RepeatInterval,
	})
}

// reminderView is the list representation; when is unix seconds.
type reminderView struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Body           string  `json:"body"`
	When           int64   `json:"when"`
	Status         string  `json:"status"`
	Recurrence     *string `json:"recurrence"`
	RepeatInterval *int64  `json:"repeat_interval"`
	Category       *string `json:"category"`
	Tags           *string `json:"tags"`
}

func toView(rem *entity.Reminder) reminderView {
	return reminderView{
		ID:             rem.ID,
		Title:          rem.Title,
		Body:           rem.Body,
		When:           rem.When.Unix(),
		Status:         rem.Status,
		Recurrence:     rem.Recurrence,
		RepeatInterval: rem.RepeatInterval,
		Category:       rem.Category,
		Tags:           rem.Tags,
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	list, err := h.svc.List(r.Context(), uid)
	if err != nil {
		h.fail(w, "list reminders", err)
		return
	}
	out := make([]reminderView, 0, len(list))
	for _, rem := range list {
		out = append(out, toView(rem))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	rem, err := h.svc.Get(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		h.fail(w, "get reminder", err)
		return
	}
	writeJSON(w, http.StatusOK, toView(rem))
}

func (h *Handler) Snooze(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id := r.PathValue("id")
	minutes := 5
	if v := r.URL.Query().Get("minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "minutes must be an integer"})
			return
		}
		minutes = n
	}
	until, err := h.svc.Snooze(r.Context(), uid, id, minutes)
	if err != nil {
		h.fail(w, "snooze reminder", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "snoozed_until": until})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id := r.PathValue("id")
	if err := h.svc.Cancel(r.Context(), uid, id); err != nil {
		h.fail(w, "cancel reminder", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": entity.StatusCancelled})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id := r.PathValue("id")
	if err := h.svc.Delete(r.Context(), uid, id); err != nil {
		h.fail(w, "delete reminder", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// notificationView is one poll result; when is unix seconds.
type notificationView struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
	When  int64  `json:"when"`
}

// Poll returns fired notifications with when > since (unix seconds).
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	var since *time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be unix seconds"})
			return
		}
		t := time.Unix(n, 0).UTC()
		since = &t
	}
	firings, err := h.svc.PollFired(r.Context(), uid, since)
	if err != nil {
		h.fail(w, "poll notifications", err)
		return
	}
	out := make([]notificationView, 0, len(firings))
	for _, f := range firings {
		out = append(out, notificationView{ID: f.ReminderID, Title: f.Title, Body: f.Body, When: f.When.Unix()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "reminder not found"})
	case errors.Is(err, ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not your reminder"})
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidState):
		status := http.StatusBadRequest
		if errors.Is(err, ErrInvalidState) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
	default:
		h.logger.Errorw(op+" failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": op + " failed"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package todos

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const BasePath = "/api/todos"

var updateConflicts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "todo_update_conflicts_total",
		Help: "Optimistic concurrency conflicts on todo updates, by outcome",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(updateConflicts)
}

type messageResponse struct {
	Message string `json:"message"`
}

type deleteResponse struct {
	Message   string `json:"message"`
	DeletedID int64  `json:"deletedId"`
}

type handler struct {
	repo   Repository
	logger *slog.Logger
}

// RegisterRoutes mounts the todo collection on r under BasePath.
func RegisterRoutes(r chi.Router, repo Repository, logger *slog.Logger) {
	h := &handler{repo: repo, logger: logger}
	r.Route(BasePath, func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
}

// list godoc
// @Summary      List all todos
// @Tags         todos
// @Produce      json
// @Success      200  {array}   todos.Todo
// @Failure      500  {object}  todos.messageResponse
// @Router       /api/todos [get]
func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.List(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// get godoc
// @Summary      Get a todo by ID
// @Tags         todos
// @Produce      json
// @Param        id   path      int  true  "Todo ID"
// @Success      200  {object}  todos.Todo
// @Failure      400  {object}  todos.messageResponse
// @Failure      404
// @Router       /api/todos/{id} [get]
func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	t, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	setETag(w, t.Version)
	writeJSON(w, http.StatusOK, t)
}

// create godoc
// @Summary      Create a todo
// @Description  Any id in the body is ignored; the store assigns one.
// @Tags         todos
// @Accept       json
// @Produce      json
// @Param        body  body      todos.Todo  true  "Todo"
// @Success      201   {object}  todos.Todo
// @Failure      400   {object}  todos.messageResponse
// @Router       /api/todos [post]
func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	var in Todo
	if !decodeBody(w, r, &in) {
		return
	}
	t, err := h.repo.Create(r.Context(), in)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("%s/%d", BasePath, t.ID))
	setETag(w, t.Version)
	writeJSON(w, http.StatusCreated, t)
}

// update godoc
// @Summary      Replace a todo
// @Description  Overwrites every field except createdDate. Send If-Match with the ETag from a previous read to guard against lost updates.
// @Tags         todos
// @Accept       json
// @Produce      json
// @Param        id        path      int         true   "Todo ID"
// @Param        If-Match  header    string      false  "ETag of the version being replaced"
// @Param        body      body      todos.Todo  true   "Todo"
// @Success      200       {object}  todos.Todo
// @Failure      400       {object}  todos.messageResponse
// @Failure      404       {object}  todos.messageResponse
// @Failure      500       {object}  todos.messageResponse
// @Router       /api/todos/{id} [put]
func (h *handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var in Todo
	if !decodeBody(w, r, &in) {
		return
	}
	if in.ID != id {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "ID in URL and request body must match"})
		return
	}

	ctx := r.Context()
	in.Version = ifMatch(r)
	if in.Version == "" {
		cur, err := h.repo.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			notFound(w, id)
			return
		}
		if err != nil {
			h.internalError(w, r, err)
			return
		}
		in.Version = cur.Version
	}

	t, err := h.repo.Update(ctx, in)
	if errors.Is(err, ErrConflict) {
		exists, xerr := h.repo.Exists(ctx, id)
		if xerr != nil {
			h.internalError(w, r, xerr)
			return
		}
		if !exists {
			updateConflicts.WithLabelValues("deleted").Inc()
			notFound(w, id)
			return
		}
		// A concurrent writer won; this request is not retried.
		updateConflicts.WithLabelValues("unresolved").Inc()
		h.logger.ErrorContext(ctx, "todo_update_conflict", slog.Int64("id", id))
		writeJSON(w, http.StatusInternalServerError, messageResponse{
			Message: fmt.Sprintf("Todo with ID %d was modified concurrently", id),
		})
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	setETag(w, t.Version)
	writeJSON(w, http.StatusOK, t)
}

// delete godoc
// @Summary      Delete a todo
// @Tags         todos
// @Produce      json
// @Param        id   path      int  true  "Todo ID"
// @Success      200  {object}  todos.deleteResponse
// @Failure      400  {object}  todos.messageResponse
// @Failure      404  {object}  todos.messageResponse
// @Router       /api/todos/{id} [delete]
func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	err := h.repo.Delete(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		notFound(w, id)
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{
		Message:   fmt.Sprintf("Todo with ID %d deleted successfully", id),
		DeletedID: id,
	})
}

func (h *handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.ErrorContext(r.Context(), "todo_store_error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "unexpected error"})
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: fmt.Sprintf("invalid todo id %q", raw)})
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "invalid JSON"})
		return false
	}
	return true
}

func notFound(w http.ResponseWriter, id int64) {
	writeJSON(w, http.StatusNotFound, messageResponse{Message: fmt.Sprintf("Todo with ID %d not found", id)})
}

func setETag(w http.ResponseWriter, version string) {
	if version != "" {
		w.Header().Set("ETag", strconv.Quote(version))
	}
}

// ifMatch returns the version named by the If-Match header, or "" when absent
// or a wildcard.
func ifMatch(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("If-Match"))
	v = strings.TrimPrefix(v, "W/")
	if v == "" || v == "*" {
		return ""
	}
	return strings.Trim(v, `"`)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

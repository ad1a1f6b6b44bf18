package server

import (
	"context"
	"io"
	"net/http"
	"strconv"

	errorsmod "cosmossdk.io/errors"
	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"ClearingHouse/internal/event"
	"ClearingHouse/internal/observability"
	"ClearingHouse/internal/query"
)

const maxCommandBytes = 1 << 20

// CommandSubmitter is satisfied by *ingestion.APIIngestService.
type CommandSubmitter interface {
	Submit(ctx context.Context, commandType string, payload []byte) (event.Event, error)
}

// SnapshotTrigger is satisfied by *persistence.Snapshotter.
type SnapshotTrigger interface {
	TakeSnapshot(ctx context.Context, force bool) error
}

// Deps holds the services behind the API. Snapshots and Rebuild are
// optional; their routes answer Unavailable when unset.
type Deps struct {
	Query     *query.QueryService
	Commands  CommandSubmitter
	Snapshots SnapshotTrigger
	Rebuild   func(ctx context.Context) error
	Health    *observability.HealthChecker
}

type apiHandler struct {
	deps      *Deps
	marshaler runtime.Marshaler
}

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

// NewAPIHandler registers the /v1 routes on a gateway mux.
func NewAPIHandler(deps *Deps) (http.Handler, error) {
	h := &apiHandler{deps: deps, marshaler: &runtime.JSONBuiltin{}}
	mux := runtime.NewServeMux()

	routes := []route{
		{http.MethodGet, "/v1/state", h.getState},
		{http.MethodGet, "/v1/markets", h.listMarkets},
		{http.MethodGet, "/v1/markets/{index}", h.getMarket},
		{http.MethodGet, "/v1/history/{history}", h.getHistory},
		{http.MethodGet, "/v1/accounts/{user_id}", h.getAccount},
		{http.MethodGet, "/v1/accounts/{user_id}/history/{history}", h.getUserHistory},
		{http.MethodGet, "/v1/accounts/{user_id}/journals", h.listJournals},
		{http.MethodPost, "/v1/commands/{type}", h.submitCommand},
		{http.MethodPost, "/v1/admin/snapshot", h.takeSnapshot},
		{http.MethodPost, "/v1/admin/rebuild-projections", h.rebuildProjections},
		{http.MethodGet, "/v1/admin/integrity", h.verifyIntegrity},
		{http.MethodGet, "/v1/admin/event-log", h.eventLogInfo},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *apiHandler) write(w http.ResponseWriter, status int, v interface{}) {
	body, err := h.marshaler.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", h.marshaler.ContentType(v))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *apiHandler) fail(w http.ResponseWriter, err error) {
	code := query.StatusCode(err)
	h.write(w, runtime.HTTPStatusFromCode(code), errorBody{Code: code.String(), Message: err.Error()})
}

func (h *apiHandler) getState(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	v, err := h.deps.Query.GetState()
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, v)
}

func (h *apiHandler) listMarkets(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	v, err := h.deps.Query.ListMarkets()
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, map[string]interface{}{"markets": v})
}

func (h *apiHandler) getMarket(w http.ResponseWriter, r *http.Request, params map[string]string) {
	idx, err := strconv.ParseUint(params["index"], 10, 16)
	if err != nil {
		h.fail(w, errorsmod.Wrapf(query.ErrInvalidArgument, "market index %q", params["index"]))
		return
	}
	v, err := h.deps.Query.GetMarket(uint16(idx))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, v)
}

func (h *apiHandler) getHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	after, limit, err := pageParams(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	v, err := h.deps.Query.GetHistory(params["history"], after, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, v)
}

func (h *apiHandler) getAccount(w http.ResponseWriter, r *http.Request, params map[string]string) {
	user, err := userParam(params)
	if err != nil {
		h.fail(w, err)
		return
	}
	v, err := h.deps.Query.GetAccount(user)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, v)
}

func (h *apiHandler) getUserHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	user, err := userParam(params)
	if err != nil {
		h.fail(w, err)
		return
	}
	after, limit, err := pageParams(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	v, err := h.deps.Query.GetUserHistory(user, params["history"], after, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, v)
}

func (h *apiHandler) listJournals(w http.ResponseWriter, r *http.Request, params map[string]string) {
	user, err := userParam(params)
	if err != nil {
		h.fail(w, err)
		return
	}
	before, limit, err := pageParams(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	v, err := h.deps.Query.GetJournalHistory(r.Context(), user, int64(before), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, map[string]interface{}{"journals": v})
}

type commandResponse struct {
	Accepted       bool   `json:"accepted"`
	Command        string `json:"command"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *apiHandler) submitCommand(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if h.deps.Commands == nil {
		h.fail(w, errorsmod.Wrap(query.ErrUnavailable, "command ingest disabled"))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBytes))
	if err != nil {
		h.fail(w, errorsmod.Wrap(query.ErrInvalidArgument, err.Error()))
		return
	}
	evt, err := h.deps.Commands.Submit(r.Context(), params["type"], body)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, commandResponse{
		Accepted:       true,
		Command:        evt.EventType().String(),
		IdempotencyKey: evt.IdempotencyKey(),
	})
}

func (h *apiHandler) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if h.deps.Snapshots == nil {
		h.fail(w, errorsmod.Wrap(query.ErrUnavailable, "snapshots disabled"))
		return
	}
	if err := h.deps.Snapshots.TakeSnapshot(r.Context(), true); err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, map[string]bool{"taken": true})
}

func (h *apiHandler) rebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if h.deps.Rebuild == nil {
		h.fail(w, errorsmod.Wrap(query.ErrUnavailable, "no projection database"))
		return
	}
	if err := h.deps.Rebuild(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, map[string]bool{"rebuilt": true})
}

func (h *apiHandler) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	v, err := h.deps.Query.VerifyIntegrity(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, v)
}

func (h *apiHandler) eventLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	v, err := h.deps.Query.GetEventLogInfo(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, v)
}

// --- helpers ---

func userParam(params map[string]string) (uuid.UUID, error) {
	id, err := uuid.Parse(params["user_id"])
	if err != nil {
		return uuid.Nil, errorsmod.Wrapf(query.ErrInvalidArgument, "user_id: %v", err)
	}
	return id, nil
}

// pageParams reads the cursor (after, or before for journals) and limit.
func pageParams(r *http.Request) (uint64, int, error) {
	q := r.URL.Query()
	var cursor uint64
	for _, name := range []string{"after", "before"} {
		if v := q.Get(name); v != "" {
			n, err := strconv.ParseUint(v, 10, 63)
			if err != nil {
				return 0, 0, errorsmod.Wrapf(query.ErrInvalidArgument, "%s: %v", name, err)
			}
			cursor = n
		}
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, errorsmod.Wrapf(query.ErrInvalidArgument, "limit %q", v)
		}
		limit = n
	}
	return cursor, limit, nil
}

package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ClearingHouse/internal/core"
	"ClearingHouse/internal/errs"
	"ClearingHouse/internal/event"
	"ClearingHouse/internal/observability"
	"ClearingHouse/internal/projection"
	"ClearingHouse/internal/query"
	"ClearingHouse/internal/server"
	"ClearingHouse/internal/state"
)

type fakeCommands struct {
	err      error
	gotType  string
	gotBody  string
	response event.Event
}

func (f *fakeCommands) Submit(_ context.Context, commandType string, payload []byte) (event.Event, error) {
	f.gotType, f.gotBody = commandType, string(payload)
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

type fakeSnapshots struct{ forced bool }

func (f *fakeSnapshots) TakeSnapshot(_ context.Context, force bool) error {
	f.forced = force
	return nil
}

func newServer(t *testing.T, deps *server.Deps) http.Handler {
	t.Helper()
	deriver := state.HashAuthorityDeriver{Program: state.Pubkey{0xc1}}
	ca, _ := deriver.DeriveAuthority(state.Pubkey{0x01})
	ia, _ := deriver.DeriveAuthority(state.Pubkey{0x02})
	st, err := state.NewState(state.InitializeParams{
		Admin:                    state.Pubkey{0xad},
		CollateralMint:           state.Pubkey{0x03},
		CollateralVault:          state.Pubkey{0x01},
		CollateralVaultAuthority: ca,
		InsuranceVault:           state.Pubkey{0x02},
		InsuranceVaultAuthority:  ia,
		Markets:                  state.Pubkey{0x04},
	}, deriver, state.DefaultDefaults())
	require.NoError(t, err)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	c, err := core.NewDeterministicCore(core.Config{}, st, nil, nil, nil, nil, metrics, zerolog.Nop())
	require.NoError(t, err)

	deps.Query = query.NewQueryService(c, projection.NewStore(0), nil, metrics)
	deps.Health = observability.NewHealthChecker()
	srv, err := server.NewServer(server.Config{
		GRPCAddr:       "127.0.0.1:0",
		HTTPAddr:       "127.0.0.1:0",
		AllowedOrigins: []string{"https://console.example"},
	}, deps, nil, zerolog.Nop())
	require.NoError(t, err)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestQueryRoutes(t *testing.T) {
	h := newServer(t, &server.Deps{})

	rec, body := do(t, h, http.MethodGet, "/v1/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["sequence"])

	rec, body = do(t, h, http.MethodGet, "/v1/markets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["markets"])

	rec, body = do(t, h, http.MethodGet, "/v1/markets/3", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "FailedPrecondition", body["code"])

	rec, _ = do(t, h, http.MethodGet, "/v1/markets/70000", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, h, http.MethodGet, "/v1/accounts/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidArgument", body["code"])

	rec, body = do(t, h, http.MethodGet, "/v1/accounts/"+uuid.NewString(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", body["collateral"])

	rec, body = do(t, h, http.MethodGet, "/v1/history/trade?after=5&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trade", body["history"])

	rec, _ = do(t, h, http.MethodGet, "/v1/history/trade?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDatabaseRoutesUnavailable(t *testing.T) {
	h := newServer(t, &server.Deps{})

	for _, path := range []string{"/v1/admin/integrity", "/v1/accounts/" + uuid.NewString() + "/journals"} {
		rec, body := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.Equal(t, "Unavailable", body["code"], path)
	}
	rec, _ := do(t, h, http.MethodPost, "/v1/admin/snapshot", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec, _ = do(t, h, http.MethodPost, "/v1/admin/rebuild-projections", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmitCommand(t *testing.T) {
	requestID := uuid.New()
	cmds := &fakeCommands{response: &event.Deposit{RequestID: requestID, UserID: uuid.New()}}
	snaps := &fakeSnapshots{}
	h := newServer(t, &server.Deps{Commands: cmds, Snapshots: snaps})

	rec, body := do(t, h, http.MethodPost, "/v1/commands/Deposit", `{"amount":"1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Deposit", cmds.gotType)
	assert.Equal(t, `{"amount":"1"}`, cmds.gotBody)
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, "Deposit", body["command"])

	cmds.err = errs.ErrExchangePaused
	rec, body = do(t, h, http.MethodPost, "/v1/commands/Deposit", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, body["message"], "exchange paused")

	cmds.err = errs.ErrUnknownCommand
	rec, _ = do(t, h, http.MethodPost, "/v1/commands/Nope", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/v1/admin/snapshot", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, snaps.forced)
}

func TestHealthAndCORS(t *testing.T) {
	h := newServer(t, &server.Deps{})

	rec, _ := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	req := httptest.NewRequest(http.MethodOptions, "/v1/state", nil)
	req.Header.Set("Origin", "https://console.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://console.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

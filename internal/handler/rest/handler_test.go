package rest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/osrs-friend-monitor/friend-monitor-server/config"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/auth"
	httpsrv "github.com/osrs-friend-monitor/friend-monitor-server/infra/server/http"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/store"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/registry"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/handler/ws"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/service"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeAccounts struct {
	service.Accounts

	mu         sync.Mutex
	accounts   map[model.AccountHash]*model.RunescapeAccount
	updateErr  error
	updates    []service.AccountUpdate
	recomputed []model.AccountHash
}

func (f *fakeAccounts) GetAccount(_ context.Context, hash model.AccountHash) (*model.RunescapeAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[hash], nil
}

func (f *fakeAccounts) GetValidatedFriendsList(_ context.Context, hash model.AccountHash) (*model.ValidatedFriendsList, error) {
	return nil, nil
}

func (f *fakeAccounts) CreateOrUpdateAccount(_ context.Context, userID string, upd service.AccountUpdate) (*model.RunescapeAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updates = append(f.updates, upd)
	return &model.RunescapeAccount{AccountHash: upd.AccountHash, UserID: userID, DisplayName: upd.DisplayName}, nil
}

func (f *fakeAccounts) OnFriendsListChanged(_ context.Context, hash model.AccountHash) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recomputed = append(f.recomputed, hash)
	return true
}

type fakeIngester struct {
	mu       sync.Mutex
	ingested []model.ActivityUpdate
	err      error
}

func (f *fakeIngester) Ingest(_ context.Context, _ string, u model.ActivityUpdate) (model.ActivityUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.ingested = append(f.ingested, u)
	return u, nil
}

func (f *fakeIngester) Recent(_ context.Context, _ string, _ model.AccountHash, _ int) ([]model.ActivityUpdate, error) {
	return nil, nil
}

type fakeDeliverer struct {
	mu       sync.Mutex
	owner    map[model.AccountHash]string
	conns    []registry.Connector
	received []model.ClientMessage
}

func (f *fakeDeliverer) Subscribe(_ context.Context, userID string, hash model.AccountHash) (registry.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner, ok := f.owner[hash]
	switch {
	case !ok:
		return nil, service.ErrAccountNotFound
	case owner != userID:
		return nil, service.ErrUnauthorized
	}
	conn := registry.NewConnector(context.Background(), hash, 8)
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakeDeliverer) Unsubscribe(conn registry.Connector) { conn.Close() }

func (f *fakeDeliverer) HandleClientMessage(_ model.AccountHash, msg model.ClientMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, msg)
}

func (f *fakeDeliverer) Stats() model.HubStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.HubStats{Connections: len(f.conns), Tick: 7}
}

type apiEnv struct {
	srv       *httptest.Server
	verifier  *auth.Verifier
	accounts  *fakeAccounts
	ingester  *fakeIngester
	deliverer *fakeDeliverer
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	verifier, err := auth.NewVerifier("test-secret", time.Second)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	env := &apiEnv{
		verifier: verifier,
		accounts: &fakeAccounts{accounts: map[model.AccountHash]*model.RunescapeAccount{
			1: {AccountHash: 1, UserID: "user-1", DisplayName: "Alice"},
		}},
		ingester:  &fakeIngester{},
		deliverer: &fakeDeliverer{owner: map[model.AccountHash]string{1: "user-1"}},
	}

	server := httpsrv.New(&config.Config{}, verifier, prometheus.NewRegistry(), logger)
	Register(server,
		NewHandler(logger, env.accounts, env.ingester, env.deliverer),
		ws.NewWSHandler(logger, env.deliverer))

	env.srv = httptest.NewServer(server.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *apiEnv) do(t *testing.T, method, path, user, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if user != "" {
		token, err := e.verifier.Issue(user, time.Minute)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPostActivity(t *testing.T) {
	env := newAPIEnv(t)
	body := `{"type":"LOCATION","accountHash":1,"timestamp":1700000000000,"x":3200,"y":3200,"plane":0,"world":301}`

	if resp := env.do(t, http.MethodPost, "/api/activity", "", body); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous: status %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/api/activity", "user-1", `{"type":"DANCE"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown type: status %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/api/activity", "user-1", body); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("valid: status %d", resp.StatusCode)
	}

	env.ingester.mu.Lock()
	ingested := env.ingester.ingested
	env.ingester.err = service.ErrUnauthorized
	env.ingester.mu.Unlock()

	if len(ingested) != 1 {
		t.Fatalf("ingested %d updates", len(ingested))
	}
	loc, ok := ingested[0].(model.LocationUpdate)
	if !ok || loc.X != 3200 || loc.World != 301 {
		t.Fatalf("ingested %#v", ingested[0])
	}
	if resp := env.do(t, http.MethodPost, "/api/activity", "user-2", body); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("foreign account: status %d", resp.StatusCode)
	}
}

func TestPostAccountMapsErrors(t *testing.T) {
	env := newAPIEnv(t)
	body := `{"accountHash":1,"displayName":"Alice","friends":["Bob"]}`

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"ok", nil, http.StatusNoContent},
		{"invalid", service.ErrInvalidAccount, http.StatusBadRequest},
		{"foreign", service.ErrUnauthorized, http.StatusForbidden},
		{"conflict", store.ErrConflict, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env.accounts.mu.Lock()
			env.accounts.updateErr = tc.err
			env.accounts.mu.Unlock()
			if resp := env.do(t, http.MethodPost, "/api/account/runescape", "user-1", body); resp.StatusCode != tc.status {
				t.Fatalf("status %d, want %d", resp.StatusCode, tc.status)
			}
		})
	}

	env.accounts.mu.Lock()
	updates := env.accounts.updates
	env.accounts.updateErr = nil
	env.accounts.mu.Unlock()

	if len(updates) != 1 || updates[0].Friends[0] != "Bob" {
		t.Fatalf("updates %#v", updates)
	}
	if resp := env.do(t, http.MethodPost, "/api/account/runescape", "user-1", "{"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed: status %d", resp.StatusCode)
	}
}

func TestPostRecomputeChecksOwnership(t *testing.T) {
	env := newAPIEnv(t)

	if resp := env.do(t, http.MethodPost, "/api/account/runescape/1/friends/recompute", "user-2", ""); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign: status %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/api/account/runescape/9/friends/recompute", "user-1", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing: status %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/api/account/runescape/1/friends/recompute", "user-1", ""); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("owner: status %d", resp.StatusCode)
	}
	env.accounts.mu.Lock()
	defer env.accounts.mu.Unlock()
	if len(env.accounts.recomputed) != 1 || env.accounts.recomputed[0] != 1 {
		t.Fatalf("recomputed %v", env.accounts.recomputed)
	}
}

func TestGetValidatedFriendsEmpty(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodGet, "/api/account/runescape/1/friends", "user-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var l model.ValidatedFriendsList
	if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if l.AccountHash != 1 || l.Friends == nil || len(l.Friends) != 0 {
		t.Fatalf("list %#v", l)
	}
}

func TestMonitoringRoutesArePublic(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodGet, "/api/socket/connections", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connections: status %d", resp.StatusCode)
	}
	var got map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n, ok := got["connections"]; !ok || n != 0 {
		t.Fatalf("connections %v", got)
	}

	resp = env.do(t, http.MethodGet, "/api/stats", "", "")
	var stats model.HubStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Tick != 7 {
		t.Fatalf("stats %#v", stats)
	}
}

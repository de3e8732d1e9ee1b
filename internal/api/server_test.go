package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-test/deep"

	"github.com/energizer-project/beacon/internal/config"
	"github.com/energizer-project/beacon/internal/db"
	"github.com/energizer-project/beacon/internal/events"
	"github.com/energizer-project/beacon/internal/network"
	"github.com/energizer-project/beacon/internal/protocol"
	"github.com/energizer-project/beacon/internal/server"
)

type fakeHistory struct {
	records []db.ConnectionRecord
	err     error
	limit   int
}

func (f *fakeHistory) RecentConnections(limit int) ([]db.ConnectionRecord, error) {
	f.limit = limit
	return f.records, f.err
}

type testEnv struct {
	api      *Server
	endpoint *network.Endpoint
	state    *server.AdvertisementState
	history  *fakeHistory
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.API.Token = token
	cfg.API.RateLimitRPS = 1000

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	ep, err := network.NewEndpoint(cfg, bus)
	if err != nil {
		t.Fatal(err)
	}
	state, err := server.NewAdvertisementState(cfg.AdvertisementRecord(0), ep)
	if err != nil {
		t.Fatal(err)
	}
	history := &fakeHistory{}

	return &testEnv{
		api:      NewServer(cfg, ep, state, history),
		endpoint: ep,
		state:    state,
		history:  history,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.api.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("response is not JSON: %q", rec.Body.String())
		}
	}
	return rec, out
}

func TestPing(t *testing.T) {
	env := newTestEnv(t, "")
	rec, body := env.do(t, http.MethodGet, "/api/public/ping", "", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("ping = %d %v", rec.Code, body)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestGetAdvertisement(t *testing.T) {
	env := newTestEnv(t, "")
	rec, body := env.do(t, http.MethodGet, "/api/public/advertisement", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}

	if body["length"] != float64(52) {
		t.Errorf("length = %v, want 52", body["length"])
	}
	if !strings.HasPrefix(body["hex"].(string), "01154e65746865724e65742054657374205365727665720a54657374") {
		t.Errorf("hex = %v", body["hex"])
	}
	ad := body["advertisement"].(map[string]interface{})
	if ad["server_name"] != "NetherNet Test Server" || ad["game_type"] != float64(1) {
		t.Errorf("advertisement = %v", ad)
	}
	if body["revision"] != float64(1) {
		t.Errorf("revision = %v, want 1", body["revision"])
	}
	updatedAt, _ := body["updated_at"].(string)
	if _, err := time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		t.Errorf("updated_at = %v: %v", body["updated_at"], err)
	}
	if body["in_sync"] != true {
		t.Errorf("in_sync = %v, want true", body["in_sync"])
	}

	players := int32(4)
	if _, err := env.state.Update(server.AdvertisementPatch{PlayerCount: &players}); err != nil {
		t.Fatal(err)
	}
	_, body = env.do(t, http.MethodGet, "/api/public/advertisement", "", "")
	if body["revision"] != float64(2) || body["in_sync"] != true {
		t.Errorf("after update: revision = %v, in_sync = %v", body["revision"], body["in_sync"])
	}
}

func TestUpdateAdvertisement(t *testing.T) {
	env := newTestEnv(t, "")

	rec, body := env.do(t, http.MethodPut, "/api/control/advertisement",
		`{"player_count": 3, "server_name": "Updated"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}

	decoded, _, err := protocol.Decode(env.endpoint.Advertisement())
	if err != nil {
		t.Fatal(err)
	}
	want := env.state.Record()
	if want.PlayerCount != 3 || want.ServerName != "Updated" {
		t.Errorf("state = %+v", want)
	}
	if diff := deep.Equal(decoded, want); diff != nil {
		t.Errorf("served advertisement: %v", diff)
	}
}

func TestUpdateAdvertisementRejectsOverlongName(t *testing.T) {
	env := newTestEnv(t, "")
	before := env.endpoint.Advertisement()

	payload, _ := json.Marshal(map[string]string{"level_name": strings.Repeat("é", 128)})
	rec, body := env.do(t, http.MethodPut, "/api/control/advertisement", string(payload), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body["field"] != "level name" || body["length"] != float64(256) {
		t.Errorf("body = %v", body)
	}
	if diff := deep.Equal(env.endpoint.Advertisement(), before); diff != nil {
		t.Errorf("served advertisement changed: %v", diff)
	}
}

func TestUpdateAdvertisementEmptyPatch(t *testing.T) {
	env := newTestEnv(t, "")
	rec, _ := env.do(t, http.MethodPut, "/api/control/advertisement", `{}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestTokenRequired(t *testing.T) {
	env := newTestEnv(t, "secret")

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"public without token", "/api/public/ping", "", http.StatusOK},
		{"monitor without token", "/api/monitor/connections", "", http.StatusUnauthorized},
		{"monitor wrong token", "/api/monitor/connections", "nope", http.StatusUnauthorized},
		{"monitor with token", "/api/monitor/connections", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := env.do(t, http.MethodGet, tt.path, "", tt.token)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestGetHistory(t *testing.T) {
	env := newTestEnv(t, "")
	closed := time.Now()
	env.history.records = []db.ConnectionRecord{
		{ID: 1, ConnectionID: 9, Address: "10.0.0.2:4000", ClosedAt: &closed, CloseReason: "timeout"},
	}

	rec, body := env.do(t, http.MethodGet, "/api/monitor/history?limit=5", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if env.history.limit != 5 {
		t.Errorf("limit = %d, want 5", env.history.limit)
	}
	if body["total"] != float64(1) {
		t.Errorf("total = %v", body["total"])
	}

	rec, _ = env.do(t, http.MethodGet, "/api/monitor/history?limit=abc", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid limit status = %d", rec.Code)
	}

	env.history.err = errors.New("disk gone")
	rec, _ = env.do(t, http.MethodGet, "/api/monitor/history", "", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("failing store status = %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	if !rl.allow("1.2.3.4") || !rl.allow("1.2.3.4") {
		t.Fatal("burst of 2 rejected")
	}
	if rl.allow("1.2.3.4") {
		t.Error("third request allowed")
	}
	if !rl.allow("5.6.7.8") {
		t.Error("other client limited")
	}
	if n := rl.Prune(-time.Second); n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := map[string]string{
		"":           "",
		"Bearer abc": "abc",
		"bearer abc": "abc",
		"Basic abc":  "",
		"Bearerabc":  "",
	}
	for header, want := range tests {
		if got := extractBearerToken(header); got != want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

// addPeer registers a connection backed by an in-memory pipe and returns the
// peer side.
func (e *testEnv) addPeer(t *testing.T, id uint64) (*network.Connection, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})
	conn := network.NewConnection(id, local)
	e.endpoint.Connections().Register(conn)
	return conn, remote
}

func TestBroadcast(t *testing.T) {
	env := newTestEnv(t, "")
	_, peer := env.addPeer(t, 1)

	got := make(chan []byte, 1)
	go func() {
		data, err := protocol.ReadPacket(peer)
		if err != nil {
			t.Error(err)
		}
		got <- data
	}()

	body := `{"data":"` + base64.StdEncoding.EncodeToString([]byte("hello peers")) + `"}`
	rec, resp := env.do(t, http.MethodPost, "/api/control/broadcast", body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", rec.Code, resp)
	}
	if resp["sent"] != float64(1) || resp["length"] != float64(11) {
		t.Errorf("body = %v", resp)
	}
	select {
	case data := <-got:
		if string(data) != "hello peers" {
			t.Errorf("peer read %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer received nothing")
	}
}

func TestBroadcastRejectsBadData(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name string
		body string
	}{
		{"missing data", `{}`},
		{"not base64", `{"data":"@@@"}`},
		{"empty payload", `{"data":""}`},
		{"too large", `{"data":"` + base64.StdEncoding.EncodeToString(make([]byte, protocol.MaxPacketSize+1)) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := env.do(t, http.MethodPost, "/api/control/broadcast", tt.body, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, body = %v", rec.Code, body)
			}
		})
	}
}

func TestCloseConnection(t *testing.T) {
	env := newTestEnv(t, "")
	conn, _ := env.addPeer(t, 7)

	rec, body := env.do(t, http.MethodPost, "/api/control/connections/7/close", "", "")
	if rec.Code != http.StatusOK || body["closed"] != float64(7) {
		t.Fatalf("close = %d %v", rec.Code, body)
	}
	if conn.Reason() != events.CloseKicked {
		t.Errorf("Reason() = %q, want %q", conn.Reason(), events.CloseKicked)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/control/connections/99/close", "", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", rec.Code)
	}
	rec, _ = env.do(t, http.MethodPost, "/api/control/connections/abc/close", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rec.Code)
	}
}

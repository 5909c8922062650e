package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"oms-gateway/internal/bus"
	"oms-gateway/internal/events"
	"oms-gateway/internal/gateway"
	"oms-gateway/internal/monitor"
	"oms-gateway/internal/session"
	"oms-gateway/internal/stream"
	"oms-gateway/pkg/venue"
	"oms-gateway/pkg/venue/mock"
)

const testSecret = "test-secret"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fixture struct {
	server *Server
	venue  *mock.Venue
	hub    *events.Hub
	key    session.Key
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	b := bus.NewMemory(64)
	t.Cleanup(func() { _ = b.Close() })
	hub := events.NewHub()

	v := mock.New("zerodha")
	venues := gateway.Venues{"zerodha": func(venue.Credentials) (venue.Venue, error) { return v, nil }}
	reg := gateway.NewRegistry(venues, session.Options{
		Publisher: events.NewPublisher(b, hub),
		Stream:    stream.Config{RawChannel: "venue.raw.zerodha", EventChannel: "blitz.responses", ReconnectDelay: 20 * time.Millisecond},
	})
	t.Cleanup(reg.Close)

	key := session.Key{Venue: "zerodha", Entity: "E1"}
	_, err := reg.GetOrCreate(key, &venue.Credentials{APIKey: "k", APISecret: "s"})
	require.NoError(t, err)

	reg2 := prometheus.NewRegistry()
	opts := Options{
		JWTSecret: testSecret,
		AdminUser: "admin",
		Gatherer:  reg2,
		Metrics:   monitor.New(reg2),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return &fixture{server: NewServer(reg, hub, opts), venue: v, hub: hub, key: key}
}

func (f *fixture) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Router.ServeHTTP(rec, req)
	return rec
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := issueToken("admin", testSecret, time.Now().Add(time.Hour))
	require.NoError(t, err)
	return token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["sessions"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	notReady := newFixture(t, func(o *Options) { o.Ready = func() bool { return false } })
	rec = notReady.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "starting", decode(t, rec)["status"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	f.server.Router.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newFixture(t, nil)
	expired, err := issueToken("admin", testSecret, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	foreign, err := issueToken("admin", "other-secret", time.Now().Add(time.Hour))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing", "", "MISSING_TOKEN"},
		{"not bearer", "Basic abc", "INVALID_AUTH_HEADER"},
		{"garbage", "Bearer nope", "INVALID_TOKEN"},
		{"expired", "Bearer " + expired, "INVALID_TOKEN"},
		{"wrong secret", "Bearer " + foreign, "INVALID_TOKEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			f.server.Router.ServeHTTP(rec, req)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.code, decode(t, rec)["code"])
		})
	}
}

func TestAdminLogin(t *testing.T) {
	t.Run("disabled without hash", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"pw"}`, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	f := newFixture(t, func(o *Options) { o.AdminPasswordHash = string(hash) })

	t.Run("wrong password", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"nope"}`, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "INVALID_CREDENTIALS", decode(t, rec)["code"])
	})

	t.Run("wrong user", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/auth/login", `{"username":"root","password":"s3cret"}`, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/auth/login", `{"username":"admin"}`, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("issued token opens protected routes", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"s3cret"}`, "")
		require.Equal(t, http.StatusOK, rec.Code)
		token, _ := decode(t, rec)["token"].(string)
		require.NotEmpty(t, token)

		rec = f.do(t, http.MethodGet, "/api/sessions", "", token)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestListAndGetSessions(t *testing.T) {
	f := newFixture(t, nil)
	token := adminToken(t)

	rec := f.do(t, http.MethodGet, "/api/sessions", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Sessions []session.Info `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, f.key, list.Sessions[0].Key)
	assert.Equal(t, "UNAUTHENTICATED", list.Sessions[0].State)

	rec = f.do(t, http.MethodGet, "/api/sessions/zerodha/E1", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "E1", decode(t, rec)["key"].(map[string]any)["entity_id"])

	rec = f.do(t, http.MethodGet, "/api/sessions/zerodha/NOPE", "", token)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", decode(t, rec)["code"])
}

func TestLoginURL(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/sessions/zerodha/E1/login-url", "", adminToken(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://mock.invalid/login?venue=zerodha", decode(t, rec)["login_url"])
}

func TestCallbackLogsIn(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/callback/zerodha/E1?request_token=abc&action=login&status=success", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AUTHENTICATED", decode(t, rec)["state"])
	assert.NotContains(t, rec.Body.String(), "access-abc")

	sess, ok := f.server.Sessions.Get(f.key)
	require.True(t, ok)
	assert.Equal(t, session.Authenticated, sess.State())
}

func TestCallbackRejections(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"unknown tenant", "/callback/zerodha/NOPE?request_token=abc", http.StatusNotFound, "SESSION_NOT_FOUND"},
		{"venue reported failure", "/callback/zerodha/E1?status=cancelled", http.StatusBadRequest, "LOGIN_REJECTED"},
		{"no request token", "/callback/zerodha/E1", http.StatusBadRequest, "MISSING_REQUEST_TOKEN"},
		{"token refused", "/callback/zerodha/E1?request_token=invalid", http.StatusUnauthorized, "LOGIN_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			rec := f.do(t, http.MethodGet, tt.path, "", "")
			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode(t, rec)["code"])

			sess, _ := f.server.Sessions.Get(f.key)
			assert.Equal(t, session.Unauthenticated, sess.State())
		})
	}
}

func TestOperatorLogout(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/callback/zerodha/E1?request_token=abc", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sessions/zerodha/E1/logout", "", adminToken(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", decode(t, rec)["state"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodGet, "/health", "", "")

	rec := f.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `oms_gateway_http_requests_total{code="200",method="GET",path="/health"} 1`)
}

func TestIPLimiter(t *testing.T) {
	l := newIPLimiter(1, 1)
	assert.True(t, l.get("10.0.0.1").Allow())
	assert.False(t, l.get("10.0.0.1").Allow())
	assert.True(t, l.get("10.0.0.2").Allow())

	l.lastReset = time.Now().Add(-time.Hour)
	assert.True(t, l.get("10.0.0.1").Allow(), "stale table is dropped")
}

func TestWebsocketStreamsHubEnvelopes(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.server.Router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?channel=blitz.responses&token=" + adminToken(t)
	conn, resp, err := websocket.DefaultDialer.DialContext(t.Context(), wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	f.hub.Publish(events.Envelope{Channel: "venue.raw.zerodha", Data: "filtered out"})
	f.hub.Publish(events.Envelope{Channel: "blitz.responses", Data: map[string]string{"message_type": "SYSTEM_EVENT"}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got struct {
		Channel string            `json:"channel"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "blitz.responses", got.Channel)
	assert.Equal(t, "SYSTEM_EVENT", got.Data["message_type"])
}

func TestWebsocketRequiresToken(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/ws", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

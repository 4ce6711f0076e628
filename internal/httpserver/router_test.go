package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ldapapi/internal/config"
	"ldapapi/internal/ldap"
	"ldapapi/internal/monitor"
	"ldapapi/internal/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeDirectory struct {
	authErr      error
	memberErr    error
	report       *ldap.Report
	reportErr    error
	testErr      error
	serviceAcct  bool
	lastPassword string
	lastGroup    string
	lastDays     int
}

func (d *fakeDirectory) Authenticate(_ context.Context, username, password string) (ldap.Principal, error) {
	d.lastPassword = password
	return ldap.NewPrincipal(username), d.authErr
}

func (d *fakeDirectory) AuthenticateMember(_ context.Context, username, password, group string) (ldap.Principal, error) {
	d.lastPassword = password
	d.lastGroup = group
	return ldap.NewPrincipal(username), d.memberErr
}

func (d *fakeDirectory) InactiveAccounts(_ context.Context, _, _ string, days int) (*ldap.Report, error) {
	d.lastDays = days
	return d.report, d.reportErr
}

func (d *fakeDirectory) TestConnection(context.Context) error { return d.testErr }

func (d *fakeDirectory) HasServiceAccount() bool { return d.serviceAcct }

type fakeAuditor struct {
	mu     sync.Mutex
	events []storage.Event
}

func (a *fakeAuditor) Log(_ context.Context, e storage.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		AppPort:           "3001",
		CORSOrigins:       "*",
		LDAPURL:           "ldap://dc.example.com:389",
		JWTSecret:         testSecret,
		JWTTTL:            8 * time.Hour,
		RateLimitRequests: 0,
		RateLimitWindow:   time.Minute,
	}
}

func newTestServer(t *testing.T, cfg config.Config, dir *fakeDirectory, opts ...Option) (http.Handler, *Tokens) {
	t.Helper()
	tokens, err := NewTokens(cfg.JWTSecret, cfg.JWTTTL, "Example Corp")
	require.NoError(t, err)
	opts = append([]Option{WithProbe(func(context.Context) monitor.Status {
		return monitor.Status{Alive: true, Host: "dc.example.com", Port: 389}
	})}, opts...)
	return NewRouter(NewAPI(cfg, dir, tokens, zap.NewNop(), opts...)), tokens
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestLogin(t *testing.T) {
	t.Run("success issues a token", func(t *testing.T) {
		dir := &fakeDirectory{}
		h, tokens := newTestServer(t, testConfig(), dir)

		rec := post(t, h, "/login", `{"username":"jdoe","password":"s3cret"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp LoginResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "jdoe", resp.User.Username)
		assert.NotZero(t, resp.ExpiresAt)

		claims, err := tokens.Validate(resp.Token)
		require.NoError(t, err)
		assert.Equal(t, "jdoe", claims.Subject)
		assert.Equal(t, "Example Corp", claims.Company)
	})

	t.Run("rejected credentials", func(t *testing.T) {
		dir := &fakeDirectory{authErr: ldap.ErrInvalidCredentials}
		h, _ := newTestServer(t, testConfig(), dir)

		rec := post(t, h, "/login", `{"username":"jdoe","password":"nope"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "invalid credentials", decodeBody(t, rec)["error"])
	})

	t.Run("connection failure looks like bad credentials", func(t *testing.T) {
		dir := &fakeDirectory{authErr: &ldap.ConnectionError{Err: errors.New("dial tcp: i/o timeout")}}
		h, _ := newTestServer(t, testConfig(), dir)

		rec := post(t, h, "/login", `{"username":"jdoe","password":"s3cret"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "invalid credentials", decodeBody(t, rec)["error"])
		assert.NotContains(t, rec.Body.String(), "timeout")
	})

	t.Run("empty password reaches the directory", func(t *testing.T) {
		dir := &fakeDirectory{authErr: ldap.ErrInvalidCredentials}
		h, _ := newTestServer(t, testConfig(), dir)

		rec := post(t, h, "/login", `{"username":"jdoe","password":""}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		h, _ := newTestServer(t, testConfig(), &fakeDirectory{})

		assert.Equal(t, http.StatusBadRequest, post(t, h, "/login", `{"username":`).Code)

		rec := post(t, h, "/login", `{"password":"x"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "username is required", decodeBody(t, rec)["error"])
	})
}

func TestGroupLogin(t *testing.T) {
	t.Run("member", func(t *testing.T) {
		dir := &fakeDirectory{}
		h, tokens := newTestServer(t, testConfig(), dir)

		rec := post(t, h, "/login/group", `{"username":"jdoe","password":"s3cret","group":"VPN_Users"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "VPN_Users", dir.lastGroup)

		var resp LoginResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		claims, err := tokens.Validate(resp.Token)
		require.NoError(t, err)
		assert.Equal(t, "VPN_Users", claims.Group)
	})

	t.Run("not a member", func(t *testing.T) {
		dir := &fakeDirectory{memberErr: ldap.ErrAuthorizationDenied}
		h, _ := newTestServer(t, testConfig(), dir)

		rec := post(t, h, "/login/group", `{"username":"jdoe","password":"s3cret","group":"VPN_Users"}`)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "access denied", decodeBody(t, rec)["error"])
	})

	t.Run("group is required", func(t *testing.T) {
		h, _ := newTestServer(t, testConfig(), &fakeDirectory{})
		rec := post(t, h, "/login/group", `{"username":"jdoe","password":"s3cret"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestInactiveReport(t *testing.T) {
	report := &ldap.Report{
		Days:      90,
		Threshold: time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
		Accounts: []ldap.InactiveAccount{
			{DisplayName: "Alice", Email: "alice@example.com", LastLogon: ldap.LoggedOnAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))},
			{DisplayName: "Bob", LastLogon: ldap.Never},
		},
	}

	t.Run("success", func(t *testing.T) {
		dir := &fakeDirectory{report: report}
		auditor := &fakeAuditor{}
		h, _ := newTestServer(t, testConfig(), dir, WithAuditor(auditor))

		rec := post(t, h, "/lastLogon/report", `{"username":"admin","password":"adm1n","days":90}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{
			"total_inactive": 2,
			"days": 90,
			"threshold": "2024-03-03T00:00:00Z",
			"users": [
				{"displayName": "Alice", "email": "alice@example.com", "lastLogon": "2024-01-01T00:00:00Z"},
				{"displayName": "Bob", "lastLogon": "never"}
			]
		}`, rec.Body.String())

		require.Len(t, auditor.events, 1)
		e := auditor.events[0]
		assert.Equal(t, "admin", e.Actor)
		assert.Equal(t, storage.ActionReport, e.Action)
		assert.Equal(t, "success", e.Outcome)
		assert.Equal(t, 2, e.Context["total_inactive"])
		for _, v := range e.Context {
			assert.NotEqual(t, "adm1n", v, "password must never be audited")
		}
	})

	tests := []struct {
		name string
		err  error
		code int
	}{
		{"bad admin credentials", fmt.Errorf("%w: bind rejected", ldap.ErrAuthFailure), http.StatusUnauthorized},
		{"not an administrator", ldap.ErrAuthorizationDenied, http.StatusForbidden},
		{"size limit", ldap.ErrSizeLimitExceeded, http.StatusUnprocessableEntity},
		{"protocol error", &ldap.ProtocolError{Op: "inactivity search", Err: errors.New("operations error")}, http.StatusBadGateway},
		{"invalid days from the engine", ldap.ErrInvalidDays, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &fakeDirectory{reportErr: tt.err}
			h, _ := newTestServer(t, testConfig(), dir)

			rec := post(t, h, "/lastLogon/report", `{"username":"admin","password":"adm1n","days":90}`)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, ldap.PublicMessage(tt.err), decodeBody(t, rec)["error"])
		})
	}

	t.Run("days below one", func(t *testing.T) {
		dir := &fakeDirectory{report: report}
		h, _ := newTestServer(t, testConfig(), dir)

		for _, body := range []string{
			`{"username":"admin","password":"adm1n","days":0}`,
			`{"username":"admin","password":"adm1n","days":-5}`,
			`{"username":"admin","password":"adm1n","days":"90"}`,
		} {
			rec := post(t, h, "/lastLogon/report", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}
		assert.Zero(t, dir.lastDays, "engine not called for invalid input")
	})
}

func TestMe(t *testing.T) {
	h, tokens := newTestServer(t, testConfig(), &fakeDirectory{})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	token, _, err := tokens.Issue("jdoe", "")
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "jdoe", body["sub"])
	assert.Equal(t, TokenIssuer, body["iss"])

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token+"x")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, testConfig(), &fakeDirectory{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"alive": true, "host": "dc.example.com", "port": float64(389)}, body["directory"])

	down, _ := newTestServer(t, testConfig(), &fakeDirectory{}, WithProbe(func(context.Context) monitor.Status {
		return monitor.Status{Host: "dc.example.com", Port: 389}
	}))
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReady(t *testing.T) {
	get := func(h http.Handler) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		return rec
	}

	h, _ := newTestServer(t, testConfig(), &fakeDirectory{})
	rec := get(h)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "skipped", decodeBody(t, rec)["status"])

	h, _ = newTestServer(t, testConfig(), &fakeDirectory{serviceAcct: true})
	assert.Equal(t, http.StatusOK, get(h).Code)

	h, _ = newTestServer(t, testConfig(), &fakeDirectory{serviceAcct: true, testErr: errors.New("bind failed")})
	rec = get(h)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "bind failed")
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRequests = 2
	h, _ := newTestServer(t, cfg, &fakeDirectory{})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, post(t, h, "/login", `{"username":"jdoe","password":"s3cret"}`).Code)
	}
	rec := post(t, h, "/login", `{"username":"jdoe","password":"s3cret"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	health := httptest.NewRecorder()
	h.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code, "health is exempt")
}

func TestSecurityHeaders(t *testing.T) {
	h, _ := newTestServer(t, testConfig(), &fakeDirectory{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'self'")
}

func TestDocs(t *testing.T) {
	h, _ := newTestServer(t, testConfig(), &fakeDirectory{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, json.Valid(rec.Body.Bytes()))
	assert.True(t, bytes.Contains(rec.Body.Bytes(), []byte("/lastLogon/report")))
}

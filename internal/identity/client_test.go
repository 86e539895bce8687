package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validProfile = `{
	"id": "u-1",
	"cpf": "52998224725",
	"email": "ana@example.com",
	"is_active": true,
	"current_module": {"id": 1, "name": "SYSTEM"},
	"current_role": {"id": 10, "name": "admin"},
	"groups": [],
	"direct_permissions": [{"id": 1, "name": "read:reports"}],
	"available_modules": [{"id": 1, "name": "SYSTEM", "roles": [{"id": 10, "name": "admin"}]}],
	"attributes": {"clearance": 2}
}`

// newAuthorityServer fakes the identity service. Only "good-token" is a
// valid session.
func newAuthorityServer(t *testing.T, profile string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["cpf"] != "52998224725" || body["password"] != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"token":"good-token"}`))
	})
	mux.HandleFunc("GET /me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(profile))
	})
	mux.HandleFunc("POST /auth/select-role", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]int
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch {
		case r.Header.Get("Authorization") != "Bearer good-token":
			w.WriteHeader(http.StatusForbidden)
		case body["role_id"] != 10:
			w.WriteHeader(http.StatusUnprocessableEntity)
		default:
			_, _ = w.Write([]byte(`{"token":"switched-token"}`))
		}
	})
	mux.HandleFunc("GET /broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Login(t *testing.T) {
	srv := newAuthorityServer(t, validProfile)
	c := NewClient(ClientConfig{BaseURL: srv.URL + "/"}, nil)

	token, err := c.Login(context.Background(), "52998224725", "pw")
	require.NoError(t, err)
	assert.Equal(t, "good-token", token)

	_, err = c.Login(context.Background(), "52998224725", "bad")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_Profile(t *testing.T) {
	srv := newAuthorityServer(t, validProfile)
	c := NewClient(ClientConfig{BaseURL: srv.URL}, srv.Client())

	u, err := c.Profile(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, "u-1", u.ID)
	assert.Equal(t, "admin", u.CurrentRole.Name)
	assert.True(t, u.HasPermission("read:reports"))
	assert.Equal(t, float64(2), u.Attributes["clearance"])

	_, err = c.Profile(context.Background(), "stale-token")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_ProfileRejectsInvalidPayload(t *testing.T) {
	srv := newAuthorityServer(t, `{"id": "", "email": "not-an-email"}`)
	c := NewClient(ClientConfig{BaseURL: srv.URL}, nil)

	_, err := c.Profile(context.Background(), "good-token")
	assert.ErrorIs(t, err, ErrInvalidProfile)
}

func TestClient_SelectRole(t *testing.T) {
	srv := newAuthorityServer(t, validProfile)
	c := NewClient(ClientConfig{BaseURL: srv.URL}, nil)

	token, err := c.SelectRole(context.Background(), "good-token", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "switched-token", token)

	_, err = c.SelectRole(context.Background(), "good-token", 1, 99)
	assert.ErrorIs(t, err, ErrRoleNotAvailable)

	_, err = c.SelectRole(context.Background(), "stale-token", 1, 10)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_UpstreamFailure(t *testing.T) {
	srv := newAuthorityServer(t, validProfile)
	c := NewClient(ClientConfig{BaseURL: srv.URL}, nil)

	err := c.do(context.Background(), http.MethodGet, "/broken", "", nil, &struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.NotErrorIs(t, err, ErrUnauthorized)

	srv.Close()
	_, err = c.Profile(context.Background(), "good-token")
	assert.Error(t, err)
}

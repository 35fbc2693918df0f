package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"techclinic/internal/apiclient"
	"techclinic/internal/audit"
	"techclinic/internal/session"
	"techclinic/internal/testutil"
)

func setupHandler(t *testing.T) (*Handler, *[]string) {
	t.Helper()
	fake := testutil.NewFakeAPI(t)
	logger := zaptest.NewLogger(t)
	db := testutil.SetupTestDB(t)
	client := apiclient.New(fake.URL())

	var forgotten []string
	h := &Handler{
		Sessions: session.NewStore(db, session.Options{TTL: time.Hour, BcryptCost: bcrypt.MinCost}, logger),
		Audit:    audit.NewLedger(db, nil, logger),
		Logger:   logger,
		Login:    client.Login,
		Forget:   func(id string) { forgotten = append(forgotten, id) },
	}
	return h, &forgotten
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie set", session.CookieName)
	return nil
}

func TestLoginSuccess(t *testing.T) {
	h, _ := setupHandler(t)

	w := httptest.NewRecorder()
	h.HandleLogin(w, testutil.JSONRequest(http.MethodPost, "/auth/login", LoginRequest{Username: "admin", Password: "secret"}))
	testutil.AssertStatus(t, w, http.StatusOK)

	var body struct {
		User UserResponse `json:"user"`
	}
	testutil.DecodeData(t, w, &body)
	assert.Equal(t, "admin", body.User.Username)

	c := sessionCookie(t, w)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)

	sess, err := h.Sessions.Lookup(context.Background(), c.Value)
	require.NoError(t, err)
	assert.Equal(t, testutil.FakeToken, sess.APIToken)

	entries, err := h.Audit.Recent(context.Background(), audit.Filter{Module: audit.ModuleSession})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionLogin, entries[0].Action)
}

func TestLoginBadCredentials(t *testing.T) {
	h, _ := setupHandler(t)

	w := httptest.NewRecorder()
	h.HandleLogin(w, testutil.JSONRequest(http.MethodPost, "/auth/login", LoginRequest{Username: "admin", Password: "nope"}))
	testutil.AssertStatus(t, w, http.StatusUnauthorized)
	assert.Equal(t, "Invalid credentials", testutil.DecodeError(t, w).Error)
	assert.Empty(t, w.Result().Cookies())
}

func TestLoginMissingFields(t *testing.T) {
	h, _ := setupHandler(t)

	w := httptest.NewRecorder()
	h.HandleLogin(w, testutil.JSONRequest(http.MethodPost, "/auth/login", LoginRequest{Username: "admin"}))
	testutil.AssertStatus(t, w, http.StatusBadRequest)
	assert.Equal(t, "Username and password are required", testutil.DecodeError(t, w).Error)
}

func TestLogout(t *testing.T) {
	h, forgotten := setupHandler(t)

	w := httptest.NewRecorder()
	h.HandleLogin(w, testutil.JSONRequest(http.MethodPost, "/auth/login", LoginRequest{Username: "admin", Password: "secret"}))
	c := sessionCookie(t, w)
	sess, err := h.Sessions.Lookup(context.Background(), c.Value)
	require.NoError(t, err)

	req := testutil.JSONRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(c)
	w = httptest.NewRecorder()
	h.HandleLogout(w, req)
	testutil.AssertStatus(t, w, http.StatusOK)
	assert.Equal(t, -1, sessionCookie(t, w).MaxAge)
	assert.Equal(t, []string{sess.ID}, *forgotten)

	_, err = h.Sessions.Lookup(context.Background(), c.Value)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestLogoutWithoutSession(t *testing.T) {
	h, forgotten := setupHandler(t)

	w := httptest.NewRecorder()
	h.HandleLogout(w, testutil.JSONRequest(http.MethodPost, "/auth/logout", nil))
	testutil.AssertStatus(t, w, http.StatusOK)
	assert.Empty(t, *forgotten)
}

func TestMe(t *testing.T) {
	h, _ := setupHandler(t)

	w := httptest.NewRecorder()
	h.HandleMe(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	testutil.AssertStatus(t, w, http.StatusUnauthorized)
	assert.Equal(t, "UNAUTHORIZED", testutil.DecodeError(t, w).Code)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = req.WithContext(session.NewContext(req.Context(), &session.Session{Username: "admin"}))
	w = httptest.NewRecorder()
	h.HandleMe(w, req)
	testutil.AssertStatus(t, w, http.StatusOK)
}

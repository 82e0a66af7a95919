package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orbisretail/loyalty/internal/config"
)

func newTestAuth() Auth {
	return NewAuth(config.AuthConfig{
		AdminLogin:    "admin",
		AdminPassword: "secret",
		JWTSecret:     "test-secret",
		TokenTTL:      time.Hour,
	})
}

func login(t *testing.T, a Auth, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(body))
	w := httptest.NewRecorder()
	a.Login(w, r)
	return w
}

func TestLogin(t *testing.T) {
	a := newTestAuth()

	w := login(t, a, `{"login":"admin","password":"secret"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Token)

	w = login(t, a, `{"login":"admin","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = login(t, a, `not json`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

// Без заданного пароля администратора вход закрыт совсем
func TestLoginDisabledWithoutPassword(t *testing.T) {
	a := NewAuth(config.AuthConfig{AdminLogin: "admin", JWTSecret: "s", TokenTTL: time.Hour})

	w := login(t, a, `{"login":"admin","password":""}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware(t *testing.T) {
	a := newTestAuth()

	var called bool
	protected := a.Middleware(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	// без токена
	w := httptest.NewRecorder()
	protected(w, httptest.NewRequest(http.MethodPost, "/admin", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.False(t, called)

	// мусорный токен
	r := httptest.NewRequest(http.MethodPost, "/admin", nil)
	r.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	protected(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.False(t, called)

	// валидный токен из логина
	lw := login(t, a, `{"login":"admin","password":"secret"}`)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(lw.Body.Bytes(), &resp))

	r = httptest.NewRequest(http.MethodPost, "/admin", nil)
	r.Header.Set("Authorization", "Bearer "+resp.Token)
	w = httptest.NewRecorder()
	protected(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, called)
}

func TestMiddlewareCookie(t *testing.T) {
	a := newTestAuth()

	lw := login(t, a, `{"login":"admin","password":"secret"}`)
	cookies := lw.Result().Cookies()
	require.NotEmpty(t, cookies)

	var called bool
	protected := a.Middleware(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	r := httptest.NewRequest(http.MethodPost, "/admin", nil)
	r.AddCookie(cookies[0])
	w := httptest.NewRecorder()
	protected(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, called)
}

// Токен, подписанный другим секретом, не принимается
func TestMiddlewareForeignSecret(t *testing.T) {
	other := NewAuth(config.AuthConfig{
		AdminLogin:    "admin",
		AdminPassword: "secret",
		JWTSecret:     "other-secret",
		TokenTTL:      time.Hour,
	})
	lw := login(t, other, `{"login":"admin","password":"secret"}`)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(lw.Body.Bytes(), &resp))

	a := newTestAuth()
	protected := a.Middleware(func(w http.ResponseWriter, r *http.Request) {})
	r := httptest.NewRequest(http.MethodPost, "/admin", nil)
	r.Header.Set("Authorization", "Bearer "+resp.Token)
	w := httptest.NewRecorder()
	protected(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/macroscope/macroscope/internal/handlers/testutil"
)

func TestAuthHandler_RegisterRequiresVerificationBeforeLogin(t *testing.T) {
	env := testutil.NewEnv(t)

	register := env.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"email":    "Ada@Example.com",
		"password": testutil.DefaultPassword,
		"username": "ada",
	}, "")
	require.Equal(t, http.StatusCreated, register.Code, register.Body.String())

	var user map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, register).Data, &user)
	require.Equal(t, "ada@example.com", user["email"])
	require.Equal(t, false, user["email_verified"])

	login := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "ada@example.com",
		"password": testutil.DefaultPassword,
	}, "")
	testutil.RequireError(t, login, http.StatusForbidden, "EMAIL_NOT_VERIFIED")

	check := env.Request(http.MethodPost, "/api/auth/check-verification", map[string]string{
		"email":    "ada@example.com",
		"password": testutil.DefaultPassword,
	}, "")
	require.Equal(t, http.StatusOK, check.Code, check.Body.String())
	var status map[string]bool
	testutil.DecodeInto(t, testutil.DecodeResponse(t, check).Data, &status)
	require.False(t, status["email_verified"])

	duplicate := env.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"email":    "ada@example.com",
		"password": testutil.DefaultPassword,
		"username": "ada_two",
	}, "")
	testutil.RequireError(t, duplicate, http.StatusConflict, "DUPLICATE_IDENTITY")
}

func TestAuthHandler_LoginRefreshLogout(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser("grace")

	me := env.Request(http.MethodGet, "/api/auth/me", nil, user.AccessToken)
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())
	var meData map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, me).Data, &meData)
	require.Equal(t, user.ID, meData["id"])
	require.Equal(t, "grace", meData["username"])

	refresh := env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": user.RefreshToken}, "")
	require.Equal(t, http.StatusOK, refresh.Code, refresh.Body.String())
	var refreshed map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, refresh).Data, &refreshed)
	require.NotEmpty(t, refreshed["access_token"])
	require.NotEqual(t, user.RefreshToken, refreshed["refresh_token"])

	logout := env.Request(http.MethodPost, "/api/auth/logout", nil, user.AccessToken)
	require.Equal(t, http.StatusOK, logout.Code, logout.Body.String())

	after := env.Request(http.MethodGet, "/api/auth/me", nil, user.AccessToken)
	testutil.RequireError(t, after, http.StatusUnauthorized, "NOT_AUTHENTICATED")
}

func TestAuthHandler_Validation(t *testing.T) {
	env := testutil.NewEnv(t)

	resp := env.Request(http.MethodPost, "/api/auth/login", map[string]string{"email": "not-an-email"}, "")
	testutil.RequireError(t, resp, http.StatusBadRequest, "BAD_REQUEST")

	resp = env.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"email":    "short@example.com",
		"password": testutil.DefaultPassword,
		"username": "no spaces allowed",
	}, "")
	testutil.RequireError(t, resp, http.StatusBadRequest, "BAD_REQUEST")
}

func TestAuthHandler_WrongPassword(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser("linus")

	resp := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    user.Email,
		"password": "definitely-wrong",
	}, "")
	testutil.RequireError(t, resp, http.StatusUnauthorized, "INVALID_CREDENTIALS")
}

func TestAuthHandler_ChangePassword(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser("barbara")

	resp := env.Request(http.MethodPost, "/api/auth/change-password", map[string]string{
		"current_password": testutil.DefaultPassword,
		"new_password":     "An0ther-Secret!",
	}, user.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	login := env.Login(user.Email, "An0ther-Secret!")
	require.Equal(t, user.ID, login.User.ID)
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	env := testutil.NewEnv(t)

	for _, path := range []string{"/api/auth/me", "/api/groups", "/api/profile", "/api/notifications"} {
		resp := env.Request(http.MethodGet, path, nil, "")
		require.Equal(t, http.StatusUnauthorized, resp.Code, path)
	}

	resp := env.Request(http.MethodGet, "/api/groups", nil, "garbage-token")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestHealthAndNotFound(t *testing.T) {
	env := testutil.NewEnv(t)

	health := env.Request(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, health.Code, health.Body.String())

	missing := env.Request(http.MethodGet, "/api/does-not-exist", nil, "")
	require.Equal(t, http.StatusNotFound, missing.Code)
}

package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/api"
	"github.com/macroscope/macroscope/internal/app"
	sharedtestutil "github.com/macroscope/macroscope/internal/database/testutil"
	"github.com/macroscope/macroscope/internal/models"
	"github.com/macroscope/macroscope/internal/notify"
	"github.com/macroscope/macroscope/pkg/response"
)

// DefaultPassword is the password used by CreateUser.
const DefaultPassword = "Sup3r-Secret!"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Config   *app.Config
	Infra    *api.Infrastructure
	Services *api.Services
	Router   *gin.Engine
	Notifier *RecordingNotifier
}

// NewEnv provisions a fresh handler test environment with migrations applied and
// local object storage rooted in a temporary directory.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Server: app.ServerConfig{
			PublicURL: "http://macroscope.test",
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "test-suite-super-secret-key-32-bytes!!",
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
			Session: app.SessionSettings{
				RefreshTTL:    24 * time.Hour,
				RefreshLength: 48,
			},
		},
		Storage: app.StorageConfig{
			Backend:      "local",
			SignedURLTTL: time.Hour,
			Local: app.LocalStorageConfig{
				Path:          t.TempDir(),
				SigningSecret: "test-signing-secret",
			},
		},
	}

	recorder := &RecordingNotifier{}
	infra, err := api.NewInfrastructure(context.Background(), db, cfg, api.WithNotifier(recorder))
	require.NoError(t, err)
	t.Cleanup(infra.Dispatcher.Wait)

	svcs, err := api.NewServices(db, cfg, infra)
	require.NoError(t, err)

	router, err := api.NewRouter(db, cfg, infra, svcs)
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Config:   cfg,
		Infra:    infra,
		Services: svcs,
		Router:   router,
		Notifier: recorder,
	}
}

// RecordingNotifier captures invitation notices instead of delivering them.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Invitation
}

func (n *RecordingNotifier) NotifyInvitation(_ context.Context, inv notify.Invitation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, inv)
	return nil
}

// Sent returns the invitations delivered so far.
func (n *RecordingNotifier) Sent() []notify.Invitation {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Invitation(nil), n.sent...)
}

// User is a registered, verified and signed-in test account.
type User struct {
	ID           string
	Username     string
	Email        string
	AccessToken  string
	RefreshToken string
}

// CreateUser registers an account through the API, marks its email verified and signs in.
func (e *Env) CreateUser(username string) User {
	e.T.Helper()

	if username == "" {
		username = "user_" + uuid.NewString()[:8]
	}
	email := username + "@example.com"

	w := e.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"email":    email,
		"password": DefaultPassword,
		"username": username,
	}, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var registered struct {
		ID string `json:"id"`
	}
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &registered)

	e.VerifyEmail(email)

	login := e.Login(email, DefaultPassword)
	return User{
		ID:           registered.ID,
		Username:     username,
		Email:        email,
		AccessToken:  login.Tokens.AccessToken,
		RefreshToken: login.Tokens.RefreshToken,
	}
}

// VerifyEmail marks the identity for email as verified without the emailed token.
func (e *Env) VerifyEmail(email string) {
	e.T.Helper()
	now := time.Now().UTC()
	require.NoError(e.T, e.DB.Model(&models.Identity{}).
		Where("email = ?", email).
		Update("email_verified_at", &now).Error)
}

// LoginResult bundles the JSON response from POST /api/auth/login.
type LoginResult struct {
	Tokens struct {
		AccessToken  string    `json:"access_token"`
		RefreshToken string    `json:"refresh_token"`
		TokenType    string    `json:"token_type"`
		ExpiresAt    time.Time `json:"expires_at"`
	} `json:"tokens"`
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	} `json:"user"`
}

// Login authenticates using the local provider and returns the issued token pair.
func (e *Env) Login(email, password string) LoginResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.Tokens.AccessToken)
	require.NotEmpty(e.T, result.Tokens.RefreshToken)

	return result
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Message string              `json:"message"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// RequireError asserts the recorder holds an error envelope with the given status and code.
func RequireError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	resp := DecodeResponse(t, w)
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Equal(t, code, resp.Error.Code, w.Body.String())
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.do(req, token)
}

// Upload posts a multipart form with a single "file" part.
func (e *Env) Upload(path, filename, contentType string, data []byte, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(e.T, err)
	_, err = part.Write(data)
	require.NoError(e.T, err)
	require.NoError(e.T, writer.Close())

	req, err := http.NewRequest(http.MethodPost, path, &body)
	require.NoError(e.T, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return e.do(req, token)
}

func (e *Env) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.RemoteAddr = "192.0.2.10:41234"

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

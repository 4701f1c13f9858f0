package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"orpheus/config"
	deliverycontext "orpheus/internal/delivery/context"
	httpmiddleware "orpheus/internal/delivery/http/middleware"
	"orpheus/internal/delivery/http/response"
	"orpheus/internal/delivery/http/router"
	"orpheus/internal/delivery/http/router/handler"
	"orpheus/internal/domain/entity"
	domainerrors "orpheus/internal/domain/errors"
	"orpheus/internal/domain/repository"
	"orpheus/internal/infra/auth"
	"orpheus/internal/infra/metrics"
	"orpheus/internal/infra/pubsub"
	"orpheus/internal/infra/session"
	"orpheus/internal/usecase/impl"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

// memoryUserRepository is an in-memory UserRepository keyed by ID with a unique email index.
type memoryUserRepository struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]entity.User
	byEmail map[string]uuid.UUID
}

func newMemoryUserRepository() *memoryUserRepository {
	return &memoryUserRepository{
		byID:    make(map[uuid.UUID]entity.User),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (r *memoryUserRepository) FindByID(_ context.Context, id uuid.UUID) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}

	return &user, nil
}

func (r *memoryUserRepository) FindByEmail(_ context.Context, email string) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	user := r.byID[id]

	return &user, nil
}

func (r *memoryUserRepository) Create(_ context.Context, user *entity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[user.Email]; taken {
		return domainerrors.ErrUserAlreadyExists.WrapMessage("email already exists")
	}
	user.ID = uuid.New()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	r.byID[user.ID] = *user
	r.byEmail[user.Email] = user.ID

	return nil
}

func (r *memoryUserRepository) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	r.byID[id] = user

	return nil
}

func (r *memoryUserRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	delete(r.byEmail, user.Email)
	delete(r.byID, id)

	return nil
}

type testServer struct {
	echo *echo.Echo
	repo *memoryUserRepository
	mr   *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Session: &config.SessionConfig{TTL: time.Hour, KeyPrefix: "session:"},
		Auth: &config.AuthConfig{
			Argon2: config.Argon2Config{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		},
		Metrics: &config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	cfg.HTTP.MaxRequestBodySize = "1M"

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	lc := fxtest.NewLifecycle(t)
	m := metrics.New()

	hasher, err := auth.NewArgon2Hasher(cfg, m)
	require.NoError(t, err)

	publisher, err := pubsub.NewEventPublisher(pubsub.PublisherParams{
		Lc:     lc,
		Ctx:    context.Background(),
		Config: cfg,
		Logger: logger,
	})
	require.NoError(t, err)

	sessions := session.NewRedisStore(session.Params{Client: client, Config: cfg, Logger: logger})
	repo := newMemoryUserRepository()

	accounts := impl.NewAccountService(impl.AccountServiceParams{
		UserRepo:  repo,
		Hasher:    hasher,
		Sessions:  sessions,
		Publisher: publisher,
		Metrics:   m,
		Logger:    logger,
	})

	e := newEcho(ServerParams{
		Lc:      lc,
		Cfg:     cfg,
		Logger:  logger,
		Metrics: m,
		RouterParams: router.RouterParams{
			Config:         cfg,
			AccountHandler: handler.NewAccountHandler(accounts, logger),
			SessionMiddleware: httpmiddleware.NewSessionMiddleware(httpmiddleware.SessionMiddlewareParams{
				Sessions: sessions,
				Config:   cfg,
				Metrics:  m,
				Logger:   logger,
			}),
			Metrics: m,
		},
	})

	lc.RequireStart()
	t.Cleanup(lc.RequireStop)

	return &testServer{echo: e, repo: repo, mr: mr}
}

func (s *testServer) call(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	var resp response.Response
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}

	return rec, resp
}

func (s *testServer) signup(t *testing.T, email, password string) string {
	t.Helper()

	rec, resp := s.call(t, stdhttp.MethodPost, "/signup", "", map[string]string{
		"username": "user", "email": email, "password": password,
	})
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())

	return resp.Data.(map[string]any)["user_id"].(string)
}

func (s *testServer) login(t *testing.T, email, password string) (*httptest.ResponseRecorder, string) {
	t.Helper()

	rec, resp := s.call(t, stdhttp.MethodPost, "/login", "", map[string]string{
		"email": email, "password": password,
	})
	if rec.Code != stdhttp.StatusOK {
		return rec, ""
	}

	return rec, resp.Data.(map[string]any)["session_id"].(string)
}

func TestServer_FullAccountLifecycle(t *testing.T) {
	srv := newTestServer(t)

	userID := srv.signup(t, "alice@example.com", "correct horse")

	rec, token := srv.login(t, "alice@example.com", "correct horse")
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	require.NotEmpty(t, token)

	rec, resp := srv.call(t, stdhttp.MethodGet, "/profile", token, nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"user_id": userID}, resp.Data)

	rec, resp = srv.call(t, stdhttp.MethodPost, "/logout", token, nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, "Logged out successfully", resp.Message)

	rec, resp = srv.call(t, stdhttp.MethodGet, "/profile", token, nil)
	assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_SESSION", resp.Error.Code)
}

func TestServer_LoginsIssueIndependentSessions(t *testing.T) {
	srv := newTestServer(t)
	srv.signup(t, "alice@example.com", "correct horse")

	_, first := srv.login(t, "alice@example.com", "correct horse")
	_, second := srv.login(t, "alice@example.com", "correct horse")
	require.NotEmpty(t, first)
	require.NotEqual(t, first, second)

	rec, _ := srv.call(t, stdhttp.MethodPost, "/logout", first, nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)

	rec, _ = srv.call(t, stdhttp.MethodGet, "/profile", first, nil)
	assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code)

	rec, _ = srv.call(t, stdhttp.MethodGet, "/profile", second, nil)
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
}

func TestServer_ResetPasswordEndsCurrentSession(t *testing.T) {
	srv := newTestServer(t)
	srv.signup(t, "alice@example.com", "old password")
	_, token := srv.login(t, "alice@example.com", "old password")

	rec, resp := srv.call(t, stdhttp.MethodPost, "/reset_password", token, map[string]string{
		"old_password": "wrong", "new_password": "new password",
	})
	assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_OLD_PASSWORD", resp.Error.Code)

	rec, resp = srv.call(t, stdhttp.MethodPost, "/reset_password", token, map[string]string{
		"old_password": "old password", "new_password": "new password",
	})
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, "Password changed successfully. Please log in again.", resp.Message)

	rec, _ = srv.call(t, stdhttp.MethodGet, "/profile", token, nil)
	assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code)

	rec, _ = srv.login(t, "alice@example.com", "old password")
	assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code)

	rec, fresh := srv.login(t, "alice@example.com", "new password")
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.NotEmpty(t, fresh)
}

func TestServer_DuplicateSignupKeepsOriginalAccount(t *testing.T) {
	srv := newTestServer(t)
	srv.signup(t, "alice@example.com", "first password")

	rec, resp := srv.call(t, stdhttp.MethodPost, "/signup", "", map[string]string{
		"username": "mallory", "email": "alice@example.com", "password": "second password",
	})
	assert.Equal(t, stdhttp.StatusInternalServerError, rec.Code)
	assert.Equal(t, "SIGNUP_FAILED", resp.Error.Code)

	rec, _ = srv.login(t, "alice@example.com", "first password")
	assert.Equal(t, stdhttp.StatusOK, rec.Code)

	rec, _ = srv.login(t, "alice@example.com", "second password")
	assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code)
}

func TestServer_LoginFailuresAreIndistinguishable(t *testing.T) {
	srv := newTestServer(t)
	srv.signup(t, "alice@example.com", "correct horse")

	wrongPassword, _ := srv.login(t, "alice@example.com", "battery staple")
	unknownEmail, _ := srv.login(t, "nobody@example.com", "battery staple")

	assert.Equal(t, stdhttp.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, wrongPassword.Code, unknownEmail.Code)
	assert.JSONEq(t, wrongPassword.Body.String(), unknownEmail.Body.String())
}

func TestServer_DeleteAccount(t *testing.T) {
	srv := newTestServer(t)
	srv.signup(t, "alice@example.com", "correct horse")
	_, token := srv.login(t, "alice@example.com", "correct horse")

	rec, resp := srv.call(t, stdhttp.MethodDelete, "/delete", token, nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, "User deleted successfully.", resp.Message)

	rec, _ = srv.call(t, stdhttp.MethodGet, "/profile", token, nil)
	assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code)

	rec, _ = srv.login(t, "alice@example.com", "correct horse")
	assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code)
}

func TestServer_SessionExpiry(t *testing.T) {
	srv := newTestServer(t)
	srv.signup(t, "alice@example.com", "correct horse")
	_, token := srv.login(t, "alice@example.com", "correct horse")

	srv.mr.FastForward(time.Hour + time.Second)

	rec, resp := srv.call(t, stdhttp.MethodGet, "/auth/status", token, nil)
	assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_SESSION", resp.Error.Code)
}

func TestServer_StoreOutageIsNotReportedAsInvalidSession(t *testing.T) {
	srv := newTestServer(t)
	srv.signup(t, "alice@example.com", "correct horse")
	_, token := srv.login(t, "alice@example.com", "correct horse")

	srv.mr.SetError("ERR simulated outage")
	defer srv.mr.SetError("")

	rec, resp := srv.call(t, stdhttp.MethodGet, "/profile", token, nil)
	assert.Equal(t, stdhttp.StatusInternalServerError, rec.Code)
	assert.Equal(t, "SESSION_VALIDATION_FAILED", resp.Error.Code)
	assert.NotContains(t, rec.Body.String(), "simulated")
}

func TestServer_MissingAuthorization(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/logout", "/reset_password"} {
		rec, resp := srv.call(t, stdhttp.MethodPost, path, "", nil)
		assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, "MISSING_TOKEN", resp.Error.Code, path)
	}
}

func TestServer_AmbientEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rec, _ := srv.call(t, stdhttp.MethodGet, "/health", "", nil)
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(deliverycontext.HeaderXRequestID))

	srv.signup(t, "alice@example.com", "correct horse")

	rec, _ = srv.call(t, stdhttp.MethodGet, "/metrics", "", nil)
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `orpheus_account_operations_total{operation="signup",outcome="success"} 1`)
	assert.Contains(t, rec.Body.String(), `orpheus_http_requests_total{method="POST",route="/signup",status="2xx"} 1`)

	rec, _ = srv.call(t, stdhttp.MethodGet, "/does-not-exist", "", nil)
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
}

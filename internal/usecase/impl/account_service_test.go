package impl

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"orpheus/internal/domain/entity"
	domainerrors "orpheus/internal/domain/errors"
	"orpheus/internal/domain/repository"
	"orpheus/internal/domain/service"
	"orpheus/internal/infra/metrics"
	mockRepo "orpheus/internal/mocks/repository"
	mockSvc "orpheus/internal/mocks/service"
	"orpheus/internal/usecase"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// accountServiceFixtures holds all test dependencies for account service tests.
type accountServiceFixtures struct {
	service   usecase.AccountUsecase
	userRepo  *mockRepo.MockUserRepository
	hasher    *mockSvc.MockPasswordHasher
	sessions  *mockSvc.MockSessionStore
	publisher *mockSvc.MockEventPublisher
	metrics   *metrics.Metrics
}

func createTestAccountService(t *testing.T) accountServiceFixtures {
	userRepo := mockRepo.NewMockUserRepository(t)
	hasher := mockSvc.NewMockPasswordHasher(t)
	sessions := mockSvc.NewMockSessionStore(t)
	publisher := mockSvc.NewMockEventPublisher(t)
	m := metrics.New()

	svc := NewAccountService(AccountServiceParams{
		UserRepo:  userRepo,
		Hasher:    hasher,
		Sessions:  sessions,
		Publisher: publisher,
		Metrics:   m,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	return accountServiceFixtures{
		service:   svc,
		userRepo:  userRepo,
		hasher:    hasher,
		sessions:  sessions,
		publisher: publisher,
		metrics:   m,
	}
}

func (f accountServiceFixtures) expectEvent(eventType entity.SecurityEventType, userID uuid.UUID) {
	f.publisher.EXPECT().
		PublishSecurityEvent(mock.Anything, mock.MatchedBy(func(e *entity.SecurityEvent) bool {
			return e.Type == eventType && e.UserID == userID
		})).
		Return(nil).
		Once()
}

func (f accountServiceFixtures) operationCount(operation, outcome string) float64 {
	return testutil.ToFloat64(f.metrics.AccountOperations.WithLabelValues(operation, outcome))
}

func newIdentity() *entity.Identity {
	return &entity.Identity{UserID: uuid.New(), Token: "current-session-token"}
}

func TestAccountService_Signup_Success(t *testing.T) {
	fx := createTestAccountService(t)
	ctx := context.Background()
	input := &usecase.SignupInput{Username: "alice", Email: "alice@example.com", Password: "hunter22"}
	userID := uuid.New()

	fx.hasher.EXPECT().Hash(ctx, "hunter22").Return("$argon2id$hash", nil)
	fx.userRepo.EXPECT().
		Create(ctx, mock.MatchedBy(func(u *entity.User) bool {
			return u.Username == "alice" && u.Email == "alice@example.com" && u.PasswordHash == "$argon2id$hash"
		})).
		Run(func(_ context.Context, user *entity.User) {
			user.ID = userID
		}).
		Return(nil)
	fx.expectEvent(entity.SecurityEventSignup, userID)

	output, err := fx.service.Signup(ctx, input)

	require.NoError(t, err)
	assert.Equal(t, userID, output.UserID)
	assert.InDelta(t, 1, fx.operationCount(opSignup, metrics.OutcomeSuccess), 0)
}

func TestAccountService_Signup_Failures(t *testing.T) {
	ctx := context.Background()
	input := &usecase.SignupInput{Username: "alice", Email: "alice@example.com", Password: "hunter22"}

	tests := []struct {
		name    string
		setup   func(fx accountServiceFixtures)
		wantErr error
	}{
		{
			name: "hash failure",
			setup: func(fx accountServiceFixtures) {
				fx.hasher.EXPECT().Hash(ctx, "hunter22").Return("", context.Canceled)
			},
			wantErr: domainerrors.ErrPasswordHashFailed,
		},
		{
			name: "duplicate email is collapsed",
			setup: func(fx accountServiceFixtures) {
				fx.hasher.EXPECT().Hash(ctx, "hunter22").Return("$argon2id$hash", nil)
				fx.userRepo.EXPECT().Create(ctx, mock.Anything).
					Return(domainerrors.ErrUserAlreadyExists.WrapMessage("email already exists"))
			},
			wantErr: domainerrors.ErrSignupFailed,
		},
		{
			name: "storage failure",
			setup: func(fx accountServiceFixtures) {
				fx.hasher.EXPECT().Hash(ctx, "hunter22").Return("$argon2id$hash", nil)
				fx.userRepo.EXPECT().Create(ctx, mock.Anything).
					Return(domainerrors.NewDatabaseExecuteError(errors.New("connection refused"), "failed to create user"))
			},
			wantErr: domainerrors.ErrSignupFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := createTestAccountService(t)
			tt.setup(fx)

			output, err := fx.service.Signup(ctx, input)

			assert.Nil(t, output)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.NotErrorIs(t, err, domainerrors.ErrUserAlreadyExists)
			assert.InDelta(t, 1, fx.operationCount(opSignup, metrics.OutcomeError), 0)
		})
	}
}

func TestAccountService_Login_Success(t *testing.T) {
	fx := createTestAccountService(t)
	ctx := context.Background()
	user := &entity.User{ID: uuid.New(), Email: "alice@example.com", PasswordHash: "$argon2id$hash"}
	createdAt := time.Unix(1_700_000_000, 0)

	fx.userRepo.EXPECT().FindByEmail(ctx, "alice@example.com").Return(user, nil)
	fx.hasher.EXPECT().Check(ctx, "hunter22", "$argon2id$hash").Return(true, nil)
	fx.sessions.EXPECT().Create(ctx, user.ID).Return(&entity.Session{
		Token:     "new-session-token",
		UserID:    user.ID,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(24 * time.Hour),
	}, nil)
	fx.expectEvent(entity.SecurityEventLoginSucceeded, user.ID)

	output, err := fx.service.Login(ctx, &usecase.LoginInput{Email: "alice@example.com", Password: "hunter22"})

	require.NoError(t, err)
	assert.Equal(t, "new-session-token", output.SessionID)
	assert.Equal(t, user.ID, output.UserID)
	assert.Equal(t, createdAt.Add(24*time.Hour).Unix(), output.ExpiresAt)
}

func TestAccountService_Login_UnknownEmailRunsDummyCheck(t *testing.T) {
	fx := createTestAccountService(t)
	ctx := context.Background()

	fx.userRepo.EXPECT().FindByEmail(ctx, "ghost@example.com").Return(nil, repository.ErrUserNotFound)
	fx.hasher.EXPECT().DummyCheck(ctx, "hunter22").Return(nil).Once()
	fx.expectEvent(entity.SecurityEventLoginFailed, uuid.Nil)

	output, err := fx.service.Login(ctx, &usecase.LoginInput{Email: "ghost@example.com", Password: "hunter22"})

	assert.Nil(t, output)
	assert.ErrorIs(t, err, domainerrors.ErrInvalidCredentials)
	assert.InDelta(t, 1, fx.operationCount(opLogin, metrics.OutcomeRejected), 0)
}

func TestAccountService_Login_WrongPasswordMatchesUnknownEmail(t *testing.T) {
	fx := createTestAccountService(t)
	ctx := context.Background()
	user := &entity.User{ID: uuid.New(), Email: "alice@example.com", PasswordHash: "$argon2id$hash"}

	fx.userRepo.EXPECT().FindByEmail(ctx, "alice@example.com").Return(user, nil)
	fx.hasher.EXPECT().Check(ctx, "wrong", "$argon2id$hash").Return(false, nil)
	fx.expectEvent(entity.SecurityEventLoginFailed, user.ID)

	_, wrongPasswordErr := fx.service.Login(ctx, &usecase.LoginInput{Email: "alice@example.com", Password: "wrong"})

	fx.userRepo.EXPECT().FindByEmail(ctx, "ghost@example.com").Return(nil, repository.ErrUserNotFound)
	fx.hasher.EXPECT().DummyCheck(ctx, "wrong").Return(nil)
	fx.expectEvent(entity.SecurityEventLoginFailed, uuid.Nil)

	_, unknownEmailErr := fx.service.Login(ctx, &usecase.LoginInput{Email: "ghost@example.com", Password: "wrong"})

	var wrongApp, unknownApp domainerrors.AppError
	require.True(t, errors.As(wrongPasswordErr, &wrongApp))
	require.True(t, errors.As(unknownEmailErr, &unknownApp))
	assert.Equal(t, unknownApp.HTTPCode(), wrongApp.HTTPCode())
	assert.Equal(t, unknownApp.ErrorCode(), wrongApp.ErrorCode())
	assert.Equal(t, unknownApp.Message(), wrongApp.Message())
}

func TestAccountService_Login_BackendFailures(t *testing.T) {
	ctx := context.Background()
	user := &entity.User{ID: uuid.New(), Email: "alice@example.com", PasswordHash: "$argon2id$hash"}
	input := &usecase.LoginInput{Email: "alice@example.com", Password: "hunter22"}

	t.Run("repository error", func(t *testing.T) {
		fx := createTestAccountService(t)
		fx.userRepo.EXPECT().FindByEmail(ctx, input.Email).
			Return(nil, domainerrors.NewDatabaseExecuteError(errors.New("timeout"), "failed to find user by email"))

		_, err := fx.service.Login(ctx, input)
		assert.ErrorIs(t, err, domainerrors.ErrLoginFailed)
	})

	t.Run("session store error", func(t *testing.T) {
		fx := createTestAccountService(t)
		fx.userRepo.EXPECT().FindByEmail(ctx, input.Email).Return(user, nil)
		fx.hasher.EXPECT().Check(ctx, input.Password, user.PasswordHash).Return(true, nil)
		fx.sessions.EXPECT().Create(ctx, user.ID).Return(nil, service.ErrSessionStoreUnavailable)

		_, err := fx.service.Login(ctx, input)
		assert.ErrorIs(t, err, domainerrors.ErrSessionCreateFailed)
		assert.InDelta(t, 1, fx.operationCount(opLogin, metrics.OutcomeError), 0)
	})
}

func TestAccountService_Login_VerificationFailure(t *testing.T) {
	user := &entity.User{ID: uuid.New(), Email: "alice@example.com", PasswordHash: "$argon2id$hash"}

	tests := []struct {
		name  string
		email string
		setup func(fx accountServiceFixtures, ctx context.Context)
	}{
		{
			name:  "known email",
			email: user.Email,
			setup: func(fx accountServiceFixtures, ctx context.Context) {
				fx.userRepo.EXPECT().FindByEmail(ctx, user.Email).Return(user, nil)
				fx.hasher.EXPECT().Check(ctx, "hunter22", user.PasswordHash).
					Return(false, errors.Wrap(context.Canceled, "waiting for hashing slot"))
			},
		},
		{
			name:  "unknown email",
			email: "ghost@example.com",
			setup: func(fx accountServiceFixtures, ctx context.Context) {
				fx.userRepo.EXPECT().FindByEmail(ctx, "ghost@example.com").Return(nil, repository.ErrUserNotFound)
				fx.hasher.EXPECT().DummyCheck(ctx, "hunter22").
					Return(errors.Wrap(context.Canceled, "waiting for hashing slot"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := createTestAccountService(t)
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			tt.setup(fx, ctx)

			output, err := fx.service.Login(ctx, &usecase.LoginInput{Email: tt.email, Password: "hunter22"})

			assert.Nil(t, output)
			assert.ErrorIs(t, err, domainerrors.ErrPasswordHashFailed)
			assert.NotErrorIs(t, err, domainerrors.ErrInvalidCredentials)
			assert.InDelta(t, 1, fx.operationCount(opLogin, metrics.OutcomeError), 0)
			assert.InDelta(t, 0, fx.operationCount(opLogin, metrics.OutcomeRejected), 0)
			fx.publisher.AssertNotCalled(t, "PublishSecurityEvent", mock.Anything, mock.Anything)
		})
	}
}

func TestAccountService_Logout(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		fx := createTestAccountService(t)
		identity := newIdentity()
		fx.sessions.EXPECT().Destroy(ctx, identity.Token).Return(nil)
		fx.expectEvent(entity.SecurityEventLogout, identity.UserID)

		assert.NoError(t, fx.service.Logout(ctx, identity))
	})

	t.Run("store failure", func(t *testing.T) {
		fx := createTestAccountService(t)
		identity := newIdentity()
		fx.sessions.EXPECT().Destroy(ctx, identity.Token).Return(service.ErrSessionStoreUnavailable)

		assert.ErrorIs(t, fx.service.Logout(ctx, identity), domainerrors.ErrLogoutFailed)
	})
}

func TestAccountService_ResetPassword_Success(t *testing.T) {
	fx := createTestAccountService(t)
	ctx := context.Background()
	identity := newIdentity()
	user := &entity.User{ID: identity.UserID, PasswordHash: "$argon2id$old"}
	input := &usecase.ResetPasswordInput{OldPassword: "old-pass", NewPassword: "new-pass"}

	var order []string
	fx.userRepo.EXPECT().FindByID(ctx, identity.UserID).Return(user, nil)
	fx.hasher.EXPECT().Check(ctx, "old-pass", "$argon2id$old").Return(true, nil)
	fx.hasher.EXPECT().Hash(ctx, "new-pass").Return("$argon2id$new", nil)
	fx.userRepo.EXPECT().UpdatePassword(ctx, identity.UserID, "$argon2id$new").
		Run(func(context.Context, uuid.UUID, string) { order = append(order, "update") }).
		Return(nil)
	fx.sessions.EXPECT().Destroy(ctx, identity.Token).
		Run(func(context.Context, string) { order = append(order, "destroy") }).
		Return(nil)
	fx.expectEvent(entity.SecurityEventPasswordChanged, identity.UserID)

	require.NoError(t, fx.service.ResetPassword(ctx, identity, input))
	assert.Equal(t, []string{"update", "destroy"}, order)
}

func TestAccountService_ResetPassword_WrongOldPassword(t *testing.T) {
	fx := createTestAccountService(t)
	ctx := context.Background()
	identity := newIdentity()

	fx.userRepo.EXPECT().FindByID(ctx, identity.UserID).Return(&entity.User{ID: identity.UserID, PasswordHash: "$argon2id$old"}, nil)
	fx.hasher.EXPECT().Check(ctx, "guess", "$argon2id$old").Return(false, nil)

	err := fx.service.ResetPassword(ctx, identity, &usecase.ResetPasswordInput{OldPassword: "guess", NewPassword: "new-pass"})

	assert.ErrorIs(t, err, domainerrors.ErrInvalidOldPassword)
	fx.userRepo.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything)
	fx.sessions.AssertNotCalled(t, "Destroy", mock.Anything, mock.Anything)
}

func TestAccountService_ResetPassword_VerificationFailure(t *testing.T) {
	fx := createTestAccountService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	identity := newIdentity()

	fx.userRepo.EXPECT().FindByID(ctx, identity.UserID).Return(&entity.User{ID: identity.UserID, PasswordHash: "$argon2id$old"}, nil)
	fx.hasher.EXPECT().Check(ctx, "old-pass", "$argon2id$old").Return(false, context.Canceled)

	err := fx.service.ResetPassword(ctx, identity, &usecase.ResetPasswordInput{OldPassword: "old-pass", NewPassword: "new-pass"})

	assert.ErrorIs(t, err, domainerrors.ErrPasswordHashFailed)
	assert.NotErrorIs(t, err, domainerrors.ErrInvalidOldPassword)
	assert.InDelta(t, 1, fx.operationCount(opResetPassword, metrics.OutcomeError), 0)
	fx.userRepo.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything)
	fx.sessions.AssertNotCalled(t, "Destroy", mock.Anything, mock.Anything)
}

func TestAccountService_ResetPassword_UpdateFailureKeepsSession(t *testing.T) {
	fx := createTestAccountService(t)
	ctx := context.Background()
	identity := newIdentity()

	fx.userRepo.EXPECT().FindByID(ctx, identity.UserID).Return(&entity.User{ID: identity.UserID, PasswordHash: "$argon2id$old"}, nil)
	fx.hasher.EXPECT().Check(ctx, "old-pass", "$argon2id$old").Return(true, nil)
	fx.hasher.EXPECT().Hash(ctx, "new-pass").Return("$argon2id$new", nil)
	fx.userRepo.EXPECT().UpdatePassword(ctx, identity.UserID, "$argon2id$new").
		Return(domainerrors.NewDatabaseExecuteError(errors.New("deadlock"), "failed to update password"))

	err := fx.service.ResetPassword(ctx, identity, &usecase.ResetPasswordInput{OldPassword: "old-pass", NewPassword: "new-pass"})

	assert.ErrorIs(t, err, domainerrors.ErrPasswordUpdateFailed)
	fx.sessions.AssertNotCalled(t, "Destroy", mock.Anything, mock.Anything)
}

func TestAccountService_ResetPassword_DestroyFailureStillSucceeds(t *testing.T) {
	fx := createTestAccountService(t)
	ctx := context.Background()
	identity := newIdentity()

	fx.userRepo.EXPECT().FindByID(ctx, identity.UserID).Return(&entity.User{ID: identity.UserID, PasswordHash: "$argon2id$old"}, nil)
	fx.hasher.EXPECT().Check(ctx, "old-pass", "$argon2id$old").Return(true, nil)
	fx.hasher.EXPECT().Hash(ctx, "new-pass").Return("$argon2id$new", nil)
	fx.userRepo.EXPECT().UpdatePassword(ctx, identity.UserID, "$argon2id$new").Return(nil)
	fx.sessions.EXPECT().Destroy(ctx, identity.Token).Return(service.ErrSessionStoreUnavailable)
	fx.expectEvent(entity.SecurityEventPasswordChanged, identity.UserID)

	assert.NoError(t, fx.service.ResetPassword(ctx, identity, &usecase.ResetPasswordInput{OldPassword: "old-pass", NewPassword: "new-pass"}))
}

func TestAccountService_ResetPassword_LookupFailures(t *testing.T) {
	ctx := context.Background()
	input := &usecase.ResetPasswordInput{OldPassword: "old-pass", NewPassword: "new-pass"}

	t.Run("user gone", func(t *testing.T) {
		fx := createTestAccountService(t)
		identity := newIdentity()
		fx.userRepo.EXPECT().FindByID(ctx, identity.UserID).Return(nil, repository.ErrUserNotFound)

		assert.ErrorIs(t, fx.service.ResetPassword(ctx, identity, input), domainerrors.ErrInvalidSession)
	})

	t.Run("repository error", func(t *testing.T) {
		fx := createTestAccountService(t)
		identity := newIdentity()
		fx.userRepo.EXPECT().FindByID(ctx, identity.UserID).Return(nil, errors.New("connection refused"))

		assert.ErrorIs(t, fx.service.ResetPassword(ctx, identity, input), domainerrors.ErrUserLookupFailed)
	})

	t.Run("hash failure", func(t *testing.T) {
		fx := createTestAccountService(t)
		identity := newIdentity()
		fx.userRepo.EXPECT().FindByID(ctx, identity.UserID).Return(&entity.User{ID: identity.UserID, PasswordHash: "h"}, nil)
		fx.hasher.EXPECT().Check(ctx, "old-pass", "h").Return(true, nil)
		fx.hasher.EXPECT().Hash(ctx, "new-pass").Return("", context.DeadlineExceeded)

		assert.ErrorIs(t, fx.service.ResetPassword(ctx, identity, input), domainerrors.ErrPasswordHashFailed)
	})
}

func TestAccountService_DeleteAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("success destroys session", func(t *testing.T) {
		fx := createTestAccountService(t)
		identity := newIdentity()
		fx.userRepo.EXPECT().Delete(ctx, identity.UserID).Return(nil)
		fx.sessions.EXPECT().Destroy(ctx, identity.Token).Return(nil)
		fx.expectEvent(entity.SecurityEventAccountDeleted, identity.UserID)

		assert.NoError(t, fx.service.DeleteAccount(ctx, identity))
	})

	t.Run("already deleted still ends session", func(t *testing.T) {
		fx := createTestAccountService(t)
		identity := newIdentity()
		fx.userRepo.EXPECT().Delete(ctx, identity.UserID).Return(repository.ErrUserNotFound)
		fx.sessions.EXPECT().Destroy(ctx, identity.Token).Return(nil)
		fx.expectEvent(entity.SecurityEventAccountDeleted, identity.UserID)

		assert.NoError(t, fx.service.DeleteAccount(ctx, identity))
	})

	t.Run("failure keeps session", func(t *testing.T) {
		fx := createTestAccountService(t)
		identity := newIdentity()
		fx.userRepo.EXPECT().Delete(ctx, identity.UserID).
			Return(domainerrors.NewDatabaseExecuteError(errors.New("timeout"), "failed to delete user"))

		assert.ErrorIs(t, fx.service.DeleteAccount(ctx, identity), domainerrors.ErrUserDeleteFailed)
		fx.sessions.AssertNotCalled(t, "Destroy", mock.Anything, mock.Anything)
	})
}

func TestAccountService_Profile(t *testing.T) {
	fx := createTestAccountService(t)
	identity := newIdentity()

	output, err := fx.service.Profile(context.Background(), identity)

	require.NoError(t, err)
	assert.Equal(t, identity.UserID, output.UserID)
}

func TestAccountService_Status(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	tests := []struct {
		name    string
		token   string
		setup   func(fx accountServiceFixtures)
		wantErr error
	}{
		{name: "missing token", token: "", wantErr: domainerrors.ErrMissingToken},
		{
			name:  "valid",
			token: "live",
			setup: func(fx accountServiceFixtures) {
				fx.sessions.EXPECT().Resolve(ctx, "live").Return(userID, true, nil)
			},
		},
		{
			name:  "absent",
			token: "gone",
			setup: func(fx accountServiceFixtures) {
				fx.sessions.EXPECT().Resolve(ctx, "gone").Return(uuid.Nil, false, nil)
			},
			wantErr: domainerrors.ErrInvalidSession,
		},
		{
			name:  "store error",
			token: "live",
			setup: func(fx accountServiceFixtures) {
				fx.sessions.EXPECT().Resolve(ctx, "live").Return(uuid.Nil, false, service.ErrSessionStoreUnavailable)
			},
			wantErr: domainerrors.ErrSessionValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := createTestAccountService(t)
			if tt.setup != nil {
				tt.setup(fx)
			}

			output, err := fx.service.Status(ctx, tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, output)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, userID, output.UserID)
		})
	}
}

func TestAccountService_PublishFailureDoesNotFailRequest(t *testing.T) {
	fx := createTestAccountService(t)
	ctx := context.Background()
	identity := newIdentity()

	fx.sessions.EXPECT().Destroy(ctx, identity.Token).Return(nil)
	fx.publisher.EXPECT().PublishSecurityEvent(mock.Anything, mock.Anything).Return(errors.New("broker down"))

	assert.NoError(t, fx.service.Logout(ctx, identity))
}

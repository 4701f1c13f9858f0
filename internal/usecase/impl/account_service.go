// Package impl contains the implementation of the application's business logic.
package impl

import (
	"context"
	"log/slog"

	deliverycontext "orpheus/internal/delivery/context"
	"orpheus/internal/domain/entity"
	domainerrors "orpheus/internal/domain/errors"
	"orpheus/internal/domain/repository"
	"orpheus/internal/domain/service"
	"orpheus/internal/infra/metrics"
	"orpheus/internal/usecase"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/fx"
)

const (
	opSignup        = "signup"
	opLogin         = "login"
	opLogout        = "logout"
	opResetPassword = "reset_password"
	opDeleteAccount = "delete_account"
)

// accountService implements the AccountUsecase interface.
type accountService struct {
	userRepo  repository.UserRepository
	hasher    service.PasswordHasher
	sessions  service.SessionStore
	publisher service.EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// AccountServiceParams holds dependencies for AccountService, injected by Fx.
type AccountServiceParams struct {
	fx.In

	UserRepo  repository.UserRepository
	Hasher    service.PasswordHasher
	Sessions  service.SessionStore
	Publisher service.EventPublisher
	Metrics   *metrics.Metrics `optional:"true"`
	Logger    *slog.Logger
}

// NewAccountService is the constructor for accountService. It receives all dependencies as interfaces.
func NewAccountService(params AccountServiceParams) usecase.AccountUsecase {
	return &accountService{
		userRepo:  params.UserRepo,
		hasher:    params.Hasher,
		sessions:  params.Sessions,
		publisher: params.Publisher,
		metrics:   params.Metrics,
		logger:    params.Logger,
	}
}

// log returns a request-scoped logger if available, otherwise falls back to the service's logger.
func (srv *accountService) log(ctx context.Context) *slog.Logger {
	return deliverycontext.LoggerFromContext(ctx, srv.logger)
}

// Signup hashes the password and stores a new user.
// Every storage failure, duplicates included, surfaces as the same SIGNUP_FAILED response.
func (srv *accountService) Signup(ctx context.Context, input *usecase.SignupInput) (*usecase.SignupOutput, error) {
	hash, err := srv.hasher.Hash(ctx, input.Password)
	if err != nil {
		srv.log(ctx).Error("Failed to hash password", slog.Any("error", err))
		srv.metrics.RecordAccountOperation(opSignup, metrics.OutcomeError)

		return nil, domainerrors.ErrPasswordHashFailed.WrapMessage("hash password")
	}

	user := &entity.User{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
	}
	if err := srv.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, domainerrors.ErrUserAlreadyExists) {
			srv.log(ctx).Info("Signup rejected for existing email")
		} else {
			srv.log(ctx).Error("Failed to create user", slog.Any("error", err))
		}
		srv.metrics.RecordAccountOperation(opSignup, metrics.OutcomeError)

		return nil, domainerrors.ErrSignupFailed.WrapMessage("create user")
	}

	srv.log(ctx).Info("User signed up", slog.String("user_id", user.ID.String()))
	srv.metrics.RecordAccountOperation(opSignup, metrics.OutcomeSuccess)
	srv.publish(ctx, entity.SecurityEventSignup, user)

	return &usecase.SignupOutput{UserID: user.ID}, nil
}

// Login verifies the credential and issues a new session.
// Unknown email and wrong password are indistinguishable to the caller.
func (srv *accountService) Login(ctx context.Context, input *usecase.LoginInput) (*usecase.LoginOutput, error) {
	user, err := srv.userRepo.FindByEmail(ctx, input.Email)
	if errors.Is(err, repository.ErrUserNotFound) {
		if err := srv.hasher.DummyCheck(ctx, input.Password); err != nil {
			return nil, srv.failVerification(ctx, opLogin, err)
		}

		return nil, srv.rejectLogin(ctx, nil)
	}
	if err != nil {
		srv.log(ctx).Error("Failed to find user for login", slog.Any("error", err))
		srv.metrics.RecordAccountOperation(opLogin, metrics.OutcomeError)

		return nil, domainerrors.ErrLoginFailed.WrapMessage("find user by email")
	}

	matched, err := srv.hasher.Check(ctx, input.Password, user.Credential().PasswordHash)
	if err != nil {
		return nil, srv.failVerification(ctx, opLogin, err)
	}
	if !matched {
		return nil, srv.rejectLogin(ctx, user)
	}

	sess, err := srv.sessions.Create(ctx, user.ID)
	if err != nil {
		srv.log(ctx).Error("Failed to create session",
			slog.String("user_id", user.ID.String()),
			slog.Any("error", err),
		)
		srv.metrics.RecordAccountOperation(opLogin, metrics.OutcomeError)

		return nil, domainerrors.ErrSessionCreateFailed.WrapMessage("create session")
	}

	srv.log(ctx).Info("User logged in",
		slog.String("user_id", user.ID.String()),
		slog.String("token_prefix", entity.TokenPrefix(sess.Token)),
	)
	srv.metrics.RecordAccountOperation(opLogin, metrics.OutcomeSuccess)
	srv.publish(ctx, entity.SecurityEventLoginSucceeded, user)

	return &usecase.LoginOutput{
		SessionID: sess.Token,
		UserID:    user.ID,
		ExpiresAt: sess.ExpiresAt.Unix(),
	}, nil
}

func (srv *accountService) rejectLogin(ctx context.Context, user *entity.User) error {
	srv.log(ctx).Info("Login rejected")
	srv.metrics.RecordAccountOperation(opLogin, metrics.OutcomeRejected)
	srv.publish(ctx, entity.SecurityEventLoginFailed, user)

	return domainerrors.ErrInvalidCredentials.WrapMessage("verify credentials")
}

// failVerification reports a password check that could not run. It is not a credential rejection.
func (srv *accountService) failVerification(ctx context.Context, op string, err error) error {
	srv.log(ctx).Error("Failed to verify password", slog.String("operation", op), slog.Any("error", err))
	srv.metrics.RecordAccountOperation(op, metrics.OutcomeError)

	return domainerrors.ErrPasswordHashFailed.WrapMessage("verify password")
}

// Logout destroys the session the request authenticated with.
func (srv *accountService) Logout(ctx context.Context, identity *entity.Identity) error {
	if err := srv.sessions.Destroy(ctx, identity.Token); err != nil {
		srv.log(ctx).Error("Failed to destroy session", slog.Any("error", err))
		srv.metrics.RecordAccountOperation(opLogout, metrics.OutcomeError)

		return domainerrors.ErrLogoutFailed.WrapMessage("destroy session")
	}

	srv.metrics.RecordAccountOperation(opLogout, metrics.OutcomeSuccess)
	srv.publish(ctx, entity.SecurityEventLogout, &entity.User{ID: identity.UserID})

	return nil
}

// ResetPassword replaces the password after verifying the old one, then ends the current session.
// The password update and the session destruction are not atomic: a failed destroy is
// logged and the request still succeeds.
func (srv *accountService) ResetPassword(ctx context.Context, identity *entity.Identity, input *usecase.ResetPasswordInput) error {
	user, err := srv.userRepo.FindByID(ctx, identity.UserID)
	if errors.Is(err, repository.ErrUserNotFound) {
		srv.metrics.RecordAccountOperation(opResetPassword, metrics.OutcomeRejected)

		return domainerrors.ErrInvalidSession.WrapMessage("session user no longer exists")
	}
	if err != nil {
		srv.log(ctx).Error("Failed to fetch user for password reset", slog.Any("error", err))
		srv.metrics.RecordAccountOperation(opResetPassword, metrics.OutcomeError)

		return domainerrors.ErrUserLookupFailed.WrapMessage("find user by id")
	}

	matched, err := srv.hasher.Check(ctx, input.OldPassword, user.Credential().PasswordHash)
	if err != nil {
		return srv.failVerification(ctx, opResetPassword, err)
	}
	if !matched {
		srv.log(ctx).Info("Password reset rejected", slog.String("user_id", user.ID.String()))
		srv.metrics.RecordAccountOperation(opResetPassword, metrics.OutcomeRejected)

		return domainerrors.ErrInvalidOldPassword.WrapMessage("verify old password")
	}

	newHash, err := srv.hasher.Hash(ctx, input.NewPassword)
	if err != nil {
		srv.log(ctx).Error("Failed to hash new password", slog.Any("error", err))
		srv.metrics.RecordAccountOperation(opResetPassword, metrics.OutcomeError)

		return domainerrors.ErrPasswordHashFailed.WrapMessage("hash new password")
	}

	if err := srv.userRepo.UpdatePassword(ctx, user.ID, newHash); err != nil {
		srv.log(ctx).Error("Failed to update password",
			slog.String("user_id", user.ID.String()),
			slog.Any("error", err),
		)
		srv.metrics.RecordAccountOperation(opResetPassword, metrics.OutcomeError)

		return domainerrors.ErrPasswordUpdateFailed.WrapMessage("update password")
	}

	if err := srv.sessions.Destroy(ctx, identity.Token); err != nil {
		srv.log(ctx).Warn("Password updated but session could not be destroyed",
			slog.String("user_id", user.ID.String()),
			slog.String("token_prefix", entity.TokenPrefix(identity.Token)),
			slog.Any("error", err),
		)
	}

	srv.log(ctx).Info("Password changed", slog.String("user_id", user.ID.String()))
	srv.metrics.RecordAccountOperation(opResetPassword, metrics.OutcomeSuccess)
	srv.publish(ctx, entity.SecurityEventPasswordChanged, user)

	return nil
}

// DeleteAccount removes the user and then ends the current session.
// A failed delete leaves the session usable.
func (srv *accountService) DeleteAccount(ctx context.Context, identity *entity.Identity) error {
	err := srv.userRepo.Delete(ctx, identity.UserID)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		srv.log(ctx).Error("Failed to delete user",
			slog.String("user_id", identity.UserID.String()),
			slog.Any("error", err),
		)
		srv.metrics.RecordAccountOperation(opDeleteAccount, metrics.OutcomeError)

		return domainerrors.ErrUserDeleteFailed.WrapMessage("delete user")
	}

	if err := srv.sessions.Destroy(ctx, identity.Token); err != nil {
		srv.log(ctx).Warn("User deleted but session could not be destroyed",
			slog.String("user_id", identity.UserID.String()),
			slog.Any("error", err),
		)
	}

	srv.log(ctx).Info("User deleted", slog.String("user_id", identity.UserID.String()))
	srv.metrics.RecordAccountOperation(opDeleteAccount, metrics.OutcomeSuccess)
	srv.publish(ctx, entity.SecurityEventAccountDeleted, &entity.User{ID: identity.UserID})

	return nil
}

// Profile returns the authenticated user's ID.
func (srv *accountService) Profile(_ context.Context, identity *entity.Identity) (*usecase.ProfileOutput, error) {
	return &usecase.ProfileOutput{UserID: identity.UserID}, nil
}

// Status resolves a token without requiring the session middleware.
func (srv *accountService) Status(ctx context.Context, token string) (*usecase.ProfileOutput, error) {
	if token == "" {
		return nil, domainerrors.ErrMissingToken
	}

	userID, ok, err := srv.sessions.Resolve(ctx, token)
	if err != nil {
		srv.log(ctx).Error("Failed to resolve session", slog.Any("error", err))

		return nil, domainerrors.ErrSessionValidationFailed.WrapMessage("resolve session")
	}
	if !ok {
		return nil, domainerrors.ErrInvalidSession
	}

	return &usecase.ProfileOutput{UserID: userID}, nil
}

// publish emits a security event. Delivery failures are logged and never fail the request.
func (srv *accountService) publish(ctx context.Context, eventType entity.SecurityEventType, user *entity.User) {
	event := entity.NewSecurityEvent(eventType, userIDOf(user), deliverycontext.RequestIDFromContext(ctx))
	if err := srv.publisher.PublishSecurityEvent(ctx, event); err != nil {
		srv.log(ctx).Warn("Failed to publish security event",
			slog.String("event_type", string(eventType)),
			slog.Any("error", err),
		)
	}
}

func userIDOf(user *entity.User) uuid.UUID {
	if user == nil {
		return uuid.Nil
	}

	return user.ID
}

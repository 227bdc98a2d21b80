package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/audit"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/presence"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/repository"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
)

// Admission methods.
const (
	MethodAccess  = "access"
	MethodRefresh = "refresh"
)

// Refresh triggers.
const (
	TriggerPeriodic = "periodic"
	TriggerOnDemand = "on_demand"
)

// Credentials is the credential collaborator.
type Credentials interface {
	ValidateAccessToken(token string) (string, error)
	ValidateRefreshToken(token string) (string, error)
	MintAccessToken(ctx context.Context, userID string) (string, time.Time, error)
	RefreshTokenMatches(ctx context.Context, userID, token string) (bool, error)
}

// Users resolves identities to user records.
type Users interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// Identity is the outcome of a successful admission.
type Identity struct {
	UserID string
	// RefreshToken is the validated refresh token to remember, or empty.
	RefreshToken string
	Method       string
}

// Authenticator admits connections and keeps their credentials fresh.
type Authenticator struct {
	creds           Credentials
	users           Users
	refreshInterval time.Duration
	metrics         *metrics.Metrics
	now             func() time.Time
}

// NewAuthenticator creates an authenticator. A non-positive refreshInterval
// disables periodic re-minting.
func NewAuthenticator(creds Credentials, users Users, refreshInterval time.Duration, m *metrics.Metrics) *Authenticator {
	return &Authenticator{
		creds:           creds,
		users:           users,
		refreshInterval: refreshInterval,
		metrics:         m,
		now:             time.Now,
	}
}

// Authenticate admits a connection presenting an access token, a refresh
// token, or both. The access token wins when it validates.
func (a *Authenticator) Authenticate(ctx context.Context, accessToken, refreshToken string) (*Identity, error) {
	l := log.Ctx(ctx)
	var id *Identity

	if accessToken != "" {
		if userID, err := a.creds.ValidateAccessToken(accessToken); err == nil {
			id = &Identity{UserID: userID, Method: MethodAccess}
			if refreshToken != "" && a.refreshValid(ctx, userID, refreshToken) {
				id.RefreshToken = refreshToken
			}
		} else {
			l.Debug().Err(err).Msg("access token rejected")
		}
	}

	if id == nil && refreshToken != "" {
		if userID, err := a.creds.ValidateRefreshToken(refreshToken); err == nil {
			if a.refreshValid(ctx, userID, refreshToken) {
				id = &Identity{UserID: userID, RefreshToken: refreshToken, Method: MethodRefresh}
			}
		} else {
			l.Debug().Err(err).Msg("refresh token rejected")
		}
	}

	if id == nil {
		a.metrics.RecordAdmission("rejected")
		audit.Log(ctx, audit.ActionReject, "", "connection rejected: no valid credential")
		return nil, domain.Authentication("invalid or expired credentials")
	}

	if err := a.checkActive(ctx, id.UserID); err != nil {
		a.metrics.RecordAdmission("rejected")
		audit.LogWithDetail(ctx, audit.ActionReject, id.UserID, err.Error(), "connection rejected")
		return nil, err
	}

	a.metrics.RecordAdmission(id.Method)
	audit.LogWithDetail(ctx, audit.ActionAdmit, id.UserID, id.Method, "connection admitted")
	return id, nil
}

// Refresh mints a new access token from presented, or from the session's
// remembered refresh token when presented is empty. A newly presented token
// is remembered on success.
func (a *Authenticator) Refresh(ctx context.Context, session *domain.Session, presented, trigger string) (*domain.TokenRefreshedEvent, error) {
	ev, err := a.refresh(ctx, session, presented)
	a.metrics.RecordTokenRefresh(trigger, err)
	if err != nil {
		return nil, err
	}
	audit.LogWithDetail(ctx, audit.ActionRefresh, session.UserID, trigger, "access token refreshed")
	return ev, nil
}

func (a *Authenticator) refresh(ctx context.Context, session *domain.Session, presented string) (*domain.TokenRefreshedEvent, error) {
	token := presented
	if token == "" {
		token = session.RefreshToken()
	}
	if token == "" {
		return nil, domain.Authentication("no refresh token for this connection")
	}

	userID, err := a.creds.ValidateRefreshToken(token)
	if err != nil {
		return nil, domain.Authentication("refresh token is invalid or expired")
	}
	if userID != session.UserID {
		return nil, domain.Authentication("refresh token belongs to another user")
	}

	ok, err := a.creds.RefreshTokenMatches(ctx, userID, token)
	if err != nil {
		return nil, fmt.Errorf("check stored refresh token: %w", err)
	}
	if !ok {
		return nil, domain.Authentication("refresh token has been revoked")
	}

	if err := a.checkActive(ctx, userID); err != nil {
		return nil, err
	}

	access, expiresAt, err := a.creds.MintAccessToken(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	if presented != "" {
		session.SetRefreshToken(presented)
	}
	session.MarkRefreshed(a.now())

	return &domain.TokenRefreshedEvent{
		Type:        domain.MsgTypeTokenRefreshed,
		AccessToken: access,
		ExpiresAt:   expiresAt,
	}, nil
}

// Watch re-mints the connection's access token every refresh interval until
// ctx is done. A credential that stopped being valid closes the connection
// after an auth-error; transient failures are retried on the next tick.
func (a *Authenticator) Watch(ctx context.Context, conn presence.Conn, session *domain.Session) {
	if a.refreshInterval <= 0 {
		return
	}
	l := log.Ctx(ctx)

	ticker := time.NewTicker(a.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if session.RefreshToken() == "" {
				continue
			}

			ev, err := a.Refresh(ctx, session, "", TriggerPeriodic)
			if err != nil {
				if domain.IsClientError(err) {
					l.Info().Err(err).Msg("periodic refresh rejected, closing connection")
					conn.Send(domain.NewAuthError(domain.PublicMessage(err)))
					conn.Close()
					return
				}
				l.Warn().Err(err).Msg("periodic refresh failed")
				continue
			}
			conn.Send(ev)
		}
	}
}

func (a *Authenticator) refreshValid(ctx context.Context, userID, token string) bool {
	tokenUser, err := a.creds.ValidateRefreshToken(token)
	if err != nil || tokenUser != userID {
		return false
	}
	ok, err := a.creds.RefreshTokenMatches(ctx, userID, token)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("refresh token lookup failed")
		return false
	}
	return ok
}

func (a *Authenticator) checkActive(ctx context.Context, userID string) error {
	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return domain.Authentication("unknown user")
		}
		return fmt.Errorf("load user %s: %w", userID, err)
	}
	if !user.IsActive {
		return domain.Authentication("account is inactive")
	}
	return nil
}

package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const refreshKey = "refresh"

// Credentials are the email/password pair accepted by /auth/login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the payload accepted by /auth/register.
type Registration struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"nombre,omitempty"`
	LastName  string `json:"apellido,omitempty"`
	Username  string `json:"username,omitempty"`
}

type authResponse struct {
	User         *Principal `json:"user"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// SessionController drives the session state machine: login, registration,
// logout, principal refresh and the single-flight token refresh.
type SessionController struct {
	state   *SessionState
	tokens  *TokenStore
	gateway *Gateway
	logger  *zap.Logger

	refresh singleflight.Group
}

// ControllerOption configures a SessionController.
type ControllerOption func(*SessionController)

// WithControllerLogger sets the controller logger.
func WithControllerLogger(logger *zap.Logger) ControllerOption {
	return func(c *SessionController) {
		c.logger = logger
	}
}

// NewSessionController wires a controller over state and gateway and installs
// its forced logout as the gateway's unauthorized handler.
func NewSessionController(state *SessionState, gateway *Gateway, opts ...ControllerOption) *SessionController {
	c := &SessionController{
		state:   state,
		tokens:  state.Tokens(),
		gateway: gateway,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	gateway.SetUnauthorizedHandler(func(ctx context.Context) {
		if err := c.Logout(ctx, false); err != nil {
			c.logger.Error("forced logout did not fully clear storage", zap.Error(err))
		}
	})
	return c
}

// Gateway returns the gateway the controller talks through.
func (c *SessionController) Gateway() *Gateway {
	return c.gateway
}

// Session returns a snapshot of the current session.
func (c *SessionController) Session() Session {
	return c.state.Snapshot()
}

// Principal returns a copy of the current principal, if any.
func (c *SessionController) Principal() (*Principal, bool) {
	return c.state.Principal()
}

func (c *SessionController) Phase() Phase {
	return c.state.Phase()
}

func (c *SessionController) Tokens() *TokenStore {
	return c.tokens
}

// IsAuthenticated reports whether a non-expired access token and a principal are both held.
func (c *SessionController) IsAuthenticated() bool {
	if c.tokens.IsExpired() {
		return false
	}
	_, ok := c.state.Principal()
	return ok
}

// Login authenticates with email and password. Failures are returned as *AuthError
// and recorded as the session's last error.
func (c *SessionController) Login(ctx context.Context, creds Credentials) (*Principal, error) {
	prev := c.begin()
	defer c.state.setLoading(false)
	gen := c.state.Generation()

	var resp authResponse
	req := Request{Method: http.MethodPost, Path: "/auth/login", Body: creds, Credentials: true}
	if err := c.gateway.Do(ctx, req, &resp); err != nil {
		return nil, c.fail(gen, prev, newAuthError(err, "login failed"))
	}
	if resp.User == nil || resp.AccessToken == "" {
		return nil, c.fail(gen, prev, &AuthError{Message: "invalid login response from server"})
	}
	if err := c.establish(resp); err != nil {
		return nil, c.fail(gen, prev, &AuthError{Message: "invalid login response from server", Err: err})
	}

	c.logger.Info("login succeeded", zap.Int64("user_id", resp.User.ID), zap.String("email", resp.User.Email))
	return resp.User.clone(), nil
}

// Register creates an account. When the backend answers with a user and an
// access token the session is authenticated immediately.
func (c *SessionController) Register(ctx context.Context, reg Registration) (*Principal, error) {
	if err := validateEmail(reg.Email); err != nil {
		return nil, err
	}
	if err := validatePassword("password", reg.Password); err != nil {
		return nil, err
	}

	prev := c.begin()
	defer c.state.setLoading(false)
	gen := c.state.Generation()

	var resp authResponse
	req := Request{Method: http.MethodPost, Path: "/auth/register", Body: reg, Credentials: true}
	if err := c.gateway.Do(ctx, req, &resp); err != nil {
		return nil, c.fail(gen, prev, newAuthError(err, "registration failed"))
	}
	if resp.User == nil {
		return nil, c.fail(gen, prev, &AuthError{Message: "invalid registration response from server"})
	}
	if resp.AccessToken == "" {
		c.state.setPhase(prev)
		c.logger.Info("registration succeeded without auto-login", zap.String("email", resp.User.Email))
		return resp.User.clone(), nil
	}
	if err := c.establish(resp); err != nil {
		return nil, c.fail(gen, prev, &AuthError{Message: "invalid registration response from server", Err: err})
	}

	c.logger.Info("registration succeeded", zap.String("email", resp.User.Email))
	return resp.User.clone(), nil
}

// Logout ends the session. When notifyBackend is set and a token is held the
// backend is told first; that call is best effort. Local state is always cleared.
// The returned error only reports durable storage that could not be cleared.
func (c *SessionController) Logout(ctx context.Context, notifyBackend bool) error {
	if notifyBackend && c.tokens.HasAccessToken() {
		if err := c.gateway.Post(ctx, "/auth/logout", nil, nil); err != nil {
			c.logger.Warn("could not notify backend of logout", zap.Error(err))
		}
	}

	if err := c.state.reset(c.tokens.Clear); err != nil {
		c.logger.Error("failed to clear stored tokens", zap.Error(err))
		return fmt.Errorf("clear session: %w", err)
	}
	c.logger.Debug("logged out")
	return nil
}

// RefreshCurrentUser reloads the principal from /auth/me. A 401 ends the session.
func (c *SessionController) RefreshCurrentUser(ctx context.Context) (*Principal, error) {
	if !c.tokens.HasAccessToken() {
		return nil, ErrNotAuthenticated
	}
	gen := c.state.Generation()

	var user Principal
	if err := c.gateway.Get(ctx, "/auth/me", nil, &user); err != nil {
		if IsUnauthorized(err) {
			if logoutErr := c.Logout(ctx, false); logoutErr != nil {
				c.logger.Error("logout after rejected token failed", zap.Error(logoutErr))
			}
		}
		return nil, fmt.Errorf("refresh current user: %w", err)
	}

	if !c.state.replacePrincipalIf(gen, &user) {
		c.logger.Debug("dropping stale user refresh, session changed while in flight")
		return nil, ErrNotAuthenticated
	}
	return user.clone(), nil
}

// RefreshAccessToken exchanges the refresh token for a new access token.
// Concurrent callers share a single backend call and observe the same result.
// Any failure ends the session and yields an error matching ErrSessionExpired;
// a missing refresh token additionally matches ErrNoRefreshToken.
func (c *SessionController) RefreshAccessToken(ctx context.Context) (string, error) {
	ch := c.refresh.DoChan(refreshKey, func() (any, error) {
		return c.performRefresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *SessionController) performRefresh(ctx context.Context) (string, error) {
	refreshToken := c.tokens.RefreshToken()
	if refreshToken == "" {
		if err := c.Logout(ctx, false); err != nil {
			c.logger.Error("logout without refresh token failed", zap.Error(err))
		}
		return "", fmt.Errorf("%w: %w", ErrSessionExpired, ErrNoRefreshToken)
	}

	gen := c.state.Generation()
	prev := c.state.Phase()
	c.state.setPhase(PhaseRefreshing)
	c.logger.Debug("refreshing access token")

	var resp refreshResponse
	err := c.gateway.Post(ctx, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, &resp)
	if err == nil && resp.AccessToken == "" {
		err = errors.New("refresh response carried no access token")
	}
	if err != nil {
		if logoutErr := c.Logout(ctx, false); logoutErr != nil {
			c.logger.Error("logout after failed refresh failed", zap.Error(logoutErr))
		}
		return "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	committed, err := c.state.commitIf(gen, func() error {
		if err := c.tokens.SetAccessToken(resp.AccessToken); err != nil {
			return err
		}
		if resp.RefreshToken != "" {
			_ = c.tokens.SetRefreshToken(resp.RefreshToken)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	if !committed {
		return "", fmt.Errorf("%w: session ended while refreshing", ErrSessionExpired)
	}

	if _, ok := c.state.Principal(); ok {
		c.state.setPhase(PhaseAuthenticated)
		c.state.persist()
	} else {
		c.state.setPhase(prev)
	}
	c.logger.Info("access token refreshed", zap.Int("minutes_remaining", c.tokens.MinutesRemaining()))
	return resp.AccessToken, nil
}

// EnsureFreshToken refreshes the access token when it expires within the given
// window and a refresh token is available.
func (c *SessionController) EnsureFreshToken(ctx context.Context, within time.Duration) error {
	if !c.tokens.HasAccessToken() {
		return ErrNotAuthenticated
	}
	if !c.tokens.ExpiresWithin(within) {
		return nil
	}
	if c.tokens.RefreshToken() == "" {
		if c.tokens.IsExpired() {
			return ErrNoRefreshToken
		}
		c.logger.Warn("access token expiring soon and no refresh token is held",
			zap.Int("minutes_remaining", c.tokens.MinutesRemaining()))
		return nil
	}
	_, err := c.RefreshAccessToken(ctx)
	return err
}

// RestoreSession resumes a session from durable storage and reports whether it
// succeeded. Expired or rejected sessions are cleared.
func (c *SessionController) RestoreSession(ctx context.Context) bool {
	access, refresh, err := c.tokens.Load()
	if err != nil {
		c.logger.Error("could not read stored session", zap.Error(err))
		return false
	}
	if access == "" {
		c.logger.Debug("no previous session")
		return false
	}

	c.tokens.Adopt(access, refresh)
	if c.tokens.IsExpired() {
		c.logger.Info("stored access token expired, clearing session")
		_ = c.Logout(ctx, false)
		return false
	}

	if snap, err := LoadSnapshot(c.state.store); err != nil {
		c.logger.Warn("ignoring unreadable session snapshot", zap.Error(err))
	} else if snap != nil && snap.User != nil {
		c.state.setPrincipal(snap.User)
	}

	c.state.setPhase(PhaseAuthenticating)
	if _, err := c.RefreshCurrentUser(ctx); err != nil {
		c.logger.Warn("stored session rejected, clearing it", zap.Error(err))
		_ = c.Logout(ctx, false)
		return false
	}

	c.state.setPhase(PhaseAuthenticated)
	c.logger.Info("session restored", zap.Int("minutes_remaining", c.tokens.MinutesRemaining()))
	return true
}

// PatchPrincipal merges patch into the current principal. Keys are the JSON
// field names of Principal. It is a no-op without a principal.
func (c *SessionController) PatchPrincipal(patch map[string]any) error {
	_, err := c.state.patchPrincipal(c.state.Generation(), patch)
	return err
}

func (c *SessionController) begin() Phase {
	prev := c.state.Phase()
	c.state.setLoading(true)
	c.state.clearError()
	c.state.setPhase(PhaseAuthenticating)
	return prev
}

// fail records authErr on the session and rolls the phase back unless the session
// was reset while the call was in flight.
func (c *SessionController) fail(gen uint64, prev Phase, authErr *AuthError) error {
	if c.state.Generation() == gen {
		c.state.setPhase(prev)
	}
	c.state.setError(authErr.Message)
	c.logger.Warn("authentication failed", zap.Int("status", authErr.Status), zap.String("message", authErr.Message))
	return authErr
}

func (c *SessionController) establish(resp authResponse) error {
	if err := c.tokens.SetAccessToken(resp.AccessToken); err != nil {
		return err
	}
	if resp.RefreshToken != "" {
		if err := c.tokens.SetRefreshToken(resp.RefreshToken); err != nil {
			return err
		}
	}
	c.state.setPrincipal(resp.User)
	c.state.setPhase(PhaseAuthenticated)
	c.gateway.Rearm()
	return nil
}

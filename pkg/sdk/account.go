package sdk

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// MinPasswordLength mirrors the backend's password policy.
const MinPasswordLength = 6

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// MessageResponse is the acknowledgement body returned by account endpoints.
type MessageResponse struct {
	Message string `json:"message"`
}

func validateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return &ValidationError{Field: "email", Message: "email is required"}
	}
	if !emailPattern.MatchString(email) {
		return &ValidationError{Field: "email", Message: "email is not valid"}
	}
	return nil
}

func validatePassword(field, password string) error {
	if len(password) < MinPasswordLength {
		return &ValidationError{Field: field, Message: "password must be at least 6 characters"}
	}
	return nil
}

func validateToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return &ValidationError{Field: "token", Message: "token is required"}
	}
	return nil
}

// ForgotPassword asks the backend to email a password reset link.
func (c *SessionController) ForgotPassword(ctx context.Context, email string) (*MessageResponse, error) {
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	var resp MessageResponse
	if err := c.gateway.Post(ctx, "/auth/forgot-password", map[string]string{"email": email}, &resp); err != nil {
		return nil, newAuthError(err, "could not send recovery email")
	}
	return &resp, nil
}

// ResetPassword sets a new password using the token from the recovery email.
func (c *SessionController) ResetPassword(ctx context.Context, token, password string) (*MessageResponse, error) {
	if err := validateToken(token); err != nil {
		return nil, err
	}
	if err := validatePassword("password", password); err != nil {
		return nil, err
	}
	var resp MessageResponse
	body := map[string]string{"token": token, "password": password}
	if err := c.gateway.Post(ctx, "/auth/reset-password", body, &resp); err != nil {
		return nil, newAuthError(err, "could not reset password")
	}
	return &resp, nil
}

// ChangePassword changes the password of the logged in user.
func (c *SessionController) ChangePassword(ctx context.Context, current, next string) (*MessageResponse, error) {
	if !c.tokens.HasAccessToken() {
		return nil, ErrNotAuthenticated
	}
	if current == "" {
		return nil, &ValidationError{Field: "current_password", Message: "current password is required"}
	}
	if err := validatePassword("new_password", next); err != nil {
		return nil, err
	}
	var resp MessageResponse
	body := map[string]string{"current_password": current, "new_password": next}
	if err := c.gateway.Post(ctx, "/auth/change-password", body, &resp); err != nil {
		return nil, newAuthError(err, "could not change password")
	}
	return &resp, nil
}

func (c *SessionController) VerifyEmail(ctx context.Context, token string) (*MessageResponse, error) {
	if err := validateToken(token); err != nil {
		return nil, err
	}
	var resp MessageResponse
	if err := c.gateway.Post(ctx, "/auth/verify-email", map[string]string{"token": token}, &resp); err != nil {
		return nil, newAuthError(err, "could not verify email")
	}
	return &resp, nil
}

func (c *SessionController) ResendVerification(ctx context.Context) (*MessageResponse, error) {
	var resp MessageResponse
	if err := c.gateway.Post(ctx, "/auth/resend-verification", nil, &resp); err != nil {
		return nil, newAuthError(err, "could not resend verification email")
	}
	return &resp, nil
}

// UpdateProfile patches the logged in user's profile and merges the result into
// the session principal.
func (c *SessionController) UpdateProfile(ctx context.Context, updates map[string]any) (*Principal, error) {
	if !c.tokens.HasAccessToken() {
		return nil, ErrNotAuthenticated
	}
	if email, ok := updates["email"].(string); ok {
		if err := validateEmail(email); err != nil {
			return nil, err
		}
	}

	c.state.setLoading(true)
	defer c.state.setLoading(false)
	gen := c.state.Generation()

	var fields map[string]any
	if err := c.gateway.Patch(ctx, "/auth/profile", updates, &fields); err != nil {
		authErr := newAuthError(err, "could not update profile")
		c.state.setError(authErr.Message)
		return nil, authErr
	}

	user, err := c.state.patchPrincipal(gen, fields)
	if err != nil {
		return nil, err
	}
	if user == nil {
		c.logger.Debug("profile updated but no matching session to merge into")
		return decodePrincipal(fields)
	}
	c.logger.Info("profile updated", zap.Int64("user_id", user.ID))
	return user, nil
}

func decodePrincipal(fields map[string]any) (*Principal, error) {
	return (&Principal{}).merge(fields)
}

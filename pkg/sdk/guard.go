package sdk

import "context"

// Requirement describes what a protected command or view needs before it runs.
type Requirement struct {
	RequiresAuth bool
	// Roles, when set, admits the principal if it holds any one of them.
	// Ignored unless RequiresAuth is set.
	Roles []string
}

// Guard decides whether the current session may enter a protected area. It
// returns ErrNotAuthenticated when the caller should be sent to login and
// ErrForbidden when the principal is logged in but lacks every listed role.
func Guard(ctx context.Context, ctrl *SessionController, cache *AuthorizationCache, req Requirement) error {
	if !req.RequiresAuth {
		return nil
	}
	if !ctrl.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	if len(req.Roles) > 0 && !cache.CurrentUserHasAnyRole(ctx, req.Roles) {
		return ErrForbidden
	}
	return nil
}

// Package sdk is the client-side session and authorization layer for the panel
// backend.
//
// The pieces are constructed explicitly and wired together:
//
//	store := sdk.NewMemoryStore()
//	tokens := sdk.NewTokenStore(store)
//	state := sdk.NewSessionState(tokens, store, logger)
//	gateway := sdk.NewGateway(baseURL, tokens, sdk.WithRedirector(redirector))
//	session := sdk.NewSessionController(state, gateway)
//	authz, _ := sdk.NewAuthorizationCache(session)
//	users, _ := sdk.NewUserDirectory(session)
//
// Call SessionController.RestoreSession at startup to resume a persisted session.
package sdk

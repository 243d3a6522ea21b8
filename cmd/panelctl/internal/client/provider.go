package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"go.uber.org/zap"

	"github.com/terraconstructs/panel/cmd/panelctl/internal/auth"
	"github.com/terraconstructs/panel/pkg/sdk"
)

// Options configures a Provider.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	SessionFile   string
	RefreshWindow time.Duration
	Logger        *zap.Logger
	// Store overrides the file-backed session store.
	Store sdk.DurableStore
}

// Provider lazily wires the SDK session stack for a single CLI invocation.
// Every accessor shares one store, token store, gateway and controller.
type Provider struct {
	opts Options

	buildOnce sync.Once
	buildErr  error
	store     sdk.DurableStore
	ctrl      *sdk.SessionController
	cache     *sdk.AuthorizationCache
	users     *sdk.UserDirectory

	restoreOnce sync.Once
	restored    bool

	expiredWarnOnce sync.Once
}

// NewProvider constructs a Provider. Nothing is read from disk until the
// first accessor runs.
func NewProvider(opts Options) *Provider {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Provider{opts: opts}
}

func (p *Provider) build() error {
	p.buildOnce.Do(func() {
		store := p.opts.Store
		if store == nil {
			fs, err := auth.NewFileStore(p.opts.SessionFile, auth.WithLogger(p.opts.Logger))
			if err != nil {
				p.buildErr = fmt.Errorf("failed to open session store: %w", err)
				return
			}
			store = fs
		}
		p.store = store

		logger := p.opts.Logger
		tokens := sdk.NewTokenStore(store, sdk.WithTokenLogger(logger))
		state := sdk.NewSessionState(tokens, store, logger)
		gateway := sdk.NewGateway(p.opts.BaseURL, tokens,
			sdk.WithLogger(logger),
			sdk.WithTimeout(p.opts.Timeout),
			sdk.WithRedirector(sdk.RedirectFunc(p.sessionExpired)),
		)
		p.ctrl = sdk.NewSessionController(state, gateway, sdk.WithControllerLogger(logger))

		var err error
		if p.cache, err = sdk.NewAuthorizationCache(p.ctrl, sdk.WithCacheLogger(logger)); err != nil {
			p.buildErr = fmt.Errorf("failed to create authorization cache: %w", err)
			return
		}
		if p.users, err = sdk.NewUserDirectory(p.ctrl, sdk.WithCacheLogger(logger)); err != nil {
			p.buildErr = fmt.Errorf("failed to create user directory: %w", err)
			return
		}
	})
	return p.buildErr
}

func (p *Provider) sessionExpired(cause error) {
	p.expiredWarnOnce.Do(func() {
		pterm.Warning.Println("Session expired or revoked; run `panelctl auth login` to sign in again.")
		p.opts.Logger.Debug("redirected to login", zap.Error(cause))
	})
}

// Store returns the durable store backing the session.
func (p *Provider) Store() (sdk.DurableStore, error) {
	if err := p.build(); err != nil {
		return nil, err
	}
	return p.store, nil
}

// Session returns the controller with any stored session restored, without
// requiring one. Use it for commands that work anonymously, such as login.
func (p *Provider) Session(ctx context.Context) (*sdk.SessionController, error) {
	if err := p.build(); err != nil {
		return nil, err
	}
	p.restoreOnce.Do(func() {
		ctx, cancel := ensureTimeout(ctx, p.opts.Timeout)
		defer cancel()
		p.restored = p.ctrl.RestoreSession(ctx)
	})
	return p.ctrl, nil
}

// Restored reports whether a stored session was resumed.
func (p *Provider) Restored() bool {
	return p.restored
}

// Controller returns the controller for an authenticated command. The stored
// session is restored and its access token refreshed when it is about to
// expire.
func (p *Provider) Controller(ctx context.Context) (*sdk.SessionController, error) {
	ctrl, err := p.Session(ctx)
	if err != nil {
		return nil, err
	}
	if !ctrl.IsAuthenticated() {
		return nil, errors.New("not logged in; please run `panelctl auth login`")
	}
	if err := ctrl.EnsureFreshToken(ctx, p.opts.RefreshWindow); err != nil {
		if errors.Is(err, sdk.ErrNotAuthenticated) || errors.Is(err, sdk.ErrNoRefreshToken) || errors.Is(err, sdk.ErrSessionExpired) {
			return nil, errors.New("session expired; please run `panelctl auth login`")
		}
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	return ctrl, nil
}

// Cache returns the authorization cache for an authenticated command.
func (p *Provider) Cache(ctx context.Context) (*sdk.AuthorizationCache, error) {
	if _, err := p.Controller(ctx); err != nil {
		return nil, err
	}
	return p.cache, nil
}

// Users returns the user directory for an authenticated command.
func (p *Provider) Users(ctx context.Context) (*sdk.UserDirectory, error) {
	if _, err := p.Controller(ctx); err != nil {
		return nil, err
	}
	return p.users, nil
}

// Guard checks req against the restored session. It never contacts the
// backend when the session is anonymous.
func (p *Provider) Guard(ctx context.Context, req sdk.Requirement) error {
	ctrl, err := p.Session(ctx)
	if err != nil {
		return err
	}
	return sdk.Guard(ctx, ctrl, p.cache, req)
}

func ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = sdk.DefaultTimeout
	}

	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	return ctxWithTimeout, cancel
}

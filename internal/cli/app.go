package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/examlytics/examctl/internal/api"
	"github.com/examlytics/examctl/internal/config"
	"github.com/examlytics/examctl/internal/constants"
	"github.com/examlytics/examctl/internal/events"
	"github.com/examlytics/examctl/internal/http"
	"github.com/examlytics/examctl/internal/logging"
	"github.com/examlytics/examctl/internal/session"
)

// app holds what one command invocation needs. It is built lazily so that
// commands which never touch the network (scheme, inspect) do not require a
// reachable API or session store.
type app struct {
	cfg     *config.Config
	client  *api.Client
	session *session.Manager
	bus     *events.EventBus
	closers []func() error
}

// loadConfig builds the effective configuration from file, .env, environment
// and global flags, then validates it.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	cfg, err := config.Load(path, config.Overrides{
		APIBaseURL:   apiBaseURL,
		PollInterval: pollInterval,
		ProxyMode:    proxyMode,
		TokenStore:   tokenStore,
		LogLevel:     logLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if !verbose && !debug && logLevel == "" {
		logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	}
	return cfg, nil
}

// ensureProxyPassword asks for the proxy password when the configuration names
// a basic or NTLM proxy user without one. Piped input is never read for it.
func ensureProxyPassword(cfg *config.Config, p *prompter) error {
	if !http.NeedsProxyPassword(cfg) {
		return nil
	}
	if !p.isTerm {
		return fmt.Errorf("proxy user %q needs a password: set %sPROXY_PASSWORD", cfg.ProxyUser, config.EnvPrefix)
	}
	pw, err := p.password(fmt.Sprintf("Proxy password for %s", cfg.ProxyUser))
	if err != nil {
		return err
	}
	if pw == "" {
		return fmt.Errorf("proxy password is required for %q", cfg.ProxyUser)
	}
	cfg.ProxyPassword = pw
	return nil
}

// newApp loads configuration and wires the API client to the session
// manager. stderr receives prompts and the re-login hint after a 401.
func newApp(ctx context.Context, stdin io.Reader, stderr io.Writer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := GetLogger()

	if err := ensureProxyPassword(cfg, newPrompter(stdin, stderr)); err != nil {
		return nil, err
	}

	client, err := api.NewClient(cfg, api.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	a := &app{
		cfg:    cfg,
		client: client,
		bus:    events.NewEventBus(constants.EventBusDefaultBuffer),
	}
	a.closers = append(a.closers, func() error { a.bus.Close(); return nil })

	store, err := a.tokenStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	mgr, err := session.NewManager(ctx, session.Options{
		Store:  store,
		Auth:   client,
		Bus:    a.bus,
		Logger: log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	mgr.OnUnauthorized(func() {
		fmt.Fprintln(stderr, "Your session has expired. Run 'examctl auth login' to sign in again.")
	})
	client.SetAuthorizer(mgr)
	a.session = mgr

	log.Debug().Str("api", client.BaseURL()).Str("token_store", cfg.TokenStore).Msg("client ready")
	return a, nil
}

func (a *app) tokenStore(ctx context.Context) (session.TokenStore, error) {
	switch a.cfg.TokenStore {
	case "redis":
		rs, err := session.NewRedisStore(ctx, session.RedisOptions{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
			Prefix:   a.cfg.RedisPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open redis session store: %w", err)
		}
		a.closers = append(a.closers, rs.Close)
		return rs, nil
	default:
		if err := config.EnsureConfigDir(); err != nil && a.cfg.SessionFile == "" {
			return nil, err
		}
		return session.NewFileStore(a.cfg.SessionPath()), nil
	}
}

// requireSession fails early with a hint when nobody is logged in.
func (a *app) requireSession() error {
	if !a.session.Authenticated() {
		return fmt.Errorf("%w: run 'examctl auth login' first", session.ErrNoSession)
	}
	return nil
}

// Close releases the session store connection and the event bus.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			GetLogger().Debug().Err(err).Msg("close failed")
		}
	}
}

// withApp builds the app for one command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := GetContext()
	a, err := newApp(ctx, cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

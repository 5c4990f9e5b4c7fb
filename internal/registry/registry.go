// Package registry resolves live connections to the external store and admin
// databases described by the credential store.
//
// The registry never caches credential rows or connection handles across
// requests: operators repoint stores at runtime, and a handle built from a
// stale descriptor would silently write to the wrong server. Every resolve
// call re-reads the rows and dials a fresh, request-scoped connection that the
// caller closes when done.
package registry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stocktake/stocktake/errs"
	"github.com/stocktake/stocktake/internal/domain/connstore"
)

const defaultPort = 5432

// CredentialSource supplies connection descriptors. Implemented by the
// postgres conn store; faked in tests.
type CredentialSource interface {
	ListPrimaryStores(ctx context.Context) ([]connstore.StoreConnection, error)
	GetStoreByNickname(ctx context.Context, nickname string) (connstore.StoreConnection, error)
	GetAdminConfig(ctx context.Context) (connstore.AdminConfig, error)
}

// Conn is the subset of a pgx connection the external clients need.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close(ctx context.Context) error
}

// DialFunc opens a database connection for the given DSN.
type DialFunc func(ctx context.Context, dsn string) (Conn, error)

func pgxDial(ctx context.Context, dsn string) (Conn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Descriptor carries the fields needed to reach one external database. It
// mirrors the credential rows but is also built from unsaved form input when
// an operator tests a connection before saving it.
type Descriptor struct {
	Nickname string
	Server   string
	Database string
	Username string
	Secret   string
}

// Option configures a Registry.
type Option func(*Registry)

// WithDialFunc overrides how connections are established. Used by tests.
func WithDialFunc(dial DialFunc) Option {
	return func(r *Registry) {
		if dial != nil {
			r.dial = dial
		}
	}
}

// Registry resolves request-scoped connections to external databases.
type Registry struct {
	source           CredentialSource
	connectTimeout   time.Duration
	statementTimeout time.Duration
	dial             DialFunc
}

// New constructs a Registry over the supplied credential source. Connect and
// statement timeouts bound every dial and statement issued through resolved
// clients.
func New(source CredentialSource, connectTimeout, statementTimeout time.Duration, opts ...Option) *Registry {
	r := &Registry{
		source:           source,
		connectTimeout:   connectTimeout,
		statementTimeout: statementTimeout,
		dial:             pgxDial,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// ResolvePrimary returns a client for the single active primary store.
// Zero or more than one qualifying row is a configuration error, never a
// silent pick.
func (r *Registry) ResolvePrimary(ctx context.Context) (*StoreClient, error) {
	primaries, err := r.source.ListPrimaryStores(ctx)
	if err != nil {
		return nil, errs.New("local", errs.CodeUnavailable,
			errs.WithMessage("configuration store unavailable"),
			errs.WithCause(err))
	}
	switch len(primaries) {
	case 1:
		return r.openStore(ctx, primaries[0])
	case 0:
		return nil, errs.New("local", errs.CodeConfig,
			errs.WithMessage("no primary store configured"),
			errs.WithRemediation("mark exactly one active store connection as primary"))
	default:
		nicknames := make([]string, 0, len(primaries))
		for _, conn := range primaries {
			nicknames = append(nicknames, conn.Nickname)
		}
		return nil, errs.New("local", errs.CodeConfig,
			errs.WithMessage("multiple primary stores configured"),
			errs.WithDetail("primary candidates: "+strings.Join(nicknames, ", ")),
			errs.WithRemediation("mark exactly one active store connection as primary"))
	}
}

// ResolveNickname returns a client for the named store connection.
func (r *Registry) ResolveNickname(ctx context.Context, nickname string) (*StoreClient, error) {
	trimmed := strings.TrimSpace(nickname)
	if trimmed == "" {
		return nil, errs.New("local", errs.CodeInvalid, errs.WithMessage("store nickname required"))
	}
	conn, err := r.source.GetStoreByNickname(ctx, trimmed)
	if err != nil {
		if errors.Is(err, connstore.ErrStoreNotFound) {
			return nil, errs.New(trimmed, errs.CodeNotFound, errs.WithMessage("unknown store"))
		}
		return nil, errs.New("local", errs.CodeUnavailable,
			errs.WithMessage("configuration store unavailable"),
			errs.WithCause(err))
	}
	if !conn.IsActive {
		return nil, errs.New(trimmed, errs.CodeConfig,
			errs.WithMessage("store connection is disabled"),
			errs.WithRemediation("re-enable the store connection before using it"))
	}
	return r.openStore(ctx, conn)
}

// ResolveAdmin returns a client for the shared audit/authentication database.
func (r *Registry) ResolveAdmin(ctx context.Context) (*AdminClient, error) {
	cfg, err := r.source.GetAdminConfig(ctx)
	if err != nil {
		if errors.Is(err, connstore.ErrAdminNotConfigured) {
			return nil, errs.New("admin", errs.CodeConfig,
				errs.WithMessage("admin database not configured"),
				errs.WithRemediation("save the admin database settings first"))
		}
		return nil, errs.New("local", errs.CodeUnavailable,
			errs.WithMessage("configuration store unavailable"),
			errs.WithCause(err))
	}
	conn, err := r.connect(ctx, Descriptor{
		Nickname: "admin",
		Server:   cfg.Server,
		Database: cfg.Database,
		Username: cfg.Username,
		Secret:   cfg.Secret,
	})
	if err != nil {
		return nil, err
	}
	return &AdminClient{conn: conn, statementTimeout: r.statementTimeout}, nil
}

// TestConnection opens a real connection to the described database, issues a
// trivial round trip and closes it again.
func (r *Registry) TestConnection(ctx context.Context, desc Descriptor) error {
	conn, err := r.connect(ctx, desc)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(context.WithoutCancel(ctx)) }()

	stmtCtx, cancel := context.WithTimeout(ctx, r.statementTimeout)
	defer cancel()

	var probe int
	if err := conn.QueryRow(stmtCtx, "SELECT 1").Scan(&probe); err != nil {
		return errs.New(targetName(desc), errs.CodeNetwork,
			errs.WithMessage("connection test failed"),
			errs.WithCause(err))
	}
	return nil
}

func (r *Registry) openStore(ctx context.Context, row connstore.StoreConnection) (*StoreClient, error) {
	conn, err := r.connect(ctx, Descriptor{
		Nickname: row.Nickname,
		Server:   row.Server,
		Database: row.Database,
		Username: row.Username,
		Secret:   row.Secret,
	})
	if err != nil {
		return nil, err
	}
	return &StoreClient{conn: conn, nickname: row.Nickname, statementTimeout: r.statementTimeout}, nil
}

func (r *Registry) connect(ctx context.Context, desc Descriptor) (Conn, error) {
	target := targetName(desc)
	if strings.TrimSpace(desc.Server) == "" || strings.TrimSpace(desc.Database) == "" {
		return nil, errs.New(target, errs.CodeConfig,
			errs.WithMessage("incomplete connection settings"),
			errs.WithRemediation("server and database are required"))
	}

	dialCtx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	defer cancel()

	conn, err := r.dial(dialCtx, buildDSN(desc, r.connectTimeout))
	if err != nil {
		return nil, errs.New(target, errs.CodeNetwork,
			errs.WithMessage("database unreachable"),
			errs.WithCause(err))
	}
	return conn, nil
}

func targetName(desc Descriptor) string {
	if trimmed := strings.TrimSpace(desc.Nickname); trimmed != "" {
		return trimmed
	}
	return "store"
}

// buildDSN renders a descriptor into a connection URL. The connect timeout is
// embedded so the driver enforces it even below the context deadline.
func buildDSN(desc Descriptor, connectTimeout time.Duration) string {
	host := strings.TrimSpace(desc.Server)
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, strconv.Itoa(defaultPort))
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   host,
		Path:   "/" + strings.TrimSpace(desc.Database),
	}
	if username := strings.TrimSpace(desc.Username); username != "" {
		u.User = url.UserPassword(username, desc.Secret)
	}

	seconds := int(connectTimeout / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	query := url.Values{}
	query.Set("connect_timeout", strconv.Itoa(seconds))
	u.RawQuery = query.Encode()
	return u.String()
}

package pgcore

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"
)

// SSLMode selects how the connection negotiates TLS with the server via
// the SSLRequest preamble (spec.md §4.2).
type SSLMode int

const (
	// SSLDisable never sends an SSLRequest; the connection is plaintext.
	SSLDisable SSLMode = iota
	// SSLPrefer sends an SSLRequest and falls back to plaintext if the
	// server responds 'N'.
	SSLPrefer
	// SSLRequire sends an SSLRequest and fails the connection if the
	// server responds 'N'.
	SSLRequire
)

func (m SSLMode) String() string {
	switch m {
	case SSLDisable:
		return "disable"
	case SSLPrefer:
		return "prefer"
	case SSLRequire:
		return "require"
	default:
		return fmt.Sprintf("SSLMode(%d)", int(m))
	}
}

// defaultPreparedStatementPrefix names every prepared statement this core
// generates unless the caller overrides it with WithPreparedStatementPrefix.
const defaultPreparedStatementPrefix = "tsp_"

// Config holds everything needed to dial and authenticate a connection.
// It is built from Defaults() plus a chain of Options, mirroring the
// functional-options pattern psql-wire's server Option uses for the
// opposite (listener) side of this same protocol.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	SSL SSLMode
	TLS *tls.Config

	ConnectTimeout time.Duration
	KeepAlive      bool

	ClientEncoding          string
	PreparedStatementPrefix string
	Bigints                 bool

	// RuntimeParameters are sent as additional Startup message parameters
	// (spec.md §4.1), e.g. "application_name", "search_path".
	RuntimeParameters map[string]string

	Logger *slog.Logger

	// Warn is an optional plain-string logging sink for callers who don't
	// want to wire slog: it is invoked from the same call sites as the
	// equivalent Logger.Warn entries (unknown backend message codes, and
	// receive-loop dispatch errors that are not transport failures). Nil
	// by default, in which case only Logger receives these.
	Warn func(string)
}

// Option mutates a Config during construction. It returns an error so
// options that validate their input (e.g. WithPort on an out-of-range
// port) can reject bad configuration before a connection is attempted,
// surfaced to the caller as a *ConfigurationError.
type Option func(*Config) error

// Defaults returns the baseline Config that every Option chain starts
// from: SSLPrefer (TLS when the server offers it), a 10s connect timeout, TCP keepalives on, UTF8 client
// encoding, the "tsp_" prepared statement prefix, and int8/bigint
// parameters decoded as Go int64 rather than a bignum type.
func Defaults() Config {
	return Config{
		Host:                    "localhost",
		Port:                    5432,
		SSL:                     SSLPrefer,
		ConnectTimeout:          10 * time.Second,
		KeepAlive:               true,
		ClientEncoding:          "UTF8",
		PreparedStatementPrefix: defaultPreparedStatementPrefix,
		Bigints:                 true,
		RuntimeParameters:       map[string]string{},
		Logger:                  slog.Default(),
	}
}

// NewConfig applies opts over Defaults(), returning the first error any
// option produces.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := Defaults()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func WithHost(host string) Option {
	return func(c *Config) error {
		c.Host = host
		return nil
	}
}

func WithPort(port int) Option {
	return func(c *Config) error {
		if port <= 0 || port > 65535 {
			return &ConfigurationError{Message: fmt.Sprintf("invalid port %d", port)}
		}
		c.Port = port
		return nil
	}
}

func WithUser(user string) Option {
	return func(c *Config) error {
		c.User = user
		return nil
	}
}

func WithPassword(password string) Option {
	return func(c *Config) error {
		c.Password = password
		return nil
	}
}

func WithDatabase(database string) Option {
	return func(c *Config) error {
		c.Database = database
		return nil
	}
}

func WithSSLMode(mode SSLMode) Option {
	return func(c *Config) error {
		c.SSL = mode
		return nil
	}
}

// WithTLSConfig supplies the tls.Config used once SSLMode negotiation
// succeeds. A nil config (the default) uses Go's standard verification.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Config) error {
		c.TLS = cfg
		return nil
	}
}

func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return &ConfigurationError{Message: "connect timeout must be positive"}
		}
		c.ConnectTimeout = d
		return nil
	}
}

func WithKeepAlive(enabled bool) Option {
	return func(c *Config) error {
		c.KeepAlive = enabled
		return nil
	}
}

func WithClientEncoding(encoding string) Option {
	return func(c *Config) error {
		if encoding == "" {
			return &ConfigurationError{Message: "client encoding must not be empty"}
		}
		c.ClientEncoding = encoding
		return nil
	}
}

// WithPreparedStatementPrefix overrides the prefix this core prepends to
// every prepared statement name it generates. Useful when multiple
// unrelated clients share a connection pooler and must not collide.
func WithPreparedStatementPrefix(prefix string) Option {
	return func(c *Config) error {
		if prefix == "" {
			return &ConfigurationError{Message: "prepared statement prefix must not be empty"}
		}
		c.PreparedStatementPrefix = prefix
		return nil
	}
}

// WithBigints selects whether int8 columns/parameters decode as Go int64
// (true, the default) or as a string, for callers who need to exceed
// int64's range without a bignum dependency.
func WithBigints(enabled bool) Option {
	return func(c *Config) error {
		c.Bigints = enabled
		return nil
	}
}

func WithRuntimeParameter(name, value string) Option {
	return func(c *Config) error {
		if c.RuntimeParameters == nil {
			c.RuntimeParameters = map[string]string{}
		}
		c.RuntimeParameters[name] = value
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) error {
		if logger == nil {
			return &ConfigurationError{Message: "logger must not be nil"}
		}
		c.Logger = logger
		return nil
	}
}

// WithWarn registers a plain-string callback alongside Config.Logger for
// callers who'd rather not depend on log/slog to observe warnings (unknown
// backend message codes, non-transport dispatch errors).
func WithWarn(warn func(string)) Option {
	return func(c *Config) error {
		if warn == nil {
			return &ConfigurationError{Message: "warn callback must not be nil"}
		}
		c.Warn = warn
		return nil
	}
}

func (c *Config) address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

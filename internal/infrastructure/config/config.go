package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. RETAILAUTH_JWT_SECRET.
const EnvPrefix = "RETAILAUTH_"

// minJWTSecretLength is the shortest accepted HMAC signing key.
const minJWTSecretLength = 32

// Config is the complete service configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// ServiceConfig identifies this instance.
type ServiceConfig struct {
	// InstanceID distinguishes replicas sharing a broker. Defaults to the hostname.
	InstanceID string `yaml:"instance_id" env:"INSTANCE_ID"`
	Name       string `yaml:"name"`
}

// DatabaseConfig configures the SQLite account store.
type DatabaseConfig struct {
	Path        string `yaml:"path" env:"DATABASE_PATH"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Host           string           `yaml:"host" env:"API_HOST"`
	Port           int              `yaml:"port" env:"API_PORT"`
	TLS            TLSConfig        `yaml:"tls"`
	Timeouts       APITimeoutConfig `yaml:"timeouts"`
	CORS           CORSConfig       `yaml:"cors"`
	LoginRateLimit RateLimitConfig  `yaml:"login_rate_limit"`
}

// TLSConfig enables HTTPS on the API listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig holds HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig lists allowed cross-origin callers.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimitConfig throttles credential-bearing endpoints per client address.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// MQTTConfig configures the broker used to fan out audit and session events.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled" env:"MQTT_ENABLED"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig locates the broker.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"MQTT_HOST"`
	Port     int    `yaml:"port" env:"MQTT_PORT"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig holds broker credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"MQTT_USERNAME"`
	Password string `yaml:"password" env:"MQTT_PASSWORD"`
}

// MQTTReconnectConfig tunes reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig configures authentication telemetry export.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"INFLUXDB_ENABLED"`
	URL           string `yaml:"url" env:"INFLUXDB_URL"`
	Token         string `yaml:"token" env:"INFLUXDB_TOKEN"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
	Output string `yaml:"output"`
}

// SecurityConfig groups the authentication policy knobs.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	Lockout   LockoutConfig   `yaml:"lockout"`
	Password  PasswordConfig  `yaml:"password"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// JWTConfig configures bearer token issuance.
type JWTConfig struct {
	Secret string `yaml:"secret" env:"JWT_SECRET"`
	Issuer string `yaml:"issuer"`

	// AccessTokenTTL is the token lifetime in seconds.
	AccessTokenTTL int `yaml:"access_token_ttl" env:"JWT_ACCESS_TOKEN_TTL"`

	// EnforceSessionBinding rejects tokens whose session id is no longer the
	// user's current session.
	EnforceSessionBinding bool `yaml:"enforce_session_binding" env:"JWT_ENFORCE_SESSION_BINDING"`
}

// LockoutConfig controls failed-login lockout.
type LockoutConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	Duration    int `yaml:"duration"` // minutes
}

// PasswordConfig selects the password hashing scheme.
type PasswordConfig struct {
	Hasher     string `yaml:"hasher" env:"PASSWORD_HASHER"`
	BcryptCost int    `yaml:"bcrypt_cost"`
}

// SessionsConfig holds per-role session timeouts in seconds.
type SessionsConfig struct {
	DefaultTimeout  int            `yaml:"default_timeout"`
	RoleTimeouts    map[string]int `yaml:"role_timeouts"`
	CleanupInterval int            `yaml:"cleanup_interval" env:"SESSION_CLEANUP_INTERVAL"`
}

// BootstrapConfig controls first-start behaviour.
type BootstrapConfig struct {
	SeedDefaults bool `yaml:"seed_defaults"`
}

// Load reads the YAML file at path over the built-in defaults, applies
// RETAILAUTH_* environment overrides and validates the result.
//
// A missing file is an error; pass an empty path to run from defaults and
// environment only.
func Load(ctx context.Context, path string) (*Config, error) {
	return load(ctx, path, envconfig.OsLookuper())
}

func load(ctx context.Context, path string, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:           cfg,
		Lookuper:         envconfig.PrefixLookuper(EnvPrefix, lookuper),
		DefaultOverwrite: true,
	}); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if cfg.Service.InstanceID == "" {
		host, _ := os.Hostname() //nolint:errcheck // empty hostname falls back below
		if host == "" {
			host = "authcore"
		}
		cfg.Service.InstanceID = host
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{Name: "retail-auth"},
		Database: DatabaseConfig{
			Path:        "./data/retail-auth.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
			LoginRateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 10,
				Burst:             5,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "retail-auth",
			},
			QoS:         1,
			TopicPrefix: "retailauth",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "auth",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer:                "retail-auth",
				AccessTokenTTL:        3600,
				EnforceSessionBinding: true,
			},
			Lockout: LockoutConfig{
				MaxAttempts: 5,
				Duration:    30,
			},
			Password: PasswordConfig{
				Hasher:     "argon2id",
				BcryptCost: 12,
			},
			Sessions: SessionsConfig{
				DefaultTimeout: 4 * 3600,
				RoleTimeouts: map[string]int{
					"Admin":               8 * 3600,
					"Manager":             6 * 3600,
					"Assistant Manager":   6 * 3600,
					"Inventory Assistant": 4 * 3600,
					"Sales Assistant":     4 * 3600,
				},
				CleanupInterval: 300,
			},
			Bootstrap: BootstrapConfig{SeedDefaults: true},
		},
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls requires cert_file and key_file")
	}
	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	sec := c.Security
	switch {
	case sec.JWT.Secret == "":
		errs = append(errs, "security.jwt.secret is required (set "+EnvPrefix+"JWT_SECRET)")
	case len(sec.JWT.Secret) < minJWTSecretLength:
		errs = append(errs, fmt.Sprintf("security.jwt.secret must be at least %d characters", minJWTSecretLength))
	}
	if sec.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, "security.jwt.access_token_ttl must be positive")
	}
	if sec.Lockout.MaxAttempts < 1 {
		errs = append(errs, "security.lockout.max_attempts must be at least 1")
	}
	if sec.Lockout.Duration < 1 {
		errs = append(errs, "security.lockout.duration must be at least 1 minute")
	}
	switch sec.Password.Hasher {
	case "argon2id", "bcrypt":
	default:
		errs = append(errs, fmt.Sprintf("security.password.hasher %q is not supported (argon2id, bcrypt)", sec.Password.Hasher))
	}
	if sec.Sessions.DefaultTimeout <= 0 {
		errs = append(errs, "security.sessions.default_timeout must be positive")
	}
	for role, secs := range sec.Sessions.RoleTimeouts {
		if secs <= 0 {
			errs = append(errs, fmt.Sprintf("security.sessions.role_timeouts[%s] must be positive", role))
		}
	}
	if sec.Sessions.CleanupInterval < 0 {
		errs = append(errs, "security.sessions.cleanup_interval must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Address returns host:port for the API listener.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// GetReadTimeout returns the API read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// AccessTokenTTLDuration returns the bearer token lifetime.
func (j JWTConfig) AccessTokenTTLDuration() time.Duration {
	return time.Duration(j.AccessTokenTTL) * time.Second
}

// LockoutDuration returns how long an account stays locked.
func (l LockoutConfig) LockoutDuration() time.Duration {
	return time.Duration(l.Duration) * time.Minute
}

// Timeouts converts the role timeout table to durations.
func (s SessionsConfig) Timeouts() (byRole map[string]time.Duration, fallback time.Duration) {
	byRole = make(map[string]time.Duration, len(s.RoleTimeouts))
	for role, secs := range s.RoleTimeouts {
		byRole[role] = time.Duration(secs) * time.Second
	}
	return byRole, time.Duration(s.DefaultTimeout) * time.Second
}

// CleanupEvery returns the session sweep period; zero disables the sweep.
func (s SessionsConfig) CleanupEvery() time.Duration {
	return time.Duration(s.CleanupInterval) * time.Second
}

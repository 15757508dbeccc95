package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// SignTriple is a pre-captured upstream request signature: the sign hash, the
// signing timestamp and the per-operation token the upstream expects in the
// request body.
type SignTriple struct {
	Sign  string
	Stime int64
	Token string
}

// LoginConfig holds the credentials for minting a fresh session token via
// /api/user/login. Only used when no static x-token is configured.
type LoginConfig struct {
	Username string
	Password string
	Sign     string
	Stime    int64
}

// Upstream is the immutable set of values needed to talk to the gaming
// platform. Resolved once at startup and passed by value into the client.
type Upstream struct {
	BaseURL     string
	Fingerprint string
	SavePlayer  SignTriple
	EnterScore  SignTriple
	XToken      string // static session token; empty means dynamic login mode
	Login       LoginConfig
}

// DynamicSession reports whether session tokens must be fetched via login.
func (u Upstream) DynamicSession() bool {
	return u.XToken == ""
}

type Config struct {
	Upstream       Upstream
	AllowedOrigin  string
	DefaultCredits float64

	PersistenceEnabled bool
	DBUser             string
	DBPass             string
	DBHost             string
	DBPort             string
	DBName             string
	SSLMode            string
	RedisHost          string
	RedisPort          string
	NatsHost           string
	NatsPort           string

	ApiPort string
}

// ConfigError reports every missing or malformed configuration key at once,
// so an operator can fix the environment in a single pass.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Missing, ", ")
}

// New loads and validates configuration from environment variables.
// Upstream keys are always required. Postgres/Redis/NATS keys are required
// only when PANDAGATE_PERSISTENCE_ENABLED=true; without persistence the
// service runs provision-only, like the serverless deployment it replaces.
func New() (*Config, error) {
	_ = godotenv.Load()

	var missing []string

	need := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}
	needInt := func(key string) int64 {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
			return 0
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			missing = append(missing, key)
			return 0
		}
		return n
	}

	cfg := &Config{
		Upstream: Upstream{
			BaseURL:     need("PANDAGATE_UPSTREAM_BASE_URL"),
			Fingerprint: need("PANDAGATE_UPSTREAM_FINGERPRINT"),
			SavePlayer: SignTriple{
				Sign:  need("PANDAGATE_SAVEPLAYER_SIGN"),
				Stime: needInt("PANDAGATE_SAVEPLAYER_STIME"),
				Token: need("PANDAGATE_SAVEPLAYER_TOKEN"),
			},
			EnterScore: SignTriple{
				Sign:  need("PANDAGATE_ENTERSCORE_SIGN"),
				Stime: needInt("PANDAGATE_ENTERSCORE_STIME"),
				Token: need("PANDAGATE_ENTERSCORE_TOKEN"),
			},
			XToken: os.Getenv("PANDAGATE_UPSTREAM_X_TOKEN"),
		},
		AllowedOrigin:      getEnv("PANDAGATE_ALLOWED_ORIGIN", "*"),
		DefaultCredits:     getEnvFloat("PANDAGATE_DEFAULT_CREDITS", 0),
		PersistenceEnabled: os.Getenv("PANDAGATE_PERSISTENCE_ENABLED") == "true",
		ApiPort:            getEnv("PANDAGATE_API_PORT", "8080"),
	}

	// Session mode: a static x-token makes the login set optional. Without
	// one, every login field becomes required.
	if cfg.Upstream.DynamicSession() {
		cfg.Upstream.Login = LoginConfig{
			Username: need("PANDAGATE_LOGIN_USERNAME"),
			Password: need("PANDAGATE_LOGIN_PASSWORD"),
			Sign:     need("PANDAGATE_LOGIN_SIGN"),
			Stime:    needInt("PANDAGATE_LOGIN_STIME"),
		}
	}

	if cfg.PersistenceEnabled {
		cfg.DBUser = need("PANDAGATE_POSTGRES_USER")
		cfg.DBPass = os.Getenv("PANDAGATE_POSTGRES_PASSWORD")
		cfg.DBHost = need("PANDAGATE_POSTGRES_HOST")
		cfg.DBPort = getEnv("PANDAGATE_POSTGRES_PORT", "5432")
		cfg.DBName = need("PANDAGATE_POSTGRES_DB")
		cfg.SSLMode = getEnv("PANDAGATE_POSTGRES_SSLMODE", "disable")
		cfg.RedisHost = need("PANDAGATE_REDIS_HOST")
		cfg.RedisPort = getEnv("PANDAGATE_REDIS_PORT", "6379")
		cfg.NatsHost = need("PANDAGATE_NATS_HOST")
		cfg.NatsPort = getEnv("PANDAGATE_NATS_PORT", "4222")
	}

	if len(missing) > 0 {
		return nil, &ConfigError{Missing: missing}
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

func (c *Config) ApiAddr() string {
	return ":" + c.ApiPort
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

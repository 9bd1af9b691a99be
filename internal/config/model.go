// internal/config/model.go
//
// Typed configuration model for the engine.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// internal/config/loader.go builds from three overlay layers:
//
//   • optional `.env`                          – dotenv values,
//   • `conf/global.yaml`                       – primary static file,
//   • `STOREX_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is resolved
// through the Vault client *before* unmarshalling, so the model never
// stores Vault URIs — only plain strings.
//
// Validation happens immediately after unmarshal; the process fails fast
// if required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"` — Koanf ignores `yaml`
//     tags unless configured otherwise.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Oxford commas, two spaces after periods.  No em-dash.

package config

import "time"

//
// Memory cache section
//

// Cache holds the in-memory, per-key LRU+TTL cache's tunables.
type Cache struct {
	MaxSize    int           `koanf:"max_size"    validate:"required,min=1"`
	DefaultTTL time.Duration `koanf:"default_ttl" validate:"required"`
}

//
// Key mutex section
//

// KeyMutex holds the per-key mutex table's tunables.
type KeyMutex struct {
	MaxSize int `koanf:"max_size" validate:"required,min=1"`
}

//
// Circuit breaker section
//

// Breaker holds the circuit breaker's tunables, passed through to
// resilience.NewBreaker.
type Breaker struct {
	MaxRequests         uint32        `koanf:"max_requests"`
	Interval            time.Duration `koanf:"interval"`
	Timeout             time.Duration `koanf:"timeout" validate:"required"`
	ConsecutiveFailures uint32        `koanf:"consecutive_failures" validate:"required,min=1"`
}

//
// Retry section
//

// Retry holds the operation executor's retry/backoff tunables.
type Retry struct {
	InitialInterval time.Duration `koanf:"initial_interval" validate:"required"`
	MaxInterval     time.Duration `koanf:"max_interval"     validate:"required"`
	MaxElapsedTime  time.Duration `koanf:"max_elapsed_time"`
	MaxTries        int           `koanf:"max_tries"`
	CallTimeout     time.Duration `koanf:"call_timeout" validate:"required"`
}

//
// Paging section
//

// Paging holds the bidirectional paging state machine's tunables.
type Paging struct {
	MaxSize  int `koanf:"max_size"  validate:"required,min=1"`
	PageSize int `koanf:"page_size" validate:"required,min=1"`
}

//
// Freshness section
//

// Freshness holds cross-cutting staleness tolerances that aren't tied to
// one specific policy invocation.
type Freshness struct {
	StaleIfErrorWindow time.Duration `koanf:"stale_if_error_window" validate:"required"`
}

//
// HTTP fetcher section
//

// HTTPFetcher holds the reference httpfetcher adapter's tunables.
type HTTPFetcher struct {
	BaseURL        string        `koanf:"base_url" validate:"required,url"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"required"`
	RetryMax       int           `koanf:"retry_max"`
}

//
// Database (reference SQL SoT) section
//

// Database holds the sqlstore reference adapter's DSN and secrets.
//
// The *template* (DSN) is kept in YAML so operators can tweak host, port,
// or flags without touching Vault. The *secret* portion (Password) is
// stored in Vault and injected at runtime, keeping credentials out of flat
// files and git history.
type Database struct {
	DSN         string        `koanf:"dsn"      validate:"required"`
	Password    string        `koanf:"password"`
	PollEvery   time.Duration `koanf:"poll_every" validate:"required"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime — never set in YAML or env. The loader
// discovers Root (repo root or STOREX_ROOT override) so later code can
// build absolute file paths.
type Paths struct {
	Root string // STOREX_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the process lifetime.
type Config struct {
	Cache       Cache       `koanf:"cache"`
	KeyMutex    KeyMutex    `koanf:"key_mutex"`
	Breaker     Breaker     `koanf:"breaker"`
	Retry       Retry       `koanf:"retry"`
	Paging      Paging      `koanf:"paging"`
	Freshness   Freshness   `koanf:"freshness"`
	HTTPFetcher HTTPFetcher `koanf:"http_fetcher"`
	Database    Database    `koanf:"database"`
	Paths       Paths       `koanf:"-"` // not loaded from config files
}

// Package config holds the rshare runtime settings.
//
// Values are layered: Default, then an optional JSON file, then RSHARE_*
// environment variables. Command-line flags are applied on top by the caller
// before Validate.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every environment key, e.g. RSHARE_ADDR.
const EnvPrefix = "RSHARE"

// Config is intentionally flat so that every field has one JSON key and one
// environment variable.
type Config struct {
	// Addr is the listen address.
	Addr string `json:"addr" envconfig:"ADDR" validate:"required,hostname_port"`

	// StoreDir is the flat directory of shared files.
	StoreDir string `json:"store_dir" envconfig:"STORE_DIR" validate:"required"`

	// StateDir holds upload staging files.
	// Default: <store_dir>/.rshare (hidden from listings and downloads).
	StateDir string `json:"state_dir,omitempty" envconfig:"STATE_DIR"`

	// CredentialFile holds APP_PASSWORD=<secret>; written on first run.
	CredentialFile string `json:"credential_file" envconfig:"CREDENTIAL_FILE" validate:"required"`

	TLS      bool   `json:"tls" envconfig:"TLS"`
	CertFile string `json:"cert_file" envconfig:"CERT_FILE" validate:"required_if=TLS true"`
	KeyFile  string `json:"key_file" envconfig:"KEY_FILE" validate:"required_if=TLS true"`

	// MaxUploadBytes bounds a single uploaded file.
	MaxUploadBytes int64 `json:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES" validate:"gt=0"`
	// MaxConns caps concurrent connections; 0 means unlimited.
	MaxConns int `json:"max_conns" envconfig:"MAX_CONNS" validate:"gte=0"`

	CookieName string `json:"cookie_name" envconfig:"COOKIE_NAME" validate:"required,cookie_name"`

	// LoginMaxFailures failed logins within LoginLockout lock the client
	// out for LoginLockout. 0 disables the throttle.
	LoginMaxFailures int      `json:"login_max_failures" envconfig:"LOGIN_MAX_FAILURES" validate:"gte=0"`
	LoginLockout     Duration `json:"login_lockout" envconfig:"LOGIN_LOCKOUT" validate:"gt=0"`

	// DAV mounts a read-only WebDAV view of the store at /dav/.
	DAV bool `json:"dav" envconfig:"DAV"`

	ThumbMaxPx int `json:"thumb_max_px" envconfig:"THUMB_MAX_PX" validate:"gte=16,lte=2048"`

	LogLevel  string `json:"log_level" envconfig:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `json:"log_format" envconfig:"LOG_FORMAT" validate:"oneof=text json"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Addr:             "0.0.0.0:8080",
		StoreDir:         "uploads",
		CredentialFile:   "PASSWORD.env",
		TLS:              true,
		CertFile:         "cert.pem",
		KeyFile:          "key.pem",
		MaxUploadBytes:   1 << 30,
		CookieName:       "rshare_session",
		LoginMaxFailures: 5,
		LoginLockout:     Duration(15 * time.Minute),
		DAV:              true,
		ThumbMaxPx:       256,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load layers the JSON file at path (skipped when path is empty) and the
// environment over Default. It does not validate.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("config env: %w", err)
	}
	return cfg, nil
}

// StatePath returns StateDir, or its default under StoreDir.
func (c Config) StatePath() string {
	if c.StateDir != "" {
		return c.StateDir
	}
	return filepath.Join(c.StoreDir, ".rshare")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("cookie_name", func(fl validator.FieldLevel) bool {
		c := http.Cookie{Name: fl.Field().String(), Value: "x"}
		return c.Valid() == nil
	})
	return v
}

// Validate reports every invalid field in one error.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Errorf("%s: failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %w", errors.Join(msgs...))
}

// Duration is a time.Duration that reads and writes Go duration strings
// ("15m") in JSON and the environment.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/oauth2/spotify"

	"github.com/teal-fm/genres/oauth"
	spotifyService "github.com/teal-fm/genres/service/spotify"
)

// ConfigError reports configuration that cannot be used.
type ConfigError struct {
	Missing []string
	Err     error
}

func (e *ConfigError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("required configuration variables not set: %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config is everything the genres command needs, resolved once at startup.
type Config struct {
	Credentials       oauth.Credentials
	TokenURL          string
	APIURL            string
	RequestsPerSecond float64
	Limit             int
	Offset            int
	HTTPTimeout       time.Duration
	DBPath            string // empty disables persistence
	Env               string
	ConfigFile        string // empty when no config file was found
}

// required keys and the environment variables that may set them
var requiredVars = []struct {
	key  string
	envs []string
}{
	{"spotify.client_id", []string{"CLIENT_ID", "SPOTIFY_CLIENT_ID"}},
	{"spotify.client_secret", []string{"CLIENT_SECRET", "SPOTIFY_CLIENT_SECRET"}},
}

// Flags registers the command-line flags Load understands.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.Int("limit", spotifyService.DefaultLimit, "number of categories to fetch")
	fs.Int("offset", 0, "index of the first category to fetch")
	fs.String("db", "", "sqlite database to store fetched categories in (optional)")
	fs.String("config", "", "path to a config file")
	return fs
}

// Load resolves configuration from .env, environment, an optional config
// file and flags. It does no network I/O. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	// a missing .env is normal
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("spotify.token_url", spotify.Endpoint.TokenURL)
	v.SetDefault("spotify.api_url", spotifyService.DefaultAPIBaseURL)
	v.SetDefault("spotify.requests_per_second", 10)
	v.SetDefault("categories.limit", spotifyService.DefaultLimit)
	v.SetDefault("categories.offset", 0)
	v.SetDefault("http.timeout", "10s")
	v.SetDefault("db.path", "")
	v.SetDefault("env", "development")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, r := range requiredVars {
		if err := v.BindEnv(append([]string{r.key}, r.envs...)...); err != nil {
			return nil, &ConfigError{Err: err}
		}
	}

	if flags != nil {
		for key, flag := range map[string]string{
			"categories.limit":  "limit",
			"categories.offset": "offset",
			"db.path":           "db",
		} {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, &ConfigError{Err: err}
				}
			}
		}
	}

	if path := configFlag(flags); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, &ConfigError{Err: fmt.Errorf("error reading config file: %w", err)}
		}
	}

	var missing []string
	for _, r := range requiredVars {
		if v.GetString(r.key) == "" {
			missing = append(missing, r.envs[0])
		}
	}
	if len(missing) > 0 {
		return nil, &ConfigError{Missing: missing}
	}

	timeout := v.GetDuration("http.timeout")
	if timeout <= 0 {
		return nil, &ConfigError{Err: fmt.Errorf("http.timeout must be positive, got %q", v.GetString("http.timeout"))}
	}

	return &Config{
		Credentials: oauth.Credentials{
			ClientID:     v.GetString("spotify.client_id"),
			ClientSecret: v.GetString("spotify.client_secret"),
		},
		TokenURL:          v.GetString("spotify.token_url"),
		APIURL:            v.GetString("spotify.api_url"),
		RequestsPerSecond: v.GetFloat64("spotify.requests_per_second"),
		Limit:             v.GetInt("categories.limit"),
		Offset:            v.GetInt("categories.offset"),
		HTTPTimeout:       timeout,
		DBPath:            v.GetString("db.path"),
		Env:               v.GetString("env"),
		ConfigFile:        v.ConfigFileUsed(),
	}, nil
}

func configFlag(flags *pflag.FlagSet) string {
	if flags == nil {
		return ""
	}
	path, err := flags.GetString("config")
	if err != nil {
		return ""
	}
	return path
}

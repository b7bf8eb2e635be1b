package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/teal-fm/genres/config"
	"github.com/teal-fm/genres/db"
	"github.com/teal-fm/genres/logger"
	"github.com/teal-fm/genres/models"
	"github.com/teal-fm/genres/oauth"
	"github.com/teal-fm/genres/service/spotify"
)

// stageError names the step of the run that failed.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "genres: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flags := config.Flags("genres")
	flags.SetOutput(stderr)
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return &stageError{"config", err}
	}

	log := logger.NewWithWriter(cfg.Env, stderr)
	if cfg.ConfigFile != "" {
		log.Debug().Str("file", cfg.ConfigFile).Msg("using config file")
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	auth := oauth.NewClientCredentialsService(cfg.Credentials, cfg.TokenURL, httpClient, log)
	token, err := auth.Authenticate(ctx)
	if err != nil {
		return &stageError{"authenticate", err}
	}

	spotifyService := spotify.NewSpotifyService(cfg.APIURL, httpClient, log).
		WithRateLimit(cfg.RequestsPerSecond)

	categories, err := spotifyService.FetchCategories(ctx, token.AccessToken, cfg.Limit, cfg.Offset)
	if err != nil {
		return &stageError{"fetch categories", err}
	}

	if cfg.DBPath != "" {
		if err := storeCategories(cfg.DBPath, categories, cfg.Offset, log); err != nil {
			return &stageError{"store categories", err}
		}
	}

	return printCategories(stdout, categories)
}

func storeCategories(path string, categories []models.Category, offset int, log zerolog.Logger) error {
	database, err := db.New(path)
	if err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}
	defer database.Close()

	if err := database.Initialize(); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}

	if err := database.SaveCategories(categories, offset); err != nil {
		return err
	}

	log.Info().
		Str("component", "db").
		Str("path", path).
		Int("count", len(categories)).
		Msg("stored categories")
	return nil
}

func printCategories(w io.Writer, categories []models.Category) error {
	if _, err := fmt.Fprintln(w, "list of genres"); err != nil {
		return err
	}
	for _, c := range categories {
		if _, err := fmt.Fprintf(w, "%s: %s\n", c.ID, c.Name); err != nil {
			return err
		}
	}
	return nil
}

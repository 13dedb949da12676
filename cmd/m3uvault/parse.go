package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/voyagen/m3uvault/internal/config"
	"github.com/voyagen/m3uvault/internal/fetcher"
	"github.com/voyagen/m3uvault/internal/m3u"
	"github.com/voyagen/m3uvault/internal/models"
)

type parseOutput struct {
	Lives []models.Live `json:"lives"`
	Stats m3u.Stats     `json:"stats"`
}

// parse fetches one playlist and prints its lives as JSON.
func parse(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	subscriptionURL := fs.String("subscription-url", "", "Subscription URL stamped on every live (default: the source)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("parse: exactly one file or url is required")
	}
	source := fs.Arg(0)
	if *subscriptionURL == "" {
		*subscriptionURL = source
	}

	f := fetcher.New(cfg.UserAgent, cfg.Timeout, fetcher.WithMaxBytes(cfg.MaxPlaylistBytes))
	lives, stats, err := f.FetchLives(ctx, source, "", *subscriptionURL, m3u.WithOptions(cfg.Parser.Options()))
	if err != nil {
		return fmt.Errorf("parse %s: %w", source, err)
	}
	if lives == nil {
		lives = []models.Live{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(parseOutput{Lives: lives, Stats: stats})
}

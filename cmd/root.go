// Package cmd wires the resolution engine into a command line interface.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/lepinkainen/humanlog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/plahtine/janus/internal/cache"
	"github.com/plahtine/janus/internal/catalog"
	"github.com/plahtine/janus/internal/config"
	"github.com/plahtine/janus/internal/covers"
	"github.com/plahtine/janus/internal/ids"
	"github.com/plahtine/janus/internal/model"
	"github.com/plahtine/janus/internal/resolver"
	"github.com/plahtine/janus/internal/search"
	"github.com/plahtine/janus/internal/sites"
)

// CLI represents the complete command structure for the janus application
type CLI struct {
	// Global flags
	Debug bool `help:"Enable debug logging"`

	CacheDBFile   string `help:"Path to cache SQLite database file" default:"./cache.db"`
	CacheTTL      string `help:"Cache time-to-live duration (e.g. 12h, capped at 24h)" default:"24h"`
	CatalogDBFile string `help:"Path to catalog SQLite database file" default:"./catalog.db"`
	CoversDir     string `help:"Directory for downloaded cover images" default:"./covers"`

	Resolve ResolveCmd  `cmd:"" help:"Resolve an external URL or identifier into a catalog entity"`
	Search  SearchCmd   `cmd:"" help:"Search external sources"`
	Cache   CacheSubCmd `cmd:"" help:"Manage the response cache"`
}

// ResolveCmd represents the resolve command
type ResolveCmd struct {
	Target string `arg:"" help:"Source URL or bare identifier (ISBN, OLID, MusicBrainz UUID, ...)"`
	IDType string `help:"Identifier type when the target is a bare identifier (guessed when empty)"`
	Format string `help:"Output format" enum:"json,yaml" default:"json"`
}

// SearchCmd represents the search command
type SearchCmd struct {
	Query    string `arg:"" help:"Free-text query"`
	Category string `help:"Restrict results to one category" enum:"all,book,music,movie,tv,game,podcast" default:"all"`
	Page     int    `help:"Result page, starting at 1" default:"1"`
	PageSize int    `help:"Results requested per source" default:"10"`
	Format   string `help:"Output format" enum:"json,yaml" default:"json"`
}

// CacheSubCmd groups cache maintenance commands
type CacheSubCmd struct {
	Invalidate CacheInvalidateCmd `cmd:"" help:"Drop all entries from a cache table"`
}

// CacheInvalidateCmd clears one cache table
type CacheInvalidateCmd struct {
	Table string `arg:"" help:"Cache table to clear" enum:"fetch_cache,search_cache,token_cache"`
}

// Execute runs the Kong-based CLI
func Execute() {
	initLogging(false)
	initConfig()

	var cli CLI

	ctx := kong.Parse(&cli,
		kong.Name("janus"),
		kong.Description("Resolve external catalog resources into deduplicated entities."),
		kong.UsageOnError(),
	)

	updateGlobalConfig(&cli)

	err := ctx.Run()
	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func initConfig() {
	config.SetDefaults()

	// Enable environment variable support
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Debug("Config file not found, using defaults")
		} else {
			slog.Error("Fatal error config file", "error", err)
			os.Exit(1)
		}
	}
}

func updateGlobalConfig(cli *CLI) {
	viper.Set("cache.dbfile", cli.CacheDBFile)
	viper.Set("cache.ttl", cli.CacheTTL)
	viper.Set("catalog.dbfile", cli.CatalogDBFile)
	viper.Set("covers.dir", cli.CoversDir)

	if cli.Debug {
		initLogging(true)
	}
}

func initLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	// Create a human-readable handler for logging
	handler := humanlog.NewHandler(os.Stdout, &humanlog.Options{
		Level: level,
	})

	// Set the default logger
	slog.SetDefault(slog.New(handler))
}

// encodeOutput writes v to w in the requested format.
func encodeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(v)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

// buildResolver assembles the production pipeline: cached+retried
// downloader, site registry, catalog store and cover storage. The
// returned closer releases both databases.
func buildResolver() (*resolver.Resolver, func(), error) {
	db, err := cache.OpenDefault()
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}
	store, err := catalog.OpenDefault()
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("open catalog: %w", err)
	}

	registry := sites.Default(sites.DefaultDeps(db))
	r := resolver.New(registry, store, covers.NewDefault())
	closer := func() {
		_ = store.Close()
		_ = db.Close()
	}
	return r, closer, nil
}

// looksLikeURL distinguishes permalinks from bare identifiers.
func looksLikeURL(target string) bool {
	return strings.Contains(target, "://")
}

// Run methods for each command

func (c *ResolveCmd) Run() error {
	r, closer, err := buildResolver()
	if err != nil {
		return err
	}
	defer closer()

	ctx := context.Background()
	var result *resolver.Result
	if looksLikeURL(c.Target) {
		result = r.ResolveURL(ctx, c.Target)
	} else {
		result = r.ResolveID(ctx, ids.Type(c.IDType), c.Target)
	}

	if err := encodeOutput(os.Stdout, c.Format, result); err != nil {
		return err
	}
	if result.State == resolver.StateFailed {
		return fmt.Errorf("resolution failed (%s): %s", result.FailureKind, result.FailureMessage)
	}
	return nil
}

func (c *SearchCmd) Run() error {
	db, err := cache.OpenDefault()
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = db.Close() }()

	viper.Set("search.pagesize", c.PageSize)

	registry := sites.Default(sites.DefaultDeps(db))
	fanout := search.New(registry, db)
	results := fanout.Search(context.Background(), c.Query, model.Category(c.Category), c.Page)

	return encodeOutput(os.Stdout, c.Format, results)
}

func (c *CacheInvalidateCmd) Run() error {
	db, err := cache.OpenDefault()
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.Invalidate(c.Table)
	if err != nil {
		return err
	}
	slog.Info("Cache cleared", "table", c.Table, "entries", rows)
	return nil
}

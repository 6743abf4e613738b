package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	EnvFile         = ".env"
	EnvConfigPrefix = "FIVEHUNDRED"
)

type Config struct {
	Version          kong.VersionFlag `help:"Show version and exit" short:"v" env:"-"`
	EnvName          string           `kong:"help='Environment name.',default='dev'"`
	ServiceName      string           `kong:"help='Service name.',default='fivehundred'"`
	HealthFreqSec    int              `kong:"help='Health check frequency in seconds.',default=10"`
	EnablePprof      bool             `kong:"help='Enable pprof endpoints (http://$apiListenAddress/debug).',default=false"`
	APIListenAddress string           `kong:"help='API listen address (serves health, version, catalog).',default=:8080"`
	LogConfig        string           `kong:"help='Logging config to use.',enum='dev,prod',default='dev'"`

	NewRelicAppName    string `kong:"help='New Relic application name.',default='fivehundred (DEV)'"`
	NewRelicLicenseKey string `kong:"help='New Relic license key.'"`

	DBDriver       string `kong:"help='Database driver.',enum='sqlite,pgx',default='sqlite'"`
	DBDSN          string `kong:"help='Database DSN (sqlite file URI or postgres connection string).'"`
	DBMaxOpenConns int    `kong:"help='Maximum open database connections.',default=10"`

	// Redis is optional; batch locks and --only-failed need it
	RedisURL         string        `kong:"help='Redis URL (empty disables run state).'"`
	RedisPassword    string        `kong:"help='Redis Password.'"`
	RedisDatabase    int           `kong:"help='Redis database.',default=0"`
	RedisPoolSize    int           `kong:"help='Redis pool size.',default=10"`
	RedisDialTimeout time.Duration `kong:"help='Redis dial timeout.',default=5s"`
	RedisTLSCACert   string        `kong:"help='Redis TLS CA cert (PEM).'"`
	RedisTLSCert     string        `kong:"help='Redis TLS client cert (PEM).'"`
	RedisTLSKey      string        `kong:"help='Redis TLS client key (PEM).'"`
	StatePrefix      string        `kong:"help='Prefix for all run state keys.',default='fivehundred'"`

	// RabbitMQ is optional; without it no events are published or consumed
	RabbitURL             []string `kong:"help='RabbitMQ URLs (empty disables messaging).'"`
	RabbitExchangeName    string   `kong:"help='Exchange for album events and lookup requests.',default='fivehundred'"`
	RabbitExchangeType    string   `kong:"help='Exchange type.',default='topic'"`
	RabbitExchangeDeclare bool     `kong:"help='Declare the exchange.',default=true"`
	RabbitExchangeDurable bool     `kong:"help='Declare the exchange as durable.',default=true"`
	RabbitQueueName       string   `kong:"help='Queue consumed for lookup requests.',default='fivehundred-lookups'"`
	RabbitQueueDeclare    bool     `kong:"help='Declare the lookup queue.',default=true"`
	RabbitQueueDurable    bool     `kong:"help='Declare the lookup queue as durable.',default=true"`
	RabbitReplayQueueName string   `kong:"help='Optional replay queue consumed with the same handler.'"`
	RabbitNumConsumers    int      `kong:"help='Lookup consumers per queue.',default=2"`
	RabbitUseTLS          bool     `kong:"help='Use TLS for RabbitMQ.',default=false"`
	RabbitSkipVerifyTLS   bool     `kong:"help='Skip RabbitMQ TLS verification.',default=false"`
	PublisherNumWorkers   int      `kong:"help='Publisher worker count.',default=4"`

	MusicBrainzURL       string `kong:"help='Release database base URL.',default='https://musicbrainz.org'"`
	CoverArtURL          string `kong:"help='Cover art archive base URL.',default='https://coverartarchive.org'"`
	MusicBrainzUserAgent string `kong:"help='User agent sent to the release database.',default='FiveHundred/1.0.0 (https://github.com/dselans/fivehundred)'"`

	SpotifyClientID     string `kong:"help='Spotify client id.'"`
	SpotifyClientSecret string `kong:"help='Spotify client secret.'"`
	AppleMusicToken     string `kong:"help='Apple Music developer token (JWT).'"`

	ScrapeSiteURL   string `kong:"help='Scraped metadata site.',default='https://www.allmusic.com'"`
	ScrapeSearchURL string `kong:"help='Search URL template used to find album pages (one %s).'"`
	ScrapeUserAgent string `kong:"help='User agent used when scraping.'"`

	CSVPath    string        `kong:"help='Bulk metadata CSV export.',default='data/allmusic.csv'"`
	LogDir     string        `kong:"help='Directory for batch JSON logs (empty disables).',default='logs'"`
	BatchDelay time.Duration `kong:"help='Pause between batch items.',default=1s"`
	LockTTL    time.Duration `kong:"help='Batch lock TTL.',default=1h"`
	OnlyFailed bool          `kong:"help='Skip inputs whose last recorded outcome succeeded.',default=false"`
	DryRun     bool          `kong:"help='Perform lookups without writing.',default=false"`

	Serve              ServeCmd              `kong:"cmd,default='1',help='Run the HTTP API and lookup consumer.'"`
	Import             ImportCmd             `kong:"cmd,help='Import albums from artist-title pairs or raw queries.'"`
	Scrape             ScrapeCmd             `kong:"cmd,help='Scrape metadata for queries without persisting.'"`
	Backfill           BackfillCmd           `kong:"cmd,help='Fill in missing cover art and streaming links.'"`
	Report             ReportCmd             `kong:"cmd,help='Coverage reports.'"`
	Sanitize           SanitizeCmd           `kong:"cmd,help='Clean titles and reconcile duplicate entities.'"`
	Rank               RankCmd               `kong:"cmd,help='Top-50 and A-plus curation.'"`
	MigrateDescriptors MigrateDescriptorsCmd `kong:"cmd,name='migrate-descriptors',help='Move descriptors that duplicate genres onto the genre.'"`

	KongContext *kong.Context `kong:"-"`
}

type ServeCmd struct{}

type ImportCmd struct {
	Inputs    []string `kong:"arg,optional,help='Inputs (Artist - Title, or a raw query).'"`
	InputFile string   `kong:"help='File with one input per line.',type='path'"`
}

type ScrapeCmd struct {
	Queries []string `kong:"arg,help='Album ids, album URLs or free text.'"`
}

type BackfillCmd struct {
	Covers  struct{} `kong:"cmd,help='Cover art for albums without it.'"`
	Spotify struct{} `kong:"cmd,help='Spotify URIs for albums without one.'"`
	Apple   struct{} `kong:"cmd,help='Apple Music URLs for albums without one.'"`
}

type ReportCmd struct {
	Spotify struct{} `kong:"cmd,help='Spotify URI coverage.'"`
}

type SanitizeCmd struct{}

type MigrateDescriptorsCmd struct{}

type RankCmd struct {
	Top50 TitlesCmd `kong:"cmd,name='top50',help='Replace the top-50 ranking with the given titles, in order.'"`
	APlus APlusCmd  `kong:"cmd,name='aplus',help='Manage the A-plus flag.'"`
}

type APlusCmd struct {
	Add    TitlesCmd `kong:"cmd,help='Flag the given titles.'"`
	Remove TitlesCmd `kong:"cmd,help='Unflag the given titles.'"`
	Clear  struct{}  `kong:"cmd,help='Unflag every album.'"`
	List   struct{}  `kong:"cmd,help='List flagged albums.'"`
}

type TitlesCmd struct {
	Titles []string `kong:"arg,help='Album titles (partial titles resolve to the closest match).'"`
}

func New(version string) *Config {
	if err := godotenv.Load(EnvFile); err != nil {
		zap.L().Warn("unable to load dotenv file",
			zap.String("err", err.Error()))
	}

	cfg := &Config{}
	cfg.KongContext = kong.Parse(
		cfg,
		kong.Name("fivehundred"),
		kong.Description("Album metadata reconciliation pipeline"),
		kong.DefaultEnvars(EnvConfigPrefix),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": version,
		},
	)

	return cfg
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("Config cannot be nil")
	}

	if c.DBDriver == "pgx" && c.DBDSN == "" {
		return errors.New("db-dsn is required for the pgx driver")
	}

	if (c.SpotifyClientID == "") != (c.SpotifyClientSecret == "") {
		return errors.New("spotify client id and secret must be set together")
	}

	if (c.RedisTLSCert == "") != (c.RedisTLSKey == "") {
		return errors.New("redis tls cert and key must be set together")
	}

	if c.OnlyFailed && c.RedisURL == "" {
		return errors.New("--only-failed requires redis-url")
	}

	if c.BatchDelay < 0 {
		return errors.New("batch-delay cannot be negative")
	}

	if c.Command() == "import" && len(c.Import.Inputs) == 0 && c.Import.InputFile == "" {
		return errors.New("import needs inputs or --input-file")
	}

	return nil
}

// Command is the selected subcommand path without positional placeholders,
// ie. "rank aplus add".
func (c *Config) Command() string {
	if c.KongContext == nil {
		return "serve"
	}

	words := make([]string, 0)

	for _, w := range strings.Fields(c.KongContext.Command()) {
		if strings.HasPrefix(w, "<") {
			continue
		}

		words = append(words, w)
	}

	if len(words) == 0 {
		return "serve"
	}

	return strings.Join(words, " ")
}

// GetMap returns scalar settings by field name; credentials are masked.
func (c *Config) GetMap() map[string]string {
	fields := make(map[string]string)

	val := reflect.ValueOf(c)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := val.Field(i)

		if value.Kind() == reflect.Struct || value.Kind() == reflect.Ptr {
			continue
		}

		if isSecret(field.Name) && !value.IsZero() {
			fields[field.Name] = "********"
			continue
		}

		fields[field.Name] = fmt.Sprintf("%v", value)
	}

	return fields
}

func isSecret(name string) bool {
	for _, s := range []string{"Password", "Secret", "Token", "LicenseKey", "TLSKey"} {
		if strings.HasSuffix(name, s) {
			return true
		}
	}

	return false
}

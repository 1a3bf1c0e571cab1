package app

import (
	"os"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/repeat-buyers/internal/aggregate"
	"github.com/xenking/repeat-buyers/internal/report"
)

// Config holds the complete pipeline configuration, loadable from
// environment variables (REPEAT_ prefix), flags, or YAML config files.
// Every field has a default, so the command runs without arguments.
type Config struct {
	DataDir     string   `default:"." env:"DATA_DIR" usage:"Directory containing the monthly fulfillment exports" flag:"data-dir"`
	FilePrefix  string   `default:"amazon-fulfilled-report" env:"FILE_PREFIX" usage:"Export file name prefix, followed by -YYYY-MM.csv[.gz]" flag:"file-prefix"`
	StartYear   int      `default:"2021" env:"START_YEAR" usage:"First year to ingest" flag:"start-year"`
	EndYear     int      `default:"2022" env:"END_YEAR" usage:"Last year to ingest" flag:"end-year"`
	Channels    []string `default:"Amazon.com" env:"CHANNELS" usage:"Sales Channel values counted as first-party orders" flag:"channels"`
	DatabaseURL string   `env:"DATABASE_URL" usage:"Optional PostgreSQL URL to persist each run (REPEAT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Report      ReportConfig
}

// ReportConfig controls report output.
type ReportConfig struct {
	Dir           string   `default:"reports" env:"DIR" usage:"Directory the report files are written to" flag:"out-dir"`
	Prefix        string   `default:"repeat-buyers" env:"PREFIX" usage:"Report file name prefix" flag:"out-prefix"`
	Format        string   `default:"csv" env:"FORMAT" usage:"Report file format: csv or jsonl" flag:"format"`
	Granularities []string `default:"day,month,quarter" env:"GRANULARITIES" usage:"Report files to write" flag:"granularities"`
	Console       string   `default:"month" env:"CONSOLE" usage:"Granularity printed to stdout, empty to disable" flag:"console"`
	Sort          bool     `default:"false" env:"SORT" usage:"Sort buckets by key instead of first-seen order" flag:"sort"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and flags, applies platform defaults, and validates the result.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "REPEAT",
		Files:     []string{"config.yaml", "/etc/repeat-buyers/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(acfg aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, acfg).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &cfg, nil
}

// applyPlatformDefaults falls back to the conventional DATABASE_URL variable.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
}

func (c *Config) validate() error {
	if c.EndYear < c.StartYear {
		return errors.Errorf("end year %d is before start year %d", c.EndYear, c.StartYear)
	}
	if _, err := c.ReportGranularities(); err != nil {
		return err
	}
	if _, _, err := c.ConsoleGranularity(); err != nil {
		return err
	}
	if _, err := c.ReportFormat(); err != nil {
		return err
	}
	return nil
}

// ReportGranularities returns the configured report granularities without
// duplicates, in configuration order.
func (c *Config) ReportGranularities() ([]aggregate.Granularity, error) {
	var out []aggregate.Granularity
	seen := make(map[aggregate.Granularity]bool)
	for _, name := range c.Report.Granularities {
		if name == "" {
			continue
		}
		g, err := aggregate.ParseGranularity(name)
		if err != nil {
			return nil, err
		}
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	return out, nil
}

// ConsoleGranularity returns the granularity printed to stdout. ok is false
// when console output is disabled.
func (c *Config) ConsoleGranularity() (g aggregate.Granularity, ok bool, err error) {
	if c.Report.Console == "" {
		return "", false, nil
	}
	g, err = aggregate.ParseGranularity(c.Report.Console)
	if err != nil {
		return "", false, err
	}
	return g, true, nil
}

// ReportFormat returns the configured report file format.
func (c *Config) ReportFormat() (report.Format, error) {
	return report.ParseFormat(c.Report.Format)
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/mfenderov/dossier/pkg/models"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// DOSSIER_CURATION_THRESHOLD -> curation.threshold.
const EnvPrefix = "DOSSIER"

// Config holds all application configuration.
type Config struct {
	Server        Server              `mapstructure:"server"`
	Curation      Curation            `mapstructure:"curation"`
	Timeouts      Timeouts            `mapstructure:"timeouts"`
	Synthesis     Synthesis           `mapstructure:"synthesis"`
	Events        Events              `mapstructure:"events"`
	Jobs          Jobs                `mapstructure:"jobs"`
	Search        Search              `mapstructure:"search"`
	Queries       map[string][]string `mapstructure:"queries"` // category -> query templates
	News          News                `mapstructure:"news"`
	Scraper       Scraper             `mapstructure:"scraper"`
	Scoring       Scoring             `mapstructure:"scoring"`
	Elasticsearch Elasticsearch       `mapstructure:"elasticsearch"`
	Embeddings    Embeddings          `mapstructure:"embeddings"`
	LLM           LLM                 `mapstructure:"llm"`
	Cache         Cache               `mapstructure:"cache"`
	Storage       Storage             `mapstructure:"storage"`
	MCP           MCP                 `mapstructure:"mcp"`
}

// Server holds HTTP API configuration.
type Server struct {
	Addr               string        `mapstructure:"addr"`
	CancelOnDisconnect bool          `mapstructure:"cancel_on_disconnect"`
	KeepAlive          time.Duration `mapstructure:"keep_alive"`
}

// Curation holds document filtering configuration.
type Curation struct {
	Threshold float64 `mapstructure:"threshold"`
	Cap       int     `mapstructure:"cap"` // per category, 0 means unlimited
}

// Timeouts holds per-stage timeouts.
type Timeouts struct {
	Fetch     time.Duration `mapstructure:"fetch"`     // per fetcher
	Synthesis time.Duration `mapstructure:"synthesis"` // per generator call
	Shutdown  time.Duration `mapstructure:"shutdown"`
}

// Synthesis holds briefing generation configuration.
type Synthesis struct {
	Retries          int           `mapstructure:"retries"`
	Backoff          time.Duration `mapstructure:"backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	MaxDocuments     int           `mapstructure:"max_documents"`
	MaxDocumentChars int           `mapstructure:"max_document_chars"`
}

// Events holds progress event bus sizing.
type Events struct {
	Buffer  int `mapstructure:"buffer"`
	History int `mapstructure:"history"`
}

// Jobs holds job manager configuration.
type Jobs struct {
	MaxJobs int `mapstructure:"max_jobs"`
}

// Search holds web search provider configuration.
type Search struct {
	Endpoint    string        `mapstructure:"endpoint"`
	APIKey      string        `mapstructure:"api_key"`
	Depth       string        `mapstructure:"depth"`
	MaxResults  int           `mapstructure:"max_results"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Concurrency int           `mapstructure:"concurrency"` // queries in flight per category
}

// News holds news feed configuration.
type News struct {
	Enabled        bool          `mapstructure:"enabled"`
	FeedURL        string        `mapstructure:"feed_url"` // template, e.g. {{urlquery .Company}}
	MaxItems       int           `mapstructure:"max_items"`
	ExtractContent bool          `mapstructure:"extract_content"`
	Workers        int           `mapstructure:"workers"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Score          float64       `mapstructure:"score"` // provider score for items naming the company
}

// Scraper holds company website scraping configuration.
type Scraper struct {
	Enabled     bool          `mapstructure:"enabled"`
	Delay       time.Duration `mapstructure:"delay"`
	MaxDepth    int           `mapstructure:"max_depth"`
	MaxPages    int           `mapstructure:"max_pages"`
	FollowLinks bool          `mapstructure:"follow_links"`
	Timeout     time.Duration `mapstructure:"timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
	Score       float64       `mapstructure:"score"` // provider score for company site pages
}

// Scoring strategies.
const (
	ScoringProvider      = "provider"
	ScoringElasticsearch = "elasticsearch"
	ScoringEmbeddings    = "embeddings"
)

// Scoring selects how documents are rated for relevance.
type Scoring struct {
	Strategy     string  `mapstructure:"strategy"`
	DefaultScore float64 `mapstructure:"default_score"` // provider score for unrated documents
	Concurrency  int     `mapstructure:"concurrency"`   // embedding requests in flight
}

// Elasticsearch holds ES connection configuration.
type Elasticsearch struct {
	Addresses []string `mapstructure:"addresses"`
	Index     string   `mapstructure:"index"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

// Embeddings holds embeddings endpoint configuration.
type Embeddings struct {
	SocketPath string        `mapstructure:"socket_path"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LLM holds briefing generator configuration.
type LLM struct {
	Enabled    bool   `mapstructure:"enabled"`
	SocketPath string `mapstructure:"socket_path"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	MaxTokens  int    `mapstructure:"max_tokens"`

	EmployeeCount bool `mapstructure:"employee_count"` // look up the employee count for the report header
}

// Cache holds the Redis search cache configuration.
type Cache struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Storage holds S3/MinIO report archive configuration.
type Storage struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// MCP holds MCP server configuration.
type MCP struct {
	Name    string        `mapstructure:"name"`
	Version string        `mapstructure:"version"`
	MaxWait time.Duration `mapstructure:"max_wait"`
}

// DefaultQueries returns the search query templates per category. Templates
// see the research query fields: .Company, .URL, .Industry, .HQLocation.
func DefaultQueries() map[string][]string {
	return map[string][]string{
		string(models.CategoryCompany): {
			"{{.Company}} company overview products services",
			"{{.Company}} leadership team founders",
			"{{.Company}} business model customers {{.Industry}}",
		},
		string(models.CategoryIndustry): {
			"{{.Company}} market position competitors",
			"{{.Industry}} industry trends challenges {{.Company}}",
			"{{.Company}} market size growth {{.Industry}}",
		},
		string(models.CategoryFinancial): {
			"{{.Company}} funding rounds investors",
			"{{.Company}} revenue valuation financial results",
		},
		string(models.CategoryNews): {
			"{{.Company}} latest news announcements",
			"{{.Company}} partnership launch {{.HQLocation}}",
		},
	}
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Server: Server{
			Addr:      ":8080",
			KeepAlive: 15 * time.Second,
		},
		Curation: Curation{
			Threshold: 0.4,
			Cap:       30,
		},
		Timeouts: Timeouts{
			Fetch:     30 * time.Second,
			Synthesis: 60 * time.Second,
			Shutdown:  30 * time.Second,
		},
		Synthesis: Synthesis{
			Retries:          1,
			Backoff:          500 * time.Millisecond,
			MaxBackoff:       5 * time.Second,
			MaxDocuments:     8,
			MaxDocumentChars: 3000,
		},
		Events: Events{
			Buffer:  256,
			History: 512,
		},
		Jobs: Jobs{
			MaxJobs: 100,
		},
		Search: Search{
			Endpoint:    "https://api.tavily.com/search",
			Depth:       "basic",
			MaxResults:  5,
			Timeout:     20 * time.Second,
			Concurrency: 3,
		},
		Queries: DefaultQueries(),
		News: News{
			Enabled:        true,
			FeedURL:        "https://news.google.com/rss/search?q={{urlquery .Company}}&hl=en-US&gl=US&ceid=US:en",
			MaxItems:       10,
			ExtractContent: false,
			Workers:        5,
			Timeout:        15 * time.Second,
			Score:          0.6,
		},
		Scraper: Scraper{
			Enabled:     true,
			Delay:       500 * time.Millisecond,
			MaxDepth:    2,
			MaxPages:    5,
			FollowLinks: true,
			Timeout:     20 * time.Second,
			UserAgent:   "dossier/1.0",
			Score:       0.7,
		},
		Scoring: Scoring{
			Strategy:     ScoringProvider,
			DefaultScore: 0,
			Concurrency:  4,
		},
		Elasticsearch: Elasticsearch{
			Addresses: []string{"http://localhost:9200"},
			Index:     "dossier-scoring",
		},
		Embeddings: Embeddings{
			SocketPath: "", // User must provide their Docker socket path
			Model:      "ai/embeddinggemma",
			Timeout:    30 * time.Second,
		},
		LLM: LLM{
			Enabled:    false, // Disabled by default, briefings fall back to extractive digests
			SocketPath: "",
			Model:      "ai/gemma3",
			MaxTokens:  1024,

			EmployeeCount: true,
		},
		Cache: Cache{
			Enabled: false,
			Addr:    "localhost:6379",
			TTL:     6 * time.Hour,
		},
		Storage: Storage{
			Enabled:         false,
			Endpoint:        "localhost:9000",
			Bucket:          "dossier",
			AccessKeyID:     "minioadmin",
			SecretAccessKey: "minioadmin",
			UseSSL:          false,
		},
		MCP: MCP{
			Name:    "dossier",
			Version: "1.0.0",
			MaxWait: 5 * time.Minute,
		},
	}
}

// Load reads configuration from file (or the default search path when file
// is empty) and DOSSIER_* environment variables on top of Defaults(). A
// missing config file is not an error.
func Load(v *viper.Viper, file string) (Config, error) {
	cfg := Defaults()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/dossier")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested env vars
	for _, key := range envKeys {
		v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			if file != "" {
				return cfg, fmt.Errorf("failed to read config file: %w", err)
			}
			slog.Warn("config file error", "error", err)
		}
		// No config file - use defaults + env vars
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	// Handle special case: addresses as comma-separated string from env
	if addrs := os.Getenv(EnvPrefix + "_ELASTICSEARCH_ADDRESSES"); addrs != "" {
		cfg.Elasticsearch.Addresses = strings.Split(addrs, ",")
	}

	return cfg, nil
}

var envKeys = []string{
	"server.addr",
	"server.cancel_on_disconnect",
	"server.keep_alive",
	"curation.threshold",
	"curation.cap",
	"timeouts.fetch",
	"timeouts.synthesis",
	"timeouts.shutdown",
	"synthesis.retries",
	"synthesis.backoff",
	"events.buffer",
	"events.history",
	"jobs.max_jobs",
	"search.endpoint",
	"search.api_key",
	"search.depth",
	"search.max_results",
	"news.enabled",
	"news.feed_url",
	"news.extract_content",
	"news.score",
	"scraper.enabled",
	"scraper.max_depth",
	"scraper.max_pages",
	"scraper.score",
	"scoring.strategy",
	"scoring.default_score",
	"elasticsearch.index",
	"elasticsearch.username",
	"elasticsearch.password",
	"embeddings.socket_path",
	"embeddings.base_url",
	"embeddings.api_key",
	"embeddings.model",
	"llm.enabled",
	"llm.socket_path",
	"llm.base_url",
	"llm.api_key",
	"llm.model",
	"llm.employee_count",
	"cache.enabled",
	"cache.addr",
	"cache.password",
	"cache.ttl",
	"storage.enabled",
	"storage.endpoint",
	"storage.bucket",
	"storage.access_key_id",
	"storage.secret_access_key",
	"storage.use_ssl",
	"mcp.name",
	"mcp.version",
}

// Validate checks value ranges and cross-field requirements.
func (c Config) Validate() error {
	var errs []error

	if math.IsNaN(c.Curation.Threshold) || c.Curation.Threshold < 0 || c.Curation.Threshold > 1 {
		errs = append(errs, fmt.Errorf("curation.threshold must be within [0, 1], got %v", c.Curation.Threshold))
	}
	if c.Curation.Cap < 0 {
		errs = append(errs, fmt.Errorf("curation.cap must not be negative"))
	}
	if c.Timeouts.Fetch <= 0 {
		errs = append(errs, fmt.Errorf("timeouts.fetch must be positive"))
	}
	if c.Timeouts.Synthesis <= 0 {
		errs = append(errs, fmt.Errorf("timeouts.synthesis must be positive"))
	}
	if c.Synthesis.Retries < 0 {
		errs = append(errs, fmt.Errorf("synthesis.retries must not be negative"))
	}
	for _, sc := range []struct {
		key   string
		value float64
	}{{"news.score", c.News.Score}, {"scraper.score", c.Scraper.Score}} {
		if math.IsNaN(sc.value) || sc.value < 0 || sc.value > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0, 1], got %v", sc.key, sc.value))
		}
	}
	if c.Events.Buffer <= 0 {
		errs = append(errs, fmt.Errorf("events.buffer must be positive"))
	}

	for category := range c.Queries {
		if _, err := models.ParseCategory(category); err != nil {
			errs = append(errs, fmt.Errorf("queries: %w", err))
		}
	}

	switch c.Scoring.Strategy {
	case ScoringProvider:
	case ScoringElasticsearch:
		if len(c.Elasticsearch.Addresses) == 0 || c.Elasticsearch.Index == "" {
			errs = append(errs, fmt.Errorf("elasticsearch scoring requires elasticsearch.addresses and elasticsearch.index"))
		}
	case ScoringEmbeddings:
		if c.Embeddings.SocketPath == "" && c.Embeddings.BaseURL == "" {
			errs = append(errs, fmt.Errorf("embeddings scoring requires embeddings.socket_path or embeddings.base_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown scoring.strategy %q", c.Scoring.Strategy))
	}

	if c.LLM.Enabled && c.LLM.SocketPath == "" && c.LLM.BaseURL == "" {
		errs = append(errs, fmt.Errorf("llm requires llm.socket_path or llm.base_url"))
	}
	if c.Storage.Enabled && (c.Storage.Endpoint == "" || c.Storage.Bucket == "") {
		errs = append(errs, fmt.Errorf("storage requires storage.endpoint and storage.bucket"))
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		errs = append(errs, fmt.Errorf("cache requires cache.addr"))
	}

	return errors.Join(errs...)
}

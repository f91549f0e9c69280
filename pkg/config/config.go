package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"MarketSync/pkg/util"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Log         LogConfig        `yaml:"log"`
	Server      ServerConfig     `yaml:"server"`
	API         APIConfig        `yaml:"api"`
	RateLimit   RateLimitConfig  `yaml:"rate_limit"`
	Calendar    CalendarConfig   `yaml:"calendar"`
	Symbols     []string         `yaml:"symbols" validate:"required,min=1,dive,required"`
	Feeds       []FeedConfig     `yaml:"feeds" validate:"dive"`
	Collector   CollectorConfig  `yaml:"collector"`
	Backfill    BackfillConfig   `yaml:"backfill"`
	Cache       CacheConfig      `yaml:"cache"`
	Store       StoreConfig      `yaml:"store"`
	Postgres    PostgresConfig   `yaml:"postgres"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Redis       RedisConfig      `yaml:"redis"`
	Cursor      CursorConfig     `yaml:"cursor"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	Queue       QueueConfig      `yaml:"queue"`
}

type LogConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output     string `yaml:"output" default:"stdout"`
	TimeFormat string `yaml:"time_format" default:"2006-01-02T15:04:05.000Z07:00"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Token   string        `yaml:"token" validate:"required"`
	Timeout time.Duration `yaml:"timeout" default:"30s"`
	// PageLimit is the page size asked of the API.
	PageLimit   int `yaml:"page_limit" default:"200" validate:"gte=1,lte=5000"`
	MaxPages    int `yaml:"max_pages" default:"500" validate:"gte=1"`
	MaxAttempts int `yaml:"max_attempts" default:"3" validate:"gte=1,lte=10"`
}

type RateLimitConfig struct {
	PerMinute    int           `yaml:"per_minute" default:"60" validate:"gte=1"`
	PerHour      int           `yaml:"per_hour" default:"1000" validate:"gte=1"`
	BackoffFloor time.Duration `yaml:"backoff_floor" default:"1s"`
	BackoffMax   time.Duration `yaml:"backoff_max" default:"300s"`
	Growth       float64       `yaml:"growth" default:"2"`
}

type CalendarConfig struct {
	Timezone string   `yaml:"timezone" default:"America/New_York"`
	Open     string   `yaml:"open" default:"09:30" validate:"datetime=15:04"`
	Close    string   `yaml:"close" default:"16:00" validate:"datetime=15:04"`
	Weekdays []string `yaml:"weekdays" default:"[\"mon\",\"tue\",\"wed\",\"thu\",\"fri\"]"`
	Holidays []string `yaml:"holidays" validate:"dive,datetime=2006-01-02"`
	// Granularity is the gap analysis bucket width.
	Granularity string `yaml:"granularity" default:"1h" validate:"oneof=15m 1h 1d"`
}

type FeedConfig struct {
	Type string `yaml:"type" validate:"required,oneof=darkpool news flow"`
	// Path overrides the API route; {symbol} is substituted.
	Path string `yaml:"path"`
	// Symbols overrides the global symbol list for this feed.
	Symbols []string `yaml:"symbols"`
}

type CollectorConfig struct {
	Interval        time.Duration `yaml:"interval" default:"1m"`
	Workers         int           `yaml:"workers" default:"2" validate:"gte=1,lte=16"`
	InitialLookback time.Duration `yaml:"initial_lookback" default:"24h"`
	MaxChunk        time.Duration `yaml:"max_chunk" default:"4h"`
}

type BackfillConfig struct {
	MaxChunk   time.Duration `yaml:"max_chunk" default:"4h"`
	ChunkPause time.Duration `yaml:"chunk_pause" default:"1s"`
	// Interval enables periodic gap backfill when positive.
	Interval        time.Duration `yaml:"interval"`
	DefaultLookback time.Duration `yaml:"default_lookback" default:"168h"`
}

type CacheConfig struct {
	Backend string        `yaml:"backend" default:"memory" validate:"oneof=memory redis layered none"`
	TTL     time.Duration `yaml:"ttl" default:"5m"`
	MaxSize int           `yaml:"max_size" default:"10000"`
	Sweep   time.Duration `yaml:"sweep" default:"1m"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend" default:"memory" validate:"oneof=memory postgres clickhouse"`
	TablePrefix string `yaml:"table_prefix" default:"ms_"`
}

type PostgresConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"5432"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name" default:"marketsync"`
	SSLMode  string `yaml:"sslmode" default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MinConns int    `yaml:"min_conns" default:"1"`
	MaxConns int    `yaml:"max_conns" default:"8"`
}

type ClickHouseConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"marketsync"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"marketsync"`
}

type CursorConfig struct {
	Backend string `yaml:"backend" default:"memory" validate:"oneof=memory redis"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	TopicPrefix  string   `yaml:"topic_prefix" default:"marketsync"`
	RequiredAcks int      `yaml:"required_acks" default:"-1" validate:"oneof=-1 0 1"`
	Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	MaxAttempts  int      `yaml:"max_attempts" default:"3"`
}

type QueueConfig struct {
	Backend    string        `yaml:"backend" default:"memory" validate:"oneof=memory redis"`
	Workers    int           `yaml:"workers" default:"1" validate:"gte=1"`
	RetryLimit int           `yaml:"retry_limit" default:"2"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
}

// Load reads and parses a YAML configuration file, expanding ${VAR}
// references and applying defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes, defaults and validates YAML bytes.
func Parse(b []byte) (*Config, error) {
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables
// before validating.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.LookupEnv)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func decode(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(expandEnv(b, os.LookupEnv), &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if len(c.Feeds) == 0 {
		c.Feeds = []FeedConfig{{Type: "darkpool"}}
	}
	c.normalizeSymbols()
	return &c, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} with its value, or nothing when unset. Bare $
// is left alone so passwords survive.
func expandEnv(b []byte, lookup func(string) (string, bool)) []byte {
	return envRef.ReplaceAllFunc(b, func(m []byte) []byte {
		v, _ := lookup(string(m[2 : len(m)-1]))
		return []byte(v)
	})
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("MARKETSYNC_API_TOKEN"); ok && v != "" {
		c.API.Token = v
	}
	if v, ok := lookup("MARKETSYNC_API_BASE_URL"); ok && v != "" {
		c.API.BaseURL = v
	}
	if v, ok := lookup("SYMBOLS"); ok && v != "" {
		c.Symbols = util.NormalizeSymbols(util.SplitList(v))
	}
	if v, ok := lookup("STORE_BACKEND"); ok && v != "" {
		c.Store.Backend = v
	}
	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = util.SplitList(v)
		c.Kafka.Enabled = true
	}
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		c.Redis.Addr = v
	}
	if v, ok := lookup("POSTGRES_PASSWORD"); ok && v != "" {
		c.Postgres.Password = v
	}
}

// normalizeSymbols upper-cases and de-duplicates the global and per-feed
// symbol lists.
func (c *Config) normalizeSymbols() {
	if len(c.Symbols) > 0 {
		c.Symbols = util.NormalizeSymbols(c.Symbols)
	}
	for i := range c.Feeds {
		if len(c.Feeds[i].Symbols) > 0 {
			c.Feeds[i].Symbols = util.NormalizeSymbols(c.Feeds[i].Symbols)
		}
	}
}

var validate = validator.New()

// Validate runs struct tag rules and the cross-field rules tags cannot
// express. All violations are reported together.
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if c.Store.Backend == "postgres" && (c.Postgres.User == "" || c.Postgres.Password == "") {
		errs = append(errs, errors.New("postgres.user and postgres.password are required for the postgres store"))
	}
	if c.Store.Backend == "clickhouse" && c.ClickHouse.Host == "" {
		errs = append(errs, errors.New("clickhouse.host is required for the clickhouse store"))
	}
	if c.needsRedis() && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required by the configured cursor, cache or queue backend"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	if _, err := time.LoadLocation(c.Calendar.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("calendar.timezone: %w", err))
	}
	open, oerr := time.Parse("15:04", c.Calendar.Open)
	closing, cerr := time.Parse("15:04", c.Calendar.Close)
	if oerr == nil && cerr == nil && !open.Before(closing) {
		errs = append(errs, errors.New("calendar.open must be before calendar.close"))
	}
	for _, d := range c.Calendar.Weekdays {
		if !validWeekday(d) {
			errs = append(errs, fmt.Errorf("calendar.weekdays: unknown day %q", d))
		}
	}
	seen := map[string]bool{}
	for _, f := range c.Feeds {
		if seen[f.Type] {
			errs = append(errs, fmt.Errorf("feeds: %s configured twice", f.Type))
		}
		seen[f.Type] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *Config) needsRedis() bool {
	return c.Cursor.Backend == "redis" || c.Queue.Backend == "redis" ||
		c.Cache.Backend == "redis" || c.Cache.Backend == "layered"
}

// SymbolsFor returns the feed's own symbols or the global list.
func (c *Config) SymbolsFor(f FeedConfig) []string {
	if len(f.Symbols) > 0 {
		return f.Symbols
	}
	return c.Symbols
}

func validWeekday(s string) bool {
	switch strings.ToLower(s) {
	case "sun", "mon", "tue", "wed", "thu", "fri", "sat",
		"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday":
		return true
	}
	return false
}

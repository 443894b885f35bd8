package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DefaultTCPAddr is where game clients connect.
	DefaultTCPAddr = ":4848"
	// DefaultGRPCAddr serves registration and leaderboard subscriptions.
	DefaultGRPCAddr = ":4849"
	// DefaultHTTPAddr serves health probes and the browser leaderboard feed. Empty disables it.
	DefaultHTTPAddr = ":8080"

	// DefaultWordsPath lists secret word candidates, one per line.
	DefaultWordsPath = "words.txt"
	// DefaultWordInterval is how long one secret word stays active.
	DefaultWordInterval = 24 * time.Hour

	// DefaultStatePath is the snapshot file for accounts and the last game id.
	DefaultStatePath = "server_state.json"
	// DefaultStateInterval controls how often the snapshot is written.
	DefaultStateInterval = time.Minute

	// DefaultMaxFrameBytes caps inbound frame payloads.
	DefaultMaxFrameBytes = 1024
	// DefaultIdleTimeout closes connections that send nothing for this long.
	DefaultIdleTimeout = 10 * time.Minute

	// DefaultMulticastAddr is the group shared games are broadcast to.
	DefaultMulticastAddr = "239.255.32.32:4900"
	// DefaultMulticastTTL bounds how many hops shared game datagrams travel.
	DefaultMulticastTTL = 1

	// DefaultTopBand is the rank threshold that triggers leaderboard pushes.
	DefaultTopBand = 3
	// DefaultFanoutWorkers bounds concurrent notification deliveries.
	DefaultFanoutWorkers = 8
	// DefaultFanoutQueue bounds pending notification jobs.
	DefaultFanoutQueue = 256

	// DefaultTranslateEndpoint is the MyMemory lookup endpoint.
	DefaultTranslateEndpoint = "https://api.mymemory.translated.net/get"
	// DefaultTranslateLangPair selects the translation direction.
	DefaultTranslateLangPair = "en|it"
	// DefaultTranslateTimeout bounds one lookup.
	DefaultTranslateTimeout = 3 * time.Second
	// DefaultTranslateCache is the number of cached translations.
	DefaultTranslateCache = 512

	// DefaultRegisterRate is the sustained registration rate per second.
	DefaultRegisterRate = 5.0
	// DefaultRegisterBurst is the registration burst size.
	DefaultRegisterBurst = 10

	// DefaultLogLevel controls verbosity for server logs.
	DefaultLogLevel = "info"
)

// Config captures all runtime tunables for the game server.
type Config struct {
	TCPAddr  string
	GRPCAddr string
	HTTPAddr string

	WordsPath         string
	AcceptedWordsPath string
	WordInterval      time.Duration

	StatePath     string
	StateInterval time.Duration

	MaxFrameBytes int
	IdleTimeout   time.Duration

	Multicast MulticastConfig

	TopBand       int
	FanoutWorkers int
	FanoutQueue   int

	Translate TranslateConfig

	GRPCSharedSecret string
	RegisterRate     float64
	RegisterBurst    int
	AllowedOrigins   []string

	Logging LoggingConfig
}

// MulticastConfig describes the shared game broadcast channel.
type MulticastConfig struct {
	Addr     string
	TTL      int
	Loopback bool
}

// TranslateConfig configures the word translation collaborator.
type TranslateConfig struct {
	Endpoint  string
	LangPair  string
	Timeout   time.Duration
	CacheSize int
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level string
	Path  string
}

// Load reads configuration from defaults, an optional file named by
// WORDLE_CONFIG, a .env file and WORDLE_* environment variables, in
// increasing order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("WORDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		TCPAddr:           strings.TrimSpace(v.GetString("tcp_addr")),
		GRPCAddr:          strings.TrimSpace(v.GetString("grpc_addr")),
		HTTPAddr:          strings.TrimSpace(v.GetString("http_addr")),
		WordsPath:         strings.TrimSpace(v.GetString("words_path")),
		AcceptedWordsPath: strings.TrimSpace(v.GetString("accepted_words_path")),
		WordInterval:      v.GetDuration("word_interval"),
		StatePath:         strings.TrimSpace(v.GetString("state_path")),
		StateInterval:     v.GetDuration("state_interval"),
		MaxFrameBytes:     v.GetInt("max_frame_bytes"),
		IdleTimeout:       v.GetDuration("idle_timeout"),
		Multicast: MulticastConfig{
			Addr:     strings.TrimSpace(v.GetString("multicast_addr")),
			TTL:      v.GetInt("multicast_ttl"),
			Loopback: v.GetBool("multicast_loopback"),
		},
		TopBand:       v.GetInt("top_band"),
		FanoutWorkers: v.GetInt("fanout_workers"),
		FanoutQueue:   v.GetInt("fanout_queue"),
		Translate: TranslateConfig{
			Endpoint:  strings.TrimSpace(v.GetString("translate_endpoint")),
			LangPair:  strings.TrimSpace(v.GetString("translate_langpair")),
			Timeout:   v.GetDuration("translate_timeout"),
			CacheSize: v.GetInt("translate_cache"),
		},
		GRPCSharedSecret: strings.TrimSpace(v.GetString("grpc_shared_secret")),
		RegisterRate:     v.GetFloat64("register_rate"),
		RegisterBurst:    v.GetInt("register_burst"),
		AllowedOrigins:   parseList(v.GetString("allowed_origins")),
		Logging: LoggingConfig{
			Level: strings.TrimSpace(v.GetString("log_level")),
			Path:  strings.TrimSpace(v.GetString("log_path")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config", "")
	v.SetDefault("tcp_addr", DefaultTCPAddr)
	v.SetDefault("grpc_addr", DefaultGRPCAddr)
	v.SetDefault("http_addr", DefaultHTTPAddr)
	v.SetDefault("words_path", DefaultWordsPath)
	v.SetDefault("accepted_words_path", "")
	v.SetDefault("word_interval", DefaultWordInterval)
	v.SetDefault("state_path", DefaultStatePath)
	v.SetDefault("state_interval", DefaultStateInterval)
	v.SetDefault("max_frame_bytes", DefaultMaxFrameBytes)
	v.SetDefault("idle_timeout", DefaultIdleTimeout)
	v.SetDefault("multicast_addr", DefaultMulticastAddr)
	v.SetDefault("multicast_ttl", DefaultMulticastTTL)
	v.SetDefault("multicast_loopback", true)
	v.SetDefault("top_band", DefaultTopBand)
	v.SetDefault("fanout_workers", DefaultFanoutWorkers)
	v.SetDefault("fanout_queue", DefaultFanoutQueue)
	v.SetDefault("translate_endpoint", DefaultTranslateEndpoint)
	v.SetDefault("translate_langpair", DefaultTranslateLangPair)
	v.SetDefault("translate_timeout", DefaultTranslateTimeout)
	v.SetDefault("translate_cache", DefaultTranslateCache)
	v.SetDefault("grpc_shared_secret", "")
	v.SetDefault("register_rate", DefaultRegisterRate)
	v.SetDefault("register_burst", DefaultRegisterBurst)
	v.SetDefault("allowed_origins", "")
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_path", "")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string

	if c.TCPAddr == "" {
		problems = append(problems, "tcp_addr must not be empty")
	}
	if c.WordsPath == "" {
		problems = append(problems, "words_path must not be empty")
	}
	if c.StatePath == "" {
		problems = append(problems, "state_path must not be empty")
	}
	if c.WordInterval <= 0 {
		problems = append(problems, fmt.Sprintf("word_interval must be a positive duration, got %s", c.WordInterval))
	}
	if c.StateInterval <= 0 {
		problems = append(problems, fmt.Sprintf("state_interval must be a positive duration, got %s", c.StateInterval))
	}
	if c.MaxFrameBytes <= 0 {
		problems = append(problems, fmt.Sprintf("max_frame_bytes must be a positive integer, got %d", c.MaxFrameBytes))
	}
	if c.IdleTimeout < 0 {
		problems = append(problems, fmt.Sprintf("idle_timeout must not be negative, got %s", c.IdleTimeout))
	}
	if c.Multicast.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Multicast.Addr); err != nil {
			problems = append(problems, fmt.Sprintf("multicast_addr must be host:port, got %q", c.Multicast.Addr))
		}
	}
	if c.Multicast.TTL < 0 || c.Multicast.TTL > 255 {
		problems = append(problems, fmt.Sprintf("multicast_ttl must be within 0..255, got %d", c.Multicast.TTL))
	}
	if c.TopBand <= 0 {
		problems = append(problems, fmt.Sprintf("top_band must be a positive integer, got %d", c.TopBand))
	}
	if c.FanoutWorkers <= 0 {
		problems = append(problems, fmt.Sprintf("fanout_workers must be a positive integer, got %d", c.FanoutWorkers))
	}
	if c.FanoutQueue <= 0 {
		problems = append(problems, fmt.Sprintf("fanout_queue must be a positive integer, got %d", c.FanoutQueue))
	}
	if c.Translate.Timeout <= 0 {
		problems = append(problems, fmt.Sprintf("translate_timeout must be a positive duration, got %s", c.Translate.Timeout))
	}
	if c.Translate.CacheSize <= 0 {
		problems = append(problems, fmt.Sprintf("translate_cache must be a positive integer, got %d", c.Translate.CacheSize))
	}
	if c.RegisterRate <= 0 {
		problems = append(problems, fmt.Sprintf("register_rate must be positive, got %v", c.RegisterRate))
	}
	if c.RegisterBurst <= 0 {
		problems = append(problems, fmt.Sprintf("register_burst must be a positive integer, got %d", c.RegisterBurst))
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func parseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

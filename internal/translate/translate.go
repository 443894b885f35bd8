// Package translate looks up word translations from a remote service with an
// in-process LRU cache.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"wordle/server/internal/logging"
)

const (
	// DefaultEndpoint is the MyMemory lookup URL.
	DefaultEndpoint = "https://api.mymemory.translated.net/get"
	// DefaultLangPair translates English to Italian.
	DefaultLangPair = "en|it"
	// DefaultCacheSize bounds cached translations.
	DefaultCacheSize = 512
	// DefaultTimeout bounds a single lookup.
	DefaultTimeout = 3 * time.Second

	maxResponseBytes = 64 << 10
)

// Translator resolves a word to its translation. Implementations return an
// empty string when no translation is available.
type Translator interface {
	Translate(ctx context.Context, word string) string
}

// Nop never translates.
type Nop struct{}

// Translate implements Translator.
func (Nop) Translate(context.Context, string) string { return "" }

// Option customises an HTTP translator.
type Option func(*HTTP)

// WithEndpoint overrides the lookup URL.
func WithEndpoint(endpoint string) Option {
	return func(h *HTTP) {
		if strings.TrimSpace(endpoint) != "" {
			h.endpoint = endpoint
		}
	}
}

// WithLangPair overrides the language pair.
func WithLangPair(pair string) Option {
	return func(h *HTTP) {
		if strings.TrimSpace(pair) != "" {
			h.langPair = pair
		}
	}
}

// WithClient overrides the HTTP client.
func WithClient(client *http.Client) Option {
	return func(h *HTTP) {
		if client != nil {
			h.client = client
		}
	}
}

// WithTimeout bounds each lookup.
func WithTimeout(d time.Duration) Option {
	return func(h *HTTP) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithCacheSize bounds the number of cached translations.
func WithCacheSize(size int) Option {
	return func(h *HTTP) {
		if size > 0 {
			h.cacheSize = size
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(h *HTTP) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// HTTP queries a MyMemory compatible endpoint. Concurrent lookups of the same
// word share one request.
type HTTP struct {
	client    *http.Client
	endpoint  string
	langPair  string
	timeout   time.Duration
	cacheSize int
	logger    *logging.Logger

	cache *lru.Cache[string, string]
	group singleflight.Group
}

// NewHTTP builds an HTTP translator.
func NewHTTP(opts ...Option) (*HTTP, error) {
	h := &HTTP{
		client:    http.DefaultClient,
		endpoint:  DefaultEndpoint,
		langPair:  DefaultLangPair,
		timeout:   DefaultTimeout,
		cacheSize: DefaultCacheSize,
		logger:    logging.L(),
	}
	for _, opt := range opts {
		opt(h)
	}
	cache, err := lru.New[string, string](h.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("translation cache: %w", err)
	}
	h.cache = cache
	h.logger = h.logger.With(logging.String("component", "translate"))
	return h, nil
}

type lookupResponse struct {
	ResponseData struct {
		TranslatedText string `json:"translatedText"`
	} `json:"responseData"`
}

// Translate implements Translator.
func (h *HTTP) Translate(ctx context.Context, word string) string {
	if word == "" {
		return ""
	}
	if cached, ok := h.cache.Get(word); ok {
		return cached
	}
	v, err, _ := h.group.Do(word, func() (any, error) {
		if cached, ok := h.cache.Get(word); ok {
			return cached, nil
		}
		text, err := h.fetch(ctx, word)
		if err != nil {
			return "", err
		}
		h.cache.Add(word, text)
		return text, nil
	})
	if err != nil {
		h.logger.Warn("translation lookup failed", logging.String("word", word), logging.Error(err))
		return ""
	}
	return v.(string)
}

func (h *HTTP) fetch(ctx context.Context, word string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	query := url.Values{}
	query.Set("q", word)
	query.Set("langpair", h.langPair)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	text := strings.TrimSpace(payload.ResponseData.TranslatedText)
	if text == "" {
		return "", fmt.Errorf("empty translation")
	}
	return text, nil
}

var (
	_ Translator = Nop{}
	_ Translator = (*HTTP)(nil)
)

package upstream

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const DefaultBaseURL = "https://openrouter.ai/api/v1"

type Config struct {
	// BaseURL already includes the API version path, e.g. .../api/v1.
	BaseURL string

	CatalogTimeout time.Duration // model list fetch (default: 30s)
	ProbeTimeout   time.Duration // liveness ping (default: 30s)

	// Retries apply to the catalog fetch only; chat calls are never retried.
	MaxRetries  int           // default: 2
	BaseBackoff time.Duration // default: 200ms

	MaxIdleConns        int // default: 100
	MaxIdleConnsPerHost int // default: 100

	// Custom HTTP client (for testing or special configs)
	HTTPClient *http.Client
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("BaseURL is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("BaseURL %q must be an http(s) URL", c.BaseURL)
	}
	return nil
}

// WithDefaults returns a copy of Config with defaults applied.
func (c *Config) WithDefaults() Config {
	cfg := *c
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.CatalogTimeout <= 0 {
		cfg.CatalogTimeout = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 100
	}
	return cfg
}

// Client talks to the aggregation API. Chat calls carry the caller's own
// bearer key; the client itself holds no credentials.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: defaultTransport(cfg)}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("upstream"),
	}, nil
}

// defaultTransport has no overall timeout: streamed completions live as long
// as the upstream keeps the connection open.
func defaultTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// BaseURL returns the normalized upstream base URL.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

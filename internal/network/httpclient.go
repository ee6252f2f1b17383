// File: internal/network/httpclient.go
package network

import (
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/internal/observability"
)

// Defaults tuned for talking to a local DevTools endpoint.
const (
	DefaultDialTimeout           = 2 * time.Second
	DefaultKeepAliveInterval     = 15 * time.Second
	DefaultResponseHeaderTimeout = 5 * time.Second
	DefaultRequestTimeout        = 10 * time.Second
	DefaultIdleConnTimeout       = 30 * time.Second
	DefaultMaxIdleConnsPerHost   = 2
)

// ClientConfig holds the configuration for the HTTP client and transport layers.
type ClientConfig struct {
	RequestTimeout        time.Duration // Overall client timeout
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConnsPerHost   int
	DisableKeepAlives     bool

	// UseEnvironmentProxy routes requests through HTTP_PROXY and friends.
	// DevTools endpoints are usually on loopback, so it is off by default.
	UseEnvironmentProxy bool

	Logger *zap.Logger
}

// Client is a wrapper around the standard http.Client.
//
// The caller is responsible for closing the Response.Body after consuming it.
type Client struct {
	*http.Client
}

// NewDefaultClientConfig creates a configuration for DevTools discovery requests.
func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		RequestTimeout:        DefaultRequestTimeout,
		DialTimeout:           DefaultDialTimeout,
		KeepAlive:             DefaultKeepAliveInterval,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		Logger:                observability.GetLogger().Named("httpclient"),
	}
}

// NewHTTPTransport creates and configures an http.Transport based on the provided configuration.
func NewHTTPTransport(config *ClientConfig) *http.Transport {
	if config == nil {
		config = NewDefaultClientConfig()
	}

	dialer := &net.Dialer{
		Timeout:   config.DialTimeout,
		KeepAlive: config.KeepAlive,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		DisableKeepAlives:     config.DisableKeepAlives,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
	}
	if config.UseEnvironmentProxy {
		transport.Proxy = http.ProxyFromEnvironment
	}
	return transport
}

// NewClient creates our custom client wrapper using the configured transport.
// Redirects are returned to the caller instead of being followed: a DevTools
// endpoint never redirects, so one means the URL points somewhere else.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = NewDefaultClientConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	standardClient := &http.Client{
		Transport: NewHTTPTransport(config),
		Timeout:   config.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			logger.Debug("Not following redirect.", zap.String("location", req.URL.String()))
			return http.ErrUseLastResponse
		},
	}
	return &Client{Client: standardClient}
}

// Package config loads handler settings from YAML and the environment.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/frankli0324/go-networking/internal/dialer"
	"github.com/frankli0324/go-networking/internal/handler"
	"github.com/frankli0324/go-networking/internal/log"
	"github.com/frankli0324/go-networking/internal/model"
	"github.com/frankli0324/go-networking/internal/proxy"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the serialized form of [handler.Options].
type Config struct {
	Log LogConfig `yaml:"log"`

	Timeout      time.Duration     `yaml:"timeout"`
	MaxRedirects int               `yaml:"max_redirects"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	// Proxies maps a scheme, "all" or "no" to a proxy URL, see [model.Proxies].
	Proxies map[string]string `yaml:"proxies,omitempty"`
	// ProxyResolveLocally resolves origins before asking a proxy for them.
	ProxyResolveLocally bool `yaml:"proxy_resolve_locally"`

	SourceAddress      string    `yaml:"source_address,omitempty"`
	InsecureSkipVerify bool      `yaml:"insecure_skip_verify"`
	LegacySSL          bool      `yaml:"legacy_ssl"`
	TLS                TLSConfig `yaml:"tls"`
	DNS                DNSConfig `yaml:"dns"`

	Verbose bool `yaml:"verbose"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// TLSConfig names PEM files. CertFile and KeyFile go together.
type TLSConfig struct {
	CAFile   string `yaml:"ca_file,omitempty"`
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
	// ProxyCAFile verifies https proxies, CAFile is used when empty.
	ProxyCAFile string `yaml:"proxy_ca_file,omitempty"`
}

type DNSConfig struct {
	// Server is a host:port queried instead of the system resolver.
	Server string `yaml:"server,omitempty"`
	// Network is ip4 or ip6 to restrict the address family.
	Network string `yaml:"network,omitempty"`
	// Hosts resembles /etc/hosts.
	Hosts map[string]string `yaml:"hosts,omitempty"`
}

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: string(log.FormatJSON),
		},
		Timeout:      handler.DefaultTimeout,
		MaxRedirects: handler.DefaultMaxRedirects,
	}
}

// Load reads path if not empty, then applies the environment overlay and
// validates the result. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}
	cfg.loadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults and validates it. The
// environment is not consulted.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("NETWORKING_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Timeout = d
		} else if secs, err := strconv.ParseFloat(val, 64); err == nil {
			c.Timeout = time.Duration(secs * float64(time.Second))
		}
	}
	if val := os.Getenv("NETWORKING_PROXY"); val != "" {
		c.setProxy(model.ProxyKeyAll, val)
	}
	if val := os.Getenv("NETWORKING_NO_PROXY"); val != "" {
		c.setProxy(model.ProxyKeyNo, val)
	}
	if val := os.Getenv("NETWORKING_SOURCE_ADDRESS"); val != "" {
		c.SourceAddress = val
	}
	if val := os.Getenv("NETWORKING_LEGACY_SSL"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.LegacySSL = b
		}
	}
	if val := os.Getenv("NETWORKING_INSECURE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.InsecureSkipVerify = b
		}
	}
	if val := os.Getenv("NETWORKING_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
}

func (c *Config) setProxy(key, val string) {
	if c.Proxies == nil {
		c.Proxies = map[string]string{}
	}
	c.Proxies[key] = val
}

var (
	validLevels   = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validFormats  = map[string]bool{"json": true, "text": true}
	validNetworks = map[string]bool{"": true, "ip": true, "ip4": true, "ip6": true}
)

// Validate reports every problem at once, wrapped in [ErrInvalidConfig].
func (c *Config) Validate() error {
	var errs []string

	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("timeout must be positive, got %v", c.Timeout))
	}
	if c.MaxRedirects < 0 {
		errs = append(errs, fmt.Sprintf("max_redirects cannot be negative, got %d", c.MaxRedirects))
	}
	for key, raw := range c.Proxies {
		if key == model.ProxyKeyNo {
			continue
		}
		if _, err := proxy.Normalize(raw); err != nil {
			errs = append(errs, fmt.Sprintf("proxies.%s: %v", key, err))
		}
	}
	if c.SourceAddress != "" && net.ParseIP(c.SourceAddress) == nil {
		errs = append(errs, fmt.Sprintf("source_address must be an IP address, got %q", c.SourceAddress))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, "tls.cert_file and tls.key_file must be set together")
	}
	if !validNetworks[c.DNS.Network] {
		errs = append(errs, fmt.Sprintf("dns.network must be one of [ip, ip4, ip6], got %q", c.DNS.Network))
	}
	if c.DNS.Server != "" {
		if _, _, err := net.SplitHostPort(c.DNS.Server); err != nil {
			errs = append(errs, fmt.Sprintf("dns.server must be host:port, got %q", c.DNS.Server))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// HandlerOptions converts c, reading the PEM files it names.
func (c *Config) HandlerOptions() (handler.Options, error) {
	opts := handler.Options{
		Logger: log.New(&log.Config{
			Level:     c.Log.Level,
			Format:    log.Format(c.Log.Format),
			AddSource: c.Log.AddSource,
		}),
		Timeout:            c.Timeout,
		MaxRedirects:       c.MaxRedirects,
		SourceAddress:      c.SourceAddress,
		InsecureSkipVerify: c.InsecureSkipVerify,
		LegacySSL:          c.LegacySSL,
		Verbose:            c.Verbose,

		ProxyResolveLocally: c.ProxyResolveLocally,
	}
	if c.MaxRedirects == 0 {
		// 0 means "no redirects" here, handler.Options reads it as unset
		opts.MaxRedirects = -1
	}
	if len(c.Headers) > 0 {
		opts.Headers = http.Header{}
		for k, v := range c.Headers {
			opts.Headers.Set(k, v)
		}
	}
	if len(c.Proxies) > 0 {
		opts.Proxies = model.Proxies(c.Proxies).Clone()
	}
	if c.DNS.Server != "" || c.DNS.Network != "" || len(c.DNS.Hosts) > 0 {
		opts.ResolveConfig = &dialer.ResolveConfig{
			CustomDNSServer: c.DNS.Server,
			Network:         c.DNS.Network,
			StaticHosts:     c.DNS.Hosts,
		}
	}
	if c.TLS.CAFile != "" {
		pool, err := loadPool("tls.ca_file", c.TLS.CAFile)
		if err != nil {
			return opts, err
		}
		opts.RootCAs = pool
	}
	if c.TLS.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
		if err != nil {
			return opts, fmt.Errorf("failed to load client certificate: %w", err)
		}
		opts.ClientCert = &cert
	}
	if c.TLS.ProxyCAFile != "" {
		pool, err := loadPool("tls.proxy_ca_file", c.TLS.ProxyCAFile)
		if err != nil {
			return opts, err
		}
		opts.ProxyTLSConfig = opts.TLSConfig(false)
		opts.ProxyTLSConfig.RootCAs = pool
	}
	return opts, nil
}

func loadPool(key, path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%s %s holds no certificate", key, path)
	}
	return pool, nil
}

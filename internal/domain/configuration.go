package domain

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	DefaultMaxConnections   = 200
	DefaultMaxUploads       = -1
	DefaultListenInterfaces = "0.0.0.0:6881"
)

// SessionConfiguration describes session-wide engine settings. It is passed
// by value; an update replaces the whole value.
type SessionConfiguration struct {
	// Rate limits in bytes per second. Zero means unlimited.
	DownloadRateLimit int64 `yaml:"download_rate_limit" json:"downloadRateLimit"`
	UploadRateLimit   int64 `yaml:"upload_rate_limit" json:"uploadRateLimit"`

	MaxConnections int `yaml:"max_connections" json:"maxConnections"`
	// MaxUploads is the number of concurrent upload slots, -1 for unlimited.
	MaxUploads int `yaml:"max_uploads" json:"maxUploads"`

	// ListenInterfaces is a comma separated list of host:port pairs.
	ListenInterfaces string `yaml:"listen_interfaces" json:"listenInterfaces"`

	EnableDHT    bool `yaml:"enable_dht" json:"enableDHT"`
	EnableLSD    bool `yaml:"enable_lsd" json:"enableLSD"`
	EnableUPnP   bool `yaml:"enable_upnp" json:"enableUPnP"`
	EnableNATPMP bool `yaml:"enable_natpmp" json:"enableNATPMP"`
}

func DefaultSessionConfiguration() SessionConfiguration {
	return SessionConfiguration{
		MaxConnections:   DefaultMaxConnections,
		MaxUploads:       DefaultMaxUploads,
		ListenInterfaces: DefaultListenInterfaces,
		EnableDHT:        true,
		EnableLSD:        true,
		EnableUPnP:       true,
		EnableNATPMP:     true,
	}
}

// Validate reports the first problem found, wrapped in ErrInvalidConfiguration.
func (c SessionConfiguration) Validate() error {
	if c.DownloadRateLimit < 0 {
		return fmt.Errorf("%w: download rate limit %d", ErrInvalidConfiguration, c.DownloadRateLimit)
	}
	if c.UploadRateLimit < 0 {
		return fmt.Errorf("%w: upload rate limit %d", ErrInvalidConfiguration, c.UploadRateLimit)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("%w: max connections %d", ErrInvalidConfiguration, c.MaxConnections)
	}
	if c.MaxUploads < -1 {
		return fmt.Errorf("%w: max uploads %d", ErrInvalidConfiguration, c.MaxUploads)
	}
	if _, err := c.ListenAddrs(); err != nil {
		return err
	}
	return nil
}

// ListenAddr is one parsed entry of ListenInterfaces.
type ListenAddr struct {
	Host string
	Port int
}

func (a ListenAddr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ListenAddrs parses ListenInterfaces. An empty host means all interfaces.
func (c SessionConfiguration) ListenAddrs() ([]ListenAddr, error) {
	raw := strings.TrimSpace(c.ListenInterfaces)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty listen interfaces", ErrInvalidConfiguration)
	}
	var out []ListenAddr
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		host, portStr, err := net.SplitHostPort(part)
		if err != nil {
			return nil, fmt.Errorf("%w: listen interface %q: %v", ErrInvalidConfiguration, part, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 0 || port > 65535 {
			return nil, fmt.Errorf("%w: listen port %q", ErrInvalidConfiguration, portStr)
		}
		out = append(out, ListenAddr{Host: host, Port: port})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty listen interfaces", ErrInvalidConfiguration)
	}
	return out, nil
}

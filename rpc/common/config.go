package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Protocol flags and client intelligence
// --------------------------------------------------------------------------

// Request flags sent in every request header
const (
	FlagForceReturnValue int32 = 1 << 0
	FlagDefaultLifespan  int32 = 1 << 1
	FlagDefaultMaxIdle   int32 = 1 << 2
	FlagSkipCacheLoad    int32 = 1 << 3
	FlagSkipIndexing     int32 = 1 << 4
)

// Intelligence controls how much routing information the client asks the server for
type Intelligence string

const (
	IntelligenceBasic        Intelligence = "basic"
	IntelligenceTopology     Intelligence = "topology"
	IntelligenceDistribution Intelligence = "hash"
)

// Byte returns the wire value of the intelligence level
func (i Intelligence) Byte() byte {
	switch i {
	case IntelligenceBasic:
		return 0x01
	case IntelligenceTopology:
		return 0x02
	default:
		return 0x03
	}
}

// --------------------------------------------------------------------------
// Client configuration structs
// --------------------------------------------------------------------------

// SocketConf holds socket buffer settings shared by all socket based transports
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds tcp specific socket settings
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// ClientTransportConfig selects and configures the transport used to reach the servers
type ClientTransportConfig struct {
	// Type is the name of the connector (tcp, unix)
	Type string
	SocketConf
	TCPConf
}

// ClientPoolConfig bounds the connection pool per server address
type ClientPoolConfig struct {
	// MaxActive is the maximum number of connections lent out per address at the same time
	MaxActive int
	// MaxIdle is the maximum number of idle connections kept per address
	MaxIdle int
	// AcquireTimeoutMillis is how long Acquire blocks when MaxActive is reached (0 = until ctx is done)
	AcquireTimeoutMillis int
}

// ClientConfig holds everything needed to build a remote cache client
type ClientConfig struct {
	// CacheName is the name of the remote cache, empty selects the default cache
	CacheName string
	// Servers is the initial list of addresses used until the server sends a topology
	Servers []string

	Intelligence      Intelligence
	ForceReturnValues bool

	// TimeoutSecond is the read/write deadline of every request
	TimeoutSecond int
	// ConnectTimeoutSecond is the dial timeout
	ConnectTimeoutSecond int
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// RetryBackoffMillis is the initial backoff between retries, doubled each attempt
	RetryBackoffMillis int
	// HashCacheSize is the number of key hashes cached by the topology (0 disables the cache)
	HashCacheSize int

	Pool      ClientPoolConfig
	Transport ClientTransportConfig

	// Logging configuration
	LogLevel  string
	LogFormat string
}

// DefaultClientConfig returns a configuration with conservative defaults for a local server
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Servers:              []string{"127.0.0.1:11222"},
		Intelligence:         IntelligenceDistribution,
		TimeoutSecond:        10,
		ConnectTimeoutSecond: 5,
		MaxRetries:           3,
		RetryBackoffMillis:   50,
		HashCacheSize:        4096,
		Pool: ClientPoolConfig{
			MaxActive:            8,
			MaxIdle:              4,
			AcquireTimeoutMillis: 5000,
		},
		Transport: ClientTransportConfig{
			Type: "tcp",
			TCPConf: TCPConf{
				TCPNoDelay: true,
			},
		},
		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Validate checks the configuration for values the client cannot work with
func (c *ClientConfig) Validate() error {
	if len(c.Servers) == 0 {
		return NewFault(KindNoServers, "no servers configured")
	}
	for i, s := range c.Servers {
		if strings.TrimSpace(s) == "" {
			return errors.Errorf("server %d is empty", i)
		}
	}
	switch c.Intelligence {
	case IntelligenceBasic, IntelligenceTopology, IntelligenceDistribution:
	default:
		return errors.Errorf("invalid intelligence %q (expected one of basic, topology, hash)", c.Intelligence)
	}
	if c.MaxRetries < 0 {
		return errors.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.Pool.MaxActive < 1 {
		return errors.Errorf("pool max active must be at least 1, got %d", c.Pool.MaxActive)
	}
	if c.Pool.MaxIdle < 0 || c.Pool.MaxIdle > c.Pool.MaxActive {
		return errors.Errorf("pool max idle must be between 0 and %d, got %d", c.Pool.MaxActive, c.Pool.MaxIdle)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Flags returns the request flags derived from the configuration
func (c *ClientConfig) Flags() int32 {
	var flags int32
	if c.ForceReturnValues {
		flags |= FlagForceReturnValue
	}
	return flags
}

// Timeout returns the per request I/O timeout
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// ConnectTimeout returns the dial timeout
func (c *ClientConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSecond) * time.Second
}

// AcquireTimeout returns how long a pool acquire may block
func (c *ClientConfig) AcquireTimeout() time.Duration {
	return time.Duration(c.Pool.AcquireTimeoutMillis) * time.Millisecond
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-24s: %s\n", name, value))
	}

	cacheName := c.CacheName
	if cacheName == "" {
		cacheName = "(default)"
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Cache", cacheName)
	addField("Intelligence", string(c.Intelligence))
	addField("Force Return Values", strconv.FormatBool(c.ForceReturnValues))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Connect Timeout", fmt.Sprintf("%d sec", c.ConnectTimeoutSecond))
	addField("Max Retries", strconv.Itoa(c.MaxRetries))
	addField("Retry Backoff", fmt.Sprintf("%d ms", c.RetryBackoffMillis))

	// Pool
	addSection("Connection Pool")
	addField("Max Active Per Server", strconv.Itoa(c.Pool.MaxActive))
	addField("Max Idle Per Server", strconv.Itoa(c.Pool.MaxIdle))
	addField("Acquire Timeout", fmt.Sprintf("%d ms", c.Pool.AcquireTimeoutMillis))

	// Transport
	addSection("Transport")
	addField("Type", c.Transport.Type)
	if c.Transport.Type == "tcp" {
		addField("TCP No Delay", strconv.FormatBool(c.Transport.TCPNoDelay))
		addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.Transport.TCPKeepAliveSec))
	}

	// Servers
	addSection("Servers")
	for i, server := range c.Servers {
		addField(strconv.Itoa(i), server)
	}

	return sb.String()
}

package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/hotrod/rpc/client"
	"github.com/ValentinKolb/hotrod/rpc/common"
	"github.com/ValentinKolb/hotrod/rpc/marshaller"
	"github.com/ValentinKolb/hotrod/rpc/transport"
	"github.com/ValentinKolb/hotrod/rpc/transport/tcp"
	"github.com/ValentinKolb/hotrod/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		if lineWidth > 0 && lineWidth+1+len(word) > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}
		currentLine.WriteString(word)
		lineWidth += len(word)
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}
	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds the connection flags of the remote cache client to a command
func SetupClientFlags(cmd *cobra.Command) {
	d := common.DefaultClientConfig()
	flags := cmd.PersistentFlags()

	key := "servers"
	flags.String(key, strings.Join(d.Servers, ","), WrapString("Comma-separated list of initial server addresses (host:port, or socket paths for the unix transport)"))

	key = "cache"
	flags.String(key, d.CacheName, WrapString("Name of the remote cache, empty selects the default cache"))

	key = "intelligence"
	flags.String(key, string(d.Intelligence), WrapString("Routing information requested from the server (basic, topology, hash)"))

	key = "force-return-values"
	flags.Bool(key, d.ForceReturnValues, WrapString("Ask the server to return previous values on writes"))

	key = "timeout"
	flags.Int(key, d.TimeoutSecond, WrapString("The read/write timeout in seconds of every request"))

	key = "connect-timeout"
	flags.Int(key, d.ConnectTimeoutSecond, WrapString("The dial timeout in seconds"))

	key = "retries"
	flags.Int(key, d.MaxRetries, WrapString("How many times a failed request is retried"))

	key = "retry-backoff"
	flags.Int(key, d.RetryBackoffMillis, WrapString("Initial backoff between retries in milliseconds, doubled with every retry"))

	key = "hash-cache"
	flags.Int(key, d.HashCacheSize, WrapString("Number of key hashes cached for routing (0 disables the cache)"))

	key = "pool-max-active"
	flags.Int(key, d.Pool.MaxActive, WrapString("Maximum number of connections lent at the same time per server"))

	key = "pool-max-idle"
	flags.Int(key, d.Pool.MaxIdle, WrapString("Maximum number of idle connections kept per server"))

	key = "pool-acquire-timeout"
	flags.Int(key, d.Pool.AcquireTimeoutMillis, WrapString("How long to wait for a free connection in milliseconds"))

	key = "transport-write-buffer"
	flags.Int(key, 0, WrapString("The size of the socket write buffer (in KB, 0 keeps the system default)"))

	key = "transport-read-buffer"
	flags.Int(key, 0, WrapString("The size of the socket read buffer (in KB, 0 keeps the system default)"))

	key = "transport-tcp-nodelay"
	flags.Bool(key, d.Transport.TCPNoDelay, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "transport-tcp-keepalive"
	flags.Int(key, 0, WrapString("The keepalive interval (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	flags.Int(key, 0, WrapString("The linger time (in seconds, only for tcp)"))

	key = "log-level"
	flags.String(key, "warn", WrapString("The level at which logs will be output (debug, info, warn, error)"))

	key = "log-format"
	flags.String(key, d.LogFormat, WrapString("The log output format (console, json)"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("hotrod")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	conf := &common.ClientConfig{
		CacheName:            viper.GetString("cache"),
		Servers:              splitList(viper.GetString("servers")),
		Intelligence:         common.Intelligence(viper.GetString("intelligence")),
		ForceReturnValues:    viper.GetBool("force-return-values"),
		TimeoutSecond:        viper.GetInt("timeout"),
		ConnectTimeoutSecond: viper.GetInt("connect-timeout"),
		MaxRetries:           viper.GetInt("retries"),
		RetryBackoffMillis:   viper.GetInt("retry-backoff"),
		HashCacheSize:        viper.GetInt("hash-cache"),
		Pool: common.ClientPoolConfig{
			MaxActive:            viper.GetInt("pool-max-active"),
			MaxIdle:              viper.GetInt("pool-max-idle"),
			AcquireTimeoutMillis: viper.GetInt("pool-acquire-timeout"),
		},
		Transport: common.ClientTransportConfig{
			Type: viper.GetString("transport"),
			SocketConf: common.SocketConf{
				WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
				ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
			},
			TCPConf: common.TCPConf{
				TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
				TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
				TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			},
		},
		LogLevel:  viper.GetString("log-level"),
		LogFormat: viper.GetString("log-format"),
	}

	return conf
}

// GetConnector creates the client connector based on configuration
func GetConnector() (transport.IConnector, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPConnector(), nil
	case "unix":
		return unix.NewUnixConnector(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerConnector creates the server connector based on configuration
func GetServerConnector() (transport.IServerConnector, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPServerConnector(), nil
	case "unix":
		return unix.NewUnixServerConnector(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetMarshaller returns the marshaller used to print and parse values
func GetMarshaller() (marshaller.IMarshaller, error) {
	name := viper.GetString("marshaller")
	m, ok := marshaller.ByName(name)
	if !ok {
		return nil, fmt.Errorf("invalid marshaller %s", name)
	}
	return m, nil
}

// NewRemoteCache initializes the loggers and creates a client from the viper configuration
func NewRemoteCache() (*client.RemoteCache, error) {
	config := GetClientConfig()
	if err := common.InitLoggers(config.LogLevel, config.LogFormat); err != nil {
		return nil, err
	}
	connector, err := GetConnector()
	if err != nil {
		return nil, err
	}
	return client.NewRemoteCache(*config, connector)
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

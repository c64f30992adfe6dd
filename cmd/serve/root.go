package serve

import (
	"fmt"
	"strings"

	cmdUtil "github.com/ValentinKolb/hotrod/cmd/util"
	"github.com/ValentinKolb/hotrod/internal/testserver"
	"github.com/ValentinKolb/hotrod/rpc/common"
	"github.com/ValentinKolb/hotrod/rpc/protocol"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	ServeCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start an in-memory development server",
		Long: `Start an in-memory server speaking the remote cache protocol, for local development and
trying out the client. Data is not persisted and not replicated. The configuration can be set
via command line flags or environment variables. The format of the environment variables is
HOTROD_<flag> (e.g. HOTROD_ENDPOINT=0.0.0.0:11222)`,
		PreRunE: processConfig,
		RunE:    run,
	}
	topology *protocol.TopologyInfo
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "endpoint"
	ServeCmd.Flags().String(key, "127.0.0.1:11222", cmdUtil.WrapString("The address on which the server will listen (e.g. localhost:11222, /tmp/hotrod.sock, ...)"))

	key = "topology"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("Comma-separated list of server addresses announced to clients as topology (empty announces none)"))

	key = "topology-id"
	ServeCmd.Flags().Int32(key, 1, cmdUtil.WrapString("The id of the announced topology, clients with an older id receive it with their next response"))

	key = "log-level"
	ServeCmd.Flags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "log-format"
	ServeCmd.Flags().String(key, "console", cmdUtil.WrapString("The log output format (console, json)"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	topology = nil
	if servers := viper.GetString("topology"); servers != "" {
		topology = &protocol.TopologyInfo{ID: viper.GetInt32("topology-id")}
		for _, s := range strings.Split(servers, ",") {
			if s = strings.TrimSpace(s); s != "" {
				topology.Servers = append(topology.Servers, s)
			}
		}
		if err := topology.Validate(); err != nil {
			return fmt.Errorf("invalid topology: %v", err)
		}
	}

	return common.InitLoggers(viper.GetString("log-level"), viper.GetString("log-format"))
}

// run starts the server and blocks until the command is interrupted
func run(cmd *cobra.Command, _ []string) error {
	connector, err := cmdUtil.GetServerConnector()
	if err != nil {
		return err
	}

	endpoint := viper.GetString("endpoint")
	srv, err := testserver.StartWith(connector, endpoint)
	if err != nil {
		return err
	}
	if topology != nil {
		srv.SetTopology(topology)
	}
	testserver.Logger.Infof("Serving %s on %s", connector.GetName(), srv.Address())

	<-cmd.Context().Done()

	testserver.Logger.Infof("Shutting down after %d requests", srv.RequestCount())
	return srv.Close()
}

// initConfig reads in ENV variables and env files if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("hotrod")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

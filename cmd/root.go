package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ValentinKolb/hotrod/cmd/cache"
	"github.com/ValentinKolb/hotrod/cmd/listen"
	"github.com/ValentinKolb/hotrod/cmd/serve"
	"github.com/ValentinKolb/hotrod/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "hotrod",
		Short: "remote cache client",
		Long: fmt.Sprintf(`hotrod (v%s)

A client for remote cache servers speaking the Hot Rod protocol, with topology
aware routing, connection pooling and client listeners.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of hotrod",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hotrod v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(cache.CacheCommands)
	RootCmd.AddCommand(listen.ListenCmd)
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "marshaller"
	RootCmd.PersistentFlags().String(key, "string", util.WrapString("marshaller used for values (string, json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// The commands run with a context that is cancelled on SIGINT and SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := RootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

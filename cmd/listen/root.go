package listen

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ValentinKolb/hotrod/cmd/util"
	"github.com/ValentinKolb/hotrod/rpc/listener"
	"github.com/ValentinKolb/hotrod/rpc/operation"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// ListenCmd prints the events of a cache until interrupted
	ListenCmd = &cobra.Command{
		Use:   "listen",
		Short: "Print the events of a remote cache",
		Long: `Adds a client listener to the remote cache and prints every created, modified, removed
and expired event until the command is interrupted or --duration has passed. The listener is
removed from the server before the command exits.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return util.BindCommandFlags(cmd)
		},
		RunE:    run,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	util.SetupClientFlags(ListenCmd)

	key := "include-current-state"
	ListenCmd.Flags().Bool(key, false, util.WrapString("Receive a created event for every entry already in the cache"))
	key = "filter-factory"
	ListenCmd.Flags().String(key, "", util.WrapString("Name of a server side filter factory"))
	key = "converter-factory"
	ListenCmd.Flags().String(key, "", util.WrapString("Name of a server side converter factory"))
	key = "duration"
	ListenCmd.Flags().Duration(key, 0, util.WrapString("Stop listening after this duration (0 = until interrupted)"))
}

func run(cmd *cobra.Command, _ []string) error {
	cache, err := util.NewRemoteCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	// the name only identifies this session in the output
	name := uuid.NewString()[:8]
	handle := listener.Func(func(ev *listener.Event) {
		fmt.Fprintf(os.Stdout, "[%s] %s key=%q version=%d\n", name, ev.Type, ev.Key, ev.Version)
	})

	options := operation.ListenerOptions{
		IncludeCurrentState: viper.GetBool("include-current-state"),
		FilterFactory:       viper.GetString("filter-factory"),
		ConverterFactory:    viper.GetString("converter-factory"),
	}
	if err := cache.AddListener(cmd.Context(), handle, options); err != nil {
		return err
	}
	fmt.Printf("[%s] listening on cache %q, press ctrl-c to stop\n", name, util.GetClientConfig().CacheName)

	ctx := cmd.Context()
	var timeout <-chan time.Time
	if d := viper.GetDuration("duration"); d > 0 {
		timeout = time.After(d)
	}
	select {
	case <-ctx.Done():
	case <-timeout:
	}

	// the command context may already be cancelled
	removeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := cache.RemoveListener(removeCtx, handle); err != nil {
		return err
	}
	fmt.Printf("[%s] listener removed\n", name)
	return nil
}

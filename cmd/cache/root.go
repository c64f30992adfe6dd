package cache

import (
	"github.com/ValentinKolb/hotrod/cmd/util"
	"github.com/ValentinKolb/hotrod/rpc/client"
	"github.com/ValentinKolb/hotrod/rpc/marshaller"
	"github.com/spf13/cobra"
)

var (
	remoteCache *client.RemoteCache
	typedCache  *client.TypedCache[string, string]

	// CacheCommands represents the cache command group
	CacheCommands = &cobra.Command{
		Use:                "cache",
		Short:              "Perform remote cache operations",
		PersistentPreRunE:  setupCacheClient,
		PersistentPostRunE: closeCacheClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common client flags to the cache command
	util.SetupClientFlags(CacheCommands)

	// Add subcommands
	CacheCommands.AddCommand(pingCmd)
	CacheCommands.AddCommand(getCmd)
	CacheCommands.AddCommand(putCmd)
	CacheCommands.AddCommand(putIfAbsentCmd)
	CacheCommands.AddCommand(replaceCmd)
	CacheCommands.AddCommand(removeCmd)
	CacheCommands.AddCommand(containsCmd)
	CacheCommands.AddCommand(sizeCmd)
	CacheCommands.AddCommand(clearCmd)
	CacheCommands.AddCommand(perfTestCmd)
}

// setupCacheClient initializes the remote cache client
func setupCacheClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	values, err := util.GetMarshaller()
	if err != nil {
		return err
	}

	remoteCache, err = util.NewRemoteCache()
	if err != nil {
		return err
	}
	typedCache = client.NewTypedCache[string, string](remoteCache, marshaller.NewStringMarshaller(), values)
	return nil
}

func closeCacheClient(_ *cobra.Command, _ []string) error {
	if remoteCache == nil {
		return nil
	}
	return remoteCache.Close()
}

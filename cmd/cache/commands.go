package cache

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/hotrod/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Checks that a server of the cluster is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			if err := remoteCache.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("pong in %s\n", time.Since(start))
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if value, found, err := typedCache.Get(cmd.Context(), key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, found=%t, value=%s\n", key, found, value)
			}
			return nil
		},
	}
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := typedCache.Put(cmd.Context(), args[0], args[1], writeOptions()...); err != nil {
				return err
			}
			fmt.Println("put successfully")
			return nil
		},
	}
	putIfAbsentCmd = &cobra.Command{
		Use:   "putIfAbsent [key] [value]",
		Short: "Sets the value for a key if the key does not exist yet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stored, err := typedCache.PutIfAbsent(cmd.Context(), args[0], args[1], writeOptions()...)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, stored=%t\n", args[0], stored)
			return nil
		},
	}
	replaceCmd = &cobra.Command{
		Use:   "replace [key] [value]",
		Short: "Sets the value for a key if the key already exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stored, err := typedCache.Replace(cmd.Context(), args[0], args[1], writeOptions()...)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, replaced=%t\n", args[0], stored)
			return nil
		},
	}
	removeCmd = &cobra.Command{
		Use:   "remove [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := typedCache.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, removed=%t\n", args[0], removed)
			return nil
		},
	}
	containsCmd = &cobra.Command{
		Use:   "contains [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := typedCache.ContainsKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", args[0], found)
			return nil
		},
	}
	sizeCmd = &cobra.Command{
		Use:   "size",
		Short: "Prints the number of entries in the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := remoteCache.Size(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("size=%d\n", size)
			return nil
		},
	}
	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Removes all entries of the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := remoteCache.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("cleared successfully")
			return nil
		},
	}
)

func init() {
	for _, cmd := range []*cobra.Command{putCmd, putIfAbsentCmd, replaceCmd} {
		cmd.Flags().Duration("lifespan", 0, "Expire the entry after this duration (0 = never)")
		cmd.Flags().Duration("max-idle", 0, "Expire the entry when it was not accessed for this duration (0 = never)")
	}
}

func writeOptions() []client.WriteOption {
	var opts []client.WriteOption
	if d := viper.GetDuration("lifespan"); d > 0 {
		opts = append(opts, client.WithLifespan(d))
	}
	if d := viper.GetDuration("max-idle"); d > 0 {
		opts = append(opts, client.WithMaxIdle(d))
	}
	return opts
}

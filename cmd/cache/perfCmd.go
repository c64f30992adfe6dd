package cache

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/hotrod/cmd/util"
	"github.com/ValentinKolb/hotrod/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for remote cache servers",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

// benchmark is one named load pattern, prepare runs before the timer starts
type benchmark struct {
	name    string
	prepare func(keys []string)
	op      func(ctx context.Context, key string, i int) error
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "metrics"
	perfTestCmd.Flags().Bool(key, false, util.WrapString("Print the client and connection pool metrics after the run"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	if perfKeySpread < 1 {
		return fmt.Errorf("keys must be at least 1, got %d", perfKeySpread)
	}
	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	config := util.GetClientConfig()

	fmt.Println("Performance testing tool for remote cache servers")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()
	fmt.Println("starting tests...")

	small := []byte("test")
	large := make([]byte, perfLargeValueSizeKB*1024)
	fill := func(keys []string) {
		for _, k := range keys {
			if _, err := remoteCache.Put(ctx, []byte(k), small); err != nil {
				log.Printf("error preparing key %s: %v\n", k, err)
			}
		}
	}

	benchmarks := []benchmark{
		{name: "put", op: func(ctx context.Context, key string, _ int) error {
			_, err := remoteCache.Put(ctx, []byte(key), small)
			return err
		}},
		{name: "put-large", op: func(ctx context.Context, key string, _ int) error {
			_, err := remoteCache.Put(ctx, []byte(key), large)
			return err
		}},
		{name: "get", prepare: fill, op: func(ctx context.Context, key string, _ int) error {
			_, _, err := remoteCache.Get(ctx, []byte(key))
			return err
		}},
		{name: "remove", prepare: fill, op: func(ctx context.Context, key string, _ int) error {
			_, err := remoteCache.Remove(ctx, []byte(key))
			return err
		}},
		{name: "contains", prepare: fill, op: func(ctx context.Context, key string, _ int) error {
			_, err := remoteCache.ContainsKey(ctx, []byte(key))
			return err
		}},
		{name: "contains-not", op: func(ctx context.Context, key string, _ int) error {
			_, err := remoteCache.ContainsKey(ctx, []byte(key+"-not"))
			return err
		}},
		{name: "mixed", prepare: fill, op: func(ctx context.Context, key string, i int) error {
			var err error
			switch i % 4 {
			case 0:
				_, err = remoteCache.Put(ctx, []byte(key), small)
			case 1:
				_, _, err = remoteCache.Get(ctx, []byte(key))
			case 2:
				_, err = remoteCache.Remove(ctx, []byte(key))
			case 3:
				_, err = remoteCache.ContainsKey(ctx, []byte(key))
			}
			return err
		}},
	}

	results := make(map[string]testing.BenchmarkResult)
	for _, bm := range benchmarks {
		result := runBenchmark(ctx, bm)
		results[bm.name] = result
		printResult(bm.name, result)
	}

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	if viper.GetBool("metrics") {
		fmt.Println("\nClient metrics:")
		remoteCache.Metrics().WritePrometheus(os.Stdout)
		fmt.Println("\nConnection pool metrics:")
		gometrics.WriteOnce(remoteCache.PoolMetrics(), os.Stdout)
	}
	return nil
}

func runBenchmark(ctx context.Context, bm benchmark) testing.BenchmarkResult {
	return testing.Benchmark(func(b *testing.B) {
		if shouldSkip(bm.name) {
			return
		}

		keys := getKeys(bm.name)
		if bm.prepare != nil {
			bm.prepare(keys)
		}

		// cleanup
		b.Cleanup(func() {
			for _, k := range keys {
				if _, err := remoteCache.Remove(ctx, []byte(k)); err != nil {
					log.Printf("(%s) - error removing key: %v\n", bm.name, err)
				}
			}
		})

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if err := bm.op(ctx, keys[counter%len(keys)], counter); err != nil {
					log.Printf("(%s) - error performing operation: %v\n", bm.name, err)
				}
				counter++
			}
		})
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// getKeys creates the test keys of a benchmark
func getKeys(prefix string) []string {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}
	return keys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Servers", "Cache", "Intelligence", "TimeoutSec", "MaxRetries",
		"PoolMaxActive", "PoolMaxIdle", "Marshaller", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strings.Join(config.Servers, ";"),
			config.CacheName,
			string(config.Intelligence),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.MaxRetries),
			strconv.Itoa(config.Pool.MaxActive),
			strconv.Itoa(config.Pool.MaxIdle),
			viper.GetString("marshaller"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}

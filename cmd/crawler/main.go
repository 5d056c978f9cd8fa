// File: cmd/crawler/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/rsk-call-crawler/internal/config"
	"github.com/smartdevs17/rsk-call-crawler/internal/decoder"
	"github.com/smartdevs17/rsk-call-crawler/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// loadConfig loads and validates configuration, applying CLI overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if level := viper.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if viper.GetBool("debug") {
		cfg.App.Debug = true
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, utils.WrapError(utils.ErrCodeConfiguration, "Invalid configuration", err)
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "rsk-call-crawler",
	Short:        "Smart contract function call crawler",
	Long:         `Incrementally crawls blocks, decodes calls made to watched contracts and records them with a resumable cursor.`,
	Version:      AppVersion,
	SilenceUsage: true,
}

// crawlCmd crawls an explicit block range
var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl an inclusive block range",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := utils.ParseBlockNumber(viper.GetString("crawl.from"))
		if err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
		to, err := utils.ParseBlockNumber(viper.GetString("crawl.to"))
		if err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		app, err := NewApplication(ctx, cfg, appOptions{chain: true, server: viper.GetBool("crawl.serve")})
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.startServer(); err != nil {
			return err
		}

		result, err := app.crawlRange(ctx, from, to, !viper.GetBool("crawl.no-flush"))
		if err != nil {
			return fmt.Errorf("crawl failed: %w", err)
		}
		return printJSON(result)
	},
}

// resumeCmd catches up from the stored cursor
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Crawl from the stored cursor up to the confirmed head",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		app, err := NewApplication(ctx, cfg, appOptions{chain: true, server: viper.GetBool("resume.serve")})
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.startServer(); err != nil {
			return err
		}

		result, err := app.crawler.CatchUp(ctx, app.planner)
		if err != nil {
			return fmt.Errorf("resume failed: %w", err)
		}
		return printJSON(result)
	},
}

// statusCmd prints the stored cursor and counters
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the crawl cursor and store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		withHead := viper.GetBool("status.head")

		app, err := NewApplication(ctx, cfg, appOptions{chain: withHead})
		if err != nil {
			return err
		}
		defer app.Close()

		status := map[string]interface{}{
			"store": app.store.Stats(),
		}
		if withHead {
			head, err := app.reader.LatestBlockHeight(ctx)
			if err != nil {
				return err
			}
			status["chain_head"] = head
			status["blocks_behind"] = utils.BlocksBehind(head, app.store.LastCrawledBlock())
		}
		return printJSON(status)
	},
}

// serveCmd runs the status server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the status server until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		app, err := NewApplication(ctx, cfg, appOptions{chain: viper.GetBool("serve.head"), server: true})
		if err != nil {
			return err
		}
		defer app.Close()

		// another process may be crawling into the same backend
		app.server.SetReloadOnRead(true)
		if err := app.startServer(); err != nil {
			return err
		}

		<-ctx.Done()

		fmt.Println("\nReceived shutdown signal, stopping...")
		return nil
	},
}

// abiCmd groups ABI inspection commands
var abiCmd = &cobra.Command{
	Use:   "abi",
	Short: "ABI inspection commands",
}

// abiShowCmd lists the entries of the configured ABI
var abiShowCmd = &cobra.Command{
	Use:   "show [abi-file]",
	Short: "List functions and events of an ABI",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := config.Load(viper.GetString("config"))
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			path = cfg.Crawler.ABIPath
		}
		if path == "" {
			return utils.NewAppError(utils.ErrCodeConfiguration, "No ABI file given", "pass a path or set crawler.abi_path")
		}

		contractABI, err := decoder.LoadABI(path)
		if err != nil {
			return err
		}

		functions := viper.GetBool("abi.functions")
		events := viper.GetBool("abi.events")
		if !functions && !events {
			functions, events = true, true
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tSIGNATURE\tID\tREAD-ONLY")
		for _, entry := range decoder.Describe(contractABI, functions, events) {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", entry.Kind, entry.Signature, entry.Identifier, entry.ReadOnly)
		}
		return w.Flush()
	},
}

// testCmd checks node connectivity and storage
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Testing storage (%s)...\n", cfg.Storage.Type)
		fmt.Printf("Testing RPC connection to %s...\n", cfg.RPC.NodeURL)
		app, err := NewApplication(context.Background(), cfg, appOptions{chain: true})
		if err != nil {
			return err
		}
		defer app.Close()

		head, err := app.connection.GetLatestBlockNumber()
		if err != nil {
			return fmt.Errorf("failed to read latest block: %w", err)
		}
		stats := app.connection.Stats()

		fmt.Printf("Node: %s (network %d, head %d / %s)\n", stats.CurrentURL, stats.NetworkID, head, utils.FormatBlockNumber(head))
		fmt.Printf("Cursor: %d\n", app.store.LastCrawledBlock())
		fmt.Println("All connectivity tests passed!")
		return nil
	},
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("RSK Call Crawler %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("RPC Node: %s\n", cfg.RPC.NodeURL)
		fmt.Printf("Storage: %s (%s)\n", cfg.Storage.Type, cfg.Storage.ConnectionString)
		fmt.Printf("Crawl ID: %s\n", cfg.Crawler.CrawlID)
		fmt.Printf("ABI: %s\n", cfg.Crawler.ABIPath)
		fmt.Printf("Addresses: %d\n", len(cfg.Crawler.Addresses))

		return nil
	},
}

// init initializes the CLI commands
func init() {
	// Add persistent flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	crawlCmd.Flags().String("from", "", "first block to crawl (decimal or 0x hex)")
	crawlCmd.Flags().String("to", "", "last block to crawl (decimal or 0x hex)")
	crawlCmd.Flags().Bool("no-flush", false, "dry run: discard registered calls instead of persisting them")
	crawlCmd.Flags().Bool("serve", false, "run the status server while crawling")

	resumeCmd.Flags().Bool("serve", false, "run the status server while crawling")
	_ = crawlCmd.MarkFlagRequired("from")
	_ = crawlCmd.MarkFlagRequired("to")

	statusCmd.Flags().Bool("head", false, "also query the node for the chain head")

	serveCmd.Flags().Bool("head", false, "report the chain head on the status endpoint")

	abiShowCmd.Flags().Bool("functions", false, "list functions")
	abiShowCmd.Flags().Bool("events", false, "list events")

	// Bind flags to viper
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("crawl.from", crawlCmd.Flags().Lookup("from"))
	viper.BindPFlag("crawl.to", crawlCmd.Flags().Lookup("to"))
	viper.BindPFlag("crawl.no-flush", crawlCmd.Flags().Lookup("no-flush"))
	viper.BindPFlag("crawl.serve", crawlCmd.Flags().Lookup("serve"))
	viper.BindPFlag("resume.serve", resumeCmd.Flags().Lookup("serve"))
	viper.BindPFlag("status.head", statusCmd.Flags().Lookup("head"))
	viper.BindPFlag("serve.head", serveCmd.Flags().Lookup("head"))
	viper.BindPFlag("abi.functions", abiShowCmd.Flags().Lookup("functions"))
	viper.BindPFlag("abi.events", abiShowCmd.Flags().Lookup("events"))

	// Add subcommands
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(abiCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	abiCmd.AddCommand(abiShowCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pior/rrdcached"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "rrdc",
	Short:         "rrdcached command line client",
	Long:          fmt.Sprintf("rrdc (v%s)\n\nSends commands to one or more rrdcached daemons.", Version),
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of rrdc",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "rrdc v%s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringSlice("address", []string{rrdcached.DefaultAddress}, "rrdcached addresses; files are sharded across them")
	flags.Duration("timeout", 10*time.Second, "timeout of each operation")
	flags.StringSlice("create-def", nil, "definition used to create missing files (repeatable)")
	flags.Duration("step", 0, "step of created files, 0 for the daemon default")
	flags.Bool("no-auto-create", false, "do not create missing files on update")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("rrdc")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("address", "RRDC_ADDRESS", "RRDCACHED_ADDRESS")
}

func newLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, err
	}

	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.DisableStacktrace = true
	return config.Build()
}

func clientConfig(logger *zap.Logger) rrdcached.Config {
	return rrdcached.Config{
		MaxSize:           1,
		Timeout:           viper.GetDuration("timeout"),
		DefaultCreateDefs: viper.GetStringSlice("create-def"),
		DefaultStep:       viper.GetDuration("step"),
		DisableAutoCreate: viper.GetBool("no-auto-create"),
		Logger:            logger,
	}
}

func addresses() []string {
	var addrs []string
	for _, a := range viper.GetStringSlice("address") {
		// env values arrive as one comma separated string
		for _, part := range strings.Split(a, ",") {
			if part = strings.TrimSpace(part); part != "" {
				addrs = append(addrs, part)
			}
		}
	}
	return addrs
}

// withClient builds a client from the configuration and runs fn with it.
func withClient(fn func(client *rrdcached.Client) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	client, err := rrdcached.NewClient(rrdcached.NewStaticServers(addresses()...), clientConfig(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	return fn(client)
}

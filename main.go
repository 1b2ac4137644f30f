package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/carlos-burelo/cgsm-tabuladores/agent"
	"github.com/carlos-burelo/cgsm-tabuladores/config"
	"github.com/carlos-burelo/cgsm-tabuladores/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "tabuladores", "namespace used in storage")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("storage-impl", "redis", "implementation of underline storage")
	cmd.Flags().Int("lock-ttl", 30000, "lock lease ttl in milliseconds")
	cmd.Flags().Int("lock-retry-count", 3, "lock acquisition retries before giving up")
	cmd.Flags().Int("lock-retry-delay", 100, "base delay between lock retries in milliseconds")
	cmd.Flags().Int("webhook-timeout", 10000, "webhook request timeout in milliseconds")
	cmd.Flags().Int("webhook-max-retries", 3, "webhook delivery retries after the first attempt")
	cmd.Flags().Int("webhook-retry-delay", 1000, "base webhook retry delay in milliseconds")
	cmd.Flags().Int("webhook-poll-interval", 1, "webhook delivery queue poll interval in seconds")
	cmd.Flags().Int("idempotency-ttl", 24, "idempotency key ttl in hours")
	cmd.Flags().Int("idempotency-cleanup-interval", 3600, "idempotency cleanup interval in seconds")
	cmd.Flags().String("log-level", "info", "log level")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.LockTTLMillis = viper.GetInt("lock-ttl")
	c.cfg.LockRetryCount = viper.GetInt("lock-retry-count")
	c.cfg.LockRetryDelayMillis = viper.GetInt("lock-retry-delay")
	c.cfg.WebhookTimeoutMillis = viper.GetInt("webhook-timeout")
	c.cfg.WebhookMaxRetries = viper.GetInt("webhook-max-retries")
	c.cfg.WebhookRetryDelayMillis = viper.GetInt("webhook-retry-delay")
	c.cfg.WebhookPollIntervalSecs = viper.GetInt("webhook-poll-interval")
	c.cfg.IdempotencyTTLHours = viper.GetInt("idempotency-ttl")
	c.cfg.IdempotencyCleanupSecs = viper.GetInt("idempotency-cleanup-interval")
	c.cfg.LogLevel = viper.GetString("log-level")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	logger.InitLogger(c.cfg.LogLevel)
	a, err := agent.New(c.cfg.Config)
	if err != nil {
		panic(err)
	}
	err = a.Start()
	if err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return a.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "tabuladores",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

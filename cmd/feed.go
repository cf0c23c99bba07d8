package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/alejoacosta74/skinport-go/internal/common"
	"github.com/alejoacosta74/skinport-go/internal/config"
	"github.com/alejoacosta74/skinport-go/internal/dispatcher/handlers"
	"github.com/alejoacosta74/skinport-go/internal/events"
	"github.com/alejoacosta74/skinport-go/internal/kafka"
	"github.com/alejoacosta74/skinport-go/internal/metrics"
	"github.com/alejoacosta74/skinport-go/internal/redisrelay"
	"github.com/alejoacosta74/skinport-go/internal/system"
	"github.com/alejoacosta74/skinport-go/internal/ui"
	"github.com/alejoacosta74/skinport-go/pkg/skinport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 10 * time.Second

// feedCmd represents the feed command
var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Stream the real-time sale feed",
	Long: `Connect to the Skinport sale feed and print every listed and sold item.

Events can also be exported as Prometheus metrics, relayed to a Kafka topic
and published on Redis channels.`,
	Args: cobra.NoArgs,
	RunE: runFeed,
}

func init() {
	rootCmd.AddCommand(feedCmd)
	f := feedCmd.Flags()
	f.StringSlice("subscribe", []string{"730:EUR:en"}, "sale feeds to join as appid[:currency[:locale]]")
	f.String("endpoint", "", "override the feed URL")
	f.String("error-policy", "isolate", "handler failure policy (isolate, propagate)")
	f.Bool("print", true, "print feed events to stdout")
	f.Bool("metrics", false, "serve Prometheus metrics")
	f.String("metrics-addr", ":2112", "metrics listen address")
	f.Bool("pprof", false, "mount pprof handlers on the metrics server")
	f.Bool("kafka", false, "relay feed events to Kafka")
	f.StringSlice("kafka-brokers", []string{"localhost:9092"}, "Kafka brokers")
	f.String("kafka-topic", "skinport.feed", "Kafka topic")
	f.Bool("redis", false, "publish feed events on Redis")
	f.String("redis-addr", "localhost:6379", "Redis address")
	f.String("cpuprofile", "", "write a CPU profile to this file")
	f.String("memprofile", "", "write a heap profile to this file on exit")

	viper.BindPFlag("feed.subscriptions", f.Lookup("subscribe"))
	viper.BindPFlag("feed.endpoint", f.Lookup("endpoint"))
	viper.BindPFlag("feed.error_policy", f.Lookup("error-policy"))
	viper.BindPFlag("feed.print", f.Lookup("print"))
	viper.BindPFlag("metrics.enabled", f.Lookup("metrics"))
	viper.BindPFlag("metrics.addr", f.Lookup("metrics-addr"))
	viper.BindPFlag("metrics.pprof", f.Lookup("pprof"))
	viper.BindPFlag("kafka.enabled", f.Lookup("kafka"))
	viper.BindPFlag("kafka.brokers", f.Lookup("kafka-brokers"))
	viper.BindPFlag("kafka.topic", f.Lookup("kafka-topic"))
	viper.BindPFlag("redis.enabled", f.Lookup("redis"))
	viper.BindPFlag("redis.addr", f.Lookup("redis-addr"))
}

// feedComponent is a bus consumer started next to the feed connection.
type feedComponent struct {
	name string
	done <-chan struct{}
	stop func() error
}

func runFeed(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	system.FromConfig(cfg.System).Apply()

	cpuProfile, _ := cmd.Flags().GetString("cpuprofile")
	memProfile, _ := cmd.Flags().GetString("memprofile")
	profiler := system.NewProfiler(cpuProfile, memProfile)
	if err := profiler.Start(); err != nil {
		return err
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			logrus.WithError(err).Warn("Failed to write profiles")
		}
	}()

	feeds, err := cfg.Feed.SaleFeeds()
	if err != nil {
		return err
	}
	client, err := newFeedClient(cfg)
	if err != nil {
		return err
	}
	bus := client.EventBus()
	if err := registerFeedHandlers(client); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	auxCtx, stopAux := context.WithCancel(context.Background())
	defer stopAux()

	components, err := startComponents(auxCtx, cmd, cfg, client)
	if err != nil {
		return err
	}

	logrus.WithField("feeds", len(feeds)).Info("Starting sale feed")
	runErr := client.RunContext(ctx, feeds...)

	stopAux()
	for _, c := range components {
		select {
		case <-c.done:
		case <-time.After(shutdownTimeout):
			logrus.WithField("component", c.name).Warn("Component did not stop in time")
		}
		if c.stop != nil {
			if err := c.stop(); err != nil {
				logrus.WithError(err).WithField("component", c.name).Warn("Failed to stop component")
			}
		}
	}
	if eb, ok := bus.(*events.EventBus); ok {
		eb.Shutdown()
	}

	logrus.Info("Feed client shutdown")
	return runErr
}

func newFeedClient(cfg *config.Config) (*skinport.Client, error) {
	policy, err := cfg.Feed.Policy()
	if err != nil {
		return nil, err
	}

	opts := []skinport.Option{
		skinport.WithEventBus(events.NewEventBus()),
		skinport.WithBackoff(cfg.Feed.Backoff.Backoff()),
		skinport.WithConnectTimeout(cfg.Feed.ConnectTimeout),
		skinport.WithJoinTimeout(cfg.Feed.JoinTimeout),
		skinport.WithDrainTimeout(cfg.Feed.DrainTimeout),
		skinport.WithQueueSize(cfg.Feed.QueueSize),
		skinport.WithErrorPolicy(policy),
		skinport.WithREST(restOptions(cfg.REST)...),
	}
	if cfg.Feed.Endpoint != "" {
		opts = append(opts, skinport.WithEndpoint(cfg.Feed.Endpoint))
	}
	if cfg.REST.ClientID != "" {
		opts = append(opts, skinport.WithCredentials(cfg.REST.ClientID, cfg.REST.ClientSecret))
	}
	return skinport.NewClient(opts...), nil
}

func registerFeedHandlers(client *skinport.Client) error {
	var err error
	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		channel := common.ChannelSaleFeed.String()
		_, err = client.Listen(channel, handlers.NewDebugHandler(channel).Handle)
	} else {
		_, err = client.OnSaleFeed(func(_ context.Context, feed skinport.SaleFeed) error {
			logrus.WithFields(logrus.Fields{
				"event_type": feed.EventType,
				"sales":      len(feed.Sales),
			}).Debug("Sale feed event")
			return nil
		})
	}
	if err != nil {
		return err
	}

	if _, err := client.OnMaintenanceUpdated(func(_ context.Context, payload any) error {
		logrus.WithField("payload", payload).Warn("Skinport maintenance updated")
		return nil
	}); err != nil {
		return err
	}
	_, err = client.OnSteamStatusUpdated(func(_ context.Context, status skinport.SteamStatus) error {
		logrus.WithField("status", status).Info("Steam status updated")
		return nil
	})
	return err
}

// startComponents starts every enabled bus consumer. Components started
// before a failure stop when ctx is cancelled.
func startComponents(ctx context.Context, cmd *cobra.Command, cfg *config.Config, client *skinport.Client) ([]feedComponent, error) {
	bus := client.EventBus()
	var components []feedComponent

	if cfg.Feed.Print {
		printer := ui.NewFeedPrinter(bus, cmd.OutOrStdout())
		printer.Start(ctx)
		components = append(components, feedComponent{name: "printer", done: printer.Done()})
	}

	if cfg.Metrics.Enabled {
		cs, err := startMetrics(ctx, cfg.Metrics, client)
		if err != nil {
			return components, err
		}
		components = append(components, cs...)
	}

	if cfg.Kafka.Enabled {
		c, err := startKafka(ctx, cfg.Kafka, bus)
		if err != nil {
			return components, err
		}
		components = append(components, c)
	}

	if cfg.Redis.Enabled {
		c, err := startRedis(ctx, cfg.Redis, bus)
		if err != nil {
			return components, err
		}
		components = append(components, c)
	}
	return components, nil
}

func startMetrics(ctx context.Context, cfg config.MetricsConfig, client *skinport.Client) ([]feedComponent, error) {
	registry := prometheus.NewRegistry()

	collector, err := metrics.NewSystemCollector(registry)
	if err != nil {
		return nil, err
	}
	if err := collector.Start(ctx, cfg.SummaryInterval); err != nil {
		return nil, err
	}

	recorder := metrics.NewMetricsRecorder(client.EventBus(), registry, metrics.WithSummaryInterval(cfg.SummaryInterval))
	if err := recorder.Start(ctx); err != nil {
		return nil, err
	}

	opts := []metrics.ServerOption{
		metrics.WithHealth(func() (bool, string) {
			state := client.State()
			return state.Active(), state.String()
		}),
	}
	if cfg.Pprof {
		opts = append(opts, metrics.WithProfiler())
	}
	server := metrics.NewMetricsServer(cfg.Addr, registry, registry, opts...)
	go func() {
		if err := server.Start(ctx); err != nil {
			logrus.WithError(err).Error("Metrics server stopped")
		}
	}()

	return []feedComponent{
		{name: "system_collector", done: collector.Done()},
		{name: "metrics_recorder", done: recorder.Done()},
		{name: "metrics_server", done: server.Done()},
	}, nil
}

func startKafka(ctx context.Context, cfg config.KafkaConfig, bus events.Bus) (feedComponent, error) {
	if err := kafka.CheckClusterAvailability(cfg.Brokers, 5*time.Second); err != nil {
		return feedComponent{}, fmt.Errorf("kafka cluster unavailable: %w", err)
	}

	pool, err := kafka.NewProducerPool(kafka.ProducerConfig{
		BrokerList: cfg.Brokers,
		PoolSize:   cfg.PoolSize,
		ClientID:   cfg.ClientID,
	})
	if err != nil {
		return feedComponent{}, err
	}
	if err := pool.Start(); err != nil {
		return feedComponent{}, err
	}

	relay, err := kafka.NewRelay(bus, pool, kafka.RelayConfig{
		Topic:     cfg.Topic,
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
	})
	if err != nil {
		pool.Stop()
		return feedComponent{}, err
	}
	if err := relay.Start(ctx); err != nil {
		pool.Stop()
		return feedComponent{}, err
	}
	return feedComponent{name: "kafka_relay", done: relay.Done(), stop: pool.Stop}, nil
}

func startRedis(ctx context.Context, cfg config.RedisConfig, bus events.Bus) (feedComponent, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return feedComponent{}, fmt.Errorf("redis unavailable at %s: %w", cfg.Addr, err)
	}

	relay, err := redisrelay.NewRelay(bus, rdb, redisrelay.Config{Prefix: cfg.Prefix})
	if err != nil {
		rdb.Close()
		return feedComponent{}, err
	}
	if err := relay.Start(ctx); err != nil {
		rdb.Close()
		return feedComponent{}, err
	}
	return feedComponent{name: "redis_relay", done: relay.Done(), stop: rdb.Close}, nil
}

// Command beacond tracks proximity beacons from a serial scanner, an MQTT
// gateway or a recorded fixture, and serves the live state over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/banshee-data/proximity.report/internal/api"
	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/config"
	"github.com/banshee-data/proximity.report/internal/db"
	"github.com/banshee-data/proximity.report/internal/feed"
	"github.com/banshee-data/proximity.report/internal/monitoring"
	"github.com/banshee-data/proximity.report/internal/mqtt"
	"github.com/banshee-data/proximity.report/internal/serialmux"
	"github.com/banshee-data/proximity.report/internal/sink"
	"github.com/banshee-data/proximity.report/internal/timeutil"
	"github.com/banshee-data/proximity.report/internal/tracker"
	"github.com/banshee-data/proximity.report/internal/version"
)

var (
	configPath      = flag.String("config", "", "Path to tuning JSON (defaults built in)")
	dbPath          = flag.String("db", "proximity.db", "Path to sqlite database")
	listen          = flag.String("listen", ":8080", "HTTP listen address")
	port            = flag.String("port", "", "Scanner serial port, e.g. /dev/ttyACM0 (empty disables)")
	baud            = flag.Int("baud", serialmux.DefaultBaudRate, "Scanner baud rate")
	devMode         = flag.Bool("dev", false, "Replay -fixture instead of reading a scanner")
	fixture         = flag.String("fixture", "fixtures.txt", "Recorded scanner output replayed in dev mode")
	replayInterval  = flag.Duration("replay-interval", time.Second, "Delay between replayed fixture lines")
	mqttBroker      = flag.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883 (empty disables)")
	mqttTopicPrefix = flag.String("mqtt-topic-prefix", "proximity", "MQTT topic prefix for feeds and events")
	mqttClientID    = flag.String("mqtt-client-id", "beacond", "MQTT client id")
	redisAddr       = flag.String("redis-addr", "", "Redis address for the event stream (empty disables)")
	redisStream     = flag.String("redis-stream", "proximity:events", "Redis stream key")
	logLevel        = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat       = flag.String("log-format", "json", "Log format: json or console")
	showVersion     = flag.Bool("version", false, "Print version and exit")
)

type options struct {
	ConfigPath      string
	DBPath          string
	Listen          string
	Port            string
	Baud            int
	Dev             bool
	Fixture         string
	ReplayInterval  time.Duration
	MQTTBroker      string
	MQTTTopicPrefix string
	MQTTClientID    string
	RedisAddr       string
	RedisStream     string

	// onListen, if set, is called with the bound HTTP address.
	onListen func(net.Addr)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("beacond", version.String())
		return
	}

	logger, err := monitoring.NewLogger(*logLevel, *logFormat)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	monitoring.UseZap(logger)

	monitoring.Logf("beacond %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = run(ctx, options{
		ConfigPath:      *configPath,
		DBPath:          *dbPath,
		Listen:          *listen,
		Port:            *port,
		Baud:            *baud,
		Dev:             *devMode,
		Fixture:         *fixture,
		ReplayInterval:  *replayInterval,
		MQTTBroker:      *mqttBroker,
		MQTTTopicPrefix: *mqttTopicPrefix,
		MQTTClientID:    *mqttClientID,
		RedisAddr:       *redisAddr,
		RedisStream:     *redisStream,
	})
	if err != nil {
		logger.Sugar().Fatalf("beacond: %v", err)
	}
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// run wires the tracker, its feeds and sinks, and the HTTP server, and blocks
// until ctx is done.
func run(ctx context.Context, o options) error {
	if o.Listen == "" {
		return errors.New("listen address is required")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tuning, err := loadTuning(o.ConfigPath)
	if err != nil {
		return err
	}
	reg, err := beacon.NewRegistry(beacon.ConfigFromTuning(tuning))
	if err != nil {
		return err
	}

	store, err := db.NewDB(o.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	tr := tracker.New(reg, timeutil.RealClock{}, sink.Log{})
	defer tr.Close()

	targets, err := store.Targets(ctx)
	if err != nil {
		return fmt.Errorf("failed to load target catalog: %w", err)
	}
	for id, t := range targets {
		if err := tr.AssignTarget(id, t); err != nil {
			monitoring.Warnf("skipping stored target %s: %v", id, err)
		}
	}
	monitoring.Logf("loaded %d beacon targets from %s", len(targets), store.Path())

	// Everything past the log runs on the queue goroutine, off the tracker lock.
	var published sink.Multi
	var mqttClient *mqtt.Client
	if o.MQTTBroker != "" {
		mqttClient, err = mqtt.NewClient(mqtt.Config{
			Broker:         o.MQTTBroker,
			ClientID:       o.MQTTClientID,
			ConnectTimeout: 10 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to mqtt broker: %w", err)
		}
		defer mqttClient.Disconnect()
		published = append(published, sink.MQTT{Pub: mqttClient, Prefix: o.MQTTTopicPrefix, QoS: 1})
	}
	if o.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: o.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", o.RedisAddr, err)
		}
		published = append(published, sink.Redis{Client: rdb, Stream: o.RedisStream, MaxLen: 10000})
	}
	queue := sink.NewQueue(sink.Multi{
		sink.Store{DB: store},
		sink.CatalogFilter{Next: published, Catalog: tr, AcknowledgeAll: tuning.GetAcknowledgeAllBeacons()},
	}, tuning.GetEventQueueSize())
	tr.AddSink(queue)
	defer func() {
		tr.Close()
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := queue.Close(drainCtx); err != nil {
			monitoring.Warnf("event queue did not drain: %v", err)
		}
	}()

	var wg sync.WaitGroup

	var scanner serialmux.SerialMuxInterface = serialmux.NewDisabledSerialMux()
	if o.Port != "" && !o.Dev {
		m, err := serialmux.NewRealSerialMux(o.Port, serialmux.PortOptions{BaudRate: o.Baud})
		if err != nil {
			return err
		}
		m.SetScanOptions(serialmux.DefaultScanOptions())
		scanner = m
		if err := scanner.Initialize(); err != nil {
			scanner.Close()
			return fmt.Errorf("failed to initialize scanner: %w", err)
		}
		monitoring.Logf("initialized scanner on %s", o.Port)

		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := scanner.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Warnf("scanner monitor: %v", err)
			}
			monitoring.Logf("monitor routine terminated")
		}()
		go func() {
			defer wg.Done()
			if err := feed.Serial(ctx, scanner, tr); err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Warnf("serial feed: %v", err)
			}
		}()
	}
	defer scanner.Close()

	if o.Dev {
		f, err := os.Open(o.Fixture)
		if err != nil {
			return fmt.Errorf("failed to open fixtures file: %w", err)
		}
		defer f.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feed.Replay(ctx, timeutil.RealClock{}, f, o.ReplayInterval, tr); err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Warnf("replay feed: %v", err)
			}
			monitoring.Logf("replay of %s finished", o.Fixture)
		}()
	}

	if mqttClient != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feed.MQTT(ctx, mqttClient, o.MQTTTopicPrefix, tr); err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Warnf("mqtt feed: %v", err)
			}
		}()
	}

	srv := api.NewServer(tr, store, nil)
	mux := srv.ServeMux()
	srv.AttachAdminRoutes(mux)
	scanner.AttachAdminRoutes(mux)
	if err := store.AttachAdminRoutes(mux); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", o.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", o.Listen, err)
	}
	if o.onListen != nil {
		o.onListen(ln.Addr())
	}
	server := &http.Server{Handler: api.LoggingMiddleware(mux)}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		monitoring.Logf("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Warnf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				monitoring.Warnf("HTTP server force close error: %v", err)
			}
		}
	}()

	monitoring.Logf("listening on %s", ln.Addr())
	serveErr := server.Serve(ln)
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}
	if serveErr != nil {
		monitoring.Warnf("HTTP server: %v", serveErr)
		cancel()
	}

	wg.Wait()
	monitoring.Logf("graceful shutdown complete")
	return serveErr
}

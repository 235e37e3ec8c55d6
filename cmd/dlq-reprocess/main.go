// Команда dlq-reprocess возвращает события из DLQ в основной топик.
// По умолчанию работает вхолостую и только печатает кандидатов.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/app"
	"github.com/vladislavdragonenkov/backoffice/internal/version"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

func (c config) mode() string {
	if c.execute {
		return "execute"
	}
	return "dry-run"
}

func (c config) validate() error {
	switch {
	case len(c.brokers) == 0:
		return errors.New("kafka brokers are required (-brokers or BACKOFFICE_KAFKA_BROKERS)")
	case strings.TrimSpace(c.sourceTopic) == "":
		return errors.New("source-topic is required")
	case strings.TrimSpace(c.targetTopic) == "":
		return errors.New("target-topic is required")
	case c.sourceTopic == c.targetTopic:
		return errors.New("source-topic and target-topic must differ")
	case c.limit <= 0:
		return errors.New("limit must be > 0")
	case c.idleTimeout <= 0:
		return errors.New("idle-timeout must be > 0")
	}
	return nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	_ = godotenv.Load()
	cfg, err := readConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

// readConfig берёт брокеры и топики из окружения сервиса, флаги их перекрывают.
func readConfig(args []string, lookup app.EnvLookup) (config, error) {
	env, _ := app.ConfigFromEnv(lookup)

	var (
		brokers string
		cfg     config
	)
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokers, "brokers", env.KafkaBrokers, "comma-separated Kafka brokers (fallback: BACKOFFICE_KAFKA_BROKERS)")
	fs.StringVar(&cfg.sourceTopic, "source-topic", env.KafkaDLQTopic, "dead letter topic to read")
	fs.StringVar(&cfg.targetTopic, "target-topic", env.KafkaTopic, "topic to replay events into")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max messages to scan across all partitions")
	fs.BoolVar(&cfg.execute, "execute", false, "publish replayed events; without it only candidates are printed")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "start each partition at the latest messages instead of the oldest")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this long without messages")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.brokers = splitBrokers(brokers)
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, part := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(part); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	logger := log.WithFields(version.Fields()).WithFields(log.Fields{
		"component":    "dlq-reprocess",
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"mode":         cfg.mode(),
	})
	logger.WithFields(log.Fields{"limit": cfg.limit, "from_newest": cfg.fromNewest}).Info("starting dlq replay")

	sess, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	r := &replayer{
		cfg:      cfg,
		offsets:  sess.offsets,
		source:   sess.source,
		producer: sess.producer,
		logger:   logger,
		now:      time.Now,
	}
	total, err := r.Run(ctx)
	logger.WithFields(total.fields()).Info("dlq replay finished")
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

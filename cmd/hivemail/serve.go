package main

import (
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"hivemail/internal/bus"
	buskafka "hivemail/internal/bus/kafka"
	"hivemail/internal/config"
	"hivemail/internal/consumer"
	"hivemail/internal/credentials"
	"hivemail/internal/deadletter"
	dlfile "hivemail/internal/deadletter/file"
	dls3 "hivemail/internal/deadletter/s3"
	"hivemail/internal/mail"
	"hivemail/internal/metrics"
	"hivemail/internal/pipeline"
	"hivemail/internal/producer"
	recordfile "hivemail/internal/record/file"
	"hivemail/internal/stream"
	"hivemail/internal/summarize"
	summaryfile "hivemail/internal/summary/file"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion and summarization pipeline",
		RunE:  runServe,
	}
	cmd.Flags().String("config", "hivemail.json", "config file path")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if errors.Is(err, config.ErrNotFound) {
		logger.Warn("config file missing, using defaults", "path", path)
		cfg = config.Default()
		err = nil
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Change log and stores.
	changes := stream.NewLog(stream.Config{
		Partitions: cfg.Stream.Partitions,
		Retention:  cfg.Stream.Retention,
		Logger:     logger,
	})
	records, err := recordfile.Open(recordfile.Config{
		Dir:     filepath.Join(cfg.DataDir, "records"),
		Changes: changes,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer records.Close()
	summaries, err := summaryfile.Open(summaryfile.Config{
		Dir:    filepath.Join(cfg.DataDir, "summaries"),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer summaries.Close()

	// Credentials.
	var creds credentials.Provider
	if cfg.CredentialsDir != "" {
		creds = credentials.Dir{Path: cfg.CredentialsDir}
	} else {
		creds = credentials.Env{Prefix: "HIVEMAIL"}
	}

	// Mail source.
	var source mail.Source
	var dirSource *mail.DirSource
	switch cfg.Source.Kind {
	case config.SourceHTTP:
		source, err = mail.NewHTTPSource(mail.HTTPSourceConfig{
			BaseURL:     cfg.Source.BaseURL,
			Platform:    cfg.Source.Platform,
			Username:    cfg.Source.Username,
			TokenSecret: cfg.Source.TokenSecret,
			Credentials: creds,
			Logger:      logger,
		})
	case config.SourceDir:
		dirSource, err = mail.NewDirSource(mail.DirSourceConfig{
			Dir:    cfg.Source.Dir,
			Logger: logger,
		})
		source = dirSource
	}
	if err != nil {
		return err
	}

	// Event bus.
	var publisher bus.Publisher = bus.NewLogPublisher(logger)
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPub, err := buskafka.New(buskafka.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			TLS:     cfg.Kafka.TLS,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		defer kafkaPub.Close()
		publisher = kafkaPub
	}

	// Dead-letter sink.
	var deadLetters deadletter.Sink
	if cfg.DeadLetter.Bucket != "" {
		deadLetters, err = dls3.New(ctx, dls3.Config{
			Bucket: cfg.DeadLetter.Bucket,
			Prefix: cfg.DeadLetter.Prefix,
			Region: cfg.DeadLetter.Region,
			Logger: logger,
		})
	} else {
		deadLetters, err = dlfile.New(dlfile.Config{
			Path:   filepath.Join(cfg.DataDir, "deadletter.jsonl"),
			Logger: logger,
		})
	}
	if err != nil {
		return err
	}

	// Inference client.
	summarizer, err := summarize.NewClient(summarize.ClientConfig{
		Endpoint:      cfg.Inference.Endpoint,
		ModelID:       cfg.Inference.ModelID,
		InvokeTimeout: cfg.Inference.InvokeTimeout.Std(),
		RatePerSecond: cfg.Inference.RatePerSecond,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	m := metrics.New()

	// Producer and consumer.
	watermarks, err := producer.NewFileWatermark(filepath.Join(cfg.DataDir, "watermark.json"))
	if err != nil {
		return err
	}
	prod, err := producer.New(producer.Config{
		Source:     source,
		Records:    records,
		Watermarks: watermarks,
		Bus:        publisher,
		Metrics:    m,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	cons, err := consumer.New(consumer.Config{
		Stream:       changes,
		Start:        stream.StartLatest,
		Summarizer:   summarizer,
		Summaries:    summaries,
		DeadLetters:  deadLetters,
		MaxBatchSize: cfg.Consumer.MaxBatchSize,
		MaxRetries:   cfg.Consumer.MaxRetries,
		Backoff:      cfg.Consumer.Backoff.Std(),
		Metrics:      m,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	pipeCfg := pipeline.Config{
		Schedule:    cfg.Schedule,
		Producer:    prod,
		Consumer:    cons,
		MetricsAddr: cfg.MetricsAddr,
		Metrics:     m,
		Logger:      logger,
	}
	if dirSource != nil {
		pipeCfg.Arrivals = dirSource.Arrivals()
		pipeCfg.Watch = dirSource.Watch
	}
	pipe, err := pipeline.New(pipeCfg)
	if err != nil {
		return err
	}

	logger.Info("hivemail starting", "version", version, "source", cfg.Source.Kind)
	return pipe.Run(ctx)
}

func newInitConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			if _, err := config.Load(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	}
	cmd.Flags().String("config", "hivemail.json", "config file path")
	return cmd
}

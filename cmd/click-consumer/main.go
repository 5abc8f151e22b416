package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"shortly/internal/biz"
	"shortly/internal/conf"
	"shortly/internal/data"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"

	_ "go.uber.org/automaxprocs"
)

var (
	// Name is the name of the compiled software.
	Name = "shortly-click-consumer"
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()
	logger := log.With(log.NewStdLogger(os.Stdout),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.id", id,
		"service.name", Name,
	)
	helper := log.NewHelper(logger)

	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	d, cleanup, err := data.NewData(bc.Data, logger)
	if err != nil {
		helper.Fatalf("setting up data resources: %v", err)
	}
	defer cleanup()

	aggregator := biz.NewClickAggregator(
		data.NewClickEventSource(d, bc.Consumer, logger),
		data.NewClickAggregateRepo(d, logger),
		biz.NewCountryResolver(),
		bc.Consumer,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := aggregator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		helper.Fatalf("click aggregator stopped: %v", err)
	}
	helper.Info("click aggregator shut down")
}

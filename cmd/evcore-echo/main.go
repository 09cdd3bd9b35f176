// evcore-echo 是基于 evcore 的 echo/聊天服务。
//
//	evcore-echo -config evcore.yaml
//
// 所有配置项也可以用环境变量覆盖，例如 EVCORE_LISTEN_ADDRESS=:4000。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/legamerdc/evcore"
	"github.com/legamerdc/evcore/config"
	"github.com/legamerdc/evcore/poller"
	"github.com/legamerdc/evcore/sched"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, log); err != nil {
		log.Error("server failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pc := cfg.Poller
	pc.Logger = log
	p, err := poller.New(pc)
	if err != nil {
		return err
	}
	pool := sched.New(sched.WithLogger(log))

	core := cfg.Core
	core.Logger = log
	core.Registerer = reg
	srv, err := evcore.New(core, p, pool)
	if err != nil {
		return err
	}

	a := newApp(p, cfg.Listen, reg, log)
	if _, err := srv.Listen(evcore.ListenConfig{
		Address: cfg.Listen.Address,
		OnOpen:  a.open,
	}); err != nil {
		return err
	}
	_, err = srv.RunEvery(30*time.Second, 0, func() {
		log.Info("stats",
			zap.Int("connections", srv.Count(echoService)),
			zap.Uint64("tasks", pool.Executed()),
			zap.Uint64("panics", pool.Panics()))
	}, nil)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		hs := &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("serving metrics", zap.String("address", cfg.Metrics.Address))
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}
	return g.Wait()
}

package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tx-tour/server/internal/backend"
	"tx-tour/server/internal/domain"
	"tx-tour/server/internal/metrics"
	"tx-tour/server/internal/mockapi"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions 是 serve 命令的 flag，非零值覆盖配置文件。
type ServeOptions struct {
	*RootOptions
	Port  int
	Seed  string
	Delay time.Duration
}

// NewServeCommand 启动模拟后端，ctx 取消后优雅退出。
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mock transactions backend",
		Long: `Run the mock transactions backend.

Serves the REST collection under /api/transactions, the change feed under
/api/events and /api/events/stream, plus /healthz and /metrics.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = opts.Port
			}
			if opts.Seed != "" {
				cfg.Backend.Seed = opts.Seed
			}
			if cmd.Flags().Changed("delay") {
				cfg.Backend.Delay = opts.Delay
			}
			return runServe(cmd.Context(), opts.RootOptions)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 8080, "listen port (overrides config)")
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "seed JSON file (overrides config)")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 0, "simulated latency (overrides config)")
	return cmd
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg := opts.cfg
	logger := opts.logger

	seed, err := domain.LoadSeed(cfg.Backend.Seed)
	if err != nil {
		return usageErr("load seed", err)
	}

	var store backend.Store
	if driver := cfg.Backend.Persistence.Driver; driver != "" {
		sqlStore, err := backend.NewSQLStore(ctx, driver, cfg.Backend.Persistence.DSN, cfg.Backend.FirstID, seed)
		if err != nil {
			return failure("open store", err)
		}
		defer sqlStore.Close()
		store = sqlStore
	} else {
		store = backend.NewInMemoryStore(cfg.Backend.FirstID, seed)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	api := mockapi.NewServer(store, mockapi.Options{
		Delay:          cfg.Backend.Delay,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
		Logger:         logger,
	})
	defer api.Close()

	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return failure("listen", err)
	}
	srv := &http.Server{
		Handler:      api.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.WithFields(logrus.Fields{
		"addr":     ln.Addr().String(),
		"records":  len(seed),
		"driver":   cfg.Backend.Persistence.Driver,
		"first_id": cfg.Backend.FirstID,
	}).Info("[Serve] mock backend listening")
	if opts.onListen != nil {
		opts.onListen(ln.Addr().String())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return failure("serve", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("[Serve] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return failure("shutdown", err)
	}
	return nil
}

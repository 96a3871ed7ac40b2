package main

import (
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"graph-rpc/codec"
	"graph-rpc/internal/demo"
	"graph-rpc/middleware"
	"graph-rpc/registry"
	"graph-rpc/server"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo Arith and Orders services",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				a.cfg.Server.Listen = listen
			}
			reg, err := a.registry()
			if err != nil {
				return err
			}
			dir, err := a.directory()
			if err != nil {
				return err
			}
			defer dir.Close()

			jsonCfg, err := a.cfg.JSON.Codec()
			if err != nil {
				return err
			}
			sc := a.cfg.Server
			svr := server.NewServer(reg,
				server.WithLogger(a.logger),
				server.WithCodecOptions(codec.WithJSONConfig(jsonCfg)),
				server.WithCompressThreshold(sc.CompressThreshold),
				server.WithRegistration(a.cfg.Registry.TTL, sc.Weight, sc.Version),
			)
			svr.Use(middleware.LoggingMiddleware(a.logger))
			if sc.RateLimit > 0 {
				svr.Use(middleware.RateLimitMiddleware(sc.RateLimit, sc.RateBurst))
			}
			if sc.RequestTimeout > 0 {
				svr.Use(middleware.TimeoutMiddleware(sc.RequestTimeout))
			}
			if err := svr.Register(&demo.Arith{}); err != nil {
				return err
			}
			if err := svr.Register(demo.NewOrders()); err != nil {
				return err
			}

			l, err := net.Listen("tcp", sc.Listen)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			served := make(chan error, 1)
			go func() { served <- svr.ServeListener(l, sc.Advertise, dir) }()
			fmt.Fprintf(cmd.OutOrStdout(), "serving on %s (schema %s)\n", l.Addr(), reg.FingerprintHex())

			select {
			case err := <-served:
				return err
			case <-ctx.Done():
			}
			if err := svr.Shutdown(sc.ShutdownTimeout); err != nil {
				return err
			}
			return <-served
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (overrides server.listen)")
	return cmd
}

// directory opens the service registry named by the config.
func (a *app) directory() (registry.Registry, error) {
	rc := a.cfg.Registry
	switch rc.Type {
	case "memory":
		return registry.NewMemoryRegistry(), nil
	case "etcd":
		r, err := registry.NewEtcdRegistry(rc.Endpoints,
			registry.WithDialTimeout(rc.DialTimeout),
			registry.WithEtcdLogger(a.logger))
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, errors.New("unknown registry type " + rc.Type)
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"graph-rpc/client"
	"graph-rpc/codec"
	"graph-rpc/loadbalance"
	"graph-rpc/message"
	"graph-rpc/middleware"
	"graph-rpc/registry"
	"graph-rpc/schema"
)

func newCallCmd(a *app) *cobra.Command {
	var argsType, replyType, addr string

	cmd := &cobra.Command{
		Use:   "call <Service.Method> <json-args>",
		Short: "Call a remote method with JSON arguments and print the JSON reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			serviceMethod := args[0]
			service, _, ok := message.SplitServiceMethod(serviceMethod)
			if !ok {
				return fmt.Errorf("invalid method %q, want Service.Method", serviceMethod)
			}
			reg, err := a.registry()
			if err != nil {
				return err
			}
			jsonCfg, err := a.cfg.JSON.Codec()
			if err != nil {
				return err
			}

			in, err := newEntity(reg, argsType)
			if err != nil {
				return err
			}
			if err := codec.NewJSONCodec(reg, jsonCfg).Decode([]byte(args[1]), in); err != nil {
				return fmt.Errorf("parse arguments: %w", err)
			}
			out, err := newEntity(reg, replyType)
			if err != nil {
				return err
			}

			var dir registry.Registry
			if addr != "" {
				// Skip discovery: a one-entry directory without a fingerprint.
				mem := registry.NewMemoryRegistry()
				if err := mem.Register(cmd.Context(), service, registry.ServiceInstance{Addr: addr}, 0); err != nil {
					return err
				}
				dir = mem
			} else if dir, err = a.directory(); err != nil {
				return err
			}
			defer dir.Close()

			cc := a.cfg.Client
			bal, err := loadbalance.New(cc.Balancer)
			if err != nil {
				return err
			}
			cli := client.NewClient(reg, dir, bal,
				client.WithCodec(cc.Codec),
				client.WithCodecOptions(codec.WithJSONConfig(jsonCfg)),
				client.WithPoolSize(cc.PoolSize),
				client.WithCompressThreshold(cc.CompressThreshold),
				client.WithLogger(a.logger),
				client.WithMiddleware(
					middleware.LoggingMiddleware(a.logger),
					middleware.RetryMiddleware(cc.Retries, cc.RetryDelay, a.logger),
				),
			)
			defer cli.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cc.Timeout)
			defer cancel()
			if err := cli.Call(ctx, serviceMethod, in, out); err != nil {
				return err
			}

			pretty := jsonCfg
			pretty.Indent = "  "
			data, err := codec.NewJSONCodec(reg, pretty).Encode(out)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&argsType, "args", "demo.Args", "entity type of the arguments")
	cmd.Flags().StringVar(&replyType, "reply", "demo.Reply", "entity type of the reply")
	cmd.Flags().StringVar(&addr, "addr", "", "call this address directly instead of discovering the service")
	return cmd
}

// newEntity returns a pointer to a fresh value of the named entity.
func newEntity(reg *schema.Registry, name string) (any, error) {
	e, ok := reg.EntityByName(name)
	if !ok {
		return nil, fmt.Errorf("unknown entity %q", name)
	}
	holder, _ := e.New()
	return holder.Interface(), nil
}

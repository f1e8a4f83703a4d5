/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */


package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/carverauto/registrar/pkg/client"
	"github.com/carverauto/registrar/pkg/models"
	"github.com/carverauto/registrar/pkg/registry"
)

var errBadMetadata = errors.New("metadata must be key=value")

func newRegisterCommand(env *cliEnv) *cobra.Command {
	var (
		req       models.RegisterRequest
		metadata  []string
		keepalive bool
		interval  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a component and print its id and token",
		Long: `Register a component and print the registration as JSON.

With --keepalive the command keeps the registration alive with heartbeats
until interrupted, then unregisters it.

Examples:
  registrarctl register --name cache --type kv --endpoint http://10.0.0.4:9000 -c kv -c ttl
  registrarctl register --name worker --type job --endpoint http://w:8080 --keepalive --interval 15s`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			md, err := parseMetadata(metadata)
			if err != nil {
				return err
			}

			req.Metadata = md

			c := env.client(client.WithHeartbeatInterval(interval))

			ctx := cmd.Context()
			if keepalive {
				var stop context.CancelFunc

				ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
			}

			resp, err := c.Register(ctx, &req)
			if err != nil {
				return err
			}

			if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
				return err
			}

			if !keepalive {
				return c.Close()
			}

			<-ctx.Done()

			unregisterCtx, cancel := context.WithTimeout(context.Background(), env.viper.GetDuration("timeout"))
			defer cancel()

			return c.Unregister(unregisterCtx)
		},
	}

	cmd.Flags().StringVar(&req.ComponentID, "id", "", "component id (generated when empty)")
	cmd.Flags().StringVar(&req.Name, "name", "", "component name")
	cmd.Flags().StringVar(&req.ComponentType, "type", "", "component type")
	cmd.Flags().StringVar(&req.Endpoint, "endpoint", "", "address other components use to reach it")
	cmd.Flags().StringVar(&req.Version, "version", "", "component version")
	cmd.Flags().StringArrayVarP(&req.Capabilities, "capability", "c", nil, "capability (repeatable)")
	cmd.Flags().StringArrayVarP(&metadata, "metadata", "m", nil, "metadata key=value (repeatable)")
	cmd.Flags().BoolVar(&keepalive, "keepalive", false, "heartbeat until interrupted, then unregister")
	cmd.Flags().DurationVar(&interval, "interval", client.DefaultHeartbeatInterval, "heartbeat interval with --keepalive")

	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("endpoint")

	return cmd
}

func newHeartbeatCommand(env *cliEnv) *cobra.Command {
	var (
		id, tok string
		healthy bool
	)

	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Send one heartbeat for a registered component",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := env.client(
				client.WithCredentials(id, tok),
				client.WithHeartbeatStatus(func() map[string]interface{} {
					return map[string]interface{}{"healthy": healthy}
				}),
			)

			if err := c.Heartbeat(cmd.Context()); err != nil {
				return err
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "heartbeat recorded for %s\n", id)

			return err
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "component id")
	cmd.Flags().StringVar(&tok, "token", "", "registration token")
	cmd.Flags().BoolVar(&healthy, "healthy", true, "reported health")

	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func newUnregisterCommand(env *cliEnv) *cobra.Command {
	var id, tok string

	cmd := &cobra.Command{
		Use:   "unregister",
		Short: "Remove a component registration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := env.client(client.WithCredentials(id, tok)).Unregister(cmd.Context()); err != nil {
				return err
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "unregistered %s\n", id)

			return err
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "component id")
	cmd.Flags().StringVar(&tok, "token", "", "registration token")

	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func newQueryCommand(env *cliEnv) *cobra.Command {
	var filter registry.Filter

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List components matching a capability, type or health filter",
		Long: `List components as JSON. Filters combine with AND; no filter lists everything.

Examples:
  registrarctl query --capability kv
  registrarctl query --type database --healthy-only
  registrarctl query | jq '.[].endpoint'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			views, err := env.client().FindServices(cmd.Context(), filter)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), views)
		},
	}

	cmd.Flags().StringVar(&filter.Capability, "capability", "", "required capability")
	cmd.Flags().StringVar(&filter.ComponentType, "type", "", "required component type")
	cmd.Flags().BoolVar(&filter.HealthyOnly, "healthy-only", false, "only healthy components")

	return cmd
}

func newAgentsCommand(env *cliEnv) *cobra.Command {
	var (
		capability  string
		healthyOnly bool
	)

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List registered agents, optionally by capability",
		RunE: func(cmd *cobra.Command, _ []string) error {
			views, err := env.client().FindAgents(cmd.Context(), capability, healthyOnly)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), views)
		},
	}

	cmd.Flags().StringVar(&capability, "capability", "", "required capability")
	cmd.Flags().BoolVar(&healthyOnly, "healthy-only", false, "only healthy agents")

	return cmd
}

func newGetCommand(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "get <component-id>",
		Short: "Show one component",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := env.client().GetService(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), view)
		},
	}
}

func newHealthCommand(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show the registrar's own health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			health, err := env.client().Health(cmd.Context())
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), health)
		},
	}
}

func newWatchCommand(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream lifecycle events until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()

			return env.client().WatchEvents(ctx, func(e *models.ComponentEvent) {
				_, _ = fmt.Fprintf(out, "%s %-14s %s healthy=%t\n",
					e.Timestamp.Format(time.RFC3339), e.Type, e.ComponentID, e.Healthy)
			})
		},
	}
}

func parseMetadata(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	md := make(map[string]interface{}, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", errBadMetadata, pair)
		}

		md[key] = value
	}

	return md, nil
}

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


// Package cmd implements registrarctl, a command line client for a running
// registrar.
package cmd

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/carverauto/registrar/pkg/client"
	"github.com/carverauto/registrar/pkg/lifecycle"
	"github.com/carverauto/registrar/pkg/logger"
	"github.com/carverauto/registrar/pkg/version"
)

const defaultServer = "http://localhost:8001"

// NewRootCommand builds the registrarctl command tree.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("REGISTRAR")
	v.AutomaticEnv()
	v.SetDefault("server", defaultServer)
	v.SetDefault("timeout", 10*time.Second)

	root := &cobra.Command{
		Use:          "registrarctl",
		Short:        "Register, query and watch components on a registrar",
		Version:      version.GetFullVersion(),
		SilenceUsage: true,
	}

	root.PersistentFlags().String("server", defaultServer, "registrar base URL (env REGISTRAR_SERVER)")
	root.PersistentFlags().Duration("timeout", 10*time.Second, "request timeout")
	root.PersistentFlags().Bool("debug", false, "log client activity to stderr")

	_ = v.BindPFlag("server", root.PersistentFlags().Lookup("server"))
	_ = v.BindPFlag("timeout", root.PersistentFlags().Lookup("timeout"))
	_ = v.BindPFlag("debug", root.PersistentFlags().Lookup("debug"))

	env := &cliEnv{viper: v}

	root.AddCommand(
		newRegisterCommand(env),
		newHeartbeatCommand(env),
		newUnregisterCommand(env),
		newQueryCommand(env),
		newGetCommand(env),
		newAgentsCommand(env),
		newHealthCommand(env),
		newWatchCommand(env),
	)

	return root
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCommand().ExecuteContext(context.Background())
}

type cliEnv struct {
	viper *viper.Viper
}

func (e *cliEnv) logger() logger.Logger {
	cfg := &logger.Config{Level: "warn", Output: "stderr", Debug: e.viper.GetBool("debug")}

	log, err := lifecycle.CreateComponentLogger("registrarctl", cfg)
	if err != nil {
		return logger.NewTestLogger()
	}

	return log
}

func (e *cliEnv) client(opts ...client.Option) *client.Client {
	opts = append([]client.Option{
		client.WithHTTPClient(&http.Client{Timeout: e.viper.GetDuration("timeout")}),
	}, opts...)

	return client.New(e.viper.GetString("server"), e.logger(), opts...)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

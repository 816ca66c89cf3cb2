// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/manish59/Pangolin/cmd/pangolin/internal/server"
	"github.com/manish59/Pangolin/connections/base"
)

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	var configPath, logLevel string
	rootCmd := &cobra.Command{
		Use:           "pangolin",
		Short:         "Connection lifecycle manager",
		Long:          `pangolin connects to the databases, HTTP APIs, SSH hosts, AWS services and Kubernetes clusters declared in a connections file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			s, err := LoadSettings()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("config") {
				s.Config = configPath
			}
			if cmd.Flags().Changed("log-level") {
				s.LogLevel = logLevel
			}
			a.settings = s
			return a.setup(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "connections file (overrides PANGOLIN_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides PANGOLIN_LOG_LEVEL)")

	rootCmd.AddCommand(listCmd(a))
	rootCmd.AddCommand(checkCmd(a))
	rootCmd.AddCommand(execCmd(a))
	rootCmd.AddCommand(serveCmd(a))
	return rootCmd
}

func listCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos := a.reg.Infos()
			fmt.Fprintf(a.out, "%-24s %-12s %s\n", "NAME", "BACKEND", "HOST")
			for _, info := range infos {
				fmt.Fprintf(a.out, "%-24s %-12s %v\n", info.Name, info.Backend, info.Config["host"])
			}
			fmt.Fprintf(a.out, "\nTotal: %d connections\n", len(infos))
			return nil
		},
	}
}

func checkCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "check [name...]",
		Short: "Connect to each named connection (all by default) and report",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if len(names) == 0 {
				names = a.reg.List()
			}

			failed := 0
			for _, name := range names {
				h, err := a.reg.Get(name)
				if err != nil {
					return err
				}

				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				err = h.Open(ctx)
				cancel()

				info := h.Info()
				if err != nil {
					failed++
					fmt.Fprintf(a.out, "FAIL %-24s %-12s %s: %v\n", name, info.Backend, base.KindOf(err), err)
					continue
				}
				fmt.Fprintf(a.out, "ok   %-24s %-12s connected in %.0fms\n", name, info.Backend, info.Metrics.AvgConnectionTime*1000)
				_ = h.Disconnect(cmd.Context())
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d connections failed", failed, len(names))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall limit per connection, including retries")
	return cmd
}

func execCmd(a *app) *cobra.Command {
	var request string
	cmd := &cobra.Command{
		Use:   "exec <name>",
		Short: "Execute one JSON request against a connection",
		Long: `Execute one request. The JSON shape depends on the backend, for example
{"statement":"SELECT 1"} for a database or {"method":"GET","endpoint":"/health"} for an API.
Use --request - to read it from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.reg.Get(args[0])
			if err != nil {
				return err
			}

			raw := []byte(request)
			if request == "-" {
				if raw, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("failed to read request: %w", err)
				}
			}
			if !json.Valid(raw) {
				return errors.New("--request must be valid JSON")
			}

			defer func() { _ = h.Disconnect(context.Background()) }()
			res, err := h.DoJSON(cmd.Context(), json.RawMessage(raw))
			if err != nil {
				if details := base.DetailsOf(err); len(details) > 0 {
					d, _ := json.Marshal(details)
					fmt.Fprintf(a.errOut, "details: %s\n", d)
				}
				return err
			}

			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVarP(&request, "request", "r", "{}", "request JSON, or - for stdin")
	return cmd
}

func serveCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve connection status, metrics and calls over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("addr") {
				addr = a.settings.Addr
			}

			promReg := prometheus.NewRegistry()
			promReg.MustRegister(a.collector, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			srv := &http.Server{
				Addr:              addr,
				Handler:           server.New(a.reg, promReg, a.log, server.WithRateLimit(a.settings.RateLimit, a.settings.RateBurst)).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("", "Listening", map[string]interface{}{"addr": addr})
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.ErrorWithErr("", "Shutdown failed", err, nil)
			}
			return a.reg.DisconnectAll(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address (overrides PANGOLIN_ADDR)")
	return cmd
}

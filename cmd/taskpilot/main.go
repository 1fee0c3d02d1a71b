package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/taskpilot/taskpilot/pkg/catalog"
	"github.com/taskpilot/taskpilot/pkg/config"
	"github.com/taskpilot/taskpilot/pkg/engine"
	"github.com/taskpilot/taskpilot/pkg/env"
	"github.com/taskpilot/taskpilot/pkg/logging"
	"github.com/taskpilot/taskpilot/pkg/ops"
	"github.com/taskpilot/taskpilot/pkg/procrun"
	"github.com/taskpilot/taskpilot/pkg/resolver"
	"github.com/taskpilot/taskpilot/pkg/sandbox"
	"github.com/taskpilot/taskpilot/pkg/store"
	"github.com/taskpilot/taskpilot/pkg/version"
	"github.com/taskpilot/taskpilot/server"
)

var cfgFile string

func main() {
	_ = env.LoadFromDir(".")

	root := &cobra.Command{
		Use:   "taskpilot",
		Short: "Natural-language task runner with a sandboxed operation catalog",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.taskpilot/config.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(opsCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat(config.DefaultPath()); err == nil {
			path = config.DefaultPath()
		}
	}
	return config.Load(path)
}

// stack is everything a serving or resolving command needs, wired once.
type stack struct {
	cfg      *config.Config
	catalog  *catalog.Registry
	engine   *engine.Engine
	resolver *resolver.Resolver
	store    *store.Store
}

func buildStack(cfg *config.Config, logger *slog.Logger) (*stack, error) {
	key, err := config.Credential()
	if err != nil {
		return nil, err
	}

	root, err := sandbox.NewRoot(cfg.SandboxDir)
	if err != nil {
		return nil, fmt.Errorf("sandbox root: %w", err)
	}
	st := store.New(root)

	reg := catalog.NewRegistry()
	ops.Register(reg, ops.Settings{
		Remote: ops.Remote{
			BaseURL:    cfg.Oracle.BaseURL,
			APIKey:     key,
			Model:      cfg.Oracle.Model,
			EmbedModel: cfg.Oracle.EmbedModel,
		},
		FormatCommand: cfg.Exec.FormatCommand,
	})

	opTimeout, err := cfg.OperationTimeout()
	if err != nil {
		return nil, err
	}
	eng := engine.New(engine.Config{
		Catalog:        reg,
		Root:           root,
		Store:          st,
		RequestTimeout: opTimeout,
		Logger:         logger,
		Runner: &procrun.Runner{
			Timeout:   opTimeout,
			MaxOutput: cfg.Exec.MaxOutput,
			Blocklist: cfg.Exec.Blocklist,
			Dir:       root.Dir(),
		},
	})

	oracle, err := resolver.NewOpenAIOracle(resolver.OpenAIConfig{
		URL:    strings.TrimSuffix(cfg.Oracle.BaseURL, "/") + "/chat/completions",
		APIKey: key,
		Model:  cfg.Oracle.Model,
	})
	if err != nil {
		return nil, err
	}
	res := resolver.New(resolver.Config{Catalog: reg, Oracle: oracle, Logger: logger})

	return &stack{cfg: cfg, catalog: reg, engine: eng, resolver: res, store: st}, nil
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP task server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
			if err != nil {
				return err
			}

			stk, err := buildStack(cfg, logger)
			if err != nil {
				return err
			}
			srv := server.NewServer(stk.resolver, stk.engine, stk.store, stk.catalog)
			srv.SetLogger(logger)

			if addr == "" {
				addr = cfg.Server.Address
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			go func() {
				if err := server.Start(ctx, srv, addr); err != nil {
					fmt.Fprintln(os.Stderr, err)
					cancel()
				}
			}()

			fmt.Printf("taskpilot listening on %s (sandbox %s)\n", addr, cfg.SandboxDir)
			waitForSignal(ctx)
			cancel()
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	return cmd
}

func opsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List catalog operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg := catalog.NewRegistry()
			ops.Register(reg, ops.Settings{FormatCommand: cfg.Exec.FormatCommand})

			for _, spec := range reg.List() {
				caps := make([]string, len(spec.Caps))
				for i, c := range spec.Caps {
					caps[i] = string(c)
				}
				fmt.Printf("%-22s [%s]\t%s\n", spec.ID, strings.Join(caps, ","), spec.Description)
			}
			return nil
		},
	}
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve TASK",
		Short: "Resolve a task to an operation call without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
			if err != nil {
				return err
			}
			stk, err := buildStack(cfg, logger)
			if err != nil {
				return err
			}

			call, err := stk.resolver.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(call, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment taskpilot needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			report := func(name string, err error) {
				if err != nil {
					fmt.Printf("%-16s FAIL\t%v\n", name, err)
					return
				}
				fmt.Printf("%-16s ok\n", name)
			}

			_, rootErr := sandbox.NewRoot(cfg.SandboxDir)
			report("sandbox", rootErr)

			_, credErr := config.Credential()
			report("credential", credErr)

			formatter := cfg.Exec.FormatCommand
			if len(formatter) == 0 {
				formatter = []string{"npx"}
			}
			_, pathErr := exec.LookPath(formatter[0])
			report("formatter", pathErr)

			fmt.Printf("%-16s %s\n", "oracle", cfg.Oracle.BaseURL)
			fmt.Printf("%-16s %s\n", "version", version.String())
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the taskpilot version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.String())
		},
	}
}

func waitForSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
}

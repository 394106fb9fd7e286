package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/polzovatel/browser-task-agent/internal/agent"
	"github.com/polzovatel/browser-task-agent/internal/browser"
	"github.com/polzovatel/browser-task-agent/internal/config"
	"github.com/polzovatel/browser-task-agent/internal/llm"
	"github.com/polzovatel/browser-task-agent/internal/logging"
	"github.com/polzovatel/browser-task-agent/internal/snapshot"
	"github.com/polzovatel/browser-task-agent/internal/tools"
)

const maxTaskLength = 2000

type app struct {
	configPath string
	cfg        *config.Config
	logger     zerolog.Logger
	closer     io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zerolog.Nop()}
	root := &cobra.Command{
		Use:           "browser-agent",
		Short:         "Carry out browser tasks with a vision model",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.closer != nil {
				return a.closer.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (yaml, json or toml)")
	root.AddCommand(a.runCmd(), a.snapshotCmd(), a.doCmd())
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(cmd.ErrOrStderr(), logging.Options{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		File:       cfg.Logger.File,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
	})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	a.closer = closer
	return nil
}

// launch starts the configured browser, optionally on url.
func (a *app) launch(ctx context.Context, url string) (browser.Session, error) {
	sess, err := browser.Launch(ctx, a.cfg.Browser.Driver, a.cfg.BrowserOptions())
	if err != nil {
		return nil, fmt.Errorf("browser init: %w", err)
	}
	if url == "" {
		return sess, nil
	}
	page := sess.Page()
	if err := page.Navigate(ctx, url); err != nil && !errors.Is(err, browser.ErrNavigationTimeout) {
		_ = sess.Close()
		return nil, fmt.Errorf("open %s: %w", url, err)
	}
	if err := page.WaitForNetworkIdle(ctx, a.cfg.Browser.NavigationTimeout); err != nil {
		a.logger.Debug().Err(err).Str("url", url).Msg("wait for network idle")
	}
	return sess, nil
}

func (a *app) orchestrator(page browser.Page, opts ...agent.Option) (*agent.Orchestrator, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	model, err := llm.New(a.cfg.LLMSettings(), a.logger.With().Str("comp", "llm").Logger())
	if err != nil {
		return nil, fmt.Errorf("llm init: %w", err)
	}
	return agent.NewOrchestrator(a.cfg.AgentConfig(), page, model, a.logger, opts...), nil
}

func (a *app) runCmd() *cobra.Command {
	var (
		task      string
		startURL  string
		saveState string
		tracePath string
		verify    bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a task described in natural language",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			task = sanitizeTask(task)
			if task == "" {
				prompted, cancelled, err := promptTask(cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil {
					return fmt.Errorf("prompt task: %w", err)
				}
				if cancelled {
					fmt.Fprintln(cmd.OutOrStdout(), "Отменено.")
					return nil
				}
				task = prompted
			}
			if cmd.Flags().Changed("verify") {
				a.cfg.Agent.Verify = verify
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sess, err := a.launch(ctx, startURL)
			if err != nil {
				return err
			}
			defer sess.Close()

			trace := agent.NewTrace(0)
			orch, err := a.orchestrator(sess.Page(), agent.WithTrace(trace))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Начинаю задачу...")
			res, runErr := agent.NewQueue(orch).Submit(ctx, agent.Task{Description: task})
			printResult(cmd.OutOrStdout(), res)

			if tracePath != "" {
				if err := writeTrace(tracePath, trace.Entries()); err != nil {
					a.logger.Error().Err(err).Msg("write trace")
				}
			}

			if runErr == nil && saveState != "" {
				a.saveState(sess, saveState)
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&task, "task", "t", "", "task description (prompted when empty)")
	cmd.Flags().StringVar(&startURL, "url", "", "page to open before planning")
	cmd.Flags().StringVar(&saveState, "save-state", "", "path to save the browser storage state after a successful run")
	cmd.Flags().StringVar(&tracePath, "trace", "", "path to write the state transitions of the run as JSON")
	cmd.Flags().BoolVar(&verify, "verify", false, "ask the model to confirm each step")
	return cmd
}

func (a *app) snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <url>",
		Short: "Print the outline the model would see for a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sess, err := a.launch(ctx, args[0])
			if err != nil {
				return err
			}
			defer sess.Close()

			snap, err := snapshot.NewBuilder(sess.Page(), a.cfg.AgentConfig().Snapshot, a.logger).Build(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), snap.String())
			return nil
		},
	}
}

func (a *app) doCmd() *cobra.Command {
	var (
		tool  string
		input string
	)
	cmd := &cobra.Command{
		Use:   "do <url> [commands]",
		Short: `Run a command line such as "CLICK:3;TYPE:5:hello" against a page`,
		Long: `Run a command line such as "CLICK:3;TYPE:5:hello" against a page,
or a single tool with JSON input: do <url> --tool type --input '{"ref":5,"text":"hello"}'.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := ""
			if len(args) == 2 {
				line = args[1]
			}
			if (line == "") == (tool == "") {
				return errors.New("give either a command line or --tool")
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sess, err := a.launch(ctx, args[0])
			if err != nil {
				return err
			}
			defer sess.Close()

			orch, err := a.orchestrator(sess.Page())
			if err != nil {
				return err
			}
			obs, err := orch.Observe(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, obs.Snapshot.String())
			fmt.Fprintln(out)
			return runTools(ctx, orch.Toolbox(), line, tool, input, out)
		},
	}
	cmd.Flags().StringVar(&tool, "tool", "", "tool name from the catalogue, e.g. click or type")
	cmd.Flags().StringVar(&input, "input", "{}", "JSON object with the tool input")
	return cmd
}

// runTools runs a command line, or the named tool with a JSON input, and prints the observations.
func runTools(ctx context.Context, tb tools.Toolbox, line, tool, input string, out io.Writer) error {
	if tool == "" {
		results, err := tb.InvokeLine(ctx, line)
		for _, r := range results {
			fmt.Fprintf(out, "> %s\n", r.Observation)
		}
		return err
	}
	args := map[string]any{}
	dec := json.NewDecoder(strings.NewReader(input))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return fmt.Errorf("tool input: %w", err)
	}
	res, err := tb.Invoke(ctx, tool, args)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "> %s\n", res.Observation)
	return nil
}

func writeTrace(path string, entries []agent.Transition) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write trace %s: %w", path, err)
	}
	return nil
}

func (a *app) saveState(sess browser.Session, path string) {
	saver, ok := sess.(browser.StateSaver)
	if !ok {
		a.logger.Warn().Str("driver", a.cfg.Browser.Driver).Msg("driver cannot save storage state")
		return
	}
	if err := saver.SaveState(path); err != nil {
		a.logger.Error().Err(err).Msg("save state")
		return
	}
	a.logger.Info().Str("path", path).Msg("storage saved")
}

func printResult(w io.Writer, res agent.Result) {
	switch {
	case res.Completed():
		fmt.Fprintf(w, "Задача выполнена: шагов %d/%d, попыток %d\n", res.StepsCompleted, len(res.Plan.Steps), res.AttemptsUsed)
	case res.AbortReason != nil:
		fmt.Fprintf(w, "Задача прервана (%v): шагов %d/%d, попыток %d\n", res.AbortReason, res.StepsCompleted, len(res.Plan.Steps), res.AttemptsUsed)
	default:
		fmt.Fprintf(w, "Задача остановлена в состоянии %s\n", res.Status)
	}
	if res.Message != "" {
		fmt.Fprintf(w, "Итог: %s\n", res.Message)
	}
	for i, answer := range res.Analyses {
		fmt.Fprintf(w, "Анализ %d: %s\n", i+1, answer)
	}
	if res.FinalURL != "" {
		fmt.Fprintf(w, "Страница: %s\n", res.FinalURL)
	}
}

func promptTask(in io.Reader, out io.Writer) (string, bool, error) {
	reader := bufio.NewReader(in)
	fmt.Fprint(out, "Введите задачу (оставьте пустым, чтобы отменить): ")
	line, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", false, err
	}
	task := sanitizeTask(line)
	if task == "" {
		return "", true, nil
	}
	return task, false, nil
}

// sanitizeTask trims, drops control characters and caps the length.
func sanitizeTask(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if r >= 32 || r == '\t' {
			b.WriteRune(r)
		}
	}
	task := b.String()
	if runes := []rune(task); len(runes) > maxTaskLength {
		fmt.Fprintf(os.Stderr, "Задача слишком длинная (макс. %d символов), обрезана\n", maxTaskLength)
		task = string(runes[:maxTaskLength])
	}
	return task
}

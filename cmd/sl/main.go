package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	steplinesdk "stepline/sdk/go"

	"stepline/internal/app"
	"stepline/internal/config"
	"stepline/internal/domain"
	"stepline/internal/engine"
	"stepline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Stepline CLI",
	Long: `Stepline turns a project idea into four generated documents, one step at a time.
- Project: a name, a seed prompt and a workspace directory that holds its artifacts.
- Steps: analysis -> architecture -> planning -> optimization. Each step needs the previous one completed.
- Generation: each step submits a job to the configured backend; a background poller writes <step>.md when it finishes.
- Archive: once all four steps are completed the workspace is copied to the archive root and the project becomes read-only.
- Event log: every change is recorded; view it with 'sl log tail'.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STEPLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("data-dir", "d", ".stepline", "data directory (database, workspaces, archives)")
	rootCmd.PersistentFlags().String("config", "", "config file (default <data-dir>/stepline.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", server.LocalActor, "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id, id prefix or name")
	for _, name := range []string{"data-dir", "config", "json", "actor-id", "project"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(stepCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(recoverCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(filesCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			logger := log.New(os.Stderr, "", log.LstdFlags)
			ctx := cmd.Context()
			rt, err := app.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()
			if n, err := rt.Engine.Recover(ctx); err != nil {
				return err
			} else if n > 0 {
				logger.Printf("recovered %d interrupted step(s)", n)
			}
			server.StartWebhookDispatcher(ctx, rt.Engine, logger)
			handler, err := server.New(server.Config{
				Engine:   rt.Engine,
				BasePath: cfg.Server.BasePath,
				Auth:     server.AuthConfig{JWTSecret: cfg.Server.JWTSecret, Logger: logger},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			auth := "disabled"
			if strings.TrimSpace(cfg.Server.JWTSecret) != "" {
				auth = "bearer JWT"
			}
			fmt.Printf("Serving Stepline API on http://%s%s (auth %s, backend %s, OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
				cfg.Server.Addr, cfg.Server.BasePath, auth, cfg.Generation.Backend, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8002", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path (overrides server.base_path)")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectScanCmd())
	prj.AddCommand(projectImportCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var name, desc, prompt, promptFile string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if promptFile != "" {
				b, err := readInput(promptFile)
				if err != nil {
					return err
				}
				prompt = string(b)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, engine.CreateProjectOptions{
					Name:        name,
					Description: desc,
					Prompt:      prompt,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printProject(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name (derived from the prompt when empty)")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&prompt, "prompt", "", "seed prompt")
	cmd.Flags().StringVar(&promptFile, "prompt-file", "", "read seed prompt from file (- for stdin)")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Steps", "Updated"})
				for _, p := range items {
					tw.AppendRow(table.Row{shortID(p.ID), p.Name, styleStatus(string(p.Status)), stepSummary(p), p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [project]",
		Short: "Show a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProject(ctx, e, args)
				if err != nil {
					return err
				}
				return printProject(p)
			})
		},
	}
}

func projectScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List workspace directories that hold step artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ScanWorkspaces(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Directory", "Project", "Artifacts"})
				for _, c := range items {
					owner := "-"
					if c.ProjectID != "" {
						owner = shortID(c.ProjectID)
					}
					names := make([]string, 0, len(c.Artifacts))
					for _, a := range c.Artifacts {
						names = append(names, string(a))
					}
					tw.AppendRow(table.Row{c.Directory, owner, strings.Join(names, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Create projects for unowned workspace directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ImportWorkspaces(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				for _, p := range items {
					fmt.Printf("imported %s (%s) %s\n", p.Name, shortID(p.ID), styleStatus(string(p.Status)))
				}
				if len(items) == 0 {
					fmt.Println("nothing to import")
				}
				return nil
			})
		},
	}
}

func stepCmd() *cobra.Command {
	st := &cobra.Command{
		Use:   "step",
		Short: "Run generation steps",
		Long:  "Steps run in order: analysis, architecture, planning, optimization. A step starts only when every earlier step is completed.",
	}
	st.AddCommand(stepRunCmd())
	return st
}

func stepRunCmd() *cobra.Command {
	var serverURL, token string
	var noWait bool
	cmd := &cobra.Command{
		Use:   "run <step> [project]",
		Short: "Run a step and wait for it to settle",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			step, err := engine.ParseStep(args[0])
			if err != nil {
				return err
			}
			if serverURL != "" {
				return runRemoteStep(cmd.Context(), serverURL, token, step, args[1:], noWait)
			}
			if noWait {
				// the local poller dies with this process
				return errors.New("--no-wait requires --server")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProject(ctx, e, args[1:])
				if err != nil {
					return err
				}
				res, waitErr := e.RunAndWait(ctx, p.ID, step, viper.GetString("actor-id"))
				if res.Status != "" {
					if err := printStepResult(res); err != nil {
						return err
					}
				}
				return waitErr
			})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "run against a Stepline server instead of the local data dir (project must be given by id)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for --server (default: signed from server.jwt_secret)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return once the step is started (with --server only)")
	return cmd
}

func runRemoteStep(ctx context.Context, serverURL, token string, step domain.StepID, args []string, noWait bool) error {
	projectRef := viper.GetString("project")
	if len(args) > 0 {
		projectRef = args[0]
	}
	if projectRef == "" {
		return fmt.Errorf("project not specified; use --project")
	}
	c := steplinesdk.New(serverURL)
	if token == "" {
		cfg, err := loadConfig()
		if err == nil && strings.TrimSpace(cfg.Server.JWTSecret) != "" {
			if token, err = server.IssueToken(cfg.Server.JWTSecret, viper.GetString("actor-id")); err != nil {
				return err
			}
		}
	}
	c.BearerToken = token
	h, err := c.RunStep(ctx, projectRef, string(step))
	if err != nil {
		return err
	}
	if noWait {
		return printJSONOrText(h, fmt.Sprintf("started %s for %s (job %s)", h.Step, h.ProjectID, h.JobID))
	}
	s, err := c.WaitStep(ctx, h.ProjectID, h.Step, 2*time.Second)
	if err != nil {
		return err
	}
	res := domain.StepResult{ProjectID: h.ProjectID, Step: domain.StepID(s.ID), Status: domain.StepStatus(s.Status)}
	if s.FilePath != nil {
		res.FilePath = *s.FilePath
	}
	if s.Error != nil {
		res.Error = *s.Error
	}
	if err := printStepResult(res); err != nil {
		return err
	}
	if res.Status == domain.StepError {
		return fmt.Errorf("step %s failed: %s", res.Step, res.Error)
	}
	return nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [project]",
		Short: "Run every remaining step in order",
		Long:  "Runs each step that is not completed yet and stops at the first one that fails or times out. Completed steps are skipped, so a failed run can be resumed.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProject(ctx, e, args)
				if err != nil {
					return err
				}
				results, runErr := e.RunAll(ctx, p.ID, viper.GetString("actor-id"), func(res domain.StepResult) {
					if !viper.GetBool("json") {
						printStepResult(res)
					}
				})
				if viper.GetBool("json") {
					if err := printJSON(results); err != nil {
						return err
					}
				} else if runErr == nil && len(results) == 0 {
					fmt.Printf("%s: all steps already completed\n", p.Name)
				}
				return runErr
			})
		},
	}
}

func recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Fail steps left in progress by an exited process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.Recover(ctx)
				if err != nil {
					return err
				}
				return printJSONOrText(map[string]int{"recovered": n}, fmt.Sprintf("recovered %d step(s)", n))
			})
		},
	}
}

func archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive [project]",
		Short: "Archive a completed project",
		Long:  "Copies the workspace to the archive root and makes the project read-only. All four steps must be completed.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProject(ctx, e, args)
				if err != nil {
					return err
				}
				res, err := e.Archive(ctx, p.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrText(res, fmt.Sprintf("archived %s to %s", res.ProjectName, res.LocalPath))
			})
		},
	}
}

func filesCmd() *cobra.Command {
	f := &cobra.Command{
		Use:   "files",
		Short: "Read and write workspace files",
		Long:  "Paths are relative to the workspace root; archived projects are readable through the archive root.",
	}
	f.AddCommand(filesReadCmd())
	f.AddCommand(filesWriteCmd())
	f.AddCommand(filesListCmd())
	return f
}

func filesReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <path>",
		Short: "Print a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				info, err := e.ReadFile(args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(info)
				}
				fmt.Print(info.Content)
				return nil
			})
		},
	}
}

func filesWriteCmd() *cobra.Command {
	var content, from string
	cmd := &cobra.Command{
		Use:   "write <path>",
		Short: "Write a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if from != "" {
				b, err := readInput(from)
				if err != nil {
					return err
				}
				content = string(b)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				path, err := e.WriteFile(ctx, args[0], content)
				if err != nil {
					return err
				}
				return printJSONOrText(map[string]string{"path": path}, "wrote "+path)
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "file content")
	cmd.Flags().StringVar(&from, "from", "", "read content from file (- for stdin)")
	return cmd
}

func filesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [dir]",
		Short: "List a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) > 0 {
				dir = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.ListFiles(dir)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Name", "Type", "Size", "Modified"})
				for _, ent := range entries {
					kind, size := "file", ""
					if ent.IsDirectory {
						kind = "dir"
					}
					if ent.Size != nil {
						size = fmt.Sprintf("%d", *ent.Size)
					}
					tw.AppendRow(table.Row{ent.Name, kind, size, ent.Modified})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every project creation, step transition and archive is recorded as an event.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID := ""
				if viper.GetString("project") != "" {
					p, err := resolveProject(ctx, e, nil)
					if err != nil {
						return err
					}
					projectID = p.ID
				}
				items, err := e.Repo.LatestEvents(ctx, n, projectID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Project", "Entity", "Actor"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, shortID(evt.ProjectID), evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect config",
		Long:  "Config lives in <data-dir>/stepline.yml; STEPLINE_* environment variables override selected keys.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			redacted := *cfg
			if redacted.Generation.APIKey != "" {
				redacted.Generation.APIKey = "***"
			}
			if redacted.Server.JWTSecret != "" {
				redacted.Server.JWTSecret = "***"
			}
			if viper.GetBool("json") {
				return printJSON(redacted)
			}
			b, err := redacted.Marshal()
			if err != nil {
				return err
			}
			fmt.Print(string(b))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

// --- helpers ---

// loadConfig reads the config file and applies STEPLINE_* overrides.
func loadConfig() (*config.Config, error) {
	dataDir := viper.GetString("data-dir")
	path := viper.GetString("config")
	if path == "" {
		path = config.Path(dataDir)
	}
	cfg, err := config.Load(path, dataDir)
	if err != nil {
		return nil, err
	}
	overrides := map[string]*string{
		"backend":    &cfg.Generation.Backend,
		"base-url":   &cfg.Generation.BaseURL,
		"api-key":    &cfg.Generation.APIKey,
		"model":      &cfg.Generation.Model,
		"jwt-secret": &cfg.Server.JWTSecret,
		"addr":       &cfg.Server.Addr,
	}
	for key, dst := range overrides {
		if v := viper.GetString(key); v != "" {
			*dst = v
		}
	}
	if v := viper.GetDuration("poll-interval"); v > 0 {
		cfg.Poll.Interval = v
	}
	if v := viper.GetInt("poll-max-attempts"); v > 0 {
		cfg.Poll.MaxAttempts = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := app.Open(ctx, cfg, log.New(os.Stderr, "", log.LstdFlags))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Engine)
}

func resolveProject(ctx context.Context, e engine.Engine, args []string) (domain.Project, error) {
	ref := viper.GetString("project")
	if len(args) > 0 {
		ref = args[0]
	}
	return app.ResolveProject(ctx, e.Repo, ref)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

var (
	statusDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	statusSealed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	statusIdle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
)

func styleStatus(s string) string {
	switch s {
	case "completed":
		return statusDone.Render(s)
	case "in_progress", "processing":
		return statusRunning.Render(s)
	case "error":
		return statusFailed.Render(s)
	case "archived":
		return statusSealed.Render(s)
	default:
		return statusIdle.Render(s)
	}
}

func stepSummary(p domain.Project) string {
	done := 0
	for _, s := range p.Steps {
		if s.Status == domain.StepCompleted {
			done++
		}
	}
	return fmt.Sprintf("%d/%d", done, len(p.Steps))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printProject(p domain.Project) error {
	if viper.GetBool("json") {
		return printJSON(p)
	}
	fmt.Printf("%s  %s  %s\n", p.ID, p.Name, styleStatus(string(p.Status)))
	fmt.Printf("workspace: %s\n", p.Workspace)
	if p.ArchivePath != nil {
		fmt.Printf("archive:   %s\n", *p.ArchivePath)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Step", "Name", "Status", "File", "Error"})
	for _, s := range p.Steps {
		file, msg := "", ""
		if s.FilePath != nil {
			file = *s.FilePath
		}
		if s.Error != nil {
			msg = *s.Error
		}
		tw.AppendRow(table.Row{s.ID, s.Name, styleStatus(string(s.Status)), file, msg})
	}
	tw.Render()
	return nil
}

func printStepResult(res domain.StepResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	line := fmt.Sprintf("%s: %s", res.Step, styleStatus(string(res.Status)))
	if res.FilePath != "" {
		line += " -> " + res.FilePath
	}
	if res.Error != "" {
		line += " (" + res.Error + ")"
	}
	fmt.Println(line)
	return nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSONOrText(v any, text string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(text)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

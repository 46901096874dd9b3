package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/deepscout/internal/delivery"
	"github.com/user/deepscout/internal/gateway"
	"github.com/user/deepscout/internal/httpapi"
	"github.com/user/deepscout/internal/scheduler"
	"github.com/user/deepscout/internal/state"
	"github.com/user/deepscout/internal/telegram"
	"github.com/user/deepscout/internal/types"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the deepscout daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "deepscout.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	c, err := buildCore(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.gateway.Start(ctx)
	defer c.gateway.Stop()

	slog.Info("deepscout started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"chat_model", cfg.LLM.ChatModel,
		"research_model", cfg.LLM.ResearchModel,
		"pid_file", pidPath,
	)

	deliveryReg := delivery.NewRegistry()

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, telegram.Deps{
			Gateway:   c.gateway,
			Events:    c.events,
			Sessions:  c.sessions,
			Sources:   c.sources,
			Templates: c.templates,
			Fetcher:   c.fetcher,
		})
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		deliveryReg.Register("telegram:", adapter.DeliveryHandler())
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// Scheduled task results are logged; the reports themselves stay
	// readable through the CLI and the HTTP API.
	deliveryReg.Register("task:", func(sessionKey types.SessionKey, kind, text string) error {
		slog.Info("scheduled research result", "session_key", string(sessionKey), "kind", kind, "chars", len(text))
		return nil
	})

	resumeStranded(ctx, c, deliveryReg)

	// Scheduler
	taskStore := state.NewTaskStore(filepath.Join(cfg.DataDir, "tasks.json"))
	sched := scheduler.New(taskStore, func(task types.ResearchTask) {
		fireTask(ctx, c, deliveryReg, task)
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()
	slog.Info("scheduler started")

	// HTTP API
	if cfg.HTTP.Listen != "" {
		apiHandler := httpapi.NewHandler(httpapi.Deps{
			Gateway:   c.gateway,
			Sessions:  c.sessions,
			Events:    c.events,
			Artifacts: c.artifacts,
			Sources:   c.sources,
			Templates: c.templates,
			Fetcher:   c.fetcher,
			Token:     cfg.HTTP.Token,
		})
		httpServer := &http.Server{
			Addr:    cfg.HTTP.Listen,
			Handler: apiHandler,
		}
		go func() {
			slog.Info("http api started", "listen", cfg.HTTP.Listen, "auth", cfg.HTTP.Token != "")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("http api error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			httpServer.Close()
		}()
	} else {
		slog.Warn("http api disabled (no listen address)")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				// Re-write PID file since we failed to re-exec
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}

// resumeStranded re-enqueues sessions a previous process left mid-research
// so their jobs are watched again without waiting for the user to return.
func resumeStranded(ctx context.Context, c *core, reg *delivery.Registry) {
	list, err := c.sessions.List(ctx)
	if err != nil {
		slog.Error("list sessions for resume", "error", err)
		return
	}
	for _, s := range list {
		if s.Status != "active" || s.Phase != types.PhaseResearching || s.JobID == "" {
			continue
		}
		key := s.SessionKey
		slog.Info("resuming stranded research session", "session_key", string(key), "job_id", s.JobID)
		_, err := c.gateway.HandleInbound(ctx, &types.InboundEvent{
			Source:     "resume",
			SessionKey: key,
			UserID:     "system",
		}, gateway.WithOnMessage(func(kind, text string) {
			if derr := reg.Deliver(key, kind, text); derr != nil {
				slog.Warn("resume delivery failed", "session_key", string(key), "error", derr)
			}
		}))
		if err != nil {
			slog.Error("enqueue resume", "session_key", string(key), "error", err)
		}
	}
}

// fireTask runs one scheduler firing. The task's session key is archived
// first so every firing starts a fresh session; otherwise the first report
// would finish the session and later firings would bounce off it.
func fireTask(ctx context.Context, c *core, reg *delivery.Registry, task types.ResearchTask) {
	if err := c.sessions.Archive(ctx, task.SessionKey); err != nil {
		slog.Error("archive task session", "task", task.Name, "error", err)
		return
	}

	prompt := task.Prompt
	var templateID types.TemplateID
	if task.TemplateID != "" {
		tpl, err := c.templates.Get(ctx, task.TemplateID)
		if err != nil {
			slog.Error("scheduled task template missing", "task", task.Name, "template_id", string(task.TemplateID), "error", err)
		} else {
			templateID = tpl.ID
			if tpl.Prompt != "" {
				prompt = tpl.Prompt
			}
		}
	}
	if prompt == "" {
		slog.Error("scheduled task has no prompt", "task", task.Name)
		return
	}

	meta, _ := json.Marshal(map[string]string{"template_id": string(templateID)})
	_, err := c.gateway.HandleInbound(ctx, &types.InboundEvent{
		Source:     "scheduler",
		SessionKey: task.SessionKey,
		UserID:     "scheduler",
		Text:       prompt,
		Metadata:   meta,
	}, gateway.WithOnMessage(func(kind, text string) {
		if derr := reg.Deliver(task.SessionKey, kind, text); derr != nil {
			slog.Error("scheduled delivery failed", "task", task.Name, "error", derr)
		}
	}))
	if err != nil {
		slog.Error("enqueue scheduled research", "task", task.Name, "error", err)
	}
}

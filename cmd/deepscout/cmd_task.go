package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/deepscout/internal/state"
	"github.com/user/deepscout/internal/types"
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskRemoveCmd, taskEnableCmd, taskDisableCmd)

	taskAddCmd.Flags().String("name", "", "task name (required)")
	taskAddCmd.Flags().String("schedule", "", "cron schedule expression (required)")
	taskAddCmd.Flags().String("prompt", "", "research prompt")
	taskAddCmd.Flags().String("template", "", "research template name or id")
	taskAddCmd.Flags().String("session-key", "", "session key (defaults to task:<name>)")
	_ = taskAddCmd.MarkFlagRequired("name")
	_ = taskAddCmd.MarkFlagRequired("schedule")
}

func taskStore() *state.TaskStore {
	cfg := loadConfig()
	return state.NewTaskStore(filepath.Join(cfg.DataDir, "tasks.json"))
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage scheduled research tasks",
	Long: `Scheduled tasks run a research prompt on a cron schedule. The daemon
reads the task list at startup; restart it (deepscout restart) after
changing tasks.`,
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a scheduled research task",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		schedule, _ := cmd.Flags().GetString("schedule")
		prompt, _ := cmd.Flags().GetString("prompt")
		templateRef, _ := cmd.Flags().GetString("template")
		sessionKey, _ := cmd.Flags().GetString("session-key")

		if prompt == "" && templateRef == "" {
			return fmt.Errorf("either --prompt or --template is required")
		}
		if sessionKey == "" {
			sessionKey = string(types.NewSessionKey("task", name))
		}

		var templateID types.TemplateID
		if templateRef != "" {
			store, mgr, err := openTemplates()
			if err != nil {
				return err
			}
			tpl, err := mgr.Resolve(context.Background(), templateRef)
			store.Close()
			if err != nil {
				return fmt.Errorf("resolve template: %w", err)
			}
			templateID = tpl.ID
		}

		task := &types.ResearchTask{
			Name:       name,
			Prompt:     prompt,
			TemplateID: templateID,
			Schedule:   schedule,
			SessionKey: types.SessionKey(sessionKey),
			Enabled:    true,
		}
		if err := taskStore().Add(task); err != nil {
			return fmt.Errorf("add task: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Task %q added.\n", name)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all scheduled tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := taskStore().List()
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}

		if len(tasks) == 0 {
			fmt.Println("No tasks configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSCHEDULE\tTEMPLATE\tENABLED\tSESSION KEY")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
				t.Name,
				t.Schedule,
				t.TemplateID,
				t.Enabled,
				t.SessionKey,
			)
		}
		return w.Flush()
	},
}

var taskRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := taskStore().Remove(args[0]); err != nil {
			return fmt.Errorf("remove task: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Task %q removed.\n", args[0])
		return nil
	},
}

var taskEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := taskStore().SetEnabled(args[0], true); err != nil {
			return fmt.Errorf("enable task: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Task %q enabled.\n", args[0])
		return nil
	},
}

var taskDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := taskStore().SetEnabled(args[0], false); err != nil {
			return fmt.Errorf("disable task: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Task %q disabled.\n", args[0])
		return nil
	},
}

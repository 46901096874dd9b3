package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/deepscout/internal/state"
	"github.com/user/deepscout/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionClearCmd)

	sessionShowCmd.Flags().Int("events", 20, "how many trailing events to print")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)
		events := state.NewEventStore(cfg.DataDir)

		ctx := context.Background()
		list, err := sessions.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKEY\tPHASE\tSTATUS\tMESSAGES\tUPDATED")
		for _, s := range list {
			count, err := events.Count(ctx, s.SessionID)
			if err != nil {
				count = 0
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				s.SessionID,
				s.SessionKey,
				s.Phase,
				s.Status,
				count,
				s.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one session and its recent events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)
		events := state.NewEventStore(cfg.DataDir)
		limit, _ := cmd.Flags().GetInt("events")

		ctx := context.Background()
		session, err := sessions.Get(ctx, types.SessionID(args[0]))
		if err != nil {
			return fmt.Errorf("session not found: %s", args[0])
		}

		fmt.Printf("ID:       %s\n", session.SessionID)
		fmt.Printf("Key:      %s\n", session.SessionKey)
		fmt.Printf("Phase:    %s\n", session.Phase)
		fmt.Printf("Status:   %s\n", session.Status)
		fmt.Printf("Created:  %s\n", session.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("Updated:  %s\n", session.UpdatedAt.Format("2006-01-02 15:04:05"))
		if session.TemplateID != "" {
			fmt.Printf("Template: %s\n", session.TemplateID)
		}
		if session.JobID != "" {
			fmt.Printf("Job:      %s\n", session.JobID)
		}
		if len(session.VectorStoreIDs) > 0 {
			fmt.Printf("Stores:   %s\n", strings.Join(session.VectorStoreIDs, ", "))
		}
		if session.ReportID != "" {
			fmt.Printf("Report:   %s\n", session.ReportID)
		}

		tail, err := events.Tail(ctx, session.SessionID, limit)
		if err != nil {
			return fmt.Errorf("read events: %w", err)
		}
		if len(tail) == 0 {
			return nil
		}

		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTYPE\tSOURCE\tTEXT")
		for _, ev := range tail {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", ev.Seq, ev.Type, ev.Source, eventExcerpt(ev))
		}
		return w.Flush()
	},
}

// eventExcerpt pulls a one-line preview out of an event payload.
func eventExcerpt(ev *types.Event) string {
	var payload struct {
		Text string `json:"text"`
	}
	text := string(ev.Payload)
	if err := json.Unmarshal(ev.Payload, &payload); err == nil && payload.Text != "" {
		text = payload.Text
	}
	text = strings.ReplaceAll(text, "\n", " ")
	if len(text) > 80 {
		text = text[:77] + "..."
	}
	return text
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <id|all>",
	Short: "Clear a session or all sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessionsDir := filepath.Join(cfg.DataDir, "sessions")

		if args[0] == "all" {
			// The index lives inside the sessions directory, so this drops it too.
			if err := os.RemoveAll(sessionsDir); err != nil {
				return fmt.Errorf("remove sessions directory: %w", err)
			}
			fmt.Println("All sessions cleared.")
			return nil
		}

		// Remove specific session directory (validate path to prevent traversal)
		sessionDir := filepath.Join(sessionsDir, args[0])
		resolved, err := filepath.Abs(sessionDir)
		if err != nil {
			return fmt.Errorf("resolve path: %w", err)
		}
		absSessionsDir, _ := filepath.Abs(sessionsDir)
		if !strings.HasPrefix(resolved, absSessionsDir+string(filepath.Separator)) {
			return fmt.Errorf("invalid session ID: %s", args[0])
		}
		if _, err := os.Stat(sessionDir); os.IsNotExist(err) {
			return fmt.Errorf("session not found: %s", args[0])
		}
		if err := os.RemoveAll(sessionDir); err != nil {
			return fmt.Errorf("remove session directory: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Session %s cleared.\n", args[0])
		return nil
	},
}

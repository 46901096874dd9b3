package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/user/deepscout/internal/gateway"
	"github.com/user/deepscout/internal/types"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with deepscout in the terminal",
	Long: `Starts an interactive session against the local data directory. Describe
what you want researched; once the brief is settled the assistant hands it
to a background research job and the report prints here when it lands.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

var (
	promptColor   = color.New(color.FgCyan, color.Bold)
	questionColor = color.New(color.FgYellow)
	noticeColor   = color.New(color.FgHiBlack)
	errColor      = color.New(color.FgRed)
	reportColor   = color.New(color.FgGreen, color.Bold)
)

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	c, err := buildCore(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.gateway.Start(ctx)
	defer c.gateway.Stop()

	sessionKey := types.NewSessionKey("cli", "local")

	fmt.Println("deepscout chat. Describe what you want researched; /help lists commands.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		promptColor.Print("you> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := chatCommand(ctx, c, sessionKey, line); quit {
				return nil
			}
			continue
		}

		done := make(chan struct{})
		_, err := c.gateway.HandleInbound(ctx, &types.InboundEvent{
			Source:     "cli",
			SessionKey: sessionKey,
			UserID:     "local",
			Text:       line,
		},
			gateway.WithOnMessage(renderMessage),
			gateway.WithOnDone(func(error) { close(done) }),
		)
		if err != nil {
			errColor.Printf("queue message: %v\n", err)
			continue
		}
		<-done
	}
}

// renderMessage prints one run message with a color per kind. Reports get
// separators so long markdown stands apart from the chat flow.
func renderMessage(kind, text string) {
	switch kind {
	case gateway.MessageQuestion:
		questionColor.Println(text)
	case gateway.MessageNotice:
		noticeColor.Println(text)
	case gateway.MessageError:
		errColor.Println(text)
	case gateway.MessageReport:
		reportColor.Println("--- report ---")
		fmt.Println(text)
		reportColor.Println("--- end report ---")
	default:
		fmt.Println(text)
	}
}

// chatCommand handles a slash command. Returns true when the REPL should
// exit.
func chatCommand(ctx context.Context, c *core, key types.SessionKey, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Println("/new       start a fresh session")
		fmt.Println("/status    show session phase and staged sources")
		fmt.Println("/templates list research templates")
		fmt.Println("/use NAME  pin a template to this session")
		fmt.Println("/attach P  stage a local file as research context")
		fmt.Println("/quit      leave")

	case "/new":
		if err := c.sessions.Archive(ctx, key); err != nil {
			errColor.Printf("archive session: %v\n", err)
			return false
		}
		noticeColor.Println("Started a new session.")

	case "/status":
		if err := printChatStatus(ctx, c, key); err != nil {
			errColor.Printf("status: %v\n", err)
		}

	case "/templates":
		list, err := c.templates.List(ctx)
		if err != nil {
			errColor.Printf("list templates: %v\n", err)
			return false
		}
		if len(list) == 0 {
			noticeColor.Println("No templates saved. Add one with: deepscout template add")
			return false
		}
		for _, tpl := range list {
			fmt.Printf("%s  (%s)\n", tpl.Name, tpl.Model)
		}

	case "/use":
		if len(fields) < 2 {
			errColor.Println("usage: /use <template name or id>")
			return false
		}
		tpl, err := c.templates.Resolve(ctx, fields[1])
		if err != nil {
			errColor.Printf("resolve template: %v\n", err)
			return false
		}
		id, err := c.sessions.ResolveOrCreate(ctx, key)
		if err != nil {
			errColor.Printf("resolve session: %v\n", err)
			return false
		}
		session, err := c.sessions.Get(ctx, id)
		if err != nil {
			errColor.Printf("load session: %v\n", err)
			return false
		}
		session.TemplateID = tpl.ID
		if err := c.sessions.Update(ctx, session); err != nil {
			errColor.Printf("update session: %v\n", err)
			return false
		}
		noticeColor.Printf("Using template %q for this session.\n", tpl.Name)

	case "/attach":
		if len(fields) < 2 {
			errColor.Println("usage: /attach <path>")
			return false
		}
		path := fields[1]
		data, err := os.ReadFile(path)
		if err != nil {
			errColor.Printf("read %s: %v\n", path, err)
			return false
		}
		id, err := c.sessions.ResolveOrCreate(ctx, key)
		if err != nil {
			errColor.Printf("resolve session: %v\n", err)
			return false
		}
		staged, err := c.sources.Add(ctx, id, filepath.Base(path), data)
		if err != nil {
			errColor.Printf("stage source: %v\n", err)
			return false
		}
		noticeColor.Printf("Attached %s (%d bytes). It will be searchable when research starts.\n", staged.Name, staged.Size)

	default:
		errColor.Printf("unknown command %s (try /help)\n", fields[0])
	}
	return false
}

func printChatStatus(ctx context.Context, c *core, key types.SessionKey) error {
	id, err := c.sessions.ResolveOrCreate(ctx, key)
	if err != nil {
		return err
	}
	session, err := c.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	count, _ := c.events.Count(ctx, id)

	fmt.Printf("Session:  %s\n", session.SessionID)
	fmt.Printf("Phase:    %s\n", session.Phase)
	fmt.Printf("Messages: %d\n", count)
	if session.TemplateID != "" {
		if tpl, terr := c.templates.Get(ctx, session.TemplateID); terr == nil {
			fmt.Printf("Template: %s\n", tpl.Name)
		}
	}
	if session.Phase == types.PhaseResearching && session.JobID != "" {
		fmt.Printf("Research job: %s\n", session.JobID)
	}
	if files, serr := c.sources.List(ctx, id); serr == nil && len(files) > 0 {
		names := make([]string, len(files))
		for i, f := range files {
			names[i] = f.Name
		}
		fmt.Printf("Staged sources: %s\n", strings.Join(names, ", "))
	}
	return nil
}

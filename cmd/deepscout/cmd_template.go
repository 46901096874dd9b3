package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/deepscout/internal/templates"
	"github.com/user/deepscout/internal/types"
)

func init() {
	rootCmd.AddCommand(templateCmd)
	templateCmd.AddCommand(templateListCmd, templateAddCmd, templateShowCmd, templateRemoveCmd)

	templateAddCmd.Flags().String("name", "", "template name (required)")
	templateAddCmd.Flags().String("prompt", "", "research prompt (required)")
	templateAddCmd.Flags().String("system", "", "system instructions for the research model")
	templateAddCmd.Flags().String("model", "", "research model (defaults to llm.research_model)")
	templateAddCmd.Flags().Float32("temperature", 0, "sampling temperature")
	templateAddCmd.Flags().Float32("top-p", 0, "nucleus sampling cutoff")
	_ = templateAddCmd.MarkFlagRequired("name")
	_ = templateAddCmd.MarkFlagRequired("prompt")
}

// openTemplates opens the template store for a one-shot CLI command. The
// caller must Close the returned store.
func openTemplates() (*templates.Store, *templates.Manager, error) {
	cfg := loadConfig()
	store, err := templates.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open template store: %w", err)
	}
	return store, templates.NewManager(store), nil
}

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage research templates",
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all templates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, mgr, err := openTemplates()
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := mgr.List(context.Background())
		if err != nil {
			return fmt.Errorf("list templates: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No templates saved.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tMODEL\tTEMP\tPROMPT")
		for _, tpl := range list {
			prompt := tpl.Prompt
			if len(prompt) > 48 {
				prompt = prompt[:45] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n", tpl.ID, tpl.Name, tpl.Model, tpl.Temperature, prompt)
		}
		return w.Flush()
	},
}

var templateAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a research template",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		prompt, _ := cmd.Flags().GetString("prompt")
		system, _ := cmd.Flags().GetString("system")
		model, _ := cmd.Flags().GetString("model")
		temperature, _ := cmd.Flags().GetFloat32("temperature")
		topP, _ := cmd.Flags().GetFloat32("top-p")

		cfg := loadConfig()
		if model == "" {
			model = cfg.LLM.ResearchModel
		}

		store, mgr, err := openTemplates()
		if err != nil {
			return err
		}
		defer store.Close()

		tpl := &types.Template{
			ID:           types.NewTemplateID(),
			Name:         name,
			SystemPrompt: system,
			Prompt:       prompt,
			Model:        model,
			Temperature:  temperature,
			TopP:         topP,
		}
		if err := mgr.Save(context.Background(), tpl); err != nil {
			return fmt.Errorf("save template: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Template %q added (%s).\n", name, tpl.ID)
		return nil
	},
}

var templateShowCmd = &cobra.Command{
	Use:   "show <name|id>",
	Short: "Show one template in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, mgr, err := openTemplates()
		if err != nil {
			return err
		}
		defer store.Close()

		tpl, err := mgr.Resolve(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("resolve template: %w", err)
		}

		fmt.Printf("ID:          %s\n", tpl.ID)
		fmt.Printf("Name:        %s\n", tpl.Name)
		fmt.Printf("Model:       %s\n", tpl.Model)
		fmt.Printf("Temperature: %.2f\n", tpl.Temperature)
		fmt.Printf("TopP:        %.2f\n", tpl.TopP)
		if tpl.SystemPrompt != "" {
			fmt.Printf("System:\n%s\n", tpl.SystemPrompt)
		}
		fmt.Printf("Prompt:\n%s\n", tpl.Prompt)
		return nil
	},
}

var templateRemoveCmd = &cobra.Command{
	Use:   "remove <name|id>",
	Short: "Remove a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, mgr, err := openTemplates()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		tpl, err := mgr.Resolve(ctx, args[0])
		if err != nil {
			return fmt.Errorf("resolve template: %w", err)
		}
		if err := mgr.Delete(ctx, tpl.ID); err != nil {
			return fmt.Errorf("remove template: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Template %q removed.\n", tpl.Name)
		return nil
	},
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/personabot/pbot/internal/api"
	"github.com/personabot/pbot/internal/config"
	"github.com/personabot/pbot/internal/inference"
	"github.com/personabot/pbot/internal/memory"
	"github.com/personabot/pbot/internal/persona"
	"github.com/personabot/pbot/internal/worker"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the active persona from the terminal",
	Long: `Talk to the active persona from the terminal. Lines starting with ! are
commands, exactly as in Telegram.

Examples:
  pbot chat
  pbot chat -m '!profile=Tabs'
  pbot chat -m "how was your day?"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		message, _ := cmd.Flags().GetString("message")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging("warn")

		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if message != "" {
			fmt.Fprintln(cmd.OutOrStdout(), a.chat.Handle(cmd.Context(), message))
			return nil
		}
		return runREPL(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), a.chat)
	},
}

func init() {
	chatCmd.Flags().StringP("message", "m", "", "send one message and exit")
}

// runREPL answers every non-empty input line until EOF, "exit" or "quit".
func runREPL(ctx context.Context, in io.Reader, out io.Writer, h worker.Handler) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprint(out, colorize(colorCyan, "> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprintln(out, h.Handle(ctx, line))
	}
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Provision and inspect personas",
}

var profileSetPromptCmd = &cobra.Command{
	Use:   "set-prompt <name>",
	Short: "Store a persona's system prompt from a text, markdown or PDF file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		activate, _ := cmd.Flags().GetBool("activate")
		if file == "" {
			return fmt.Errorf("--file is required")
		}

		prompt, err := persona.LoadPrompt(file)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, mem, err := openMemory(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		defer mem.Close()

		name := args[0]
		if err := mem.SetSystemPrompt(cmd.Context(), name, prompt); err != nil {
			return fmt.Errorf("storing prompt: %w", err)
		}
		printSuccess("Stored system prompt for %s (%d characters)", name, len([]rune(prompt)))

		if activate {
			if err := mem.SetActiveProfile(cmd.Context(), name); err != nil {
				return fmt.Errorf("activating profile: %w", err)
			}
			printSuccess("Active profile is now %s", name)
		}
		return nil
	},
}

var profileImportCmd = &cobra.Command{
	Use:   "import <personas.yaml>",
	Short: "Store every persona of a personas file",
	Long: `Store every persona of a personas file.

The file maps persona names to an inline prompt or a prompt file:

  active: Tabs
  personas:
    Tabs:
      prompt: "You are Tabs, {{owner}}'s cat. {{context}}"
    Nova:
      prompt_file: nova.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, mem, err := openMemory(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		defer mem.Close()

		names, err := persona.Import(cmd.Context(), args[0], mem)
		if err != nil {
			return err
		}
		printSuccess("Imported %d personas: %s", len(names), strings.Join(names, ", "))
		return nil
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show a persona's memory (defaults to the active persona)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/profile"
		if len(args) == 1 {
			path = "/profiles/" + url.PathEscape(args[0])
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var st api.ProfileState
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		printProfile(cmd.OutOrStdout(), st)
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List provisioned personas",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/profiles")
		if err != nil {
			return err
		}

		var list api.ProfileList
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}
		printProfileList(cmd.OutOrStdout(), list)
		return nil
	},
}

func init() {
	profileSetPromptCmd.Flags().String("file", "", "prompt file (.txt, .md or .pdf)")
	profileSetPromptCmd.Flags().Bool("activate", false, "also make this the active persona")
	profileCmd.AddCommand(profileSetPromptCmd)
	profileCmd.AddCommand(profileImportCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileListCmd)
}

func printProfileList(w io.Writer, list api.ProfileList) {
	if len(list.Profiles) == 0 {
		fmt.Fprintln(w, "No personas provisioned.")
		return
	}
	for _, name := range list.Profiles {
		if name == list.Active {
			fmt.Fprintf(w, "* %s\n", colorize(colorGreen, name))
			continue
		}
		fmt.Fprintf(w, "  %s\n", name)
	}
}

func printProfile(w io.Writer, st api.ProfileState) {
	if st.Name == "" {
		fmt.Fprintln(w, "No active profile.")
		return
	}

	name := st.Name
	if st.Active {
		name += " (active)"
	}
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Profile:"), name)
	prompt := "not set"
	if st.HasPrompt {
		prompt = "set"
	}
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "System prompt:"), prompt)
	fmt.Fprintf(w, "%s %d turns\n", colorize(colorBold, "History:"), st.HistoryTurns)

	fmt.Fprintln(w, colorize(colorBold, "Emotions:"))
	for _, e := range memory.Emotions() {
		fmt.Fprintf(w, "  %-15s %.2f\n", e.String(), st.Emotions.Get(e))
	}

	summary := st.Context
	if summary == "" {
		summary = "(empty)"
	}
	fmt.Fprintf(w, "%s\n%s\n", colorize(colorBold, "Context:"), summary)
}

// --- jobs ---

type jobRow struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	CreatedAt string `json:"created_at"`
	LastError string `json:"last_error"`
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent background jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/jobs?limit=%d", limit))
		if err != nil {
			return err
		}

		var jobs []jobRow
		if err := decodeJSON(resp, &jobs); err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
			return nil
		}
		printJobs(cmd.OutOrStdout(), jobs)
		return nil
	},
}

func init() {
	jobsCmd.Flags().Int("limit", 20, "maximum number of jobs to show")
}

func printJobs(w io.Writer, jobs []jobRow) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tATTEMPTS\tCREATED\tERROR")
	for _, j := range jobs {
		id := j.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", id, j.Type, statusColor(j.Status), j.Attempts, j.CreatedAt, j.LastError)
	}
	tw.Flush()
}

func statusColor(status string) string {
	switch status {
	case "completed":
		return colorize(colorGreen, status)
	case "failed":
		return colorize(colorRed, status)
	default:
		return colorize(colorYellow, status)
	}
}

// --- usage ---

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show token usage of the most recent completion",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/usage")
		if err != nil {
			return err
		}

		var rec inference.UsageRecord
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		printStatus("Model", "%s", rec.Model)
		printStatus("Prompt tokens", "%d", rec.PromptTokens)
		printStatus("Completion tokens", "%d", rec.CompletionTokens)
		printStatus("Total tokens", "%d", rec.TotalTokens)
		printStatus("At", "%s", rec.At.Local().Format(time.DateTime))
		return nil
	},
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	Long: `Serve the MCP tools over stdio. Messages queued with send_message are
delivered by a running pbot serve sharing the same data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		store, mem, err := openMemory(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		defer mem.Close()

		s := api.NewMCPServer(api.MCPDeps{
			Memory:        mem,
			Jobs:          store,
			Recent:        store,
			DefaultChatID: cfg.Telegram.QuoteChatID,
		})
		return server.NewStdioServer(s).Listen(cmd.Context(), os.Stdin, os.Stdout)
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		printConfig(cmd.OutOrStdout(), config.ShowAll(cfg))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		if config.IsSecret(key) {
			value = "(set)"
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func printConfig(w io.Writer, keys []config.KeyInfo) {
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+k.EnvVar+")"))
	}
}

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mycelian/mycelian-chat/internal/orchestrator"
	"github.com/mycelian/mycelian-chat/internal/provider"
)

var (
	apiFlag  string
	userFlag string
	rootCmd  = &cobra.Command{
		Use:   "chatctl",
		Short: "CLI client for the chat memory service REST API",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:8080", "Chat service base URL")
	rootCmd.AddCommand(newEstimateCmd(), newTurnCmd(), newSessionsCmd(), newRecallCmd(), newStatsCmd(), newExportCmd(), newValidateKeyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newEstimateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate tokens and cost for a prompt and response",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _ := cmd.Flags().GetString("provider")
			m, _ := cmd.Flags().GetString("model")
			in, _ := cmd.Flags().GetString("input")
			out, _ := cmd.Flags().GetString("output")
			body, err := newClient(apiFlag).estimate(p, m, in, out)
			if err != nil {
				return err
			}
			return writeLine(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().StringP("provider", "p", "OpenAI", "Provider family")
	cmd.Flags().StringP("model", "m", "", "Model name (required)")
	cmd.Flags().StringP("input", "i", "", "Prompt text")
	cmd.Flags().StringP("output", "o", "", "Response text")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

type turnOptions struct {
	provider  string
	model     string
	apiKey    string
	sessionDB string
	session   string
	noMemory  bool
	maxTokens int
}

func newTurnCmd() *cobra.Command {
	var o turnOptions
	cmd := &cobra.Command{
		Use:   "turn [message]",
		Short: "Send one message, or chat interactively when no message is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.apiKey == "" {
				o.apiKey = os.Getenv("CHATCTL_API_KEY")
			}
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			c := newClient(apiFlag)
			if len(args) == 1 {
				return runTurn(c, o, userFlag, args[0], cmd.OutOrStdout())
			}
			return runChat(c, o, userFlag, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&userFlag, "user", "u", "", "User ID (required)")
	cmd.Flags().StringVarP(&o.provider, "provider", "p", "OpenAI", "Provider family")
	cmd.Flags().StringVarP(&o.model, "model", "m", "", "Model name (provider default when empty)")
	cmd.Flags().StringVarP(&o.apiKey, "api-key", "k", "", "Provider API key (or CHATCTL_API_KEY)")
	cmd.Flags().StringVarP(&o.session, "session", "s", "default", "Saved session name; empty starts a throwaway session")
	cmd.Flags().StringVar(&o.sessionDB, "session-db", defaultSessionDB(), "Session database file")
	cmd.Flags().BoolVar(&o.noMemory, "no-memory", false, "Disable recall and persistence for a new session")
	cmd.Flags().IntVar(&o.maxTokens, "max-tokens", 0, "Completion token limit")
	return cmd
}

// runTurn sends a single message and saves the returned session.
func runTurn(c *client, o turnOptions, userID, input string, out io.Writer) error {
	sess, err := startSession(o, userID)
	if err != nil {
		return err
	}
	reply, err := c.turn(turnPayload{
		Session:  sess,
		UserID:   userID,
		Input:    input,
		Provider: o.provider,
		Model:    o.model,
		APIKey:   o.apiKey,
		Params:   paramsFor(o),
	})
	if err != nil {
		return err
	}
	if err := saveSession(o.sessionDB, o.session, reply.Session); err != nil {
		return err
	}
	printTurn(out, reply)
	return nil
}

// runChat reads one message per line until EOF or "/quit".
func runChat(c *client, o turnOptions, userID string, in io.Reader, out io.Writer) error {
	sess, err := startSession(o, userID)
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}
		reply, err := c.turn(turnPayload{
			Session:  sess,
			UserID:   userID,
			Input:    line,
			Provider: o.provider,
			Model:    o.model,
			APIKey:   o.apiKey,
			Params:   paramsFor(o),
		})
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			continue
		}
		s := reply.Session
		sess = &s
		if err := saveSession(o.sessionDB, o.session, s); err != nil {
			return err
		}
		printTurn(out, reply)
	}
}

func printTurn(out io.Writer, reply *turnReply) {
	r := reply.Result
	fmt.Fprintln(out, r.AssistantText)
	accuracy := "accurate"
	if !r.CostAccurate {
		accuracy = "estimated"
	}
	fmt.Fprintf(out, "[%s | in %d out %d | $%.6f %s | session %d tokens $%.6f]\n",
		r.Model, r.InputTokens, r.OutputTokens, r.Cost, accuracy, reply.Session.TotalTokens, reply.Session.TotalCost)
	if r.Prune != nil {
		fmt.Fprintf(out, "[memory: %s, %d messages summarized]\n", r.Prune.Outcome, r.Prune.Deleted)
	}
}

func newSessionsCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions saved by turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := listSessions(dbPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range rows {
				fmt.Fprintf(out, "%s\t%s\t%d messages\t%d tokens\t$%.6f\n", r.Key, r.ConversationID, r.Messages, r.TotalTokens, r.TotalCost)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "session-db", defaultSessionDB(), "Session database file")
	return cmd
}

func newRecallCmd() *cobra.Command {
	var conversation string
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Retrieve past messages similar to a query",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, _ := cmd.Flags().GetString("query")
			k, _ := cmd.Flags().GetInt("topk")
			th, _ := cmd.Flags().GetFloat64("threshold")
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			if strings.TrimSpace(q) == "" {
				return fmt.Errorf("query cannot be empty")
			}
			body, err := newClient(apiFlag).recall(userFlag, conversation, q, k, th)
			if err != nil {
				return err
			}
			return writeLine(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().StringVarP(&userFlag, "user", "u", "", "User ID (required)")
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "Restrict to one conversation")
	cmd.Flags().StringP("query", "q", "", "Query text (required)")
	cmd.Flags().IntP("topk", "k", 4, "Maximum matches")
	cmd.Flags().Float64P("threshold", "t", 0, "Minimum similarity (service default when 0)")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the last 30 days of usage for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			body, err := newClient(apiFlag).stats(userFlag)
			if err != nil {
				return err
			}
			return writeLine(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().StringVarP(&userFlag, "user", "u", "", "User ID (required)")
	return cmd
}

func newExportCmd() *cobra.Command {
	var conversation, format, outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a stored conversation as json or md",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" || conversation == "" {
				return fmt.Errorf("--user and --conversation required")
			}
			return runExport(newClient(apiFlag), userFlag, conversation, format, outPath, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&userFlag, "user", "u", "", "User ID (required)")
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "Conversation ID (required)")
	cmd.Flags().StringVarP(&format, "format", "f", "md", "Export format: json or md")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file; \"-\" for stdout, default is the suggested file name")
	return cmd
}

func runExport(c *client, userID, conversationID, format, outPath string, out io.Writer) error {
	body, suggested, err := c.export(userID, conversationID, format)
	if err != nil {
		return err
	}
	if outPath == "-" {
		_, err := out.Write(body)
		return err
	}
	if outPath == "" {
		outPath = suggested
	}
	if outPath == "" {
		outPath = conversationID + "." + format
	}
	if err := os.WriteFile(outPath, body, 0o644); err != nil {
		return err
	}
	fmt.Fprintln(out, "wrote", outPath)
	return nil
}

func newValidateKeyCmd() *cobra.Command {
	var providerName string
	cmd := &cobra.Command{
		Use:   "validate-key KEY",
		Short: "Check an API key's format locally without calling the provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !provider.ValidateAPIKey(providerName, args[0]) {
				return fmt.Errorf("invalid %s api key format", providerName)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s api key format ok\n", providerName)
			return nil
		},
	}
	cmd.Flags().StringVarP(&providerName, "provider", "p", "OpenAI", "Provider family")
	return cmd
}

func paramsFor(o turnOptions) orchestrator.Params {
	return orchestrator.Params{MaxTokens: o.maxTokens}
}

// startSession loads the saved session, or starts a memory-disabled one
// locally when --no-memory is set. A nil session lets the service start one.
func startSession(o turnOptions, userID string) (*orchestrator.Session, error) {
	sess, err := loadSession(o.sessionDB, userID, o.session)
	if err != nil {
		return nil, err
	}
	if o.noMemory {
		if sess == nil {
			s := orchestrator.NewSession(userID)
			sess = &s
		}
		sess.MemoryEnabled = false
	}
	return sess, nil
}

func writeLine(out io.Writer, body []byte) error {
	if _, err := out.Write(body); err != nil {
		return err
	}
	if len(body) == 0 || body[len(body)-1] != '\n' {
		_, err := fmt.Fprintln(out)
		return err
	}
	return nil
}

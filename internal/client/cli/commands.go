package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/llmgate/internal/rpc"
	"github.com/dmitrijs2005/llmgate/internal/server/auth"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
	"github.com/spf13/cobra"
)

type connectFunc func() (Gateway, error)

func newCompleteCmd(connect connectFunc) *cobra.Command {
	var (
		req         rpc.CompleteRequest
		temperature float64
		maxTokens   int
	)
	cmd := &cobra.Command{
		Use:   "complete [prompt]",
		Short: "Stream a completion into a conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Prompt = strings.Join(args, " ")
			if cmd.Flags().Changed("temperature") {
				req.Model.Params.Temperature = &temperature
			}
			if cmd.Flags().Changed("max-tokens") {
				req.Model.Params.MaxTokens = &maxTokens
			}

			gw, err := connect()
			if err != nil {
				return err
			}
			defer gw.Close()

			out := cmd.OutOrStdout()
			final, err := gw.Complete(cmd.Context(), &req, func(chunk string) error {
				_, err := io.WriteString(out, chunk)
				return err
			})
			if err != nil {
				return err
			}
			if stdoutIsTerminal(cmd) {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s] request %s, %d tokens charged\n", final.Status, final.RequestID, final.TokensCharged)

			switch final.Status {
			case "completed", "partially_completed":
				return nil
			default:
				return fmt.Errorf("completion %s: %s", final.Status, final.Error)
			}
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.ConversationID, "conversation", "", "conversation id")
	f.StringVar(&req.Model.Provider, "provider", "openai", "provider name")
	f.StringVar(&req.Model.Model, "model", "gpt-4o-mini", "model id")
	f.StringVar(&req.BillTo, "bill-to", "user", "billing scope: user or group")
	f.StringVar(&req.SystemPrompt, "system", "", "system prompt")
	f.Float64Var(&temperature, "temperature", 0, "sampling temperature")
	f.IntVar(&maxTokens, "max-tokens", 0, "output token limit")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}

func newCancelCmd(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <request-id>",
		Short: "Cancel a running completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := connect()
			if err != nil {
				return err
			}
			defer gw.Close()
			return gw.Cancel(cmd.Context(), args[0])
		},
	}
}

func newBalanceCmd(connect connectFunc) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the credit balance of your user or group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			gw, err := connect()
			if err != nil {
				return err
			}
			defer gw.Close()
			resp, err := gw.Balance(cmd.Context(), scope)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", resp.Scope, resp.Balance)
			return err
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "user", "user or group")
	return cmd
}

func newTopUpCmd(connect connectFunc) *cobra.Command {
	var req rpc.TopUpRequest
	cmd := &cobra.Command{
		Use:   "topup",
		Short: "Credit an account (admin only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			gw, err := connect()
			if err != nil {
				return err
			}
			defer gw.Close()
			resp, err := gw.TopUp(cmd.Context(), &req)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", resp.Scope, resp.Balance)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.ScopeKind, "kind", "user", "user or group")
	f.StringVar(&req.ScopeID, "id", "", "user or group id")
	f.Int64Var(&req.Amount, "amount", 0, "credits to add")
	f.StringVar(&req.Note, "note", "", "ledger note")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newTransferCmd(connect connectFunc) *cobra.Command {
	var (
		from, to string
		amount   int64
	)
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Move credits between your user and group accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			gw, err := connect()
			if err != nil {
				return err
			}
			defer gw.Close()
			if err := gw.Transfer(cmd.Context(), from, to, amount); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "moved %d from %s to %s\n", amount, from, to)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&from, "from", "user", "source scope")
	f.StringVar(&to, "to", "group", "target scope")
	f.Int64Var(&amount, "amount", 0, "credits to move")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newConversationsCmd(connect connectFunc) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List conversations, most recently active first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			gw, err := connect()
			if err != nil {
				return err
			}
			defer gw.Close()
			list, err := gw.Conversations(cmd.Context())
			if err != nil {
				return err
			}
			return writeConversations(cmd.OutOrStdout(), list, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeConversations(w io.Writer, list []models.SidebarConversation, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	for _, c := range list {
		state := ""
		if !c.Active {
			state = " (archived)"
		}
		if _, err := fmt.Fprintf(w, "%s  %s  %s%s\n", c.ID, c.LastActivityAt.Format(time.RFC3339), c.Title, state); err != nil {
			return err
		}
	}
	return nil
}

func newTokenCmd() *cobra.Command {
	var (
		id     auth.Identity
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token with the server secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := []byte(secret)
			if secret == "" {
				var err error
				if key, err = readSecret(cmd.ErrOrStderr(), "Server secret: "); err != nil {
					return err
				}
				defer wipe(key)
			}
			tok, err := auth.GenerateToken(id, key, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&id.UserID, "user", "", "user id")
	f.StringVar(&id.GroupID, "group", "", "group id")
	f.BoolVar(&id.Admin, "admin", false, "grant admin rights")
	f.StringVar(&secret, "secret", "", "server secret key, prompted for when empty")
	f.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

package cli

import (
	"context"
	"os"

	"github.com/dmitrijs2005/llmgate/internal/client/gateway"
	"github.com/dmitrijs2005/llmgate/internal/rpc"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// Gateway is the server API used by the commands.
type Gateway interface {
	Complete(ctx context.Context, req *rpc.CompleteRequest, onChunk func(string) error) (*rpc.CompleteEvent, error)
	Cancel(ctx context.Context, requestID string) error
	Balance(ctx context.Context, scope string) (*rpc.BalanceResponse, error)
	TopUp(ctx context.Context, req *rpc.TopUpRequest) (*rpc.BalanceResponse, error)
	Transfer(ctx context.Context, from, to string, amount int64) error
	Conversations(ctx context.Context) ([]models.SidebarConversation, error)
	Close() error
}

// dialGateway is a seam for tests.
var dialGateway = func(addr, token string) (Gateway, error) {
	return gateway.NewGRPCClient(addr, token)
}

// isTerminal is a seam for tests.
var isTerminal = term.IsTerminal

func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree. Settings come from flags, then
// GATEWAY_* environment variables, then the optional --config file.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("GATEWAY")
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "gatewayctl",
		Short:         "gatewayctl: talk to the llmgate completion gateway",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if file := v.GetString("config"); file != "" {
				v.SetConfigFile(file)
				return v.ReadInConfig()
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("addr", "localhost:50051", "gateway gRPC address")
	flags.String("token", "", "access token")
	flags.String("config", "", "config file (json, yaml or toml)")
	for _, name := range []string{"addr", "token", "config"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	connect := func() (Gateway, error) {
		return dialGateway(v.GetString("addr"), v.GetString("token"))
	}

	rootCmd.AddCommand(
		newCompleteCmd(connect),
		newCancelCmd(connect),
		newBalanceCmd(connect),
		newTopUpCmd(connect),
		newTransferCmd(connect),
		newConversationsCmd(connect),
		newTokenCmd(),
	)

	return rootCmd
}

// stdoutIsTerminal reports whether cmd writes to an interactive terminal.
func stdoutIsTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && isTerminal(int(f.Fd()))
}

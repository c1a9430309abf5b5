package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/llmgate/internal/logging"
	"github.com/dmitrijs2005/llmgate/internal/rpc"
	"github.com/dmitrijs2005/llmgate/internal/server/completion"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
	"google.golang.org/grpc"
)

// Completions runs and cancels completion requests.
type Completions interface {
	Run(ctx context.Context, req completion.Request, sink completion.Sink) completion.Outcome
	Cancel(requestID, userID string) error
}

type Ledger interface {
	Balance(ctx context.Context, scope models.Scope) (models.Credits, error)
	Credit(ctx context.Context, scope models.Scope, amount models.Credits, note string) (models.Credits, error)
	Transfer(ctx context.Context, from, to models.Scope, amount models.Credits) error
}

type Conversations interface {
	List(ctx context.Context, userID string) ([]models.SidebarConversation, error)
}

type Limiter interface {
	Allow(userID string) error
}

// Services bundles what the gRPC handlers call into.
type Services struct {
	Completions   Completions
	Ledger        Ledger
	Conversations Conversations
	Limiter       Limiter
}

type GRPCServer struct {
	address   string
	services  Services
	logger    logging.Logger
	jwtSecret []byte
}

func NewGRPCServer(a string, l logging.Logger, svc Services, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		services:  svc,
		jwtSecret: []byte(secretKey),
	}
}

// newServer builds the grpc.Server with auth interceptors and the gateway
// service registered.
func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.accessTokenInterceptor),
		grpc.ChainStreamInterceptor(s.accessTokenStreamInterceptor),
	)
	rpc.RegisterGatewayServer(srv, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}

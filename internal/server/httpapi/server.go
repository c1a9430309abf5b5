// Package httpapi is the HTTP transport of the gateway: completions are
// streamed as server-sent events, everything else is plain JSON.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/llmgate/internal/logging"
	"github.com/dmitrijs2005/llmgate/internal/server/catalog"
	"github.com/dmitrijs2005/llmgate/internal/server/completion"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

const shutdownTimeout = 10 * time.Second

type Completions interface {
	Run(ctx context.Context, req completion.Request, sink completion.Sink) completion.Outcome
	Cancel(requestID, userID string) error
}

type Ledger interface {
	Balance(ctx context.Context, scope models.Scope) (models.Credits, error)
	History(ctx context.Context, scope models.Scope, limit int) ([]models.LedgerEntry, error)
}

type Conversations interface {
	Create(ctx context.Context, userID, title, providerName, modelID string) (*models.Conversation, error)
	Rename(ctx context.Context, userID, id, title string) error
	SetTags(ctx context.Context, userID, id string, tags []models.Tag) ([]models.Tag, error)
	Archive(ctx context.Context, userID, id string) error
	Delete(ctx context.Context, userID, id string) error
	List(ctx context.Context, userID string) ([]models.SidebarConversation, error)
}

type Limiter interface {
	Allow(userID string) error
}

type Services struct {
	Completions   Completions
	Ledger        Ledger
	Conversations Conversations
	Limiter       Limiter
	Catalog       *catalog.Catalog
}

type Server struct {
	address   string
	services  Services
	logger    logging.Logger
	jwtSecret []byte
}

func NewServer(address string, l logging.Logger, svc Services, secretKey string) *Server {
	return &Server{
		address:   address,
		services:  svc,
		logger:    l.With("module", "http_server"),
		jwtSecret: []byte(secretKey),
	}
}

// Handler returns the routed and authenticated handler tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /completions", s.handleComplete)
	mux.HandleFunc("DELETE /completions/{id}", s.handleCancel)
	mux.HandleFunc("GET /conversations", s.handleListConversations)
	mux.HandleFunc("POST /conversations", s.handleCreateConversation)
	mux.HandleFunc("PATCH /conversations/{id}", s.handleUpdateConversation)
	mux.HandleFunc("DELETE /conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("GET /balance", s.handleBalance)
	mux.HandleFunc("GET /balance/history", s.handleHistory)
	mux.HandleFunc("GET /models", s.handleModels)
	return s.authenticate(mux)
}

func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve handles requests on lis until ctx is done, then shuts down,
// letting in-flight requests finish.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

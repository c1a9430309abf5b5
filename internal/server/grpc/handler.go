package grpc

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/rpc"
	"github.com/dmitrijs2005/llmgate/internal/server/auth"
	"github.com/dmitrijs2005/llmgate/internal/server/completion"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

func identity(ctx context.Context) (auth.Identity, error) {
	id, ok := auth.FromContext(ctx)
	if !ok {
		return auth.Identity{}, toStatus(common.ErrorUnauthorized)
	}
	return id, nil
}

// streamSink forwards completion output to a Complete stream.
type streamSink struct {
	stream rpc.Gateway_CompleteServer
	opened bool
}

func (s *streamSink) Open(ctx context.Context, requestID string) error {
	if err := s.stream.Send(&rpc.CompleteEvent{RequestID: requestID}); err != nil {
		return err
	}
	s.opened = true
	return nil
}

func (s *streamSink) Send(ctx context.Context, text string) error {
	return s.stream.Send(&rpc.CompleteEvent{Chunk: text})
}

func (s *GRPCServer) Complete(req *rpc.CompleteRequest, stream rpc.Gateway_CompleteServer) error {
	ctx := stream.Context()
	id, err := identity(ctx)
	if err != nil {
		return err
	}
	scope, err := id.Scope(req.BillTo)
	if err != nil {
		return toStatus(err)
	}
	if err := s.services.Limiter.Allow(id.UserID); err != nil {
		return toStatus(err)
	}

	sink := &streamSink{stream: stream}
	out := s.services.Completions.Run(ctx, completion.Request{
		UserID:         id.UserID,
		ConversationID: req.ConversationID,
		SystemPrompt:   req.SystemPrompt,
		Prompt:         req.Prompt,
		Model:          req.Model,
		Scope:          scope,
	}, sink)

	if !sink.opened {
		if out.Err == nil {
			return toStatus(fmt.Errorf("%w: request ended with status %s", common.ErrorInternal, out.Status))
		}
		return toStatus(out.Err)
	}

	final := &rpc.CompleteEvent{
		RequestID:      out.RequestID,
		Status:         string(out.Status),
		FinalMessageID: out.FinalMessageID,
		TokensCharged:  out.TokensCharged,
	}
	if out.Err != nil {
		final.Error = out.Err.Error()
	}
	if err := stream.Send(final); err != nil {
		s.logger.Debug(ctx, "final event not delivered", "request_id", out.RequestID, "error", err)
	}
	return nil
}

func (s *GRPCServer) CancelCompletion(ctx context.Context, req *rpc.CancelRequest) (*rpc.Empty, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.services.Completions.Cancel(req.RequestID, id.UserID); err != nil {
		return nil, toStatus(err)
	}
	return &rpc.Empty{}, nil
}

func (s *GRPCServer) GetBalance(ctx context.Context, req *rpc.BalanceRequest) (*rpc.BalanceResponse, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	scope, err := id.Scope(req.Scope)
	if err != nil {
		return nil, toStatus(err)
	}
	balance, err := s.services.Ledger.Balance(ctx, scope)
	if err != nil {
		s.logger.Error(ctx, "balance lookup failed", "scope", scope.String(), "error", err)
		return nil, toStatus(err)
	}
	return &rpc.BalanceResponse{Scope: scope.String(), Balance: int64(balance)}, nil
}

func (s *GRPCServer) TopUp(ctx context.Context, req *rpc.TopUpRequest) (*rpc.BalanceResponse, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	if !id.Admin {
		return nil, toStatus(common.ErrorForbidden)
	}
	scope := models.Scope{Kind: models.ScopeKind(req.ScopeKind), ID: req.ScopeID}
	if !scope.Kind.Valid() || scope.ID == "" {
		return nil, toStatus(fmt.Errorf("%w: bad scope %q", common.ErrValidation, scope.String()))
	}
	balance, err := s.services.Ledger.Credit(ctx, scope, models.Credits(req.Amount), req.Note)
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info(ctx, "top up", "admin", id.UserID, "scope", scope.String(), "amount", req.Amount)
	return &rpc.BalanceResponse{Scope: scope.String(), Balance: int64(balance)}, nil
}

func (s *GRPCServer) Transfer(ctx context.Context, req *rpc.TransferRequest) (*rpc.Empty, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	from, err := id.Scope(req.From)
	if err != nil {
		return nil, toStatus(err)
	}
	to, err := id.Scope(req.To)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.services.Ledger.Transfer(ctx, from, to, models.Credits(req.Amount)); err != nil {
		return nil, toStatus(err)
	}
	return &rpc.Empty{}, nil
}

func (s *GRPCServer) ListConversations(ctx context.Context, _ *rpc.Empty) (*rpc.ListConversationsResponse, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.services.Conversations.List(ctx, id.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.ListConversationsResponse{Conversations: list}, nil
}

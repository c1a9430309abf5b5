package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/rpc"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

type GRPCClient struct {
	conn        *grpc.ClientConn
	client      rpc.GatewayClient
	accessToken string
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (c *GRPCClient) accessTokenInterceptor(ctx context.Context, method string, req, reply interface{},
	cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	return invoker(withAccessToken(ctx, c.accessToken), method, req, reply, cc, opts...)
}

func (c *GRPCClient) accessTokenStreamInterceptor(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn,
	method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return streamer(withAccessToken(ctx, c.accessToken), desc, cc, method, opts...)
}

// NewGRPCClient connects lazily to endpoint; extra dial options are
// appended after the defaults.
func NewGRPCClient(endpoint, accessToken string, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{accessToken: accessToken}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(c.accessTokenInterceptor),
		grpc.WithChainStreamInterceptor(c.accessTokenStreamInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client: %w", err)
	}
	c.conn = conn
	c.client = rpc.NewGatewayClient(conn)
	return c, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// Complete streams a completion, calling onChunk for every chunk, and
// returns the final status event.
func (c *GRPCClient) Complete(ctx context.Context, req *rpc.CompleteRequest, onChunk func(string) error) (*rpc.CompleteEvent, error) {
	stream, err := c.client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	final := &rpc.CompleteEvent{}
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch {
		case ev.Status != "":
			final = ev
		case ev.Chunk != "":
			if err := onChunk(ev.Chunk); err != nil {
				return nil, err
			}
		case ev.RequestID != "":
			final.RequestID = ev.RequestID
		}
	}
	if final.Status == "" {
		return nil, fmt.Errorf("stream ended without status")
	}
	return final, nil
}

func (c *GRPCClient) Cancel(ctx context.Context, requestID string) error {
	_, err := c.client.CancelCompletion(ctx, &rpc.CancelRequest{RequestID: requestID})
	return err
}

func (c *GRPCClient) Balance(ctx context.Context, scope string) (*rpc.BalanceResponse, error) {
	return c.client.GetBalance(ctx, &rpc.BalanceRequest{Scope: scope})
}

func (c *GRPCClient) TopUp(ctx context.Context, req *rpc.TopUpRequest) (*rpc.BalanceResponse, error) {
	return c.client.TopUp(ctx, req)
}

func (c *GRPCClient) Transfer(ctx context.Context, from, to string, amount int64) error {
	_, err := c.client.Transfer(ctx, &rpc.TransferRequest{From: from, To: to, Amount: amount})
	return err
}

func (c *GRPCClient) Conversations(ctx context.Context) ([]models.SidebarConversation, error) {
	resp, err := c.client.ListConversations(ctx, &rpc.Empty{})
	if err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

package rpc

import (
	"context"

	"google.golang.org/grpc"
)

type GatewayClient interface {
	Complete(ctx context.Context, in *CompleteRequest, opts ...grpc.CallOption) (Gateway_CompleteClient, error)
	CancelCompletion(ctx context.Context, in *CancelRequest, opts ...grpc.CallOption) (*Empty, error)
	GetBalance(ctx context.Context, in *BalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error)
	TopUp(ctx context.Context, in *TopUpRequest, opts ...grpc.CallOption) (*BalanceResponse, error)
	Transfer(ctx context.Context, in *TransferRequest, opts ...grpc.CallOption) (*Empty, error)
	ListConversations(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ListConversationsResponse, error)
}

type Gateway_CompleteClient interface {
	Recv() (*CompleteEvent, error)
	grpc.ClientStream
}

type gatewayClient struct {
	cc grpc.ClientConnInterface
}

// NewGatewayClient returns a client that speaks the JSON codec on cc.
func NewGatewayClient(cc grpc.ClientConnInterface) GatewayClient {
	return &gatewayClient{cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *gatewayClient) Complete(ctx context.Context, in *CompleteRequest, opts ...grpc.CallOption) (Gateway_CompleteClient, error) {
	stream, err := c.cc.NewStream(ctx, &Gateway_ServiceDesc.Streams[0], MethodComplete, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &gatewayCompleteClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type gatewayCompleteClient struct {
	grpc.ClientStream
}

func (x *gatewayCompleteClient) Recv() (*CompleteEvent, error) {
	m := new(CompleteEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *gatewayClient) CancelCompletion(ctx context.Context, in *CancelRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodCancelCompletion, in, opts)
}

func (c *gatewayClient) GetBalance(ctx context.Context, in *BalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error) {
	return invoke[BalanceResponse](ctx, c.cc, MethodGetBalance, in, opts)
}

func (c *gatewayClient) TopUp(ctx context.Context, in *TopUpRequest, opts ...grpc.CallOption) (*BalanceResponse, error) {
	return invoke[BalanceResponse](ctx, c.cc, MethodTopUp, in, opts)
}

func (c *gatewayClient) Transfer(ctx context.Context, in *TransferRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, MethodTransfer, in, opts)
}

func (c *gatewayClient) ListConversations(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ListConversationsResponse, error) {
	return invoke[ListConversationsResponse](ctx, c.cc, MethodListConversations, in, opts)
}

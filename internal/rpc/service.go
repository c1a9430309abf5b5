package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "llmgate.v1.Gateway"

const (
	MethodComplete          = "/" + ServiceName + "/Complete"
	MethodCancelCompletion  = "/" + ServiceName + "/CancelCompletion"
	MethodGetBalance        = "/" + ServiceName + "/GetBalance"
	MethodTopUp             = "/" + ServiceName + "/TopUp"
	MethodTransfer          = "/" + ServiceName + "/Transfer"
	MethodListConversations = "/" + ServiceName + "/ListConversations"
)

// GatewayServer is implemented by the gRPC transport.
type GatewayServer interface {
	Complete(*CompleteRequest, Gateway_CompleteServer) error
	CancelCompletion(context.Context, *CancelRequest) (*Empty, error)
	GetBalance(context.Context, *BalanceRequest) (*BalanceResponse, error)
	TopUp(context.Context, *TopUpRequest) (*BalanceResponse, error)
	Transfer(context.Context, *TransferRequest) (*Empty, error)
	ListConversations(context.Context, *Empty) (*ListConversationsResponse, error)
}

type Gateway_CompleteServer interface {
	Send(*CompleteEvent) error
	grpc.ServerStream
}

type gatewayCompleteServer struct {
	grpc.ServerStream
}

func (x *gatewayCompleteServer) Send(m *CompleteEvent) error {
	return x.ServerStream.SendMsg(m)
}

func RegisterGatewayServer(s grpc.ServiceRegistrar, srv GatewayServer) {
	s.RegisterService(&Gateway_ServiceDesc, srv)
}

func completeHandler(srv any, stream grpc.ServerStream) error {
	m := new(CompleteRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(GatewayServer).Complete(m, &gatewayCompleteServer{stream})
}

// unary builds a method handler for a unary call.
func unary[Req any, Resp any](method string, call func(GatewayServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GatewayServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(GatewayServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var Gateway_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CancelCompletion", Handler: unary(MethodCancelCompletion, GatewayServer.CancelCompletion)},
		{MethodName: "GetBalance", Handler: unary(MethodGetBalance, GatewayServer.GetBalance)},
		{MethodName: "TopUp", Handler: unary(MethodTopUp, GatewayServer.TopUp)},
		{MethodName: "Transfer", Handler: unary(MethodTransfer, GatewayServer.Transfer)},
		{MethodName: "ListConversations", Handler: unary(MethodListConversations, GatewayServer.ListConversations)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Complete", Handler: completeHandler, ServerStreams: true},
	},
	Metadata: "llmgate/v1/gateway",
}

package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "credits.v1.CreditService"

const (
	methodCheckCredits       = "CheckCredits"
	methodAddCredits         = "AddCredits"
	methodGetBalance         = "GetBalance"
	methodGetRateLimitStatus = "GetRateLimitStatus"
	methodListTransactions   = "ListTransactions"
	methodEstimateCost       = "EstimateCost"
)

// CreditServiceHandler is the server API for credits.v1.CreditService.
// Requests and responses are google.protobuf.Struct values keyed in camelCase.
type CreditServiceHandler interface {
	CheckCredits(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	AddCredits(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	GetBalance(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	GetRateLimitStatus(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ListTransactions(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	EstimateCost(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(server CreditServiceHandler, ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)

// CreditServiceDesc describes credits.v1.CreditService for grpc.ServiceRegistrar.
var CreditServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CreditServiceHandler)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(methodCheckCredits, CreditServiceHandler.CheckCredits),
		unaryMethod(methodAddCredits, CreditServiceHandler.AddCredits),
		unaryMethod(methodGetBalance, CreditServiceHandler.GetBalance),
		unaryMethod(methodGetRateLimitStatus, CreditServiceHandler.GetRateLimitStatus),
		unaryMethod(methodListTransactions, CreditServiceHandler.ListTransactions),
		unaryMethod(methodEstimateCost, CreditServiceHandler.EstimateCost),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "credits/v1/credits.proto",
}

// RegisterCreditServiceHandler registers server on registrar.
func RegisterCreditServiceHandler(registrar grpc.ServiceRegistrar, server CreditServiceHandler) {
	registrar.RegisterService(&CreditServiceDesc, server)
}

func unaryMethod(method string, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + serviceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, decode func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			request := new(structpb.Struct)
			if err := decode(request); err != nil {
				return nil, err
			}
			server := srv.(CreditServiceHandler)
			if interceptor == nil {
				return call(server, ctx, request)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, request, info, func(ctx context.Context, request interface{}) (interface{}, error) {
				return call(server, ctx, request.(*structpb.Struct))
			})
		},
	}
}

// CreditServiceClient calls credits.v1.CreditService.
type CreditServiceClient struct {
	connection grpc.ClientConnInterface
}

// NewCreditServiceClient wraps a client connection.
func NewCreditServiceClient(connection grpc.ClientConnInterface) *CreditServiceClient {
	return &CreditServiceClient{connection: connection}
}

// Call invokes method with a Struct request.
func (client *CreditServiceClient) Call(ctx context.Context, method string, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	response := new(structpb.Struct)
	if err := client.connection.Invoke(ctx, "/"+serviceName+"/"+method, request, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *CreditServiceClient) CheckCredits(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.Call(ctx, methodCheckCredits, request, options...)
}

func (client *CreditServiceClient) AddCredits(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.Call(ctx, methodAddCredits, request, options...)
}

func (client *CreditServiceClient) GetBalance(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.Call(ctx, methodGetBalance, request, options...)
}

func (client *CreditServiceClient) GetRateLimitStatus(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.Call(ctx, methodGetRateLimitStatus, request, options...)
}

func (client *CreditServiceClient) ListTransactions(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.Call(ctx, methodListTransactions, request, options...)
}

func (client *CreditServiceClient) EstimateCost(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.Call(ctx, methodEstimateCost, request, options...)
}

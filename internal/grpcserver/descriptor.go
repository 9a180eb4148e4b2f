package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName = "custody.v1.CustodyService"

	methodDeposit               = "Deposit"
	methodWithdraw              = "Withdraw"
	methodPayInterest           = "PayInterest"
	methodEmergencyWithdraw     = "EmergencyWithdraw"
	methodFundReserve           = "FundReserve"
	methodUpdateCreditScore     = "UpdateCreditScore"
	methodSuspend               = "Suspend"
	methodResume                = "Resume"
	methodConfigureFeed         = "ConfigureFeed"
	methodUpdateCachedPrice     = "UpdateCachedPrice"
	methodInvalidateCachedPrice = "InvalidateCachedPrice"
	methodGetAccount            = "GetAccount"
	methodGetState              = "GetState"
	methodGetTransaction        = "GetTransaction"
	methodListTransactions      = "ListTransactions"
	methodGetLatestPrice        = "GetLatestPrice"
	methodGetCachedPrice        = "GetCachedPrice"
)

// CustodyService is the server contract of custody.v1.CustodyService.
// Requests and responses are google.protobuf.Struct messages.
type CustodyService interface {
	Deposit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Withdraw(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	PayInterest(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	EmergencyWithdraw(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	FundReserve(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	UpdateCreditScore(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Suspend(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Resume(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ConfigureFeed(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	UpdateCachedPrice(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	InvalidateCachedPrice(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	GetAccount(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	GetState(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	GetTransaction(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ListTransactions(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	GetLatestPrice(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	GetCachedPrice(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(CustodyService, context.Context, *structpb.Struct) (*structpb.Struct, error)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CustodyService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodDeposit, Handler: unaryHandler(methodDeposit, CustodyService.Deposit)},
		{MethodName: methodWithdraw, Handler: unaryHandler(methodWithdraw, CustodyService.Withdraw)},
		{MethodName: methodPayInterest, Handler: unaryHandler(methodPayInterest, CustodyService.PayInterest)},
		{MethodName: methodEmergencyWithdraw, Handler: unaryHandler(methodEmergencyWithdraw, CustodyService.EmergencyWithdraw)},
		{MethodName: methodFundReserve, Handler: unaryHandler(methodFundReserve, CustodyService.FundReserve)},
		{MethodName: methodUpdateCreditScore, Handler: unaryHandler(methodUpdateCreditScore, CustodyService.UpdateCreditScore)},
		{MethodName: methodSuspend, Handler: unaryHandler(methodSuspend, CustodyService.Suspend)},
		{MethodName: methodResume, Handler: unaryHandler(methodResume, CustodyService.Resume)},
		{MethodName: methodConfigureFeed, Handler: unaryHandler(methodConfigureFeed, CustodyService.ConfigureFeed)},
		{MethodName: methodUpdateCachedPrice, Handler: unaryHandler(methodUpdateCachedPrice, CustodyService.UpdateCachedPrice)},
		{MethodName: methodInvalidateCachedPrice, Handler: unaryHandler(methodInvalidateCachedPrice, CustodyService.InvalidateCachedPrice)},
		{MethodName: methodGetAccount, Handler: unaryHandler(methodGetAccount, CustodyService.GetAccount)},
		{MethodName: methodGetState, Handler: unaryHandler(methodGetState, CustodyService.GetState)},
		{MethodName: methodGetTransaction, Handler: unaryHandler(methodGetTransaction, CustodyService.GetTransaction)},
		{MethodName: methodListTransactions, Handler: unaryHandler(methodListTransactions, CustodyService.ListTransactions)},
		{MethodName: methodGetLatestPrice, Handler: unaryHandler(methodGetLatestPrice, CustodyService.GetLatestPrice)},
		{MethodName: methodGetCachedPrice, Handler: unaryHandler(methodGetCachedPrice, CustodyService.GetCachedPrice)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "custody/v1/custody.proto",
}

// RegisterCustodyService registers implementation on registrar.
func RegisterCustodyService(registrar grpc.ServiceRegistrar, implementation CustodyService) {
	registrar.RegisterService(&serviceDesc, implementation)
}

// FullMethod returns the wire name of method.
func FullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

func unaryHandler(method string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(structpb.Struct)
		if err := decode(request); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, request any) (any, error) {
			return call(server.(CustodyService), ctx, request.(*structpb.Struct))
		}
		if interceptor == nil {
			return handler(ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: server, FullMethod: FullMethod(method)}
		return interceptor(ctx, request, info, handler)
	}
}

// Client calls custody.v1.CustodyService over conn.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Call invokes method with fields as the request body.
func (client *Client) Call(ctx context.Context, method string, fields map[string]any, options ...grpc.CallOption) (*structpb.Struct, error) {
	request, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, FullMethod(method), request, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}

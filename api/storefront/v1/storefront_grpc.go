package storefrontv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	StorefrontService_ServiceName = "storefront.v1.StorefrontService"

	StorefrontService_PlaceOrder_FullMethodName        = "/storefront.v1.StorefrontService/PlaceOrder"
	StorefrontService_GetOrder_FullMethodName          = "/storefront.v1.StorefrontService/GetOrder"
	StorefrontService_ListOrders_FullMethodName        = "/storefront.v1.StorefrontService/ListOrders"
	StorefrontService_UpdateOrderStatus_FullMethodName = "/storefront.v1.StorefrontService/UpdateOrderStatus"
	StorefrontService_ListProducts_FullMethodName      = "/storefront.v1.StorefrontService/ListProducts"
)

// StorefrontServiceClient: клиент StorefrontService.
type StorefrontServiceClient interface {
	PlaceOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*PlaceOrderResponse, error)
	GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error)
	ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error)
	UpdateOrderStatus(ctx context.Context, in *UpdateOrderStatusRequest, opts ...grpc.CallOption) (*UpdateOrderStatusResponse, error)
	ListProducts(ctx context.Context, in *ListProductsRequest, opts ...grpc.CallOption) (*ListProductsResponse, error)
}

type storefrontServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewStorefrontServiceClient создаёт клиента; JSON-кодек подставляется в каждый вызов.
func NewStorefrontServiceClient(cc grpc.ClientConnInterface) StorefrontServiceClient {
	return &storefrontServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	callOpts := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, callOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storefrontServiceClient) PlaceOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*PlaceOrderResponse, error) {
	return invoke[PlaceOrderResponse](ctx, c.cc, StorefrontService_PlaceOrder_FullMethodName, in, opts)
}

func (c *storefrontServiceClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error) {
	return invoke[GetOrderResponse](ctx, c.cc, StorefrontService_GetOrder_FullMethodName, in, opts)
}

func (c *storefrontServiceClient) ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	return invoke[ListOrdersResponse](ctx, c.cc, StorefrontService_ListOrders_FullMethodName, in, opts)
}

func (c *storefrontServiceClient) UpdateOrderStatus(ctx context.Context, in *UpdateOrderStatusRequest, opts ...grpc.CallOption) (*UpdateOrderStatusResponse, error) {
	return invoke[UpdateOrderStatusResponse](ctx, c.cc, StorefrontService_UpdateOrderStatus_FullMethodName, in, opts)
}

func (c *storefrontServiceClient) ListProducts(ctx context.Context, in *ListProductsRequest, opts ...grpc.CallOption) (*ListProductsResponse, error) {
	return invoke[ListProductsResponse](ctx, c.cc, StorefrontService_ListProducts_FullMethodName, in, opts)
}

// StorefrontServiceServer: серверная сторона StorefrontService.
// Реализации должны встраивать UnimplementedStorefrontServiceServer.
type StorefrontServiceServer interface {
	PlaceOrder(context.Context, *PlaceOrderRequest) (*PlaceOrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	UpdateOrderStatus(context.Context, *UpdateOrderStatusRequest) (*UpdateOrderStatusResponse, error)
	ListProducts(context.Context, *ListProductsRequest) (*ListProductsResponse, error)
	mustEmbedUnimplementedStorefrontServiceServer()
}

// UnimplementedStorefrontServiceServer отвечает Unimplemented на все методы.
type UnimplementedStorefrontServiceServer struct{}

func (UnimplementedStorefrontServiceServer) PlaceOrder(context.Context, *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method PlaceOrder not implemented")
}
func (UnimplementedStorefrontServiceServer) GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetOrder not implemented")
}
func (UnimplementedStorefrontServiceServer) ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListOrders not implemented")
}
func (UnimplementedStorefrontServiceServer) UpdateOrderStatus(context.Context, *UpdateOrderStatusRequest) (*UpdateOrderStatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method UpdateOrderStatus not implemented")
}
func (UnimplementedStorefrontServiceServer) ListProducts(context.Context, *ListProductsRequest) (*ListProductsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListProducts not implemented")
}
func (UnimplementedStorefrontServiceServer) mustEmbedUnimplementedStorefrontServiceServer() {}

// RegisterStorefrontServiceServer регистрирует реализацию на сервере.
func RegisterStorefrontServiceServer(s grpc.ServiceRegistrar, srv StorefrontServiceServer) {
	s.RegisterService(&StorefrontService_ServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](method string, call func(StorefrontServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(StorefrontServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(StorefrontServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// StorefrontService_ServiceDesc: описание сервиса для grpc.Server.
var StorefrontService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: StorefrontService_ServiceName,
	HandlerType: (*StorefrontServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "PlaceOrder",
			Handler:    unaryHandler(StorefrontService_PlaceOrder_FullMethodName, StorefrontServiceServer.PlaceOrder),
		},
		{
			MethodName: "GetOrder",
			Handler:    unaryHandler(StorefrontService_GetOrder_FullMethodName, StorefrontServiceServer.GetOrder),
		},
		{
			MethodName: "ListOrders",
			Handler:    unaryHandler(StorefrontService_ListOrders_FullMethodName, StorefrontServiceServer.ListOrders),
		},
		{
			MethodName: "UpdateOrderStatus",
			Handler:    unaryHandler(StorefrontService_UpdateOrderStatus_FullMethodName, StorefrontServiceServer.UpdateOrderStatus),
		},
		{
			MethodName: "ListProducts",
			Handler:    unaryHandler(StorefrontService_ListProducts_FullMethodName, StorefrontServiceServer.ListProducts),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/v1/storefront",
}

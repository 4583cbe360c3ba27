package handler

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/rl1809/game-shelf/internal/core/domain"
	"github.com/rl1809/game-shelf/internal/core/service"
)

const shelfServiceName = "shelf.v1.ShelfService"

// JSONCodec lets the gRPC surface run without generated protobuf types.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) Name() string {
	return "json"
}

func init() {
	encoding.RegisterCodec(JSONCodec{})
}

type ListGamesRequest struct {
	List string `json:"list,omitempty"`
}

type ListGamesResponse struct {
	Games []*GameView `json:"games"`
}

type RefreshRequest struct {
	Keys      []string `json:"keys,omitempty"`
	Immediate bool     `json:"immediate,omitempty"`
}

type RefreshResponse struct {
	Scheduled int `json:"scheduled"`
}

type CancelRequest struct {
	Key string `json:"key"`
}

type CancelResponse struct {
	Canceled int `json:"canceled"`
}

type ResolveConflictRequest struct {
	Key        string `json:"key"`
	Resolution string `json:"resolution"`
}

type ResolveConflictResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ShelfServiceServer is the RPC surface of the shelf.
type ShelfServiceServer interface {
	ListGames(context.Context, *ListGamesRequest) (*ListGamesResponse, error)
	Act(context.Context, *ActionRequest) (*ActionResponse, error)
	Refresh(context.Context, *RefreshRequest) (*RefreshResponse, error)
	Cancel(context.Context, *CancelRequest) (*CancelResponse, error)
	ResolveConflict(context.Context, *ResolveConflictRequest) (*ResolveConflictResponse, error)
}

var _ ShelfServiceServer = (*GRPCHandler)(nil)

type GRPCHandler struct {
	actions    *Actions
	inventory  *service.Inventory
	reconciler *service.Reconciler
	conflicts  *ConflictBroker
}

func NewGRPCHandler(actions *Actions, inventory *service.Inventory, reconciler *service.Reconciler, conflicts *ConflictBroker) *GRPCHandler {
	return &GRPCHandler{
		actions:    actions,
		inventory:  inventory,
		reconciler: reconciler,
		conflicts:  conflicts,
	}
}

// NewGRPCServer returns a server with the shelf service registered.
func NewGRPCServer(h *GRPCHandler, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ForceServerCodec(JSONCodec{})}, opts...)
	server := grpc.NewServer(opts...)
	RegisterShelfServiceServer(server, h)
	return server
}

func (h *GRPCHandler) ListGames(ctx context.Context, req *ListGamesRequest) (*ListGamesResponse, error) {
	store := h.inventory.Engine().Store()
	games := store.GetAll()
	resp := &ListGamesResponse{Games: make([]*GameView, 0, len(games))}
	for _, g := range games {
		if req.List != "" && string(g.List()) != req.List {
			continue
		}
		op, _ := store.GetOperation(g.Key)
		resp.Games = append(resp.Games, newGameView(g, op))
	}
	return resp, nil
}

// Act reports action failures in the response rather than as RPC errors.
func (h *GRPCHandler) Act(ctx context.Context, req *ActionRequest) (*ActionResponse, error) {
	resp, err := h.actions.Run(ctx, *req)
	if err != nil {
		_, message := statusFor(err)
		return &ActionResponse{Success: false, Message: message}, nil
	}
	return &resp, nil
}

func (h *GRPCHandler) Refresh(ctx context.Context, req *RefreshRequest) (*RefreshResponse, error) {
	keys := make([]domain.Key, 0, len(req.Keys))
	for _, k := range req.Keys {
		keys = append(keys, domain.Key(k))
	}
	if len(keys) == 0 {
		keys = h.inventory.Engine().Store().Keys()
	}
	if !req.Immediate {
		ctx = context.WithoutCancel(ctx)
	}
	h.reconciler.RefreshMany(ctx, keys, service.RefreshOptions{Immediate: req.Immediate})
	return &RefreshResponse{Scheduled: len(keys)}, nil
}

func (h *GRPCHandler) Cancel(ctx context.Context, req *CancelRequest) (*CancelResponse, error) {
	if req.Key == "" {
		return nil, domain.Invalid("key", "key is required")
	}
	n := h.inventory.Engine().CancelPendingOperations(domain.Key(req.Key))
	return &CancelResponse{Canceled: n}, nil
}

func (h *GRPCHandler) ResolveConflict(ctx context.Context, req *ResolveConflictRequest) (*ResolveConflictResponse, error) {
	err := h.conflicts.Resolve(domain.Key(req.Key), domain.Resolution(req.Resolution))
	if errors.Is(err, ErrNoOpenConflict) {
		return &ResolveConflictResponse{Success: false, Message: "no open conflict"}, nil
	}
	if err != nil {
		_, message := statusFor(err)
		return &ResolveConflictResponse{Success: false, Message: message}, nil
	}
	return &ResolveConflictResponse{Success: true}, nil
}

// --- Manual service descriptor ---

func RegisterShelfServiceServer(s *grpc.Server, srv ShelfServiceServer) {
	s.RegisterService(&shelfServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](method string, call func(ShelfServiceServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ShelfServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + shelfServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ShelfServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var shelfServiceDesc = grpc.ServiceDesc{
	ServiceName: shelfServiceName,
	HandlerType: (*ShelfServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListGames", Handler: unaryHandler("ListGames", ShelfServiceServer.ListGames)},
		{MethodName: "Act", Handler: unaryHandler("Act", ShelfServiceServer.Act)},
		{MethodName: "Refresh", Handler: unaryHandler("Refresh", ShelfServiceServer.Refresh)},
		{MethodName: "Cancel", Handler: unaryHandler("Cancel", ShelfServiceServer.Cancel)},
		{MethodName: "ResolveConflict", Handler: unaryHandler("ResolveConflict", ShelfServiceServer.ResolveConflict)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shelf.proto",
}

// ShelfClient calls the shelf service over a connection using the JSON codec.
type ShelfClient struct {
	conn grpc.ClientConnInterface
}

func NewShelfClient(conn grpc.ClientConnInterface) *ShelfClient {
	return &ShelfClient{conn: conn}
}

func (c *ShelfClient) ListGames(ctx context.Context, in *ListGamesRequest) (*ListGamesResponse, error) {
	out := new(ListGamesResponse)
	if err := c.conn.Invoke(ctx, "/"+shelfServiceName+"/ListGames", in, out, grpc.CallContentSubtype("json")); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ShelfClient) Act(ctx context.Context, in *ActionRequest) (*ActionResponse, error) {
	out := new(ActionResponse)
	if err := c.conn.Invoke(ctx, "/"+shelfServiceName+"/Act", in, out, grpc.CallContentSubtype("json")); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ShelfClient) Refresh(ctx context.Context, in *RefreshRequest) (*RefreshResponse, error) {
	out := new(RefreshResponse)
	if err := c.conn.Invoke(ctx, "/"+shelfServiceName+"/Refresh", in, out, grpc.CallContentSubtype("json")); err != nil {
		return nil, err
	}
	return out, nil
}

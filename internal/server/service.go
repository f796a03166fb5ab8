package server

import (
	"OptionSettle/internal/core"
	"OptionSettle/internal/ingestion"
	"OptionSettle/internal/persistence"
	"OptionSettle/internal/projection"
	"OptionSettle/internal/query"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "optionsettle.v1.SettlementService"

// SettlementServiceServer is the settlement API. Every method takes and
// returns a google.protobuf.Struct holding the JSON form of its request and
// response.
type SettlementServiceServer interface {
	// Commands
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)

	// Live engine reads
	HolderView(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SeriesInfo(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSeries(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Nonce(context.Context, *structpb.Struct) (*structpb.Struct, error)

	// Projection reads
	GetBalances(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSeriesState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetJournalHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetEvents(context.Context, *structpb.Struct) (*structpb.Struct, error)

	// Admin
	VerifyIntegrity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RebuildProjections(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TakeCheckpoint(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetEventLogInfo(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(SettlementServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

var methods = []struct {
	name string
	call unaryMethod
}{
	{"Submit", SettlementServiceServer.Submit},
	{"HolderView", SettlementServiceServer.HolderView},
	{"SeriesInfo", SettlementServiceServer.SeriesInfo},
	{"ListSeries", SettlementServiceServer.ListSeries},
	{"Nonce", SettlementServiceServer.Nonce},
	{"GetBalances", SettlementServiceServer.GetBalances},
	{"GetSeriesState", SettlementServiceServer.GetSeriesState},
	{"GetJournalHistory", SettlementServiceServer.GetJournalHistory},
	{"GetEvents", SettlementServiceServer.GetEvents},
	{"VerifyIntegrity", SettlementServiceServer.VerifyIntegrity},
	{"RebuildProjections", SettlementServiceServer.RebuildProjections},
	{"TakeCheckpoint", SettlementServiceServer.TakeCheckpoint},
	{"GetEventLogInfo", SettlementServiceServer.GetEventLogInfo},
}

// SettlementServiceDesc is registered in place of protoc output; the
// messages are well-known Struct types so no generated code is needed.
var SettlementServiceDesc = buildServiceDesc()

func buildServiceDesc() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*SettlementServiceServer)(nil),
		Streams:     []grpc.StreamDesc{},
	}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.name,
			Handler:    unaryHandler(FullMethod(m.name), m.call),
		})
	}
	return desc
}

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SettlementServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SettlementServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// FullMethod returns "/optionsettle.v1.SettlementService/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func RegisterSettlementServiceServer(s grpc.ServiceRegistrar, srv SettlementServiceServer) {
	s.RegisterService(&SettlementServiceDesc, srv)
}

// ============================================================================
// Implementation
// ============================================================================

// settlementService serves live reads through the runner so the engine is
// only touched from its own goroutine. Projection reads go to Postgres and
// may trail the engine.
type settlementService struct {
	runner      *core.Runner
	ingest      *ingestion.GRPCIngestService
	qs          *query.QueryService
	db          *sql.DB
	checkpoints *persistence.CheckpointStore
	logger      zerolog.Logger
}

// errNoStore answers read-model and log calls on a server built without
// Postgres.
var errNoStore = status.Error(codes.Unavailable, "event store not configured")

type submitRequest struct {
	CommandType string          `json:"command_type"`
	Command     json.RawMessage `json:"command"`
}

func (s *settlementService) Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in submitRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	if in.CommandType == "" || len(in.Command) == 0 {
		return nil, status.Error(codes.InvalidArgument, "command_type and command are required")
	}
	res, err := s.ingest.Submit(ctx, in.CommandType, in.Command)
	if err != nil {
		return nil, statusFromError(err)
	}
	return encodeResponse(res)
}

type holderRequest struct {
	SeriesID common.Hash    `json:"series_id"`
	Holder   common.Address `json:"holder"`
}

func (s *settlementService) HolderView(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in holderRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	var (
		view    core.HolderView
		viewErr error
	)
	if err := s.runner.Do(ctx, func(e *core.Engine) {
		view, viewErr = e.HolderView(in.SeriesID, in.Holder)
	}); err != nil {
		return nil, statusFromError(err)
	}
	if viewErr != nil {
		return nil, statusFromError(viewErr)
	}
	return encodeResponse(view)
}

type seriesRequest struct {
	SeriesID common.Hash `json:"series_id"`
}

func (s *settlementService) SeriesInfo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in seriesRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	var (
		view    core.SeriesView
		viewErr error
	)
	if err := s.runner.Do(ctx, func(e *core.Engine) {
		view, viewErr = e.SeriesInfo(in.SeriesID)
	}); err != nil {
		return nil, statusFromError(err)
	}
	if viewErr != nil {
		return nil, statusFromError(viewErr)
	}
	return encodeResponse(NewSeriesJSON(view))
}

func (s *settlementService) ListSeries(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	var all []core.SeriesView
	if err := s.runner.Do(ctx, func(e *core.Engine) {
		all = e.ListSeries()
	}); err != nil {
		return nil, statusFromError(err)
	}
	out := make([]SeriesJSON, 0, len(all))
	for _, v := range all {
		out = append(out, NewSeriesJSON(v))
	}
	return encodeResponse(map[string]any{"series": out})
}

type nonceRequest struct {
	Asset common.Address `json:"asset"`
	Owner common.Address `json:"owner"`
}

func (s *settlementService) Nonce(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in nonceRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	var (
		nonce   uint64
		chainID uint64
	)
	if err := s.runner.Do(ctx, func(e *core.Engine) {
		nonce = e.Nonce(in.Asset, in.Owner)
		chainID = e.ChainID()
	}); err != nil {
		return nil, statusFromError(err)
	}
	return encodeResponse(map[string]any{"nonce": nonce, "chain_id": chainID})
}

type ownerRequest struct {
	Owner         common.Address `json:"owner"`
	Limit         int            `json:"limit"`
	AfterSequence *int64         `json:"after_sequence"`
}

func (s *settlementService) GetBalances(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.qs == nil {
		return nil, errNoStore
	}
	var in ownerRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	balances, err := s.qs.GetBalances(ctx, in.Owner)
	if err != nil {
		return nil, statusFromError(err)
	}
	return encodeResponse(map[string]any{"balances": balances})
}

func (s *settlementService) GetSeriesState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.qs == nil {
		return nil, errNoStore
	}
	var in seriesRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	series, err := s.qs.GetSeries(ctx, in.SeriesID)
	if err != nil {
		return nil, statusFromError(err)
	}
	return encodeResponse(series)
}

func (s *settlementService) GetJournalHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.qs == nil {
		return nil, errNoStore
	}
	var in ownerRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	entries, err := s.qs.GetJournalHistory(ctx, in.Owner, in.Limit, in.AfterSequence)
	if err != nil {
		return nil, statusFromError(err)
	}
	return encodeResponse(map[string]any{"journals": entries})
}

type eventsRequest struct {
	SeriesID      *common.Hash `json:"series_id"`
	Limit         int          `json:"limit"`
	AfterSequence *int64       `json:"after_sequence"`
}

func (s *settlementService) GetEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.qs == nil {
		return nil, errNoStore
	}
	var in eventsRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	events, err := s.qs.GetEvents(ctx, in.SeriesID, in.Limit, in.AfterSequence)
	if err != nil {
		return nil, statusFromError(err)
	}
	return encodeResponse(map[string]any{"events": events})
}

func (s *settlementService) VerifyIntegrity(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.qs == nil {
		return nil, errNoStore
	}
	report, err := s.qs.VerifyIntegrity(ctx)
	if err != nil {
		return nil, statusFromError(err)
	}
	return encodeResponse(report)
}

func (s *settlementService) RebuildProjections(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.db == nil {
		return nil, errNoStore
	}
	started := time.Now()
	if err := projection.RebuildProjections(ctx, s.db, s.logger); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return encodeResponse(map[string]any{
		"rebuilt":     true,
		"duration_ms": time.Since(started).Milliseconds(),
	})
}

// TakeCheckpoint records the engine's current position. The checkpoint is
// verified by the next start-up replay.
func (s *settlementService) TakeCheckpoint(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.checkpoints == nil {
		return nil, errNoStore
	}
	var cp persistence.Checkpoint
	if err := s.runner.Do(ctx, func(e *core.Engine) {
		cp = persistence.CheckpointOf(e, time.Now().UTC())
	}); err != nil {
		return nil, statusFromError(err)
	}
	if cp.Sequence < 1 {
		return nil, status.Error(codes.FailedPrecondition, "no command applied yet")
	}
	if err := s.checkpoints.SaveIfPersisted(ctx, cp); err != nil {
		if errors.Is(err, persistence.ErrNotPersisted) {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return nil, status.Errorf(codes.Internal, "save checkpoint: %v", err)
	}
	return encodeResponse(map[string]any{
		"sequence":   cp.Sequence,
		"state_hash": hex.EncodeToString(cp.StateHash[:]),
	})
}

func (s *settlementService) GetEventLogInfo(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.checkpoints == nil {
		return nil, errNoStore
	}
	var (
		next int64
		tip  [32]byte
	)
	if err := s.runner.Do(ctx, func(e *core.Engine) {
		next = e.GetSequence()
		tip = e.GetStateHash()
	}); err != nil {
		return nil, statusFromError(err)
	}
	persisted, err := s.checkpoints.GetLatestSequence(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
	}

	info := map[string]any{
		"engine_sequence":    next - 1,
		"persisted_sequence": persisted,
		"state_hash":         hex.EncodeToString(tip[:]),
	}
	cp, err := s.checkpoints.LatestCheckpoint(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "latest checkpoint: %v", err)
	}
	if cp != nil {
		info["checkpoint_sequence"] = cp.Sequence
		info["checkpoint_verified"] = cp.Verified
	}
	return encodeResponse(info)
}

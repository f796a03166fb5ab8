package server

import (
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// route binds an HTTP path to a SettlementService method. Path parameters
// and query parameters become request fields; when bodyField is set the
// JSON body is nested under it.
type route struct {
	method    string
	pattern   string
	rpc       string
	bodyField string
}

var routes = []route{
	{http.MethodPost, "/v1/commands/{command_type}", "Submit", "command"},

	{http.MethodGet, "/v1/series", "ListSeries", ""},
	{http.MethodGet, "/v1/series/{series_id}", "SeriesInfo", ""},
	{http.MethodGet, "/v1/series/{series_id}/holders/{holder}", "HolderView", ""},
	{http.MethodGet, "/v1/series/{series_id}/state", "GetSeriesState", ""},
	{http.MethodGet, "/v1/assets/{asset}/nonces/{owner}", "Nonce", ""},

	{http.MethodGet, "/v1/accounts/{owner}/balances", "GetBalances", ""},
	{http.MethodGet, "/v1/accounts/{owner}/journals", "GetJournalHistory", ""},
	{http.MethodGet, "/v1/events", "GetEvents", ""},

	{http.MethodGet, "/v1/admin/integrity", "VerifyIntegrity", ""},
	{http.MethodPost, "/v1/admin/rebuild", "RebuildProjections", ""},
	{http.MethodPost, "/v1/admin/checkpoint", "TakeCheckpoint", ""},
	{http.MethodGet, "/v1/admin/log", "GetEventLogInfo", ""},
}

// NewGatewayMux returns an HTTP/JSON mux proxying every route to the gRPC
// service over conn.
func NewGatewayMux(conn grpc.ClientConnInterface) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, proxy(mux, conn, rt)); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func proxy(mux *runtime.ServeMux, conn grpc.ClientConnInterface, rt route) runtime.HandlerFunc {
	fullMethod := FullMethod(rt.rpc)
	return func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		inbound, outbound := runtime.MarshalerForRequest(mux, r)

		ctx, err := runtime.AnnotateContext(r.Context(), mux, r, fullMethod)
		if err != nil {
			runtime.HTTPError(r.Context(), mux, outbound, w, r, err)
			return
		}

		req, err := requestStruct(r, pathParams)
		if err != nil {
			runtime.HTTPError(ctx, mux, outbound, w, r, err)
			return
		}
		if rt.bodyField != "" {
			body := new(structpb.Struct)
			if err := inbound.NewDecoder(r.Body).Decode(body); err != nil {
				runtime.HTTPError(ctx, mux, outbound, w, r, statusFromError(badRequest(err)))
				return
			}
			req.Fields[rt.bodyField] = structpb.NewStructValue(body)
		}

		resp := new(structpb.Struct)
		if err := conn.Invoke(ctx, fullMethod, req, resp); err != nil {
			runtime.HTTPError(ctx, mux, outbound, w, r, err)
			return
		}
		runtime.ForwardResponseMessage(ctx, mux, outbound, w, r, resp)
	}
}

// requestStruct collects path and query parameters. Query values that parse
// as integers (limit, after_sequence) are sent as numbers.
func requestStruct(r *http.Request, pathParams map[string]string) (*structpb.Struct, error) {
	fields := map[string]any{}
	for k, vs := range r.URL.Query() {
		if len(vs) == 0 {
			continue
		}
		if n, err := strconv.ParseInt(vs[0], 10, 64); err == nil {
			fields[k] = n
		} else {
			fields[k] = vs[0]
		}
	}
	for k, v := range pathParams {
		fields[k] = v
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, statusFromError(badRequest(err))
	}
	return s, nil
}

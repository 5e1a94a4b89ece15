package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	pb "github.com/pixperk/tabsession/api/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const keyPath = "/v1/contexts/{context}/keys/{key}"

// HTTP/JSON front for the OwnershipStore gRPC service
type Server struct {
	httpServer *http.Server
	grpcAddr   string
	conn       *grpc.ClientConn
}

func NewServer(httpAddr, grpcAddr string) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr: httpAddr,
		},
		grpcAddr: grpcAddr,
	}
}

func (s *Server) Start(ctx context.Context) error {
	conn, err := grpc.NewClient(s.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect gateway to %s: %w", s.grpcAddr, err)
	}
	s.conn = conn

	mux, err := NewMux(pb.NewOwnershipStoreClient(conn))
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to register gateway: %w", err)
	}

	s.httpServer.Handler = mux

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP gateway: %w", err)
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// routes one context's keys onto the gRPC api
//
//	GET    /v1/contexts/{context}/keys/{key}  -> {"value": "...", "present": true}
//	PUT    /v1/contexts/{context}/keys/{key}  body {"value": "..."}
//	DELETE /v1/contexts/{context}/keys/{key}
func NewMux(api pb.OwnershipStoreClient) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()
	h := &handlers{api: api, mux: mux, marshaler: &runtime.JSONPb{}}

	if err := mux.HandlePath(http.MethodGet, keyPath, h.get); err != nil {
		return nil, err
	}
	if err := mux.HandlePath(http.MethodPut, keyPath, h.set); err != nil {
		return nil, err
	}
	if err := mux.HandlePath(http.MethodDelete, keyPath, h.remove); err != nil {
		return nil, err
	}
	return mux, nil
}

type handlers struct {
	api       pb.OwnershipStoreClient
	mux       *runtime.ServeMux
	marshaler runtime.Marshaler
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	runtime.HTTPError(r.Context(), h.mux, h.marshaler, w, r, err)
}

func (h *handlers) respond(w http.ResponseWriter, r *http.Request, msg *structpb.Struct) {
	body, err := h.marshaler.Marshal(msg)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", h.marshaler.ContentType(msg))
	w.Write(body)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request, params map[string]string) {
	resp, err := h.api.Get(r.Context(), pb.NewKeyRequest(params["context"], params["key"]))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, resp)
}

func (h *handlers) set(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var body structpb.Struct
	if err := h.marshaler.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
		return
	}

	req := pb.NewSetRequest(params["context"], params["key"], pb.String(&body, pb.FieldValue))
	if _, err := h.api.Set(r.Context(), req); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) remove(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if _, err := h.api.Remove(r.Context(), pb.NewKeyRequest(params["context"], params["key"])); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package server

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
	pb "github.com/pixperk/tabsession/api/v1"
	"github.com/pixperk/tabsession/pkg/store"
	"github.com/pixperk/tabsession/pkg/types"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type Server struct {
	backend store.Backend
	logger  hclog.Logger
}

var _ pb.OwnershipStoreServer = (*Server)(nil)

// exposes a store backend to remote contexts
func NewServer(backend store.Backend, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{
		backend: backend,
		logger:  logger.Named("grpc"),
	}
}

// validates the context id and key of a request
func keyRequest(req *structpb.Struct) (contextID, key string, err error) {
	contextID = pb.String(req, pb.FieldContext)
	if contextID == "" {
		return "", "", types.ErrContextRequired
	}
	key = pb.String(req, pb.FieldKey)
	if key == "" {
		return "", "", types.ErrKeyRequired
	}
	return contextID, key, nil
}

func (s *Server) Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	contextID, key, err := keyRequest(req)
	if err != nil {
		return nil, toGRPCError(err)
	}

	v, err := s.backend.Attach(contextID).Get(key)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return pb.NewValue(v), nil
}

func (s *Server) Set(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	contextID, key, err := keyRequest(req)
	if err != nil {
		return nil, toGRPCError(err)
	}

	if err := s.backend.Attach(contextID).Set(key, pb.String(req, pb.FieldValue)); err != nil {
		s.logger.Debug("set rejected", "context", contextID, "key", key, "error", err)
		return nil, toGRPCError(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Remove(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	contextID, key, err := keyRequest(req)
	if err != nil {
		return nil, toGRPCError(err)
	}

	if err := s.backend.Attach(contextID).Remove(key); err != nil {
		s.logger.Debug("remove rejected", "context", contextID, "key", key, "error", err)
		return nil, toGRPCError(err)
	}
	return &emptypb.Empty{}, nil
}

// streams every change made by other contexts until the client goes away
func (s *Server) Watch(req *structpb.Struct, stream pb.OwnershipStore_WatchServer) error {
	contextID := pb.String(req, pb.FieldContext)
	if contextID == "" {
		return toGRPCError(types.ErrContextRequired)
	}

	//sendMu keeps handler sends behind the ready message and stops them
	//once this method returns
	var (
		sendMu sync.Mutex
		done   bool
	)
	failed := make(chan error, 1)

	sendMu.Lock()
	sub, err := s.backend.Attach(contextID).Subscribe(func(c types.Change) {
		sendMu.Lock()
		defer sendMu.Unlock()
		if done {
			return
		}
		if err := stream.Send(pb.NewChange(c)); err != nil {
			select {
			case failed <- err:
			default:
			}
		}
	})
	if err != nil {
		sendMu.Unlock()
		return toGRPCError(err)
	}
	defer func() {
		sendMu.Lock()
		done = true
		sendMu.Unlock()
		sub.Close()
	}()

	err = stream.Send(pb.NewReady())
	sendMu.Unlock()
	if err != nil {
		return err
	}

	s.logger.Debug("watch started", "context", contextID)
	select {
	case <-stream.Context().Done():
		s.logger.Debug("watch ended", "context", contextID)
		return nil
	case err := <-failed:
		s.logger.Warn("watch stream failed", "context", contextID, "error", err)
		return err
	}
}

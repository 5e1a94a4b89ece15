package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	pb "github.com/pixperk/tabsession/api/v1"
	"github.com/pixperk/tabsession/pkg/queue"
	"github.com/pixperk/tabsession/pkg/store"
	"github.com/pixperk/tabsession/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	defaultTimeout    = 2 * time.Second
	watchRetryBackoff = 200 * time.Millisecond
	watchRetryMax     = 5 * time.Second
)

type Options struct {
	Timeout time.Duration //per call deadline, also bounds the watch handshake
	Logger  hclog.Logger
}

// Client reaches a remote shared store and hands out per-context handles on it.
type Client struct {
	addr    string
	conn    *grpc.ClientConn
	api     pb.OwnershipStoreClient
	timeout time.Duration
	logger  hclog.Logger

	mu     sync.Mutex
	closed bool
	stopCh chan struct{}
}

var _ store.Backend = (*Client)(nil)

func NewClient(addr string, opts Options) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Client{
		addr:    addr,
		conn:    conn,
		api:     pb.NewOwnershipStoreClient(conn),
		timeout: timeout,
		logger:  logger.Named("client").With("addr", addr),
		stopCh:  make(chan struct{}),
	}, nil
}

func (c *Client) Attach(contextID string) store.Store {
	return &remoteStore{client: c, id: contextID}
}

// Close ends every watch and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stopCh)
	c.mu.Unlock()

	return c.conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// converts a gRPC failure back into a domain error
func fromGRPCError(op string, key string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s %q: %w: %w", op, key, types.ErrStoreUnavailable, err)
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%s %q: %w: %s", op, key, types.ErrKeyRequired, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return fmt.Errorf("%s %q: %w: %s", op, key, types.ErrStoreUnavailable, st.Message())
	default:
		return fmt.Errorf("%s %q: %s", op, key, st.Message())
	}
}

type remoteStore struct {
	client *Client
	id     string

	mu    sync.Mutex
	known map[string]types.Value //last value this handle read, wrote or was told about
}

func (s *remoteStore) remember(key string, v types.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known == nil {
		s.known = make(map[string]types.Value)
	}
	s.known[key] = v
}

func (s *remoteStore) knownKeys() map[string]types.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]types.Value, len(s.known))
	for k, v := range s.known {
		out[k] = v
	}
	return out
}

func (s *remoteStore) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.client.timeout)
}

func (s *remoteStore) Get(key string) (types.Value, error) {
	if s.client.isClosed() {
		return types.Absent(), types.ErrStoreClosed
	}
	ctx, cancel := s.call(context.Background())
	defer cancel()

	resp, err := s.client.api.Get(ctx, pb.NewKeyRequest(s.id, key))
	if err != nil {
		return types.Absent(), fromGRPCError("get", key, err)
	}
	v := pb.ParseValue(resp)
	s.remember(key, v)
	return v, nil
}

func (s *remoteStore) Set(key, value string) error {
	if s.client.isClosed() {
		return types.ErrStoreClosed
	}
	ctx, cancel := s.call(context.Background())
	defer cancel()

	if _, err := s.client.api.Set(ctx, pb.NewSetRequest(s.id, key, value)); err != nil {
		return fromGRPCError("set", key, err)
	}
	s.remember(key, types.Present(value))
	return nil
}

func (s *remoteStore) Remove(key string) error {
	if s.client.isClosed() {
		return types.ErrStoreClosed
	}
	ctx, cancel := s.call(context.Background())
	defer cancel()

	if _, err := s.client.api.Remove(ctx, pb.NewKeyRequest(s.id, key)); err != nil {
		return fromGRPCError("remove", key, err)
	}
	s.remember(key, types.Absent())
	return nil
}

// Subscribe returns once the server is listening on our behalf, so no
// change issued after Subscribe returns can be missed.
func (s *remoteStore) Subscribe(h store.Handler) (store.Subscription, error) {
	if s.client.isClosed() {
		return nil, types.ErrStoreClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream, streamCancel, err := s.open(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	q := queue.New(func(c types.Change) { h(c) })
	w := &watch{store: s, q: q, done: make(chan struct{})}
	go w.loop(ctx, stream, streamCancel)

	var once sync.Once
	return store.SubscriptionFunc(func() error {
		once.Do(func() {
			cancel()
			<-w.done
			q.Close()
		})
		return nil
	}), nil
}

// opens a watch stream and waits for the ready message
// the returned cancel ends that stream only
func (s *remoteStore) open(ctx context.Context) (pb.OwnershipStore_WatchClient, context.CancelFunc, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := s.client.api.Watch(streamCtx, pb.NewWatchRequest(s.id))
	if err != nil {
		cancel()
		return nil, nil, fromGRPCError("watch", "", err)
	}

	//bound the handshake without bounding the stream
	timer := time.AfterFunc(s.client.timeout, cancel)
	first, err := stream.Recv()
	timer.Stop()
	if err != nil {
		cancel()
		return nil, nil, fromGRPCError("watch", "", err)
	}
	if !pb.IsReady(first) {
		cancel()
		return nil, nil, fmt.Errorf("watch: %w: unexpected first message", types.ErrStoreUnavailable)
	}
	return stream, cancel, nil
}

type watch struct {
	store *remoteStore
	q     *queue.Queue[types.Change]
	done  chan struct{}
}

// forwards changes and re-opens the stream when the server drops it
func (w *watch) loop(ctx context.Context, stream pb.OwnershipStore_WatchClient, cancel context.CancelFunc) {
	defer close(w.done)
	defer func() {
		if cancel != nil {
			cancel()
		}
	}()
	logger := w.store.client.logger.With("context", w.store.id)

	var failureCount int
	backoff := watchRetryBackoff

	for {
		for stream != nil {
			msg, err := stream.Recv()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				failureCount++
				logger.Warn("watch stream broke, changes from other contexts are not seen",
					"attempt", failureCount, "error", err)
				cancel()
				stream, cancel = nil, nil
				break
			}
			change := pb.ParseChange(msg)
			w.store.remember(change.Key, change.New)
			w.q.Push(change)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		case <-w.store.client.stopCh:
			return
		}
		backoff = min(backoff*2, watchRetryMax)

		next, nextCancel, err := w.store.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failureCount++
			logger.Warn("watch reconnect failed", "attempt", failureCount, "error", err)
			continue
		}
		logger.Info("watch recovered", "failures", failureCount)
		stream, cancel = next, nextCancel
		failureCount = 0
		backoff = watchRetryBackoff
		w.resync(logger)
	}
}

// reports every known key that changed while the stream was down
// the writer is unknown, so changes carry none
func (w *watch) resync(logger hclog.Logger) {
	for key, old := range w.store.knownKeys() {
		current, err := w.store.Get(key)
		if err != nil {
			logger.Warn("resync read failed", "key", key, "error", err)
			continue
		}
		if current == old {
			continue
		}
		logger.Debug("missed change while disconnected", "key", key)
		w.q.Push(types.Change{Key: key, Old: old, New: current})
	}
}

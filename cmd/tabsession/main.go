package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	pb "github.com/pixperk/tabsession/api/v1"
	"github.com/pixperk/tabsession/pkg/client"
	"github.com/pixperk/tabsession/pkg/config"
	"github.com/pixperk/tabsession/pkg/filestore"
	"github.com/pixperk/tabsession/pkg/gateway"
	"github.com/pixperk/tabsession/pkg/raft"
	"github.com/pixperk/tabsession/pkg/server"
	"github.com/pixperk/tabsession/pkg/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
)

const usage = `usage: tabsession <command> [flags]

commands:
  serve   run a raft node exposing the shared store over gRPC and HTTP
  tab     run one interactive context against a shared store`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve":
		err = serve(cfg, os.Args[2:])
	case "tab":
		err = tab(cfg, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, ":( %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level hclog.Level) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "tabsession",
		Level:  level,
		Output: os.Stderr,
	})
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// serves /metrics on addr, nil when addr is empty
func startMetrics(addr string, logger hclog.Logger, errCh chan<- error) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{Addr: addr, Handler: metricsHandler()}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server failed: %w", err)
		}
	}()
	return srv
}

func serve(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var (
		nodeID      = fs.String("node-id", cfg.NodeID, "Unique node ID (generates UUID if empty)")
		raftAddr    = fs.String("raft-addr", cfg.RaftAddr, "Raft bind address")
		grpcAddr    = fs.String("grpc-addr", cfg.GRPCAddr, "gRPC server address")
		httpAddr    = fs.String("http-addr", cfg.HTTPAddr, "HTTP gateway address (empty disables)")
		metricsAddr = fs.String("metrics-addr", cfg.MetricsAddr, "Prometheus metrics address (empty disables)")
		dataDir     = fs.String("data-dir", cfg.DataDir, "Data directory for Raft storage")
		bootstrap   = fs.Bool("bootstrap", cfg.Bootstrap, "Bootstrap a new cluster")
		peers       = fs.String("peers", "", "Voters to add once leader, as id@addr,id@addr")
		logLevel    = fs.String("log-level", cfg.LogLevel, "Log level")
	)
	fs.Parse(args)

	logger := newLogger(hclog.LevelFromString(*logLevel))

	nid, err := parseNodeID(*nodeID)
	if err != nil {
		return err
	}
	if *nodeID == "" {
		logger.Info("generated node id", "node_id", nid)
	}
	voters, err := parsePeers(*peers)
	if err != nil {
		return err
	}

	logger.Info("starting tabsession node",
		"node_id", nid, "raft", *raftAddr, "grpc", *grpcAddr, "http", *httpAddr,
		"metrics", *metricsAddr, "data", *dataDir, "bootstrap", *bootstrap)

	node, err := raft.NewNode(&raft.Config{
		NodeID:    nid,
		BindAddr:  *raftAddr,
		DataDir:   *dataDir,
		Bootstrap: *bootstrap,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create raft node: %w", err)
	}
	defer node.Shutdown()

	if len(voters) > 0 {
		go addVoters(node, voters, logger)
	}

	grpcServer := grpc.NewServer()
	pb.RegisterOwnershipStoreServer(grpcServer, server.NewServer(node, logger))

	listener, err := net.Listen("tcp", *grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", *grpcAddr, err)
	}

	errCh := make(chan error, 3)
	go func() {
		logger.Info("gRPC server listening", "addr", *grpcAddr)
		if err := grpcServer.Serve(listener); err != nil {
			errCh <- fmt.Errorf("gRPC server failed: %w", err)
		}
	}()

	var gwServer *gateway.Server
	if *httpAddr != "" {
		gwServer = gateway.NewServer(*httpAddr, listener.Addr().String())
		go func() {
			logger.Info("HTTP gateway listening", "addr", *httpAddr)
			if err := gwServer.Start(context.Background()); err != nil {
				errCh <- err
			}
		}()
	}

	metricsServer := startMetrics(*metricsAddr, logger, errCh)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("tabsession is ready")
	select {
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	case err = <-errCh:
	}

	grpcServer.GracefulStop()
	if gwServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		gwServer.Stop(shutdownCtx)
		cancel()
	}
	if metricsServer != nil {
		metricsServer.Close()
	}
	return err
}

func addVoters(node *raft.Node, voters map[uuid.UUID]string, logger hclog.Logger) {
	if err := node.WaitForLeader(30 * time.Second); err != nil {
		logger.Warn("no leader, peers not added", "error", err)
		return
	}
	if !node.IsLeader() {
		logger.Info("not the leader, leaving membership to it", "leader", node.GetLeader())
		return
	}
	for id, addr := range voters {
		if err := node.AddVoter(id, addr); err != nil {
			logger.Warn("failed to add voter", "node_id", id, "addr", addr, "error", err)
			continue
		}
		logger.Info("voter added", "node_id", id, "addr", addr)
	}
}

func tab(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("tab", flag.ExitOnError)
	var (
		addr        = fs.String("addr", cfg.GRPCAddr, "gRPC address of a serve node")
		dir         = fs.String("dir", "", "Share the session through this directory instead of a server")
		id          = fs.String("id", "", "Context identity (generates UUID if empty)")
		timeout     = fs.Duration("timeout", cfg.RPCTimeout, "Per call timeout against the server")
		sessionKey  = fs.String("session-key", cfg.SessionKey, "Activity flag key")
		ownerKey    = fs.String("owner-key", cfg.OwnerKey, "Owner token key")
		metricsAddr = fs.String("metrics-addr", "", "Prometheus metrics address for this context (empty disables)")
		logLevel    = fs.String("log-level", cfg.LogLevel, "Log level")
	)
	fs.Parse(args)

	cfg, err := tabConfig(cfg, *sessionKey, *ownerKey, *timeout, *logLevel)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Level())

	var backend store.Backend
	if *dir != "" {
		d, err := filestore.Open(*dir, logger)
		if err != nil {
			return err
		}
		backend = d
	} else {
		c, err := client.NewClient(*addr, client.Options{Timeout: cfg.RPCTimeout, Logger: logger})
		if err != nil {
			return err
		}
		defer c.Close()
		backend = c
	}

	contextID := *id
	if contextID == "" {
		contextID = uuid.NewString()
	}

	errCh := make(chan error, 1)
	if metricsServer := startMetrics(*metricsAddr, logger, errCh); metricsServer != nil {
		defer metricsServer.Close()
	}

	//termination releases ownership, so signals must reach runTab's cleanup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		select {
		case err := <-errCh:
			logger.Warn("metrics endpoint stopped", "error", err)
		case <-ctx.Done():
		}
	}()

	return runTab(ctx, tabOptions{
		Backend:   backend,
		ContextID: contextID,
		Keys:      cfg.Keys(),
		Logger:    logger,
		In:        os.Stdin,
		Out:       os.Stdout,
	})
}

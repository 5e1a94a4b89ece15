package raft

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	"github.com/pixperk/tabsession/pkg/fsm"
	"github.com/pixperk/tabsession/pkg/metrics"
	"github.com/pixperk/tabsession/pkg/storage"
	"github.com/pixperk/tabsession/pkg/types"
)

const defaultApplyTimeout = 5 * time.Second

// wraps a raft inst with our key-value fsm and provides a clean api
type Node struct {
	raft    *raft.Raft
	fsm     *fsm.FSM
	raftFSM *fsm.RaftFSM
	storage *storage.BoltDBStorage
	cfg     *Config
	logger  hclog.Logger

	stopLeaderWatch chan struct{}
}

type Config struct {
	NodeID       uuid.UUID     //unique ID for this node
	BindAddr     string        //net addr to bind Raft communication
	DataDir      string        //data directory for Raft storage
	Bootstrap    bool          //if this is the first node in the cluster
	ApplyTimeout time.Duration //how long a write may wait for commit
	Logger       hclog.Logger
}

func NewNode(cfg *Config) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("raft")

	raftFSM := fsm.NewRaftFSM()
	stateMachine := raftFSM.GetFSM()

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID.String())
	raftCfg.Logger = logger

	raftCfg.HeartbeatTimeout = 1000 * time.Millisecond
	raftCfg.ElectionTimeout = 1000 * time.Millisecond
	raftCfg.CommitTimeout = 50 * time.Millisecond //time to wait before committing entries
	raftCfg.SnapshotThreshold = 8192              // snapshot after 8K log entries

	//add boltDB storage
	raftStorage, err := storage.NewBoltDBStorage(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create stores: %w", err)
	}

	//tcp transport for inter-node communication
	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		raftStorage.Close()
		return nil, fmt.Errorf("failed to resolve bind addr: %w", err)
	}

	transport, err := raft.NewTCPTransportWithLogger(cfg.BindAddr, addr, 3, 10*time.Second, logger.Named("transport"))
	if err != nil {
		raftStorage.Close()
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, raftFSM, raftStorage.LogStore, raftStorage.StableStore, raftStorage.SnapshotStore, transport)
	if err != nil {
		transport.Close()
		raftStorage.Close()
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	//bootstrap if needed
	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raftCfg.LocalID,
					Address: transport.LocalAddr(),
				},
			},
		}

		//an already bootstrapped data dir is fine on restart
		if err := r.BootstrapCluster(configuration).Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
			logger.Warn("bootstrap failed", "error", err)
		}
	}

	n := &Node{
		raft:            r,
		fsm:             stateMachine,
		raftFSM:         raftFSM,
		storage:         raftStorage,
		cfg:             cfg,
		logger:          logger,
		stopLeaderWatch: make(chan struct{}),
	}
	go n.watchLeadership()

	return n, nil
}

// keeps the leader gauge current
func (n *Node) watchLeadership() {
	ch := n.raft.LeaderCh()
	for {
		select {
		case isLeader := <-ch:
			if isLeader {
				metrics.RaftIsLeader.Set(1)
				n.logger.Info("acquired raft leadership")
			} else {
				metrics.RaftIsLeader.Set(0)
			}
		case <-n.stopLeaderWatch:
			return
		}
	}
}

// apply a command to the Raft cluster
func (n *Node) Apply(cmd types.Command) (any, error) {
	data, err := types.EncodeCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}

	timeout := n.cfg.ApplyTimeout
	if timeout <= 0 {
		timeout = defaultApplyTimeout
	}

	//replicate to cluster via Raft
	future := n.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return nil, fmt.Errorf("%w (leader is %q)", types.ErrNotLeader, n.GetLeader())
		}
		return nil, fmt.Errorf("failed to apply command: %w", err)
	}

	//the fsm reports domain errors as the response value
	if err, ok := future.Response().(error); ok {
		return nil, err
	}
	return future.Response(), nil
}

// adds a node to the cluster, must run on the leader
func (n *Node) AddVoter(nodeID uuid.UUID, addr string) error {
	future := n.raft.AddVoter(raft.ServerID(nodeID.String()), raft.ServerAddress(addr), 0, 0)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter %s: %w", nodeID, err)
	}
	return nil
}

// returns true if this node is the leader
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// returns the leader's address
func (n *Node) GetLeader() string {
	leaderAddr, _ := n.raft.LeaderWithID()
	return string(leaderAddr)
}

func (n *Node) GetNodeID() uuid.UUID {
	return n.cfg.NodeID
}

// blocks until a leader is elected
func (n *Node) WaitForLeader(timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	timeoutCh := time.After(timeout)

	for {
		select {
		case <-timeoutCh:
			return fmt.Errorf("no leader elected within timeout")
		case <-ticker.C:
			if n.GetLeader() != "" {
				return nil
			}
		}
	}
}

// forces a snapshot of the key-value state
func (n *Node) Snapshot() error {
	return n.raft.Snapshot().Error()
}

// returns FSM statistics
func (n *Node) Stats() fsm.Stats {
	return n.fsm.Stats()
}

// gracefully shuts down the Raft node
func (n *Node) Shutdown() error {
	select {
	case <-n.stopLeaderWatch:
		return nil
	default:
		close(n.stopLeaderWatch)
	}

	err := n.raft.Shutdown().Error()
	if cerr := n.storage.Close(); err == nil {
		err = cerr
	}
	return err
}

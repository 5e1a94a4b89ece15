package fsm

import (
	"encoding/json"
	"io"

	"github.com/hashicorp/raft"
	"github.com/pixperk/tabsession/pkg/metrics"
	"github.com/pixperk/tabsession/pkg/types"
)

// adapter to bridge Raft FSM with our internal FSM
type RaftFSM struct {
	fsm *FSM
}

func NewRaftFSM() *RaftFSM {
	return &RaftFSM{
		fsm: NewFSM(),
	}
}

// the state machine raft drives
func (rf *RaftFSM) GetFSM() *FSM {
	return rf.fsm
}

func (rf *RaftFSM) Apply(log *raft.Log) any {
	//s1 : decode the protobuf wire payload
	cmd, err := types.DecodeCommand(log.Data)
	if err != nil {
		return err
	}

	//s2 : apply command to FSM
	result, err := rf.fsm.Apply(cmd)
	metrics.RaftAppliedIndex.Set(float64(log.Index))
	if err != nil {
		return err
	}

	return result
}

// create a snapshot of the current FSM state
func (rf *RaftFSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{Data: rf.fsm.Data()}, nil
}

// restores FSM state from snapshot
// when a node falls behind and needs to catch up or a new node joins
func (rf *RaftFSM) Restore(snapshot io.ReadCloser) error {
	defer snapshot.Close()

	var snap fsmSnapshot
	if err := json.NewDecoder(snapshot).Decode(&snap); err != nil {
		return err
	}
	if snap.Data == nil {
		snap.Data = make(map[string]string)
	}

	rf.fsm.replace(snap.Data)
	return nil
}

// point-in-time snapshot of FSM state
type fsmSnapshot struct {
	Data map[string]string `json:"data"`
}

// persist snapshot to given sink
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s); err != nil {
		sink.Cancel() //fail snapshot on error
		return err
	}
	return sink.Close() //mark snapshot as complete
}

// called when snapshot is no longer needed
// we have no resources to clean up here
func (s *fsmSnapshot) Release() {}

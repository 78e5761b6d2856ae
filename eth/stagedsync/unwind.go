package stagedsync

import (
	"github.com/erigontech/stateroot/eth/stagedsync/stages"
	"github.com/erigontech/stateroot/kv"
)

// UnwindState contains the information about unwind.
type UnwindState struct {
	// ID is the ID of the stage
	ID stages.SyncStage
	// UnwindPoint is the block to unwind to.
	UnwindPoint uint64
}

func (u *UnwindState) LogPrefix() string { return string(u.ID) }

// Done updates the DB state of the stage.
func (u *UnwindState) Done(db kv.Putter) error {
	return stages.SaveStageProgress(db, u.ID, u.UnwindPoint)
}

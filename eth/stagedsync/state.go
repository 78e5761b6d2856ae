package stagedsync

import (
	"fmt"

	"github.com/erigontech/stateroot/eth/stagedsync/stages"
	"github.com/erigontech/stateroot/kv"
)

// StageState is the state of the stage.
type StageState struct {
	ID stages.SyncStage
	// BlockNumber is the current block number of the stage at the beginning of the state execution.
	BlockNumber uint64
}

func (s *StageState) LogPrefix() string { return string(s.ID) }

// Update updates the stage state (current block number) in the database. Can be called multiple times during stage execution.
func (s *StageState) Update(db kv.Putter, newBlockNum uint64) error {
	return stages.SaveStageProgress(db, s.ID, newBlockNum)
}

// ReadStageState - current progress of the stage
func ReadStageState(db kv.Getter, id stages.SyncStage) (*StageState, error) {
	blockNum, err := stages.GetStageProgress(db, id)
	if err != nil {
		return nil, fmt.Errorf("reading %s progress: %w", id, err)
	}
	return &StageState{ID: id, BlockNumber: blockNum}, nil
}

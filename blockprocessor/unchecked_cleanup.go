package blockprocessor

import (
	"time"

	"github.com/tundak/nano-node-sub003/types"
)

const uncheckedDeletionBatch = 1000

type uncheckedKey struct {
	dependency types.Hash
	hash       types.Hash
}

func (processor *BlockProcessor) cleanupLoop() {
	defer processor.wg.Done()

	ticker := time.NewTicker(processor.Config.UncheckedCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-processor.stop:
			return
		case <-ticker.C:
			removed, err := processor.CleanupUnchecked(time.Now())
			if err != nil {
				processor.logger.Errorf("Error cleaning up unchecked blocks: %s", err)
			} else if removed > 0 {
				processor.logger.Infof("Removed %d old unchecked blocks", removed)
			}
		}
	}
}

// CleanupUnchecked deletes unchecked blocks that have been waiting longer than
// UncheckedCutoff.
func (processor *BlockProcessor) CleanupUnchecked(now time.Time) (int, error) {
	cutoff := uint64(now.Add(-processor.Config.UncheckedCutoff).Unix())

	var expired []uncheckedKey
	txn := processor.store.TxBeginRead()
	err := txn.IterateUnchecked(func(dependency types.Hash, info *types.UncheckedInfo) bool {
		if info.Modified < cutoff {
			expired = append(expired, uncheckedKey{dependency, info.Block.Hash()})
		}

		return true
	})
	txn.Discard()

	if err != nil {
		return 0, err
	}

	for start := 0; start < len(expired); start += uncheckedDeletionBatch {
		end := min(start+uncheckedDeletionBatch, len(expired))

		txn := processor.store.TxBeginWrite()
		for _, key := range expired[start:end] {
			if err := txn.DeleteUnchecked(key.dependency, key.hash); err != nil {
				txn.Discard()
				return start, err
			}
		}

		if err := txn.Commit(); err != nil {
			return start, err
		}
	}

	return len(expired), nil
}

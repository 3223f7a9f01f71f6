package database

import (
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// txnTracker reports write transactions that were held for too long, along
// with where they were opened.
type txnTracker struct {
	threshold time.Duration
	logger    *logrus.Entry

	open      map[*Transaction]struct{}
	openMutex sync.Mutex
}

func newTxnTracker(threshold time.Duration, logger *logrus.Entry) *txnTracker {
	return &txnTracker{
		threshold: threshold,
		logger:    logger,
		open:      make(map[*Transaction]struct{}),
	}
}

func (tracker *txnTracker) begin(txn *Transaction) {
	if tracker.threshold == 0 {
		return
	}

	stack := make([]byte, 4096)
	txn.stack = stack[:runtime.Stack(stack, false)]

	tracker.openMutex.Lock()
	tracker.open[txn] = struct{}{}
	tracker.openMutex.Unlock()
}

func (tracker *txnTracker) end(txn *Transaction) {
	if tracker.threshold == 0 {
		return
	}

	tracker.openMutex.Lock()
	delete(tracker.open, txn)
	tracker.openMutex.Unlock()

	held := time.Since(txn.started)
	if held > tracker.threshold {
		tracker.logger.Warnf("Write transaction held for %s (limit %s), opened by:\n%s", held, tracker.threshold, txn.stack)
	}
}

// Held returns how many write transactions are currently open.
func (tracker *txnTracker) Held() int {
	tracker.openMutex.Lock()
	defer tracker.openMutex.Unlock()

	return len(tracker.open)
}

func (db *Database) OpenWriteTxns() int {
	return db.tracker.Held()
}

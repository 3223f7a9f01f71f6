package work

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tundak/nano-node-sub003/types"
)

var (
	ErrCancelled = errors.New("work generation cancelled")
	ErrNoWorkers = errors.New("no work generation threads configured")
)

// Nonces tried between two checks of the ticket.
const iterationBatch = 256

// ExternalGenerator is an alternative work source (a GPU driver, a remote work
// peer) raced against the CPU threads.
type ExternalGenerator interface {
	Generate(ctx context.Context, root types.Hash, difficulty uint64) (types.Work, error)
}

type Config struct {
	Threads uint `validate:"max=64"`
	// Sleep after every batch of attempts, caps CPU usage.
	SleepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{Threads: uint(min(runtime.NumCPU(), 64))}
}

type job struct {
	root       types.Hash
	difficulty uint64
	callback   func(types.Work, bool)

	cancelExternal context.CancelFunc
	once           sync.Once
}

func (j *job) finish(work types.Work, ok bool) {
	j.once.Do(func() {
		if j.cancelExternal != nil {
			j.cancelExternal()
		}

		j.callback(work, ok)
	})
}

// Pool runs proof of work jobs one at a time, front of the queue first. Every
// thread works on the front job; the ticket changes whenever that job is done
// or cancelled so the others drop it.
type Pool struct {
	External ExternalGenerator

	threads int
	sleep   time.Duration

	pending      []*job
	pendingMutex sync.Mutex
	pendingCond  *sync.Cond
	ticket       atomic.Uint64
	done         bool

	workersWG sync.WaitGroup
	logger    *logrus.Entry
}

func NewPool(cfg *Config, external ExternalGenerator, logger *logrus.Entry) *Pool {
	pool := &Pool{
		External: external,
		threads:  int(cfg.Threads),
		sleep:    cfg.SleepInterval,
		logger:   logger,
	}
	pool.pendingCond = sync.NewCond(&pool.pendingMutex)

	return pool
}

func (pool *Pool) Start() {
	for i := 0; i < pool.threads; i++ {
		pool.workersWG.Add(1)
		go pool.loop()
	}

	pool.logger.Infof("Started %d work threads", pool.threads)
}

func newRand() *rand.Rand {
	var seed [16]byte
	crand.Read(seed[:])

	return rand.New(rand.NewPCG(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:])))
}

func (pool *Pool) loop() {
	defer pool.workersWG.Done()

	rng := newRand()

	pool.pendingMutex.Lock()
	for !pool.done {
		if len(pool.pending) == 0 {
			pool.pendingCond.Wait()
			continue
		}

		current := pool.pending[0]
		ticket := pool.ticket.Load()
		pool.pendingMutex.Unlock()

		var nonce types.Work
		found := false
		for !found && pool.ticket.Load() == ticket {
			for i := 0; i < iterationBatch; i++ {
				nonce = types.Work(rng.Uint64())
				if Difficulty(current.root, nonce) >= current.difficulty {
					found = true
					break
				}
			}

			if !found && pool.sleep > 0 {
				time.Sleep(pool.sleep)
			}
		}

		pool.pendingMutex.Lock()
		if found && pool.ticket.Load() == ticket {
			pool.ticket.Add(1)
			pool.pending = pool.pending[1:]

			pool.pendingMutex.Unlock()
			current.finish(nonce, true)
			pool.pendingMutex.Lock()
		}
	}
	pool.pendingMutex.Unlock()
}

// complete resolves j from outside the CPU threads.
func (pool *Pool) complete(j *job, work types.Work) {
	pool.pendingMutex.Lock()
	for i, candidate := range pool.pending {
		if candidate != j {
			continue
		}

		if i == 0 {
			pool.ticket.Add(1)
		}

		pool.pending = append(pool.pending[:i], pool.pending[i+1:]...)
		break
	}
	pool.pendingMutex.Unlock()

	j.finish(work, true)
}

// GenerateAsync queues a job; callback receives the nonce, or ok=false when
// the job was cancelled or the pool stopped.
func (pool *Pool) GenerateAsync(root types.Hash, difficulty uint64, callback func(work types.Work, ok bool)) {
	j := &job{root: root, difficulty: difficulty, callback: callback}

	if pool.threads == 0 && pool.External == nil {
		j.finish(0, false)
		return
	}

	pool.pendingMutex.Lock()
	if pool.done {
		pool.pendingMutex.Unlock()
		j.finish(0, false)
		return
	}

	if pool.External != nil {
		var ctx context.Context
		ctx, j.cancelExternal = context.WithCancel(context.Background())
		go pool.runExternal(ctx, j)
	}

	pool.pending = append(pool.pending, j)
	pool.pendingMutex.Unlock()
	pool.pendingCond.Broadcast()
}

func (pool *Pool) runExternal(ctx context.Context, j *job) {
	work, err := pool.External.Generate(ctx, j.root, j.difficulty)
	if err != nil {
		if ctx.Err() == nil {
			pool.logger.Warnf("External work generation for %s failed: %s", j.root, err)
		}
		return
	}

	if Difficulty(j.root, work) < j.difficulty {
		pool.logger.Warnf("External work %s for %s is below difficulty %016x", work.ToHexString(), j.root, j.difficulty)
		return
	}

	pool.complete(j, work)
}

func (pool *Pool) GenerateContext(ctx context.Context, root types.Hash, difficulty uint64) (types.Work, error) {
	type result struct {
		work types.Work
		ok   bool
	}

	results := make(chan result, 1)
	pool.GenerateAsync(root, difficulty, func(work types.Work, ok bool) {
		results <- result{work, ok}
	})

	select {
	case res := <-results:
		if !res.ok {
			if pool.threads == 0 && pool.External == nil {
				return 0, ErrNoWorkers
			}
			return 0, ErrCancelled
		}
		return res.work, nil
	case <-ctx.Done():
		pool.Cancel(root)
		return 0, errors.Wrap(ErrCancelled, ctx.Err().Error())
	}
}

func (pool *Pool) Generate(root types.Hash, difficulty uint64) (types.Work, error) {
	return pool.GenerateContext(context.Background(), root, difficulty)
}

// Cancel drops every queued job for root.
func (pool *Pool) Cancel(root types.Hash) {
	var cancelled []*job

	pool.pendingMutex.Lock()
	kept := pool.pending[:0]
	for i, j := range pool.pending {
		if j.root != root {
			kept = append(kept, j)
			continue
		}

		if i == 0 {
			pool.ticket.Add(1)
		}
		cancelled = append(cancelled, j)
	}
	pool.pending = kept
	pool.pendingMutex.Unlock()

	for _, j := range cancelled {
		j.finish(0, false)
	}
}

func (pool *Pool) Size() int {
	pool.pendingMutex.Lock()
	defer pool.pendingMutex.Unlock()

	return len(pool.pending)
}

func (pool *Pool) Stop() {
	pool.pendingMutex.Lock()
	pool.done = true
	pool.ticket.Add(1)
	cancelled := pool.pending
	pool.pending = nil
	pool.pendingMutex.Unlock()
	pool.pendingCond.Broadcast()

	for _, j := range cancelled {
		j.finish(0, false)
	}

	pool.workersWG.Wait()
}

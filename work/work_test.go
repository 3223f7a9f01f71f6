package work

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/params"
	"github.com/tundak/nano-node-sub003/types"
	"github.com/tundak/nano-node-sub003/utils"
)

func TestMultiplierRoundTrip(t *testing.T) {
	base := uint64(0xff00000000000000)
	difficulty := uint64(0xfff27e7a57c285cd)
	expected := 18.95461493377003

	multiplier := ToMultiplier(difficulty, base)
	if math.Abs(multiplier-expected) > 1e-10 {
		t.Fatalf("multiplier %v, want %v", multiplier, expected)
	}

	if got := FromMultiplier(expected, base); got != difficulty {
		t.Fatalf("FromMultiplier gave %016x, want %016x", got, difficulty)
	}
}

func TestMultiplierIdentity(t *testing.T) {
	for _, base := range []uint64{0xffffffc000000000, 0xfffff00000000000, 0xff00000000000000} {
		if m := ToMultiplier(base, base); m != 1 {
			t.Errorf("%016x relative to itself is %v", base, m)
		}

		if d := FromMultiplier(1, base); d != base {
			t.Errorf("FromMultiplier(1, %016x) = %016x", base, d)
		}
	}
}

func TestMultiplierBounds(t *testing.T) {
	base := uint64(0xff00000000000000)

	if d := FromMultiplier(1e30, base); d != math.MaxUint64 {
		t.Errorf("huge multiplier gave %016x", d)
	}

	if d := FromMultiplier(0.001, base); d != 0 {
		t.Errorf("tiny multiplier gave %016x", d)
	}

	if d := FromMultiplier(ToMultiplier(math.MaxUint64, base), base); d != math.MaxUint64 {
		t.Errorf("hardest difficulty came back as %016x", d)
	}

	// Near zero the distance to 2^64 is below float64 precision, one ulp there
	// is 4096.
	if d := FromMultiplier(ToMultiplier(1, base), base); d > 4096 {
		t.Errorf("easiest difficulty came back as %016x", d)
	}
}

func TestGenesisWorkMeetsThreshold(t *testing.T) {
	for _, network := range []params.Network{params.NETWORK_LIVE, params.NETWORK_BETA, params.NETWORK_TEST} {
		p := params.New(network)
		if difficulty := BlockDifficulty(p.Genesis.Block); difficulty < p.PublishThreshold {
			t.Errorf("%s genesis difficulty %016x below %016x", network, difficulty, p.PublishThreshold)
		}
	}
}

func newTestPool(threads uint, external ExternalGenerator) *Pool {
	pool := NewPool(&Config{Threads: threads}, external, utils.NewLogger("Work", false))
	pool.Start()

	return pool
}

func TestGenerate(t *testing.T) {
	pool := newTestPool(2, nil)
	defer pool.Stop()

	threshold := params.New(params.NETWORK_TEST).PublishThreshold
	root := types.Hash{1, 2, 3}

	work, err := pool.Generate(root, threshold)
	if err != nil {
		t.Fatal(err)
	}

	if Difficulty(root, work) < threshold {
		t.Fatalf("generated work %s is below threshold", work.ToHexString())
	}

	if pool.Size() != 0 {
		t.Fatalf("queue should be empty, has %d", pool.Size())
	}
}

func TestCancel(t *testing.T) {
	pool := newTestPool(1, nil)
	defer pool.Stop()

	root := types.Hash{4}
	result := make(chan error, 1)
	go func() {
		_, err := pool.Generate(root, math.MaxUint64)
		result <- err
	}()

	for pool.Size() == 0 {
		time.Sleep(time.Millisecond)
	}

	pool.Cancel(root)

	select {
	case err := <-result:
		if err != ErrCancelled {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled generation did not return")
	}
}

func TestGenerateContextDeadline(t *testing.T) {
	pool := newTestPool(1, nil)
	defer pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := pool.GenerateContext(ctx, types.Hash{5}, math.MaxUint64)
	if errors.Cause(err) != ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

type fixedGenerator struct {
	work types.Work
}

func (generator fixedGenerator) Generate(ctx context.Context, root types.Hash, difficulty uint64) (types.Work, error) {
	return generator.work, nil
}

func TestExternalGeneratorWins(t *testing.T) {
	genesis := params.New(params.NETWORK_TEST).Genesis
	threshold := params.New(params.NETWORK_TEST).PublishThreshold

	// No CPU threads, only the external source can answer.
	pool := newTestPool(0, fixedGenerator{work: genesis.Block.Work})
	defer pool.Stop()

	work, err := pool.Generate(genesis.Block.Root(), threshold)
	if err != nil {
		t.Fatal(err)
	}

	if work != genesis.Block.Work {
		t.Fatalf("expected external work, got %s", work.ToHexString())
	}
}

func TestNoWorkers(t *testing.T) {
	pool := newTestPool(0, nil)
	defer pool.Stop()

	if _, err := pool.Generate(types.Hash{}, 1); err != ErrNoWorkers {
		t.Fatalf("expected ErrNoWorkers, got %v", err)
	}
}

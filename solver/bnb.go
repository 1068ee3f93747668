package solver

import (
	"context"
	"math"
	"sync"
)

// MILPOptions configures one SolveMILP call.
type MILPOptions struct {
	// Workers bounds how many LP relaxations are solved concurrently.
	// Defaults to 1 (sequential depth-first search) if <= 0.
	Workers int

	// Instrumentation observes the search tree; defaults to a no-op.
	Instrumentation BnbMiddleware

	// StopOnFirstFeasible ends the search the moment any integer-feasible
	// node is found, instead of continuing to prove optimality. Used by
	// callers that only need feasibility, e.g. the MIP local search.
	StopOnFirstFeasible bool
}

// job is one pending branch-and-bound node: a solver clone carrying
// whatever extra rows its ancestors' branching decisions added.
type job struct {
	s      *Solver
	id     int64
	parent int64
}

// bnbSearch is the shared state the worker pool coordinates through.
// Picking the next node, updating the incumbent, and deciding whether to
// branch are folded into whichever worker goroutine is running, guarded
// by one mutex: branch-and-bound's sequential dependency (a new incumbent
// prunes siblings) makes a single shared critical section simpler than
// partitioning work ahead of time.
type bnbSearch struct {
	mu    sync.Mutex
	cond  *sync.Cond
	stack []job

	outstanding int // nodes queued or currently being processed
	done        bool

	binaries []int
	mw       BnbMiddleware
	nextID   int64

	incumbentX    []float64
	incumbentZ    float64
	foundFeasible bool

	stopOnFirstFeasible bool
	stoppedEarly        bool
}

// SolveMILP runs branch-and-bound over this context's model, branching on
// fractional binaries with mostFractionalBinary and pruning by LP bound,
// infeasibility, and integrality. Nodes are solver clones carrying their
// ancestors' branching rows; workers pop them off a shared stack.
func (s *Solver) SolveMILP(ctx context.Context, opts MILPOptions) (Status, []float64, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	mw := opts.Instrumentation
	if mw == nil {
		mw = dummyMiddleware{}
	}

	search := &bnbSearch{
		binaries:            s.m.BinaryIndices(),
		mw:                  mw,
		incumbentZ:          math.Inf(1),
		stopOnFirstFeasible: opts.StopOnFirstFeasible,
	}
	search.cond = sync.NewCond(&search.mu)

	search.stack = append(search.stack, job{s: s.Clone(), id: 0, parent: 0})
	search.outstanding = 1
	mw.NewSubProblem(0, 0)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			search.worker(ctx)
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		// Partial results are accepted iff an incumbent exists at the time
		// of abort; an aborted search that already holds a feasible point
		// reports Feasible, not Aborted.
		if search.foundFeasible {
			return StatusFeasible, search.incumbentX, nil
		}
		return StatusAborted, nil, ctx.Err()
	}
	if !search.foundFeasible {
		return StatusInfeasible, nil, ErrNoIntegerFeasible
	}
	if search.stoppedEarly {
		// The search ended at the first incumbent without exhausting the
		// tree, so the incumbent is feasible but not proven optimal.
		return StatusFeasible, search.incumbentX, nil
	}
	return StatusOptimal, search.incumbentX, nil
}

func (b *bnbSearch) worker(ctx context.Context) {
	for {
		b.mu.Lock()
		for len(b.stack) == 0 && b.outstanding > 0 && !b.done {
			b.cond.Wait()
		}
		if b.done || (len(b.stack) == 0 && b.outstanding == 0) {
			b.done = true
			b.cond.Broadcast()
			b.mu.Unlock()
			return
		}
		n := b.stack[len(b.stack)-1]
		b.stack = b.stack[:len(b.stack)-1]
		b.mu.Unlock()

		b.processNode(ctx, n)

		b.mu.Lock()
		b.outstanding--
		if b.outstanding == 0 || ctx.Err() != nil {
			b.done = true
		}
		b.cond.Broadcast()
		b.mu.Unlock()
	}
}

func (b *bnbSearch) processNode(ctx context.Context, n job) {
	if ctx.Err() != nil {
		return
	}

	status, err := n.s.SolveLP()
	result := nodeResult{ID: n.id, Parent: n.parent, Z: n.s.LastObjective(), X: n.s.Primal(), Err: err}

	if status == StatusInfeasible {
		b.mw.ProcessDecision(result, subproblemInfeasible)
		return
	}
	if status == StatusFailed || status == StatusUnbounded {
		b.mw.ProcessDecision(result, subproblemDegenerate)
		return
	}

	z := result.Z

	b.mu.Lock()
	bound := b.incumbentZ
	b.mu.Unlock()
	if z-bound > -1e-9 {
		b.mw.ProcessDecision(result, worseThanIncumbent)
		return
	}

	branchOn, fractional := mostFractionalBinary(n.s.Primal(), b.binaries)
	if !fractional {
		b.mu.Lock()
		if z < b.incumbentZ {
			b.incumbentZ = z
			b.incumbentX = append([]float64(nil), n.s.Primal()...)
			b.foundFeasible = true
		}
		if b.stopOnFirstFeasible {
			b.done = true
			b.stoppedEarly = true
			b.stack = nil
			b.cond.Broadcast()
		}
		b.mu.Unlock()
		b.mw.ProcessDecision(result, betterThanIncumbentFeasible)
		return
	}

	b.mw.ProcessDecision(result, betterThanIncumbentBranch)

	left := n.s.Clone()
	leftRow := make([]float64, left.NumVars())
	leftRow[branchOn] = 1
	left.AddConstraint(leftRow, 0) // x_branchOn <= 0

	right := n.s.Clone()
	rightRow := make([]float64, right.NumVars())
	rightRow[branchOn] = -1
	right.AddConstraint(rightRow, -1) // -x_branchOn <= -1, i.e. x_branchOn >= 1

	b.mu.Lock()
	b.nextID++
	leftID := b.nextID
	b.nextID++
	rightID := b.nextID
	b.stack = append(b.stack, job{s: left, id: leftID, parent: n.id}, job{s: right, id: rightID, parent: n.id})
	b.outstanding += 2
	b.cond.Broadcast()
	b.mu.Unlock()

	b.mw.NewSubProblem(leftID, n.id)
	b.mw.NewSubProblem(rightID, n.id)
}

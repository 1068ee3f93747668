// Package engine wires model, solver, domain, round, ofp, population,
// fixer, localsearch, stopper, and cutpool, plus the GA operator of ga.go,
// into the per-generation orchestrator: the GA produces a generation of
// chromosomes, each is decoded by an ofp.Decoder in parallel, the
// population is re-sorted by fitness, and then (on the master goroutine
// only) the engine may mine round-cuts, run the histogram fixer, and run a
// time-boxed MIP local search, with stopper.Controller polled between
// every phase.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jjhbw/feaspump/cutpool"
	"github.com/jjhbw/feaspump/domain"
	"github.com/jjhbw/feaspump/fixer"
	"github.com/jjhbw/feaspump/internal/rng"
	"github.com/jjhbw/feaspump/localsearch"
	"github.com/jjhbw/feaspump/model"
	"github.com/jjhbw/feaspump/ofp"
	"github.com/jjhbw/feaspump/population"
	"github.com/jjhbw/feaspump/solver"
	"github.com/jjhbw/feaspump/stopper"
)

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// nopLogger discards everything; the Config default when Logger is nil.
type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// StopRuleKind selects the run's termination condition.
type StopRuleKind int

const (
	StopAfterGenerations StopRuleKind = iota
	StopAtTarget
	StopAfterNoImprovement
)

// StopRule configures one termination condition; only the field matching
// Kind is consulted.
type StopRule struct {
	Kind StopRuleKind

	Generations              int     // StopAfterGenerations
	Target                   float64 // StopAtTarget: stop once a feasible incumbent's objective reaches this value
	NoImprovementGenerations int     // StopAfterNoImprovement
}

// Config is the engine's configuration.
type Config struct {
	NumThreads int
	Seed       uint64

	PopulationSize int
	GA             GAParams

	OFP ofp.Params

	// MinimizationFactorDecay multiplies OFP.MinimizationFactor after every
	// generation.
	MinimizationFactorDecay float64

	VarFixingType       fixer.FixingType
	VarFixingPercentage float64
	// VarFixingRate runs the histogram fixer every VarFixingRate
	// generations; 0 disables it.
	VarFixingRate int

	ConstraintFiltering localsearch.FilteringPolicy

	// MIPLocalSearchThreshold gates local search on the current best
	// chromosome's fraction of non-integral binaries: local search only
	// runs when that fraction is <= threshold.
	MIPLocalSearchThreshold float64
	MIPLocalSearchDiscrepancy float64
	MIPLocalSearchUnfixLevels int
	// MIPLocalSearchMaxTime bounds one local-search call directly; if zero,
	// the call is instead bounded by the remaining global budget minus
	// mipLocalSearchSafety.
	MIPLocalSearchMaxTime time.Duration

	// RoundCutsPercentage is the share of each sorted generation (best
	// first) whose whole-pattern rounding is unconditionally mined into a
	// no-good cut, deduplicated by cutpool.Pool.
	RoundCutsPercentage float64

	StopRule  StopRule
	MaxTime   time.Duration
	ClockKind stopper.ClockKind

	Logger Logger
}

// DefaultConfig returns a usable default configuration.
func DefaultConfig() Config {
	return Config{
		NumThreads:                4,
		PopulationSize:            50,
		GA:                        DefaultGAParams(),
		OFP:                       ofp.NewParams(),
		MinimizationFactorDecay:   0.95,
		VarFixingType:             fixer.Automatic,
		VarFixingPercentage:       0, // 0 => calibrate automatically
		VarFixingRate:             5,
		ConstraintFiltering:       localsearch.NonzeroDualsOrZeroSlacks,
		MIPLocalSearchThreshold:   0.2,
		MIPLocalSearchDiscrepancy: 0.1,
		MIPLocalSearchUnfixLevels: 1,
		RoundCutsPercentage:       0.1,
		StopRule:                  StopRule{Kind: StopAfterGenerations, Generations: 200},
		MaxTime:                   0,
		ClockKind:                 stopper.Wall,
	}
}

// mipLocalSearchSafety is subtracted from the remaining global budget when
// deriving a per-call local-search budget, leaving the master room to wind
// the run down inside the global deadline.
const mipLocalSearchSafety = 200 * time.Millisecond

// Status is the outcome of one Run.
type Status int

const (
	// StatusInfeasibleWithinBudget reports that the configured stop
	// condition was reached with no feasible incumbent found.
	StatusInfeasibleWithinBudget Status = iota
	// StatusFeasible reports a feasible incumbent was found; this is
	// sticky (an adopted incumbent is never replaced by an infeasible
	// one) and takes priority over StatusAborted.
	StatusFeasible
	// StatusAborted reports the run was interrupted (stopper.Controller's
	// atomic interrupt flag) before any feasible incumbent was found.
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusFeasible:
		return "feasible"
	case StatusAborted:
		return "aborted"
	default:
		return "infeasible-within-budget"
	}
}

// Result is the engine's output: exit status, the feasible assignment if
// one was found, and aggregate statistics.
type Result struct {
	Status     Status
	Assignment []float64 // valid iff Status == StatusFeasible

	Generations   int
	LPCount       int
	CutsGenerated int
	Elapsed       time.Duration
}

// Engine runs the evolutionary feasibility-pump loop over one model.
type Engine struct {
	m      *model.Model
	cfg    Config
	logger Logger
}

// New builds an Engine over m (which must already pass m.Validate()).
func New(m *model.Model, cfg Config) *Engine {
	if cfg.NumThreads < 1 {
		cfg.NumThreads = 1
	}
	if cfg.PopulationSize < 1 {
		cfg.PopulationSize = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Engine{m: m, cfg: cfg, logger: logger}
}

// worker bundles one goroutine's dedicated solving context: a solver
// clone, a propagation domain, and a decoder with its own RNG and scratch
// buffers.
type worker struct {
	solver  *solver.Solver
	dom     *domain.Domain
	decoder *ofp.Decoder
}

// Run executes the engine until the configured StopRule, MaxTime, or ctx
// fires, whichever comes first.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if err := e.m.Validate(); err != nil {
		return Result{}, fmt.Errorf("engine: invalid model: %w", err)
	}

	binaries := e.m.BinaryIndices()
	numBinaries := len(binaries)
	n := numBinaries + 1 // one trailing gene per chromosome is the decoding seed

	stop := stopper.New(e.cfg.MaxTime, e.cfg.ClockKind)
	stop.WatchInterrupts()
	defer stop.StopWatchingInterrupts()
	runCtx, cancel := stop.Context(ctx)
	defer cancel()

	pool := cutpool.New(len(e.m.Variables))

	masterSolver := solver.New(e.m)
	pool.Watch(masterSolver)

	relaxStatus, err := masterSolver.SolveLP()
	if err != nil || (relaxStatus != solver.StatusOptimal && relaxStatus != solver.StatusFeasible) {
		return Result{Status: StatusInfeasibleWithinBudget}, fmt.Errorf("engine: initial relaxation is not solvable: status=%v err=%v", relaxStatus, err)
	}
	relax := append([]float64(nil), masterSolver.Primal()...)

	workers := make([]worker, e.cfg.NumThreads)
	for i := range workers {
		sc := masterSolver.Clone()
		pool.Watch(sc)
		dom, err := domain.New(e.m)
		if err != nil {
			return Result{Status: StatusInfeasibleWithinBudget}, fmt.Errorf("engine: initial domain is infeasible: %w", err)
		}
		seed := rng.Derive(e.cfg.Seed, i)
		dec := ofp.NewDecoder(sc, e.m, e.cfg.OFP, seed)
		workers[i] = worker{solver: sc, dom: dom, decoder: dec}
	}

	searcher := localsearch.NewSearcher(e.m, e.cfg.ConstraintFiltering, zeros(len(e.m.Rows)), localsearch.ComputeSlacks(e.m, relax), pool)

	fx := fixer.NewFixer(masterSolver, e.m, e.cfg.VarFixingType, e.cfg.VarFixingPercentage, relax)

	masterRNG := rng.New(e.cfg.Seed)

	pop := population.New(n, e.cfg.PopulationSize)
	next := population.New(n, e.cfg.PopulationSize)

	beta := e.cfg.OFP.MinimizationFactor

	var (
		status        = StatusInfeasibleWithinBudget
		incumbent     []float64
		incumbentObj  float64
		haveIncumbent bool
		cutsGenerated int
		lpCount       int
	)

	start := time.Now()
	lastImprovementGen := 0
	bestFitnessSeen := 0.0
	haveBestFitness := false

	recordCandidate := func(x []float64) {
		obj := objectiveValue(e.m, x)
		if !haveIncumbent || better(e.m, obj, incumbentObj) {
			incumbent = append([]float64(nil), x...)
			incumbentObj = obj
			haveIncumbent = true
			e.logger.Printf("engine: feasible incumbent found, objective=%v", obj)
		}
	}

	gen := 0
	for {
		if stop.MustStop() {
			break
		}
		if e.stopRuleSatisfied(gen, haveIncumbent, incumbentObj, lastImprovementGen) {
			break
		}

		if gen == 0 {
			seedRandom(pop, masterRNG)
		} else {
			evolve(pop, next, e.cfg.GA, masterRNG)
			pop, next = next, pop
		}

		results, err := e.decodeGeneration(runCtx, workers, pop, relax, binaries)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return Result{}, fmt.Errorf("engine: generation %d decode failed: %w", gen, err)
		}

		for i, r := range results {
			pop.SetFitness(i, r.Fitness)
		}
		pop.AddLPCount(sumIterations(results))
		lpCount += sumIterations(results)
		pop.SortFitness(false)

		bestIdx, bestFitness := pop.Best()
		if !haveBestFitness || bestFitness < bestFitnessSeen-1e-9 {
			bestFitnessSeen = bestFitness
			haveBestFitness = true
			lastImprovementGen = gen
		}
		if results[bestIdx].IntegerFeasible {
			recordCandidate(results[bestIdx].Values)
		}

		eliteN := eliteCount(pop.P(), e.cfg.GA)
		e.logger.Printf("engine: generation %d best_fitness=%v heterogeneity=%v", gen, bestFitness,
			pop.Heterogeneity(eliteN, func(idx int) string {
				return strconv.FormatUint(cutpool.Hash(onesOf(results[idx].Values, binaries)), 16)
			}))

		beta *= e.cfg.MinimizationFactorDecay
		if beta < 0 {
			beta = 0
		}
		for i := range workers {
			workers[i].decoder.SetMinimizationFactor(beta)
		}

		cutsGenerated += e.mineRoundCuts(pool, pop, results, binaries)

		if stop.MustStop() {
			break
		}

		if e.cfg.VarFixingRate > 0 && gen%e.cfg.VarFixingRate == 0 {
			valuesList := make([][]float64, len(results))
			for i, r := range results {
				valuesList[i] = r.Values
			}
			fres := fx.Fix(runCtx, valuesList)
			if fres.CandidateFound {
				recordCandidate(fres.Candidate)
			}
		}

		if stop.MustStop() {
			break
		}

		if numBinaries > 0 {
			frac := float64(results[bestIdx].NumNonIntegral) / float64(numBinaries)
			if frac <= e.cfg.MIPLocalSearchThreshold {
				budget := e.cfg.MIPLocalSearchMaxTime
				if budget <= 0 {
					budget = stop.Remaining() - mipLocalSearchSafety
				}
				if budget > 0 {
					valuesList := make([][]float64, len(results))
					for i, r := range results {
						valuesList[i] = r.Values
					}
					lsRes := searcher.Search(runCtx, masterSolver, valuesList, localsearch.Params{
						Discrepancy: e.cfg.MIPLocalSearchDiscrepancy,
						UnfixLevel:  e.cfg.MIPLocalSearchUnfixLevels,
						Budget:      budget,
					})
					cutsGenerated += lsRes.CutsAdded
					if lsRes.Status == solver.StatusOptimal || lsRes.Status == solver.StatusFeasible {
						recordCandidate(lsRes.Values)
					}
				}
			}
		}

		gen++
	}

	if haveIncumbent {
		status = StatusFeasible
	} else if stop.Interrupted() {
		status = StatusAborted
	}

	return Result{
		Status:        status,
		Assignment:    incumbent,
		Generations:   gen,
		LPCount:       lpCount,
		CutsGenerated: cutpoolLen(pool, cutsGenerated),
		Elapsed:       time.Since(start),
	}, nil
}

// decodeGeneration runs ofp.Decoder.Decode for every chromosome in pop,
// fanned out over a bounded pool of workers (one goroutine per
// Config.NumThreads), each goroutine processing its share of chromosomes
// sequentially against its own dedicated solver/domain/decoder.
// Parallelism is strictly across chromosomes within one generation.
func (e *Engine) decodeGeneration(ctx context.Context, workers []worker, pop *population.Population, relax []float64, binaries []int) ([]ofp.Result, error) {
	p := pop.P()
	results := make([]ofp.Result, p)

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int, p)
	for i := 0; i < p; i++ {
		jobs <- i
	}
	close(jobs)

	for w := range workers {
		wc := workers[w]
		g.Go(func() error {
			for i := range jobs {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				chr := pop.Chromosome(i)
				x := append([]float64(nil), relax...)
				for bi, j := range binaries {
					x[j] = chr[bi]
				}
				seedGene := chr[len(chr)-1]
				results[i] = wc.decoder.Decode(gctx, x, wc.dom, seedGene)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// mineRoundCuts mines the top RoundCutsPercentage share of the (already
// fitness-sorted) population, best first: each chromosome unconditionally
// contributes a whole-pattern no-good cut from its own rounding,
// deduplicated by cutpool.Pool.
func (e *Engine) mineRoundCuts(pool *cutpool.Pool, pop *population.Population, results []ofp.Result, binaries []int) int {
	if e.cfg.RoundCutsPercentage <= 0 {
		return 0
	}
	count := int(float64(pop.P()) * e.cfg.RoundCutsPercentage)
	if count <= 0 {
		return 0
	}
	added := 0
	for _, idx := range pop.EliteIndices(count) {
		cut := roundingCut(results[idx].Values, binaries)
		if pool.TryAdd(cut) {
			added++
		}
	}
	return added
}

func roundingCut(values []float64, binaries []int) cutpool.NoGoodCut {
	var ones, zeros []int
	for _, j := range binaries {
		if values[j] > 0.5 {
			ones = append(ones, j)
		} else {
			zeros = append(zeros, j)
		}
	}
	return cutpool.NoGoodCut{Ones: ones, Zeros: zeros}
}

// onesOf returns the subset of binaries rounded to 1 in values, the same
// "fixed-to-1 set" cutpool.Hash folds into a rounding signature.
func onesOf(values []float64, binaries []int) []int {
	var ones []int
	for _, j := range binaries {
		if values[j] > 0.5 {
			ones = append(ones, j)
		}
	}
	return ones
}

// stopRuleSatisfied checks Config.StopRule against the run's current state,
// evaluated once per generation before decoding starts.
func (e *Engine) stopRuleSatisfied(gen int, haveIncumbent bool, incumbentObj float64, lastImprovementGen int) bool {
	switch e.cfg.StopRule.Kind {
	case StopAfterGenerations:
		return gen >= e.cfg.StopRule.Generations
	case StopAtTarget:
		return haveIncumbent && (better(e.m, incumbentObj, e.cfg.StopRule.Target) || equalWithin(incumbentObj, e.cfg.StopRule.Target))
	case StopAfterNoImprovement:
		return gen-lastImprovementGen >= e.cfg.StopRule.NoImprovementGenerations && gen > 0
	default:
		return false
	}
}

func equalWithin(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= 1e-9
}

// better reports whether candidate improves on incumbent under m's sense
// (lower is better when minimizing).
func better(m *model.Model, candidate, incumbent float64) bool {
	if m.Maximize {
		return candidate > incumbent
	}
	return candidate < incumbent
}

func objectiveValue(m *model.Model, x []float64) float64 {
	var obj float64
	for j, v := range m.Variables {
		obj += v.Obj * x[j]
	}
	return obj
}

func sumIterations(results []ofp.Result) int {
	total := 0
	for _, r := range results {
		total += r.Iterations
	}
	return total
}

func zeros(n int) []float64 { return make([]float64, n) }

// cutpoolLen reports the pool's total cut count; cutsGenerated tracks the
// same quantity incrementally but pool.Len is the authoritative source
// (e.g. also counts cuts mirrored from localsearch calls this function
// doesn't see directly).
func cutpoolLen(pool *cutpool.Pool, cutsGenerated int) int {
	if pool.Len() > cutsGenerated {
		return pool.Len()
	}
	return cutsGenerated
}

// DefaultLogger returns a Logger backed by the standard library's log
// package, writing to stderr with a short "engine: " style prefix already
// baked into each call site's message.
func DefaultLogger() Logger {
	return log.New(os.Stderr, "", log.LstdFlags)
}

// Package runtime ties the Simplifier, Fusioner, Program, Cache, Scheduler
// and worker pool into the evaluation entry point (§6). Runtime is an
// explicit, non-singleton context object: every caller constructs and holds
// its own, rather than reaching for a package-level default (§1.NEW
// redesign note).
package runtime

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rasterjit/engine/pkg/cache"
	"github.com/rasterjit/engine/pkg/codegen"
	"github.com/rasterjit/engine/pkg/collections"
	"github.com/rasterjit/engine/pkg/dag"
	"github.com/rasterjit/engine/pkg/device"
	"github.com/rasterjit/engine/pkg/fusion"
	"github.com/rasterjit/engine/pkg/parallel"
	"github.com/rasterjit/engine/pkg/schedule"
	"github.com/rasterjit/engine/pkg/task"
	"github.com/rasterjit/engine/pkg/utils"
)

var tracer = otel.Tracer("rasterjit/engine")

// Config is the subset of the Environment section (§6) Runtime needs at
// construction.
type Config struct {
	NumMachines     int
	NumDevices      int
	NumRanks        int
	MaxNumWorkers   int
	CacheEntryCount int
	Devices         []string // device identities createVersions/compile target
}

// WorkerCount mirrors config.EngineConfig.WorkerCount.
func (c Config) WorkerCount() int {
	n := c.NumMachines * c.NumDevices * c.NumRanks
	if c.MaxNumWorkers > 0 && n > c.MaxNumWorkers {
		return c.MaxNumWorkers
	}
	if n < 1 {
		return 1
	}
	return n
}

// Runtime owns one evaluation's Nodes, Groups, Tasks, and the shared Cache/
// Scheduler/Program/device pool that serve every evaluation run on it.
type Runtime struct {
	cfg    Config
	logger utils.Logger

	simplifier *dag.Simplifier
	nodes      []*dag.Node

	cache     *cache.Cache
	scheduler *schedule.Scheduler
	program   *task.Program
	devices   []device.Ctx

	tasks      map[int]task.Task
	taskOf     map[*dag.Node]task.Task
	priority   schedule.Priority

	// jobTimer accumulates one named phase per completed job (§2.NEW's
	// per-job OVERALL timing category), built on utils.Timer/Clock rather
	// than deriving durations from raw time.Now()/time.Since calls.
	jobTimer   *utils.Timer
	jobSeq     atomic.Int64
	failedJobs atomic.Int64

	// depMapPool/holdMapPool/blockPool recycle the per-job scratch
	// collections the worker loop allocates on every single job (§4.G),
	// grounded on pkg/collections' generic pools.
	depMapPool  *collections.MapPool[dag.Key, int32]
	holdMapPool *collections.MapPool[dag.Key, cache.HoldType]
	blockPool   *collections.SlicePool[*cache.Block]
}

// New constructs a Runtime. gen/repo/store may be nil to fall back to the
// in-memory defaults (TemplateGen codegen, no persistent Version cache, no
// file spill).
func New(cfg Config, gen codegen.Gen, repo task.VersionRepository, store cache.FileStore, logger utils.Logger) *Runtime {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	if gen == nil {
		gen = codegen.NewTemplateGen()
	}
	if len(cfg.Devices) == 0 {
		cfg.Devices = []string{"cpu"}
	}
	poolSize := cfg.CacheEntryCount
	if poolSize <= 0 {
		poolSize = 64
	}

	r := &Runtime{
		cfg:         cfg,
		logger:      logger,
		simplifier:  dag.NewSimplifier(1),
		cache:       cache.New(poolSize, store, logger),
		program:     task.NewProgram(gen, cfg.Devices, repo),
		tasks:       make(map[int]task.Task),
		taskOf:      make(map[*dag.Node]task.Task),
		jobTimer:    utils.NewTimer("jobs", utils.WithEnabled(true)),
		depMapPool:  collections.NewMapPool[dag.Key, int32](16),
		holdMapPool: collections.NewMapPool[dag.Key, cache.HoldType](16),
		blockPool:   collections.NewSlicePool[*cache.Block](8),
	}
	r.devices = make([]device.Ctx, r.cfg.WorkerCount())
	for i := range r.devices {
		r.devices[i] = device.NewNullCtx()
	}
	return r
}

// pooledDepHold builds the (DepOf, HoldOf) lookup closures RequestBlocks
// needs from deps, backed by maps borrowed from r.depMapPool/r.holdMapPool
// rather than allocated fresh per job. The caller must invoke the returned
// release func once it is done calling the closures.
func (r *Runtime) pooledDepHold(deps []task.KeyDep) (cache.DepOf, cache.HoldOf, func()) {
	depMap := r.depMapPool.Get()
	holdMap := r.holdMapPool.Get()
	for _, d := range deps {
		depMap[d.Key] = d.Dependencies
		holdMap[d.Key] = d.Hold
	}
	depOf := func(k dag.Key) int32 { return depMap[k] }
	holdOf := func(k dag.Key) cache.HoldType { return holdMap[k] }
	release := func() {
		r.depMapPool.Put(depMap)
		r.holdMapPool.Put(holdMap)
	}
	return depOf, holdOf, release
}

// AddNode inserts n through the Simplifier's hash-cons table, returning the
// canonical node (an existing structural duplicate, if one was found).
func (r *Runtime) AddNode(n *dag.Node, pendingNext []*dag.Node) *dag.Node {
	canonical := r.simplifier.Insert(n, pendingNext)
	if canonical == n {
		r.nodes = append(r.nodes, n)
	}
	return canonical
}

// Cache exposes the Runtime's Cache for tests and the CLI's `cache stats`
// subcommand.
func (r *Runtime) Cache() *cache.Cache { return r.cache }

// Compile runs the Fusioner over nodes in topological order (the caller's
// responsibility to supply, per §4.C's stated input contract), instantiates
// a Task per Group, and enumerates + compiles every Version. It must run
// once before Evaluate.
func (r *Runtime) Compile(ctx context.Context, topoOrder []*dag.Node) error {
	ctx, span := tracer.Start(ctx, "FUSION")
	f := fusion.NewFusioner()
	groups := f.Fuse(topoOrder)
	span.End()

	_, span = tracer.Start(ctx, "TASKIF")
	order := reverseTopologicalTaskOrder(groups)
	r.priority = make(schedule.Priority, len(groups))
	for _, g := range groups {
		t := task.New(g.ID, g)
		r.tasks[t.ID()] = t
		r.priority[t.ID()] = order[g.ID]
		for _, n := range g.Nodes {
			r.taskOf[n] = t
		}
		if lt, ok := t.(*task.Loop); ok {
			lt.SetCache(r.cache)
		}
	}
	span.End()

	r.scheduler = schedule.New(r.priority, r.logger)

	_, span = tracer.Start(ctx, "CODGEN")
	versionsByTask := make(map[int][]*task.Version, len(r.tasks))
	for id, t := range r.tasks {
		versionsByTask[id] = r.program.AddTask(t)
	}
	span.End()

	_, span = tracer.Start(ctx, "COMPIL")
	defer span.End()
	for id, t := range r.tasks {
		dev := r.devices[0]
		for _, v := range versionsByTask[id] {
			if err := r.program.Compile(t, v, dev); err != nil {
				return err
			}
		}
	}
	return nil
}

// reverseTopologicalTaskOrder assigns each group an integer rank such that
// the last group in topological order gets rank 1 and each earlier group a
// higher rank, so that with the scheduler's lower-runs-first priority
// consumers run before producers refill the cache (§4.F).
func reverseTopologicalTaskOrder(groups []*fusion.Group) map[int]int {
	rank := make(map[int]int, len(groups))
	// groups arrive already in a dependency-respecting order from the
	// Fusioner (it walks topoOrder); reversing that order is a valid
	// reverse-topological rank for tie-breaking priority.
	for i, g := range groups {
		rank[g.ID] = len(groups) - i
	}
	return rank
}

// Evaluate seeds every task's initial jobs, then drives r.cfg.WorkerCount()
// scheduler-draining loops through a parallel.WorkerPool bounded to exactly
// that many concurrent workers (§4.G).
func (r *Runtime) Evaluate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "EVAL")
	defer span.End()

	for _, t := range r.tasks {
		for _, j := range t.InitialJobs() {
			r.scheduler.AddJob(j)
		}
	}

	n := r.cfg.WorkerCount()
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}

	pool := parallel.NewWorkerPool[int, struct{}](parallel.DefaultPoolConfig().WithWorkers(n))
	results := pool.ExecuteFunc(ctx, ids, func(ctx context.Context, id int) (struct{}, error) {
		w := &worker{id: id, rt: r, dctx: r.devices[id]}
		return struct{}{}, w.run(ctx)
	})
	for _, res := range results {
		if res.Error != nil {
			return res.Error
		}
	}
	return nil
}

// startJobTiming opens a uniquely-named phase on r.jobTimer for one job
// execution; the caller stops it via stopJobTiming once the job completes.
func (r *Runtime) startJobTiming() *utils.PhaseTimer {
	name := fmt.Sprintf("job-%d", r.jobSeq.Add(1))
	return r.jobTimer.Start(name)
}

func (r *Runtime) stopJobTiming(pt *utils.PhaseTimer, failed bool) {
	pt.Stop()
	if failed {
		r.failedJobs.Add(1)
	}
}

// Metrics reports the accumulated per-job timing stats (§2.NEW component L,
// the OVERALL category), aggregated from r.jobTimer's recorded phases.
func (r *Runtime) Metrics() parallel.PoolMetrics {
	phases := r.jobTimer.GetPhases()
	m := parallel.PoolMetrics{MinTaskTime: time.Hour}
	for _, p := range phases {
		m.TotalTasks++
		m.TotalDuration += p.Duration
		if p.Duration > m.MaxTaskTime {
			m.MaxTaskTime = p.Duration
		}
		if p.Duration < m.MinTaskTime {
			m.MinTaskTime = p.Duration
		}
	}
	m.FailedTasks = r.failedJobs.Load()
	m.CompletedTasks = m.TotalTasks - m.FailedTasks
	if m.TotalTasks == 0 {
		m.MinTaskTime = 0
	}
	if m.CompletedTasks > 0 {
		m.AvgTaskTime = m.TotalDuration / time.Duration(m.CompletedTasks)
	}
	return m
}

func jobSpanAttrs(j task.Job) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("task_id", j.TaskID),
		attribute.String("coord", j.Coord.String()),
		attribute.Int("iter", j.Iter),
	}
}

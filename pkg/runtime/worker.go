package runtime

import (
	"context"

	"github.com/rasterjit/engine/pkg/cache"
	"github.com/rasterjit/engine/pkg/dag"
	"github.com/rasterjit/engine/pkg/device"
	"github.com/rasterjit/engine/pkg/task"
)

// worker is one (node, device, rank) thread identity, executing the §4.G
// loop until the Scheduler observes termination or ctx is canceled
// (§5.NEW ambient shutdown).
type worker struct {
	id   int
	rt   *Runtime
	dctx device.Ctx
}

func (w *worker) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, getSpan := tracer.Start(ctx, "GET_JOB")
		job, ok := w.rt.scheduler.NextJob()
		getSpan.End()
		if !ok {
			return nil
		}

		pt := w.rt.startJobTiming()
		err := w.runJob(ctx, job)
		w.rt.stopJobTiming(pt, err != nil)
		w.rt.scheduler.JobDone(job)
		if err != nil {
			return err
		}
	}
}

func (w *worker) runJob(ctx context.Context, job task.Job) error {
	ctx, span := tracer.Start(ctx, "EXEC")
	defer span.End()
	span.SetAttributes(jobSpanAttrs(job)...)

	t, ok := w.rt.tasks[job.TaskID]
	if !ok {
		return nil
	}

	inDeps := t.BlocksToLoad(job)
	outDeps := t.BlocksToStore(job)

	inDepOf, inHoldOf, releaseIn := w.rt.pooledDepHold(inDeps)
	defer releaseIn()
	outDepOf, outHoldOf, releaseOut := w.rt.pooledDepHold(outDeps)
	defer releaseOut()

	c := w.rt.cache
	inBlocks := c.RequestBlocks(keysOf(inDeps), inDepOf, inHoldOf)
	outBlocks := c.RequestBlocks(keysOf(outDeps), outDepOf, outHoldOf)

	allPtr := w.rt.blockPool.Get()
	defer w.rt.blockPool.Put(allPtr)
	*allPtr = append(*allPtr, inBlocks...)
	*allPtr = append(*allPtr, outBlocks...)
	all := *allPtr
	if err := c.RetainEntries(all); err != nil {
		return err
	}

	_, loadSpan := tracer.Start(ctx, "LOAD")
	err := c.LoadInputBlocks(inBlocks)
	loadSpan.End()
	if err != nil {
		return err
	}
	c.InitOutputBlocks(outBlocks)

	t.PreCompute(job, inBlocks, outBlocks)

	_, computeSpan := tracer.Start(ctx, "COMPUTE")
	err = t.Compute(job, inBlocks, outBlocks)
	computeSpan.End()
	if err != nil {
		return err
	}

	c.ReduceOutputBlocks(outBlocks)

	_, storeSpan := tracer.Start(ctx, "STORE")
	c.WriteOutputBlocks(outBlocks)
	storeSpan.End()

	t.PostStore(job, inBlocks, outBlocks)

	_, notifySpan := tracer.Start(ctx, "NOTIFY")
	w.notify(job, t, outBlocks)
	notifySpan.End()

	c.ReleaseEntries(all)
	c.ReturnBlocks(all)
	for _, d := range inDeps {
		c.NotifyKey(d.Key, 1)
		c.ReleaseBlock(d.Key)
	}
	return nil
}

// notify decrements each output block's dependency count; a block crossing
// zero enqueues the Jobs it was gating: selfJobs for intra-task propagation
// (Radial's outward wave, Loop's next iteration), nextJobs for inter-task
// propagation into whatever Task the output feeds (§4.D).
func (w *worker) notify(job task.Job, t task.Task, outBlocks []*cache.Block) {
	anyNotified := false
	for _, b := range outBlocks {
		if b.Notify(1) {
			anyNotified = true
		}
	}
	if !anyNotified {
		return
	}
	for _, j := range t.SelfJobs(job) {
		w.rt.scheduler.AddJob(j)
	}
	for _, j := range t.NextJobs(job) {
		w.rt.scheduler.AddJob(j)
	}
}

func keysOf(deps []task.KeyDep) []dag.Key {
	ks := make([]dag.Key, len(deps))
	for i, d := range deps {
		ks[i] = d.Key
	}
	return ks
}

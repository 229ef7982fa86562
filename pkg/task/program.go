package task

import (
	"fmt"
	"sync"

	"github.com/rasterjit/engine/pkg/codegen"
	"github.com/rasterjit/engine/pkg/device"
	"github.com/rasterjit/engine/pkg/fusion"
)

// nRadialCase is the number of sector cases RadiatingTask.cpp's
// createVersions enumerates per device; the interior "all sectors" case
// is added separately and is not counted here.
const nRadialCase = 8

// VersionRepository persists compiled Version source across evaluations
// (§2.NEW component J), keyed by (group signature, device, detail). It is
// optional: Program.Compile works in-process-only when nil.
type VersionRepository interface {
	Lookup(signature, dev, detail string) (source string, found bool, err error)
	Store(signature, dev, detail, source string) error
}

// Program owns every Task of one evaluation and their compiled Versions.
// createVersions/compile cache compiled artifacts by signature() — in
// process for the lifetime of the Program, and through repo (if set)
// across evaluations.
type Program struct {
	gen     codegen.Gen
	devices []string
	repo    VersionRepository

	mu       sync.Mutex
	tasks    map[int]Task
	versions map[int][]*Version // taskID -> its Versions
	compiled map[string]device.Kernel
}

// NewProgram constructs a Program that will generate source with gen and
// target every device in devices.
func NewProgram(gen codegen.Gen, devices []string, repo VersionRepository) *Program {
	return &Program{
		gen:      gen,
		devices:  devices,
		repo:     repo,
		tasks:    make(map[int]Task),
		versions: make(map[int][]*Version),
		compiled: make(map[string]device.Kernel),
	}
}

// AddTask registers t and enumerates its Versions.
func (p *Program) AddTask(t Task) []*Version {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks[t.ID()] = t
	versions := p.createVersions(t)
	p.versions[t.ID()] = versions
	return versions
}

// createVersions enumerates the device list and emits one Version per
// (device, detail) pair. Every pattern except RADIAL has a single detail
// (""); RADIAL emits one Version per (device, sector-case) pair, grounded
// on RadiatingTask.cpp.
func (p *Program) createVersions(t Task) []*Version {
	details := []string{""}
	if _, ok := t.(*Radial); ok {
		details = make([]string, 0, nRadialCase+1)
		details = append(details, "sector-all")
		for i := 0; i < nRadialCase; i++ {
			details = append(details, fmt.Sprintf("sector-%d", i))
		}
	}

	numIn := len(t.Group().InputList)
	numOut := len(t.Group().OutputList)

	var out []*Version
	for _, dev := range p.devices {
		for _, detail := range details {
			out = append(out, &Version{
				Device:        dev,
				Detail:        detail,
				WorkGroupSize: [3]int{t.BlockSize(), t.BlockSize(), 1},
				ArgLayout:     defaultArgLayout(numIn, numOut),
			})
		}
	}
	return out
}

// Select returns the Version matching dev and job's pattern-specific
// detail string (§4.G compute).
func (p *Program) Select(t Task, job Job, dev string) (*Version, error) {
	detail := t.Detail(job)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.versions[t.ID()] {
		if v.Device == dev && v.Detail == detail {
			return v, nil
		}
	}
	return nil, fmt.Errorf("no version for task %d device %s detail %q", t.ID(), dev, detail)
}

// Compile generates source (via repo if it already has it, else via gen,
// persisting the result back to repo) and uses that source itself as the
// kernel; dctx is not consulted.
// Compiled artifacts are cached in-process by (group signature, device,
// detail) so repeated compute() calls within one evaluation never
// regenerate or recompile (§4.D).
func (p *Program) Compile(t Task, v *Version, dctx device.Ctx) error {
	sig := t.Group().Signature()
	cacheKey := sig + "|" + v.Device + "|" + v.Detail

	p.mu.Lock()
	if k, ok := p.compiled[cacheKey]; ok {
		p.mu.Unlock()
		v.Kernel = k
		return nil
	}
	p.mu.Unlock()

	source := v.Source
	if source == "" && p.repo != nil {
		if s, found, err := p.repo.Lookup(sig, v.Device, v.Detail); err == nil && found {
			source = s
		}
	}
	if source == "" {
		s, err := p.gen.Generate(t.Pattern(), dominantOp(t.Group()), v.Detail)
		if err != nil {
			return err
		}
		source = s
		if p.repo != nil {
			_ = p.repo.Store(sig, v.Device, v.Detail, source)
		}
	}
	v.Source = source

	kernel := device.Kernel(source) // the NullCtx backend treats source as the kernel identity
	_ = dctx

	p.mu.Lock()
	p.compiled[cacheKey] = kernel
	p.mu.Unlock()
	v.Kernel = kernel
	return nil
}

// dominantOp picks the operator name codegen keys its template on: the
// first member node carrying a non-empty Op, falling back to the group's
// signature when every member is a structural passthrough.
func dominantOp(g *fusion.Group) string {
	for _, n := range g.Nodes {
		if n.Op != "" {
			return n.Op
		}
	}
	return g.Signature()
}

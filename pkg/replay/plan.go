package replay

import (
	"container/heap"
	"sort"

	"github.com/willibrandon/vksnap/pkg/handle"
	"github.com/willibrandon/vksnap/pkg/trace"
	"github.com/willibrandon/vksnap/pkg/vk"
)

// Step replays one creating trace and the initialize traces of the handles
// it produced
type Step struct {
	Trace *trace.Record
	// Handles are the live handles whose creation is Trace, in the order the
	// call produced them
	Handles []vk.Handle
	// Inits are the initialize traces of Handles in sequence order
	Inits []*trace.Record
	// DependsOn are the live handles, outside this step, the step needs
	DependsOn []vk.Handle
}

// Plan is the order a saved graph is rebuilt in
type Plan struct {
	Steps []Step
	// Modifies are replayed after every step, in sequence order
	Modifies        []*trace.Record
	Inconsistencies []Inconsistency
}

// Order returns the live handles in creation order
func (p *Plan) Order() []vk.Handle {
	var out []vk.Handle
	for _, s := range p.Steps {
		out = append(out, s.Handles...)
	}
	return out
}

type unit struct {
	rec        *trace.Record
	handles    []vk.Handle
	inits      map[trace.Ref]*trace.Record
	deps       map[vk.Handle]struct{}
	dependents map[trace.Ref]struct{}
	indegree   int
	index      int
}

// NewPlan orders the live handles of table so that every handle comes after
// the handles it depends on. Handles that share a creating trace form one
// step. Among steps with no ordering constraint, the one whose trace was
// recorded first goes first.
func NewPlan(table *handle.Table, log *trace.Log) (*Plan, error) {
	p := &Plan{}
	units := make(map[trace.Ref]*unit)
	unplanned := make(map[vk.Handle]bool)

	records := table.Records()
	for _, rec := range records {
		if rec.Creation == 0 {
			p.report(Inconsistency{Kind: MissingCreation, Handle: rec.Handle})
			unplanned[rec.Handle] = true
			continue
		}
		tr, ok := log.Lookup(rec.Creation)
		if !ok {
			p.report(Inconsistency{Kind: MissingTrace, Handle: rec.Handle, Trace: rec.Creation})
			unplanned[rec.Handle] = true
			continue
		}
		u, ok := units[tr.Ref]
		if !ok {
			u = &unit{
				rec:        tr,
				inits:      make(map[trace.Ref]*trace.Record),
				deps:       make(map[vk.Handle]struct{}),
				dependents: make(map[trace.Ref]struct{}),
			}
			units[tr.Ref] = u
		}
		u.handles = append(u.handles, rec.Handle)
		for _, ref := range rec.Inits {
			init, ok := log.Lookup(ref)
			if !ok {
				p.report(Inconsistency{Kind: MissingTrace, Handle: rec.Handle, Trace: ref})
				continue
			}
			u.inits[ref] = init
		}
	}

	for _, rec := range records {
		if unplanned[rec.Handle] {
			continue
		}
		u := units[rec.Creation]
		for _, dep := range rec.DependsOn {
			depRec, ok := table.Get(dep)
			if !ok {
				p.report(Inconsistency{Kind: DanglingDependency, Handle: rec.Handle, Dependency: dep})
				continue
			}
			if unplanned[dep] {
				p.report(Inconsistency{Kind: UnreplayedDependency, Handle: rec.Handle, Dependency: dep})
				continue
			}
			if depRec.Creation == u.rec.Ref {
				continue
			}
			u.deps[dep] = struct{}{}
			parent := units[depRec.Creation]
			if _, seen := parent.dependents[u.rec.Ref]; !seen {
				parent.dependents[u.rec.Ref] = struct{}{}
				u.indegree++
			}
		}
	}

	ready := &unitHeap{}
	for _, u := range units {
		if u.indegree == 0 {
			heap.Push(ready, u)
		}
	}
	for ready.Len() > 0 {
		u := heap.Pop(ready).(*unit)
		p.Steps = append(p.Steps, u.step())
		for ref := range u.dependents {
			child := units[ref]
			child.indegree--
			if child.indegree == 0 {
				heap.Push(ready, child)
			}
		}
	}

	if len(p.Steps) != len(units) {
		var cyclic []vk.Handle
		for _, u := range units {
			if u.indegree > 0 {
				cyclic = append(cyclic, u.handles...)
			}
		}
		sortHandles(cyclic)
		return p, &CycleError{Handles: cyclic}
	}

	p.Modifies = p.collectModifies(table, log, unplanned)
	return p, nil
}

func (p *Plan) report(i Inconsistency) {
	p.Inconsistencies = append(p.Inconsistencies, i)
}

func (p *Plan) collectModifies(table *handle.Table, log *trace.Log, unplanned map[vk.Handle]bool) []*trace.Record {
	seen := make(map[trace.Ref]bool)
	var out []*trace.Record
	for _, rec := range table.Records() {
		if unplanned[rec.Handle] {
			continue
		}
		for _, ref := range rec.Modifies {
			if seen[ref] {
				continue
			}
			seen[ref] = true
			tr, ok := log.Lookup(ref)
			if !ok {
				p.report(Inconsistency{Kind: MissingTrace, Handle: rec.Handle, Trace: ref})
				continue
			}
			out = append(out, tr)
		}
	}
	sortBySeq(out)
	return out
}

func (u *unit) step() Step {
	pos := make(map[vk.Handle]int, len(u.rec.Created)+len(u.rec.Extra))
	for i, h := range u.rec.Created {
		pos[h] = i
	}
	for i, h := range u.rec.Extra {
		if _, ok := pos[h]; !ok {
			pos[h] = len(u.rec.Created) + i
		}
	}
	handles := append([]vk.Handle(nil), u.handles...)
	sort.SliceStable(handles, func(i, j int) bool {
		pi, iok := pos[handles[i]]
		pj, jok := pos[handles[j]]
		switch {
		case iok && jok:
			return pi < pj
		case iok != jok:
			return iok
		default:
			return handles[i] < handles[j]
		}
	})

	inits := make([]*trace.Record, 0, len(u.inits))
	for _, r := range u.inits {
		inits = append(inits, r)
	}
	sortBySeq(inits)

	deps := make([]vk.Handle, 0, len(u.deps))
	for h := range u.deps {
		deps = append(deps, h)
	}
	sortHandles(deps)

	return Step{Trace: u.rec, Handles: handles, Inits: inits, DependsOn: deps}
}

// unitHeap orders ready units by the sequence number of their creating trace
type unitHeap []*unit

func (h unitHeap) Len() int { return len(h) }
func (h unitHeap) Less(i, j int) bool {
	if h[i].rec.Seq != h[j].rec.Seq {
		return h[i].rec.Seq < h[j].rec.Seq
	}
	return h[i].rec.Ref < h[j].rec.Ref
}
func (h unitHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *unitHeap) Push(x any) {
	u := x.(*unit)
	u.index = len(*h)
	*h = append(*h, u)
}
func (h *unitHeap) Pop() any {
	old := *h
	n := len(old)
	u := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return u
}

func sortBySeq(recs []*trace.Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
}

func sortHandles(hs []vk.Handle) {
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
}

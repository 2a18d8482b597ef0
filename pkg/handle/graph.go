package handle

import (
	"sort"

	"github.com/willibrandon/vksnap/pkg/vk"
)

// AddDependency adds an edge from every listed handle to dependency. Edges
// from handles that are not live are dropped; duplicate edges collapse. It
// returns how many edges were added.
func (t *Table) AddDependency(handles []vk.Handle, dependency vk.Handle) int {
	if dependency.IsNull() {
		return 0
	}
	added := 0
	for _, h := range handles {
		rec, ok := t.records[h]
		if !ok || h == dependency {
			continue
		}
		if containsHandle(rec.DependsOn, dependency) {
			continue
		}
		rec.DependsOn = append(rec.DependsOn, dependency)
		added++
	}
	return added
}

// Dependents returns the live handles with a direct edge to h, sorted
func (t *Table) Dependents(h vk.Handle) []vk.Handle {
	var out []vk.Handle
	for _, rec := range t.records {
		if containsHandle(rec.DependsOn, h) {
			out = append(out, rec.Handle)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Cascade returns every live handle that transitively depends on one of
// roots, excluding the roots themselves, sorted
func (t *Table) Cascade(roots []vk.Handle) []vk.Handle {
	reverse := make(map[vk.Handle][]vk.Handle)
	for _, rec := range t.records {
		for _, dep := range rec.DependsOn {
			reverse[dep] = append(reverse[dep], rec.Handle)
		}
	}

	seen := make(map[vk.Handle]bool, len(roots))
	for _, r := range roots {
		seen[r] = true
	}
	queue := append([]vk.Handle(nil), roots...)
	var out []vk.Handle
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		for _, d := range reverse[h] {
			if seen[d] {
				continue
			}
			seen[d] = true
			out = append(out, d)
			queue = append(queue, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dangling returns, per live handle, the dependencies that are not live
func (t *Table) Dangling() map[vk.Handle][]vk.Handle {
	out := make(map[vk.Handle][]vk.Handle)
	for _, rec := range t.records {
		for _, dep := range rec.DependsOn {
			if _, ok := t.records[dep]; !ok {
				out[rec.Handle] = append(out[rec.Handle], dep)
			}
		}
	}
	return out
}

func containsHandle(hs []vk.Handle, h vk.Handle) bool {
	for _, x := range hs {
		if x == h {
			return true
		}
	}
	return false
}

package runtime

import (
	"signalmesh/internal/proc"
)

// ChildInfo records one child instance's identity within its parent's
// hierarchy. MonitorRef is zero when the child cannot be monitored.
type ChildInfo struct {
	Tag        string
	PID        *proc.Proc
	MonitorRef proc.Ref
}

// hierarchy tracks children by tag with reverse lookup by monitor ref and by
// process id. The three maps are kept mutually consistent: all removal paths
// funnel through remove, so a child dying before or after an explicit remove
// converges on the same state.
type hierarchy struct {
	children map[string]ChildInfo
	monitors map[proc.Ref]string
	pids     map[uint64]string
}

func newHierarchy() *hierarchy {
	return &hierarchy{
		children: make(map[string]ChildInfo),
		monitors: make(map[proc.Ref]string),
		pids:     make(map[uint64]string),
	}
}

// add inserts a child under tag, indexing the reverse maps.
func (h *hierarchy) add(tag string, info ChildInfo) {
	info.Tag = tag
	h.children[tag] = info
	if info.MonitorRef != 0 {
		h.monitors[info.MonitorRef] = tag
	}
	if info.PID != nil {
		h.pids[info.PID.ID()] = tag
	}
}

// remove deletes a child from all three maps. Absent tags are a normal
// outcome: it returns the removed info and false when nothing matched.
func (h *hierarchy) remove(tag string) (ChildInfo, bool) {
	info, ok := h.children[tag]
	if !ok {
		return ChildInfo{}, false
	}
	delete(h.children, tag)
	if info.MonitorRef != 0 {
		delete(h.monitors, info.MonitorRef)
	}
	if info.PID != nil {
		delete(h.pids, info.PID.ID())
	}
	return info, true
}

// removeByPID resolves the tag owning pid, then delegates to remove.
func (h *hierarchy) removeByPID(pid *proc.Proc) (string, ChildInfo, bool) {
	if pid == nil {
		return "", ChildInfo{}, false
	}
	tag, ok := h.pids[pid.ID()]
	if !ok {
		return "", ChildInfo{}, false
	}
	info, _ := h.remove(tag)
	return tag, info, true
}

// removeByMonitorRef resolves the tag owning ref, then delegates to remove.
func (h *hierarchy) removeByMonitorRef(ref proc.Ref) (string, ChildInfo, bool) {
	tag, ok := h.monitors[ref]
	if !ok {
		return "", ChildInfo{}, false
	}
	info, _ := h.remove(tag)
	return tag, info, true
}

// get returns the child registered under tag.
func (h *hierarchy) get(tag string) (ChildInfo, bool) {
	info, ok := h.children[tag]
	return info, ok
}

// tags returns the tags of all current children.
func (h *hierarchy) tags() []string {
	out := make([]string, 0, len(h.children))
	for tag := range h.children {
		out = append(out, tag)
	}
	return out
}

func (h *hierarchy) size() int { return len(h.children) }

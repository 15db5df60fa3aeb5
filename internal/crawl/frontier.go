package crawl

import "canvasrelay/pkg/types"

// Frontier implements breadth-first traversal without revisiting: a FIFO
// queue of pending nodes plus the set of canonical URLs ever enqueued.
// It is owned by the single rendering-bound crawl loop and is not safe
// for concurrent use; that ownership is what makes locking unnecessary.
type Frontier struct {
	queue   []types.FrontierEntry
	seen    map[string]struct{}
	visited int
}

// NewFrontier seeds the frontier with the starting node at depth zero.
func NewFrontier(seed string) *Frontier {
	return &Frontier{
		queue: []types.FrontierEntry{{URL: seed, Depth: 0}},
		seen:  map[string]struct{}{seed: {}},
	}
}

// Next pops the oldest pending entry. Each entry is consumed exactly once.
func (f *Frontier) Next() (types.FrontierEntry, bool) {
	if len(f.queue) == 0 {
		return types.FrontierEntry{}, false
	}
	entry := f.queue[0]
	f.queue = f.queue[1:]
	f.visited++
	return entry, true
}

// Enqueue adds a node unless its canonical URL was already seen.
// It reports whether the node was accepted.
func (f *Frontier) Enqueue(url string, depth int) bool {
	if _, ok := f.seen[url]; ok {
		return false
	}
	f.seen[url] = struct{}{}
	f.queue = append(f.queue, types.FrontierEntry{URL: url, Depth: depth})
	return true
}

// Visited reports how many nodes have been consumed so far.
func (f *Frontier) Visited() int {
	return f.visited
}

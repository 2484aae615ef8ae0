package reactor

import (
	"container/heap"
	"sync"
)

// workerPool is the acceptor's least-loaded worker selection: a min-heap of
// *Worker keyed by active connection count, guarded by a single mutex that
// also protects each Worker's active counter (spec §4.4/§5: "the least-load
// heap and the active-connection counter are mutated under a single lock").
// This mirrors the original's std::priority_queue<int, ..., decltype(cmp)>
// over epfds, with container/heap standing in for std::priority_queue since
// neither the teacher nor the rest of the retrieval pack carries a
// third-party heap package (see DESIGN.md).
type workerPool struct {
	mu sync.Mutex
	h  workerHeap
}

func newWorkerPool(workers []*Worker) *workerPool {
	p := &workerPool{h: make(workerHeap, len(workers))}
	copy(p.h, workers)
	for i, w := range p.h {
		w.heapIndex = i
	}
	heap.Init(&p.h)
	return p
}

// Least pops the worker with the fewest active connections, increments its
// count, and pushes it back — an atomic pop-increment-push done once under
// the pool's own lock, matching spec §4.4's "Accept → pop, increment, push".
func (p *workerPool) Least() *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := heap.Pop(&p.h).(*Worker)
	w.active++
	heap.Push(&p.h, w)
	return w
}

// Release decrements w's active count and restores heap order. Called when
// one of w's connections closes.
func (p *workerPool) Release(w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.active > 0 {
		w.active--
	}
	heap.Fix(&p.h, w.heapIndex)
}

type workerHeap []*Worker

func (h workerHeap) Len() int           { return len(h) }
func (h workerHeap) Less(i, j int) bool { return h[i].active < h[j].active }
func (h workerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *workerHeap) Push(x any) {
	w := x.(*Worker)
	w.heapIndex = len(*h)
	*h = append(*h, w)
}

func (h *workerHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.heapIndex = -1
	*h = old[:n-1]
	return w
}

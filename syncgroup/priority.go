package syncgroup

import "container/heap"

// priorityQueue is a generic binary max-heap, adapted from the teacher's
// pkg/utils/heap.PriorityQueue for the trickled-object priority sort
// (spec.md §4.4's sort_trickled_node_by_update_priority): entries carry
// their original insertion index so draining the heap breaks priority
// ties in insertion order, making the resulting order a genuine stable
// sort rather than whatever container/heap's sift happens to produce.
type priorityQueue[T any] struct {
	items    []*pqItem[T]
	lessFunc func(a, b T) bool
}

type pqItem[T any] struct {
	Value T
	Index int
	seq   int
}

func newPriorityQueue[T any](lessFunc func(a, b T) bool) *priorityQueue[T] {
	pq := &priorityQueue[T]{lessFunc: lessFunc}
	heap.Init(pq)
	return pq
}

func (pq priorityQueue[T]) Len() int { return len(pq.items) }

func (pq priorityQueue[T]) Less(i, j int) bool {
	a, b := pq.items[i], pq.items[j]
	if pq.lessFunc(a.Value, b.Value) != pq.lessFunc(b.Value, a.Value) {
		return pq.lessFunc(a.Value, b.Value)
	}
	// Tie: earlier-inserted entry sorts first, for stability.
	return a.seq < b.seq
}

func (pq priorityQueue[T]) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
	pq.items[i].Index = i
	pq.items[j].Index = j
}

func (pq *priorityQueue[T]) Push(x any) {
	item := x.(*pqItem[T])
	item.Index = len(pq.items)
	pq.items = append(pq.items, item)
}

func (pq *priorityQueue[T]) Pop() any {
	old := pq.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	pq.items = old[:n-1]
	return item
}

func (pq *priorityQueue[T]) enqueue(value T, seq int) {
	heap.Push(pq, &pqItem[T]{Value: value, seq: seq})
}

func (pq *priorityQueue[T]) dequeue() (T, bool) {
	if pq.Len() == 0 {
		var zero T
		return zero, false
	}
	item := heap.Pop(pq).(*pqItem[T])
	return item.Value, true
}

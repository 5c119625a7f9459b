package routing

// queueItem is a tentative label. Improving a label pushes a new item; the
// old one becomes stale and is skipped when popped.
type queueItem struct {
	time int
	stop int32
}

// labelQueue is a min-heap on time, ties by stop index, for container/heap.
type labelQueue []queueItem

func (q labelQueue) Len() int { return len(q) }

func (q labelQueue) Less(i, j int) bool {
	if q[i].time != q[j].time {
		return q[i].time < q[j].time
	}
	return q[i].stop < q[j].stop
}

func (q labelQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *labelQueue) Push(x any) { *q = append(*q, x.(queueItem)) }

func (q *labelQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

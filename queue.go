package dispatcher

// unitQueue FIFO of pending units, not thread safe, guarded by the executor
// mutex
type unitQueue struct {
	units []*Unit // storage
	head  int     // index of the first pending unit
}

func (queue *unitQueue) Len() int {
	return len(queue.units) - queue.head
}

func (queue *unitQueue) Push(unit *Unit) {
	queue.units = append(queue.units, unit)
}

func (queue *unitQueue) Pop() *Unit {
	if queue.Len() == 0 {
		return nil
	}

	unit := queue.units[queue.head]
	queue.units[queue.head] = nil
	queue.head++

	// compact once the consumed prefix dominates the backing array
	if queue.head > 64 && queue.head*2 >= len(queue.units) {
		n := copy(queue.units, queue.units[queue.head:])
		for i := n; i < len(queue.units); i++ {
			queue.units[i] = nil
		}
		queue.units = queue.units[:n]
		queue.head = 0
	}

	return unit
}

// Drain remove and return every pending unit in FIFO order
func (queue *unitQueue) Drain() []*Unit {
	pending := make([]*Unit, queue.Len())

	copy(pending, queue.units[queue.head:])

	queue.units = nil
	queue.head = 0

	return pending
}

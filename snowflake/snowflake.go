// Package snowflake generates 64 bit ids ordered by time: the milliseconds
// since 2012, a 10 bit worker id and a 12 bit per millisecond sequence.
package snowflake

import (
	"sync"
	"time"
)

// .
const (
	workerIDBits = 10              // worker id
	maxWorkerID  = -1 ^ (-1 << 10) // worker id mask
	sequenceBits = 12              // sequence
	maxSequence  = -1 ^ (-1 << 12) // sequence mask
	nano         = 1000 * 1000
)

var (
	since = time.Date(2012, 1, 0, 0, 0, 0, 0, time.UTC).UnixNano() / nano
)

// SnowFlake id generator of one worker
type SnowFlake struct {
	sync.Mutex
	workerID uint64 // worker id
	last     uint64 // last timestamp
	sequence uint64 // sequence within last
}

// New create new snowflake id generator, workerID is masked to 10 bits
func New(workerID uint32) *SnowFlake {
	return &SnowFlake{
		workerID: uint64(workerID & maxWorkerID),
	}
}

// WorkerID .
func (sf *SnowFlake) WorkerID() uint32 {
	return uint32(sf.workerID)
}

// Next generate next id, ids of one generator strictly increase
func (sf *SnowFlake) Next() uint64 {
	sf.Lock()
	defer sf.Unlock()

	now := timestamp()

	// a clock stepping backwards keeps the last timestamp
	if now < sf.last {
		now = sf.last
	}

	if now == sf.last {
		sf.sequence = (sf.sequence + 1) & maxSequence

		if sf.sequence == 0 {
			// sequence exhausted, borrow the next millisecond
			now++
		}
	} else {
		sf.sequence = 0
	}

	sf.last = now

	return (now << (workerIDBits + sequenceBits)) |
		(sf.workerID << sequenceBits) |
		sf.sequence
}

func timestamp() uint64 {
	return uint64(time.Now().UnixNano()/nano - since)
}

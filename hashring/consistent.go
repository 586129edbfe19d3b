package hashring

import (
	"hash/crc32"
	"sort"
	"strconv"
	"sync"

	"github.com/gsdocker/gserrors"
)

type _HashRing []uint32

func (c _HashRing) Len() int {
	return len(c)
}

func (c _HashRing) Less(i, j int) bool {
	return c[i] < c[j]
}

func (c _HashRing) Swap(i, j int) {
	c[i], c[j] = c[j], c[i]
}

// Hash .
type Hash func(data []byte) uint32

// HashRing consistent hash ring, every member owns replicas virtual nodes
type HashRing struct {
	sync.RWMutex                        // mixin rw locker
	circle       _HashRing              // sorted virtual node hashes
	hash         Hash                   // hash function
	replicas     int                    // virtual nodes per member
	nodes        map[uint32]string      // virtual node -> member key
	values       map[string]interface{} // member key -> value
}

// New create ring with replicas virtual nodes per member
func New(replicas int) *HashRing {
	if replicas < 1 {
		replicas = 1
	}

	return &HashRing{
		hash:     crc32.ChecksumIEEE,
		replicas: replicas,
		nodes:    make(map[uint32]string),
		values:   make(map[string]interface{}),
	}
}

func (ring *HashRing) virtual(key string, i int) uint32 {
	return ring.hash([]byte(strconv.Itoa(i) + "#" + key))
}

// Put insert member into hash ring, returns the previous value of key
func (ring *HashRing) Put(key string, value interface{}) interface{} {

	ring.Lock()
	defer ring.Unlock()

	if old, ok := ring.values[key]; ok {
		ring.values[key] = value
		return old
	}

	ring.values[key] = value

	for i := 0; i < ring.replicas; i++ {
		id := ring.virtual(key, i)

		// first member wins a colliding virtual node
		if _, ok := ring.nodes[id]; ok {
			continue
		}

		ring.nodes[id] = key
		ring.circle = append(ring.circle, id)
	}

	sort.Sort(ring.circle)

	return nil
}

// Get get the member owning key
func (ring *HashRing) Get(key string) (interface{}, bool) {

	id := ring.hash([]byte(key))

	ring.RLock()
	defer ring.RUnlock()

	if len(ring.circle) == 0 {
		return nil, false
	}

	i := sort.Search(len(ring.circle), func(x int) bool {
		return ring.circle[x] >= id
	})

	if i == len(ring.circle) {
		i = 0
	}

	member, ok := ring.nodes[ring.circle[i]]

	gserrors.Assert(ok, "virtual node must exists")

	val, ok := ring.values[member]

	gserrors.Assert(ok, "values must exists")

	return val, true
}

// Remove remove member by key
func (ring *HashRing) Remove(key string) interface{} {

	ring.Lock()
	defer ring.Unlock()

	val, ok := ring.values[key]

	if !ok {
		return nil
	}

	delete(ring.values, key)

	circle := ring.circle[:0]

	for _, id := range ring.circle {
		if ring.nodes[id] == key {
			delete(ring.nodes, id)
			continue
		}

		circle = append(circle, id)
	}

	ring.circle = circle

	return val
}

// Len members count
func (ring *HashRing) Len() int {
	ring.RLock()
	defer ring.RUnlock()

	return len(ring.values)
}

// Each iterate members, the iteration order is unspecified
func (ring *HashRing) Each(f func(key string, value interface{})) {
	ring.RLock()

	values := make(map[string]interface{}, len(ring.values))

	for k, v := range ring.values {
		values[k] = v
	}

	ring.RUnlock()

	for k, v := range values {
		f(k, v)
	}
}

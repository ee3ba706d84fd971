package commands

import (
	"sync"

	"golang.org/x/crypto/sha3"
)

// MaxChainEntryIDs caps the ids returned in one ChainEntry.
const MaxChainEntryIDs = 10000

// Chain is the local ledger view the handlers answer from.
type Chain interface {
	Height() uint32
	TopID() Hash
	// ChainFrom finds the newest id in known that is on the local chain and
	// returns the local ids from that point on.
	ChainFrom(known []Hash) (start uint32, ids []Hash)
	// PoolTransactions returns pooled transactions whose ids are not in known.
	PoolTransactions(known []Hash) [][]byte
	// PoolIDs lists the ids of pooled transactions.
	PoolIDs() []Hash
	// AddTransactions pools txs and returns how many were new.
	AddTransactions(txs [][]byte) int
}

// HashBytes is the id function for blocks and transactions.
func HashBytes(b []byte) Hash {
	var h Hash
	k := sha3.NewLegacyKeccak256()
	k.Write(b)
	k.Sum(h[:0])
	return h
}

// MemoryChain is an in-process Chain backed by slices and maps.
type MemoryChain struct {
	mu     sync.RWMutex
	blocks []Hash
	index  map[Hash]uint32
	pool   map[Hash][]byte
	order  []Hash
}

var _ Chain = (*MemoryChain)(nil)

// NewMemoryChain starts a chain whose genesis id is derived from network.
func NewMemoryChain(network NetworkID) *MemoryChain {
	c := &MemoryChain{
		index: make(map[Hash]uint32),
		pool:  make(map[Hash][]byte),
	}
	c.appendID(HashBytes(network[:]))
	return c
}

func (c *MemoryChain) appendID(id Hash) {
	c.index[id] = uint32(len(c.blocks))
	c.blocks = append(c.blocks, id)
}

// AppendBlock adds a block on top of the chain and returns its id. Pooled
// transactions included in the block leave the pool.
func (c *MemoryChain) AppendBlock(blob []byte, txs ...[]byte) Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	top := c.blocks[len(c.blocks)-1]
	id := HashBytes(append(top[:], blob...))
	c.appendID(id)
	for _, tx := range txs {
		c.dropTx(HashBytes(tx))
	}
	return id
}

func (c *MemoryChain) Height() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint32(len(c.blocks))
}

func (c *MemoryChain) TopID() Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1]
}

func (c *MemoryChain) ChainFrom(known []Hash) (uint32, []Hash) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var start uint32
	for _, id := range known {
		if idx, ok := c.index[id]; ok {
			start = idx
			break
		}
	}
	end := min(len(c.blocks), int(start)+MaxChainEntryIDs)
	return start, append([]Hash(nil), c.blocks[start:end]...)
}

func (c *MemoryChain) PoolTransactions(known []Hash) [][]byte {
	skip := make(map[Hash]struct{}, len(known))
	for _, id := range known {
		skip[id] = struct{}{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out [][]byte
	for _, id := range c.order {
		if _, ok := skip[id]; ok {
			continue
		}
		out = append(out, c.pool[id])
	}
	return out
}

func (c *MemoryChain) AddTransactions(txs [][]byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	added := 0
	for _, tx := range txs {
		if len(tx) == 0 {
			continue
		}
		id := HashBytes(tx)
		if _, ok := c.pool[id]; ok {
			continue
		}
		c.pool[id] = append([]byte(nil), tx...)
		c.order = append(c.order, id)
		added++
	}
	return added
}

// PoolIDs returns the ids of pooled transactions in arrival order.
func (c *MemoryChain) PoolIDs() []Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Hash(nil), c.order...)
}

func (c *MemoryChain) dropTx(id Hash) {
	if _, ok := c.pool[id]; !ok {
		return
	}
	delete(c.pool, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

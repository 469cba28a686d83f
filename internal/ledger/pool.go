package ledger

import (
	"sort"
	"sync"
)

// PendingPool holds transactions awaiting inclusion in a block, keyed by hash
// and remembering arrival order for deterministic selection tie-breaking.
// It carries its own lock per the one-exclusion-mechanism-per-resource rule.
type PendingPool struct {
	mu      sync.Mutex
	txs     map[Hash]*Transaction
	arrival map[Hash]uint64
	order   []Hash
	next    uint64
}

// NewPendingPool returns an empty pool.
func NewPendingPool() *PendingPool {
	return &PendingPool{
		txs:     make(map[Hash]*Transaction),
		arrival: make(map[Hash]uint64),
	}
}

// Add queues a transaction. A hash already present is rejected.
func (p *PendingPool) Add(tx *Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.txs[tx.Hash]; ok {
		return ErrDuplicateTransaction
	}
	p.add(tx)
	return nil
}

// Requeue reinserts transactions orphaned by a chain reorganization,
// silently skipping any that are already queued.
func (p *PendingPool) Requeue(txs []*Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tx := range txs {
		if _, ok := p.txs[tx.Hash]; ok {
			continue
		}
		p.add(tx)
	}
}

func (p *PendingPool) add(tx *Transaction) {
	p.txs[tx.Hash] = tx
	p.arrival[tx.Hash] = p.next
	p.order = append(p.order, tx.Hash)
	p.next++
}

// Remove drops the given hashes, typically because a block confirmed them.
func (p *PendingPool) Remove(hashes []Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range hashes {
		if _, ok := p.txs[h]; !ok {
			continue
		}
		delete(p.txs, h)
		delete(p.arrival, h)
	}
	p.compact()
}

func (p *PendingPool) compact() {
	kept := p.order[:0]
	for _, h := range p.order {
		if _, ok := p.txs[h]; ok {
			kept = append(kept, h)
		}
	}
	p.order = kept
}

// Contains reports whether the hash is queued.
func (p *PendingPool) Contains(h Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.txs[h]
	return ok
}

// Len returns the number of queued transactions.
func (p *PendingPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}

// All returns the queued transactions in arrival order.
func (p *PendingPool) All() []*Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Transaction, 0, len(p.order))
	for _, h := range p.order {
		out = append(out, p.txs[h])
	}
	return out
}

// Select returns up to max transactions for block assembly: highest fee
// first, ties broken by earliest arrival.
func (p *PendingPool) Select(max int) []*Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := make([]*Transaction, 0, len(p.order))
	for _, h := range p.order {
		candidates = append(candidates, p.txs[h])
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Fee != candidates[j].Fee {
			return candidates[i].Fee > candidates[j].Fee
		}
		return p.arrival[candidates[i].Hash] < p.arrival[candidates[j].Hash]
	})
	if max >= 0 && len(candidates) > max {
		candidates = candidates[:max]
	}
	return candidates
}

package ledger

// MerkleRoot reduces the ordered transaction hashes pairwise until one digest
// remains. An odd node at any level is paired with itself, keeping the tree
// binary. Zero transactions yield hash(empty); blocks always carry at least
// the reward transaction, so that case is structural only.
func MerkleRoot(h Hasher, txs []*Transaction) Hash {
	if len(txs) == 0 {
		return h.Hash(nil)
	}

	level := make([]Hash, len(txs))
	for i, tx := range txs {
		level[i] = tx.Hash
	}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			pair := make([]byte, 0, 2*len(level[i]))
			pair = append(pair, level[i][:]...)
			pair = append(pair, level[i+1][:]...)
			next = append(next, h.Hash(pair))
		}
		level = next
	}

	return level[0]
}

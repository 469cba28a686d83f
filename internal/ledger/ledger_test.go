package ledger

import (
	"testing"

	"github.com/qxchain/qxchain-node/internal/crypto"
)

var testCrypto = crypto.MustProvider()

type keyHolder struct {
	pk   []byte
	sk   []byte
	addr string
}

func newKeyHolder(t *testing.T) keyHolder {
	t.Helper()
	pk, sk, err := testCrypto.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("generate signing key pair: %v", err)
	}
	return keyHolder{pk: pk, sk: sk, addr: AddressFromPublicKey(testCrypto, pk)}
}

func signedTransfer(t *testing.T, from keyHolder, to string, amount, fee uint64, timestamp int64) *Transaction {
	t.Helper()
	tx := NewTransaction(testCrypto, from.addr, to, amount, fee, "", timestamp)
	if err := tx.SignWith(testCrypto, from.pk, from.sk); err != nil {
		t.Fatalf("sign transfer: %v", err)
	}
	return tx
}

// mineNext seals a valid successor block carrying the reward transaction plus
// the given transfers. Difficulty 1 keeps the nonce search near-instant.
func mineNext(t *testing.T, prev *Block, transfers []*Transaction, miner string, baseReward uint64, timestamp int64) *Block {
	t.Helper()
	var fees uint64
	for _, tx := range transfers {
		fees += tx.Fee
	}
	txs := make([]*Transaction, 0, len(transfers)+1)
	txs = append(txs, NewRewardTransaction(testCrypto, miner, baseReward+fees, timestamp, "mining reward"))
	txs = append(txs, transfers...)

	b := BuildBlock(testCrypto, prev, txs, miner, 1, baseReward, timestamp)
	for nonce := uint64(0); ; nonce++ {
		b.Seal(testCrypto, nonce)
		if HashMeetsDifficulty(b.Hash, b.Difficulty) {
			return b
		}
	}
}

package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"vaxledger/internal/ledger"
)

// Transaction kinds.
const (
	TxRecord = "record"
	TxReward = "reward"
)

// Transaction is one sealed ledger write.
type Transaction struct {
	Hash          string                `json:"hash"`
	Kind          string                `json:"kind"`
	Record        *ledger.RecordRequest `json:"record,omitempty"`
	ParentAddress string                `json:"parent_address,omitempty"`
	ChildID       string                `json:"child_id,omitempty"`
	Timestamp     time.Time             `json:"timestamp"`
}

// Block seals transactions behind a merkle root and links to its parent.
type Block struct {
	Index        uint64        `json:"index"`
	NodeID       string        `json:"node_id"`
	PrevHash     string        `json:"prev_hash"`
	Timestamp    time.Time     `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	MerkleRoot   string        `json:"merkle_root"`
	Hash         string        `json:"block_hash"`
}

func genesisBlock(nodeID string) Block {
	b := Block{
		Index:        0,
		NodeID:       nodeID,
		PrevHash:     strings.Repeat("0", 64),
		Timestamp:    time.Unix(0, 0).UTC(),
		Transactions: []Transaction{},
		MerkleRoot:   sha256Hex(nil),
	}
	b.Hash = b.computeHash()
	return b
}

func newBlock(prev Block, nodeID string, now time.Time, txs []Transaction) Block {
	b := Block{
		Index:        prev.Index + 1,
		NodeID:       nodeID,
		PrevHash:     prev.Hash,
		Timestamp:    now.UTC(),
		Transactions: txs,
		MerkleRoot:   merkleRoot(txs),
	}
	b.Hash = b.computeHash()
	return b
}

// computeHash covers the header only; transactions are bound through the merkle root.
func (b Block) computeHash() string {
	hdr := struct {
		Index      uint64 `json:"index"`
		NodeID     string `json:"node_id"`
		PrevHash   string `json:"prev_hash"`
		Timestamp  int64  `json:"timestamp"`
		MerkleRoot string `json:"merkle_root"`
	}{b.Index, b.NodeID, b.PrevHash, b.Timestamp.UnixNano(), b.MerkleRoot}
	raw, _ := json.Marshal(hdr)
	return sha256Hex(raw)
}

func merkleRoot(txs []Transaction) string {
	if len(txs) == 0 {
		return sha256Hex(nil)
	}
	level := make([]string, len(txs))
	for i, tx := range txs {
		level[i] = tx.Hash
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, sha256Hex([]byte(level[i]+level[i+1])))
		}
		level = next
	}
	return level[0]
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

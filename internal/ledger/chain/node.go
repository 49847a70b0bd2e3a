// Package chain is an embedded single-node ledger on LevelDB. Every write is
// sealed in its own block; record and reward uniqueness are enforced at write
// time under the node lock.
package chain

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"vaxledger/internal/ledger"
)

const (
	keyHeight       = "height_latest"
	keyStatAnchored = "stat_anchored"
	keyStatRewards  = "stat_rewards"
	keyStatParents  = "stat_parents"
	prefixBlock     = "block_"
	prefixRecord    = "record_"
	prefixHash      = "hash_"
	prefixReward    = "reward_"
	prefixParent    = "parent_"
	defaultNodeID   = "vaxledger-node"
)

var ErrChainBroken = errors.New("chain verification failed")

// Node implements ledger.Client on a LevelDB database.
type Node struct {
	mu     sync.Mutex
	db     *leveldb.DB
	nodeID string
	now    func() time.Time
	head   Block
}

type Option func(*Node)

func WithNodeID(nodeID string) Option {
	return func(n *Node) {
		if nodeID != "" {
			n.nodeID = nodeID
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(n *Node) {
		n.now = now
	}
}

// Open opens or creates a node under dir.
func Open(dir string, opts ...Option) (*Node, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	return newNode(db, opts...)
}

// OpenStorage opens a node on an explicit storage, e.g. storage.NewMemStorage().
func OpenStorage(stor storage.Storage, opts ...Option) (*Node, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	return newNode(db, opts...)
}

func newNode(db *leveldb.DB, opts ...Option) (*Node, error) {
	n := &Node{db: db, nodeID: defaultNodeID, now: time.Now}
	for _, opt := range opts {
		opt(n)
	}

	height, ok, err := n.height()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if !ok {
		genesis := genesisBlock(n.nodeID)
		batch := new(leveldb.Batch)
		if err := putBlock(batch, genesis); err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := db.Write(batch, nil); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("write genesis: %w", err)
		}
		n.head = genesis
		return n, nil
	}

	head, err := n.Block(height)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	n.head = head
	return n, nil
}

func (n *Node) Close() error {
	return n.db.Close()
}

func (n *Node) RecordEvent(ctx context.Context, req ledger.RecordRequest) (ledger.Receipt, error) {
	const op = "record_event"
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, ledger.Unavailable(op, err)
	}
	if req.ChildID == "" || req.ContentHash == "" {
		return ledger.Receipt{}, ledger.Rejected(op, errors.New("child id and content hash are required"))
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	recordKey := prefixRecord + sha256Hex([]byte(fmt.Sprintf("%s|%s|%d|%s",
		req.ChildID, req.VaccineName, req.DoseNumber, req.ContentHash)))
	// The key covers the content hash, so a hit is an identical resubmission.
	prior, ok, err := n.receipt(recordKey)
	if err != nil {
		return ledger.Receipt{}, ledger.Unavailable(op, err)
	}
	if ok {
		return prior, nil
	}

	record := req
	tx := n.newTx(Transaction{Kind: TxRecord, Record: &record, ChildID: req.ChildID})
	block := newBlock(n.head, n.nodeID, n.now(), []Transaction{tx})
	receipt := ledger.Receipt{TxHash: tx.Hash, BlockNumber: block.Index}
	raw, err := json.Marshal(receipt)
	if err != nil {
		return ledger.Receipt{}, ledger.Unavailable(op, err)
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(recordKey), raw)
	hashKey := []byte(prefixHash + req.ContentHash)
	indexed, err := n.db.Has(hashKey, nil)
	if err != nil {
		return ledger.Receipt{}, ledger.Unavailable(op, err)
	}
	if !indexed {
		batch.Put(hashKey, raw)
	}
	if err := n.incr(batch, keyStatAnchored); err != nil {
		return ledger.Receipt{}, ledger.Unavailable(op, err)
	}
	return n.commit(op, batch, block)
}

func (n *Node) FindRecord(ctx context.Context, contentHash string) (ledger.Receipt, bool, error) {
	const op = "find_record"
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, false, ledger.Unavailable(op, err)
	}
	if contentHash == "" {
		return ledger.Receipt{}, false, ledger.Rejected(op, errors.New("content hash is required"))
	}
	receipt, ok, err := n.receipt(prefixHash + contentHash)
	if err != nil {
		return ledger.Receipt{}, false, ledger.Unavailable(op, err)
	}
	return receipt, ok, nil
}

func (n *Node) RewardParent(ctx context.Context, parentAddress, childID string) (ledger.Receipt, error) {
	const op = "reward_parent"
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, ledger.Unavailable(op, err)
	}
	if parentAddress == "" || childID == "" {
		return ledger.Receipt{}, ledger.Rejected(op, errors.New("parent address and child id are required"))
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	rewardKey := []byte(prefixReward + childID)
	rewarded, err := n.db.Has(rewardKey, nil)
	if err != nil {
		return ledger.Receipt{}, ledger.Unavailable(op, err)
	}
	if rewarded {
		return ledger.Receipt{}, ledger.AlreadyRewarded(op)
	}

	tx := n.newTx(Transaction{Kind: TxReward, ParentAddress: parentAddress, ChildID: childID})
	batch := new(leveldb.Batch)
	batch.Put(rewardKey, []byte(tx.Hash))
	if err := n.incr(batch, keyStatRewards); err != nil {
		return ledger.Receipt{}, ledger.Unavailable(op, err)
	}
	parentKey := []byte(prefixParent + parentAddress)
	seen, err := n.db.Has(parentKey, nil)
	if err != nil {
		return ledger.Receipt{}, ledger.Unavailable(op, err)
	}
	if !seen {
		batch.Put(parentKey, []byte{1})
		if err := n.incr(batch, keyStatParents); err != nil {
			return ledger.Receipt{}, ledger.Unavailable(op, err)
		}
	}
	return n.seal(op, batch, tx)
}

func (n *Node) Stats(ctx context.Context) (ledger.Stats, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Stats{}, ledger.Unavailable("stats", err)
	}
	var (
		stats ledger.Stats
		err   error
	)
	if stats.TotalAnchored, err = n.counter(keyStatAnchored); err != nil {
		return ledger.Stats{}, ledger.Unavailable("stats", err)
	}
	if stats.TotalRewardsDistributed, err = n.counter(keyStatRewards); err != nil {
		return ledger.Stats{}, ledger.Unavailable("stats", err)
	}
	if stats.TotalParentsRewarded, err = n.counter(keyStatParents); err != nil {
		return ledger.Stats{}, ledger.Unavailable("stats", err)
	}
	return stats, nil
}

// Height is the index of the latest block.
func (n *Node) Height() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.head.Index
}

func (n *Node) Block(index uint64) (Block, error) {
	raw, err := n.db.Get(blockKey(index), nil)
	if err != nil {
		return Block{}, fmt.Errorf("load block %d: %w", index, err)
	}
	var b Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return Block{}, fmt.Errorf("decode block %d: %w", index, err)
	}
	return b, nil
}

// Verify walks the chain from genesis checking hashes, links and merkle roots.
func (n *Node) Verify() error {
	height := n.Height()
	prev, err := n.Block(0)
	if err != nil {
		return err
	}
	if prev.Hash != prev.computeHash() {
		return fmt.Errorf("%w: genesis hash mismatch", ErrChainBroken)
	}
	for i := uint64(1); i <= height; i++ {
		b, err := n.Block(i)
		if err != nil {
			return err
		}
		switch {
		case b.PrevHash != prev.Hash:
			return fmt.Errorf("%w: block %d does not link to %d", ErrChainBroken, i, i-1)
		case b.MerkleRoot != merkleRoot(b.Transactions):
			return fmt.Errorf("%w: block %d merkle root mismatch", ErrChainBroken, i)
		case b.Hash != b.computeHash():
			return fmt.Errorf("%w: block %d hash mismatch", ErrChainBroken, i)
		}
		prev = b
	}
	return nil
}

func (n *Node) newTx(tx Transaction) Transaction {
	tx.Timestamp = n.now().UTC()
	raw, _ := json.Marshal(tx)
	tx.Hash = ledger.Keccak256Hex(raw)
	return tx
}

// seal appends tx in a new block and commits batch atomically with it.
func (n *Node) seal(op string, batch *leveldb.Batch, tx Transaction) (ledger.Receipt, error) {
	return n.commit(op, batch, newBlock(n.head, n.nodeID, n.now(), []Transaction{tx}))
}

// commit writes a single-transaction block together with batch. Callers hold n.mu.
func (n *Node) commit(op string, batch *leveldb.Batch, block Block) (ledger.Receipt, error) {
	if err := putBlock(batch, block); err != nil {
		return ledger.Receipt{}, ledger.Unavailable(op, err)
	}
	if err := n.db.Write(batch, nil); err != nil {
		return ledger.Receipt{}, ledger.Unavailable(op, err)
	}
	n.head = block
	return ledger.Receipt{TxHash: block.Transactions[0].Hash, BlockNumber: block.Index}, nil
}

// receipt loads a stored receipt. Older entries hold only the tx hash.
func (n *Node) receipt(key string) (ledger.Receipt, bool, error) {
	raw, err := n.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return ledger.Receipt{}, false, nil
	}
	if err != nil {
		return ledger.Receipt{}, false, err
	}
	var r ledger.Receipt
	if err := json.Unmarshal(raw, &r); err != nil || r.TxHash == "" {
		return ledger.Receipt{TxHash: string(raw)}, true, nil
	}
	return r, true, nil
}

func (n *Node) height() (uint64, bool, error) {
	raw, err := n.db.Get([]byte(keyHeight), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read height: %w", err)
	}
	h, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse height: %w", err)
	}
	return h, true, nil
}

func (n *Node) counter(key string) (uint64, error) {
	raw, err := n.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

// incr stages counter+1 in batch. Callers hold n.mu.
func (n *Node) incr(batch *leveldb.Batch, key string) error {
	v, err := n.counter(key)
	if err != nil {
		return err
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v+1)
	batch.Put([]byte(key), buf)
	return nil
}

func putBlock(batch *leveldb.Batch, b Block) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}
	batch.Put(blockKey(b.Index), raw)
	batch.Put([]byte(keyHeight), []byte(strconv.FormatUint(b.Index, 10)))
	return nil
}

func blockKey(index uint64) []byte {
	return []byte(prefixBlock + strconv.FormatUint(index, 10))
}

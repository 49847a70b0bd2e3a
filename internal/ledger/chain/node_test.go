package chain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"vaxledger/internal/ledger"
)

type NodeSuite struct {
	suite.Suite
	stor storage.Storage
	node *Node
	ctx  context.Context
}

func TestNodeSuite(t *testing.T) {
	suite.Run(t, new(NodeSuite))
}

func (s *NodeSuite) SetupTest() {
	s.stor = storage.NewMemStorage()
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	node, err := OpenStorage(s.stor, WithNodeID("test"), WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	s.Require().NoError(err)
	s.node = node
	s.ctx = context.Background()
}

func (s *NodeSuite) TearDownTest() {
	_ = s.node.Close()
}

func record(hash string) ledger.RecordRequest {
	return ledger.RecordRequest{
		ChildID:     "c-1",
		VaccineName: "BCG",
		DoseNumber:  1,
		Timestamp:   1700000000,
		ContentHash: hash,
	}
}

func (s *NodeSuite) TestRecordEvent() {
	s.Run("seals each record in a new block", func() {
		r1, err := s.node.RecordEvent(s.ctx, record("0x01"))
		s.Require().NoError(err)
		s.Equal(uint64(1), r1.BlockNumber)
		s.NotEmpty(r1.TxHash)

		r2, err := s.node.RecordEvent(s.ctx, record("0x02"))
		s.Require().NoError(err)
		s.Equal(uint64(2), r2.BlockNumber)
		s.Equal(uint64(2), s.node.Height())
	})

	s.Run("resubmission returns the original receipt", func() {
		first, err := s.node.RecordEvent(s.ctx, record("0x01"))
		s.Require().NoError(err)
		s.Equal(uint64(1), first.BlockNumber)

		again, err := s.node.RecordEvent(s.ctx, record("0x01"))
		s.Require().NoError(err)
		s.Equal(first, again)
		s.Equal(uint64(2), s.node.Height(), "no new block for a resubmission")
	})

	s.Run("missing content hash is rejected", func() {
		_, err := s.node.RecordEvent(s.ctx, record(""))
		s.True(ledger.IsRejected(err))
	})

	s.Run("cancelled context is unavailable", func() {
		ctx, cancel := context.WithCancel(s.ctx)
		cancel()
		_, err := s.node.RecordEvent(ctx, record("0x03"))
		s.True(ledger.IsUnavailable(err))
	})
}

func (s *NodeSuite) TestRewardParent() {
	_, err := s.node.RewardParent(s.ctx, "0xparent", "c-1")
	s.Require().NoError(err)

	_, err = s.node.RewardParent(s.ctx, "0xparent", "c-1")
	s.True(ledger.IsAlreadyRewarded(err))

	_, err = s.node.RewardParent(s.ctx, "0xparent", "c-2")
	s.Require().NoError(err)

	_, err = s.node.RecordEvent(s.ctx, record("0x09"))
	s.Require().NoError(err)

	stats, err := s.node.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(ledger.Stats{TotalAnchored: 1, TotalRewardsDistributed: 2, TotalParentsRewarded: 1}, stats)
}

func (s *NodeSuite) TestVerifyAndReopen() {
	for _, h := range []string{"0x0a", "0x0b", "0x0c"} {
		_, err := s.node.RecordEvent(s.ctx, record(h))
		s.Require().NoError(err)
	}
	s.Require().NoError(s.node.Verify())

	genesis, err := s.node.Block(0)
	s.Require().NoError(err)
	first, err := s.node.Block(1)
	s.Require().NoError(err)
	s.Equal(genesis.Hash, first.PrevHash)
	s.Equal(merkleRoot(first.Transactions), first.MerkleRoot)

	s.Require().NoError(s.node.Close())
	reopened, err := OpenStorage(s.stor)
	s.Require().NoError(err)
	s.node = reopened
	s.Equal(uint64(3), s.node.Height())

	again, err := s.node.RecordEvent(s.ctx, record("0x0a"))
	s.Require().NoError(err)
	s.Equal(first.Transactions[0].Hash, again.TxHash, "uniqueness survives reopen")
	s.Equal(uint64(1), again.BlockNumber)
	s.Equal(uint64(3), s.node.Height())
}

func (s *NodeSuite) TestFindRecord() {
	s.Run("unknown hash is not found", func() {
		_, ok, err := s.node.FindRecord(s.ctx, "0xmissing")
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("returns the receipt of the anchoring transaction", func() {
		want, err := s.node.RecordEvent(s.ctx, record("0x21"))
		s.Require().NoError(err)

		got, ok, err := s.node.FindRecord(s.ctx, "0x21")
		s.Require().NoError(err)
		s.True(ok)
		s.Equal(want, got)
	})

	s.Run("first anchor of a hash wins", func() {
		want, err := s.node.RecordEvent(s.ctx, record("0x22"))
		s.Require().NoError(err)
		other := record("0x22")
		other.ChildID = "c-2"
		_, err = s.node.RecordEvent(s.ctx, other)
		s.Require().NoError(err)

		got, ok, err := s.node.FindRecord(s.ctx, "0x22")
		s.Require().NoError(err)
		s.True(ok)
		s.Equal(want, got)
	})

	s.Run("empty hash is rejected", func() {
		_, _, err := s.node.FindRecord(s.ctx, "")
		s.True(ledger.IsRejected(err))
	})
}

func TestMerkleRoot(t *testing.T) {
	txs := []Transaction{{Hash: "a"}, {Hash: "b"}, {Hash: "c"}}
	root := merkleRoot(txs)
	if root != merkleRoot(txs) {
		t.Fatal("merkle root must be deterministic")
	}
	if root == merkleRoot(txs[:2]) {
		t.Fatal("merkle root must change with transactions")
	}
}

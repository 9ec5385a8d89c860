// Package nodeapi implements §6's admin/query surface consumed by the
// out-of-scope HTTP layer: submitTransaction, getBlock, getTransaction,
// getPending, getValidators, getConsensusStatus, and getHealthReport.
// Grounded on the teacher's tosapi-style read-only accessor methods over a
// backend (internal/tosapi's PublicBlockChainAPI pattern: thin query
// methods returning plain structs, with transaction submission the one
// mutating call), generalized here to the single *node.Node mediator
// instead of go-ethereum's full backend interface.
package nodeapi

import (
	"github.com/chainforge/poaledger/common"
	"github.com/chainforge/poaledger/node"
	"github.com/chainforge/poaledger/types"
	"github.com/chainforge/poaledger/validator"
)

// API is the query/admin surface over one node.
type API struct {
	n *node.Node
}

// New builds an API bound to n.
func New(n *node.Node) *API {
	return &API{n: n}
}

// SubmitTransaction admits tx into the mempool and returns its hash.
func (a *API) SubmitTransaction(tx *types.Transaction) (common.Hash, error) {
	ledg := a.n.Ledger()
	now := a.n.Now()
	if err := a.n.Pool().Admit(tx, ledg.Snapshot(), ledg.Replay(), now); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash, nil
}

// GetBlockLatest returns the chain head.
func (a *API) GetBlockLatest() *types.Block {
	return a.n.Ledger().Latest()
}

// GetBlockByNumber returns the block at height n, if present.
func (a *API) GetBlockByNumber(n uint64) (*types.Block, bool) {
	return a.n.Ledger().GetBlockByNumber(n)
}

// GetBlockByHash returns the block with the given hash, if present.
func (a *API) GetBlockByHash(hash common.Hash) (*types.Block, bool) {
	return a.n.Ledger().GetBlockByHash(hash)
}

// TransactionLookup is getTransaction's result shape: a committed
// transaction's containing block, or pending/not-found.
type TransactionLookup struct {
	Tx          *types.Transaction
	BlockNumber uint64
	BlockHash   common.Hash
	Status      TransactionStatus
}

// TransactionStatus distinguishes getTransaction's three outcomes (§6).
type TransactionStatus string

const (
	TransactionCommitted TransactionStatus = "COMMITTED"
	TransactionPending   TransactionStatus = "PENDING"
	TransactionNotFound  TransactionStatus = "NOT_FOUND"
)

// GetTransaction resolves hash against committed blocks first, then the
// mempool, matching §6's "{tx, blockNumber, blockHash} | pending | not-found".
func (a *API) GetTransaction(hash common.Hash) TransactionLookup {
	if blockNumber, blockHash, found := a.n.Ledger().GetTransaction(hash); found {
		block, ok := a.n.Ledger().GetBlockByHash(blockHash)
		var tx *types.Transaction
		if ok {
			for _, t := range block.Transactions {
				if t.Hash == hash {
					tx = t
					break
				}
			}
		}
		return TransactionLookup{Tx: tx, BlockNumber: blockNumber, BlockHash: blockHash, Status: TransactionCommitted}
	}
	for _, tx := range a.n.Pool().Pending() {
		if tx.Hash == hash {
			return TransactionLookup{Tx: tx, Status: TransactionPending}
		}
	}
	return TransactionLookup{Status: TransactionNotFound}
}

// GetPending returns every transaction currently sitting in the mempool.
func (a *API) GetPending() []*types.Transaction {
	return a.n.Pool().Pending()
}

// ValidatorsReport is getValidators' result shape (§6: "{set[], current}").
type ValidatorsReport struct {
	Set     []common.Address
	Current common.Address // the elected leader at query time
}

// GetValidators returns the full pre-approved set plus the currently
// elected leader.
func (a *API) GetValidators() ValidatorsReport {
	set := a.n.ValidatorSet()
	leader, _ := set.Leader(a.n.Now())
	return ValidatorsReport{Set: set.Members(), Current: leader}
}

// ConsensusStatus is getConsensusStatus's result shape.
type ConsensusStatus struct {
	Round    uint64
	Phase    string
	Proposer common.Address
	Status   string
}

// GetConsensusStatus reports the round state machine's current phase.
func (a *API) GetConsensusStatus() ConsensusStatus {
	r := a.n.Engine().CurrentRound()
	return ConsensusStatus{
		Round:    r.Number,
		Phase:    string(r.Phase),
		Proposer: r.Proposer,
		Status:   string(r.Status),
	}
}

// ValidatorHealthReport is one validator's entry in getHealthReport.
type ValidatorHealthReport struct {
	Address             common.Address
	Status              validator.Status
	Reputation          float64
	SuccessRate         float64
	ConsecutiveFailures int
}

// GetHealthReport returns every validator's current health record.
func (a *API) GetHealthReport() []ValidatorHealthReport {
	set := a.n.ValidatorSet()
	members := set.Members()
	out := make([]ValidatorHealthReport, 0, len(members))
	for _, addr := range members {
		h, ok := set.Health(addr)
		if !ok {
			continue
		}
		out = append(out, ValidatorHealthReport{
			Address:             addr,
			Status:              h.Status,
			Reputation:          h.Reputation,
			SuccessRate:         h.SuccessRate,
			ConsecutiveFailures: h.ConsecutiveFailures,
		})
	}
	return out
}

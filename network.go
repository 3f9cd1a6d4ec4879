package deployer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxRequest is a state-changing transaction. A nil To creates a contract
// with Data as the creation code.
type TxRequest struct {
	From  common.Address
	To    *common.Address
	Data  []byte
	Value *big.Int
}

// CallRequest is a simulated call against the latest state.
type CallRequest struct {
	From  common.Address
	To    *common.Address
	Data  []byte
	Value *big.Int
}

// Receipt is the outcome of an included transaction.
type Receipt struct {
	TxHash          common.Hash
	Status          uint64
	ContractAddress common.Address
	BlockNumber     *big.Int
	GasUsed         uint64

	// RevertReason is the decoded reason for failed transactions, when the
	// network could recover it.
	RevertReason string
}

// Succeeded reports whether the EVM executed the transaction successfully.
func (r *Receipt) Succeeded() bool {
	return r.Status == types.ReceiptStatusSuccessful
}

// Network carries actions to a chain. Implementations are responsible for
// nonce management and fee selection, and must be safe for concurrent use.
type Network interface {
	// SendTransaction signs and broadcasts tx, returning its hash.
	// Failures to carry the transaction should wrap ErrSubmission.
	SendTransaction(ctx context.Context, tx TxRequest) (common.Hash, error)

	// TransactionReceipt returns the receipt, or nil while the transaction
	// is pending.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)

	// Call performs a read-only simulation and returns the raw return data.
	// Reverts are reported as *RevertError.
	Call(ctx context.Context, call CallRequest) ([]byte, error)
}

// Signer authorizes transactions for the accounts it controls. The engine
// never sees key material; network adapters use a Signer to sign what they
// broadcast.
type Signer interface {
	// Accounts lists the addresses this signer can sign for.
	Accounts() []common.Address

	// SignTx signs tx as from. Signing for an unknown account fails.
	SignTx(ctx context.Context, from common.Address, tx *types.Transaction) (*types.Transaction, error)
}

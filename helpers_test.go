package deployer

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const tokenABIJSON = `[
	{
		"type": "constructor",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "_initialSupply", "type": "uint256"},
			{"name": "_name", "type": "string"},
			{"name": "_symbol", "type": "string"},
			{"name": "_decimals", "type": "uint8"}
		]
	},
	{
		"name": "transfer",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"}
		],
		"outputs": [
			{"name": "", "type": "bool"}
		]
	},
	{
		"name": "balanceOf",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "who", "type": "address"}
		],
		"outputs": [
			{"name": "", "type": "uint256"}
		]
	},
	{
		"name": "getReserves",
		"type": "function",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [
			{"name": "reserve0", "type": "uint112"},
			{"name": "reserve1", "type": "uint112"},
			{"name": "blockTimestampLast", "type": "uint32"}
		]
	},
	{
		"name": "setDecimals",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "decimals", "type": "uint8"}
		],
		"outputs": []
	},
	{
		"name": "pause",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [],
		"outputs": []
	}
]`

const tokenBytecode = "0x608060405234801561001057600080fd5b50"

var (
	addrA = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	addrB = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func tokenArtifact() *Artifact {
	return MustArtifact("TetherToken", tokenABIJSON, tokenBytecode)
}

func testArtifacts() *Artifacts {
	return NewArtifacts(tokenArtifact())
}

// selectorOf returns the hex selector of a token method.
func selectorOf(method string) string {
	m, err := tokenArtifact().Method(method)
	if err != nil {
		panic(err)
	}
	return hexutil.Encode(m.ID)
}

// fakeNetwork is an in-memory Network. Contract addresses follow the
// CREATE rule so they are deterministic per (sender, nonce).
type fakeNetwork struct {
	mu sync.Mutex

	nonces   map[common.Address]uint64
	receipts map[common.Hash]*Receipt
	held     map[common.Hash]*Receipt

	sent  []TxRequest
	calls []CallRequest

	receiptQueries int

	// revertOnCall makes simulations of a selector revert with a reason.
	revertOnCall map[string]string
	// revertOnChain makes transactions with a selector fail on chain.
	revertOnChain map[string]string
	// callResults holds return data per selector; default is a 32-byte 1.
	callResults map[string][]byte

	sendErr      error
	holdReceipts bool
	onSend       func(TxRequest)
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		nonces:        make(map[common.Address]uint64),
		receipts:      make(map[common.Hash]*Receipt),
		held:          make(map[common.Hash]*Receipt),
		revertOnCall:  make(map[string]string),
		revertOnChain: make(map[string]string),
		callResults:   make(map[string][]byte),
	}
}

func (n *fakeNetwork) SendTransaction(_ context.Context, tx TxRequest) (common.Hash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.onSend != nil {
		n.onSend(tx)
	}
	if n.sendErr != nil {
		return common.Hash{}, n.sendErr
	}

	nonce := n.nonces[tx.From]
	n.nonces[tx.From]++
	n.sent = append(n.sent, tx)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	hash := crypto.Keccak256Hash(tx.From.Bytes(), buf[:], tx.Data)

	receipt := &Receipt{TxHash: hash, Status: 1, GasUsed: 21000}
	if tx.To == nil {
		receipt.ContractAddress = crypto.CreateAddress(tx.From, nonce)
	} else if len(tx.Data) >= 4 {
		if reason, ok := n.revertOnChain[hexutil.Encode(tx.Data[:4])]; ok {
			receipt.Status = 0
			receipt.RevertReason = reason
		}
	}

	if n.holdReceipts {
		n.held[hash] = receipt
	} else {
		n.receipts[hash] = receipt
	}
	return hash, nil
}

func (n *fakeNetwork) TransactionReceipt(_ context.Context, hash common.Hash) (*Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receiptQueries++
	return n.receipts[hash], nil
}

func (n *fakeNetwork) Call(_ context.Context, call CallRequest) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, call)
	if len(call.Data) < 4 {
		return nil, errors.New("fake: short calldata")
	}
	selector := hexutil.Encode(call.Data[:4])
	if reason, ok := n.revertOnCall[selector]; ok {
		return nil, &RevertError{Reason: reason}
	}
	if data, ok := n.callResults[selector]; ok {
		return data, nil
	}
	return common.LeftPadBytes([]byte{1}, 32), nil
}

// release makes held receipts available.
func (n *fakeNetwork) release() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for h, r := range n.held {
		n.receipts[h] = r
	}
	n.held = make(map[common.Hash]*Receipt)
}

func (n *fakeNetwork) sentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *fakeNetwork) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

// networkActions counts everything that reached the network.
func (n *fakeNetwork) networkActions() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent) + len(n.calls) + n.receiptQueries
}

// failingJournal wraps a journal and fails writes for one state.
type failingJournal struct {
	Journal
	failState State
}

func (j *failingJournal) Record(ctx context.Context, planID, futureID string, rec ExecutionRecord) error {
	if rec.State == j.failState {
		return errors.New("disk full")
	}
	return j.Journal.Record(ctx, planID, futureID, rec)
}

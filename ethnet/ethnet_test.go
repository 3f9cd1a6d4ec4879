package ethnet

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	deployer "github.com/branched-services/go-deployer"
	"github.com/branched-services/go-deployer/signer"
)

var (
	chainID = big.NewInt(31337)
	sender  = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	token   = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

// MockBackend is a mock implementation of Backend.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) ChainID(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Header), args.Error(1)
}

func (m *MockBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	args := m.Called(ctx, call)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Receipt), args.Error(1)
}

func (m *MockBackend) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*types.Transaction), args.Bool(1), args.Error(2)
}

func (m *MockBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	args := m.Called(ctx, call, blockNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// dataError mimics a JSON-RPC error carrying revert data.
type dataError struct {
	msg  string
	data string
}

func (e *dataError) Error() string          { return e.msg }
func (e *dataError) ErrorData() interface{} { return e.data }

func revertData(t *testing.T, reason string) string {
	t.Helper()
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	require.NoError(t, err)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return hexutil.Encode(append(selector, packed...))
}

func newClient(t *testing.T, backend *MockBackend, opts ...Option) (*Client, *signer.LocalSigner) {
	t.Helper()
	s, err := signer.DevSigner(chainID)
	require.NoError(t, err)

	backend.On("ChainID", mock.Anything).Return(chainID, nil).Once()
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	c, err := New(context.Background(), backend, s, opts...)
	require.NoError(t, err)
	return c, s
}

func TestNewReadsChainID(t *testing.T) {
	backend := new(MockBackend)
	c, _ := newClient(t, backend)
	assert.Equal(t, int64(31337), c.ChainID().Int64())

	failing := new(MockBackend)
	failing.On("ChainID", mock.Anything).Return(nil, errors.New("dial tcp: refused"))
	_, err := New(context.Background(), failing, nil)
	assert.Error(t, err)
}

func TestSendTransactionDynamicFee(t *testing.T) {
	backend := new(MockBackend)
	c, _ := newClient(t, backend)

	backend.On("PendingNonceAt", mock.Anything, sender).Return(uint64(5), nil).Once()
	backend.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(100000), nil)
	backend.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).Return(&types.Header{BaseFee: big.NewInt(1e9)}, nil)
	backend.On("SuggestGasTipCap", mock.Anything).Return(big.NewInt(2e8), nil)

	var broadcast []*types.Transaction
	backend.On("SendTransaction", mock.Anything, mock.AnythingOfType("*types.Transaction")).
		Run(func(args mock.Arguments) {
			broadcast = append(broadcast, args.Get(1).(*types.Transaction))
		}).
		Return(nil)

	ctx := context.Background()
	h1, err := c.SendTransaction(ctx, deployer.TxRequest{From: sender, Data: []byte{0x60, 0x80}})
	require.NoError(t, err)
	h2, err := c.SendTransaction(ctx, deployer.TxRequest{From: sender, To: &token, Data: []byte{0xa9, 0x05, 0x9c, 0xbb}})
	require.NoError(t, err)

	require.Len(t, broadcast, 2)
	assert.Equal(t, broadcast[0].Hash(), h1)
	assert.Equal(t, broadcast[1].Hash(), h2)

	first := broadcast[0]
	assert.Equal(t, uint8(types.DynamicFeeTxType), first.Type())
	assert.Equal(t, uint64(5), first.Nonce())
	assert.Equal(t, uint64(6), broadcast[1].Nonce())
	assert.Nil(t, first.To())
	assert.Equal(t, uint64(120000), first.Gas())
	assert.Equal(t, big.NewInt(2_200_000_000), first.GasFeeCap())
	assert.Equal(t, big.NewInt(2e8), first.GasTipCap())

	from, err := types.Sender(types.LatestSignerForChainID(chainID), first)
	require.NoError(t, err)
	assert.Equal(t, sender, from)

	backend.AssertNumberOfCalls(t, "PendingNonceAt", 1)
}

func TestSendTransactionLegacy(t *testing.T) {
	backend := new(MockBackend)
	c, _ := newClient(t, backend, WithGasLimit(50000))

	backend.On("PendingNonceAt", mock.Anything, sender).Return(uint64(0), nil)
	backend.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).Return(&types.Header{}, nil)
	backend.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(1e9), nil)

	var tx *types.Transaction
	backend.On("SendTransaction", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { tx = args.Get(1).(*types.Transaction) }).
		Return(nil)

	_, err := c.SendTransaction(context.Background(), deployer.TxRequest{From: sender, To: &token})
	require.NoError(t, err)
	assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
	assert.Equal(t, uint64(50000), tx.Gas())
	backend.AssertNotCalled(t, "EstimateGas", mock.Anything, mock.Anything)
}

func TestSendTransactionEstimateRevert(t *testing.T) {
	backend := new(MockBackend)
	c, _ := newClient(t, backend)

	backend.On("PendingNonceAt", mock.Anything, sender).Return(uint64(0), nil)
	backend.On("EstimateGas", mock.Anything, mock.Anything).
		Return(uint64(0), &dataError{msg: "execution reverted: paused", data: revertData(t, "paused")})

	_, err := c.SendTransaction(context.Background(), deployer.TxRequest{From: sender, To: &token})
	var rerr *deployer.RevertError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "paused", rerr.Reason)
	backend.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything)
}

func TestSendTransactionBroadcastFailureRefetchesNonce(t *testing.T) {
	backend := new(MockBackend)
	c, _ := newClient(t, backend, WithGasLimit(21000))

	backend.On("PendingNonceAt", mock.Anything, sender).Return(uint64(7), nil)
	backend.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).Return(&types.Header{BaseFee: big.NewInt(1)}, nil)
	backend.On("SuggestGasTipCap", mock.Anything).Return(big.NewInt(1), nil)
	backend.On("SendTransaction", mock.Anything, mock.Anything).Return(errors.New("nonce too low")).Once()
	backend.On("SendTransaction", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := c.SendTransaction(context.Background(), deployer.TxRequest{From: sender, To: &token})
	assert.ErrorIs(t, err, deployer.ErrSubmission)

	_, err = c.SendTransaction(context.Background(), deployer.TxRequest{From: sender, To: &token})
	require.NoError(t, err)
	backend.AssertNumberOfCalls(t, "PendingNonceAt", 2)
}

func TestSendTransactionUnknownAccount(t *testing.T) {
	backend := new(MockBackend)
	c, _ := newClient(t, backend, WithGasLimit(21000))
	stranger := common.HexToAddress("0x000000000000000000000000000000000000dEaD")

	backend.On("PendingNonceAt", mock.Anything, stranger).Return(uint64(0), nil)
	backend.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).Return(&types.Header{BaseFee: big.NewInt(1)}, nil)
	backend.On("SuggestGasTipCap", mock.Anything).Return(big.NewInt(1), nil)

	_, err := c.SendTransaction(context.Background(), deployer.TxRequest{From: stranger, To: &token})
	assert.ErrorIs(t, err, deployer.ErrSubmission)
	backend.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything)
}

func TestTransactionReceipt(t *testing.T) {
	backend := new(MockBackend)
	c, s := newClient(t, backend)
	ctx := context.Background()

	t.Run("pending", func(t *testing.T) {
		hash := common.HexToHash("0x01")
		backend.On("TransactionReceipt", mock.Anything, hash).Return(nil, ethereum.NotFound)

		r, err := c.TransactionReceipt(ctx, hash)
		require.NoError(t, err)
		assert.Nil(t, r)
	})

	t.Run("success", func(t *testing.T) {
		hash := common.HexToHash("0x02")
		backend.On("TransactionReceipt", mock.Anything, hash).Return(&types.Receipt{
			TxHash:          hash,
			Status:          types.ReceiptStatusSuccessful,
			ContractAddress: token,
			BlockNumber:     big.NewInt(12),
			GasUsed:         90000,
		}, nil)

		r, err := c.TransactionReceipt(ctx, hash)
		require.NoError(t, err)
		assert.True(t, r.Succeeded())
		assert.Equal(t, token, r.ContractAddress)
		assert.Equal(t, uint64(90000), r.GasUsed)
	})

	t.Run("reverted", func(t *testing.T) {
		tx, err := s.SignTx(ctx, sender, types.NewTx(&types.DynamicFeeTx{
			ChainID: chainID, To: &token, Gas: 60000, GasFeeCap: big.NewInt(1), GasTipCap: big.NewInt(1), Value: new(big.Int),
		}))
		require.NoError(t, err)
		hash := tx.Hash()

		backend.On("TransactionReceipt", mock.Anything, hash).Return(&types.Receipt{
			TxHash:      hash,
			Status:      types.ReceiptStatusFailed,
			BlockNumber: big.NewInt(13),
		}, nil)
		backend.On("TransactionByHash", mock.Anything, hash).Return(tx, false, nil)
		backend.On("CallContract", mock.Anything, mock.MatchedBy(func(m ethereum.CallMsg) bool {
			return m.From == sender
		}), big.NewInt(13)).Return(nil, &dataError{msg: "execution reverted", data: revertData(t, "insufficient balance")})

		r, err := c.TransactionReceipt(ctx, hash)
		require.NoError(t, err)
		assert.False(t, r.Succeeded())
		assert.Equal(t, "insufficient balance", r.RevertReason)
	})

	t.Run("rpc failure", func(t *testing.T) {
		hash := common.HexToHash("0x04")
		backend.On("TransactionReceipt", mock.Anything, hash).Return(nil, errors.New("503"))
		_, err := c.TransactionReceipt(ctx, hash)
		assert.Error(t, err)
	})
}

func TestCall(t *testing.T) {
	backend := new(MockBackend)
	c, _ := newClient(t, backend)
	ctx := context.Background()

	ret := common.LeftPadBytes(big.NewInt(500).Bytes(), 32)
	backend.On("CallContract", mock.Anything, mock.MatchedBy(func(m ethereum.CallMsg) bool {
		return len(m.Data) > 0 && m.Data[0] == 0x70
	}), (*big.Int)(nil)).Return(ret, nil)
	backend.On("CallContract", mock.Anything, mock.MatchedBy(func(m ethereum.CallMsg) bool {
		return len(m.Data) > 0 && m.Data[0] == 0xa9
	}), (*big.Int)(nil)).Return(nil, errors.New("execution reverted: ERC20: transfer amount exceeds balance"))

	out, err := c.Call(ctx, deployer.CallRequest{To: &token, Data: []byte{0x70, 0xa0, 0x82, 0x31}})
	require.NoError(t, err)
	assert.Equal(t, ret, out)

	_, err = c.Call(ctx, deployer.CallRequest{To: &token, Data: []byte{0xa9, 0x05, 0x9c, 0xbb}})
	var rerr *deployer.RevertError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "ERC20: transfer amount exceeds balance", rerr.Reason)
	assert.ErrorIs(t, err, deployer.ErrRevert)
}

func TestRevertError(t *testing.T) {
	assert.Nil(t, revertError(nil))
	assert.Nil(t, revertError(errors.New("connection reset")))

	err := revertError(&dataError{msg: "execution reverted", data: "0xdeadbeef"})
	var rerr *deployer.RevertError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "0xdeadbeef", rerr.Reason)
}

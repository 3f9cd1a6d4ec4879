// Package signer provides in-process transaction signers for the deployer.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	deployer "github.com/branched-services/go-deployer"
)

// ErrUnknownAccount is returned when signing for an address without a key.
var ErrUnknownAccount = errors.New("signer: no key for account")

// ErrProductionChain is returned when development keys are used on a
// public network.
var ErrProductionChain = errors.New("signer: refusing to use development keys on a production chain")

// DevPrivateKeys are the first accounts of the default Anvil/Hardhat
// mnemonic ("test test test test test test test test test test test junk").
// They are publicly known; DevSigner refuses to use them on production chains.
var DevPrivateKeys = []string{
	"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", // 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266
	"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d", // 0x70997970C51812dc3A010C7d01b50e0d17dc79C8
	"5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a", // 0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC
	"7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6", // 0x90F79bf6EB2c4f870365E785982E1f101E93b906
	"47e179ec197488593b187f80a00eb0da91f1b9d0b13f8733639f19c30a34926a", // 0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65
}

var productionChainIDs = map[int64]string{
	1:     "Ethereum Mainnet",
	10:    "Optimism",
	56:    "BNB Smart Chain",
	137:   "Polygon",
	8453:  "Base",
	42161: "Arbitrum One",
}

// LocalSigner signs with private keys held in memory. It is safe for
// concurrent use.
type LocalSigner struct {
	mu      sync.RWMutex
	keys    map[common.Address]*ecdsa.PrivateKey
	order   []common.Address
	chainID *big.Int
}

var _ deployer.Signer = (*LocalSigner)(nil)

// New creates a signer for chainID from private keys.
func New(chainID *big.Int, keys ...*ecdsa.PrivateKey) *LocalSigner {
	s := &LocalSigner{
		keys:    make(map[common.Address]*ecdsa.PrivateKey, len(keys)),
		chainID: new(big.Int).Set(chainID),
	}
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

// FromHex creates a signer from hex-encoded private keys, with or without
// a 0x prefix.
func FromHex(chainID *big.Int, hexKeys ...string) (*LocalSigner, error) {
	s := New(chainID)
	for i, hexKey := range hexKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
		if err != nil {
			return nil, fmt.Errorf("signer: parse key %d: %w", i, err)
		}
		s.Add(key)
	}
	return s, nil
}

// DevSigner creates a signer holding DevPrivateKeys. It fails with
// ErrProductionChain for well-known public chain IDs.
func DevSigner(chainID *big.Int) (*LocalSigner, error) {
	if name, ok := productionChainIDs[chainID.Int64()]; ok && chainID.IsInt64() {
		return nil, fmt.Errorf("%w: %s (chain_id=%s)", ErrProductionChain, name, chainID)
	}
	return FromHex(chainID, DevPrivateKeys...)
}

// LoadKeystore decrypts a V3 keystore file.
func LoadKeystore(chainID *big.Int, path, passphrase string) (*LocalSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: read keystore: %w", err)
	}
	key, err := keystore.DecryptKey(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("signer: decrypt %s: %w", path, err)
	}
	return New(chainID, key.PrivateKey), nil
}

// Add registers key with the signer.
func (s *LocalSigner) Add(key *ecdsa.PrivateKey) common.Address {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[addr]; !ok {
		s.order = append(s.order, addr)
	}
	s.keys[addr] = key
	return addr
}

// ChainID returns the chain the signer signs for.
func (s *LocalSigner) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// Accounts implements deployer.Signer. Addresses are returned in the order
// keys were added.
func (s *LocalSigner) Accounts() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Address, len(s.order))
	copy(out, s.order)
	return out
}

// HasKey reports whether the signer can sign for addr.
func (s *LocalSigner) HasKey(addr common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[addr]
	return ok
}

// SignTx implements deployer.Signer.
func (s *LocalSigner) SignTx(_ context.Context, from common.Address, tx *types.Transaction) (*types.Transaction, error) {
	s.mu.RLock()
	key, ok := s.keys[from]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, from.Hex())
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), key)
	if err != nil {
		return nil, fmt.Errorf("signer: sign transaction: %w", err)
	}
	return signed, nil
}

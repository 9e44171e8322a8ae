// Package signer implements domain.SessionSigner with EIP-712 typed data.
package signer

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"
)

const (
	executePrimaryType = "Execute"
	zeroAddress        = "0x0000000000000000000000000000000000000000"
)

var executeTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	executePrimaryType: []apitypes.Type{
		{Name: "subaccountId", Type: "string"},
		{Name: "nonce", Type: "uint64"},
		{Name: "expiry", Type: "uint64"},
		{Name: "actionHash", Type: "bytes32"},
	},
}

// Config describes the signing domain and session.
type Config struct {
	Provider          string
	SessionID         string
	SubaccountID      string
	DomainName        string
	DomainVersion     string
	ChainID           int64
	VerifyingContract string
	Expiry            time.Duration
}

// ExecuteMessage is the typed message signed for every payload.
type ExecuteMessage struct {
	SubaccountID string
	Nonce        uint64
	Expiry       uint64 // Unix seconds
	ActionHash   [32]byte
}

// EIP712Signer signs keccak256(payload) inside an Execute typed message.
// Nonces are strictly increasing per signer.
type EIP712Signer struct {
	cfg     Config
	key     *ecdsa.PrivateKey
	address common.Address
	now     func() time.Time

	mu        sync.Mutex
	lastNonce uint64
}

// NewEIP712Signer creates a signer from a hex private key (0x optional).
// An empty key creates an ephemeral one, which is only useful for paper runs.
func NewEIP712Signer(cfg Config, hexKey string) (*EIP712Signer, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		key, err = crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate session key: %w", err)
		}
		slog.Warn("No signer key configured, using an ephemeral session key")
	} else {
		key, err = crypto.HexToECDSA(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid signer key: %w", err)
		}
	}

	if cfg.Provider == "" {
		cfg.Provider = "eip712"
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.DomainName == "" {
		cfg.DomainName = "copytrade"
	}
	if cfg.DomainVersion == "" {
		cfg.DomainVersion = "1"
	}
	if cfg.VerifyingContract == "" {
		cfg.VerifyingContract = zeroAddress
	}
	if !common.IsHexAddress(cfg.VerifyingContract) {
		return nil, fmt.Errorf("invalid verifying contract %q", cfg.VerifyingContract)
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = time.Minute
	}

	return &EIP712Signer{
		cfg:     cfg,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		now:     time.Now,
	}, nil
}

func (s *EIP712Signer) Provider() string  { return s.cfg.Provider }
func (s *EIP712Signer) SessionID() string { return s.cfg.SessionID }

// Address is the signer's account address.
func (s *EIP712Signer) Address() common.Address { return s.address }

// Sign returns a 0x-prefixed 65-byte signature with v in {27, 28}.
func (s *EIP712Signer) Sign(ctx context.Context, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := s.now()
	msg := ExecuteMessage{
		SubaccountID: s.cfg.SubaccountID,
		Nonce:        s.nextNonce(now),
		Expiry:       uint64(now.Add(s.cfg.Expiry).Unix()),
	}
	copy(msg.ActionHash[:], crypto.Keccak256(payload))

	hash, err := s.Hash(msg)
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(hash, s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

// Hash returns the EIP-712 digest of msg under the signer's domain.
func (s *EIP712Signer) Hash(msg ExecuteMessage) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       executeTypes,
		PrimaryType: executePrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              s.cfg.DomainName,
			Version:           s.cfg.DomainVersion,
			ChainId:           math.NewHexOrDecimal256(s.cfg.ChainID),
			VerifyingContract: s.cfg.VerifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"subaccountId": msg.SubaccountID,
			"nonce":        new(big.Int).SetUint64(msg.Nonce),
			"expiry":       new(big.Int).SetUint64(msg.Expiry),
			"actionHash":   msg.ActionHash[:],
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return hash, nil
}

// nextNonce is the current Unix ms, bumped to stay strictly increasing.
func (s *EIP712Signer) nextNonce(now time.Time) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := uint64(now.UnixMilli())
	if n <= s.lastNonce {
		n = s.lastNonce + 1
	}
	s.lastNonce = n
	return n
}

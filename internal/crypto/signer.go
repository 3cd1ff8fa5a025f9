package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// WalletSigner signs swap-aggregator requests with the trading wallet's
// secp256k1 key. The aggregator verifies the signature against the wallet
// address to authorize swaps from that wallet's balance.
type WalletSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewWalletSigner creates a WalletSigner from a hex-encoded private key.
func NewWalletSigner(privateKeyHex string) (*WalletSigner, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &WalletSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the wallet address derived from the private key.
func (s *WalletSigner) Address() common.Address {
	return s.address
}

// SignRequest signs an HTTP request for the swap aggregator. The digest is
// keccak256(timestamp || method || path || body) and the signature is the
// 65-byte r||s||v form, hex-encoded with 0x prefix. Headers returned:
//
//   - X-Wallet-Address
//   - X-Timestamp
//   - X-Signature
func (s *WalletSigner) SignRequest(method, path, body string) (map[string]string, error) {
	return s.SignRequestAt(method, path, body, time.Now().Unix())
}

// SignRequestAt is SignRequest with a caller-supplied Unix timestamp, for
// deterministic tests.
func (s *WalletSigner) SignRequestAt(method, path, body string, unixTS int64) (map[string]string, error) {
	ts := strconv.FormatInt(unixTS, 10)
	digest := ethcrypto.Keccak256([]byte(ts + method + path + body))

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; verifiers expect {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return map[string]string{
		"X-Wallet-Address": s.address.Hex(),
		"X-Timestamp":      ts,
		"X-Signature":      "0x" + hex.EncodeToString(sig),
	}, nil
}

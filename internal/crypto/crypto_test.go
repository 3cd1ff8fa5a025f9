package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Throwaway key, never funded.
const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestHMACHeadersDeterministic(t *testing.T) {
	auth := &HMACAuth{
		Key:        "api-key",
		Secret:     base64.StdEncoding.EncodeToString([]byte("topsecret")),
		Passphrase: "pass",
	}

	h := auth.HeadersAt("POST", "/positions/change", `{"symbol":"HYPE"}`, 1700000000)

	if h["KB-ACCESS-KEY"] != "api-key" || h["KB-ACCESS-PASSPHRASE"] != "pass" {
		t.Fatalf("credential headers = %v", h)
	}
	if h["KB-ACCESS-TIMESTAMP"] != "1700000000" {
		t.Fatalf("timestamp header = %q", h["KB-ACCESS-TIMESTAMP"])
	}

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write([]byte(`1700000000POST/positions/change{"symbol":"HYPE"}`))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if h["KB-ACCESS-SIGN"] != want {
		t.Fatalf("signature = %q, want %q", h["KB-ACCESS-SIGN"], want)
	}

	// Same inputs, same signature; different body, different signature.
	again := auth.HeadersAt("POST", "/positions/change", `{"symbol":"HYPE"}`, 1700000000)
	if again["KB-ACCESS-SIGN"] != h["KB-ACCESS-SIGN"] {
		t.Fatal("signature not deterministic")
	}
	other := auth.HeadersAt("POST", "/positions/change", `{"symbol":"BTC"}`, 1700000000)
	if other["KB-ACCESS-SIGN"] == h["KB-ACCESS-SIGN"] {
		t.Fatal("different bodies produced the same signature")
	}
}

func TestHMACStringRedactsCredentials(t *testing.T) {
	auth := &HMACAuth{Key: "api-key-123", Secret: "supersecretvalue"}
	s := auth.String()
	if strings.Contains(s, "supersecretvalue") || strings.Contains(s, "api-key-123") {
		t.Fatalf("String leaked credentials: %s", s)
	}
}

func TestSignRequestRecoversToWalletAddress(t *testing.T) {
	signer, err := NewWalletSigner(testKeyHex)
	if err != nil {
		t.Fatal(err)
	}

	headers, err := signer.SignRequestAt("POST", "/swaps", `{"fromAsset":"USDC"}`, 1700000000)
	if err != nil {
		t.Fatal(err)
	}
	if headers["X-Wallet-Address"] != signer.Address().Hex() {
		t.Fatalf("address header = %q, want %q", headers["X-Wallet-Address"], signer.Address().Hex())
	}
	if headers["X-Timestamp"] != "1700000000" {
		t.Fatalf("timestamp header = %q", headers["X-Timestamp"])
	}

	sigHex := headers["X-Signature"]
	if !strings.HasPrefix(sigHex, "0x") {
		t.Fatalf("signature = %q, want 0x prefix", sigHex)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		t.Fatalf("signature decode: len %d, err %v", len(sig), err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("recovery byte = %d, want 27 or 28", sig[64])
	}

	// The signature must recover to the wallet address.
	digest := ethcrypto.Keccak256([]byte(`1700000000POST/swaps{"fromAsset":"USDC"}`))
	sig[64] -= 27
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		t.Fatal(err)
	}
	if got := ethcrypto.PubkeyToAddress(*pub); got != signer.Address() {
		t.Fatalf("recovered %s, want %s", got.Hex(), signer.Address().Hex())
	}
}

func TestNewWalletSignerAcceptsPrefixedKey(t *testing.T) {
	a, err := NewWalletSigner(testKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewWalletSigner("0x" + testKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	if a.Address() != b.Address() {
		t.Fatal("prefixed and bare keys derived different addresses")
	}
}

func TestEncryptDecryptWalletKey(t *testing.T) {
	keyfile, err := EncryptWalletKey("0x"+testKeyHex, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(keyfile), testKeyHex) {
		t.Fatal("keyfile contains the plaintext key")
	}

	got, err := DecryptWalletKey(keyfile, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if got != testKeyHex {
		t.Fatalf("decrypted = %q, want %q", got, testKeyHex)
	}

	if _, err := DecryptWalletKey(keyfile, "wrong"); err == nil {
		t.Fatal("wrong password decrypted successfully")
	}
}

func TestEncryptWalletKeyRejectsBadInput(t *testing.T) {
	if _, err := EncryptWalletKey(testKeyHex, ""); err == nil {
		t.Fatal("empty password accepted")
	}
	if _, err := EncryptWalletKey("deadbeef", "pw"); err == nil {
		t.Fatal("short key accepted")
	}
	if _, err := EncryptWalletKey("not hex", "pw"); err == nil {
		t.Fatal("non-hex key accepted")
	}
}

func TestLoadWalletKey(t *testing.T) {
	t.Run("raw key wins and loses its prefix", func(t *testing.T) {
		got, err := LoadWalletKey(WalletConfig{RawPrivateKey: "0x" + testKeyHex, EncryptedKeyPath: "/does/not/exist"})
		if err != nil {
			t.Fatal(err)
		}
		if got != testKeyHex {
			t.Fatalf("key = %q", got)
		}
	})

	t.Run("invalid raw key rejected", func(t *testing.T) {
		if _, err := LoadWalletKey(WalletConfig{RawPrivateKey: "zzzz"}); err == nil {
			t.Fatal("invalid hex accepted")
		}
	})

	t.Run("encrypted keyfile", func(t *testing.T) {
		keyfile, err := EncryptWalletKey(testKeyHex, "hunter2")
		if err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(t.TempDir(), "wallet.json")
		if err := os.WriteFile(path, keyfile, 0o600); err != nil {
			t.Fatal(err)
		}

		got, err := LoadWalletKey(WalletConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
		if err != nil {
			t.Fatal(err)
		}
		if got != testKeyHex {
			t.Fatalf("key = %q", got)
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		if _, err := LoadWalletKey(WalletConfig{}); err == nil {
			t.Fatal("empty config accepted")
		}
	})
}

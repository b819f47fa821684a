package aster

import (
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	testKey       = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testKeyAddr   = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testOwnerAddr = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(Credentials{OwnerAddress: testOwnerAddr, SigningKey: testKey})
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestSerialize(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]string
		want string
	}{
		{name: "empty", in: map[string]string{}, want: "{}"},
		{name: "nil", in: nil, want: "{}"},
		{
			name: "sorted",
			in:   map[string]string{"symbol": "BTCUSDT", "side": "BUY", "quantity": "0.015"},
			want: `{"quantity":"0.015","side":"BUY","symbol":"BTCUSDT"}`,
		},
		{
			name: "byte order puts upper case first",
			in:   map[string]string{"recvWindow": "50000", "reduceOnly": "true", "Z": "1"},
			want: `{"Z":"1","recvWindow":"50000","reduceOnly":"true"}`,
		},
		{
			name: "html left alone",
			in:   map[string]string{"note": "a<b&c>"},
			want: `{"note":"a<b&c>"}`,
		},
		{
			name: "escapes",
			in:   map[string]string{"q": "say \"hi\"\\\n\x01"},
			want: `{"q":"say \"hi\"\\\n\u0001"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Serialize(tt.in); got != tt.want {
				t.Fatalf("Serialize=%s, expected %s", got, tt.want)
			}
		})
	}
}

func TestSignIsDeterministicAndSensitive(t *testing.T) {
	s := newTestSigner(t)
	params := Params{"symbol": "BTCUSDT", "side": "BUY"}

	a, err := s.SignAt("/fapi/v1/order", params, 1700000000000000, 1700000000000)
	if err != nil {
		t.Fatalf("SignAt: %v", err)
	}
	b, err := s.SignAt("/fapi/v1/order", Params{"side": "BUY", "symbol": "BTCUSDT"}, 1700000000000000, 1700000000000)
	if err != nil {
		t.Fatalf("SignAt: %v", err)
	}
	if a.Signature != b.Signature {
		t.Fatalf("same input signed differently: %s vs %s", a.Signature, b.Signature)
	}

	variants := map[string]func() (*SignedRequest, error){
		"timestamp": func() (*SignedRequest, error) {
			return s.SignAt("/fapi/v1/order", params, 1700000000000000, 1700000000001)
		},
		"nonce": func() (*SignedRequest, error) {
			return s.SignAt("/fapi/v1/order", params, 1700000000000001, 1700000000000)
		},
		"param": func() (*SignedRequest, error) {
			return s.SignAt("/fapi/v1/order", Params{"symbol": "ETHUSDT", "side": "BUY"}, 1700000000000000, 1700000000000)
		},
	}
	for name, sign := range variants {
		t.Run(name, func(t *testing.T) {
			c, err := sign()
			if err != nil {
				t.Fatalf("SignAt: %v", err)
			}
			if c.Signature == a.Signature {
				t.Fatalf("changing %s did not change the signature", name)
			}
		})
	}
}

func TestSignInjectsWireFields(t *testing.T) {
	s := newTestSigner(t)
	req, err := s.SignAt("/fapi/v3/balance", Params{"symbol": "BTCUSDT", "empty": ""}, 42, 1700000000123)
	if err != nil {
		t.Fatalf("SignAt: %v", err)
	}

	want := `{"empty":"","recvWindow":"50000","symbol":"BTCUSDT","timestamp":"1700000000123"}`
	if req.Serialized != want {
		t.Fatalf("Serialized=%s, expected %s", req.Serialized, want)
	}
	if req.Headers["Content-Type"] != "application/json" || len(req.Headers) != 1 {
		t.Fatalf("unexpected headers %v", req.Headers)
	}

	q := req.Query()
	if q.Get("nonce") != "42" {
		t.Fatalf("nonce=%s", q.Get("nonce"))
	}
	if q.Get("timestamp") != "1700000000123" {
		t.Fatalf("timestamp=%s", q.Get("timestamp"))
	}
	if q.Get("user") != testOwnerAddr || q.Get("signer") != testKeyAddr {
		t.Fatalf("user=%s signer=%s", q.Get("user"), q.Get("signer"))
	}
	if !q.Has("empty") || q.Get("empty") != "" {
		t.Fatalf("explicit empty param must be sent as signed")
	}
	if !strings.HasPrefix(q.Get("signature"), "0x") || len(q.Get("signature")) != 132 {
		t.Fatalf("signature=%s", q.Get("signature"))
	}

	body := req.Body()
	if ts, ok := body["timestamp"].(int64); !ok || ts != 1700000000123 {
		t.Fatalf("body timestamp=%v (%T)", body["timestamp"], body["timestamp"])
	}
	if v, ok := body["empty"]; !ok || v != "" {
		t.Fatalf("body empty=%v present=%v", v, ok)
	}

	optional := Params{}.Set("symbol", "BTCUSDT").Set("reduceOnly", "")
	if _, ok := optional["reduceOnly"]; ok {
		t.Fatalf("Set with an empty value should leave the key unset")
	}
}

func TestSignatureRecoversSigner(t *testing.T) {
	s := newTestSigner(t)
	req, err := s.SignAt("/fapi/v1/order", Params{"symbol": "BTCUSDT"}, 7, 1700000000000)
	if err != nil {
		t.Fatalf("SignAt: %v", err)
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("v=%d, expected 27 or 28", sig[64])
	}
	sig[64] -= 27

	digest, err := s.Digest(req.Serialized, req.Nonce)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		t.Fatalf("SigToPub: %v", err)
	}
	if got := crypto.PubkeyToAddress(*pub).Hex(); got != testKeyAddr {
		t.Fatalf("recovered %s, expected %s", got, testKeyAddr)
	}
}

func TestNewSignerRejectsBadCredentials(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
	}{
		{name: "missing key", creds: Credentials{OwnerAddress: testOwnerAddr}},
		{name: "malformed key", creds: Credentials{OwnerAddress: testOwnerAddr, SigningKey: "0xnothex"}},
		{name: "malformed owner", creds: Credentials{OwnerAddress: "0x1234", SigningKey: testKey}},
		{
			name:  "bad checksum",
			creds: Credentials{OwnerAddress: "0x70997970c51812DC3A010C7d01b50e0d17dc79C8", SigningKey: testKey},
		},
		{
			name:  "signer mismatch",
			creds: Credentials{OwnerAddress: testOwnerAddr, SigningKey: testKey, SignerAddress: testOwnerAddr},
		},
		{
			name:  "same wallet required",
			creds: Credentials{OwnerAddress: testOwnerAddr, SigningKey: testKey, RequireSameWallet: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSigner(tt.creds)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
		})
	}
}

func TestNewSignerAcceptsLowercaseAddresses(t *testing.T) {
	s, err := NewSigner(Credentials{
		OwnerAddress:      strings.ToLower(testKeyAddr),
		SigningKey:        strings.TrimPrefix(testKey, "0x"),
		SignerAddress:     strings.ToLower(testKeyAddr),
		RequireSameWallet: true,
	})
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if s.OwnerAddress() != testKeyAddr {
		t.Fatalf("owner=%s, expected checksummed %s", s.OwnerAddress(), testKeyAddr)
	}
}

func TestNonceSourceMonotonicUnderContention(t *testing.T) {
	frozen := time.UnixMicro(1700000000000000)
	src := NewNonceSource(func() time.Time { return frozen })

	const workers, perWorker = 16, 200
	results := make(chan uint64, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var prev uint64
			for j := 0; j < perWorker; j++ {
				n := src.Next()
				if n <= prev {
					t.Errorf("nonce went backwards: %d after %d", n, prev)
				}
				prev = n
				results <- n
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[uint64]bool, workers*perWorker)
	for n := range results {
		if seen[n] {
			t.Fatalf("duplicate nonce %d", n)
		}
		seen[n] = true
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("got %d nonces, expected %d", len(seen), workers*perWorker)
	}
}

func TestSignUsesFreshNonces(t *testing.T) {
	s := newTestSigner(t)
	a, err := s.Sign("/fapi/v1/time", Params{})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	b, err := s.Sign("/fapi/v1/time", Params{})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if b.Nonce <= a.Nonce {
		t.Fatalf("nonce %d not above %d", b.Nonce, a.Nonce)
	}
}

// abiWord left-pads b into one 32-byte ABI word.
func abiWord(b []byte) []byte {
	w := make([]byte, 32)
	copy(w[32-len(b):], b)
	return w
}

func TestSignAtMatchesKnownDigest(t *testing.T) {
	const (
		nonce      = uint64(1700000000000000)
		timestamp  = int64(1700000000000)
		serialized = `{"recvWindow":"50000","symbol":"BTCUSDT","timestamp":"1700000000000"}`
		// keccak256 of the encoded (string,address,address,uint256) tuple and
		// its EIP-191 personal-message hash, computed outside go-ethereum.
		wantInner  = "0x8983912e998444414e6d1eec43e5a9c6a63156539ba12a6911cdbf706dcd3b72"
		wantDigest = "0x5f860e9afb280015550a586463d41c517f1f62d5658cfefa2eb1d31cd3dc575d"
	)

	s := newTestSigner(t)
	req, err := s.SignAt("/fapi/v3/balance", Params{"symbol": "BTCUSDT"}, nonce, timestamp)
	if err != nil {
		t.Fatalf("SignAt: %v", err)
	}
	if req.Serialized != serialized {
		t.Fatalf("Serialized=%s, expected %s", req.Serialized, serialized)
	}

	var enc []byte
	enc = append(enc, abiWord([]byte{0x80})...)
	enc = append(enc, abiWord(ethcommon.HexToAddress(testOwnerAddr).Bytes())...)
	enc = append(enc, abiWord(ethcommon.HexToAddress(testKeyAddr).Bytes())...)
	enc = append(enc, abiWord(new(big.Int).SetUint64(nonce).Bytes())...)
	enc = append(enc, abiWord(big.NewInt(int64(len(serialized))).Bytes())...)
	tail := make([]byte, (len(serialized)+31)/32*32)
	copy(tail, serialized)
	enc = append(enc, tail...)
	if len(enc) != 256 {
		t.Fatalf("encoding length=%d, expected 256", len(enc))
	}

	inner := crypto.Keccak256(enc)
	if got := hexutil.Encode(inner); got != wantInner {
		t.Fatalf("inner hash=%s, expected %s", got, wantInner)
	}
	prefixed := append([]byte("\x19Ethereum Signed Message:\n32"), inner...)
	if got := hexutil.Encode(crypto.Keccak256(prefixed)); got != wantDigest {
		t.Fatalf("digest=%s, expected %s", got, wantDigest)
	}

	digest, err := s.Digest(req.Serialized, req.Nonce)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if got := hexutil.Encode(digest); got != wantDigest {
		t.Fatalf("signer digest=%s, expected %s", got, wantDigest)
	}

	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	sig[64] -= 27
	pub, err := crypto.SigToPub(hexutil.MustDecode(wantDigest), sig)
	if err != nil {
		t.Fatalf("SigToPub: %v", err)
	}
	if got := crypto.PubkeyToAddress(*pub).Hex(); got != testKeyAddr {
		t.Fatalf("recovered %s, expected %s", got, testKeyAddr)
	}
}

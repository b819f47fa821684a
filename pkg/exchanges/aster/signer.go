package aster

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultRecvWindow is the staleness tolerance sent with every signed call.
const DefaultRecvWindow int64 = 50000

// Credentials identify the trading account (owner) and the API wallet key that
// signs on its behalf.
type Credentials struct {
	OwnerAddress string
	SigningKey   string

	// SignerAddress, when set, must match the address derived from SigningKey.
	SignerAddress string
	// RequireSameWallet rejects credentials whose owner and signer differ.
	RequireSameWallet bool
}

// SignedRequest is one signed call. Params holds the endpoint params together
// with recvWindow and timestamp, exactly as they were serialized for signing.
type SignedRequest struct {
	Endpoint   string
	Params     Params
	Serialized string
	Nonce      uint64
	Timestamp  int64
	User       string
	Signer     string
	Signature  string
	Headers    map[string]string
}

// Query returns the wire fields for GET and DELETE calls.
func (r *SignedRequest) Query() url.Values {
	q := url.Values{}
	for k, v := range r.Params {
		q.Set(k, v)
	}
	q.Set("nonce", strconv.FormatUint(r.Nonce, 10))
	q.Set("user", r.User)
	q.Set("signer", r.Signer)
	q.Set("signature", r.Signature)
	return q
}

// Body returns the wire fields for POST calls. timestamp travels as a number.
func (r *SignedRequest) Body() map[string]any {
	body := make(map[string]any, len(r.Params)+4)
	for k, v := range r.Params {
		body[k] = v
	}
	body["timestamp"] = r.Timestamp
	body["nonce"] = strconv.FormatUint(r.Nonce, 10)
	body["user"] = r.User
	body["signer"] = r.Signer
	body["signature"] = r.Signature
	return body
}

// Signer produces the wallet signatures AsterDEX V3 endpoints verify.
type Signer struct {
	key        *ecdsa.PrivateKey
	owner      ethcommon.Address
	signer     ethcommon.Address
	recvWindow string
	clock      func() int64
	nonces     *NonceSource
	args       abi.Arguments
}

// NewSigner validates the credentials and prepares the signing key. Any
// malformed key or address is reported as a *ConfigError.
func NewSigner(creds Credentials) (*Signer, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(creds.SigningKey), "0x")
	if keyHex == "" {
		return nil, &ConfigError{Field: "signing_key", Msg: "missing"}
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, &ConfigError{Field: "signing_key", Msg: err.Error()}
	}
	signerAddr := crypto.PubkeyToAddress(key.PublicKey)

	owner, err := ParseAddress("owner_address", creds.OwnerAddress)
	if err != nil {
		return nil, err
	}
	if creds.SignerAddress != "" {
		expected, err := ParseAddress("signer_address", creds.SignerAddress)
		if err != nil {
			return nil, err
		}
		if expected != signerAddr {
			return nil, &ConfigError{
				Field: "signer_address",
				Msg:   fmt.Sprintf("key derives %s, configured %s", signerAddr.Hex(), expected.Hex()),
			}
		}
	}
	if creds.RequireSameWallet && owner != signerAddr {
		return nil, &ConfigError{
			Field: "owner_address",
			Msg:   fmt.Sprintf("owner %s differs from signer %s", owner.Hex(), signerAddr.Hex()),
		}
	}

	args, err := signatureArguments()
	if err != nil {
		return nil, err
	}
	return &Signer{
		key:        key,
		owner:      owner,
		signer:     signerAddr,
		recvWindow: strconv.FormatInt(DefaultRecvWindow, 10),
		clock:      func() int64 { return time.Now().UnixMilli() },
		nonces:     processNonces,
		args:       args,
	}, nil
}

// ParseAddress accepts an all-lower, all-upper or correctly checksummed hex
// address. Mixed case with a wrong checksum is rejected.
func ParseAddress(field, s string) (ethcommon.Address, error) {
	s = strings.TrimSpace(s)
	if !ethcommon.IsHexAddress(s) {
		return ethcommon.Address{}, &ConfigError{Field: field, Msg: fmt.Sprintf("invalid address %q", s)}
	}
	addr := ethcommon.HexToAddress(s)
	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if "0x"+body != addr.Hex() {
			return ethcommon.Address{}, &ConfigError{Field: field, Msg: fmt.Sprintf("bad checksum for %q", s)}
		}
	}
	return addr, nil
}

func signatureArguments() (abi.Arguments, error) {
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		return nil, err
	}
	addressTy, err := abi.NewType("address", "", nil)
	if err != nil {
		return nil, err
	}
	uintTy, err := abi.NewType("uint256", "", nil)
	if err != nil {
		return nil, err
	}
	return abi.Arguments{{Type: stringTy}, {Type: addressTy}, {Type: addressTy}, {Type: uintTy}}, nil
}

// SetRecvWindow overrides the default recvWindow in milliseconds.
func (s *Signer) SetRecvWindow(ms int64) {
	if ms > 0 {
		s.recvWindow = strconv.FormatInt(ms, 10)
	}
}

// SetClock replaces the epoch-millisecond clock used for timestamps.
func (s *Signer) SetClock(now func() int64) {
	if now != nil {
		s.clock = now
	}
}

// OwnerAddress returns the checksummed account address.
func (s *Signer) OwnerAddress() string { return s.owner.Hex() }

// SignerAddress returns the checksummed address of the signing key.
func (s *Signer) SignerAddress() string { return s.signer.Hex() }

// Sign signs params for endpoint with a fresh nonce and timestamp.
func (s *Signer) Sign(endpoint string, params Params) (*SignedRequest, error) {
	return s.SignAt(endpoint, params, s.nonces.Next(), s.clock())
}

// SignAt signs with an explicit nonce and timestamp. Every key present in
// params is signed, including keys whose value is the empty string.
func (s *Signer) SignAt(endpoint string, params Params, nonce uint64, timestamp int64) (*SignedRequest, error) {
	signed := params.clone()
	signed["recvWindow"] = s.recvWindow
	signed["timestamp"] = strconv.FormatInt(timestamp, 10)

	serialized := Serialize(signed)
	encoded, err := s.args.Pack(serialized, s.owner, s.signer, new(big.Int).SetUint64(nonce))
	if err != nil {
		return nil, fmt.Errorf("abi encode: %w", err)
	}
	digest := accounts.TextHash(crypto.Keccak256(encoded))
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	return &SignedRequest{
		Endpoint:   endpoint,
		Params:     signed,
		Serialized: serialized,
		Nonce:      nonce,
		Timestamp:  timestamp,
		User:       s.owner.Hex(),
		Signer:     s.signer.Hex(),
		Signature:  hexutil.Encode(sig),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}, nil
}

// Digest returns the EIP-191 message hash that SignAt signs, for verification.
func (s *Signer) Digest(serialized string, nonce uint64) ([]byte, error) {
	encoded, err := s.args.Pack(serialized, s.owner, s.signer, new(big.Int).SetUint64(nonce))
	if err != nil {
		return nil, err
	}
	return accounts.TextHash(crypto.Keccak256(encoded)), nil
}

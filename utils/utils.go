package utils

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vorpalengineering/usdc-market/types"
)

const (
	PaymentProtocolName    = "SimpleUSDCPaymentProtocol"
	PaymentProtocolVersion = "1"
	Permit2Name            = "Permit2"
	NodeName               = "USDCMarketNode"
	NodeVersion            = "1"

	PaymentIntentType = "PaymentIntent(bytes32 id,address sender,address recipient,uint256 amount,uint256 protocolFee,uint256 deadline,uint256 nonce)"
	AccountCallType   = "AccountCall(address from,string method,string path,bytes32 bodyHash,uint256 deadline)"
)

// Domain is an EIP-712 signing domain. An empty Version is left out of the
// domain separator, as Permit2 does, and so is a zero VerifyingContract.
type Domain struct {
	Name              string         `json:"name"`
	Version           string         `json:"version,omitempty"`
	ChainID           *big.Int       `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"`
}

func PaymentProtocolDomain(chainID *big.Int, protocol common.Address) Domain {
	return Domain{
		Name:              PaymentProtocolName,
		Version:           PaymentProtocolVersion,
		ChainID:           chainID,
		VerifyingContract: protocol,
	}
}

func Permit2Domain(chainID *big.Int, permit2 common.Address) Domain {
	return Domain{
		Name:              Permit2Name,
		ChainID:           chainID,
		VerifyingContract: permit2,
	}
}

// NodeDomain signs account calls to a node. It has no verifying contract.
func NodeDomain(chainID *big.Int) Domain {
	return Domain{
		Name:    NodeName,
		Version: NodeVersion,
		ChainID: chainID,
	}
}

func (d Domain) types() []apitypes.Type {
	fields := []apitypes.Type{{Name: "name", Type: "string"}}
	if d.Version != "" {
		fields = append(fields, apitypes.Type{Name: "version", Type: "string"})
	}
	fields = append(fields, apitypes.Type{Name: "chainId", Type: "uint256"})
	if d.VerifyingContract != (common.Address{}) {
		fields = append(fields, apitypes.Type{Name: "verifyingContract", Type: "address"})
	}
	return fields
}

func (d Domain) typedDataDomain() apitypes.TypedDataDomain {
	domain := apitypes.TypedDataDomain{
		Name:    d.Name,
		Version: d.Version,
		ChainId: (*math.HexOrDecimal256)(d.ChainID),
	}
	if d.VerifyingContract != (common.Address{}) {
		domain.VerifyingContract = d.VerifyingContract.Hex()
	}
	return domain
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// PaymentIntentTypedData is the one definition of the PaymentIntent schema.
// The signature field is not part of the signed message.
func PaymentIntentTypedData(domain Domain, intent *types.PaymentIntent) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domain.types(),
			"PaymentIntent": []apitypes.Type{
				{Name: "id", Type: "bytes32"},
				{Name: "sender", Type: "address"},
				{Name: "recipient", Type: "address"},
				{Name: "amount", Type: "uint256"},
				{Name: "protocolFee", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "PaymentIntent",
		Domain:      domain.typedDataDomain(),
		Message: apitypes.TypedDataMessage{
			"id":          intent.ID.Hex(),
			"sender":      intent.Sender.Hex(),
			"recipient":   intent.Recipient.Hex(),
			"amount":      bigString(intent.Amount),
			"protocolFee": bigString(intent.ProtocolFee),
			"deadline":    fmt.Sprintf("%d", intent.Deadline),
			"nonce":       bigString(intent.Nonce),
		},
	}
}

// PermitTypedData is the Permit2 PermitTransferFrom schema. spender is the
// contract that will call permitTransferFrom.
func PermitTypedData(domain Domain, auth *types.DelegatedTransferAuthorization, spender common.Address) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domain.types(),
			"PermitTransferFrom": []apitypes.Type{
				{Name: "permitted", Type: "TokenPermissions"},
				{Name: "spender", Type: "address"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
			"TokenPermissions": []apitypes.Type{
				{Name: "token", Type: "address"},
				{Name: "amount", Type: "uint256"},
			},
		},
		PrimaryType: "PermitTransferFrom",
		Domain:      domain.typedDataDomain(),
		Message: apitypes.TypedDataMessage{
			"permitted": map[string]interface{}{
				"token":  auth.Permitted.Token.Hex(),
				"amount": bigString(auth.Permitted.Amount),
			},
			"spender":  spender.Hex(),
			"nonce":    bigString(auth.Nonce),
			"deadline": bigString(auth.Deadline),
		},
	}
}

// AccountCallTypedData is the schema an account signs to authorize an HTTP
// request made in its name.
func AccountCallTypedData(domain Domain, call *types.AccountCall) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domain.types(),
			"AccountCall": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "method", Type: "string"},
				{Name: "path", Type: "string"},
				{Name: "bodyHash", Type: "bytes32"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "AccountCall",
		Domain:      domain.typedDataDomain(),
		Message: apitypes.TypedDataMessage{
			"from":     call.From.Hex(),
			"method":   call.Method,
			"path":     call.Path,
			"bodyHash": call.BodyHash.Hex(),
			"deadline": fmt.Sprintf("%d", call.Deadline),
		},
	}
}

func hashTypedData(typedData apitypes.TypedData) (common.Hash, error) {
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return common.BytesToHash(digest), nil
}

// HashPaymentIntent returns the EIP-712 digest the sender signs.
func HashPaymentIntent(domain Domain, intent *types.PaymentIntent) (common.Hash, error) {
	return hashTypedData(PaymentIntentTypedData(domain, intent))
}

func HashPermit(domain Domain, auth *types.DelegatedTransferAuthorization, spender common.Address) (common.Hash, error) {
	return hashTypedData(PermitTypedData(domain, auth, spender))
}

func HashAccountCall(domain Domain, call *types.AccountCall) (common.Hash, error) {
	return hashTypedData(AccountCallTypedData(domain, call))
}

// SignHash signs digest and returns r || s || v with v in {27, 28}.
func SignHash(digest common.Hash, privateKey *ecdsa.PrivateKey) (hexutil.Bytes, error) {
	sig, err := crypto.Sign(digest.Bytes(), privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Adjust v for Ethereum (add 27)
	sig[64] += 27
	return sig, nil
}

func SignPaymentIntent(domain Domain, intent *types.PaymentIntent, privateKey *ecdsa.PrivateKey) (hexutil.Bytes, error) {
	digest, err := HashPaymentIntent(domain, intent)
	if err != nil {
		return nil, err
	}
	return SignHash(digest, privateKey)
}

func SignPermit(domain Domain, auth *types.DelegatedTransferAuthorization, spender common.Address, privateKey *ecdsa.PrivateKey) (hexutil.Bytes, error) {
	digest, err := HashPermit(domain, auth, spender)
	if err != nil {
		return nil, err
	}
	return SignHash(digest, privateKey)
}

func SignAccountCall(domain Domain, call *types.AccountCall, privateKey *ecdsa.PrivateKey) (hexutil.Bytes, error) {
	digest, err := HashAccountCall(domain, call)
	if err != nil {
		return nil, err
	}
	return SignHash(digest, privateKey)
}

// ExtractVRS splits a 65 byte r || s || v signature. v is normalized to
// 27 or 28.
func ExtractVRS(signature []byte) (v uint8, r [32]byte, s [32]byte, err error) {
	// Signature should be 65 bytes (r: 32, s: 32, v: 1)
	if len(signature) != crypto.SignatureLength {
		return 0, [32]byte{}, [32]byte{}, fmt.Errorf("invalid signature length: expected 65, got %d", len(signature))
	}

	copy(r[:], signature[0:32])
	copy(s[:], signature[32:64])
	v = signature[64]

	// Ethereum uses v = 27 or 28, ensure it's in that range
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return 0, [32]byte{}, [32]byte{}, fmt.Errorf("invalid signature recovery id: %d", signature[64])
	}

	return v, r, s, nil
}

// RecoverSigner returns the address that produced signature over digest.
// Malleable (high-s) signatures are rejected.
func RecoverSigner(digest common.Hash, signature []byte) (common.Address, error) {
	v, r, s, err := ExtractVRS(signature)
	if err != nil {
		return common.Address{}, err
	}

	recoveryID := v - 27
	if !crypto.ValidateSignatureValues(recoveryID, new(big.Int).SetBytes(r[:]), new(big.Int).SetBytes(s[:]), true) {
		return common.Address{}, fmt.Errorf("invalid signature values")
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig[0:32], r[:])
	copy(sig[32:64], s[:])
	sig[64] = recoveryID

	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func GetChainID(network string) (*big.Int, error) {
	// network string is in CAIP-2 format (e.g. "eip155:8453")
	substrings := strings.Split(network, ":")
	if len(substrings) != 2 || substrings[0] != "eip155" {
		return nil, fmt.Errorf("invalid CAIP-2 network string")
	}
	chainId, ok := new(big.Int).SetString(substrings[1], 10)
	if !ok || chainId.Sign() <= 0 {
		return nil, fmt.Errorf("failed to parse CAIP-2 network string: %s", network)
	}
	return chainId, nil
}

// Network formats chainID as a CAIP-2 network string.
func Network(chainID *big.Int) string {
	return "eip155:" + chainID.String()
}

// ParsePrivateKey accepts a hex private key with or without 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

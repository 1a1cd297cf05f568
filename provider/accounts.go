package provider

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/NomicFoundation/edr-sub001/config"
	"github.com/NomicFoundation/edr-sub001/core/types"
)

// devAccount is one unlocked development account.
type devAccount struct {
	address types.Address
	key     *ecdsa.PrivateKey
	balance *big.Int
}

// deriveAccounts parses the configured private keys and derives the account
// addresses.
func deriveAccounts(configs []config.AccountConfig) ([]*devAccount, error) {
	accounts := make([]*devAccount, 0, len(configs))
	for i, ac := range configs {
		key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(ac.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("provider: account %d: %w", i, err)
		}
		addr := gethcrypto.PubkeyToAddress(key.PublicKey)
		accounts = append(accounts, &devAccount{
			address: types.BytesToAddress(addr.Bytes()),
			key:     key,
			balance: ac.Balance,
		})
	}
	return accounts, nil
}

// account returns the unlocked account at the address, or nil.
func (p *Provider) account(addr types.Address) *devAccount {
	for _, acct := range p.accounts {
		if acct.address == addr {
			return acct
		}
	}
	return nil
}

// canSendFrom reports whether the node may submit transactions for the
// address: either it holds the key or the address is impersonated.
func (p *Provider) canSendFrom(addr types.Address) bool {
	if p.account(addr) != nil {
		return true
	}
	_, ok := p.impersonated[addr]
	return ok
}

// signPersonal signs data under the EIP-191 personal-message scheme and
// returns the 65-byte signature with the legacy recovery id.
func (p *Provider) signPersonal(addr types.Address, data []byte) ([]byte, error) {
	acct := p.account(addr)
	if acct == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, addr)
	}
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(data), data)
	hash := gethcrypto.Keccak256([]byte(msg))
	sig, err := gethcrypto.Sign(hash, acct.key)
	if err != nil {
		return nil, fmt.Errorf("provider: signing: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// signTypedData signs an EIP-712 typed-data payload (eth_signTypedData_v4).
func (p *Provider) signTypedData(addr types.Address, payload json.RawMessage) ([]byte, error) {
	acct := p.account(addr)
	if acct == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, addr)
	}
	var typedData apitypes.TypedData
	if err := json.Unmarshal(payload, &typedData); err != nil {
		return nil, fmt.Errorf("provider: typed data: %w", err)
	}
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("provider: typed data: %w", err)
	}
	sig, err := gethcrypto.Sign(hash, acct.key)
	if err != nil {
		return nil, fmt.Errorf("provider: signing: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// decodeRawTransaction decodes an EIP-2718 encoded transaction and recovers
// its sender.
func decodeRawTransaction(raw []byte, chainID uint64) (*types.Transaction, error) {
	var gtx gethtypes.Transaction
	if err := gtx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("provider: malformed transaction: %w", err)
	}
	signer := gethtypes.LatestSignerForChainID(new(big.Int).SetUint64(chainID))
	sender, err := gethtypes.Sender(signer, &gtx)
	if err != nil {
		return nil, fmt.Errorf("provider: sender recovery: %w", err)
	}

	tx := &types.Transaction{
		Type:    gtx.Type(),
		ChainID: gtx.ChainId(),
		Nonce:   gtx.Nonce(),
		Gas:     gtx.Gas(),
		Value:   gtx.Value(),
		Data:    gtx.Data(),
		From:    types.BytesToAddress(sender.Bytes()),
	}
	switch gtx.Type() {
	case gethtypes.LegacyTxType, gethtypes.AccessListTxType:
		tx.GasPrice = gtx.GasPrice()
	default:
		tx.GasTipCap = gtx.GasTipCap()
		tx.GasFeeCap = gtx.GasFeeCap()
	}
	if to := gtx.To(); to != nil {
		addr := types.BytesToAddress(to.Bytes())
		tx.To = &addr
	}
	for _, tuple := range gtx.AccessList() {
		entry := types.AccessTuple{Address: types.BytesToAddress(tuple.Address.Bytes())}
		for _, key := range tuple.StorageKeys {
			entry.StorageKeys = append(entry.StorageKeys, types.BytesToHash(key.Bytes()))
		}
		tx.AccessList = append(tx.AccessList, entry)
	}
	if gtx.Type() == gethtypes.BlobTxType {
		tx.BlobFeeCap = gtx.BlobGasFeeCap()
		for _, h := range gtx.BlobHashes() {
			tx.BlobHashes = append(tx.BlobHashes, types.BytesToHash(h.Bytes()))
		}
		if sc := gtx.BlobTxSidecar(); sc != nil {
			sidecar := &types.BlobSidecar{}
			for i := range sc.Blobs {
				sidecar.Blobs = append(sidecar.Blobs, append([]byte(nil), sc.Blobs[i][:]...))
				sidecar.Commitments = append(sidecar.Commitments, append([]byte(nil), sc.Commitments[i][:]...))
				sidecar.Proofs = append(sidecar.Proofs, append([]byte(nil), sc.Proofs[i][:]...))
			}
			tx.Sidecar = sidecar
		}
	}
	for _, auth := range gtx.SetCodeAuthorizations() {
		tx.AuthList = append(tx.AuthList, types.Authorization{
			ChainID: auth.ChainID.Uint64(),
			Address: types.BytesToAddress(auth.Address.Bytes()),
			Nonce:   auth.Nonce,
			V:       auth.V,
			R:       auth.R.ToBig(),
			S:       auth.S.ToBig(),
		})
	}
	tx.V, tx.R, tx.S = gtx.RawSignatureValues()
	return tx, nil
}

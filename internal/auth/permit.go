package auth

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

const pubKeyTypeSecp256k1 = "tendermint/PubKeySecp256k1"

// Signer is satisfied by *wallet.Wallet.
type Signer interface {
	PubKey() []byte
	Sign(msg []byte) ([]byte, error)
}

type PermitParams struct {
	PermitName    string   `json:"permit_name"`
	AllowedTokens []string `json:"allowed_tokens"`
	ChainID       string   `json:"chain_id"`
	Permissions   []string `json:"permissions"`
}

type PubKey struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type PermitSignature struct {
	PubKey    PubKey `json:"pub_key"`
	Signature string `json:"signature"`
}

// Permit is a signed query permit.
type Permit struct {
	Params    PermitParams    `json:"params"`
	Signature PermitSignature `json:"signature"`
}

// Sign doc types. Fields are declared in alphabetical order so the encoding is canonical.
type (
	signDoc struct {
		AccountNumber string    `json:"account_number"`
		ChainID       string    `json:"chain_id"`
		Fee           signFee   `json:"fee"`
		Memo          string    `json:"memo"`
		Msgs          []signMsg `json:"msgs"`
		Sequence      string    `json:"sequence"`
	}
	signFee struct {
		Amount []signCoin `json:"amount"`
		Gas    string     `json:"gas"`
	}
	signCoin struct {
		Amount string `json:"amount"`
		Denom  string `json:"denom"`
	}
	signMsg struct {
		Type  string       `json:"type"`
		Value signMsgValue `json:"value"`
	}
	signMsgValue struct {
		AllowedTokens []string `json:"allowed_tokens"`
		Permissions   []string `json:"permissions"`
		PermitName    string   `json:"permit_name"`
	}
)

// SignBytes is the canonical document a permit signature covers.
func (p PermitParams) SignBytes() ([]byte, error) {
	doc := signDoc{
		AccountNumber: "0",
		ChainID:       p.ChainID,
		Fee: signFee{
			Amount: []signCoin{{Amount: "0", Denom: "uscrt"}},
			Gas:    "1",
		},
		Memo: "",
		Msgs: []signMsg{{
			Type: "query_permit",
			Value: signMsgValue{
				AllowedTokens: nonNil(p.AllowedTokens),
				Permissions:   nonNil(p.Permissions),
				PermitName:    p.PermitName,
			},
		}},
		Sequence: "0",
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("auth: encode sign doc: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// SignPermit issues a permit over the given contracts and permissions.
func SignPermit(s Signer, params PermitParams) (Permit, error) {
	if params.PermitName == "" {
		return Permit{}, errors.New("auth: permit name is empty")
	}
	if params.ChainID == "" {
		return Permit{}, errors.New("auth: permit chain id is empty")
	}
	if len(params.AllowedTokens) == 0 {
		return Permit{}, errors.New("auth: permit allows no contracts")
	}

	doc, err := params.SignBytes()
	if err != nil {
		return Permit{}, err
	}
	sig, err := s.Sign(doc)
	if err != nil {
		return Permit{}, fmt.Errorf("auth: sign permit: %w", err)
	}

	return Permit{
		Params: params,
		Signature: PermitSignature{
			PubKey: PubKey{
				Type:  pubKeyTypeSecp256k1,
				Value: base64.StdEncoding.EncodeToString(s.PubKey()),
			},
			Signature: base64.StdEncoding.EncodeToString(sig),
		},
	}, nil
}

// VerifyPermit checks the permit signature against its embedded public key.
func VerifyPermit(p Permit) error {
	if p.Signature.PubKey.Type != pubKeyTypeSecp256k1 {
		return fmt.Errorf("auth: unsupported pubkey type %q", p.Signature.PubKey.Type)
	}
	pub, err := base64.StdEncoding.DecodeString(p.Signature.PubKey.Value)
	if err != nil {
		return fmt.Errorf("auth: decode pubkey: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(p.Signature.Signature)
	if err != nil {
		return fmt.Errorf("auth: decode signature: %w", err)
	}
	if len(sig) != 64 {
		return fmt.Errorf("auth: signature must be 64 bytes, got %d", len(sig))
	}

	doc, err := p.Params.SignBytes()
	if err != nil {
		return err
	}
	digest := sha256.Sum256(doc)
	if !crypto.VerifySignature(pub, digest[:], sig) {
		return errors.New("auth: permit signature mismatch")
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

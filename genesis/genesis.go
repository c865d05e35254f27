// Package genesis builds the bootstrap block: the configured initial
// instructions, packed into one transaction, signed by the submitting
// node as leader of a virtual one-peer topology and applied at height 1.
// Every other peer receives the result over block sync.
package genesis

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kagami-chain/kagami/block"
	"github.com/kagami-chain/kagami/crypto"
	"github.com/kagami-chain/kagami/data"
	"github.com/kagami-chain/kagami/isi"
	"github.com/kagami-chain/kagami/wsv"
)

// AccountSpec declares one bootstrap account: its name within the
// enclosing domain and its signatory public keys, hex-encoded.
type AccountSpec struct {
	Name       string   `json:"name"`
	PublicKeys []string `json:"public_keys"`
}

// AssetDefinitionSpec declares one bootstrap asset definition.
type AssetDefinitionSpec struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // "u32" | "u128" | "fixed"
}

// MintSpec declares an initial balance: Amount units of the named asset
// definition minted to the named account, both within the enclosing
// domain.
type MintSpec struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  uint32 `json:"amount"`
}

// DomainSpec declares one bootstrap domain and its contents.
type DomainSpec struct {
	Name             string                `json:"name"`
	Accounts         []AccountSpec         `json:"accounts"`
	AssetDefinitions []AssetDefinitionSpec `json:"asset_definitions"`
	Mints            []MintSpec            `json:"mints"`
}

// Spec is the whole declarative genesis file.
type Spec struct {
	Authority string       `json:"authority"` // "name@domain" the genesis tx executes as
	Domains   []DomainSpec `json:"domains"`
}

// Load reads and decodes a genesis spec file.
func Load(path string) (Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("genesis: read %s: %w", path, err)
	}
	var spec Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return Spec{}, fmt.Errorf("genesis: decode %s: %w", path, err)
	}
	return spec, nil
}

func numericKind(s string) (wsv.NumericKind, error) {
	switch s {
	case "u32":
		return wsv.KindU32, nil
	case "u128":
		return wsv.KindU128, nil
	case "fixed":
		return wsv.KindFixed, nil
	default:
		return 0, fmt.Errorf("genesis: unknown asset kind %q", s)
	}
}

// Instructions lowers spec into the ordered instruction list the genesis
// transaction carries: domains first, then accounts and asset definitions
// within each domain, then mints — so every reference resolves by the
// time it executes.
func Instructions(spec Spec) ([]isi.InstructionBox, error) {
	var out []isi.InstructionBox
	for _, dom := range spec.Domains {
		domainId, err := data.NewDomainId(dom.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, isi.InstructionBox{Kind: isi.KindRegisterDomain, Domain: domainId})

		for _, acc := range dom.Accounts {
			accountId, err := data.NewAccountId(acc.Name, domainId)
			if err != nil {
				return nil, err
			}
			ins := isi.InstructionBox{Kind: isi.KindRegisterAccount, Account: accountId}
			for _, hexKey := range acc.PublicKeys {
				key, err := hex.DecodeString(hexKey)
				if err != nil || len(key) != ed25519.PublicKeySize {
					return nil, fmt.Errorf("genesis: account %s: bad public key %q", accountId, hexKey)
				}
				ins.Signatories = append(ins.Signatories, isi.ExpressionBox{
					Kind: isi.ExprRaw,
					Raw:  isi.RawValue{Kind: isi.RawBytes, Bytes: key},
				})
			}
			out = append(out, ins)
		}

		for _, def := range dom.AssetDefinitions {
			defId, err := data.NewAssetDefinitionId(def.Name, domainId)
			if err != nil {
				return nil, err
			}
			kind, err := numericKind(def.Kind)
			if err != nil {
				return nil, err
			}
			out = append(out, isi.InstructionBox{
				Kind:            isi.KindRegisterAssetDefinition,
				AssetDefinition: defId,
				AssetKind:       int(kind),
			})
		}

		for _, m := range dom.Mints {
			defId, err := data.NewAssetDefinitionId(m.Asset, domainId)
			if err != nil {
				return nil, err
			}
			accountId, err := data.NewAccountId(m.Account, domainId)
			if err != nil {
				return nil, err
			}
			out = append(out, isi.InstructionBox{
				Kind:   isi.KindMint,
				Asset:  data.AssetId{Definition: defId, Account: accountId},
				Object: isi.ExpressionBox{Kind: isi.ExprRaw, Raw: isi.RawValue{Kind: isi.RawU32, U32: m.Amount}},
			})
		}
	}
	return out, nil
}

// Build assembles and signs the genesis block: one transaction carrying
// spec's instructions, executed as spec.Authority, at height 1 with a
// zero previous-block hash, committed under a virtual one-peer topology
// (min_votes_for_commit = 1, the builder's own signature).
func Build(provider crypto.Provider, priv ed25519.PrivateKey, spec Spec, nowMs uint64) (block.CommittedBlock, error) {
	authority, err := data.ParseAccountId(spec.Authority)
	if err != nil {
		return block.CommittedBlock{}, fmt.Errorf("genesis: authority: %w", err)
	}
	instructions, err := Instructions(spec)
	if err != nil {
		return block.CommittedBlock{}, err
	}
	if len(instructions) == 0 {
		return block.CommittedBlock{}, fmt.Errorf("genesis: spec produces no instructions")
	}

	tx := block.SignedTransaction{Payload: block.Payload{
		Authority:    authority,
		Instructions: instructions,
		CreatedAtMs:  nowMs,
	}}
	pub := priv.Public().(ed25519.PublicKey)
	tx.Signatures = append(tx.Signatures, block.Sign(provider, tx, pub, priv))

	txHash := tx.Hash(provider)
	header := block.Header{
		Height:           1,
		TimestampMs:      nowMs,
		TransactionsHash: provider.SHA3_256(txHash[:]),
	}
	pending := block.PendingBlock{Header: header, Transactions: []block.SignedTransaction{tx}}
	hash := pending.Hash(provider)
	pending.Signatures = append(pending.Signatures, block.Signature{
		PeerPublicKey: pub,
		Sig:           provider.Sign(priv, hash[:]),
	})
	return pending.ToCommitted(provider, 1)
}

package wsv

import (
	"crypto/ed25519"
	"fmt"
	"sort"

	"github.com/kagami-chain/kagami/data"
)

// SignatureCondition is a predicate over the set of signatory public keys
// that actually signed a transaction. KOfN is the common case; Arbitrary
// covers anything built from nested AND/OR combinators.
type SignatureCondition struct {
	KOfN       int
	Arbitrary  *SignatureExpr
}

// SignatureExpr is a boolean combinator tree over signatory public keys,
// the "arbitrary predicate" half of SignatureCondition.
type SignatureExpr struct {
	Key      ed25519.PublicKey // leaf: this key must have signed
	And, Or  []SignatureExpr
}

// Satisfied reports whether the given set of signing keys satisfies c
// against the account's full signatory set.
func (c SignatureCondition) Satisfied(signatories []ed25519.PublicKey, signedBy map[string]struct{}) bool {
	if c.Arbitrary != nil {
		return c.Arbitrary.satisfied(signedBy)
	}
	count := 0
	for _, k := range signatories {
		if _, ok := signedBy[string(k)]; ok {
			count++
		}
	}
	return count >= c.KOfN
}

func (e SignatureExpr) satisfied(signedBy map[string]struct{}) bool {
	if e.Key != nil {
		_, ok := signedBy[string(e.Key)]
		return ok
	}
	if len(e.And) > 0 {
		for _, sub := range e.And {
			if !sub.satisfied(signedBy) {
				return false
			}
		}
		return true
	}
	if len(e.Or) > 0 {
		for _, sub := range e.Or {
			if sub.satisfied(signedBy) {
				return true
			}
		}
		return false
	}
	return false
}

// Account holds a set of signatory keys, a signature condition, owned
// assets, granted permissions, granted roles, and metadata.
type Account struct {
	Id                 data.AccountId
	Signatories        []ed25519.PublicKey
	SignatureCondition SignatureCondition
	Assets             map[data.AssetDefinitionId]AssetValue
	Permissions        map[PermissionToken]struct{}
	Roles              map[data.RoleId]struct{}
	Metadata           Metadata
}

// NewAccount constructs an empty account owned by id, requiring at least
// one signatory.
func NewAccount(id data.AccountId, signatories []ed25519.PublicKey) (*Account, error) {
	if len(signatories) == 0 {
		return nil, fmt.Errorf("wsv: account %s requires at least one signatory", id)
	}
	return &Account{
		Id:                 id,
		Signatories:        append([]ed25519.PublicKey(nil), signatories...),
		SignatureCondition: SignatureCondition{KOfN: 1},
		Assets:             make(map[data.AssetDefinitionId]AssetValue),
		Permissions:        make(map[PermissionToken]struct{}),
		Roles:              make(map[data.RoleId]struct{}),
		Metadata:           NewMetadata(),
	}, nil
}

// Clone returns a shallow-enough copy suitable for WSV's copy-on-write
// block application: a new top-level Account with fresh maps, sharing
// only immutable leaf values.
func (a *Account) Clone() *Account {
	out := &Account{
		Id:                 a.Id,
		Signatories:        append([]ed25519.PublicKey(nil), a.Signatories...),
		SignatureCondition: a.SignatureCondition,
		Assets:             make(map[data.AssetDefinitionId]AssetValue, len(a.Assets)),
		Permissions:        make(map[PermissionToken]struct{}, len(a.Permissions)),
		Roles:              make(map[data.RoleId]struct{}, len(a.Roles)),
		Metadata:           a.Metadata.Clone(),
	}
	for k, v := range a.Assets {
		out.Assets[k] = v
	}
	for k := range a.Permissions {
		out.Permissions[k] = struct{}{}
	}
	for k := range a.Roles {
		out.Roles[k] = struct{}{}
	}
	return out
}

// SortedAssetDefinitionIds returns the account's owned asset-definition
// ids in canonical order, for deterministic iteration.
func (a *Account) SortedAssetDefinitionIds() []data.AssetDefinitionId {
	ids := make([]data.AssetDefinitionId, 0, len(a.Assets))
	for id := range a.Assets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
	return ids
}

// HasPermission reports whether the account directly holds tok, or holds
// it transitively through a granted role.
func (a *Account) HasPermission(tok PermissionToken, roles map[data.RoleId]*Role) bool {
	if _, ok := a.Permissions[tok]; ok {
		return true
	}
	for rid := range a.Roles {
		role, ok := roles[rid]
		if !ok {
			continue
		}
		for _, p := range role.Permissions {
			if p == tok {
				return true
			}
		}
	}
	return false
}

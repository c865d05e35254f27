package wsv

import (
	"sort"

	"github.com/kagami-chain/kagami/data"
)

// Domain holds a mapping of accounts and asset definitions.
type Domain struct {
	Id                data.DomainId
	Accounts          map[data.AccountId]*Account
	AssetDefinitions  map[data.AssetDefinitionId]AssetDefinition
	Metadata          Metadata
}

// AssetDefinition records the declared shape of an asset type within a
// domain: its numeric kind and whether further minting is allowed.
type AssetDefinition struct {
	Id       data.AssetDefinitionId
	Kind     NumericKind
	Mintable bool
}

// NewDomain constructs an empty domain.
func NewDomain(id data.DomainId) *Domain {
	return &Domain{
		Id:               id,
		Accounts:         make(map[data.AccountId]*Account),
		AssetDefinitions: make(map[data.AssetDefinitionId]AssetDefinition),
		Metadata:         NewMetadata(),
	}
}

// Clone returns a new Domain with fresh top-level maps; Account entries are
// themselves cloned since they are mutated independently.
func (d *Domain) Clone() *Domain {
	out := &Domain{
		Id:               d.Id,
		Accounts:         make(map[data.AccountId]*Account, len(d.Accounts)),
		AssetDefinitions: make(map[data.AssetDefinitionId]AssetDefinition, len(d.AssetDefinitions)),
		Metadata:         d.Metadata.Clone(),
	}
	for id, acc := range d.Accounts {
		out.Accounts[id] = acc.Clone()
	}
	for id, def := range d.AssetDefinitions {
		out.AssetDefinitions[id] = def
	}
	return out
}

// SortedAccountIds returns the domain's account ids in canonical order.
func (d *Domain) SortedAccountIds() []data.AccountId {
	ids := make([]data.AccountId, 0, len(d.Accounts))
	for id := range d.Accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
	return ids
}

// SortedAssetDefinitionIds returns the domain's asset-definition ids in
// canonical order.
func (d *Domain) SortedAssetDefinitionIds() []data.AssetDefinitionId {
	ids := make([]data.AssetDefinitionId, 0, len(d.AssetDefinitions))
	for id := range d.AssetDefinitions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
	return ids
}

package data

import (
	"crypto/ed25519"
	"fmt"
	"strings"
)

// DomainId identifies a domain by name.
type DomainId struct {
	Name Name
}

func NewDomainId(name string) (DomainId, error) {
	n, err := NewName(name)
	if err != nil {
		return DomainId{}, err
	}
	return DomainId{Name: n}, nil
}

func (d DomainId) String() string { return string(d.Name) }

func (d DomainId) Compare(other DomainId) int { return d.Name.Compare(other.Name) }

// AccountId is (name, domain), canonical string form "name@domain".
type AccountId struct {
	Name   Name
	Domain DomainId
}

func NewAccountId(name string, domain DomainId) (AccountId, error) {
	n, err := NewName(name)
	if err != nil {
		return AccountId{}, err
	}
	return AccountId{Name: n, Domain: domain}, nil
}

// ParseAccountId parses "name@domain".
func ParseAccountId(s string) (AccountId, error) {
	name, domain, ok := strings.Cut(s, "@")
	if !ok {
		return AccountId{}, fmt.Errorf("data: account id %q missing '@'", s)
	}
	n, err := NewName(name)
	if err != nil {
		return AccountId{}, err
	}
	d, err := NewDomainId(domain)
	if err != nil {
		return AccountId{}, err
	}
	return AccountId{Name: n, Domain: d}, nil
}

func (a AccountId) String() string { return string(a.Name) + "@" + a.Domain.String() }

func (a AccountId) Compare(other AccountId) int {
	if c := a.Domain.Compare(other.Domain); c != 0 {
		return c
	}
	return a.Name.Compare(other.Name)
}

// AssetDefinitionId is (name, domain), canonical string form "name#domain".
type AssetDefinitionId struct {
	Name   Name
	Domain DomainId
}

func NewAssetDefinitionId(name string, domain DomainId) (AssetDefinitionId, error) {
	n, err := NewName(name)
	if err != nil {
		return AssetDefinitionId{}, err
	}
	return AssetDefinitionId{Name: n, Domain: domain}, nil
}

func ParseAssetDefinitionId(s string) (AssetDefinitionId, error) {
	name, domain, ok := strings.Cut(s, "#")
	if !ok {
		return AssetDefinitionId{}, fmt.Errorf("data: asset definition id %q missing '#'", s)
	}
	n, err := NewName(name)
	if err != nil {
		return AssetDefinitionId{}, err
	}
	d, err := NewDomainId(domain)
	if err != nil {
		return AssetDefinitionId{}, err
	}
	return AssetDefinitionId{Name: n, Domain: d}, nil
}

func (a AssetDefinitionId) String() string { return string(a.Name) + "#" + a.Domain.String() }

func (a AssetDefinitionId) Compare(other AssetDefinitionId) int {
	if c := a.Domain.Compare(other.Domain); c != 0 {
		return c
	}
	return a.Name.Compare(other.Name)
}

// AssetId is (AssetDefinitionId, AccountId), canonical string form
// "def_name#def_domain#owner_name@owner_domain".
type AssetId struct {
	Definition AssetDefinitionId
	Account    AccountId
}

func (a AssetId) String() string { return a.Definition.String() + "#" + a.Account.String() }

func (a AssetId) Compare(other AssetId) int {
	if c := a.Account.Compare(other.Account); c != 0 {
		return c
	}
	return a.Definition.Compare(other.Definition)
}

// RoleId identifies a role definition.
type RoleId struct{ Name Name }

func NewRoleId(name string) (RoleId, error) {
	n, err := NewName(name)
	if err != nil {
		return RoleId{}, err
	}
	return RoleId{Name: n}, nil
}

func (r RoleId) String() string               { return string(r.Name) }
func (r RoleId) Compare(other RoleId) int      { return r.Name.Compare(other.Name) }

// TriggerId identifies a trigger.
type TriggerId struct{ Name Name }

func NewTriggerId(name string) (TriggerId, error) {
	n, err := NewName(name)
	if err != nil {
		return TriggerId{}, err
	}
	return TriggerId{Name: n}, nil
}

func (t TriggerId) String() string          { return string(t.Name) }
func (t TriggerId) Compare(other TriggerId) int { return t.Name.Compare(other.Name) }

// PeerId identifies a peer by its long-term Ed25519 public key and network
// address.
type PeerId struct {
	PublicKey ed25519.PublicKey
	Address   string
}

func (p PeerId) Compare(other PeerId) int {
	return strings.Compare(string(p.PublicKey), string(other.PublicKey))
}

func (p PeerId) String() string {
	return fmt.Sprintf("%x@%s", p.PublicKey, p.Address)
}

package wsv

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kagami-chain/kagami/crypto"
	"github.com/kagami-chain/kagami/data"
	"github.com/kagami-chain/kagami/isi"
)

// HistoricReader is the narrow slice of the Kura block store that the WSV
// holds for historic queries: only the stored chain height. Kura's
// concrete Store type satisfies this structurally; wsv never imports
// package kura, which would otherwise cycle (kura <-> wsv <-> sumeragi
// all wanting a piece of each other).
type HistoricReader interface {
	Height() uint64
}

// TriggerStore is the narrow slice of the trigger set that ExecuteTrigger
// instructions need: the action instructions registered under a trigger
// id. Package triggers implements this against its own Set type;
// wsv never imports package triggers for the same reason it avoids kura.
type TriggerStore interface {
	ActionFor(id data.TriggerId) ([]isi.InstructionBox, bool)

	// Register installs a trigger from a RegisterTrigger instruction's
	// spec; Unregister removes one, reporting whether it existed.
	Register(id data.TriggerId, domain data.DomainId, authority data.AccountId, spec isi.TriggerSpec) error
	Unregister(id data.TriggerId) bool
}

// World is the full replicated ledger state: registered domains (and,
// transitively, their accounts and asset definitions), the network peer
// set, role definitions, chain parameters, and block-height bookkeeping.
type World struct {
	Domains    map[data.DomainId]*Domain
	Peers      map[string]data.PeerId
	Roles      map[data.RoleId]*Role
	Parameters Metadata

	Height          uint64
	LatestBlockHash [32]byte
}

// NewWorld constructs an empty World.
func NewWorld() *World {
	return &World{
		Domains:    make(map[data.DomainId]*Domain),
		Peers:      make(map[string]data.PeerId),
		Roles:      make(map[data.RoleId]*Role),
		Parameters: NewMetadata(),
	}
}

// WorldStateView guards a World behind a single-writer/multi-reader lock
// and carries the collaborators instruction execution needs: a crypto
// provider for hashing, a historic block reader, and the trigger action
// registry.
type WorldStateView struct {
	mu       sync.RWMutex
	world    *World
	provider crypto.Provider
	historic HistoricReader
	triggers TriggerStore
}

// NewWorldStateView constructs a WorldStateView over an existing World.
func NewWorldStateView(world *World, provider crypto.Provider, historic HistoricReader, triggers TriggerStore) *WorldStateView {
	return &WorldStateView{world: world, provider: provider, historic: historic, triggers: triggers}
}

// Provider exposes the configured crypto.Provider to callers (e.g.
// instruction execution needing to hash a public key expression).
func (w *WorldStateView) Provider() crypto.Provider { return w.provider }

// Height returns the height of the last applied block.
func (w *WorldStateView) Height() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.world.Height
}

// LatestBlockHash returns the hash of the last applied block.
func (w *WorldStateView) LatestBlockHash() [32]byte {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.world.LatestBlockHash
}

// mapAccountLocked runs f against the account identified by id, holding a
// read lock for the duration. It is the single choke point every
// read-only account access goes through, so validators and queries see a
// consistent snapshot.
func (w *WorldStateView) mapAccountLocked(id data.AccountId, f func(*Account) error) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	dom, ok := w.world.Domains[id.Domain]
	if !ok {
		return fmt.Errorf("wsv: domain %s not found", id.Domain)
	}
	acc, ok := dom.Accounts[id]
	if !ok {
		return fmt.Errorf("wsv: account %s not found", id)
	}
	return f(acc)
}

// MapAccount is the exported form of mapAccountLocked, for callers outside
// this package (the query engine, RPC handlers).
func (w *WorldStateView) MapAccount(id data.AccountId, f func(*Account) error) error {
	return w.mapAccountLocked(id, f)
}

// MapDomain runs f against the domain identified by id under a read lock.
func (w *WorldStateView) MapDomain(id data.DomainId, f func(*Domain) error) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	dom, ok := w.world.Domains[id]
	if !ok {
		return fmt.Errorf("wsv: domain %s not found", id)
	}
	return f(dom)
}

// MapAssetDefinition runs f against the asset definition identified by id
// under a read lock.
func (w *WorldStateView) MapAssetDefinition(id data.AssetDefinitionId, f func(*AssetDefinition) error) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	dom, ok := w.world.Domains[id.Domain]
	if !ok {
		return fmt.Errorf("wsv: domain %s not found", id.Domain)
	}
	def, ok := dom.AssetDefinitions[id]
	if !ok {
		return fmt.Errorf("wsv: asset definition %s not found", id)
	}
	return f(&def)
}

// ModifyAccount clones the account identified by id, runs f against the
// clone, and — if f succeeds — installs the clone back into its domain.
// The clone-then-swap discipline means a reader holding an earlier
// snapshot of the *Account pointer (taken under RLock) never observes a
// torn write.
func (w *WorldStateView) ModifyAccount(id data.AccountId, f func(*Account) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	dom, ok := w.world.Domains[id.Domain]
	if !ok {
		return fmt.Errorf("wsv: domain %s not found", id.Domain)
	}
	acc, ok := dom.Accounts[id]
	if !ok {
		return fmt.Errorf("wsv: account %s not found", id)
	}
	clone := acc.Clone()
	if err := f(clone); err != nil {
		return err
	}
	// Install through a domain clone as well: the *Domain leaf may be
	// shared with a Snapshot, and writing into its Accounts map directly
	// would leak the mutation into the frozen view.
	domClone := dom.Clone()
	domClone.Accounts[id] = clone
	w.world.Domains[id.Domain] = domClone
	return nil
}

// ModifyDomain clones the domain identified by id, runs f against the
// clone, and installs it back on success.
func (w *WorldStateView) ModifyDomain(id data.DomainId, f func(*Domain) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	dom, ok := w.world.Domains[id]
	if !ok {
		return fmt.Errorf("wsv: domain %s not found", id)
	}
	clone := dom.Clone()
	if err := f(clone); err != nil {
		return err
	}
	w.world.Domains[id] = clone
	return nil
}

// RegisterDomain adds a new, empty domain, failing if one already exists
// under that id.
func (w *WorldStateView) RegisterDomain(id data.DomainId) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.world.Domains[id]; ok {
		return fmt.Errorf("wsv: domain %s already registered", id)
	}
	w.world.Domains[id] = NewDomain(id)
	return nil
}

// UnregisterDomain removes a domain entirely, along with every account
// and asset definition it held.
func (w *WorldStateView) UnregisterDomain(id data.DomainId) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.world.Domains[id]; !ok {
		return fmt.Errorf("wsv: domain %s not found", id)
	}
	delete(w.world.Domains, id)
	return nil
}

// SortedDomainIds returns every registered domain id in canonical order.
func (w *WorldStateView) SortedDomainIds() []data.DomainId {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ids := make([]data.DomainId, 0, len(w.world.Domains))
	for id := range w.world.Domains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
	return ids
}

// RoleByID looks up a role definition under a read lock.
func (w *WorldStateView) RoleByID(id data.RoleId) (*Role, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	role, ok := w.world.Roles[id]
	return role, ok
}

// PutRole installs or replaces a role definition.
func (w *WorldStateView) PutRole(role *Role) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.world.Roles[role.Id] = role
}

// HasPeer reports whether a peer is registered in the current topology
// seed set.
func (w *WorldStateView) HasPeer(id data.PeerId) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.world.Peers[string(id.PublicKey)]
	return ok
}

// PeerIds returns every registered peer id, unordered; callers that need
// canonical ordering (package topology) sort by PeerId.Compare themselves.
func (w *WorldStateView) PeerIds() []data.PeerId {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]data.PeerId, 0, len(w.world.Peers))
	for _, id := range w.world.Peers {
		out = append(out, id)
	}
	return out
}

// AddPeer / RemovePeer mutate the registered peer set.
func (w *WorldStateView) AddPeer(id data.PeerId) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.world.Peers[string(id.PublicKey)] = id
}

func (w *WorldStateView) RemovePeer(id data.PeerId) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.world.Peers, string(id.PublicKey))
}

// SetParameter / Parameter manage chain-level configuration parameters
// governed by CanSetParameters.
func (w *WorldStateView) SetParameter(key string, value Value) {
	w.mu.Lock()
	defer w.mu.Unlock()
	// Clone before Set: the Parameters entries map may be shared with a
	// Snapshot, and Metadata.Set writes into the receiver's map.
	w.world.Parameters = w.world.Parameters.Clone().Set(key, value)
}

func (w *WorldStateView) Parameter(key string) (Value, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.world.Parameters.Get(key)
}

// advanceHeight records that a block has been committed on top of the
// current state, called once per Apply after every instruction in the
// block has executed.
func (w *WorldStateView) advanceHeight(height uint64, hash [32]byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.world.Height = height
	w.world.LatestBlockHash = hash
}

// shallowClone copies the top-level Domains/Peers/Roles maps into fresh
// maps that still point at the same *Domain/*Role values. Every mutation
// path (ModifyDomain, ModifyAccount, PutRole) replaces the leaf it touches
// with a clone before installing it back, so a shallow top-level copy is
// enough to freeze a point-in-time view: later mutations on the live World
// install new leaves into the live map without ever touching a leaf a
// snapshot still references.
func (w *World) shallowClone() *World {
	clone := &World{
		Domains:         make(map[data.DomainId]*Domain, len(w.Domains)),
		Peers:           make(map[string]data.PeerId, len(w.Peers)),
		Roles:           make(map[data.RoleId]*Role, len(w.Roles)),
		Parameters:      w.Parameters,
		Height:          w.Height,
		LatestBlockHash: w.LatestBlockHash,
	}
	for id, dom := range w.Domains {
		clone.Domains[id] = dom
	}
	for key, id := range w.Peers {
		clone.Peers[key] = id
	}
	for id, role := range w.Roles {
		clone.Roles[id] = role
	}
	return clone
}

// Snapshot captures the current World for later rollback — the basis of
// Sumeragi's soft-fork recovery, which needs to undo a
// block application that later lost a view-change-index comparison against
// a competing block at the same height.
func (w *WorldStateView) Snapshot() *World {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.world.shallowClone()
}

// Restore replaces the live World with a previously captured snapshot.
// Callers must ensure no other goroutine is concurrently applying a block.
func (w *WorldStateView) Restore(snap *World) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.world = snap
}

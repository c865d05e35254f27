package wsv

import (
	"fmt"
	"sort"

	"github.com/kagami-chain/kagami/data"
)

// Page describes a pagination window: Start is the zero-based offset into
// the full sorted result set and Limit bounds how many entries are
// returned (0 means "to the end"). Total is always the pre-pagination
// count of matching entries, so a caller can tell it reached the end.
type Page struct {
	Start uint32
	Limit uint32
}

// paginate slices total items down to a page, returning the sliced
// indices [start, end); callers report the pre-pagination total themselves.
func paginate(total int, p Page) (start, end int) {
	start = int(p.Start)
	if start > total {
		start = total
	}
	end = total
	if p.Limit > 0 && start+int(p.Limit) < end {
		end = start + int(p.Limit)
	}
	return start, end
}

// FindAccountById returns a copy-safe snapshot of the account's owned
// asset ids, permissions, and roles; callers needing to mutate go through
// WorldStateView.ModifyAccount instead.
func (w *WorldStateView) FindAccountById(id data.AccountId) (*Account, error) {
	var out *Account
	err := w.mapAccountLocked(id, func(acc *Account) error {
		out = acc.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindAssetById returns the asset value held at id.
func (w *WorldStateView) FindAssetById(id data.AssetId) (AssetValue, error) {
	var out AssetValue
	err := w.mapAccountLocked(id.Account, func(acc *Account) error {
		v, ok := acc.Assets[id.Definition]
		if !ok {
			return fmt.Errorf("wsv: asset %s not found", id)
		}
		out = v
		return nil
	})
	return out, err
}

// FindAssetQuantityById is a separate query name for the asset's quantity;
// it returns exactly what FindAssetById returns.
func (w *WorldStateView) FindAssetQuantityById(id data.AssetId) (AssetValue, error) {
	return w.FindAssetById(id)
}

// FindAllDomains returns every registered domain id in canonical order,
// paginated.
func (w *WorldStateView) FindAllDomains(p Page) (ids []data.DomainId, total int) {
	all := w.SortedDomainIds()
	start, end := paginate(len(all), p)
	return all[start:end], len(all)
}

// FindAllAccounts returns every account id across every domain, in
// canonical (domain, then name) order, paginated.
func (w *WorldStateView) FindAllAccounts(p Page) (ids []data.AccountId, total int) {
	w.mu.RLock()
	var all []data.AccountId
	for _, dom := range w.world.Domains {
		all = append(all, dom.SortedAccountIds()...)
	}
	w.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].Compare(all[j]) < 0 })
	start, end := paginate(len(all), p)
	return all[start:end], len(all)
}

// FindAllAssetsDefinitions returns every asset definition id across every
// domain, in canonical order, paginated.
func (w *WorldStateView) FindAllAssetsDefinitions(p Page) (ids []data.AssetDefinitionId, total int) {
	w.mu.RLock()
	var all []data.AssetDefinitionId
	for _, dom := range w.world.Domains {
		all = append(all, dom.SortedAssetDefinitionIds()...)
	}
	w.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].Compare(all[j]) < 0 })
	start, end := paginate(len(all), p)
	return all[start:end], len(all)
}

// FindAllPeers returns every registered peer id in canonical order,
// paginated.
func (w *WorldStateView) FindAllPeers(p Page) (ids []data.PeerId, total int) {
	all := w.PeerIds()
	sort.Slice(all, func(i, j int) bool { return all[i].Compare(all[j]) < 0 })
	start, end := paginate(len(all), p)
	return all[start:end], len(all)
}

// FindAllRoles returns every registered role id in canonical order,
// paginated.
func (w *WorldStateView) FindAllRoles(p Page) (ids []data.RoleId, total int) {
	w.mu.RLock()
	all := make([]data.RoleId, 0, len(w.world.Roles))
	for id := range w.world.Roles {
		all = append(all, id)
	}
	w.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].Compare(all[j]) < 0 })
	start, end := paginate(len(all), p)
	return all[start:end], len(all)
}

// FindAccountsWithAssetDefinition returns every account id (across all
// domains) that owns a nonzero balance of def, in canonical order.
func (w *WorldStateView) FindAccountsWithAssetDefinition(def data.AssetDefinitionId, p Page) (ids []data.AccountId, total int) {
	w.mu.RLock()
	var all []data.AccountId
	for _, dom := range w.world.Domains {
		for _, accId := range dom.SortedAccountIds() {
			acc := dom.Accounts[accId]
			if v, ok := acc.Assets[def]; ok && !v.IsZero() {
				all = append(all, accId)
			}
		}
	}
	w.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].Compare(all[j]) < 0 })
	start, end := paginate(len(all), p)
	return all[start:end], len(all)
}

// MetadataSortKey orders two accounts by the value bound to key in their
// metadata; an account missing key sorts after one that has it, and ties
// fall back to account id for a total, stable order.
func MetadataSortKey(key string) func(a, b *Account) bool {
	return func(a, b *Account) bool {
		av, aok := a.Metadata.Get(key)
		bv, bok := b.Metadata.Get(key)
		switch {
		case aok && !bok:
			return true
		case !aok && bok:
			return false
		case !aok && !bok:
			return a.Id.Compare(b.Id) < 0
		default:
			if av.Kind == bv.Kind && av.Kind == ValueNumeric {
				if c := av.Numeric.Compare(bv.Numeric); c != 0 {
					return c < 0
				}
			} else if av.Kind == bv.Kind && av.Kind == ValueString && av.String != bv.String {
				return av.String < bv.String
			}
			return a.Id.Compare(b.Id) < 0
		}
	}
}

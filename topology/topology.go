// Package topology implements peer ordering and role derivation: an
// ordered peer list with a monotonic view-change index, the BFT
// fault-tolerance arithmetic, and the rotation rules that keep every
// honest node's ordering identical.
package topology

import (
	"sort"

	"github.com/kagami-chain/kagami/block"
	"github.com/kagami-chain/kagami/data"
)

// Role is a peer's derived position in the current topology.
type Role int

const (
	Undefined Role = iota
	Leader
	ValidatingPeer
	ProxyTail
	ObservingPeer
)

func (r Role) String() string {
	switch r {
	case Leader:
		return "Leader"
	case ValidatingPeer:
		return "ValidatingPeer"
	case ProxyTail:
		return "ProxyTail"
	case ObservingPeer:
		return "ObservingPeer"
	default:
		return "Undefined"
	}
}

// Topology holds the ordered peer list and the current view-change index.
type Topology struct {
	peers          []data.PeerId
	viewChangeIndex uint64
}

// New constructs a Topology from an initial peer set, sorted into
// canonical PeerId order so every node derives the same starting list
// without out-of-band coordination.
func New(peers []data.PeerId) *Topology {
	sorted := append([]data.PeerId(nil), peers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Compare(sorted[j]) < 0 })
	return &Topology{peers: sorted}
}

// Len returns the number of peers in the topology.
func (t *Topology) Len() int { return len(t.peers) }

// Peers returns a copy of the current ordered peer list.
func (t *Topology) Peers() []data.PeerId { return append([]data.PeerId(nil), t.peers...) }

// ViewChangeIndex returns the current view-change index.
func (t *Topology) ViewChangeIndex() uint64 { return t.viewChangeIndex }

// MaxFaults returns f = ⌊(n−1)/3⌋.
func (t *Topology) MaxFaults() int {
	n := len(t.peers)
	if n == 0 {
		return 0
	}
	return (n - 1) / 3
}

// MinVotesForCommit returns 2f+1 when n>3, else n.
func (t *Topology) MinVotesForCommit() int {
	n := len(t.peers)
	if n <= 3 {
		return n
	}
	return 2*t.MaxFaults() + 1
}

// LeaderIndex is always 0.
func (t *Topology) LeaderIndex() int { return 0 }

// ProxyTailIndex is min_votes_for_commit − 1.
func (t *Topology) ProxyTailIndex() int { return t.MinVotesForCommit() - 1 }

// RoleOf derives the role of the peer at the given index in Peers().
// Index -1 (peer not found) maps to Undefined.
func (t *Topology) RoleOf(index int) Role {
	if index < 0 || index >= len(t.peers) {
		return Undefined
	}
	proxyTail := t.ProxyTailIndex()
	switch {
	case index == t.LeaderIndex():
		return Leader
	case index == proxyTail:
		return ProxyTail
	case index < proxyTail:
		return ValidatingPeer
	default:
		return ObservingPeer
	}
}

// IndexOf returns the peer's position in the ordered list, or -1.
func (t *Topology) IndexOf(id data.PeerId) int {
	for i, p := range t.peers {
		if p.Compare(id) == 0 {
			return i
		}
	}
	return -1
}

// RoleOfPeer is a convenience wrapper combining IndexOf and RoleOf.
func (t *Topology) RoleOfPeer(id data.PeerId) Role { return t.RoleOf(t.IndexOf(id)) }

// NthRotation brings the topology to view-change index n by left-rotating
// the full peer list (n − current_view_change_index) mod len times. The
// view-change index is monotonic per block: callers must not call this
// with an n lower than the current index within the same height.
func (t *Topology) NthRotation(n uint64) {
	if len(t.peers) == 0 {
		t.viewChangeIndex = n
		return
	}
	delta := int64(n) - int64(t.viewChangeIndex)
	steps := ((delta % int64(len(t.peers))) + int64(len(t.peers))) % int64(len(t.peers))
	t.rotateLeft(int(steps))
	t.viewChangeIndex = n
}

// CommitRotation is the post-commit rotation rule: only the first
// min_votes_for_commit peers rotate left by one, and the view-change index
// resets to 0.
func (t *Topology) CommitRotation() {
	k := t.MinVotesForCommit()
	if k > len(t.peers) {
		k = len(t.peers)
	}
	if k > 1 {
		head := append([]data.PeerId(nil), t.peers[:k]...)
		rotated := append(head[1:], head[0])
		copy(t.peers[:k], rotated)
	}
	t.viewChangeIndex = 0
}

func (t *Topology) rotateLeft(steps int) {
	if steps <= 0 || len(t.peers) == 0 {
		return
	}
	steps %= len(t.peers)
	t.peers = append(t.peers[steps:], t.peers[:steps]...)
}

// UpdatePeerList preserves the relative order of peers already present
// and appends new peers at the end; peers not present in newPeers are
// dropped.
func (t *Topology) UpdatePeerList(newPeers []data.PeerId) {
	present := make(map[string]struct{}, len(newPeers))
	for _, p := range newPeers {
		present[string(p.PublicKey)] = struct{}{}
	}
	kept := make([]data.PeerId, 0, len(t.peers))
	have := make(map[string]struct{}, len(t.peers))
	for _, p := range t.peers {
		if _, ok := present[string(p.PublicKey)]; ok {
			kept = append(kept, p)
			have[string(p.PublicKey)] = struct{}{}
		}
	}
	for _, p := range newPeers {
		if _, ok := have[string(p.PublicKey)]; !ok {
			kept = append(kept, p)
			have[string(p.PublicKey)] = struct{}{}
		}
	}
	t.peers = kept
}

// FilterSignaturesByRoles maps each signature's peer-index tag
// (IndexedSignature.Index, the signer's position in the topology's peer
// ordering at signing time) to a role and retains those
// matching roles. Signatures for indices outside the current topology are
// discarded.
func (t *Topology) FilterSignaturesByRoles(roles map[Role]struct{}, sigs []IndexedSignature) []block.Signature {
	out := make([]block.Signature, 0, len(sigs))
	for _, is := range sigs {
		if is.Index < 0 || is.Index >= len(t.peers) {
			continue
		}
		role := t.RoleOf(is.Index)
		if _, ok := roles[role]; ok {
			out = append(out, is.Signature)
		}
	}
	return out
}

// IndexedSignature tags a block signature with the signer's peer index at
// the time of signing, the minimal information FilterSignaturesByRoles
// needs to resolve a role without re-deriving peer identity from the raw
// Ed25519 key.
type IndexedSignature struct {
	Index     int
	Signature block.Signature
}

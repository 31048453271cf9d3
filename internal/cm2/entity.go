// Package cm2 holds the backhaul domain's entity model (spec §3.1, §9):
// VIFs, their at-most-one GRE child, and MLDs aggregating link-VIFs. It's
// shared by the cmu/dhcp/gre/mlo reconcilers in the cm2/* subpackages.
//
// Ownership is modeled as an arena of handles rather than the cyclic
// pointer structure the original C uses (a VIF owning a GRE that
// back-points to its VIF): the GRE's back-pointer is looked up through the
// arena, not stored as a live pointer, so drop order (GRE before VIF) is a
// single enforced check rather than something the caller must get right by
// convention.
package cm2

import (
	"fmt"
	"sync"
)

// VIF is a backhaul VIF entity, §3.1.
type VIF struct {
	Name string
}

// GRE is a backhaul GRE tunnel entity bound to exactly one parent VIF,
// §3.1. Lifetime must be <= parent VIF's.
type GRE struct {
	Name       string
	ParentName string
}

// MLD aggregates a set of link-VIFs under one multi-link identity, §3.1,
// §4.2.6. It is destroyed (garbage collected) when its child set becomes
// empty.
type MLD struct {
	Name     string
	Children map[string]bool // link-vif names

	// Owns at most one each of these downstream handles, reported by the
	// MLO aggregator in place of the individual link-VIFs' identities.
	CMUVIFName string
	CMUGREName string
	DHCPBound  bool
	GREName    string
}

// Arena owns the VIF/GRE/MLD entity sets and enforces the structural
// invariants from §3.1:
//   - each VIF has at most one GRE child
//   - a GRE is destroyed before its parent VIF
//   - an MLD garbage-collects itself when its child set is empty
type Arena struct {
	mu sync.Mutex

	vifs        map[string]*VIF
	gres        map[string]*GRE
	greByParent map[string]string // parent vif name -> gre name
	mlds        map[string]*MLD
}

// NewArena creates an empty entity arena.
func NewArena() *Arena {
	return &Arena{
		vifs:        make(map[string]*VIF),
		gres:        make(map[string]*GRE),
		greByParent: make(map[string]string),
		mlds:        make(map[string]*MLD),
	}
}

// EnsureVIF returns the VIF entity for name, creating it if absent.
func (a *Arena) EnsureVIF(name string) *VIF {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.vifs[name]
	if !ok {
		v = &VIF{Name: name}
		a.vifs[name] = v
	}
	return v
}

// VIF looks up an existing VIF entity.
func (a *Arena) VIF(name string) (*VIF, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.vifs[name]
	return v, ok
}

// DropVIF removes a VIF entity. It refuses to do so while a GRE child is
// still bound (§3.1: "Each GRE has exactly one parent VIF and is destroyed
// before the VIF").
func (a *Arena) DropVIF(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, bound := a.greByParent[name]; bound {
		return fmt.Errorf("cm2: refusing to drop VIF %s with a live GRE child", name)
	}
	delete(a.vifs, name)
	return nil
}

// BindGRE creates a GRE entity owned by parentVIF. It errors if the parent
// already has a GRE child (§3.1 invariant: "each VIF has <= 1 GRE child")
// or if the parent VIF doesn't exist - the tunnel takes exclusive
// ownership of an already-allocated VIF (§9's resolution of the
// cm2_bh_gre_tun_alloc Open Question).
func (a *Arena) BindGRE(parentVIF, greName string) (*GRE, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.vifs[parentVIF]; !ok {
		return nil, fmt.Errorf("cm2: cannot bind GRE %s to unknown VIF %s", greName, parentVIF)
	}
	if existing, bound := a.greByParent[parentVIF]; bound {
		return nil, fmt.Errorf("cm2: VIF %s already owns GRE %s", parentVIF, existing)
	}

	g := &GRE{Name: greName, ParentName: parentVIF}
	a.gres[greName] = g
	a.greByParent[parentVIF] = greName
	return g, nil
}

// GRE looks up an existing GRE entity.
func (a *Arena) GRE(name string) (*GRE, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.gres[name]
	return g, ok
}

// GREForParent returns the GRE bound to the given VIF, if any.
func (a *Arena) GREForParent(parentVIF string) (*GRE, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	name, ok := a.greByParent[parentVIF]
	if !ok {
		return nil, false
	}
	return a.gres[name], true
}

// UnbindGRE destroys a GRE entity, freeing its parent VIF to be dropped or
// to receive a new GRE child.
func (a *Arena) UnbindGRE(greName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.gres[greName]
	if !ok {
		return
	}
	delete(a.gres, greName)
	if a.greByParent[g.ParentName] == greName {
		delete(a.greByParent, g.ParentName)
	}
}

// EnsureMLD returns the MLD for name, creating it if absent.
func (a *Arena) EnsureMLD(name string) *MLD {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.mlds[name]
	if !ok {
		m = &MLD{Name: name, Children: make(map[string]bool)}
		a.mlds[name] = m
	}
	return m
}

// MLD looks up an existing MLD.
func (a *Arena) MLD(name string) (*MLD, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.mlds[name]
	return m, ok
}

// AddLinkVIF adds vifName to mldName's child set, creating the MLD if
// necessary.
func (a *Arena) AddLinkVIF(mldName, vifName string) *MLD {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.mlds[mldName]
	if !ok {
		m = &MLD{Name: mldName, Children: make(map[string]bool)}
		a.mlds[mldName] = m
	}
	m.Children[vifName] = true
	return m
}

// RemoveLinkVIF removes vifName from mldName's child set. If the child set
// becomes empty, the MLD is garbage collected and removed is true.
func (a *Arena) RemoveLinkVIF(mldName, vifName string) (removed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.mlds[mldName]
	if !ok {
		return false
	}
	delete(m.Children, vifName)
	if len(m.Children) == 0 {
		delete(a.mlds, mldName)
		return true
	}
	return false
}

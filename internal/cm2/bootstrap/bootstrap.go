// Package bootstrap parses the CM backhaul bootstrap list, spec §6.5: a
// space-separated list of "phy:vif" tokens naming the backhaul VIFs to
// track from process start, each of which gets a GRE child named
// "g-<vif>".
package bootstrap

import (
	"fmt"
	"strings"

	"github.com/plume-design/opensync-sub021/internal/cm2"
)

// Entry is one parsed bootstrap token.
type Entry struct {
	Phy       string
	VIF       string
	GREIfName string
}

// Parse splits list on whitespace and decodes each "phy:vif" token. A
// malformed token (missing the ':', or an empty phy/vif) is a parse error.
func Parse(list string) ([]Entry, error) {
	fields := strings.Fields(list)
	entries := make([]Entry, 0, len(fields))

	for _, tok := range fields {
		phy, vif, ok := strings.Cut(tok, ":")
		if !ok || phy == "" || vif == "" {
			return nil, fmt.Errorf("bootstrap: malformed token %q, want phy:vif", tok)
		}
		entries = append(entries, Entry{Phy: phy, VIF: vif, GREIfName: "g-" + vif})
	}
	return entries, nil
}

// Populate registers every parsed entry's VIF and bound GRE child in
// arena, enforcing the same ownership invariants as any other
// tunnel-allocation path (§3.1, §9).
func Populate(arena *cm2.Arena, entries []Entry) error {
	for _, e := range entries {
		arena.EnsureVIF(e.VIF)
		if _, err := arena.BindGRE(e.VIF, e.GREIfName); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}
	return nil
}

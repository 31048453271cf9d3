package nfe

import "github.com/klauspost/oui"

// VendorLookup maps a MAC address to its manufacturer by querying an IEEE
// OUI database (static file, loaded once at startup). It is a standalone
// helper: neither PacketHash nor Dump calls it.
type VendorLookup struct {
	db oui.StaticDB
}

// NewVendorLookup opens the OUI database at path. A missing/unreadable
// database is not fatal to the connection-flow engine - vendor tagging is
// a diagnostics nicety, not part of the classify/lookup hot path - so the
// error is returned for the caller to log and ignore if it chooses.
func NewVendorLookup(path string) (*VendorLookup, error) {
	db, err := oui.OpenStaticFile(path)
	if err != nil {
		return nil, err
	}
	return &VendorLookup{db: db}, nil
}

// Manufacturer returns the IEEE-registered manufacturer name for a MAC
// address, or "" if unknown.
func (v *VendorLookup) Manufacturer(mac string) string {
	if v == nil {
		return ""
	}
	entry, err := v.db.Query(mac)
	if err != nil {
		return ""
	}
	return entry.Manufacturer
}

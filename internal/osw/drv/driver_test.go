package drv

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vishvananda/netlink"

	"github.com/plume-design/opensync-sub021/internal/osw/confsync"
)

func TestSubmitRejectsWhenNetdevMissing(t *testing.T) {
	m := &NetlinkDriverMux{LinkByName: func(name string) (netlink.Link, error) {
		return nil, errors.New("no such device")
	}}
	diffs := []confsync.PhyDiff{{Name: "wifi0", Changed: true}}
	assert.False(t, m.Submit(diffs))
}

func TestSubmitAcceptsWhenNetdevPresent(t *testing.T) {
	m := &NetlinkDriverMux{LinkByName: func(name string) (netlink.Link, error) {
		return &netlink.Device{}, nil
	}}
	diffs := []confsync.PhyDiff{{Name: "wifi0", Changed: true}}
	assert.True(t, m.Submit(diffs))
}

func TestSubmitSkipsUnchangedPhys(t *testing.T) {
	m := &NetlinkDriverMux{LinkByName: func(name string) (netlink.Link, error) {
		return nil, errors.New("never called")
	}}
	diffs := []confsync.PhyDiff{{Name: "wifi0", Changed: false}}
	assert.True(t, m.Submit(diffs))
}

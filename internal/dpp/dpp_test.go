package dpp

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plume-design/opensync-sub021/internal/ow/statsconf"
)

type fakeWriter struct {
	writes [][]byte
	failAt int
	calls  int
}

func (f *fakeWriter) Write(b []byte) error {
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return errors.New("write failed")
	}
	cp := append([]byte(nil), b...)
	f.writes = append(f.writes, cp)
	return nil
}
func (f *fakeWriter) Close() error { return nil }

func TestFromReportDefaultsToRawReportType(t *testing.T) {
	r := statsconf.Report{
		Key:    "e1",
		Params: statsconf.Params{RadioType: "wifi0"},
		Records: []statsconf.Record{
			{Phy: "wifi0", Channel: 36, Timestamp: time.Unix(100, 0), Payload: map[string]float64{"rssi": -40}},
		},
	}
	now := time.Unix(200, 0)
	recs := FromReport(r, now)
	require.Len(t, recs, 1)
	assert.Equal(t, ReportRaw, recs[0].ReportType)
	assert.Equal(t, now, recs[0].PublishedAt)
	assert.Equal(t, r.Records[0].Timestamp, recs[0].CollectedAt)
}

func TestPublishEnqueuesOneBlobPerRecord(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, 0)

	r := statsconf.Report{Key: "e1", Records: []statsconf.Record{{}, {}}}
	p.PublishAt(r, time.Unix(0, 0))
	assert.Equal(t, 2, p.QueueLen())
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, 1)

	r := statsconf.Report{Key: "e1", Records: []statsconf.Record{{Channel: 1}, {Channel: 2}}}
	p.PublishAt(r, time.Unix(0, 0))
	assert.Equal(t, 1, p.QueueLen())
	assert.Equal(t, 1, p.Dropped())
}

func TestDrainStopsOnFirstErrorAndKeepsRemainder(t *testing.T) {
	w := &fakeWriter{failAt: 2}
	p := NewPublisher(w, 0)

	r := statsconf.Report{Key: "e1", Records: []statsconf.Record{{Channel: 1}, {Channel: 2}, {Channel: 3}}}
	p.PublishAt(r, time.Unix(0, 0))

	err := p.Drain()
	require.Error(t, err)
	assert.Equal(t, 2, p.QueueLen(), "the failed blob and everything after it stay queued")
}

func TestMonotonicToWallConversion(t *testing.T) {
	monoEpoch := time.Unix(0, 0)
	wallEpoch := time.Unix(1700000000, 0)
	collected := monoEpoch.Add(5 * time.Second)

	got := MonotonicToWall(collected, monoEpoch, wallEpoch)
	assert.Equal(t, wallEpoch.Add(5*time.Second), got)
}

func TestUnixWriterFramesWithLengthPrefix(t *testing.T) {
	// The frame format is a plain 4-byte big-endian length prefix; verify
	// it round-trips through the header encoding used by unixWriter.Write.
	payload := []byte(`{"key":"e1"}`)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	assert.Equal(t, len(payload), int(binary.BigEndian.Uint32(hdr[:])))
}

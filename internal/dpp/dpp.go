// Package dpp implements the §6.4 stats-publishing path: records queued
// by the stats scheduler are drained and written as framed blobs to an
// out-of-process collector over a unix domain socket (the "QM" queue
// manager in the original). The original frames records as
// protocol-buffer messages (`dpp_*`); wiring an actual protobuf codec
// would require protoc-generated code this rewrite has no toolchain
// access to produce, so records are framed as length-prefixed JSON
// instead, mirroring the same protobuf->JSON substitution made in
// internal/statestore (see DESIGN.md).
package dpp

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/plume-design/opensync-sub021/internal/ow/statsconf"
)

// ReportType is the dpp record's report-type tag.
type ReportType int

const (
	ReportRaw ReportType = iota
	ReportAverage
	ReportPercentile
	ReportHistogram
)

// Record is the wire shape of one published stats record, §6.4: a
// dpp_* message carries a monotonic collection timestamp that's converted
// to wall-clock only at publish time.
type Record struct {
	Key           string            `json:"key"`
	ReportType    ReportType        `json:"report_type"`
	RadioType     string            `json:"radio_type"`
	Phy           string            `json:"phy"`
	Channel       int               `json:"channel"`
	CollectedAt   time.Time         `json:"collected_at"`
	PublishedAt   time.Time         `json:"published_at"`
	Payload       map[string]float64 `json:"payload"`
}

// MonotonicToWall converts a collection-time monotonic reading into the
// wall-clock instant it corresponds to, §6.4.
func MonotonicToWall(collectedMono time.Time, monoEpoch, wallEpoch time.Time) time.Time {
	return wallEpoch.Add(collectedMono.Sub(monoEpoch))
}

// FromReport translates a drained statsconf.Report into dpp records,
// assigning ReportRaw as the default report type, §6.4.
func FromReport(r statsconf.Report, now time.Time) []Record {
	out := make([]Record, 0, len(r.Records))
	for _, rec := range r.Records {
		out = append(out, Record{
			Key:         r.Key,
			ReportType:  ReportRaw,
			RadioType:   r.Params.RadioType,
			Phy:         rec.Phy,
			Channel:     rec.Channel,
			CollectedAt: rec.Timestamp,
			PublishedAt: now,
			Payload:     rec.Payload,
		})
	}
	return out
}

// Writer is the wire boundary to the collector process; Publisher is
// tested against a fake instead of a live socket.
type Writer interface {
	Write(b []byte) error
	Close() error
}

// unixWriter frames each blob with a uint32 length prefix over a unix
// domain socket connection.
type unixWriter struct {
	mu   sync.Mutex
	conn net.Conn
	w    *bufio.Writer
}

// Dial connects to the collector's unix domain socket.
func Dial(path string) (Writer, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dpp: dial %s: %w", path, err)
	}
	return &unixWriter{conn: conn, w: bufio.NewWriter(conn)}, nil
}

func (u *unixWriter) Write(b []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := u.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := u.w.Write(b); err != nil {
		return err
	}
	return u.w.Flush()
}

func (u *unixWriter) Close() error { return u.conn.Close() }

// Publisher implements statsconf.Sink, queueing drained reports and
// writing them to the collector. A bounded queue absorbs bursts; Publish
// only enqueues, and the queued blobs are written to the socket only when
// the caller invokes Drain. Nothing in this package schedules Drain.
type Publisher struct {
	mu      sync.Mutex
	queue   [][]byte
	maxSize int
	writer  Writer
	dropped int
}

// NewPublisher builds a Publisher bounded to maxQueued pending blobs.
func NewPublisher(writer Writer, maxQueued int) *Publisher {
	return &Publisher{writer: writer, maxSize: maxQueued}
}

// Publish implements statsconf.Sink: translates the report to dpp
// records, marshals each as JSON, and enqueues it.
func (p *Publisher) Publish(r statsconf.Report) {
	p.PublishAt(r, time.Now())
}

// PublishAt is Publish with an explicit publish time, for deterministic
// tests.
func (p *Publisher) PublishAt(r statsconf.Report, now time.Time) {
	for _, rec := range FromReport(r, now) {
		b, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		p.enqueue(b)
	}
}

func (p *Publisher) enqueue(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxSize > 0 && len(p.queue) >= p.maxSize {
		// Queue-full: drop the oldest blob rather than blocking the
		// sampling path on a stalled collector.
		p.queue = p.queue[1:]
		p.dropped++
	}
	p.queue = append(p.queue, b)
}

// Dropped returns the count of blobs dropped due to a full queue.
func (p *Publisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// QueueLen reports the number of blobs currently queued, for tests/metrics.
func (p *Publisher) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Drain writes every queued blob to the writer, stopping at the first
// write error and leaving the remaining queue intact for a later retry.
func (p *Publisher) Drain() error {
	p.mu.Lock()
	pending := p.queue
	p.queue = nil
	p.mu.Unlock()

	for i, b := range pending {
		if err := p.writer.Write(b); err != nil {
			p.mu.Lock()
			p.queue = append(pending[i:], p.queue...)
			p.mu.Unlock()
			return fmt.Errorf("dpp: write: %w", err)
		}
	}
	return nil
}

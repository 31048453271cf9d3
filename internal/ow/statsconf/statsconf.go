// Package statsconf implements the Wireless Stats Scheduler, §4.6: a
// keyed registry of stats-collection entries, each parameterizing a
// survey/neighbor/client/device sampling pipeline that is periodically
// drained to a report sink.
package statsconf

import (
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/plume-design/opensync-sub021/internal/eventloop"
)

// ScanType is an entry's channel-scan mode.
type ScanType int

const (
	ScanOnChan ScanType = iota
	ScanOffChan
	ScanFull
)

// StatsType is the kind of stat an entry collects.
type StatsType int

const (
	StatsSurvey StatsType = iota
	StatsNeighbor
	StatsClient
	StatsDevice
)

// Params is the configurable half of an entry, §4.6.
type Params struct {
	RadioType        string
	ScanType         ScanType
	StatsType        StatsType
	SampleIntervalMS int
	ReportIntervalMS int
	ReportLimit      int
	ChannelList      []int
	DwellTimeMS      int
	HoldoffThreshold int
	HoldoffDelaySecs int
}

// Record is the protocol-buffer-friendly sample shape an entry
// accumulates between report ticks.
type Record struct {
	Phy       string
	Freq      int
	Channel   int
	Timestamp time.Time
	Payload   map[string]float64
}

// Sample is a raw sample handed in from the stats source, before
// radio-type/scan-type/channel-list filtering.
type Sample struct {
	Phy       string
	Freq      int
	Channel   int
	Timestamp time.Time
	Valid     bool
	Payload   map[string]float64
}

// Report is what gets handed to the publishing queue on a report tick.
type Report struct {
	Key     string
	Params  Params
	Records []Record
}

// Sink receives drained reports; internal/dpp's publisher implements this.
type Sink interface {
	Publish(r Report)
}

// entry is the scheduler's bookkeeping for one registered key.
type entry struct {
	key         string
	params      Params
	paramsNext  Params
	haveNext    bool
	records     *lru.Cache // bounded per-entry sample retention
	nextReport  time.Time
	lastUtil    int
	holdoffTill time.Time
	seq         int
}

// Scheduler is the §4.6 stats scheduler: a keyed registry of entries
// driven by a single tick per event-loop pass.
type Scheduler struct {
	rt      eventloop.Runtime
	sink    Sink
	entries map[string]*entry

	// subscribe/unsubscribe hooks into the raw stats source and off-chan
	// scan scheduler; swapped for fakes in tests.
	subscribe   func(key string, p Params, cb func(Sample))
	unsubscribe func(key string)
}

// New builds a Scheduler. subscribe is called whenever an entry's params
// change (initial registration counts); it must invoke cb for every
// sample the driver produces for that subscription until the matching
// unsubscribe call.
func New(rt eventloop.Runtime, sink Sink, subscribe func(key string, p Params, cb func(Sample)), unsubscribe func(key string)) *Scheduler {
	return &Scheduler{
		rt:          rt,
		sink:        sink,
		entries:     map[string]*entry{},
		subscribe:   subscribe,
		unsubscribe: unsubscribe,
	}
}

// defaultRetention bounds the per-entry sample list independent of
// report_limit, so a slow/disabled report tick can't grow memory
// unboundedly, per the domain-stack note on hashicorp/golang-lru usage.
const defaultRetention = 4096

// SetParams registers or reconfigures an entry. Per §4.6 step 1, the new
// params take effect on the next tick, not synchronously.
func (s *Scheduler) SetParams(key string, p Params) {
	e, ok := s.entries[key]
	if !ok {
		cache, _ := lru.New(defaultRetention)
		e = &entry{key: key, records: cache}
		s.entries[key] = e
	}
	e.paramsNext = p
	e.haveNext = true
}

// Remove drops an entry and unsubscribes it from the stats source.
func (s *Scheduler) Remove(key string) {
	if _, ok := s.entries[key]; !ok {
		return
	}
	s.unsubscribe(key)
	delete(s.entries, key)
}

// Start begins the scheduler's self-driven tick loop at the given period,
// using the runtime's timer primitive rather than requiring the caller to
// drive Tick externally. Tick remains exported for tests that want
// precise control over tick timing.
func (s *Scheduler) Start(period time.Duration) {
	var loop func()
	loop = func() {
		s.Tick(s.rt.Now())
		s.rt.AfterFunc(period, loop)
	}
	s.rt.AfterFunc(period, loop)
}

// Tick runs one scheduler pass, §4.6 steps 1/3/4.
func (s *Scheduler) Tick(now time.Time) {
	for _, e := range s.entries {
		if e.haveNext {
			s.adopt(e, now)
		}
		if !e.nextReport.IsZero() && !now.Before(e.nextReport) {
			s.report(e, now)
		}
	}
}

func (s *Scheduler) adopt(e *entry, now time.Time) {
	e.params = e.paramsNext
	e.haveNext = false

	s.unsubscribe(e.key)
	s.subscribe(e.key, e.params, func(sample Sample) { s.onSample(e, sample) })

	e.nextReport = e.params.reportDeadline(now)
}

// reportDeadline computes the next report time relative to now.
func (p Params) reportDeadline(now time.Time) time.Time {
	return now.Add(time.Duration(p.ReportIntervalMS) * time.Millisecond)
}

// onSample is the per-sample callback, §4.6 step 2: filter by
// (phy matches radio-type) ∧ (chan in channel-list), gate off-chan entries
// through offChanAllowed, translate, and append. The sample's freq is not
// checked against the entry's scan type.
func (s *Scheduler) onSample(e *entry, sample Sample) {
	if e.params.RadioType != "" && sample.Phy != e.params.RadioType {
		return
	}
	if !channelInList(sample.Channel, e.params.ChannelList) {
		return
	}
	if e.params.ScanType == ScanOffChan && !s.offChanAllowed(e, sample) {
		return
	}

	// Samples are recorded even when the source reports !valid; this
	// device-poll fallthrough is preserved verbatim rather than dropping
	// invalid device samples.
	rec := Record{Phy: sample.Phy, Freq: sample.Freq, Channel: sample.Channel, Timestamp: sample.Timestamp, Payload: sample.Payload}
	e.seq++
	e.records.Add(e.seq, rec)
}

func channelInList(ch int, list []int) bool {
	if len(list) == 0 {
		return true
	}
	for _, c := range list {
		if c == ch {
			return true
		}
	}
	return false
}

// offChanAllowed implements §4.6 step 4: off-chan scans are gated by
// observed channel utilization, with a holdoff delay that eventually
// overrides a persistently busy channel.
func (s *Scheduler) offChanAllowed(e *entry, sample Sample) bool {
	if e.lastUtil < e.params.HoldoffThreshold {
		e.holdoffTill = time.Time{}
		return true
	}
	if e.holdoffTill.IsZero() {
		e.holdoffTill = sample.Timestamp.Add(time.Duration(e.params.HoldoffDelaySecs) * time.Second)
	}
	if sample.Timestamp.Before(e.holdoffTill) {
		return false
	}
	return true
}

// ObserveUtilization feeds a fresh channel-utilization sample used by the
// off-chan holdoff gate.
func (s *Scheduler) ObserveUtilization(key string, util int) {
	if e, ok := s.entries[key]; ok {
		e.lastUtil = util
	}
}

// report drains an entry's records into a Report and hands it to the
// sink, §4.6 step 3.
func (s *Scheduler) report(e *entry, now time.Time) {
	keys := e.records.Keys()
	recs := make([]Record, 0, len(keys))
	for _, k := range keys {
		if v, ok := e.records.Get(k); ok {
			recs = append(recs, v.(Record))
		}
	}
	e.records.Purge()

	limit := e.params.ReportLimit
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}

	s.sink.Publish(Report{Key: e.key, Params: e.params, Records: recs})
	e.nextReport = e.params.reportDeadline(now)
}

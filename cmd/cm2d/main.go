// cm2d is the backhaul connection-manager daemon: it wires the CMU, DHCP,
// GRE, and MLO reconcilers to a State Store connection and a single
// event loop, and serves the default Prometheus registry on /metrics (the
// reconcilers register no metrics of their own).
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/plume-design/opensync-sub021/internal/basedef"
	"github.com/plume-design/opensync-sub021/internal/broker"
	"github.com/plume-design/opensync-sub021/internal/cm2"
	"github.com/plume-design/opensync-sub021/internal/cm2/bootstrap"
	"github.com/plume-design/opensync-sub021/internal/cm2/cmu"
	"github.com/plume-design/opensync-sub021/internal/cm2/dhcp"
	"github.com/plume-design/opensync-sub021/internal/cm2/gre"
	"github.com/plume-design/opensync-sub021/internal/cm2/mlo"
	"github.com/plume-design/opensync-sub021/internal/eventloop"
	"github.com/plume-design/opensync-sub021/internal/statestore"
)

const pname = "cm2d"

var (
	listenAddr = flag.String("listen-address", "", "Prometheus /metrics listen address")
	bhList     = flag.String("bootstrap", "", "space-separated phy:vif backhaul list, spec sec 6.5")
	greMTU     = flag.Int("gre-mtu", 1562, "GRE tunnel MTU (passed to gre.Reconciler.Register)")
	pollEvery  = flag.Duration("poll-interval", 2*time.Second, "State Store poll interval")
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	flag.Parse()

	addr := *listenAddr
	if addr == "" {
		addr = ":" + strconv.Itoa(basedef.CM2PrometheusPort)
	}
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Printf("cm2d: metrics server: %v", err)
		}
	}()

	transport, err := statestore.NewZMQTransport(pname)
	if err != nil {
		log.Fatalf("cm2d: state store connect: %v", err)
	}
	client := statestore.NewClient(pname, transport)
	defer client.Close()

	rt := eventloop.NewRuntime()
	arena := cm2.NewArena()

	cmuR := cmu.New(rt, client, 0, 0)
	dhcpR := dhcp.New(rt, client, 0, 0)
	greR := gre.New(rt, client, gre.NewNetlinkApplier(), 0, 0)
	greCtl := newGREController(greR, *greMTU)
	mloAgg := mlo.New(arena, greCtl, func(mldName string, rep mlo.ReportedState) {
		cmuR.Observe(mldName, cmu.Observed{Sta: rep.WVSSta, FourAddr: rep.WVS4Addr, Active: true})
	})

	entries, err := bootstrap.Parse(*bhList)
	if err != nil {
		log.Fatalf("cm2d: bootstrap parse: %v", err)
	}
	if err := bootstrap.Populate(arena, entries); err != nil {
		log.Fatalf("cm2d: bootstrap populate: %v", err)
	}
	for _, e := range entries {
		cmuR.Register(e.VIF, cmu.KindVIF)
		cmuR.Register(e.GREIfName, cmu.KindGRE)
		dhcpR.Register(e.VIF)
		greR.Register(e.VIF, e.GREIfName, *greMTU)
	}

	kick := make(chan struct{}, 1)
	var b broker.Broker
	b.Init(pname)
	b.Handle(basedef.TopicStateStore, func([]byte) {
		select {
		case kick <- struct{}{}:
		default:
		}
	})
	if err := b.Connect(); err != nil {
		log.Printf("cm2d: broker connect: %v (falling back to poll-only)", err)
	} else {
		defer b.Disconnect()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	// The ticker is the coalescing backstop spec §5's "report-then-
	// schedule" ordering relies on; the broker kick just shortens the
	// common-case latency between a store write and the next poll.
	ticker := time.NewTicker(*pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C, <-kick:
			pollOnce(client, entries, cmuR, dhcpR, greR, mloAgg)
		case s := <-sig:
			log.Printf("cm2d: received %v, shutting down", s)
			return
		}
	}
}

// pollOnce refreshes every tracked entity's observed snapshot from the
// State Store and hands it to the matching reconciler, §4.2 step 1.
func pollOnce(client *statestore.Client, entries []bootstrap.Entry, cmuR *cmu.Reconciler, dhcpR *dhcp.Reconciler, greR *gre.Reconciler, mloAgg *mlo.Aggregator) {
	for _, e := range entries {
		vifState, ok, err := client.GetVIFState(e.VIF)
		if err != nil || !ok {
			continue
		}
		masterState, ok, err := client.GetMasterState(e.VIF)
		if err != nil || !ok {
			continue
		}

		sta := vifState.IsSTA()
		fourAddr := vifState.WDS
		active := masterState.Active()

		if vifState.MLDIfName != "" {
			mloAgg.ObserveLink(vifState.MLDIfName, e.VIF, mlo.LinkObserved{Sta: sta, FourAddr: fourAddr})
			continue
		}
		cmuR.Observe(e.VIF, cmu.Observed{Sta: sta, FourAddr: fourAddr, Active: active})

		inetState, ok, err := client.GetInetState(e.VIF)
		if err == nil && ok {
			dhcpR.Observe(e.VIF, dhcp.Observed{
				Configurable: true,
				Active:       active,
				Enabled:      inetState.Enabled,
				Network:      inetState.Network,
				Sta:          sta,
				FourAddr:     fourAddr,
				AssignScheme: inetState.IPAssignScheme,
			})
		}

		greInetState, ok, err := client.GetInetState(e.GREIfName)
		if err == nil && ok {
			ip, ipNet, perr := parseCIDR(greInetState.InetAddr, greInetState.Netmask)
			if perr == nil {
				greR.Observe(e.VIF, gre.Observed{
					Enabled: greInetState.Enabled,
					Network: greInetState.Network,
					InetIP:  ip,
					Netmask: ipNet,
				})
			}
		}
	}
}

// parseCIDR converts the State Store's dotted-quad address/netmask string
// pair into the net.IP/net.IPMask shape gre.Observed expects.
func parseCIDR(addr, mask string) (net.IP, net.IPMask, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, nil, fmt.Errorf("cm2d: invalid address %q", addr)
	}
	maskIP := net.ParseIP(mask)
	if maskIP == nil {
		return nil, nil, fmt.Errorf("cm2d: invalid netmask %q", mask)
	}
	ip4 := ip.To4()
	mask4 := maskIP.To4()
	if ip4 == nil || mask4 == nil {
		return nil, nil, fmt.Errorf("cm2d: not IPv4: %q/%q", addr, mask)
	}
	return ip4, net.IPMask(mask4), nil
}

// greController adapts *gre.Reconciler to mlo.GREController: the MLD's
// shared tunnel is keyed by its own name, so Destroy (which only receives
// the greIfName) needs the reverse mapping Create established.
type greController struct {
	mu        sync.Mutex
	r         *gre.Reconciler
	mtu       int
	mldByTunn map[string]string
}

func newGREController(r *gre.Reconciler, mtu int) *greController {
	return &greController{r: r, mtu: mtu, mldByTunn: map[string]string{}}
}

func (g *greController) Create(mldName, greIfName string) {
	g.mu.Lock()
	g.mldByTunn[greIfName] = mldName
	g.mu.Unlock()
	g.r.Register(mldName, greIfName, g.mtu)
}

func (g *greController) Destroy(greIfName string) {
	g.mu.Lock()
	mldName, ok := g.mldByTunn[greIfName]
	delete(g.mldByTunn, greIfName)
	g.mu.Unlock()
	if ok {
		g.r.Unregister(mldName)
	}
}

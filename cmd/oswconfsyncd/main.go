// oswconfsyncd wires the confsync state machine, the defer-vif-down
// mutator, and the wireless stats scheduler to a driver mux and an event
// loop, and exposes a debug/status HTTP endpoint for dumping reconciler
// state.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/plume-design/opensync-sub021/internal/basedef"
	"github.com/plume-design/opensync-sub021/internal/broker"
	"github.com/plume-design/opensync-sub021/internal/dpp"
	"github.com/plume-design/opensync-sub021/internal/eventloop"
	"github.com/plume-design/opensync-sub021/internal/osw"
	"github.com/plume-design/opensync-sub021/internal/osw/confsync"
	"github.com/plume-design/opensync-sub021/internal/osw/defervifdown"
	"github.com/plume-design/opensync-sub021/internal/osw/drv"
	"github.com/plume-design/opensync-sub021/internal/ow/statsconf"
)

const pname = "oswconfsyncd"

var (
	listenAddr  = flag.String("listen-address", "", "debug/status HTTP listen address")
	configPath  = flag.String("config", "", "path to a JSON-encoded []*osw.Phy desired-config fixture")
	dppSocket   = flag.String("dpp-socket", "", "path to the stats collector's unix domain socket")
	strictNet   = flag.Bool("strict-network-changes", false, "mirrors "+basedef.EnvStrictNetworkChanges)
)

// tree holds the daemon's mutable desired/observed state, guarded by mu;
// it backs both the confsync Builder/ObserverFunc closures and the debug
// HTTP endpoint.
type tree struct {
	mu       sync.Mutex
	desired  []*osw.Phy
	observed []*osw.Phy
}

func (t *tree) setDesired(phys []*osw.Phy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.desired = phys
}

func (t *tree) setObserved(phys []*osw.Phy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observed = phys
}

func (t *tree) getDesired() []*osw.Phy {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.desired
}

func (t *tree) getObserved() []*osw.Phy {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.observed
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	flag.Parse()

	strict := *strictNet
	if v := os.Getenv(basedef.EnvStrictNetworkChanges); v != "" {
		strict = v == "1" || v == "true"
	}

	st := &tree{}
	if *configPath != "" {
		phys, err := loadPhys(*configPath)
		if err != nil {
			log.Fatalf("oswconfsyncd: load config: %v", err)
		}
		st.setDesired(phys)
		st.setObserved(phys)
	}

	rt := eventloop.NewRuntime()

	mutator := defervifdown.New(rt, nil, func(string) int { return 0 }, func(vifName string, started bool) {
		log.Printf("oswconfsyncd: defer-vif-down %s started=%v", vifName, started)
	})

	build := func() []*osw.Phy {
		phys := st.getDesired()
		for _, p := range phys {
			mutator.Observe(p)
		}
		return phys
	}
	observe := func() []*osw.Phy { return st.getObserved() }

	machine := confsync.NewMachine(rt, build, observe, drv.New(), confsync.DiffOptions{
		DriverSupportsCSA:           true,
		SuppressNetworkChangedOnNOP: !strict,
	})

	var publisher *dpp.Publisher
	if *dppSocket != "" {
		w, err := dpp.Dial(*dppSocket)
		if err != nil {
			log.Printf("oswconfsyncd: dpp dial: %v (stats publishing disabled)", err)
		} else {
			publisher = dpp.NewPublisher(w, 1024)
		}
	}
	if publisher != nil {
		sched := statsconf.New(rt, publisher,
			func(key string, p statsconf.Params, cb func(statsconf.Sample)) {},
			func(key string) {})
		sched.Start(time.Second)
	}

	startDebugServer(*listenAddr, machine, st)

	machine.Subscribe(func(s confsync.State) {
		log.Printf("oswconfsyncd: state -> %s", s)
	})

	var b broker.Broker
	b.Init(pname)
	b.Handle(basedef.TopicDriver, func([]byte) { machine.StateChanged() })
	b.Handle(basedef.TopicStateStore, func([]byte) { machine.ConfChanged() })
	if err := b.Connect(); err != nil {
		log.Printf("oswconfsyncd: broker connect: %v (driver/store pushes disabled, SIGHUP still forces a recalc)", err)
	} else {
		defer b.Disconnect()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for {
		select {
		case s := <-sig:
			if s == syscall.SIGHUP {
				machine.ConfChanged()
				continue
			}
			log.Printf("oswconfsyncd: received %v, shutting down", s)
			return
		}
	}
}

func loadPhys(path string) ([]*osw.Phy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var phys []*osw.Phy
	if err := json.Unmarshal(b, &phys); err != nil {
		return nil, err
	}
	return phys, nil
}

// startDebugServer exposes the confsync machine's current state and the
// last-known phy trees as JSON, §2's "debug/status HTTP endpoint" note.
func startDebugServer(addr string, m *confsync.Machine, st *tree) {
	if addr == "" {
		addr = ":" + strconv.Itoa(basedef.OSWConfsyncPrometheus)
	}

	r := mux.NewRouter()
	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"state": m.State().String()})
	})
	r.HandleFunc("/tree/desired", func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(st.getDesired())
	})
	r.HandleFunc("/tree/observed", func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(st.getObserved())
	}).Methods(http.MethodGet)
	r.HandleFunc("/tree/observed", func(w http.ResponseWriter, req *http.Request) {
		var phys []*osw.Phy
		if err := json.NewDecoder(req.Body).Decode(&phys); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		st.setObserved(phys)
		m.StateChanged()
	}).Methods(http.MethodPut)

	go func() {
		if err := http.ListenAndServe(addr, r); err != nil {
			log.Printf("oswconfsyncd: debug server: %v", err)
		}
	}()
}

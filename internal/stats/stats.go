package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

const (
	NumActiveClients      = "NumActiveClients"
	NumActiveUsers        = "NumActiveUsers"
	NumActiveRooms        = "NumActiveRooms"
	NumDegradedBroadcasts = "NumDegradedBroadcasts"
	NumDroppedSends       = "NumDroppedSends"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	RegisterGauge(name string, fn func() int64)
	Run()
}

// StatsUpdater serializes counter updates through a single goroutine and
// serves the current values as JSON. The map is private to the updater so
// several instances can coexist in one process.
type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
	done       chan struct{}
	stopOnce   sync.Once
}

type metricsUpdateReq struct {
	name  string
	delta int64
}

// NewStatsUpdater creates a new stats updater instance and serves its
// variables at GET /debug/vars on mux.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		updateChan: make(chan *metricsUpdateReq, 512),
		done:       make(chan struct{}),
		vars:       new(expvar.Map).Init(),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

// Snapshot returns the current value of every variable.
func (su *StatsUpdater) Snapshot() map[string]any {
	data := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		data[kv.Key] = value
	})
	return data
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(su.Snapshot())
}

func (su *StatsUpdater) updateMetrics() {
	for {
		select {
		case req := <-su.updateChan:
			su.vars.Add(req.name, req.delta)
		case <-su.done:
			return
		}
	}
}

func (su *StatsUpdater) update(name string, delta int64) {
	select {
	case <-su.done:
	case su.updateChan <- &metricsUpdateReq{name: name, delta: delta}:
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.update(name, 1)
}

func (su *StatsUpdater) Decr(name string) {
	su.update(name, -1)
}

// RegisterMetric publishes a counter starting at zero.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

// RegisterGauge publishes a value computed on every read.
func (su *StatsUpdater) RegisterGauge(name string, fn func() int64) {
	su.vars.Set(name, expvar.Func(func() any {
		return fn()
	}))
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

// Stop ends the update loop. Updates sent afterwards are discarded.
func (su *StatsUpdater) Stop() {
	su.stopOnce.Do(func() {
		close(su.done)
	})
}

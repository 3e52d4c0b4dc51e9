package storage

import (
	"expvar"
	"sync"
)

// Mirror receives the resolved raw value of every key for diagnostics.
// Application logic must never read from it.
type Mirror interface {
	Mirror(key string, raw []byte)
}

// ExpvarMirror publishes mirrored values as an expvar map, visible at
// /debug/vars when the process serves expvar.
type ExpvarMirror struct {
	vars *expvar.Map
}

var publishMu sync.Mutex

// NewExpvarMirror publishes (or reuses) the expvar map called name.
func NewExpvarMirror(name string) *ExpvarMirror {
	publishMu.Lock()
	defer publishMu.Unlock()

	if v, ok := expvar.Get(name).(*expvar.Map); ok {
		return &ExpvarMirror{vars: v}
	}
	return &ExpvarMirror{vars: expvar.NewMap(name)}
}

// Mirror stores raw under "_<key>".
func (e *ExpvarMirror) Mirror(key string, raw []byte) {
	e.vars.Set("_"+key, rawJSON(append([]byte(nil), raw...)))
}

// Get returns the mirrored value of key, or nil.
func (e *ExpvarMirror) Get(key string) []byte {
	v, ok := e.vars.Get("_" + key).(rawJSON)
	if !ok {
		return nil
	}
	return []byte(v)
}

// rawJSON is an expvar.Var that renders pre-encoded JSON.
type rawJSON []byte

func (r rawJSON) String() string {
	if len(r) == 0 {
		return "null"
	}
	return string(r)
}

package device

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Kind distinguishes host memory from a budgeted accelerator.
type Kind string

const (
	KindHost        Kind = "host"
	KindAccelerator Kind = "accelerator"
)

const bytesPerMB = 1 << 20

// Device is a memory domain parameter sets can be placed on.
type Device interface {
	Name() string
	Kind() Kind
	// Reserve accounts bytes for resident id. Reserving an id that is already
	// resident is a no-op.
	Reserve(id string, bytes int64) error
	// Free releases the bytes of id into the device cache.
	Free(id string)
	// EmptyCache returns cached bytes to the device.
	EmptyCache()
}

type resident struct {
	id    string
	bytes int64
	since time.Time
}

// Pool is the Device implementation for both host and accelerator kinds.
// A zero budget means unlimited.
type Pool struct {
	mu        sync.RWMutex
	name      string
	kind      Kind
	budgetMB  int
	marginMB  int
	residents map[string]*resident

	usedBytes   int64
	cachedBytes int64
	peakBytes   int64
	moves       uint64
	cacheClears uint64
}

var defaultHost = NewHost()

// DefaultHost is the process-wide host pool parameter sets start on.
func DefaultHost() *Pool { return defaultHost }

// NewHost returns an unbudgeted host pool.
func NewHost() *Pool { return newPool("cpu", KindHost, 0, 0) }

// NewAccelerator returns a pool limited to budgetMB with marginMB headroom.
func NewAccelerator(name string, budgetMB, marginMB int) *Pool {
	return newPool(name, KindAccelerator, budgetMB, marginMB)
}

func newPool(name string, kind Kind, budgetMB, marginMB int) *Pool {
	return &Pool{name: name, kind: kind, budgetMB: budgetMB, marginMB: marginMB, residents: make(map[string]*resident)}
}

// Parse builds a device from a spec such as "cpu", "accel" or "accel:1".
// "cuda" is accepted as an alias of "accel". Host specs return DefaultHost.
func Parse(spec string, budgetMB, marginMB int) (Device, error) {
	s := strings.ToLower(strings.TrimSpace(spec))
	switch {
	case s == "" || s == "cpu" || s == "host":
		return DefaultHost(), nil
	case s == "accel" || s == "cuda":
		return NewAccelerator("accel:0", budgetMB, marginMB), nil
	case strings.HasPrefix(s, "accel:") || strings.HasPrefix(s, "cuda:"):
		idx := s[strings.Index(s, ":")+1:]
		if idx == "" {
			return nil, fmt.Errorf("device %q: missing index", spec)
		}
		for _, r := range idx {
			if r < '0' || r > '9' {
				return nil, fmt.Errorf("device %q: invalid index", spec)
			}
		}
		return NewAccelerator("accel:"+idx, budgetMB, marginMB), nil
	}
	return nil, fmt.Errorf("unsupported device: %s", spec)
}

func (p *Pool) Name() string { return p.name }
func (p *Pool) Kind() Kind   { return p.kind }

func (p *Pool) fits(required int64) bool {
	if p.budgetMB <= 0 {
		return true
	}
	return p.usedBytes+p.cachedBytes+required+int64(p.marginMB)*bytesPerMB <= int64(p.budgetMB)*bytesPerMB
}

// Reserve places id on the pool. When the request does not fit, the cache is
// flushed first; if it still does not fit a ResourceExhaustionError is
// returned and nothing is reserved.
func (p *Pool) Reserve(id string, bytes int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.residents[id]; ok {
		return nil
	}
	if !p.fits(bytes) {
		// freed blocks are not reusable for a new placement; flush and retry
		if p.cachedBytes > 0 {
			p.cachedBytes = 0
			p.cacheClears++
			cacheClearsTotal.WithLabelValues(p.name).Inc()
		}
		if !p.fits(bytes) {
			return ResourceExhaustionError{
				Device:      p.name,
				RequestedMB: float64(bytes) / bytesPerMB,
				UsedMB:      float64(p.usedBytes) / bytesPerMB,
				BudgetMB:    p.budgetMB,
				MarginMB:    p.marginMB,
			}
		}
	}
	p.usedBytes += bytes
	if p.usedBytes > p.peakBytes {
		p.peakBytes = p.usedBytes
	}
	p.residents[id] = &resident{id: id, bytes: bytes, since: time.Now()}
	p.moves++
	movesTotal.WithLabelValues(p.name).Inc()
	usedBytesGauge.WithLabelValues(p.name).Set(float64(p.usedBytes))
	return nil
}

// Free moves the bytes of id into the cache. Unknown ids are ignored.
func (p *Pool) Free(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.residents[id]
	if r == nil {
		return
	}
	delete(p.residents, id)
	p.usedBytes -= r.bytes
	if p.usedBytes < 0 {
		p.usedBytes = 0
	}
	p.cachedBytes += r.bytes
	usedBytesGauge.WithLabelValues(p.name).Set(float64(p.usedBytes))
}

// EmptyCache drops all cached bytes.
func (p *Pool) EmptyCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cachedBytes == 0 {
		return
	}
	p.cachedBytes = 0
	p.cacheClears++
	cacheClearsTotal.WithLabelValues(p.name).Inc()
}

// Resident reports whether id currently holds a reservation.
func (p *Pool) Resident(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.residents[id]
	return ok
}

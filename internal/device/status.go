package device

import (
	"sort"

	"metabert/pkg/types"
)

// Status builds a snapshot for /status.
func (p *Pool) Status() types.DeviceStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := types.DeviceStatus{
		Name:        p.name,
		Kind:        string(p.kind),
		BudgetMB:    p.budgetMB,
		MarginMB:    p.marginMB,
		UsedBytes:   p.usedBytes,
		CachedBytes: p.cachedBytes,
		PeakBytes:   p.peakBytes,
		Moves:       p.moves,
		CacheClears: p.cacheClears,
		Residents:   make([]types.ResidentStatus, 0, len(p.residents)),
	}
	for _, r := range p.residents {
		st.Residents = append(st.Residents, types.ResidentStatus{ID: r.id, Bytes: r.bytes, SinceUnix: r.since.Unix()})
	}
	sort.Slice(st.Residents, func(i, j int) bool { return st.Residents[i].ID < st.Residents[j].ID })
	return st
}

// StatusOf returns the snapshot of d when it exposes one.
func StatusOf(d Device) types.DeviceStatus {
	if s, ok := d.(interface{ Status() types.DeviceStatus }); ok {
		return s.Status()
	}
	return types.DeviceStatus{Name: d.Name(), Kind: string(d.Kind())}
}

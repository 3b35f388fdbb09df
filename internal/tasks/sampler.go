package tasks

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"metabert/pkg/types"
)

// Sampler draws episodes from in-memory feature sets. Methods are safe for
// concurrent use.
type Sampler struct {
	mu   sync.Mutex
	sets map[string]*FeatureSet
	ids  []string
	rng  *rand.Rand
}

// NewSampler indexes sets by task id.
func NewSampler(sets []*FeatureSet, seed int64) (*Sampler, error) {
	s := &Sampler{sets: make(map[string]*FeatureSet, len(sets)), rng: rand.New(rand.NewSource(seed))}
	for _, fs := range sets {
		if _, dup := s.sets[fs.Spec.ID]; dup {
			return nil, fmt.Errorf("duplicate task %q", fs.Spec.ID)
		}
		s.sets[fs.Spec.ID] = fs
		s.ids = append(s.ids, fs.Spec.ID)
	}
	sort.Strings(s.ids)
	return s, nil
}

// Fork returns a sampler over the same feature sets with its own random
// stream seeded by seed. Draws from either sampler leave the other unchanged.
func (s *Sampler) Fork(seed int64) *Sampler {
	return &Sampler{sets: s.sets, ids: s.ids, rng: rand.New(rand.NewSource(seed))}
}

// TaskIDs lists known ids in sorted order.
func (s *Sampler) TaskIDs() []string { return append([]string(nil), s.ids...) }

// Tasks lists known task specs in id order.
func (s *Sampler) Tasks() []types.TaskSpec {
	out := make([]types.TaskSpec, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.sets[id].Spec)
	}
	return out
}

// Modes implements Builder.
func (s *Sampler) Modes() ModeMap {
	m := make(ModeMap, len(s.sets))
	for id, fs := range s.sets {
		m[id] = fs.Spec
	}
	return m
}

// SampleTasks picks n ids from pool (all tasks when pool is empty). Ids are
// distinct while n does not exceed the pool; beyond that the pool repeats.
func (s *Sampler) SampleTasks(n int, pool []string) ([]string, error) {
	if len(pool) == 0 {
		pool = s.ids
	}
	if len(pool) == 0 || n <= 0 {
		return nil, fmt.Errorf("cannot sample %d tasks from %d", n, len(pool))
	}
	for _, id := range pool {
		if _, ok := s.sets[id]; !ok {
			return nil, fmt.Errorf("%w: unknown task %q", ErrInvalidBatch, id)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, n)
	for len(out) < n {
		for _, k := range s.rng.Perm(len(pool)) {
			if len(out) == n {
				break
			}
			out = append(out, pool[k])
		}
	}
	return out, nil
}

// BuildMetaBatch draws kSupport+kQuery distinct rows per task and splits them
// into support and query sets.
func (s *Sampler) BuildMetaBatch(ids []string, kSupport, kQuery int) ([]Episode, error) {
	if kSupport <= 0 || kQuery <= 0 {
		return nil, fmt.Errorf("%w: k_support=%d k_query=%d must be positive", ErrInvalidBatch, kSupport, kQuery)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Episode, len(ids))
	for i, id := range ids {
		fs, ok := s.sets[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown task %q", ErrInvalidBatch, id)
		}
		n := fs.Rows.Len()
		if kSupport+kQuery > n {
			return nil, fmt.Errorf("%w: task %s has %d rows, need %d", ErrInvalidBatch, id, n, kSupport+kQuery)
		}
		pick := s.rng.Perm(n)[:kSupport+kQuery]
		out[i] = Episode{Support: fs.Rows.Subset(pick[:kSupport]), Query: fs.Rows.Subset(pick[kSupport:])}
	}
	return out, nil
}

package corvus

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
)

// HostResolver picks the coordinator to use for the next request. Resolution
// over a configured host set always succeeds; an empty set is rejected at
// construction time. Failover after a failed attempt is the connection's
// responsibility, which passes the indexes that already failed for the
// current logical request via excluded.
type HostResolver interface {
	// NextHost returns the index of the host to try next. Implementations
	// must not return an index listed in excluded unless every host is
	// excluded.
	NextHost(excluded []int) int
	// HostCount returns the number of configured hosts.
	HostCount() int
	// MaxTries bounds the attempts for one logical request.
	MaxTries() int
}

// ResolverStrategy selects one of the built-in host resolvers.
type ResolverStrategy string

const (
	// StrategySingle always uses the first host.
	StrategySingle ResolverStrategy = "single"
	// StrategyRoundRobin rotates through hosts per request.
	StrategyRoundRobin ResolverStrategy = "roundrobin"
	// StrategyRandom picks a uniformly random host per request.
	StrategyRandom ResolverStrategy = "random"
	// StrategyFallback sticks to one host until it fails, then moves on.
	StrategyFallback ResolverStrategy = "fallback"
	// StrategyPeriodic rotates hosts every periodicRequests requests.
	StrategyPeriodic ResolverStrategy = "periodic"
)

const periodicRequests = 100

func newResolver(strategy ResolverStrategy, hostCount, maxTries int) (HostResolver, error) {
	if hostCount < 1 {
		return nil, fmt.Errorf("corvus: at least one host required")
	}
	if maxTries == 0 {
		maxTries = hostCount * 3
	}
	if maxTries < hostCount {
		return nil, fmt.Errorf("corvus: max tries %d cannot be less than host count %d", maxTries, hostCount)
	}
	switch strategy {
	case "", StrategySingle:
		if hostCount == 1 {
			return &singleHostResolver{hosts: hostCount, tries: maxTries}, nil
		}
		// Multiple hosts with no explicit strategy rotate by default.
		return &roundRobinHostResolver{hosts: hostCount, tries: maxTries}, nil
	case StrategyRoundRobin:
		return &roundRobinHostResolver{hosts: hostCount, tries: maxTries}, nil
	case StrategyRandom:
		return &randomHostResolver{hosts: hostCount, tries: maxTries}, nil
	case StrategyFallback:
		return &fallbackHostResolver{hosts: hostCount, tries: maxTries}, nil
	case StrategyPeriodic:
		return &periodicHostResolver{hosts: hostCount, tries: maxTries, period: periodicRequests}, nil
	default:
		return nil, fmt.Errorf("corvus: unknown resolver strategy %q", strategy)
	}
}

func excludedContains(excluded []int, idx int) bool {
	for _, e := range excluded {
		if e == idx {
			return true
		}
	}
	return false
}

type singleHostResolver struct {
	hosts int
	tries int
}

func (r *singleHostResolver) NextHost([]int) int { return 0 }
func (r *singleHostResolver) HostCount() int     { return r.hosts }
func (r *singleHostResolver) MaxTries() int      { return r.tries }

type roundRobinHostResolver struct {
	hosts  int
	tries  int
	cursor atomic.Int64
}

func (r *roundRobinHostResolver) NextHost(excluded []int) int {
	for i := 0; i < r.hosts; i++ {
		idx := int((r.cursor.Add(1) - 1) % int64(r.hosts))
		if !excludedContains(excluded, idx) {
			return idx
		}
	}
	return int((r.cursor.Add(1) - 1) % int64(r.hosts))
}

func (r *roundRobinHostResolver) HostCount() int { return r.hosts }
func (r *roundRobinHostResolver) MaxTries() int  { return r.tries }

type randomHostResolver struct {
	hosts int
	tries int

	mu  sync.Mutex
	rng *rand.Rand
}

func (r *randomHostResolver) NextHost(excluded []int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	if len(excluded) >= r.hosts {
		return r.rng.Intn(r.hosts)
	}
	for {
		idx := r.rng.Intn(r.hosts)
		if !excludedContains(excluded, idx) {
			return idx
		}
	}
}

func (r *randomHostResolver) HostCount() int { return r.hosts }
func (r *randomHostResolver) MaxTries() int  { return r.tries }

// fallbackHostResolver keeps serving the same host until the executor
// reports it failed, then advances to the next one and sticks there.
type fallbackHostResolver struct {
	hosts int
	tries int

	mu    sync.Mutex
	index int
}

func (r *fallbackHostResolver) NextHost(excluded []int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.hosts && excludedContains(excluded, r.index); i++ {
		r.index = (r.index + 1) % r.hosts
	}
	return r.index
}

func (r *fallbackHostResolver) HostCount() int { return r.hosts }
func (r *fallbackHostResolver) MaxTries() int  { return r.tries }

// periodicHostResolver switches to the next host every period requests, so
// all coordinators see traffic while any one connection stays warm.
type periodicHostResolver struct {
	hosts  int
	tries  int
	period int

	mu    sync.Mutex
	index int
	count int
}

func (r *periodicHostResolver) NextHost(excluded []int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count = (r.count + 1) % r.period
	if r.count == 0 || excludedContains(excluded, r.index) {
		r.index = (r.index + 1) % r.hosts
		for i := 0; i < r.hosts && excludedContains(excluded, r.index); i++ {
			r.index = (r.index + 1) % r.hosts
		}
		r.count = 0
	}
	return r.index
}

func (r *periodicHostResolver) HostCount() int { return r.hosts }
func (r *periodicHostResolver) MaxTries() int  { return r.tries }

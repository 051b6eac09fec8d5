package strategy

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"github.com/swarmforge/swarmcore/internal/agentmodel"
	"github.com/swarmforge/swarmcore/internal/registry"
)

// DefaultRingReplicas is the default virtual-node count per agent (spec
// §4.4: "K virtual nodes per agent (default K=150)").
const DefaultRingReplicas = 150

// ConsistentHash hashes the task id (or an explicit affinity key) onto a
// ring with K virtual nodes per candidate agent and picks the first
// agent clockwise from the key. The ring is rebuilt from the live
// candidate set on every Order call, so membership changes re-home only
// the keys whose owner actually left or joined (spec §8's bounded-
// rehoming property) without any mutable ring state to keep in sync.
type ConsistentHash struct {
	replicas int

	mu    sync.Mutex
	stats map[string]*rollingWindow
}

func NewConsistentHash(replicas int) *ConsistentHash {
	if replicas <= 0 {
		replicas = DefaultRingReplicas
	}
	return &ConsistentHash{replicas: replicas, stats: make(map[string]*rollingWindow)}
}

func (c *ConsistentHash) Name() string { return "consistent-hash" }

type ringEntry struct {
	hash    uint32
	agentID string
}

func (c *ConsistentHash) buildRing(candidates []*agentmodel.Agent) ([]ringEntry, map[string]*agentmodel.Agent) {
	ring := make([]ringEntry, 0, len(candidates)*c.replicas)
	byID := make(map[string]*agentmodel.Agent, len(candidates))
	for _, a := range candidates {
		byID[a.ID] = a
		for v := 0; v < c.replicas; v++ {
			key := fmt.Sprintf("%s#%d", a.ID, v)
			ring = append(ring, ringEntry{hash: crc32.ChecksumIEEE([]byte(key)), agentID: a.ID})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })
	return ring, byID
}

// Order returns candidates ordered by ring proximity to the hash of
// req.Affinity (the task id, by convention): the owning agent first,
// then the remaining ring-clockwise agents, deduplicated, as a fallback
// sequence for the engine to try if the owner's circuit is open.
func (c *ConsistentHash) Order(candidates []*agentmodel.Agent, req registry.Requirements) []*agentmodel.Agent {
	if len(candidates) == 0 {
		return nil
	}
	ring, byID := c.buildRing(candidates)
	if len(ring) == 0 {
		return nil
	}
	keyHash := crc32.ChecksumIEEE([]byte(req.Affinity))
	idx := sort.Search(len(ring), func(i int) bool { return ring[i].hash >= keyHash })

	seen := make(map[string]bool, len(candidates))
	ordered := make([]*agentmodel.Agent, 0, len(candidates))
	for i := 0; i < len(ring); i++ {
		e := ring[(idx+i)%len(ring)]
		if seen[e.agentID] {
			continue
		}
		seen[e.agentID] = true
		ordered = append(ordered, byID[e.agentID])
	}
	return ordered
}

func (c *ConsistentHash) UpdateStats(agentID string, sample Sample) {
	c.mu.Lock()
	w, ok := c.stats[agentID]
	if !ok {
		w = newRollingWindow(DefaultWindowSize)
		c.stats[agentID] = w
	}
	c.mu.Unlock()
	w.add(sample)
}

func (c *ConsistentHash) GetStats() map[string]AgentStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]AgentStats, len(c.stats))
	for id, w := range c.stats {
		out[id] = w.snapshot()
	}
	return out
}

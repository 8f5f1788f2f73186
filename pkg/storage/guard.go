package storage

import "sync"

// TopicGuard serializes topic merges against writers that hold topic ids
// across several store calls. A merge reassigns and deletes topic rows,
// so it takes the write side; extraction's assign-and-persist pass takes
// the read side and never interleaves with a merge that could delete the
// topic id it is holding.
//
// One guard is shared by the consolidation engine and the extraction
// service of a process.
type TopicGuard struct {
	mu sync.RWMutex
}

// BeginMerge blocks until every in-flight assignment pass finishes, then
// holds off new ones until EndMerge.
func (g *TopicGuard) BeginMerge() { g.mu.Lock() }

// EndMerge releases the merge hold.
func (g *TopicGuard) EndMerge() { g.mu.Unlock() }

// BeginAssign blocks while a merge is applying. Assignment passes run
// concurrently with each other.
func (g *TopicGuard) BeginAssign() { g.mu.RLock() }

// EndAssign releases the assignment hold.
func (g *TopicGuard) EndAssign() { g.mu.RUnlock() }

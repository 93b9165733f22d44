package ingest

import "sync"

const lockShards = 256

// lockTable provides the per-device critical section: one mutex per shard,
// devices hashed by id. Two updates for the same device always serialize;
// updates for different devices collide only on shard hash.
type lockTable struct {
	shards [lockShards]sync.Mutex
}

// lock acquires the device's shard and returns the release function.
func (l *lockTable) lock(deviceID uint) func() {
	m := &l.shards[deviceID%lockShards]
	m.Lock()
	return m.Unlock
}

// Package muid generates Monotonically Unique IDs: 64-bit, time ordered values
// in the spirit of Snowflake ids.
//
// The default layout is
//
//	[40 bits milliseconds since Epoch] [14 bits machine] [shard bits] [counter]
//
// where the shard bits select one of a small pool of generators so concurrent
// callers rarely contend on the same counter.
package muid

import (
	"crypto/rand"
	"encoding/binary"
	"hash/fnv"
	"math/bits"
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Epoch is the default origin of MUID timestamps, November 14, 2023 22:13:20 GMT.
const Epoch int64 = 1700000000000

// Config sets the bit layout of a Generator. Zero fields take the defaults.
type Config struct {
	MachineID       uint64
	TimestampBitLen int
	MachineIDBitLen int
	Epoch           int64
}

// DefaultConfig derives the machine id from the host name, falling back to
// random bits.
var DefaultConfig = sync.OnceValue(func() Config {
	config := Config{
		TimestampBitLen: 40,
		MachineIDBitLen: 14,
		Epoch:           Epoch,
	}
	mask := uint64(1)<<config.MachineIDBitLen - 1
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		hash := fnv.New64a()
		hash.Write([]byte(hostname))
		config.MachineID = hash.Sum64() & mask
	} else {
		var b [8]byte
		_, _ = rand.Read(b[:])
		config.MachineID = binary.BigEndian.Uint64(b[:]) & mask
	}
	return config
})

// MUID is a Monotonically Unique ID.
type MUID uint64

// String returns the id in base 32.
func (m MUID) String() string {
	return strconv.FormatUint(uint64(m), 32)
}

// Time returns the millisecond the id was generated in, assuming the default layout.
func (m MUID) Time() time.Time {
	return time.UnixMilli(int64(uint64(m)>>(64-DefaultConfig().TimestampBitLen)) + Epoch)
}

// Generator hands out MUIDs for one shard.
type Generator struct {
	epoch          int64
	prefix         uint64
	counterBitLen  int
	counterMask    uint64
	timestampShift int
	// state packs the last timestamp above the last counter value
	state atomic.Uint64
}

// NewGenerator builds a generator for shard out of 1<<shardBitLen shards.
func NewGenerator(config Config, shard uint64, shardBitLen int) *Generator {
	defaults := DefaultConfig()
	if config.TimestampBitLen <= 0 {
		config.TimestampBitLen = defaults.TimestampBitLen
	}
	if config.MachineIDBitLen <= 0 {
		config.MachineIDBitLen = defaults.MachineIDBitLen
	}
	if config.Epoch <= 0 {
		config.Epoch = defaults.Epoch
	}
	if config.MachineID == 0 {
		config.MachineID = defaults.MachineID
	}
	counterBitLen := 64 - config.TimestampBitLen - config.MachineIDBitLen - shardBitLen
	machine := config.MachineID & (uint64(1)<<config.MachineIDBitLen - 1)
	shard &= uint64(1)<<shardBitLen - 1
	g := &Generator{
		epoch:          config.Epoch,
		counterBitLen:  counterBitLen,
		counterMask:    uint64(1)<<counterBitLen - 1,
		timestampShift: 64 - config.TimestampBitLen,
		prefix:         machine<<(shardBitLen+counterBitLen) | shard<<counterBitLen,
	}
	g.state.Store(1)
	return g
}

// ID returns the next id. When the counter overflows inside one millisecond
// the timestamp is advanced early so ids stay increasing.
func (g *Generator) ID() MUID {
	for {
		now := uint64(time.Now().UnixMilli() - g.epoch)
		previous := g.state.Load()
		last, counter := previous>>g.counterBitLen, previous&g.counterMask
		switch {
		case now > last:
			counter = 1
		case counter >= g.counterMask:
			now, counter = last+1, 1
		default:
			now, counter = last, counter+1
		}
		if g.state.CompareAndSwap(previous, now<<g.counterBitLen|counter) {
			return MUID(now<<g.timestampShift | g.prefix | counter)
		}
	}
}

type pool struct {
	generators []*Generator
	next       atomic.Uint64
}

var shards = sync.OnceValue(func() *pool {
	shardBitLen := 0
	if cpus := runtime.NumCPU(); cpus > 1 {
		shardBitLen = min(bits.Len(uint(cpus-1)), 5)
	}
	p := &pool{generators: make([]*Generator, 1<<shardBitLen)}
	for i := range p.generators {
		p.generators[i] = NewGenerator(DefaultConfig(), uint64(i), shardBitLen)
	}
	return p
})

// Make returns a new MUID from the default generator pool.
func Make() MUID {
	p := shards()
	return p.generators[p.next.Add(1)%uint64(len(p.generators))].ID()
}

// MakeString is Make().String().
func MakeString() string {
	return Make().String()
}

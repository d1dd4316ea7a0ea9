package network

import "sync"

const (
	// MaxSessions is the default capacity of a server's session ids
	MaxSessions = 4096

	// InvalidIndex is returned by IndexPool.Get when no id is free
	InvalidIndex uint32 = 0xFFFFEEEE
)

// IndexPool hands out small integer ids from [start, size) and takes them
// back for reuse. Freed ids are reused oldest first.
type IndexPool struct {
	mu     sync.Mutex
	usable []uint32
	using  map[uint32]struct{}
}

// NewIndexPool creates a pool holding start..size-1.
func NewIndexPool(start, size uint32) *IndexPool {
	p := &IndexPool{
		using: make(map[uint32]struct{}),
	}
	if size > start {
		p.usable = make([]uint32, 0, size-start)
	}
	for id := start; id < size; id++ {
		p.usable = append(p.usable, id)
	}
	return p
}

// Get takes the oldest free id, or InvalidIndex if none is left.
func (p *IndexPool) Get() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.usable) == 0 {
		return InvalidIndex
	}
	id := p.usable[0]
	p.usable = p.usable[1:]
	p.using[id] = struct{}{}
	return id
}

// Put returns id to the pool. Ids not currently handed out are ignored,
// so an id cannot be returned twice.
func (p *IndexPool) Put(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.using[id]; !ok {
		return
	}
	delete(p.using, id)
	p.usable = append(p.usable, id)
}

// InUse reports whether id is currently handed out.
func (p *IndexPool) InUse(id uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.using[id]
	return ok
}

// Available returns the number of free ids.
func (p *IndexPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.usable)
}

package vulkan

import "sync"

type LockGroup string

const (
	ResourceManagement        LockGroup = "resource_management"
	DescriptorManagement      LockGroup = "descriptor_management"
	PipelineManagement        LockGroup = "pipeline_management"
	MemoryManagement          LockGroup = "memory_management"
	SynchronizationManagement LockGroup = "synchronization_management"
	SwapchainManagement       LockGroup = "swapchain_management"
)

// LockPool hands out one mutex per lock group and one per queue family.
// Vulkan requires external synchronization of queues and, for the objects
// created here, of the parent pool or cache.
type LockPool struct {
	mu     sync.Mutex
	locks  map[LockGroup]*sync.Mutex
	queues map[uint32]*sync.Mutex
}

func NewLockPool() *LockPool {
	return &LockPool{
		locks:  make(map[LockGroup]*sync.Mutex),
		queues: make(map[uint32]*sync.Mutex),
	}
}

func (lp *LockPool) group(g LockGroup) *sync.Mutex {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	l, ok := lp.locks[g]
	if !ok {
		l = &sync.Mutex{}
		lp.locks[g] = l
	}
	return l
}

func (lp *LockPool) SafeCall(g LockGroup, fn func() error) error {
	l := lp.group(g)
	l.Lock()
	defer l.Unlock()
	return fn()
}

func (lp *LockPool) SetQueueFamily(index uint32) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if _, ok := lp.queues[index]; !ok {
		lp.queues[index] = &sync.Mutex{}
	}
}

// SafeQueueCall serializes fn against every other call on the same queue
// family. The pool mutex is released before fn runs so families do not block
// each other.
func (lp *LockPool) SafeQueueCall(family uint32, fn func() error) error {
	lp.mu.Lock()
	l, ok := lp.queues[family]
	if !ok {
		l = &sync.Mutex{}
		lp.queues[family] = l
	}
	lp.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn()
}

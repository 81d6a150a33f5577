package pipeline

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

var (
	ErrNoShader   = errors.New("pipeline state has no shader")
	ErrNotCompute = errors.New("compute pipeline needs a single compute stage")
)

// State is anything a Cache can turn into a pipeline.
type State interface {
	Hash() uint64
	CreatePipeline(device metadata.Device, cache metadata.PipelineCache) (metadata.Pipeline, error)
}

// Cache maps pipeline state hashes to created pipelines. It owns every
// pipeline it created. Not safe for concurrent use; each render context has
// its own.
type Cache struct {
	device    metadata.Device
	driver    metadata.PipelineCache
	pipelines map[uint64]metadata.Pipeline
}

// NewCache creates pipelines through device with the driver pipeline cache
// driver, which may be zero.
func NewCache(device metadata.Device, driver metadata.PipelineCache) *Cache {
	return &Cache{
		device:    device,
		driver:    driver,
		pipelines: make(map[uint64]metadata.Pipeline),
	}
}

// Resolve returns the pipeline for state, creating it on first use.
func (c *Cache) Resolve(state State) (metadata.Pipeline, error) {
	h := state.Hash()
	if p, ok := c.pipelines[h]; ok {
		return p, nil
	}
	p, err := state.CreatePipeline(c.device, c.driver)
	if err != nil {
		err = fmt.Errorf("creating pipeline %016x: %w", h, err)
		core.LogError(err.Error())
		return 0, err
	}
	core.LogDebug("Pipeline %016x created", h)
	c.pipelines[h] = p
	return p, nil
}

func (c *Cache) Len() int { return len(c.pipelines) }

// Destroy destroys every cached pipeline. The GPU must be done with them.
func (c *Cache) Destroy() {
	for h, p := range c.pipelines {
		c.device.DestroyPipeline(p)
		delete(c.pipelines, h)
	}
}

package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

// DefaultDriverCachePath is where the driver pipeline cache blob is kept.
const DefaultDriverCachePath = "pipelineCache.bin"

// LoadDriverCache creates a driver pipeline cache seeded from the blob at
// path. A missing file starts an empty cache; an unreadable or rejected blob
// is logged and replaced by an empty cache.
func LoadDriverCache(device metadata.Device, path string) (metadata.PipelineCache, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		core.LogDebug("No pipeline cache at '%s', starting empty", path)
		data = nil
	case err != nil:
		core.LogWarn("Could not read pipeline cache '%s': %s", path, err)
		data = nil
	}
	cache, err := device.CreatePipelineCache(data)
	if err != nil && data != nil {
		core.LogWarn("Driver rejected pipeline cache '%s', starting empty: %s", path, err)
		cache, err = device.CreatePipelineCache(nil)
	}
	if err != nil {
		return 0, fmt.Errorf("creating pipeline cache: %w", err)
	}
	if data != nil {
		core.LogInfo("Loaded pipeline cache '%s' (%d bytes)", path, len(data))
	}
	return cache, nil
}

// SaveDriverCache writes the driver's pipeline cache data to path.
func SaveDriverCache(device metadata.Device, cache metadata.PipelineCache, path string) error {
	data, err := device.PipelineCacheData(cache)
	if err != nil {
		return fmt.Errorf("reading pipeline cache data: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		err = fmt.Errorf("writing pipeline cache '%s': %w", path, err)
		core.LogError(err.Error())
		return err
	}
	core.LogDebug("Saved pipeline cache '%s' (%d bytes)", path, len(data))
	return nil
}

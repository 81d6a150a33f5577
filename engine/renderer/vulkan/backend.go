package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

type Config struct {
	ApplicationName string
	Validation      bool
	VSync           bool
	// DiscreteGPU rejects integrated adapters. Ignored on darwin.
	DiscreteGPU bool
}

// Window is the part of the host window the backend needs. *glfw.Window
// satisfies it.
type Window interface {
	GetRequiredInstanceExtensions() []string
	CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (uintptr, error)
}

// Backend owns the instance, surface, device, swapchain and the default
// colour + depth render pass.
type Backend struct {
	config     Config
	instance   vk.Instance
	debug      vk.DebugReportCallback
	surface    vk.Surface
	device     *Device
	swapchain  *Swapchain
	renderPass metadata.RenderPass
}

func NewBackend(cfg Config, window Window, width, height uint32) (*Backend, error) {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		core.LogError(ErrNoInstanceProcAddr.Error())
		return nil, ErrNoInstanceProcAddr
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return nil, err
	}

	b := &Backend{config: cfg}
	if err := b.createInstance(window.GetRequiredInstanceExtensions()); err != nil {
		return nil, err
	}
	if cfg.Validation {
		if err := b.createDebugCallback(); err != nil {
			b.Destroy()
			return nil, err
		}
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := window.CreateWindowSurface(b.instance, nil)
	if err != nil || surface == 0 {
		err = fmt.Errorf("%w: %v", ErrNoSurface, err)
		core.LogError(err.Error())
		b.Destroy()
		return nil, err
	}
	b.surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	requirements := deviceRequirements{
		graphics:          true,
		present:           true,
		transfer:          true,
		samplerAnisotropy: true,
		discreteGPU:       cfg.DiscreteGPU && runtime.GOOS != "darwin",
		extensions:        []string{vk.KhrSwapchainExtensionName},
	}
	if b.device, err = NewDevice(b.instance, b.surface, requirements); err != nil {
		b.Destroy()
		return nil, err
	}
	if b.swapchain, err = NewSwapchain(b.device, b.surface, width, height, cfg.VSync); err != nil {
		b.Destroy()
		return nil, err
	}
	if b.renderPass, err = b.device.CreateDefaultRenderPass(b.swapchain.ColorFormat(), b.swapchain.DepthFormat()); err != nil {
		b.Destroy()
		return nil, err
	}

	core.LogInfo("Vulkan backend initialized successfully.")
	return b, nil
}

func (b *Backend) createInstance(windowExtensions []string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   safeString(b.config.ApplicationName),
		PEngineName:        safeString("vkcore"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string{"VK_KHR_surface"}, windowExtensions...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	if b.config.Validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		if err := requireLayer(validationLayer); err != nil {
			return err
		}
		layers = []string{validationLayer}
	}
	for _, e := range extensions {
		core.LogDebug("Required extension: %s", e)
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = safeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = safeStrings(layers)

	if err := check("vkCreateInstance", vk.CreateInstance(&createInfo, nil, &b.instance)); err != nil {
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(b.instance); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func requireLayer(name string) error {
	var count uint32
	if err := check("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
		return err
	}
	available := make([]vk.LayerProperties, count)
	if err := check("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, available)); err != nil {
		return err
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].LayerName[:]) == name {
			core.LogInfo("Validation layer %s found.", name)
			return nil
		}
	}
	err := fmt.Errorf("%w: %s", ErrValidationLayer, name)
	core.LogError(err.Error())
	return err
}

func (b *Backend) createDebugCallback() error {
	core.LogDebug("Creating Vulkan debugger...")
	info := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: debugCallback,
	}
	if err := check("vkCreateDebugReportCallback", vk.CreateDebugReportCallback(b.instance, &info, nil, &b.debug)); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogDebug("Vulkan debugger created.")
	return nil
}

func (b *Backend) Device() *Device { return b.device }

func (b *Backend) Swapchain() *Swapchain { return b.swapchain }

// RenderPass is the default colour + depth pass targeting the swapchain.
func (b *Backend) RenderPass() metadata.RenderPass { return b.renderPass }

// Destroy releases everything in reverse creation order. The caller must have
// destroyed every object it created on the device first.
func (b *Backend) Destroy() {
	if b.device != nil {
		if err := b.device.WaitIdle(); err != nil {
			core.LogWarn("wait idle before shutdown: %s", err)
		}
		if b.renderPass != 0 {
			b.device.DestroyRenderPass(b.renderPass)
			b.renderPass = 0
		}
		if b.swapchain != nil {
			b.swapchain.Destroy()
			b.swapchain = nil
		}
		b.device.destroy()
		b.device = nil
	}
	if b.surface != nil {
		vk.DestroySurface(b.instance, b.surface, nil)
		b.surface = nil
	}
	if b.debug != nil {
		vk.DestroyDebugReportCallback(b.instance, b.debug, nil)
		b.debug = nil
	}
	if b.instance != nil {
		vk.DestroyInstance(b.instance, nil)
		b.instance = nil
	}
	core.LogInfo("Vulkan backend destroyed.")
}

func debugCallback(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}

// Package vk is the Vulkan implementation of the render.Backend contract:
// device bootstrap, the GPU-resident resource set, the presentation surface
// and the graphics pipeline.
package vk

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/vulkan-go/glfw/v3.3/glfw"
	"github.com/vulkan-go/vulkan"
	"go.uber.org/zap"
)

var (
	validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
	deviceExtensions = []string{"VK_KHR_swapchain"}
)

type queueFamilies struct {
	graphics    uint32
	present     uint32
	hasGraphics bool
	hasPresent  bool
}

// Context bundles the logical device, its queues and the window surface. It
// is the opaque handle bundle every other vk component works against.
type Context struct {
	window         *glfw.Window
	log            *zap.Logger
	validation     bool
	instance       vulkan.Instance
	debugCallback  vulkan.DebugReportCallback
	surface        vulkan.Surface
	physicalDevice vulkan.PhysicalDevice
	families       queueFamilies
	device         vulkan.Device
	graphicsQueue  vulkan.Queue
	presentQueue   vulkan.Queue
	commandPool    vulkan.CommandPool
}

// NewContext initializes Vulkan against the given window and selects a
// graphics+present capable device. Every failure here is fatal to startup.
func NewContext(window *glfw.Window, validation bool, log *zap.Logger) (*Context, error) {
	c := &Context{window: window, log: log, validation: validation}

	vulkan.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	if err := vulkan.Init(); err != nil {
		return nil, fmt.Errorf("vulkan init: %w", err)
	}
	if err := c.createInstance(); err != nil {
		return nil, err
	}
	if err := vulkan.InitInstance(c.instance); err != nil {
		return nil, fmt.Errorf("vkInitInstance: %w", err)
	}
	if err := c.setupDebugCallback(); err != nil {
		return nil, err
	}
	if err := c.createSurface(); err != nil {
		return nil, err
	}
	if err := c.pickPhysicalDevice(); err != nil {
		return nil, err
	}
	if err := c.createLogicalDevice(); err != nil {
		return nil, err
	}
	if err := c.createCommandPool(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Context) createInstance() error {
	if c.validation && !validationLayersSupported() {
		c.log.Warn("requested validation layers not available, continuing without")
		c.validation = false
	}
	if !glfw.VulkanSupported() {
		return errors.New("GLFW Vulkan loader not found")
	}

	appInfo := vulkan.ApplicationInfo{
		SType:              vulkan.StructureTypeApplicationInfo,
		PApplicationName:   "blockfield",
		ApplicationVersion: vulkan.MakeVersion(0, 1, 0),
		PEngineName:        "No Engine",
		EngineVersion:      vulkan.MakeVersion(0, 1, 0),
		ApiVersion:         vulkan.MakeVersion(1, 1, 0),
	}

	extensions := c.window.GetRequiredInstanceExtensions()
	if c.validation {
		extensions = append(extensions, "VK_EXT_debug_report")
	}

	createInfo := vulkan.InstanceCreateInfo{
		SType:                   vulkan.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
	}
	if c.validation {
		createInfo.EnabledLayerCount = uint32(len(validationLayers))
		createInfo.PpEnabledLayerNames = validationLayers
	}

	if res := vulkan.CreateInstance(&createInfo, nil, &c.instance); res != vulkan.Success {
		return fmt.Errorf("create instance: %w", vulkan.Error(res))
	}
	return nil
}

func validationLayersSupported() bool {
	var count uint32
	if vulkan.EnumerateInstanceLayerProperties(&count, nil) != vulkan.Success {
		return false
	}
	props := make([]vulkan.LayerProperties, count)
	if vulkan.EnumerateInstanceLayerProperties(&count, props) != vulkan.Success {
		return false
	}
	available := make(map[string]bool, count)
	for i := range props {
		props[i].Deref()
		available[vulkan.ToString(props[i].LayerName[:])] = true
	}
	for _, l := range validationLayers {
		if !available[l] {
			return false
		}
	}
	return true
}

func (c *Context) setupDebugCallback() error {
	if !c.validation {
		return nil
	}
	log := c.log
	createInfo := vulkan.DebugReportCallbackCreateInfo{
		SType: vulkan.StructureTypeDebugReportCallbackCreateInfo,
		Flags: vulkan.DebugReportFlags(
			vulkan.DebugReportErrorBit |
				vulkan.DebugReportWarningBit |
				vulkan.DebugReportPerformanceWarningBit),
		PfnCallback: func(flags vulkan.DebugReportFlags, objectType vulkan.DebugReportObjectType, object uint64, location uint, messageCode int32, layerPrefix string, message string, userData unsafe.Pointer) vulkan.Bool32 {
			log.Warn("validation layer",
				zap.String("layer", layerPrefix),
				zap.Int32("code", messageCode),
				zap.String("message", message))
			return vulkan.False
		},
	}
	if res := vulkan.CreateDebugReportCallback(c.instance, &createInfo, nil, &c.debugCallback); res != vulkan.Success {
		return fmt.Errorf("create debug callback: %w", vulkan.Error(res))
	}
	return nil
}

func (c *Context) createSurface() error {
	surfacePtr, err := c.window.CreateWindowSurface(c.instance, nil)
	if err != nil {
		return fmt.Errorf("create window surface: %w", err)
	}
	c.surface = vulkan.SurfaceFromPointer(surfacePtr)
	return nil
}

func (c *Context) pickPhysicalDevice() error {
	var count uint32
	if res := vulkan.EnumeratePhysicalDevices(c.instance, &count, nil); res != vulkan.Success || count == 0 {
		return fmt.Errorf("enumerate physical devices: %w", vulkan.Error(res))
	}
	devices := make([]vulkan.PhysicalDevice, count)
	if res := vulkan.EnumeratePhysicalDevices(c.instance, &count, devices); res != vulkan.Success {
		return fmt.Errorf("enumerate physical devices list: %w", vulkan.Error(res))
	}

	var selected vulkan.PhysicalDevice
	var selectedFamilies queueFamilies
	best := int32(-1)
	for _, dev := range devices {
		families := c.findQueueFamilies(dev)
		if !families.hasGraphics || !families.hasPresent {
			continue
		}
		if !deviceExtensionsSupported(dev) {
			continue
		}
		support := c.querySurfaceSupport(dev)
		if len(support.formats) == 0 || len(support.presentModes) == 0 {
			continue
		}
		if score := deviceScore(dev); score > best {
			best = score
			selected = dev
			selectedFamilies = families
		}
	}
	if selected == (vulkan.PhysicalDevice)(unsafe.Pointer(nil)) {
		return errors.New("no suitable GPU found")
	}

	var props vulkan.PhysicalDeviceProperties
	vulkan.GetPhysicalDeviceProperties(selected, &props)
	props.Deref()
	c.log.Info("using device",
		zap.String("name", vulkan.ToString(props.DeviceName[:])),
		zap.Uint32("type", uint32(props.DeviceType)))

	c.physicalDevice = selected
	c.families = selectedFamilies
	return nil
}

func deviceScore(device vulkan.PhysicalDevice) int32 {
	var props vulkan.PhysicalDeviceProperties
	vulkan.GetPhysicalDeviceProperties(device, &props)
	props.Deref()

	switch props.DeviceType {
	case vulkan.PhysicalDeviceTypeDiscreteGpu:
		return 1000
	case vulkan.PhysicalDeviceTypeIntegratedGpu:
		return 500
	default:
		return 100
	}
}

func deviceExtensionsSupported(device vulkan.PhysicalDevice) bool {
	var count uint32
	if res := vulkan.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vulkan.Success {
		return false
	}
	props := make([]vulkan.ExtensionProperties, count)
	if res := vulkan.EnumerateDeviceExtensionProperties(device, "", &count, props); res != vulkan.Success {
		return false
	}
	available := make(map[string]bool, count)
	for i := range props {
		props[i].Deref()
		available[vulkan.ToString(props[i].ExtensionName[:])] = true
	}
	for _, ext := range deviceExtensions {
		if !available[ext] {
			return false
		}
	}
	return true
}

func (c *Context) findQueueFamilies(device vulkan.PhysicalDevice) queueFamilies {
	var count uint32
	vulkan.GetPhysicalDeviceQueueFamilyProperties(device, &count, nil)
	props := make([]vulkan.QueueFamilyProperties, count)
	vulkan.GetPhysicalDeviceQueueFamilyProperties(device, &count, props)

	var families queueFamilies
	for i := range props {
		props[i].Deref()
		if props[i].QueueFlags&vulkan.QueueFlags(vulkan.QueueGraphicsBit) != 0 {
			families.graphics = uint32(i)
			families.hasGraphics = true
		}
		var present vulkan.Bool32
		vulkan.GetPhysicalDeviceSurfaceSupport(device, uint32(i), c.surface, &present)
		if present == vulkan.True {
			families.present = uint32(i)
			families.hasPresent = true
		}
		if families.hasGraphics && families.hasPresent {
			break
		}
	}
	return families
}

func (c *Context) createLogicalDevice() error {
	unique := map[uint32]bool{
		c.families.graphics: true,
		c.families.present:  true,
	}
	priority := float32(1.0)
	queueInfos := make([]vulkan.DeviceQueueCreateInfo, 0, len(unique))
	for family := range unique {
		queueInfos = append(queueInfos, vulkan.DeviceQueueCreateInfo{
			SType:            vulkan.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{priority},
		})
	}

	createInfo := vulkan.DeviceCreateInfo{
		SType:                   vulkan.StructureTypeDeviceCreateInfo,
		PQueueCreateInfos:       queueInfos,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PEnabledFeatures:        []vulkan.PhysicalDeviceFeatures{{}},
		PpEnabledExtensionNames: deviceExtensions,
		EnabledExtensionCount:   uint32(len(deviceExtensions)),
	}
	if c.validation {
		createInfo.EnabledLayerCount = uint32(len(validationLayers))
		createInfo.PpEnabledLayerNames = validationLayers
	}

	if res := vulkan.CreateDevice(c.physicalDevice, &createInfo, nil, &c.device); res != vulkan.Success {
		return fmt.Errorf("create logical device: %w", vulkan.Error(res))
	}

	vulkan.GetDeviceQueue(c.device, c.families.graphics, 0, &c.graphicsQueue)
	vulkan.GetDeviceQueue(c.device, c.families.present, 0, &c.presentQueue)
	return nil
}

func (c *Context) createCommandPool() error {
	poolInfo := vulkan.CommandPoolCreateInfo{
		SType:            vulkan.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: c.families.graphics,
		Flags:            vulkan.CommandPoolCreateFlags(vulkan.CommandPoolCreateResetCommandBufferBit),
	}
	if res := vulkan.CreateCommandPool(c.device, &poolInfo, nil, &c.commandPool); res != vulkan.Success {
		return fmt.Errorf("create command pool: %w", vulkan.Error(res))
	}
	return nil
}

type surfaceSupport struct {
	capabilities vulkan.SurfaceCapabilities
	formats      []vulkan.SurfaceFormat
	presentModes []vulkan.PresentMode
}

func (c *Context) querySurfaceSupport(device vulkan.PhysicalDevice) surfaceSupport {
	var details surfaceSupport
	vulkan.GetPhysicalDeviceSurfaceCapabilities(device, c.surface, &details.capabilities)
	details.capabilities.Deref()
	details.capabilities.CurrentExtent.Deref()
	details.capabilities.MinImageExtent.Deref()
	details.capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	vulkan.GetPhysicalDeviceSurfaceFormats(device, c.surface, &formatCount, nil)
	if formatCount > 0 {
		details.formats = make([]vulkan.SurfaceFormat, formatCount)
		vulkan.GetPhysicalDeviceSurfaceFormats(device, c.surface, &formatCount, details.formats)
		for i := range details.formats {
			details.formats[i].Deref()
		}
	}

	var presentCount uint32
	vulkan.GetPhysicalDeviceSurfacePresentModes(device, c.surface, &presentCount, nil)
	if presentCount > 0 {
		details.presentModes = make([]vulkan.PresentMode, presentCount)
		vulkan.GetPhysicalDeviceSurfacePresentModes(device, c.surface, &presentCount, details.presentModes)
	}

	return details
}

func (c *Context) destroy() {
	if c.commandPool != vulkan.CommandPool(vulkan.NullHandle) {
		vulkan.DestroyCommandPool(c.device, c.commandPool, nil)
	}
	if c.device != vulkan.Device(vulkan.NullHandle) {
		vulkan.DestroyDevice(c.device, nil)
	}
	if c.debugCallback != vulkan.DebugReportCallback(vulkan.NullHandle) {
		vulkan.DestroyDebugReportCallback(c.instance, c.debugCallback, nil)
	}
	if c.surface != vulkan.Surface(vulkan.NullHandle) {
		vulkan.DestroySurface(c.instance, c.surface, nil)
	}
	if c.instance != vulkan.Instance(vulkan.NullHandle) {
		vulkan.DestroyInstance(c.instance, nil)
	}
}

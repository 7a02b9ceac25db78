//go:build !nogpu

// Package wgpu provides GPU-accelerated compositing using WebGPU.
//
// CompositeAccelerator implements the playout.Accelerator interface on
// top of wgpu/hal compute shaders. The CPU kernel stays authoritative:
// any draw the accelerator cannot express falls back transparently.
package wgpu

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/openplayout/playout"
)

// compositeParams is the GPU layout of the per-draw uniform.
// Must match the Params struct in compositeShaderWGSL.
type compositeParams struct {
	TargetWidth  uint32
	TargetHeight uint32
	FillX        int32
	FillY        int32
	FillW        uint32
	FillH        uint32
	ClipX        int32
	ClipY        int32
	ClipW        uint32
	ClipH        uint32
	FieldMask    uint32
	BlendMode    uint32
	Opacity      uint32
	UseLocalKey  uint32
	UseLayerKey  uint32
	Pad          uint32
}

// CompositeAccelerator runs keyed, blended quad draws on the GPU.
type CompositeAccelerator struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline

	gpuReady       bool
	externalDevice bool

	logger *slog.Logger
}

// New returns an unregistered composite accelerator.
func New() *CompositeAccelerator {
	return &CompositeAccelerator{logger: playout.Logger()}
}

// Name returns the accelerator name.
func (a *CompositeAccelerator) Name() string { return "wgpu" }

// SetLogger wires the accelerator into the playout logger.
func (a *CompositeAccelerator) SetLogger(l *slog.Logger) {
	a.mu.Lock()
	a.logger = l
	a.mu.Unlock()
}

// Init validates the compositing shader and tries to bring up a GPU.
// A missing GPU is not an error; the accelerator simply stays in
// fallback mode until a device provider is attached.
func (a *CompositeAccelerator) Init() error {
	if _, err := naga.Compile(compositeShaderWGSL); err != nil {
		return fmt.Errorf("wgpu: composite shader rejected: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.initGPU(); err != nil {
		a.logger.Warn("wgpu: GPU init failed, staying on CPU compositing", "err", err)
	}
	return nil
}

// Close releases GPU resources. Shared devices are not destroyed.
func (a *CompositeAccelerator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.destroyPipelines()
	if !a.externalDevice {
		if a.device != nil {
			a.device.Destroy()
		}
		if a.instance != nil {
			a.instance.Destroy()
		}
	}
	a.device = nil
	a.instance = nil
	a.queue = nil
	a.gpuReady = false
	a.externalDevice = false
}

// SetDeviceProvider switches the accelerator to a shared GPU device.
// The provider must implement HalDevice() any and HalQueue() any
// returning hal.Device and hal.Queue.
func (a *CompositeAccelerator) SetDeviceProvider(provider any) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return fmt.Errorf("wgpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return fmt.Errorf("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("wgpu: provider HalQueue is not hal.Queue")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.destroyPipelines()
	if !a.externalDevice && a.device != nil {
		a.device.Destroy()
	}
	if a.instance != nil {
		a.instance.Destroy()
		a.instance = nil
	}

	a.device = device
	a.queue = queue
	a.externalDevice = true

	if err := a.createPipelines(); err != nil {
		a.gpuReady = false
		return fmt.Errorf("wgpu: create pipelines with shared device: %w", err)
	}
	a.gpuReady = true
	a.logger.Info("wgpu: switched to shared GPU device")
	return nil
}

// CanAccelerate reports whether the accelerator handles the operation.
func (a *CompositeAccelerator) CanAccelerate(op playout.AcceleratedOp) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gpuReady && op == playout.AccelComposite
}

// blendCode maps the draw to the shader's blend selector. The second
// result is false for modes the shader does not implement.
func blendCode(draw playout.AccelDraw) (uint32, bool) {
	if draw.Keyer == playout.KeyerAdditive {
		return 1, true
	}
	switch draw.BlendMode {
	case playout.BlendNormal:
		return 0, true
	case playout.BlendMultiply:
		return 2, true
	case playout.BlendScreen:
		return 3, true
	case playout.BlendAdd:
		return 4, true
	}
	return 0, false
}

// Composite performs one draw on the GPU.
func (a *CompositeAccelerator) Composite(target playout.AccelTarget, draw playout.AccelDraw) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.gpuReady {
		return playout.ErrFallbackToCPU
	}
	if target.Channels != 4 || len(target.Data) == 0 {
		return playout.ErrFallbackToCPU
	}
	mode, ok := blendCode(draw)
	if !ok {
		return playout.ErrFallbackToCPU
	}
	return a.dispatch(target, draw, mode)
}

// dispatch uploads the draw state, runs one compute pass and reads the
// destination back.
func (a *CompositeAccelerator) dispatch(target playout.AccelTarget, draw playout.AccelDraw, mode uint32) error {
	params := compositeParams{
		TargetWidth:  uint32(target.Width),
		TargetHeight: uint32(target.Height),
		FillX:        int32(draw.FillRect[0]),
		FillY:        int32(draw.FillRect[1]),
		FillW:        uint32(draw.FillRect[2]),
		FillH:        uint32(draw.FillRect[3]),
		ClipX:        int32(draw.ClipRect[0]),
		ClipY:        int32(draw.ClipRect[1]),
		ClipW:        uint32(draw.ClipRect[2]),
		ClipH:        uint32(draw.ClipRect[3]),
		FieldMask:    uint32(draw.FieldMode),
		BlendMode:    mode,
		Opacity:      uint32(draw.Opacity*255 + 0.5),
	}
	if len(draw.LocalKey.Data) > 0 {
		params.UseLocalKey = 1
	}
	if len(draw.LayerKey.Data) > 0 {
		params.UseLayerKey = 1
	}
	paramBytes := unsafe.Slice((*byte)(unsafe.Pointer(&params)), unsafe.Sizeof(params)) //nolint:gosec // fixed-layout uniform

	dstSize := uint64(len(target.Data))

	paramsBuf, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "composite_params", Size: uint64(len(paramBytes)),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create params buffer: %w", err)
	}
	defer a.device.DestroyBuffer(paramsBuf)

	srcBuf, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "composite_src", Size: uint64(len(draw.Source.Data)),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create source buffer: %w", err)
	}
	defer a.device.DestroyBuffer(srcBuf)

	localKeyBuf, err := a.createKeyBuffer("composite_local_key", draw.LocalKey.Data)
	if err != nil {
		return err
	}
	defer a.device.DestroyBuffer(localKeyBuf)

	layerKeyBuf, err := a.createKeyBuffer("composite_layer_key", draw.LayerKey.Data)
	if err != nil {
		return err
	}
	defer a.device.DestroyBuffer(layerKeyBuf)

	dstBuf, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "composite_dst", Size: dstSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create destination buffer: %w", err)
	}
	defer a.device.DestroyBuffer(dstBuf)

	stagingBuf, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "composite_staging", Size: dstSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer a.device.DestroyBuffer(stagingBuf)

	a.queue.WriteBuffer(paramsBuf, 0, paramBytes)
	a.queue.WriteBuffer(srcBuf, 0, draw.Source.Data)
	if params.UseLocalKey == 1 {
		a.queue.WriteBuffer(localKeyBuf, 0, draw.LocalKey.Data)
	}
	if params.UseLayerKey == 1 {
		a.queue.WriteBuffer(layerKeyBuf, 0, draw.LayerKey.Data)
	}
	a.queue.WriteBuffer(dstBuf, 0, target.Data)

	bindGroup, err := a.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "composite_bind", Layout: a.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: paramsBuf.NativeHandle(), Offset: 0, Size: uint64(len(paramBytes))}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: srcBuf.NativeHandle(), Offset: 0, Size: uint64(len(draw.Source.Data))}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: localKeyBuf.NativeHandle(), Offset: 0, Size: keySize(draw.LocalKey.Data)}},
			{Binding: 3, Resource: gputypes.BufferBinding{Buffer: layerKeyBuf.NativeHandle(), Offset: 0, Size: keySize(draw.LayerKey.Data)}},
			{Binding: 4, Resource: gputypes.BufferBinding{Buffer: dstBuf.NativeHandle(), Offset: 0, Size: dstSize}},
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create bind group: %w", err)
	}
	defer a.device.DestroyBindGroup(bindGroup)

	encoder, err := a.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "composite_encoder"})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("composite"); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "composite_pass"})
	pass.SetPipeline(a.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.Dispatch((params.ClipW+7)/8, (params.ClipH+7)/8, 1)
	pass.End()

	encoder.CopyBufferToBuffer(dstBuf, stagingBuf, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: dstSize},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	defer a.device.FreeCommandBuffer(cmdBuf)

	if _, err := a.queue.Submit([]hal.CommandBuffer{cmdBuf}); err != nil {
		return fmt.Errorf("wgpu: submit: %w", err)
	}
	if err := a.device.WaitIdle(); err != nil {
		return fmt.Errorf("wgpu: wait for GPU: %w", err)
	}

	mapping, err := a.device.MapBuffer(stagingBuf, 0, dstSize)
	if err != nil {
		return fmt.Errorf("wgpu: readback: %w", err)
	}
	copy(target.Data, unsafe.Slice((*byte)(mapping.Ptr), dstSize))
	if err := a.device.UnmapBuffer(stagingBuf); err != nil {
		return fmt.Errorf("wgpu: readback: %w", err)
	}
	return nil
}

// createKeyBuffer allocates a storage buffer for a key mask. Absent
// masks get a minimal dummy allocation so the bind group stays fixed.
func (a *CompositeAccelerator) createKeyBuffer(label string, data []byte) (hal.Buffer, error) {
	buf, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label, Size: keySize(data),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create %s buffer: %w", label, err)
	}
	return buf, nil
}

func keySize(data []byte) uint64 {
	if len(data) == 0 {
		return 4
	}
	return uint64((len(data) + 3) &^ 3)
}

func (a *CompositeAccelerator) initGPU() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	a.instance = instance
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return fmt.Errorf("no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	a.device = openDev.Device
	a.queue = openDev.Queue
	if err := a.createPipelines(); err != nil {
		a.device.Destroy()
		a.device = nil
		a.queue = nil
		return fmt.Errorf("create pipelines: %w", err)
	}
	a.gpuReady = true
	a.logger.Info("wgpu: composite accelerator initialized", "adapter", selected.Info.Name)
	return nil
}

func (a *CompositeAccelerator) createPipelines() error {
	shader, err := a.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "composite",
		Source: hal.ShaderSource{WGSL: compositeShaderWGSL},
	})
	if err != nil {
		return fmt.Errorf("compile composite shader: %w", err)
	}
	a.shader = shader

	bindLayout, err := a.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "composite_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 3, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 4, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	a.bindLayout = bindLayout

	pipeLayout, err := a.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "composite_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{a.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	a.pipeLayout = pipeLayout

	pipeline, err := a.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: "composite_pipeline", Layout: a.pipeLayout,
		Compute: hal.ComputeState{Module: a.shader, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	a.pipeline = pipeline

	return nil
}

func (a *CompositeAccelerator) destroyPipelines() {
	if a.device == nil {
		return
	}
	if a.pipeline != nil {
		a.device.DestroyComputePipeline(a.pipeline)
		a.pipeline = nil
	}
	if a.pipeLayout != nil {
		a.device.DestroyPipelineLayout(a.pipeLayout)
		a.pipeLayout = nil
	}
	if a.bindLayout != nil {
		a.device.DestroyBindGroupLayout(a.bindLayout)
		a.bindLayout = nil
	}
	if a.shader != nil {
		a.device.DestroyShaderModule(a.shader)
		a.shader = nil
	}
}

// Ensure CompositeAccelerator implements the accelerator interfaces.
var (
	_ playout.Accelerator         = (*CompositeAccelerator)(nil)
	_ playout.DeviceProviderAware = (*CompositeAccelerator)(nil)
)

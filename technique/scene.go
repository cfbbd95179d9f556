package technique

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
	lin "github.com/xlab/linmath"
	"golang.org/x/exp/slog"

	"github.com/andewx/dieselframe"
	"github.com/andewx/dieselframe/gpu"
)

// SceneData is the uniform block shared by every draw in a frame. Fields are 16-byte aligned
// so the byte layout matches std140.
type SceneData struct {
	View         lin.Mat4x4
	Proj         lin.Mat4x4
	ViewProj     lin.Mat4x4
	AmbientColor lin.Vec4
	SunDirection lin.Vec4
	SunColor     lin.Vec4
}

// SceneDataSize is the encoded size of SceneData in bytes.
var SceneDataSize = uint64(binary.Size(SceneData{}))

// Bytes encodes d little-endian, matching the GPU's byte order.
func (d *SceneData) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(int(SceneDataSize))
	_ = binary.Write(&buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// Camera is a perspective camera. FovY is in radians.
type Camera struct {
	Eye    lin.Vec3
	Center lin.Vec3
	Up     lin.Vec3
	FovY   float32
	Near   float32
	Far    float32
}

func DefaultCamera() Camera {
	return Camera{
		Eye:  lin.Vec3{0, 0, 5},
		Up:   lin.Vec3{0, 1, 0},
		FovY: float32(math.Pi / 3),
		Near: 0.1,
		Far:  100,
	}
}

// Matrices returns the view and Vulkan clip-space projection for the given aspect ratio.
func (c Camera) Matrices(aspect float32) (view, proj lin.Mat4x4) {
	view.LookAt(&c.Eye, &c.Center, &c.Up)
	var gl lin.Mat4x4
	gl.Perspective(c.FovY, aspect, c.Near, c.Far)
	VulkanProjectionMat(&proj, &gl)
	return view, proj
}

// Scene uploads SceneData into a transient uniform buffer every frame and points a per-frame
// descriptor set at it. Both are released when the frame slot comes round again.
type Scene struct {
	Camera       Camera
	AmbientColor lin.Vec4
	SunDirection lin.Vec4
	SunColor     lin.Vec4

	layout gpu.DescriptorSetLayout
	data   SceneData
	set    gpu.DescriptorSet
	buffer *dieselframe.AllocatedBuffer
	log    *slog.Logger
}

var (
	_ dieselframe.Pass            = (*Scene)(nil)
	_ dieselframe.PassInitializer = (*Scene)(nil)
)

func NewScene(cam Camera) *Scene {
	return &Scene{
		Camera:       cam,
		AmbientColor: lin.Vec4{0.1, 0.1, 0.1, 1},
		SunDirection: lin.Vec4{0, 1, 0.5, 1},
		SunColor:     lin.Vec4{1, 1, 1, 1},
	}
}

func (s *Scene) Name() string { return "scene" }

// Layout is the single uniform-buffer binding the scene set uses.
func (s *Scene) Layout() gpu.DescriptorSetLayout { return s.layout }

// Set is the descriptor set written by the last recorded frame.
func (s *Scene) Set() gpu.DescriptorSet { return s.set }

// Data is the scene block uploaded by the last recorded frame.
func (s *Scene) Data() SceneData { return s.data }

// Buffer is the uniform buffer of the last recorded frame, owned by that frame's deletion queue.
func (s *Scene) Buffer() *dieselframe.AllocatedBuffer { return s.buffer }

func (s *Scene) Init(e *dieselframe.Engine) error {
	s.log = e.Logger().With(slog.String("pass", s.Name()))
	var builder dieselframe.DescriptorLayoutBuilder
	layout, err := builder.AddBinding(0, gpu.DescriptorTypeUniformBuffer).
		Build(e.Device(), gpu.ShaderStageVertex|gpu.ShaderStageFragment)
	if err != nil {
		return errors.Wrap(err, "scene layout")
	}
	e.MainDeletionQueue().PushDescriptorSetLayout(e.Device(), layout)
	s.layout = layout
	return nil
}

func (s *Scene) Record(scope *dieselframe.FrameScope) error {
	if s.layout == 0 {
		return errors.Wrap(dieselframe.ErrNotInitialized, "scene")
	}
	extent := scope.DrawExtent
	if extent.Width == 0 || extent.Height == 0 {
		return nil
	}
	view, proj := s.Camera.Matrices(float32(extent.Width) / float32(extent.Height))
	data := SceneData{
		View:         view,
		Proj:         proj,
		AmbientColor: s.AmbientColor,
		SunDirection: s.SunDirection,
		SunColor:     s.SunColor,
	}
	data.ViewProj.Mult(&proj, &view)

	buf, err := scope.TransientBuffer(SceneDataSize, gpu.BufferUsageUniform, gpu.MemoryCPUToGPU)
	if err != nil {
		return errors.Wrap(err, "scene uniforms")
	}
	if err := scope.Allocator().Write(buf, 0, data.Bytes()); err != nil {
		return errors.Wrap(err, "scene uniforms")
	}
	set, err := scope.AllocateDescriptorSet(s.layout)
	if err != nil {
		return errors.Wrap(err, "scene descriptor")
	}
	var writer dieselframe.DescriptorWriter
	writer.WriteBuffer(0, buf.Buffer, SceneDataSize, 0, gpu.DescriptorTypeUniformBuffer).
		UpdateSet(scope.Device(), set)

	s.data, s.set, s.buffer = data, set, buf
	return nil
}

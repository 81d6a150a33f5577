package testbed

import (
	"encoding/binary"
	"fmt"
	"image/color"
	"math"
	"path/filepath"
	"time"

	"github.com/spaghettifunk/vkcore/engine"
	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/draw"
	"github.com/spaghettifunk/vkcore/engine/renderer/memory"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
	"github.com/spaghettifunk/vkcore/engine/renderer/pipeline"
	"github.com/spaghettifunk/vkcore/engine/renderer/render"
	"github.com/spaghettifunk/vkcore/engine/renderer/shader"
)

// TestGame spins a checker textured quad. The texture lives in a storage
// buffer uploaded once through the staging path.
type TestGame struct {
	*engine.Game
}

type gameState struct {
	engine  *engine.Engine
	device  metadata.Device
	shader  *shader.Shader
	static  *memory.BufferAllocator
	info    *draw.DrawCommandInfo
	command *draw.DrawCommand

	// uploaded regions: positions, texture coordinates, texels
	regions []render.BufferRegion

	angle  float64
	width  uint32
	height uint32
}

var (
	quadPositions = []float32{-0.5, -0.5, 0.5, -0.5, 0.5, 0.5, -0.5, 0.5}
	quadTexCoords = []float32{0, 0, 1, 0, 1, 1, 0, 1}
	quadIndices   = []uint16{0, 1, 2, 2, 3, 0}
)

func NewTestGame(cfg *core.Config) (*TestGame, error) {
	state := &gameState{}
	tg := &TestGame{
		Game: &engine.Game{
			Config: cfg,
			State:  state,
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	return tg, nil
}

func (g *TestGame) state() *gameState { return g.State.(*gameState) }

func (g *TestGame) Initialize(e *engine.Engine) error {
	core.LogInfo("initializing testbed...")
	s := g.state()
	s.engine = e
	s.device = e.Renderer().Device()

	dir := e.Config().Shaders.Directory
	sh, err := shader.New(s.device, shader.Settings{
		Name: "checker",
		Sources: map[metadata.ShaderStage]string{
			metadata.ShaderStageVertex:   filepath.Join(dir, "checker.vert"),
			metadata.ShaderStageFragment: filepath.Join(dir, "checker.frag"),
		},
		Compiler: &shader.GlslcCompiler{Binary: e.Config().Shaders.Glslc},
	})
	if err != nil {
		return err
	}
	e.Renderer().RegisterShader(sh)
	s.shader = sh

	s.static, err = memory.NewBufferAllocator(memory.StaticSettings(s.device, e.Config().Renderer.StaticMemory))
	if err != nil {
		return err
	}
	return s.buildCommand()
}

// buildCommand creates the draw command for the current shader version.
func (s *gameState) buildCommand() error {
	state := pipeline.NewGraphicsPipelineState()
	state.SetShader(s.shader)
	state.SetTopology(metadata.PrimitiveTopologyTriangleList)
	state.SetCullMode(metadata.CullModeNone)
	state.SetDepthTest(false)
	info, err := draw.NewDrawCommandInfo(state)
	if err != nil {
		return err
	}
	s.info = info
	s.command = draw.New(info)
	if s.regions != nil {
		s.bindRegions()
	}
	return nil
}

func (s *gameState) bindRegions() {
	dc := s.command
	dc.SetAttributeByName("position", s.regions[0].Buffer, s.regions[0].Offset)
	dc.SetAttributeByName("texCoord", s.regions[1].Buffer, s.regions[1].Offset)
	dc.SetStorageBuffer("Texels", s.regions[2].Buffer, s.regions[2].Offset, s.regions[2].Range)
}

// upload stages the static data. It needs a begun frame.
func (s *gameState) upload(ctx *render.Context) error {
	texels := checkerTexels(8, color.RGBA{240, 240, 240, 255}, color.RGBA{200, 40, 60, 255})
	regions, err := ctx.StoreBufferDataCmd([]render.TransferSrcData{
		{Data: floatBytes(quadPositions), NumElements: 4},
		{Data: floatBytes(quadTexCoords), NumElements: 4},
		{Data: texels, NumElements: TextureSize * TextureSize},
	}, s.static)
	if err != nil {
		return err
	}
	s.regions = regions
	s.bindRegions()
	core.LogInfo("Uploaded %d bytes of static data", s.static.Used(0))
	return nil
}

func (g *TestGame) Update(deltaTime time.Duration) error {
	s := g.state()
	s.angle = math.Mod(s.angle+deltaTime.Seconds()*0.8, 2*math.Pi)
	return nil
}

func (g *TestGame) Render(ctx *render.Context, _ time.Duration) error {
	s := g.state()
	if s.regions == nil {
		if err := s.upload(ctx); err != nil {
			return err
		}
	}
	if s.command.Stale() {
		core.LogDebug("checker shader changed, rebuilding its draw command")
		if err := s.buildCommand(); err != nil {
			return err
		}
	}

	dc := s.command
	aspect := float32(1)
	if s.height > 0 {
		aspect = float32(s.width) / float32(s.height)
	}
	draw.SetUniform(dc, "modelViewProjection", spin(float32(s.angle), aspect))
	draw.SetUniform(dc, "tint", [4]float32{1, 1, 1, 1})
	if !dc.SetTransientIndices(ctx.TransientAllocator(), uint32(ctx.FrameIndex()), uint16Bytes(quadIndices), metadata.IndexTypeUint16) {
		return fmt.Errorf("frame %d: no transient memory for indices", s.engine.FrameNumber())
	}
	dc.SetNumIndices(uint32(len(quadIndices)))

	batch := render.NewBatch(ctx)
	if err := batch.Begin(); err != nil {
		return err
	}
	if err := batch.Draw(dc); err != nil {
		return err
	}
	if err := batch.End(); err != nil {
		return err
	}
	return batch.Submit()
}

func (g *TestGame) OnResize(width, height uint32) error {
	s := g.state()
	s.width, s.height = width, height
	return nil
}

func (g *TestGame) Shutdown() error {
	s := g.state()
	if s.device != nil {
		if err := s.device.WaitIdle(); err != nil {
			return err
		}
	}
	if s.static != nil {
		s.static.Destroy()
	}
	if s.shader != nil {
		s.shader.Release()
	}
	core.LogInfo("testbed shut down")
	return nil
}

// spin rotates around z and squeezes x by the aspect ratio. Column major.
func spin(angle, aspect float32) [16]float32 {
	c := float32(math.Cos(float64(angle)))
	sn := float32(math.Sin(float64(angle)))
	return [16]float32{
		c / aspect, sn, 0, 0,
		-sn / aspect, c, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

func floatBytes(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func uint16Bytes(v []uint16) []byte {
	out := make([]byte, 2*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint16(out[i*2:], x)
	}
	return out
}

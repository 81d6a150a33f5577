package shader

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/spaghettifunk/vkcore/engine/core"
	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

// ErrKeptPreviousVersion wraps failures of a recompilation that left the last
// good version of the shader in place.
var ErrKeptPreviousVersion = errors.New("shader rebuild failed, previous version kept")

type Settings struct {
	Name string
	// Sources maps each stage to a file; ".spv" files are read as SPIR-V,
	// anything else goes through Compiler.
	Sources  map[metadata.ShaderStage]string
	Compiler Compiler
}

type stageModule struct {
	stage  metadata.ShaderStage
	module metadata.ShaderModule
	hash   uint64
	code   []uint32
}

// compiled is one immutable version of a shader.
type compiled struct {
	stages         []*stageModule
	codeHash       uint64
	uniforms       map[string]*Uniform
	setLayoutInfos []SetLayoutInfo
	setLayouts     []metadata.DescriptorSetLayout
	pipelineLayout metadata.PipelineLayout
	vertexInput    VertexInput
}

// Shader owns the modules, reflection data, and layouts of a set of stages.
// It is reference counted; the last Release destroys every GPU object it
// created. Not safe for concurrent use.
type Shader struct {
	id       uuid.UUID
	device   metadata.Device
	settings Settings
	refs     atomic.Int32

	current *compiled
	retired []*compiled
}

// New compiles every stage. Any error is fatal for the caller since there is
// no previous version to fall back to.
func New(device metadata.Device, settings Settings) (*Shader, error) {
	if len(settings.Sources) == 0 {
		return nil, fmt.Errorf("%w: shader '%s' has no stages", ErrSourceNotFound, settings.Name)
	}
	s := &Shader{
		id:       uuid.New(),
		device:   device,
		settings: settings,
	}
	if s.settings.Name == "" {
		s.settings.Name = s.id.String()
	}
	s.refs.Store(1)
	if err := s.Compile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Shader) ID() uuid.UUID { return s.id }

func (s *Shader) Name() string { return s.settings.Name }

// Sources returns stage to file mappings.
func (s *Shader) Sources() map[metadata.ShaderStage]string {
	out := make(map[metadata.ShaderStage]string, len(s.settings.Sources))
	for k, v := range s.settings.Sources {
		out[k] = v
	}
	return out
}

// Compile loads every stage and, if any stage binary changed, rebuilds
// reflection data and layouts. A failure keeps the previous version when
// there is one.
func (s *Shader) Compile() error {
	var next []*stageModule
	changed := s.current == nil
	for _, stage := range metadata.ShaderStages {
		path, ok := s.settings.Sources[stage]
		if !ok {
			continue
		}
		code, err := loadStage(s.settings.Compiler, stage, path)
		if err != nil {
			return s.fail(err)
		}
		sm := &stageModule{stage: stage, code: code, hash: hashCode(code)}
		if prev := s.stageModule(stage); prev == nil || prev.hash != sm.hash {
			changed = true
		} else {
			sm = prev
		}
		next = append(next, sm)
	}
	if !changed {
		core.LogDebug("Shader '%s' unchanged, skipping rebuild", s.settings.Name)
		return nil
	}

	c, err := s.build(next)
	if err != nil {
		return s.fail(err)
	}
	if s.current != nil {
		s.retired = append(s.retired, s.current)
	}
	s.current = c
	core.LogDebug("Shader '%s' compiled, code hash %016x", s.settings.Name, c.codeHash)
	return nil
}

// Reload is Compile under the name used by hot reload.
func (s *Shader) Reload() error {
	return s.Compile()
}

func (s *Shader) fail(err error) error {
	if errors.Is(err, ErrSourceNotFound) {
		core.LogError("Shader '%s': %s", s.settings.Name, err)
		return err
	}
	if s.current != nil {
		core.LogWarn("Aborting shader compile of '%s', using previous version: %s", s.settings.Name, err)
		return fmt.Errorf("%w: %w", ErrKeptPreviousVersion, err)
	}
	if !errors.Is(err, ErrCompileFailed) {
		err = fmt.Errorf("%w: %w", ErrCompileFailed, err)
	}
	core.LogError("Shader '%s': %s", s.settings.Name, err)
	return err
}

func (s *Shader) stageModule(stage metadata.ShaderStage) *stageModule {
	if s.current == nil {
		return nil
	}
	for _, sm := range s.current.stages {
		if sm.stage == stage {
			return sm
		}
	}
	return nil
}

// build reflects and creates the GPU objects of a new version. Nothing is
// left behind on failure.
func (s *Shader) build(stages []*stageModule) (*compiled, error) {
	r := newReflector(s.settings.Name)
	for _, sm := range stages {
		m, err := parseSpirv(sm.code)
		if err != nil {
			return nil, err
		}
		stage, err := stageForModel(m.model)
		if err != nil {
			return nil, err
		}
		if stage != sm.stage {
			return nil, fmt.Errorf("%w: '%s' was loaded as %s but declares a %s entry point",
				ErrUnsupportedStage, s.settings.Sources[sm.stage], sm.stage, stage)
		}
		if err := r.reflect(stage, m); err != nil {
			return nil, err
		}
	}
	infos, err := createSetLayouts(s.settings.Name, r.uniforms)
	if err != nil {
		return nil, err
	}

	c := &compiled{
		uniforms:       r.uniforms,
		setLayoutInfos: infos,
		vertexInput:    r.vertex,
	}
	var created []*stageModule
	cleanup := func() {
		for _, sm := range created {
			s.device.DestroyShaderModule(sm.module)
		}
		for _, l := range c.setLayouts {
			s.device.DestroyDescriptorSetLayout(l)
		}
	}

	for _, sm := range stages {
		if sm.module == 0 {
			module, err := s.device.CreateShaderModule(sm.code)
			if err != nil {
				cleanup()
				return nil, err
			}
			sm = &stageModule{stage: sm.stage, module: module, hash: sm.hash, code: sm.code}
			created = append(created, sm)
		}
		c.stages = append(c.stages, sm)
	}
	for _, info := range infos {
		l, err := s.device.CreateDescriptorSetLayout(info.Bindings)
		if err != nil {
			cleanup()
			return nil, err
		}
		c.setLayouts = append(c.setLayouts, l)
	}
	pl, err := s.device.CreatePipelineLayout(c.setLayouts, nil)
	if err != nil {
		cleanup()
		return nil, err
	}
	c.pipelineLayout = pl

	k := metadata.NewKeyHasher(1)
	for _, sm := range c.stages {
		k.Uint32(uint32(sm.stage)).Uint64(sm.hash)
	}
	c.codeHash = k.Sum64()
	return c, nil
}

func hashCode(code []uint32) uint64 {
	k := metadata.NewKeyHasher(1).Uint64(uint64(len(code)))
	for _, w := range code {
		k.Uint32(w)
	}
	return k.Sum64()
}

// CodeHash identifies the compiled stages. It changes whenever any stage
// binary changes.
func (s *Shader) CodeHash() uint64 { return s.current.codeHash }

// Uniforms returns every reflected descriptor by name.
func (s *Shader) Uniforms() map[string]*Uniform { return s.current.uniforms }

func (s *Shader) Uniform(name string) (*Uniform, bool) {
	u, ok := s.current.uniforms[name]
	return u, ok
}

func (s *Shader) SetLayoutInfos() []SetLayoutInfo { return s.current.setLayoutInfos }

func (s *Shader) SetLayouts() []metadata.DescriptorSetLayout { return s.current.setLayouts }

func (s *Shader) PipelineLayout() metadata.PipelineLayout { return s.current.pipelineLayout }

func (s *Shader) VertexInput() VertexInput { return s.current.vertexInput }

// Stages returns the stage infos used to create pipelines.
func (s *Shader) Stages() []metadata.ShaderStageInfo {
	out := make([]metadata.ShaderStageInfo, 0, len(s.current.stages))
	for _, sm := range s.current.stages {
		out = append(out, metadata.ShaderStageInfo{Stage: sm.stage, Module: sm.module, EntryPoint: "main"})
	}
	return out
}

func (s *Shader) IsCompute() bool {
	return len(s.current.stages) == 1 && s.current.stages[0].stage == metadata.ShaderStageCompute
}

func (s *Shader) Retain() *Shader {
	s.refs.Add(1)
	return s
}

// Release drops a reference and destroys the shader when none are left.
func (s *Shader) Release() {
	if s.refs.Add(-1) == 0 {
		s.destroy()
	}
}

// ReleaseRetired destroys objects of replaced versions. Call it only when the
// GPU no longer uses them, e.g. after a device wait idle.
func (s *Shader) ReleaseRetired() {
	keep := make(map[*stageModule]bool)
	if s.current != nil {
		for _, sm := range s.current.stages {
			keep[sm] = true
		}
	}
	for _, c := range s.retired {
		s.destroyCompiled(c, keep)
	}
	s.retired = nil
}

func (s *Shader) destroy() {
	s.ReleaseRetired()
	if s.current != nil {
		s.destroyCompiled(s.current, map[*stageModule]bool{})
		s.current = nil
	}
}

// destroyCompiled frees c except the modules in skip. Freed modules are added
// to skip so versions sharing a module free it once.
func (s *Shader) destroyCompiled(c *compiled, skip map[*stageModule]bool) {
	for _, sm := range c.stages {
		if skip[sm] {
			continue
		}
		skip[sm] = true
		s.device.DestroyShaderModule(sm.module)
	}
	for _, l := range c.setLayouts {
		s.device.DestroyDescriptorSetLayout(l)
	}
	s.device.DestroyPipelineLayout(c.pipelineLayout)
}

package shader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/spaghettifunk/vkcore/engine/renderer/metadata"
)

var (
	ErrSourceNotFound = errors.New("shader source not found")
	ErrCompileFailed  = errors.New("shader compilation failed")
)

// Compiler turns a shader source file into SPIR-V words.
type Compiler interface {
	Compile(stage metadata.ShaderStage, path string) ([]uint32, error)
}

// CompileError is a diagnostic pointing at a line of a source file.
type CompileError struct {
	File    string
	Line    int
	Message string
	// Context holds the numbered source lines around Line.
	Context string
}

func (e *CompileError) Error() string {
	if e.Context == "" {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	}
	return fmt.Sprintf("%s:%d: %s\n%s", e.File, e.Line, e.Message, e.Context)
}

func (e *CompileError) Unwrap() error { return ErrCompileFailed }

// GlslcCompiler runs the glslc command line compiler.
type GlslcCompiler struct {
	// Binary defaults to "glslc" on PATH.
	Binary string
	Args   []string
}

var glslcStage = map[metadata.ShaderStage]string{
	metadata.ShaderStageVertex:         "vert",
	metadata.ShaderStageTessControl:    "tesc",
	metadata.ShaderStageTessEvaluation: "tese",
	metadata.ShaderStageGeometry:       "geom",
	metadata.ShaderStageFragment:       "frag",
	metadata.ShaderStageCompute:        "comp",
}

func (c *GlslcCompiler) Compile(stage metadata.ShaderStage, path string) ([]uint32, error) {
	name, ok := glslcStage[stage]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStage, stage)
	}
	bin := c.Binary
	if bin == "" {
		bin = "glslc"
	}
	args := append([]string{"-fshader-stage=" + name, "-o", "-"}, c.Args...)
	args = append(args, path)

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(bin, args...)
	cmd.Dir = filepath.Dir(path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, parseDiagnostics(path, stderr.String())
		}
		return nil, fmt.Errorf("%w: running %s: %w", ErrCompileFailed, bin, err)
	}
	return bytesToCode(stdout.Bytes())
}

var diagnosticLine = regexp.MustCompile(`^(.+?):(\d+): (?:fatal )?error: (.*)$`)

// parseDiagnostics returns the first error reported by the compiler, with
// the surrounding source lines attached.
func parseDiagnostics(path, output string) error {
	for _, line := range strings.Split(output, "\n") {
		match := diagnosticLine.FindStringSubmatch(strings.TrimSpace(line))
		if match == nil {
			continue
		}
		n, _ := strconv.Atoi(match[2])
		ce := &CompileError{File: match[1], Line: n, Message: match[3]}
		file := match[1]
		if !filepath.IsAbs(file) {
			file = filepath.Join(filepath.Dir(path), filepath.Base(file))
		}
		if src, err := os.ReadFile(file); err == nil {
			ce.Context = sourceContext(string(src), n)
		}
		return ce
	}
	return fmt.Errorf("%w: %s", ErrCompileFailed, strings.TrimSpace(output))
}

// sourceContext prints lines line-3 through line+2, marking line.
func sourceContext(src string, line int) string {
	lines := strings.Split(src, "\n")
	from := max(line-3, 1)
	to := min(line+2, len(lines))
	var b strings.Builder
	for i := from; i <= to; i++ {
		marker := "  "
		if i == line {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%4d | %s\n", marker, i, lines[i-1])
	}
	return b.String()
}

func bytesToCode(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of words", ErrInvalidSpirv, len(b))
	}
	code := make([]uint32, len(b)/4)
	for i := range code {
		code[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return code, nil
}

func loadStage(c Compiler, stage metadata.ShaderStage, path string) ([]uint32, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}
	if strings.EqualFold(filepath.Ext(path), ".spv") {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCompileFailed, err)
		}
		return bytesToCode(b)
	}
	if c == nil {
		c = &GlslcCompiler{}
	}
	return c.Compile(stage, path)
}

//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const shaderDir = "assets/shaders"

// Compiles every GLSL stage under assets/shaders to SPIR-V next to its source.
func (Build) Shaders() error {
	return buildShaders()
}

// Compiles the shaders and the engine binary into bin/.
func (Build) All() error {
	mg.Deps(Build.Shaders)
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/vkcore", "."), withStream()); err != nil {
		return err
	}
	return nil
}

func buildShaders() error {
	sources, err := shaderSources(shaderDir)
	if err != nil {
		return fmt.Errorf("listing shaders: %w", err)
	}
	for _, src := range sources {
		out := src + ".spv"
		if !stale(src, out) {
			continue
		}
		if _, err := executeCmd("glslc", withArgs(src, "-o", out), withStream()); err != nil {
			return err
		}
	}
	fmt.Printf("%d shader sources up to date\n", len(sources))
	return nil
}

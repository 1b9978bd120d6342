//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed on the headless device for a fixed number of frames.
func (Run) Headless() error {
	fmt.Println("Run testbed on the headless device...")
	return runTestbed("-driver", "headless", "-frames", "600")
}

// Runs the testbed on Vulkan with validation enabled until interrupted.
func (Run) Vulkan() error {
	fmt.Println("Run testbed on Vulkan...")
	return runTestbed("-driver", "vulkan", "-validation", "-config", "rendercore.toml")
}

func runTestbed(args ...string) error {
	if _, err := executeCmd("go", withArgs(append([]string{"run", "."}, args...)...), withStream()); err != nil {
		return err
	}
	return nil
}

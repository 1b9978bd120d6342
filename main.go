/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/rendercore/engine"
	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/headless"
	"github.com/spaghettifunk/rendercore/engine/renderer/vulkan"
	"github.com/spaghettifunk/rendercore/testbed"
)

func main() {
	configPath := flag.String("config", "", "TOML configuration file, watched for changes")
	backend := flag.String("driver", headless.DRIVER_NAME, "preferred driver: headless or vulkan")
	streams := flag.Int("streams", 2, "render systems recording in parallel")
	frames := flag.Uint64("frames", 0, "stop after this many frames, 0 runs until interrupted")
	logLevel := flag.String("log", "", "log level override")
	validation := flag.Bool("validation", false, "enable the Vulkan validation layer")
	flag.Parse()

	drivers := []driver.Driver{
		headless.NewDriver("", headless.Options{}),
		vulkan.NewDriver(vulkan.Options{
			ApplicationName: "rendercore-testbed",
			Validation:      *validation,
			PreferDiscrete:  true,
		}),
	}
	if *backend == vulkan.DRIVER_NAME {
		drivers[0], drivers[1] = drivers[1], drivers[0]
	}

	tb, err := testbed.NewTestGame(&engine.ApplicationConfig{
		Name:       "testbed",
		ConfigPath: *configPath,
		LogLevel:   *logLevel,
		Streams:    *streams,
		MaxFrames:  *frames,
		Drivers:    drivers,
	})
	if err != nil {
		panic(err)
	}

	engine, err := engine.New(tb.Game)
	if err != nil {
		panic(err)
	}

	if err := engine.Initialize(); err != nil {
		panic(err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// start shutdown goroutine
	go func() {
		// capture sigterm and other system call here
		<-sigCh
		core.LogInfo("interrupted, stopping after the current frame")
		engine.Stop()
	}()

	// run engine
	runErr := engine.Run(ctx)
	if err := engine.Shutdown(ctx); err != nil {
		core.LogError("shutdown: %s", err.Error())
	}
	if runErr != nil {
		panic(runErr)
	}
}

package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/vulkan-go/glfw/v3.3/glfw"

	"github.com/mohe2015/blockfield/internal/config"
	"github.com/mohe2015/blockfield/internal/logger"
	"github.com/mohe2015/blockfield/internal/render"
	"github.com/mohe2015/blockfield/internal/render/vk"
)

func init() {
	// GLFW/Vulkan require the main thread.
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "blockfield: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	if err := glfw.Init(); err != nil {
		return fmt.Errorf("init glfw: %w", err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(cfg.Graphics.Width, cfg.Graphics.Height, "Blockfield", nil, nil)
	if err != nil {
		return fmt.Errorf("create window: %w", err)
	}
	defer window.Destroy()

	// Ensure the framebuffer has a non-zero size before initializing Vulkan.
	for {
		w, h := window.GetFramebufferSize()
		if w > 0 && h > 0 {
			break
		}
		glfw.WaitEventsTimeout(0.01)
	}

	backend, err := vk.New(window, cfg, log)
	if err != nil {
		return fmt.Errorf("init vulkan: %w", err)
	}

	engine := render.New(backend, log)
	defer engine.Close()

	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if key == glfw.KeyEscape && action == glfw.Press {
			w.SetShouldClose(true)
			return
		}
		engine.SetPan(panState(w))
	})
	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		engine.NotifyResized()
	})

	log.Info("entering main loop")
	for !window.ShouldClose() {
		glfw.PollEvents()
		if _, err := engine.RenderFrame(); err != nil {
			return fmt.Errorf("render frame: %w", err)
		}
		time.Sleep(1 * time.Millisecond) // small throttle to avoid busy loop
	}
	log.Info("shutting down")
	return nil
}

func panState(w *glfw.Window) render.PanState {
	return render.PanState{
		Up:    w.GetKey(glfw.KeyW) == glfw.Press,
		Down:  w.GetKey(glfw.KeyS) == glfw.Press,
		Left:  w.GetKey(glfw.KeyA) == glfw.Press,
		Right: w.GetKey(glfw.KeyD) == glfw.Press,
		Fast:  w.GetKey(glfw.KeyLeftControl) == glfw.Press,
	}
}

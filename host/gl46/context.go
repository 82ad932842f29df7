//go:build cgo

package gl46

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
)

// WindowContext owns the main GL context and hands out hidden shared
// contexts for shader compilation workers.
type WindowContext struct {
	window *glfw.Window
}

// NewWindowContext creates a hidden 4.6 core context and makes it current
// on the calling thread.
func NewWindowContext() (*WindowContext, error) {
	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("gl46: glfw init: %w", err)
	}
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 6)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.Visible, glfw.False)

	w, err := glfw.CreateWindow(1, 1, "gtc", nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("gl46: creating context: %w", err)
	}
	w.MakeContextCurrent()
	return &WindowContext{window: w}, nil
}

// NewSharedContext implements host.ContextProvider. The returned
// makeCurrent must run on the worker goroutine after it has locked its
// OS thread.
func (c *WindowContext) NewSharedContext() (func(), func(), error) {
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 6)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.Visible, glfw.False)

	w, err := glfw.CreateWindow(1, 1, "gtc-worker", nil, c.window)
	if err != nil {
		return nil, nil, fmt.Errorf("gl46: creating shared context: %w", err)
	}
	makeCurrent := func() { w.MakeContextCurrent() }
	destroy := func() {
		glfw.DetachCurrentContext()
		w.Destroy()
	}
	return makeCurrent, destroy, nil
}

// Destroy tears down the main context.
func (c *WindowContext) Destroy() {
	c.window.Destroy()
	glfw.Terminate()
}

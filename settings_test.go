package gtc

import (
	"context"
	"runtime"
	"testing"

	"github.com/kentjhall/mizu-sub009/host"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s := LoadSettings()
	if s.Language != host.LanguageGLSL {
		t.Errorf("default language = %d, want GLSL", s.Language)
	}
	if s.AsyncShaders || s.AssemblyShaders {
		t.Error("async and assembly shaders must default off")
	}
	if s.CompileWorkers != runtime.NumCPU()+1 {
		t.Errorf("worker count = %d, want NumCPU+1", s.CompileWorkers)
	}
}

func TestLoadSettingsFromEnv(t *testing.T) {
	t.Setenv("SHADER_BACKEND", "spirv")
	t.Setenv("USE_ASYNCHRONOUS_SHADERS", "true")
	t.Setenv("GPU_ACCURACY", "extreme")
	t.Setenv("SHADER_CACHE_ROOT", "/tmp/shadercache")

	s := LoadSettings()
	if s.Language != host.LanguageSPIRV {
		t.Errorf("language = %d, want SPIRV", s.Language)
	}
	if !s.AsyncShaders {
		t.Error("async shaders not enabled")
	}
	if s.Accuracy != AccuracyExtreme {
		t.Errorf("accuracy = %d, want extreme", s.Accuracy)
	}
	if s.ShaderCacheRoot != "/tmp/shadercache" {
		t.Errorf("cache root = %q", s.ShaderCacheRoot)
	}
}

func TestAssemblyEnvSelectsGLASM(t *testing.T) {
	t.Setenv("USE_ASSEMBLY_SHADERS", "1")
	s := LoadSettings()
	if s.Language != host.LanguageGLASM || !s.AssemblyShaders {
		t.Errorf("assembly env must select GLASM, got %d", s.Language)
	}
}

func TestOptionsOverrideEnvironment(t *testing.T) {
	t.Setenv("SHADER_BACKEND", "GLASM")
	s := LoadSettings(
		WithShaderBackend(host.LanguageGLSL),
		WithShaderCacheRoot("/elsewhere"),
		WithTitleID(0xABCD),
		WithAccuracy(AccuracyHigh),
		WithCompileWorkers(2),
	)
	if s.Language != host.LanguageGLSL {
		t.Error("option must win over environment")
	}
	if s.ShaderCacheRoot != "/elsewhere" || s.TitleID != 0xABCD {
		t.Error("cache options not applied")
	}
	if s.Accuracy != AccuracyHigh || s.CompileWorkers != 2 {
		t.Error("accuracy or worker options not applied")
	}
}

func TestLoggerDefaultsSilent(t *testing.T) {
	if Logger() == nil {
		t.Fatal("Logger must never return nil")
	}
	SetLogger(nil)
	if Logger() == nil {
		t.Fatal("nil SetLogger must restore the silent logger")
	}
	if Logger().Enabled(context.Background(), 0) {
		t.Error("default logger must be disabled")
	}
}

package gtc

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/kentjhall/mizu-sub009/host"
)

// Accuracy trades speed for guest-visible precision.
type Accuracy int

// Accuracy levels.
const (
	// AccuracyNormal favors speed.
	AccuracyNormal Accuracy = iota
	// AccuracyHigh enables precise arithmetic on non-fragment stages.
	AccuracyHigh
	// AccuracyExtreme additionally resolves queries eagerly.
	AccuracyExtreme
)

// Settings configures a [GPU]. Zero values select the defaults listed
// on each field; [LoadSettings] fills them from the environment.
type Settings struct {
	// Language selects the shader recompiler backend. Default GLSL.
	Language host.ProgramLanguage

	// AssemblyShaders requests the NV assembly backend, equivalent to
	// Language = GLASM when the host supports it.
	AssemblyShaders bool

	// AsyncShaders links graphics pipelines on worker threads so draws
	// behind a cold pipeline can be skipped instead of stalling.
	AsyncShaders bool

	Accuracy Accuracy

	// ShaderCacheRoot persists recompiled programs under
	// <root>/<title_id>/ when non-empty.
	ShaderCacheRoot string

	// TitleID namespaces the disk shader cache.
	TitleID uint64

	// CompileWorkers is the shared-context worker count for async
	// pipeline builds. Defaults to NumCPU+1 so one worker can block on
	// a driver link while the rest stay busy.
	CompileWorkers int
}

// Option overrides one field of [Settings] during [New] or
// [LoadSettings].
type Option func(*Settings)

// WithShaderBackend selects the recompiler output language.
func WithShaderBackend(lang host.ProgramLanguage) Option {
	return func(s *Settings) { s.Language = lang }
}

// WithAssemblyShaders toggles the NV assembly backend.
func WithAssemblyShaders(on bool) Option {
	return func(s *Settings) { s.AssemblyShaders = on }
}

// WithAsyncShaders toggles asynchronous pipeline builds.
func WithAsyncShaders(on bool) Option {
	return func(s *Settings) { s.AsyncShaders = on }
}

// WithAccuracy sets the accuracy level.
func WithAccuracy(a Accuracy) Option {
	return func(s *Settings) { s.Accuracy = a }
}

// WithShaderCacheRoot sets the on-disk shader cache directory.
func WithShaderCacheRoot(root string) Option {
	return func(s *Settings) { s.ShaderCacheRoot = root }
}

// WithTitleID namespaces the disk shader cache.
func WithTitleID(id uint64) Option {
	return func(s *Settings) { s.TitleID = id }
}

// WithCompileWorkers sets the async compile worker count.
func WithCompileWorkers(n int) Option {
	return func(s *Settings) { s.CompileWorkers = n }
}

// Environment variables read by LoadSettings.
const (
	envShaderBackend = "SHADER_BACKEND"           // GLSL | GLASM | SPIRV
	envAssembly      = "USE_ASSEMBLY_SHADERS"     // bool
	envAsync         = "USE_ASYNCHRONOUS_SHADERS" // bool
	envAccuracy      = "GPU_ACCURACY"             // normal | high | extreme
	envCacheRoot     = "SHADER_CACHE_ROOT"        // directory path
)

// LoadSettings builds Settings from a .env file (if present), the
// process environment, and finally the given options, in that order of
// increasing precedence.
func LoadSettings(opts ...Option) Settings {
	// Missing .env is the common case, not an error.
	_ = godotenv.Load()

	s := Settings{
		Language:       host.LanguageGLSL,
		CompileWorkers: runtime.NumCPU() + 1,
	}

	switch strings.ToUpper(os.Getenv(envShaderBackend)) {
	case "GLASM":
		s.Language = host.LanguageGLASM
	case "SPIRV":
		s.Language = host.LanguageSPIRV
	case "", "GLSL":
	}
	if envBool(envAssembly) {
		s.AssemblyShaders = true
		s.Language = host.LanguageGLASM
	}
	s.AsyncShaders = envBool(envAsync)
	switch strings.ToLower(os.Getenv(envAccuracy)) {
	case "high":
		s.Accuracy = AccuracyHigh
	case "extreme":
		s.Accuracy = AccuracyExtreme
	}
	s.ShaderCacheRoot = os.Getenv(envCacheRoot)

	for _, opt := range opts {
		opt(&s)
	}
	if s.CompileWorkers < 1 {
		s.CompileWorkers = 1
	}
	return s
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

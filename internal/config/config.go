package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full environment surface of the service, processed once at
// startup under the RELIEFD_ prefix.
type Config struct {
	Addr          string `envconfig:"ADDR" default:":8080"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`

	// Job storage. JobsDir holds meta/ (one JSON record per job) and work/
	// (per-job inputs/outputs trees).
	JobsDir      string `envconfig:"JOBS_DIR" default:"/data/hexforge3d/jobs/heightmap"`
	UploadTmpDir string `envconfig:"UPLOAD_TMP_DIR" default:"/tmp/hexforge-heightmap"`

	// Shared public output root and the URL prefix it is served under.
	AssetsDir       string `envconfig:"ASSETS_DIR" default:"/data/hexforge3d/assets"`
	AssetsURLPrefix string `envconfig:"ASSETS_URL_PREFIX" default:"/assets/"`

	// Geometry engine. EnginePython is the interpreter inside the engine's
	// own venv; its presence doubles as the readiness probe.
	EngineDir     string `envconfig:"ENGINE_DIR" default:"/data/hexforge3d"`
	EnginePython  string `envconfig:"ENGINE_PYTHON" default:"/data/hexforge3d/venv/bin/python"`
	EngineVersion string `envconfig:"ENGINE_VERSION" default:"hexforge3d@v1"`

	// Headless preview renderer.
	BlenderBin         string `envconfig:"BLENDER_BIN" default:"blender"`
	BlenderScript      string `envconfig:"BLENDER_SCRIPT" default:"/app/blender_scripts/render_previews.py"`
	BlenderTimeoutSecs int    `envconfig:"BLENDER_TIMEOUT_SECS" default:"180"`
	PreviewSize        int    `envconfig:"PREVIEW_SIZE" default:"900"`

	MaxConcurrentJobs int64 `envconfig:"MAX_CONCURRENT_JOBS" default:"4"`

	AuditDBPath string `envconfig:"AUDIT_DB_PATH" default:"reliefd.db"`

	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:5174"`
}

// Load processes the environment into a Config.
func Load() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("reliefd", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if cfg.BlenderTimeoutSecs <= 0 {
		return nil, fmt.Errorf("blender timeout must be positive, got %d", cfg.BlenderTimeoutSecs)
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 4
	}
	return cfg, nil
}

package runner

import (
	"os"
	"path/filepath"
	"time"
)

// Default configuration values applied by Config.applyDefaults when a field
// is left zero. Exported so callers can reference them relative to a custom
// override (e.g. 2*DefaultMaxTestDuration).
const (
	DefaultPollInterval  = 2 * time.Second
	DefaultFlushInterval = time.Second

	DefaultBootTimeout            = 3 * time.Minute
	DefaultEmulatorAcquireTimeout = 2 * time.Minute

	DefaultADBCommandTimeout     = 10 * time.Second
	DefaultADBHealthCheckTimeout = 5 * time.Second

	DefaultMaxTestDuration              = 10 * time.Minute
	DefaultAndroidOperationTimeout      = 30 * time.Second
	DefaultCodeStatementTimeout         = 10 * time.Second
	DefaultDNSLookupTimeout             = 3 * time.Second
	DefaultDNSCacheTTL                  = 30 * time.Second
	DefaultBlockedRequestLogDedupWindow = 60 * time.Second
)

// Unexported aliases used by config.go so a future default change only
// needs to touch the exported constant above.
const (
	defaultPollInterval                 = DefaultPollInterval
	defaultFlushInterval                = DefaultFlushInterval
	defaultBootTimeout                  = DefaultBootTimeout
	defaultEmulatorAcquireTimeout       = DefaultEmulatorAcquireTimeout
	defaultADBCommandTimeout            = DefaultADBCommandTimeout
	defaultADBHealthCheckTimeout        = DefaultADBHealthCheckTimeout
	defaultMaxTestDuration              = DefaultMaxTestDuration
	defaultAndroidOperationTimeout      = DefaultAndroidOperationTimeout
	defaultCodeStatementTimeout         = DefaultCodeStatementTimeout
	defaultDNSLookupTimeout             = DefaultDNSLookupTimeout
	defaultDNSCacheTTL                  = DefaultDNSCacheTTL
	defaultBlockedRequestLogDedupWindow = DefaultBlockedRequestLogDedupWindow
)

// defaultBaseDataDirName/defaultGoldenCacheDirName are the directory names
// used under os.TempDir() when Config leaves the corresponding path empty.
const (
	defaultBaseDataDirName    = "skytest-runner-emulators"
	defaultGoldenCacheDirName = "skytest-runner-golden"
	defaultUploadRootName     = "skytest-runner-uploads"
)

var (
	defaultBaseDataDir    = filepath.Join(os.TempDir(), defaultBaseDataDirName)
	defaultGoldenCacheDir = filepath.Join(os.TempDir(), defaultGoldenCacheDirName)
	defaultUploadRoot     = filepath.Join(os.TempDir(), defaultUploadRootName)
)

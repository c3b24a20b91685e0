package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/skytestlabs/runner/internal/adb"
	"github.com/skytestlabs/runner/internal/avdcache"
	"github.com/skytestlabs/runner/internal/emulator"
	"github.com/skytestlabs/runner/internal/fileutil"
	"github.com/skytestlabs/runner/internal/netutil"
	"github.com/skytestlabs/runner/internal/process"
)

// avdBuilder returns an avdcache.Builder that clones a profile's prebuilt
// AVD image tree (as configured in Config.AVDProfiles) into the golden
// cache directory. Building the golden snapshot is a plain directory copy:
// the actual "golden" work (accepting licenses, running avdmanager create)
// is expected to have produced sourceDirs[avdName] once, out of band.
func avdBuilder(sourceDirs map[string]string) avdcache.Builder {
	return func(_ context.Context, avdName, dir string) error {
		src, ok := sourceDirs[avdName]
		if !ok {
			return fmt.Errorf("runner: no source AVD directory configured for profile %q", avdName)
		}
		return fileutil.CopyDir(src, dir)
	}
}

// emulatorBootFactory builds an emulator.Factory that boots a real
// `emulator` subprocess per acquisition: ensure the golden snapshot exists,
// clone it into a fresh per-instance working directory, allocate a console
// and ADB port pair, launch the process under internal/process, and poll
// ADB health until the instance is responsive or the boot timeout expires.
func emulatorBootFactory(cfg Config, cache *avdcache.Cache, ports *netutil.PortRegistry, logger *slog.Logger) emulator.Factory {
	builder := avdBuilder(cfg.AVDProfiles)

	return func(ctx context.Context, avdName string, index int) (*emulator.Instance, error) {
		goldenDir, err := cache.EnsureGolden(ctx, avdName, builder)
		if err != nil {
			return nil, fmt.Errorf("runner: ensure golden avd for %q: %w", avdName, err)
		}

		id := fmt.Sprintf("%s-%d", avdName, index)
		workDir := filepath.Join(cfg.EmulatorPool.BaseDataDir, id)
		if err := fileutil.EnsureDir(filepath.Dir(workDir)); err != nil {
			return nil, fmt.Errorf("runner: prepare emulator work dir: %w", err)
		}
		if err := fileutil.CopyDir(goldenDir, workDir); err != nil {
			return nil, fmt.Errorf("runner: clone golden avd for %q: %w", avdName, err)
		}

		consolePort, adbPort, err := ports.AllocatePortPair()
		if err != nil {
			return nil, fmt.Errorf("runner: allocate emulator ports: %w", err)
		}
		releasePorts := func() {
			ports.Release(consolePort)
			ports.Release(adbPort)
		}

		proc := process.NewBaseProcess("emulator-"+id, logger)
		cmd := exec.CommandContext(ctx, cfg.EmulatorPool.EmulatorBinary,
			"-avd", avdName,
			"-port", strconv.Itoa(consolePort),
			"-no-window",
			"-no-audio",
			"-no-boot-anim",
			"-no-snapshot-save",
		)
		cmd.Env = append(cmd.Environ(), "ANDROID_AVD_HOME="+workDir)
		if err := proc.SetupAndStart(cmd, workDir); err != nil {
			releasePorts()
			return nil, fmt.Errorf("runner: start emulator process for %q: %w", avdName, err)
		}

		serial := fmt.Sprintf("emulator-%d", consolePort)
		device := adb.NewDevice(serial, adb.Options{
			Binary:             cfg.ADB.Binary,
			CommandTimeout:     cfg.ADB.CommandTimeout,
			Retries:            cfg.ADB.Retries,
			HealthCheckTimeout: cfg.ADB.HealthCheckTimeout,
			Logger:             logger,
		})

		waitErr := process.WaitReady(ctx, process.WaitReadyConfig{
			Interval:      2 * time.Second,
			Timeout:       cfg.EmulatorPool.BootTimeout,
			Name:          "emulator-" + id,
			Port:          adbPort,
			Logger:        logger,
			ProcessExited: proc.Exited(),
		}, func(waitCtx context.Context, _ int) (bool, error) {
			return device.HealthCheck(waitCtx), nil
		})
		if waitErr != nil {
			_ = proc.Stop(process.DefaultStopTimeout)
			proc.Close()
			releasePorts()
			return nil, fmt.Errorf("runner: boot emulator %q: %w", avdName, waitErr)
		}

		return emulator.NewInstance(id, avdName, &proc, device, consolePort, adbPort, serial, logger), nil
	}
}

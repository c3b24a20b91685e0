// Package runner wires together the execution control plane: the run
// queue, the Android device/emulator pool, the run executor, and the
// event bus, behind a single composition root.
//
// # Basic usage
//
//	repo, err := sqlite.Open("runner.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rnr, err := runner.New(runner.Config{
//	    Repository: repo,
//	    AVDProfiles: map[string]string{"pixel6-api33": "/avds/pixel6-api33"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rnr.Shutdown(ctx)
//
//	if err := rnr.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if err := rnr.Startup(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	rnr.Queue().Add(ctx, job)
//
// Instantiation is deliberately explicit: there is no package-level
// singleton constructed on import. Call New once per process and hold
// onto the returned *Runner; the queue, device manager, and event bus it
// wires are themselves process-wide singletons for the lifetime of that
// value.
package runner

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/banshee-data/sightline.report/internal/config"
	"github.com/banshee-data/sightline.report/internal/db"
	"github.com/banshee-data/sightline.report/internal/fsutil"
	"github.com/banshee-data/sightline.report/internal/monitoring"
	"github.com/banshee-data/sightline.report/internal/timeutil"
	"github.com/banshee-data/sightline.report/internal/version"
	"github.com/banshee-data/sightline.report/internal/vision/detect"
	"github.com/banshee-data/sightline.report/internal/vision/monitor"
	"github.com/banshee-data/sightline.report/internal/vision/pipeline"
	"github.com/banshee-data/sightline.report/internal/vision/savepolicy"
	"github.com/banshee-data/sightline.report/internal/vision/scenes"
	"github.com/banshee-data/sightline.report/internal/vision/snapshot"
	"github.com/banshee-data/sightline.report/internal/vision/storage/sqlite"
	"github.com/banshee-data/sightline.report/internal/vision/tracks"
)

const defaultDBPath = "sightline.db"

var (
	devMode       = flag.Bool("dev", false, "Replay detections from -fixtures against synthetic frames")
	listen        = flag.String("listen", ":8080", "Listen address")
	dbPath        = flag.String("db-path", defaultDBPath, "Path to the scene database")
	snapshotDir   = flag.String("snapshot-dir", "snapshots", "Directory for saved frames")
	configPath    = flag.String("config", "", "Tuning config JSON (defaults to config/tuning.defaults.json)")
	fixtures      = flag.String("fixtures", "fixtures/detections.jsonl", "Detection fixtures used in dev mode")
	frameInterval = flag.Duration("frame-interval", 200*time.Millisecond, "Interval between synthetic frames")
	frameWidth    = flag.Int("frame-width", 1280, "Synthetic frame width")
	frameHeight   = flag.Int("frame-height", 720, "Synthetic frame height")
	logLevel      = flag.String("log-level", "diag", "Pipeline log streams to enable: ops, diag or trace")
	plotDir       = flag.String("plot-dir", "", "Write throughput plots to this directory on shutdown")
	useGPU        = flag.Bool("gpu", false, "Run detection on the GPU when the detector supports it")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

// exitLockTimeout is the exit status after a tracking lock timeout so a
// supervisor can tell a wedged pipeline from an ordinary failure.
const exitLockTimeout = 3

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			path := defaultDBPath
			if v := os.Getenv("SIGHTLINE_DB_PATH"); v != "" {
				path = v
			}
			if err := db.RunMigrateCommand(os.Args[2:], path, os.Stdout); err != nil {
				log.Fatalf("migrate: %v", err)
			}
			return
		case "status":
			if err := runStatus(os.Args[2:], os.Stdout); err != nil {
				log.Fatalf("status: %v", err)
			}
			return
		}
	}

	flag.Parse()
	if err := applyEnvOverrides(flag.CommandLine, os.Getenv); err != nil {
		log.Fatalf("environment: %v", err)
	}

	if *showVersion {
		fmt.Println(version.Current())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	if err := run(); err != nil {
		if errors.Is(err, pipeline.ErrTrackingLockTimeout) {
			log.Printf("fatal: %v", err)
			os.Exit(exitLockTimeout)
		}
		log.Fatalf("fatal: %v", err)
	}
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.MustLoadDefaultConfig(), nil
	}
	cfg, err := config.LoadTuningConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load tuning config: %w", err)
	}
	return cfg, nil
}

func run() error {
	closeLogs, err := configureLogging(*logLevel, os.Getenv("SIGHTLINE_DEBUG_LOG"))
	if err != nil {
		return err
	}
	defer closeLogs()

	log.Printf("starting %s", version.Current())

	tuning, err := loadTuning(*configPath)
	if err != nil {
		return err
	}

	if !*devMode {
		return fmt.Errorf("no camera backend is built in; run with -dev and -fixtures")
	}
	detector, err := detect.LoadReplayDetector(*fixtures)
	if err != nil {
		return err
	}
	log.Printf("replaying %d fixture frames from %s", detector.Len(), *fixtures)
	log.Printf("detector: %s", detect.Describe(detector))
	if err := detect.ConfigureGPU(detector, *useGPU); err != nil {
		log.Printf("GPU unavailable, detecting on the CPU: %v", err)
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	sceneStore := sqlite.NewSceneStore(database.DB)
	frameLog := sqlite.NewFrameLog(database.DB)

	clock := timeutil.RealClock{}
	snapCfg := snapshot.ConfigFromTuning(tuning, *snapshotDir)
	snapCfg.Clock = clock
	writer, err := snapshot.NewWriter(snapCfg, fsutil.OSFileSystem{}, frameLog)
	if err != nil {
		return err
	}
	summary := pipeline.NewDetectionSummary(clock, pipeline.LogEventSink{})

	sys := monitoring.NewSystemMonitor(monitoring.SystemConfigFromTuning(tuning), *snapshotDir, clock)
	sys.Check()
	perf := monitoring.NewPerformanceMonitor(monitoring.PerfConfigFromTuning(tuning), clock)

	pcfg := pipeline.ConfigFromTuning(tuning)
	proc, err := pipeline.NewProcessor(pcfg, pipeline.Components{
		Detector: detector,
		Filter:   detect.FilterFromTuning(tuning),
		Tracker:  tracks.NewTracker(tracks.TrackerConfigFromTuning(tuning)),
		Policy:   savepolicy.NewPolicy(savepolicy.ConfigFromTuning(tuning)),
		Trigger:  scenes.TriggerFromTuning(tuning),
		Matcher:  scenes.NewMatcher(scenes.MatcherConfigFromTuning(tuning), sceneStore),
		Events:   summary,
		Saves:    writer,
		Advisor:  sys,
		Perf:     perf,
		Clock:    clock,
	})
	if err != nil {
		return err
	}
	sched := pipeline.NewScheduler(pcfg, proc)
	plotter := monitor.NewThroughputPlotter(sched, clock, time.Second, monitor.DefaultMaxSamples)

	web, err := monitor.NewWebServer(monitor.WebServerConfig{
		Address:  *listen,
		Stats:    sched,
		Perf:     perf,
		System:   sys,
		Scenes:   sceneStore,
		Frames:   frameLog,
		Tracking: proc,
		Summary:  summary,
		Plotter:  plotter,
		DB:       database,
		Clock:    clock,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Supporting routines outlive the pipeline so the queue can drain while
	// the web server still reports progress.
	auxCtx, cancelAux := context.WithCancel(context.Background())
	defer cancelAux()

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error, onErr func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(auxCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("%s failed: %v", name, err)
				if onErr != nil {
					onErr()
				}
			}
			log.Printf("%s routine terminated", name)
		}()
	}
	spawn("system monitor", sys.Run, nil)
	spawn("throughput plotter", plotter.Run, nil)
	spawn("performance report", func(ctx context.Context) error {
		return runPeriodic(ctx, clock, tuning.GetReportInterval(), perf.Report)
	}, nil)
	spawn("detection summary", func(ctx context.Context) error {
		return runPeriodic(ctx, clock, tuning.GetSummaryInterval(), summary.FlushPeriod)
	}, nil)
	spawn("web server", web.Start, stop)

	runErr := make(chan error, 1)
	go func() { runErr <- sched.Run(context.Background()) }()
	srcDone := make(chan error, 1)
	go func() {
		srcDone <- pipeline.RunSyntheticSource(ctx, sched, clock, *frameInterval, *frameWidth, *frameHeight)
	}()

	select {
	case err = <-runErr:
		stop()
		<-srcDone
		sched.Close()
	case <-srcDone:
		log.Print("shutting down, waiting for the frame queue")
		sched.Close()
		err = <-runErr
	}

	cancelAux()
	wg.Wait()
	perf.Report()
	summary.LogTotal()
	log.Printf("pipeline: %+v", sched.Stats())

	if *plotDir != "" {
		n, perr := plotter.GeneratePlots(fsutil.OSFileSystem{}, *plotDir)
		if perr != nil {
			log.Printf("failed to write plots: %v", perr)
		} else {
			log.Printf("wrote %d plots to %s", n, *plotDir)
		}
	}
	return err
}

// runPeriodic calls fn every interval until ctx is done.
func runPeriodic(ctx context.Context, clock timeutil.Clock, interval time.Duration, fn func()) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			fn()
		}
	}
}

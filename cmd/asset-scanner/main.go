package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/asset-scanner/internal/camera"
	"github.com/zombor/asset-scanner/internal/decode"
	"github.com/zombor/asset-scanner/internal/feedback"
	"github.com/zombor/asset-scanner/internal/httpapi"
	"github.com/zombor/asset-scanner/internal/inventory"
	"github.com/zombor/asset-scanner/internal/scanner"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

const maxFrameWidth = 1280

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("asset-scanner")
	var (
		port               = fs.IntLong("port", 8080, "HTTP server port")
		dbPath             = fs.StringLong("db", "asset-scanner.db", "Inventory database file path")
		cameraType         = fs.StringLong("camera", "v4l2", "Camera driver: 'v4l2' or 'replay'")
		deviceEnvironment  = fs.StringLong("device-environment", "/dev/video0", "V4L2 device for the environment-facing camera")
		deviceUser         = fs.StringLong("device-user", "/dev/video1", "V4L2 device for the user-facing camera")
		replayDir          = fs.StringLong("replay-dir", "./frames", "Directory of still frames for the replay camera")
		replayInterval     = fs.DurationLong("replay-interval", 200*time.Millisecond, "Replay frame cadence")
		facingName         = fs.StringLong("facing", "environment", "Default facing mode: 'environment' or 'user'")
		initialDelay       = fs.DurationLong("initial-delay", 150*time.Millisecond, "Delay before the first detection tick")
		interval           = fs.DurationLong("interval", 400*time.Millisecond, "Detection tick interval")
		priorityList       = fs.StringLong("priority", "canvas,hardware", "Tick backend priority (canvas, hardware, ocr)")
		canvasBudget       = fs.IntLong("canvas-budget", len(decode.DefaultAttempts()), "Maximum canvas decode attempts per tick")
		hardwareType       = fs.StringLong("hardware", "zxing", "Multi-symbology detector: 'zxing' or 'none'")
		continuousType     = fs.StringLong("continuous", "goqr", "Continuous decoder: 'goqr' or 'none'")
		continuousInterval = fs.DurationLong("continuous-interval", 250*time.Millisecond, "Continuous decoder scan cadence")
		continuousLiveness = fs.DurationLong("continuous-liveness", 0, "How long a quiet continuous decoder keeps tick backends suspended (0 runs all backends)")
		closeAfterMatch    = fs.BoolLong("close-after-match", "Close the session after a confirmed match")
		noBell             = fs.BoolLong("no-bell", "Disable the terminal bell on a match")
		flashDuration      = fs.DurationLong("flash", 300*time.Millisecond, "Match flash duration on the preview")
		authUser           = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass           = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel           = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		showVersion        = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("ASSET_SCANNER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	facing, err := camera.ParseFacing(*facingName)
	if err != nil {
		slog.Error("Invalid facing mode", "error", err)
		os.Exit(1)
	}
	priority, err := decode.ParsePriority(*priorityList)
	if err != nil {
		slog.Error("Invalid backend priority", "error", err)
		os.Exit(1)
	}

	// Initialize inventory
	slog.Info("Initializing database...", "path", *dbPath)
	store, err := inventory.NewBoltStore(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	assets := inventory.NewService(store)

	// Initialize camera
	var driver camera.Driver
	switch *cameraType {
	case "v4l2":
		slog.Info("Using V4L2 camera", "environment", *deviceEnvironment, "user", *deviceUser)
		driver = camera.NewV4L2Driver(map[camera.Facing]string{
			camera.FacingEnvironment: *deviceEnvironment,
			camera.FacingUser:        *deviceUser,
		}, maxFrameWidth)
	case "replay":
		slog.Info("Using replay camera", "dir", *replayDir, "interval", *replayInterval)
		driver = camera.NewReplayDriver(*replayDir, *replayInterval)
	default:
		slog.Error("Invalid camera type", "type", *cameraType, "valid", "v4l2 or replay")
		os.Exit(1)
	}

	// Initialize backends
	canvas := decode.NewCanvas(decode.NewZXingQR(), decode.WithAttemptBudget(*canvasBudget))

	var detector decode.Detector
	switch *hardwareType {
	case "zxing":
		detector = decode.NewZXingMulti()
	case "none":
		detector = decode.NoDetector{}
	default:
		slog.Error("Invalid hardware detector", "type", *hardwareType, "valid", "zxing or none")
		os.Exit(1)
	}
	hardware := decode.NewHardware(detector)

	var stream decode.StreamDecoder
	switch *continuousType {
	case "goqr":
		stream = decode.NewGoQRStream(*continuousInterval, *interval)
	case "none":
	default:
		slog.Error("Invalid continuous decoder", "type", *continuousType, "valid", "goqr or none")
		os.Exit(1)
	}
	continuous := decode.NewContinuous(stream)

	deps := scanner.Deps{
		Camera:     camera.NewController(driver),
		Canvas:     canvas,
		Hardware:   hardware,
		Continuous: continuous,
		Rows:       assets,
	}

	if slices.Contains(priority, decode.SourceOCR) {
		reader, err := decode.NewTesseract("eng")
		if err != nil {
			slog.Warn("OCR unavailable, skipping", "error", err)
		} else {
			ocr := decode.NewOCR(reader)
			defer ocr.Close()
			deps.OCR = ocr
		}
	}

	// Initialize feedback
	overlay := feedback.NewOverlay(*flashDuration)
	var tone feedback.Tone
	if !*noBell {
		tone = &feedback.Bell{W: os.Stderr}
	}
	deps.Feedback = feedback.New(tone, overlay)
	deps.Overlay = overlay

	engine := scanner.New(scanner.Config{
		InitialDelay:       *initialDelay,
		Interval:           *interval,
		Priority:           priority,
		CloseAfterMatch:    *closeAfterMatch,
		ContinuousLiveness: *continuousLiveness,
		DefaultFacing:      facing,
	}, deps)

	// Initialize server
	basicAuth := httpapi.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := httpapi.NewServer(engine, assets, basicAuth)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Probe off the request path so the first tick doesn't pay for it
		if !hardware.Available(ctx) {
			slog.Info("Hardware detector disabled", "type", *hardwareType)
		}
		return nil
	})
	g.Go(func() error {
		return engine.Run(ctx)
	})
	g.Go(func() error {
		return server.Serve(ctx, fmt.Sprintf(":%d", *port))
	})

	if err := g.Wait(); err != nil {
		slog.Error("Shutting down with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shut down cleanly")
}

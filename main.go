package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"tilepyramid/internal/cleanup"
	"tilepyramid/internal/config"
	"tilepyramid/internal/conversion"
	"tilepyramid/internal/manager"
	"tilepyramid/internal/tileid"
	"tilepyramid/pkg/geotiff"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == conversion.WorkerFlag {
		conversion.RunWorker(os.Stdin, os.Stdout)
		return
	}

	root := flag.String("root", "", "tile store root (defaults to the platform config.Root())")
	noCleanup := flag.Bool("no-cleanup", false, "skip the cleanup sweep regardless of config")
	cleanupAge := flag.Int("cleanup-age", 0, "override cleanupAgeDays for this run (0 uses config)")
	fastCleanup := flag.Bool("fast-cleanup", false, "run the cleanup sweep immediately instead of waiting for shutdown")
	exportGeotiff := flag.String("export-geotiff", "", "debug: dynamic:<generator> media id to render one overview tile as a GeoTIFF")
	exportOut := flag.String("export-out", "overview.tif", "output path for -export-geotiff")
	flag.Parse()

	if *root == "" {
		*root = config.Root()
	}
	if err := os.MkdirAll(*root, 0o755); err != nil {
		log.Fatalf("create tile store root: %v", err)
	}

	logPath := filepath.Join(*root, "debug.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Fatalf("open log file: %v", err)
	}
	defer logFile.Close()
	log.SetOutput(logFile)
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("=== Tile Pyramid Engine Started ===")
	log.Printf("store root: %s", *root)

	cfg, err := config.Load(*root)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *cleanupAge > 0 {
		cfg.CleanupAgeDays = *cleanupAge
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	m, err := manager.NewFromRoot(*root)
	if err != nil {
		log.Fatalf("open tile store: %v", err)
	}
	m.Init(manager.Config{
		CacheTotalBytes:   cfg.CacheTotalBytes,
		PermanentFraction: cfg.PermanentFraction,
		AutoCleanup:       cfg.AutoCleanup,
		CleanupAgeDays:    cfg.CleanupAgeDays,
		ShutdownTimeout:   10 * time.Second,
	})
	defer func() {
		if !*noCleanup && cfg.AutoCleanup && cfg.CleanupOnShutdown && !*fastCleanup {
			runStartupCleanup(m, cfg)
		}
		m.Shutdown()
	}()

	if *exportGeotiff != "" {
		if err := runExportGeotiff(m, *exportGeotiff, *exportOut); err != nil {
			log.Fatalf("export geotiff: %v", err)
		}
		fmt.Printf("wrote %s\n", *exportOut)
		return
	}

	if !*noCleanup && cfg.AutoCleanup && *fastCleanup {
		runStartupCleanup(m, cfg)
	}

	fmt.Println("tile pyramid engine initialized at", *root)
	fmt.Println("run with -export-geotiff dynamic:graticule to render a debug tile")
}

func runStartupCleanup(m *manager.Manager, cfg *config.Config) {
	report, err := cleanup.Sweep(context.Background(), m.Store(), cleanup.Options{
		MaxAge:       time.Duration(cfg.CleanupAgeDays) * 24 * time.Hour,
		CollectStats: cfg.CollectCleanupStats,
	})
	if err != nil {
		log.Printf("cleanup sweep error: %v", err)
	}
	log.Printf("cleanup sweep: deleted=%d kept=%d freed_bytes=%d", report.DeletedMediaCount, report.KeptMediaCount, report.FreedBytes)
}

func runExportGeotiff(m *manager.Manager, mediaID, out string) error {
	id := tileid.New(mediaID, 0, 0, 0)
	m.Request(id)

	deadline := time.Now().Add(5 * time.Second)
	for {
		t, err := m.Peek(id)
		if err == nil {
			return geotiff.EncodeTileFile(out, t, id)
		}
		if err == manager.ErrNotTiled {
			return fmt.Errorf("peek %s: %w", id, err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("peek %s: timed out waiting for load", id)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

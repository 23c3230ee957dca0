package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-comply/internal/aiclient"
	"github.com/technosupport/ts-comply/internal/api"
	"github.com/technosupport/ts-comply/internal/archive"
	"github.com/technosupport/ts-comply/internal/checklist"
	"github.com/technosupport/ts-comply/internal/config"
	"github.com/technosupport/ts-comply/internal/detect"
	"github.com/technosupport/ts-comply/internal/events"
	"github.com/technosupport/ts-comply/internal/gpu"
	"github.com/technosupport/ts-comply/internal/media"
	"github.com/technosupport/ts-comply/internal/pipeline"
	"github.com/technosupport/ts-comply/internal/report"
	"github.com/technosupport/ts-comply/internal/speech"
	"github.com/technosupport/ts-comply/internal/tokens"
	"github.com/technosupport/ts-comply/internal/vlm"
)

const streamTokenTTL = 15 * time.Minute

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("[ERROR] Config: %v", err)
	}

	tools := media.DefaultTools()

	usage := aiclient.NewUsageTracker()
	visionClient := aiclient.New(aiclient.Config{
		BaseURL:   cfg.AI.BaseURL,
		APIKey:    cfg.AI.APIKey,
		Model:     cfg.AI.VisionModel,
		PerMinute: cfg.AI.MaxPerMinute,
		PerHour:   cfg.AI.MaxPerHour,
	}, usage)
	evalClient := aiclient.New(aiclient.Config{
		BaseURL:   cfg.AI.BaseURL,
		APIKey:    cfg.AI.APIKey,
		Model:     cfg.AI.EvaluatorModel,
		PerMinute: cfg.AI.MaxPerMinute,
		PerHour:   cfg.AI.MaxPerHour,
	}, usage)
	transcriber := speech.NewTranscriber(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.SpeechModel, tools, usage)

	// Checklist state: Redis when configured, else a JSON file.
	var store checklist.Store
	var redisPinger api.Pinger
	if cfg.Storage.RedisAddr != "" {
		rs := checklist.NewRedisStore(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB)
		if err := rs.Ping(context.Background()); err != nil {
			log.Fatalf("[ERROR] Redis: %v", err)
		}
		store = rs
		redisPinger = rs
		log.Printf("[INFO] Checklist state in Redis at %s", cfg.Storage.RedisAddr)
	} else {
		store = checklist.NewFileStore(cfg.Storage.ChecklistPath)
		log.Printf("[INFO] Checklist state in %s", cfg.Storage.ChecklistPath)
	}
	tracker := checklist.NewTracker(store)

	// Report archive needs Postgres; without a DSN the endpoints 501.
	var reportArchive *archive.Service
	if cfg.Storage.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.Storage.PostgresDSN)
		if err != nil {
			log.Fatalf("[ERROR] Postgres open: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Fatalf("[ERROR] Postgres ping: %v", err)
		}
		defer db.Close()
		reportArchive = archive.NewService(db)
		log.Printf("[INFO] Report archive enabled")
	}

	// Incident events over NATS, best-effort.
	var publisher *events.Publisher
	if cfg.Storage.NATSURL != "" {
		nc, err := nats.Connect(cfg.Storage.NATSURL, nats.Name("ts-comply"))
		if err != nil {
			log.Printf("[WARN] NATS connect failed: %v. Incident events disabled.", err)
		} else {
			defer nc.Close()
			publisher = events.NewPublisher(nc, cfg.Storage.NATSSubject, 3)
			log.Printf("[INFO] Publishing incidents to %s", cfg.Storage.NATSSubject)
		}
	}

	var gpuAnalyzer *gpu.Analyzer
	var gpuProbe *gpu.HealthProbe
	if cfg.GPU.ProxyURL != "" {
		gpuAnalyzer = gpu.NewAnalyzer(cfg.GPU.ProxyURL, cfg.GPU.ModelID, tools)
		gpuProbe = gpu.NewHealthProbe(cfg.GPU.ProxyURL)
	}

	detectOpts := detect.Options{
		ChangeThreshold:   cfg.Detector.ChangeThreshold,
		MinChangeInterval: cfg.Detector.MinChangeInterval,
		MaxGap:            cfg.Detector.MaxGap,
		SampleInterval:    cfg.Detector.SampleInterval,
	}
	orch := pipeline.New(tools,
		vlm.NewObserver(visionClient), vlm.NewEvaluator(evalClient),
		transcriber, speech.NewEvaluator(evalClient),
		gpuAnalyzer, report.NewReconciler(tracker),
		pipeline.Options{
			KeyframesRoot:   cfg.Storage.KeyframesDir,
			MaxWebcamFrames: cfg.Detector.MaxWebcamFrames,
			Detect:          detectOpts,
		})

	analyzeHandler := api.NewAnalyzeHandler(orch, transcriber,
		cfg.Server.UploadDir, cfg.Server.MaxUploadMB<<20)
	analyzeHandler.Archive = reportArchive
	analyzeHandler.Events = publisher

	router := api.NewRouter(api.Handlers{
		Analyze:   analyzeHandler,
		Checklist: api.NewChecklistHandler(tracker),
		System: &api.SystemHandler{
			Usage:    usage,
			GPUProbe: gpuProbe,
			Redis:    redisPinger,
			Archive:  reportArchive,
		},
		Ws: api.NewWsHandler(
			tokens.NewManager(cfg.Server.JWTSigningKey, streamTokenTTL),
			orch, detectOpts),
	})

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[INFO] Listening on %s", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[ERROR] HTTP server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("[ERROR] Shutdown: %v", err)
	}
	log.Printf("[INFO] Server stopped")
}

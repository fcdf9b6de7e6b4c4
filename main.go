package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"diffusion_sweeper/artifact_mirror"
	"diffusion_sweeper/composite_renderer"
	"diffusion_sweeper/config"
	"diffusion_sweeper/databases/sqlite"
	"diffusion_sweeper/discord_notifier"
	"diffusion_sweeper/locks"
	"diffusion_sweeper/metrics"
	"diffusion_sweeper/repositories/fingerprint_index"
	"diffusion_sweeper/repositories/image_generations"
	"diffusion_sweeper/run_directories"
	"diffusion_sweeper/seed_sweep"
	"diffusion_sweeper/settings_loader"
	"diffusion_sweeper/stable_diffusion_api"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}

	// flags override the environment
	flag.StringVar(&cfg.Paths.OutputsDir, "outputs", cfg.Paths.OutputsDir, "Root directory for run directories")
	flag.StringVar(&cfg.Paths.ConfigsDir, "configs", cfg.Paths.ConfigsDir, "Directory holding the settings document and prompt")
	flag.StringVar(&cfg.Paths.ConfigFile, "config", cfg.Paths.ConfigFile, "Settings document inside the configs directory")
	flag.StringVar(&cfg.StableDiffusion.Host, "host", cfg.StableDiffusion.Host, "Host for the Automatic1111 API")
	flag.StringVar(&cfg.Sweep.FailurePolicy, "on-failure", cfg.Sweep.FailurePolicy, "What to do when a seed fails: continue or abort")
	flag.BoolVar(&cfg.Sweep.SkipExisting, "skip-existing", cfg.Sweep.SkipExisting, "Do not regenerate images already on disk")
	flag.StringVar(&cfg.Sweep.LoRAName, "lora", cfg.Sweep.LoRAName, "LoRA added to the prompt when the settings enable lora")
	flag.BoolVar(&cfg.Sweep.ContactSheet, "contact-sheet", cfg.Sweep.ContactSheet, "Render a contact sheet of the sweep")
	flag.BoolVar(&cfg.Index.Enable, "index", cfg.Index.Enable, "Keep a sqlite fingerprint index next to the run directories")
	flag.StringVar(&cfg.MetricsTextfile, "metrics-textfile", cfg.MetricsTextfile, "Write Prometheus metrics to this file when done")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, cfg))
}

func run(ctx context.Context, cfg *config.Config) int {
	settings, err := settings_loader.Load(settings_loader.Config{
		ConfigsDir: cfg.Paths.ConfigsDir,
		ConfigFile: cfg.Paths.ConfigFile,
		PromptFile: cfg.Paths.PromptFile,
	})
	if err != nil {
		log.Printf("configuration: %v", err)
		return 1
	}

	policy, err := seed_sweep.ParseFailurePolicy(cfg.Sweep.FailurePolicy)
	if err != nil {
		log.Printf("configuration: %v", err)
		return 1
	}

	var (
		index          fingerprint_index.Repository
		generationRepo image_generations.Repository
	)

	if cfg.Index.Enable {
		dbPath := cfg.Index.Path
		if dbPath == "" {
			dbPath = filepath.Join(cfg.Paths.OutputsDir, sqlite.DefaultDBFile)
		}

		sqliteDB, err := sqlite.New(ctx, dbPath)
		if err != nil {
			log.Printf("index: %v", err)
			return 1
		}
		defer sqliteDB.Close()

		index, err = fingerprint_index.NewRepository(&fingerprint_index.Config{DB: sqliteDB})
		if err != nil {
			log.Printf("index: %v", err)
			return 1
		}

		generationRepo, err = image_generations.NewRepository(&image_generations.Config{DB: sqliteDB})
		if err != nil {
			log.Printf("index: %v", err)
			return 1
		}
	}

	locker, err := newLocker(cfg.Redis)
	if err != nil {
		log.Printf("lock: %v", err)
		return 1
	}

	resolver, err := run_directories.New(run_directories.Config{
		Root:        cfg.Paths.OutputsDir,
		Locker:      locker,
		Index:       index,
		ScanWorkers: cfg.Sweep.ScanWorkers,
	})
	if err != nil {
		log.Printf("run directory: %v", err)
		return 1
	}

	runDirectory, err := resolver.ResolveOrCreate(ctx, settings.Generation)
	if err != nil {
		log.Printf("run directory: %v", err)
		return 1
	}

	stableDiffusionAPI, err := stable_diffusion_api.New(stable_diffusion_api.Config{
		Host:    cfg.StableDiffusion.Host,
		Timeout: cfg.StableDiffusion.Timeout,
	})
	if err != nil {
		log.Printf("synthesis: %v", err)
		return 1
	}

	var mirror artifact_mirror.Mirror

	if cfg.S3.Bucket != "" {
		mirror, err = artifact_mirror.New(ctx, artifact_mirror.Config{
			Bucket:          cfg.S3.Bucket,
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Prefix:          cfg.S3.Prefix,
		})
		if err != nil {
			log.Printf("mirror: %v", err)
			return 1
		}
	}

	var renderer composite_renderer.Renderer

	if cfg.Sweep.ContactSheet {
		renderer, err = composite_renderer.New(composite_renderer.Config{})
		if err != nil {
			log.Printf("contact sheet: %v", err)
			return 1
		}
	}

	driver, err := seed_sweep.New(seed_sweep.Config{
		StableDiffusionAPI:  stableDiffusionAPI,
		ImageGenerationRepo: generationRepo,
		Mirror:              mirror,
		CompositeRenderer:   renderer,
		FailurePolicy:       policy,
		SkipExisting:        cfg.Sweep.SkipExisting,
		LoRAName:            cfg.Sweep.LoRAName,
		LoRAStrength:        cfg.Sweep.LoRAStrength,
		ProgressInterval:    cfg.StableDiffusion.ProgressInterval,
	})
	if err != nil {
		log.Printf("synthesis: %v", err)
		return 1
	}

	report, err := driver.Run(ctx, &seed_sweep.Job{
		SweepID:      uuid.NewString(),
		Config:       settings.Generation,
		Params:       settings.Params,
		Seeds:        settings.Seeds,
		RunDirectory: runDirectory,
	})
	if report == nil {
		log.Printf("synthesis: %v", err)
		return 1
	}

	if err != nil {
		log.Printf("synthesis: %v", err)
	}

	notify(cfg.Discord, report)

	if cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
			log.Printf("Error writing metrics: %v", err)
		}
	}

	if err != nil || report.Err() != nil {
		log.Printf("synthesis: seeds failed: %v", report.FailedSeeds())
		return 1
	}

	return 0
}

func newLocker(cfg config.RedisConfig) (locks.Locker, error) {
	if cfg.Addr == "" {
		return locks.NewFileLocker(locks.FileConfig{}), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return locks.NewRedisLocker(locks.RedisConfig{
		Client: client,
		TTL:    cfg.LockTTL,
	})
}

func notify(cfg config.DiscordConfig, report *seed_sweep.Report) {
	if cfg.BotToken == "" {
		return
	}

	notifier, err := discord_notifier.New(discord_notifier.Config{
		BotToken:  cfg.BotToken,
		ChannelID: cfg.ChannelID,
	})
	if err != nil {
		log.Printf("Error creating Discord notifier: %v", err)
		return
	}

	if err := notifier.Notify(report.Summary()); err != nil {
		log.Printf("Error sending Discord notification: %v", err)
	}
}

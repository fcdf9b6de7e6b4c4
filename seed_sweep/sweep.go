package seed_sweep

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"diffusion_sweeper/artifact_mirror"
	"diffusion_sweeper/atomic_file"
	"diffusion_sweeper/clock"
	"diffusion_sweeper/composite_renderer"
	"diffusion_sweeper/entities"
	"diffusion_sweeper/fingerprint"
	"diffusion_sweeper/metrics"
	"diffusion_sweeper/png_info_extractor"
	"diffusion_sweeper/repositories/image_generations"
	"diffusion_sweeper/stable_diffusion_api"
)

type FailurePolicy string

const (
	// FailurePolicyContinue records a failed seed and moves on.
	FailurePolicyContinue FailurePolicy = "continue"
	// FailurePolicyAbort stops the sweep at the first failed seed.
	FailurePolicyAbort FailurePolicy = "abort"
)

const (
	imageContentType = "image/png"

	maxContactSheetImages = 64

	defaultLoRAStrength = 1.0
)

func ImageFileName(seed int64) string {
	return fmt.Sprintf("image_seed_%d.png", seed)
}

// ContactSheetFileName names the sheet of one parameter folder. It lives in
// the run directory so the parameter folder holds nothing but seed images.
func ContactSheetFileName(paramsDirName string) string {
	return paramsDirName + "_contact_sheet.png"
}

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailurePolicyContinue:
		return FailurePolicyContinue, nil
	case FailurePolicyAbort:
		return FailurePolicyAbort, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q, want %q or %q", s, FailurePolicyContinue, FailurePolicyAbort)
	}
}

type driverImpl struct {
	stableDiffusionAPI  stable_diffusion_api.StableDiffusionAPI
	imageGenerationRepo image_generations.Repository
	mirror              artifact_mirror.Mirror
	compositeRenderer   composite_renderer.Renderer
	failurePolicy       FailurePolicy
	skipExisting        bool
	loraName            string
	loraStrength        float64
	progressInterval    time.Duration
	clock               clock.Clock
	logger              *log.Logger
}

type Config struct {
	StableDiffusionAPI stable_diffusion_api.StableDiffusionAPI
	// Optional collaborators; nil disables the feature.
	ImageGenerationRepo image_generations.Repository
	Mirror              artifact_mirror.Mirror
	CompositeRenderer   composite_renderer.Renderer

	FailurePolicy FailurePolicy
	// SkipExisting leaves seeds whose image is already on disk alone.
	SkipExisting bool
	// LoRAName is the network added to the prompt as <lora:name:strength>
	// for configs with lora enabled.
	LoRAName     string
	LoRAStrength float64
	// ProgressInterval is how often the service's progress is logged while a
	// seed is generating. Zero disables polling.
	ProgressInterval time.Duration
	Clock            clock.Clock
	Logger           *log.Logger
}

func New(cfg Config) (Driver, error) {
	if cfg.StableDiffusionAPI == nil {
		return nil, errors.New("missing stable diffusion API")
	}

	policy, err := ParseFailurePolicy(string(cfg.FailurePolicy))
	if err != nil {
		return nil, err
	}

	if cfg.LoRAStrength <= 0 {
		cfg.LoRAStrength = defaultLoRAStrength
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}

	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &driverImpl{
		stableDiffusionAPI:  cfg.StableDiffusionAPI,
		imageGenerationRepo: cfg.ImageGenerationRepo,
		mirror:              cfg.Mirror,
		compositeRenderer:   cfg.CompositeRenderer,
		failurePolicy:       policy,
		skipExisting:        cfg.SkipExisting,
		loraName:            cfg.LoRAName,
		loraStrength:        cfg.LoRAStrength,
		progressInterval:    cfg.ProgressInterval,
		clock:               cfg.Clock,
		logger:              cfg.Logger,
	}, nil
}

func (d *driverImpl) Run(ctx context.Context, job *Job) (*Report, error) {
	if job == nil || job.RunDirectory == nil {
		return nil, errors.New("missing job run directory")
	}

	if job.Config.LoRA && d.loraName == "" {
		return nil, errors.New("lora is enabled but no LoRA name is configured")
	}

	outputDir := filepath.Join(job.RunDirectory.Path, job.Params.ParamsDirName())

	report := &Report{
		SweepID:   job.SweepID,
		OutputDir: outputDir,
		Written:   make([]Artifact, 0, len(job.Seeds)),
		Skipped:   make([]int64, 0),
		Failures:  make([]*SynthesisError, 0),
		StartedAt: d.clock.Now(),
		job:       job,
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", outputDir, err)
	}

	d.logger.Printf("Sweep %s: %d seeds into %s (model %s, lora=%v, tiling=%v, slicing=%v, cpu offload=%v, safety checker=%v, attention slicing=%v)\n",
		job.SweepID, len(job.Seeds), outputDir, job.Config.ModelID, job.Config.LoRA, job.Config.EnableTiling,
		job.Config.EnableSlicing, job.Config.EnableSequentialCPUOffload, job.Config.SafetyChecker,
		job.Config.EnableAttentionSlicing)

	d.mirrorSnapshot(ctx, job)

	var runErr error

	for _, seed := range job.Seeds {
		if err := ctx.Err(); err != nil {
			report.Aborted = true
			runErr = err

			break
		}

		artifact, skipped, err := d.processSeed(ctx, job, outputDir, seed)

		if err != nil && ctx.Err() != nil {
			// cancelled mid-request; the seed itself did not fail
			report.Aborted = true
			runErr = ctx.Err()

			break
		}

		if err != nil {
			var synthErr *SynthesisError
			if !errors.As(err, &synthErr) {
				synthErr = &SynthesisError{Seed: seed, Stage: StageSynthesize, Err: err}
			}

			d.logger.Printf("Error generating seed %d: %v\n", seed, synthErr)
			metrics.ImagesTotal(metrics.StatusFailed)
			report.Failures = append(report.Failures, synthErr)

			if d.failurePolicy == FailurePolicyAbort {
				report.Aborted = true

				break
			}

			continue
		}

		if skipped {
			d.logger.Printf("Image for seed %d already exists, skipping\n", seed)
			metrics.ImagesTotal(metrics.StatusSkipped)
			report.Skipped = append(report.Skipped, seed)

			continue
		}

		metrics.ImagesTotal(metrics.StatusWritten)
		report.Written = append(report.Written, *artifact)
	}

	if runErr == nil {
		d.renderContactSheet(report)
	}

	report.FinishedAt = d.clock.Now()

	d.logger.Printf("Sweep %s done: %d written, %d skipped, %d failed\n",
		job.SweepID, len(report.Written), len(report.Skipped), len(report.Failures))

	return report, runErr
}

// processSeed generates, validates and stores one image.
func (d *driverImpl) processSeed(ctx context.Context, job *Job, outputDir string, seed int64) (*Artifact, bool, error) {
	imagePath := filepath.Join(outputDir, ImageFileName(seed))

	if d.skipExisting {
		if _, err := os.Stat(imagePath); err == nil {
			return nil, true, nil
		}
	}

	start := time.Now()

	imageData, err := d.synthesize(ctx, job, seed)
	if err != nil {
		metrics.SynthesisDuration(metrics.StatusFailed, time.Since(start))

		return nil, false, &SynthesisError{Seed: seed, Stage: StageSynthesize, Err: err}
	}

	metrics.SynthesisDuration(metrics.StatusWritten, time.Since(start))

	extractor, err := png_info_extractor.New(png_info_extractor.Config{PngData: imageData})
	if err != nil {
		return nil, false, &SynthesisError{Seed: seed, Stage: StageDecode, Err: err}
	}

	info, err := extractor.ExtractDiffusionInfo()
	if err != nil {
		return nil, false, &SynthesisError{Seed: seed, Stage: StageDecode, Err: err}
	}

	if info.Width != job.Params.Width || info.Height != job.Params.Height {
		d.logger.Printf("Warning: seed %d came back %dx%d, requested %dx%d\n",
			seed, info.Width, info.Height, job.Params.Width, job.Params.Height)
	}

	if err := atomic_file.Write(imagePath, imageData, 0o644); err != nil {
		return nil, false, &SynthesisError{Seed: seed, Stage: StageWrite, Err: err}
	}

	d.logger.Printf("Saved image with seed %d to %s\n", seed, imagePath)

	relPath := filepath.Join(job.RunDirectory.Name, job.Params.ParamsDirName(), ImageFileName(seed))

	d.recordGeneration(ctx, job, seed, info, relPath)

	if d.mirror != nil {
		if err := d.mirror.Upload(ctx, filepath.ToSlash(relPath), imageData, imageContentType); err != nil {
			d.logger.Printf("Error mirroring seed %d: %v\n", seed, err)
		}
	}

	return &Artifact{Seed: seed, Path: imagePath, Size: len(imageData)}, false, nil
}

func (d *driverImpl) synthesize(ctx context.Context, job *Job, seed int64) ([]byte, error) {
	generationDone := make(chan struct{})
	defer close(generationDone)

	if d.progressInterval > 0 {
		go d.pollProgress(ctx, seed, generationDone)
	}

	resp, err := d.stableDiffusionAPI.TextToImage(ctx, &stable_diffusion_api.TextToImageRequest{
		Prompt:    d.requestPrompt(job.Config),
		Width:     job.Params.Width,
		Height:    job.Params.Height,
		BatchSize: 1,
		NIter:     1,
		Seed:      seed,
		CfgScale:  job.Params.GuidanceScale.Float64(),
		Steps:     job.Params.NumInferenceSteps,
		OverrideSettings: map[string]interface{}{
			"sd_model_checkpoint": job.Config.ModelID,
		},
	})
	if err != nil {
		return nil, err
	}

	return resp.Image(0)
}

// requestPrompt is the prompt sent to the service. The configured prompt is
// what gets fingerprinted; the LoRA tag is only added on the wire.
func (d *driverImpl) requestPrompt(cfg entities.GenerationConfig) string {
	if !cfg.LoRA {
		return cfg.Prompt
	}

	return fmt.Sprintf("%s <lora:%s:%s>", cfg.Prompt, d.loraName, strconv.FormatFloat(d.loraStrength, 'f', -1, 64))
}

func (d *driverImpl) pollProgress(ctx context.Context, seed int64, generationDone <-chan struct{}) {
	ticker := time.NewTicker(d.progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-generationDone:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			progress, err := d.stableDiffusionAPI.GetCurrentProgress(ctx)
			if err != nil {
				d.logger.Printf("Error getting current progress: %v\n", err)

				return
			}

			if progress.Progress == 0 {
				continue
			}

			d.logger.Printf("Seed %d: %.0f%% (eta %.0fs)\n", seed, progress.Progress*100, progress.EtaRelative)
		}
	}
}

func (d *driverImpl) recordGeneration(ctx context.Context, job *Job, seed int64, info *png_info_extractor.PNGInfo, relPath string) {
	if d.imageGenerationRepo == nil {
		return
	}

	_, err := d.imageGenerationRepo.Create(ctx, &entities.ImageGeneration{
		SweepID:           job.SweepID,
		Fingerprint:       job.RunDirectory.Fingerprint,
		RunDirectory:      job.RunDirectory.Name,
		ModelID:           job.Config.ModelID,
		GuidanceScale:     job.Params.GuidanceScale.String(),
		NumInferenceSteps: job.Params.NumInferenceSteps,
		Seed:              seed,
		Width:             info.Width,
		Height:            info.Height,
		FilePath:          filepath.ToSlash(relPath),
	})
	if err != nil {
		d.logger.Printf("Error creating image generation record: %v\n", err)
	}
}

func (d *driverImpl) mirrorSnapshot(ctx context.Context, job *Job) {
	if d.mirror == nil {
		return
	}

	snapshotPath := filepath.Join(job.RunDirectory.Path, fingerprint.SnapshotFileName)

	data, err := os.ReadFile(snapshotPath)
	if err != nil {
		d.logger.Printf("Error reading snapshot for mirroring: %v\n", err)

		return
	}

	relPath := job.RunDirectory.Name + "/" + fingerprint.SnapshotFileName

	if err := d.mirror.Upload(ctx, relPath, data, "application/json"); err != nil {
		d.logger.Printf("Error mirroring snapshot: %v\n", err)
	}
}

// renderContactSheet tiles the images written by this sweep. Failures only
// cost the sheet, never the images.
func (d *driverImpl) renderContactSheet(report *Report) {
	if d.compositeRenderer == nil || len(report.Written) == 0 {
		return
	}

	written := report.Written
	if len(written) > maxContactSheetImages {
		written = written[:maxContactSheetImages]
	}

	imageBufs := make([]*bytes.Buffer, 0, len(written))

	for _, artifact := range written {
		data, err := os.ReadFile(artifact.Path)
		if err != nil {
			d.logger.Printf("Error reading %s for contact sheet: %v\n", artifact.Path, err)

			return
		}

		imageBufs = append(imageBufs, bytes.NewBuffer(data))
	}

	sheet, err := d.compositeRenderer.TileImages(imageBufs)
	if err != nil {
		d.logger.Printf("Error rendering contact sheet: %v\n", err)

		return
	}

	sheetPath := filepath.Join(filepath.Dir(report.OutputDir), ContactSheetFileName(filepath.Base(report.OutputDir)))

	if err := atomic_file.Write(sheetPath, sheet.Bytes(), 0o644); err != nil {
		d.logger.Printf("Error writing contact sheet: %v\n", err)

		return
	}

	report.ContactSheetPath = sheetPath
}

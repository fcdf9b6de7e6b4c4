package seed_sweep

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"diffusion_sweeper/clock"
	"diffusion_sweeper/composite_renderer"
	"diffusion_sweeper/databases/sqlite"
	"diffusion_sweeper/entities"
	"diffusion_sweeper/fingerprint"
	"diffusion_sweeper/locks"
	"diffusion_sweeper/repositories/image_generations"
	"diffusion_sweeper/run_directories"
	"diffusion_sweeper/stable_diffusion_api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStableDiffusion struct {
	mu       sync.Mutex
	requests []*stable_diffusion_api.TextToImageRequest
	// failSeeds makes TextToImage fail for these seeds.
	failSeeds map[int64]bool
	// garbageSeeds get a response that is not a PNG.
	garbageSeeds map[int64]bool
	onRequest    func(seed int64)
}

type fakeMirror struct {
	mu      sync.Mutex
	uploads map[string]string
}

func (m *fakeMirror) Upload(_ context.Context, relPath string, _ []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.uploads == nil {
		m.uploads = make(map[string]string)
	}

	m.uploads[relPath] = contentType

	return nil
}

func encodePNG(width, height int) []byte {
	buf := new(bytes.Buffer)
	_ = png.Encode(buf, image.NewRGBA(image.Rect(0, 0, width, height)))

	return buf.Bytes()
}

func (f *fakeStableDiffusion) TextToImage(_ context.Context, req *stable_diffusion_api.TextToImageRequest) (*stable_diffusion_api.TextToImageResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.onRequest != nil {
		f.onRequest(req.Seed)
	}

	if f.failSeeds[req.Seed] {
		return nil, errors.New("out of memory")
	}

	data := encodePNG(req.Width, req.Height)
	if f.garbageSeeds[req.Seed] {
		data = []byte("definitely not a png")
	}

	return &stable_diffusion_api.TextToImageResponse{
		Images: []string{base64.StdEncoding.EncodeToString(data)},
		Seeds:  []int64{req.Seed},
	}, nil
}

func (f *fakeStableDiffusion) GetCurrentProgress(_ context.Context) (*stable_diffusion_api.ProgressResponse, error) {
	return &stable_diffusion_api.ProgressResponse{}, nil
}

func (f *fakeStableDiffusion) seeds() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	seeds := make([]int64, len(f.requests))
	for i, req := range f.requests {
		seeds[i] = req.Seed
	}

	return seeds
}

func testParams(seeds ...int64) entities.RunParams {
	return entities.RunParams{
		NumInferenceSteps: 20,
		GuidanceScale:     entities.NewGuidanceScale(7.5),
		GenType:           entities.GenTypeExplicit,
		Seeds:             seeds,
		Width:             8,
		Height:            8,
	}
}

func testRunDirectory(t *testing.T, cfg entities.GenerationConfig) *entities.RunDirectory {
	t.Helper()

	resolver, err := run_directories.New(run_directories.Config{
		Root:   t.TempDir(),
		Locker: locks.NewFileLocker(locks.FileConfig{PollInterval: time.Millisecond}),
		Logger: log.New(new(bytes.Buffer), "", 0),
	})
	require.NoError(t, err)

	dir, err := resolver.ResolveOrCreate(context.Background(), cfg)
	require.NoError(t, err)

	return dir
}

func newTestDriver(t *testing.T, api stable_diffusion_api.StableDiffusionAPI, modify func(cfg *Config)) Driver {
	t.Helper()

	cfg := Config{
		StableDiffusionAPI: api,
		Clock:              clock.NewFixedClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
		Logger:             log.New(new(bytes.Buffer), "", 0),
	}

	if modify != nil {
		modify(&cfg)
	}

	driver, err := New(cfg)
	require.NoError(t, err)

	return driver
}

func catConfig() entities.GenerationConfig {
	cfg := entities.DefaultGenerationConfig()
	cfg.ModelID = "m"
	cfg.Prompt = "cat"

	return cfg
}

func newJob(t *testing.T, seeds ...int64) *Job {
	t.Helper()

	cfg := catConfig()
	params := testParams(seeds...)

	return &Job{
		SweepID:      "sweep-1",
		Config:       cfg,
		Params:       params,
		Seeds:        params.Seeds,
		RunDirectory: testRunDirectory(t, cfg),
	}
}

func TestNewRequiresAPI(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	_, err := New(Config{StableDiffusionAPI: &fakeStableDiffusion{}, FailurePolicy: "retry"})
	assert.Error(t, err)
}

func TestParseFailurePolicy(t *testing.T) {
	policy, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailurePolicyContinue, policy)

	policy, err = ParseFailurePolicy("abort")
	require.NoError(t, err)
	assert.Equal(t, FailurePolicyAbort, policy)
}

func TestRunWritesOneImagePerSeed(t *testing.T) {
	api := &fakeStableDiffusion{}
	driver := newTestDriver(t, api, nil)
	job := newJob(t, 1, 2)

	report, err := driver.Run(context.Background(), job)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	outputDir := filepath.Join(job.RunDirectory.Path, "7.5_20")
	assert.Equal(t, outputDir, report.OutputDir)
	assert.Equal(t, "images_1", job.RunDirectory.Name)

	for _, seed := range []int64{1, 2} {
		data, err := os.ReadFile(filepath.Join(outputDir, ImageFileName(seed)))
		require.NoError(t, err)

		img, err := png.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, 8, img.Bounds().Dx())
	}

	snapshot, err := os.ReadFile(filepath.Join(job.RunDirectory.Path, fingerprint.SnapshotFileName))
	require.NoError(t, err)

	got, err := fingerprint.OfSnapshot(snapshot)
	require.NoError(t, err)

	assert.Equal(t, fingerprint.Of(catConfig()), got)

	assert.Len(t, report.Written, 2)
	assert.False(t, report.Aborted)
}

func TestRunSendsSeedsInOrder(t *testing.T) {
	api := &fakeStableDiffusion{}
	driver := newTestDriver(t, api, nil)

	_, err := driver.Run(context.Background(), newJob(t, 3, 1, 2))
	require.NoError(t, err)

	assert.Equal(t, []int64{3, 1, 2}, api.seeds())
}

func TestRunBuildsRequestFromJob(t *testing.T) {
	api := &fakeStableDiffusion{}
	driver := newTestDriver(t, api, nil)

	_, err := driver.Run(context.Background(), newJob(t, 42))
	require.NoError(t, err)

	require.Len(t, api.requests, 1)
	req := api.requests[0]

	assert.Equal(t, "cat", req.Prompt)
	assert.Equal(t, 7.5, req.CfgScale)
	assert.Equal(t, 20, req.Steps)
	assert.Equal(t, 1, req.BatchSize)
	assert.Equal(t, 1, req.NIter)
	assert.Equal(t, "m", req.OverrideSettings["sd_model_checkpoint"])
}

func TestRunContinuesPastFailures(t *testing.T) {
	api := &fakeStableDiffusion{failSeeds: map[int64]bool{2: true}, garbageSeeds: map[int64]bool{3: true}}
	driver := newTestDriver(t, api, nil)
	job := newJob(t, 1, 2, 3, 4)

	report, err := driver.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3, 4}, api.seeds())
	assert.Equal(t, []int64{2, 3}, report.FailedSeeds())
	assert.Equal(t, StageSynthesize, report.Failures[0].Stage)
	assert.Equal(t, StageDecode, report.Failures[1].Stage)
	assert.Len(t, report.Written, 2)
	assert.False(t, report.Aborted)

	var synthErr *SynthesisError
	assert.ErrorAs(t, report.Err(), &synthErr)

	// no partial file for failed seeds
	_, err = os.Stat(filepath.Join(report.OutputDir, ImageFileName(2)))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(report.OutputDir, ImageFileName(3)))
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(report.OutputDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRunAbortsOnFirstFailure(t *testing.T) {
	api := &fakeStableDiffusion{failSeeds: map[int64]bool{2: true}}
	driver := newTestDriver(t, api, func(cfg *Config) {
		cfg.FailurePolicy = FailurePolicyAbort
	})

	report, err := driver.Run(context.Background(), newJob(t, 1, 2, 3))
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2}, api.seeds())
	assert.True(t, report.Aborted)
	assert.Equal(t, []int64{2}, report.FailedSeeds())
	assert.Len(t, report.Written, 1)
}

func TestRunSkipsExistingImages(t *testing.T) {
	api := &fakeStableDiffusion{}
	job := newJob(t, 1, 2)

	outputDir := filepath.Join(job.RunDirectory.Path, job.Params.ParamsDirName())
	require.NoError(t, os.MkdirAll(outputDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, ImageFileName(1)), []byte("old"), 0o644))

	driver := newTestDriver(t, api, func(cfg *Config) {
		cfg.SkipExisting = true
	})

	report, err := driver.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, []int64{2}, api.seeds())
	assert.Equal(t, []int64{1}, report.Skipped)

	data, err := os.ReadFile(filepath.Join(outputDir, ImageFileName(1)))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestRunOverwritesWithoutSkipExisting(t *testing.T) {
	api := &fakeStableDiffusion{}
	job := newJob(t, 1)

	outputDir := filepath.Join(job.RunDirectory.Path, job.Params.ParamsDirName())
	require.NoError(t, os.MkdirAll(outputDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, ImageFileName(1)), []byte("old"), 0o644))

	driver := newTestDriver(t, api, nil)

	_, err := driver.Run(context.Background(), job)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outputDir, ImageFileName(1)))
	require.NoError(t, err)
	assert.NotEqual(t, "old", string(data))
}

func TestRunStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := &fakeStableDiffusion{onRequest: func(seed int64) {
		if seed == 2 {
			cancel()
		}
	}}
	driver := newTestDriver(t, api, nil)

	report, err := driver.Run(ctx, newJob(t, 1, 2, 3))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)

	assert.True(t, report.Aborted)
	assert.Equal(t, []int64{1, 2}, api.seeds())
	assert.Empty(t, report.Failures)
}

func TestRunRendersContactSheet(t *testing.T) {
	renderer, err := composite_renderer.New(composite_renderer.Config{TileSize: 4})
	require.NoError(t, err)

	driver := newTestDriver(t, &fakeStableDiffusion{}, func(cfg *Config) {
		cfg.CompositeRenderer = renderer
	})

	job := newJob(t, 1, 2, 3, 4)

	report, err := driver.Run(context.Background(), job)
	require.NoError(t, err)

	require.Equal(t, filepath.Join(job.RunDirectory.Path, "7.5_20_contact_sheet.png"), report.ContactSheetPath)

	// the parameter folder only holds seed images
	entries, err := os.ReadDir(report.OutputDir)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	for _, entry := range entries {
		assert.Regexp(t, `^image_seed_\d+\.png$`, entry.Name())
	}

	data, err := os.ReadFile(report.ContactSheetPath)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
}

func TestReportSummary(t *testing.T) {
	api := &fakeStableDiffusion{failSeeds: map[int64]bool{1: true}}
	driver := newTestDriver(t, api, nil)
	job := newJob(t, 1, 2)

	report, err := driver.Run(context.Background(), job)
	require.NoError(t, err)

	summary := report.Summary()
	assert.Equal(t, "sweep-1", summary.SweepID)
	assert.Equal(t, "m", summary.ModelID)
	assert.Equal(t, "cat", summary.Prompt)
	assert.Equal(t, 1, summary.Written)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, int64(1), summary.Failures[0].Seed)
}

func TestRunRecordsAndMirrorsImages(t *testing.T) {
	db, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "index.sqlite"))
	require.NoError(t, err)
	defer db.Close()

	repo, err := image_generations.NewRepository(&image_generations.Config{DB: db})
	require.NoError(t, err)

	mirror := &fakeMirror{}
	driver := newTestDriver(t, &fakeStableDiffusion{failSeeds: map[int64]bool{2: true}}, func(cfg *Config) {
		cfg.ImageGenerationRepo = repo
		cfg.Mirror = mirror
	})

	job := newJob(t, 1, 2)

	_, err = driver.Run(context.Background(), job)
	require.NoError(t, err)

	generations, err := repo.ListBySweep(context.Background(), "sweep-1")
	require.NoError(t, err)
	require.Len(t, generations, 1)

	assert.Equal(t, int64(1), generations[0].Seed)
	assert.Equal(t, "images_1/7.5_20/image_seed_1.png", generations[0].FilePath)
	assert.Equal(t, "7.5", generations[0].GuidanceScale)
	assert.Equal(t, job.RunDirectory.Fingerprint, generations[0].Fingerprint)

	assert.Equal(t, map[string]string{
		"images_1/generation_configs.json": "application/json",
		"images_1/7.5_20/image_seed_1.png": "image/png",
	}, mirror.uploads)
}

func TestRunAddsLoRATagOnlyWhenEnabled(t *testing.T) {
	plainAPI := &fakeStableDiffusion{}
	loraAPI := &fakeStableDiffusion{}

	withLoRA := func(cfg *Config) {
		cfg.LoRAName = "Flux-Super-Realism-LoRA"
		cfg.LoRAStrength = 0.8
	}

	plainJob := newJob(t, 1)

	_, err := newTestDriver(t, plainAPI, withLoRA).Run(context.Background(), plainJob)
	require.NoError(t, err)

	loraJob := newJob(t, 1)
	loraJob.Config.LoRA = true

	_, err = newTestDriver(t, loraAPI, withLoRA).Run(context.Background(), loraJob)
	require.NoError(t, err)

	require.Len(t, plainAPI.requests, 1)
	require.Len(t, loraAPI.requests, 1)

	assert.Equal(t, "cat", plainAPI.requests[0].Prompt)
	assert.Equal(t, "cat <lora:Flux-Super-Realism-LoRA:0.8>", loraAPI.requests[0].Prompt)

	// the fingerprinted prompt is untouched
	assert.Equal(t, "cat", loraJob.Config.Prompt)
}

func TestRunLoRADefaultStrength(t *testing.T) {
	api := &fakeStableDiffusion{}
	driver := newTestDriver(t, api, func(cfg *Config) {
		cfg.LoRAName = "style"
	})

	job := newJob(t, 1)
	job.Config.LoRA = true

	_, err := driver.Run(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, api.requests, 1)
	assert.Equal(t, "cat <lora:style:1>", api.requests[0].Prompt)
}

func TestRunRejectsLoRAWithoutName(t *testing.T) {
	api := &fakeStableDiffusion{}
	driver := newTestDriver(t, api, nil)

	job := newJob(t, 1)
	job.Config.LoRA = true

	_, err := driver.Run(context.Background(), job)
	assert.Error(t, err)
	assert.Empty(t, api.requests)
}

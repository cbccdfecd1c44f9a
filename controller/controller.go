// Package controller - This file contains the batch run orchestrator that routes test images through per-camera background models.
package controller

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nvr-ai/parking-occupancy/images"
	"github.com/nvr-ai/parking-occupancy/metrics"
	"github.com/nvr-ai/parking-occupancy/report"
	"github.com/nvr-ai/parking-occupancy/roi"
	"github.com/nvr-ai/parking-occupancy/util"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// CameraPlaceholder is replaced by the camera id in Config.TrainingSubpath.
const CameraPlaceholder = "{camera}"

// ErrNoRegionsResolved is returned when the catalog has no usable region for a camera.
var ErrNoRegionsResolved = errors.New("no regions resolved")

// Config contains the parameters of a batch run.
type Config struct {
	ProjectID string `mapstructure:"project_id"`

	LearningRate       float64 `mapstructure:"learning_rate"`
	Iterations         int     `mapstructure:"iterations"`
	VarThreshold       float64 `mapstructure:"var_threshold"`
	History            int     `mapstructure:"history"`
	DetectShadows      bool    `mapstructure:"detect_shadows"`
	KernelSize         int     `mapstructure:"kernel_size"`
	OccupancyThreshold float64 `mapstructure:"occupancy_threshold"`

	// TrainingRoot holds one training directory per camera.
	TrainingRoot string `mapstructure:"training_root"`
	// TrainingSubpath locates a camera's directory under TrainingRoot; CameraPlaceholder is substituted.
	TrainingSubpath string `mapstructure:"training_subpath"`
	TestRoot        string `mapstructure:"test_root"`
	CatalogPath     string `mapstructure:"catalog_path"`
	OutputRoot      string `mapstructure:"output_root"`

	SnapshotSuffix string      `mapstructure:"snapshot_suffix"`
	StrictSuffix   bool        `mapstructure:"strict_suffix"`
	Catalog        roi.Options `mapstructure:"catalog"`

	Visualize     bool   `mapstructure:"visualize"`
	PreviewWidth  int    `mapstructure:"preview_width"`
	PreviewFormat string `mapstructure:"preview_format"`
	CacheModels   bool   `mapstructure:"cache_models"`
}

// DefaultConfig returns the default run configuration.
func DefaultConfig() Config {
	bg := DefaultBackgroundConfig()
	return Config{
		LearningRate:       bg.LearningRate,
		Iterations:         bg.Epochs,
		VarThreshold:       bg.VarThreshold,
		History:            bg.History,
		DetectShadows:      bg.DetectShadows,
		KernelSize:         bg.KernelSize,
		OccupancyThreshold: DefaultOccupancyThreshold,
		TrainingRoot:       "learning",
		TrainingSubpath:    CameraPlaceholder,
		TestRoot:           "test",
		CatalogPath:        "roi.json",
		OutputRoot:         "results",
		SnapshotSuffix:     util.DefaultSnapshotSuffix,
		Catalog:            roi.DefaultOptions(),
		PreviewWidth:       320,
		PreviewFormat:      string(images.FormatJPEG),
	}
}

// Validate checks the numeric parameters.
func (c Config) Validate() error {
	switch {
	case c.LearningRate < 0 || c.LearningRate > 1:
		return errors.Errorf("learning rate %v must be between 0 and 1", c.LearningRate)
	case c.Iterations < 1:
		return errors.Errorf("iterations %d must be at least 1", c.Iterations)
	case c.VarThreshold <= 0:
		return errors.Errorf("variance threshold %v must be positive", c.VarThreshold)
	case c.OccupancyThreshold < 0 || c.OccupancyThreshold > 1:
		return errors.Errorf("occupancy threshold %v must be between 0 and 1", c.OccupancyThreshold)
	case c.KernelSize <= 0 || c.KernelSize%2 == 0:
		return errors.Errorf("kernel size %d must be odd and positive", c.KernelSize)
	case c.History <= 0:
		return errors.Errorf("history %d must be positive", c.History)
	case c.PreviewWidth < 0:
		return errors.Errorf("preview width %d must not be negative", c.PreviewWidth)
	}
	_, err := images.ParseFormat(c.PreviewFormat)
	return err
}

// Background returns the background model parameters of the run.
func (c Config) Background() BackgroundConfig {
	return BackgroundConfig{
		LearningRate:  c.LearningRate,
		Epochs:        c.Iterations,
		VarThreshold:  c.VarThreshold,
		History:       c.History,
		DetectShadows: c.DetectShadows,
		KernelSize:    c.KernelSize,
	}
}

// Parameters returns the parameters recorded in results.
func (c Config) Parameters() report.Parameters {
	return report.Parameters{
		LearningRate:       c.LearningRate,
		Iterations:         c.Iterations,
		VarThreshold:       c.VarThreshold,
		OccupancyThreshold: c.OccupancyThreshold,
		KernelSize:         c.KernelSize,
	}
}

// TrainingDir returns the training directory of camera.
func (c Config) TrainingDir(camera string) string {
	sub := c.TrainingSubpath
	if sub == "" {
		sub = CameraPlaceholder
	}
	return filepath.Join(c.TrainingRoot, strings.ReplaceAll(sub, CameraPlaceholder, camera))
}

// Controller runs batches of test images against per-camera background models.
type Controller struct {
	config    Config
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	extractor *util.CameraIDExtractor
	evaluator *OccupancyEvaluator
	now       func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics sets the metrics the controller records to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock sets the time source used for run and result timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a controller for config.
//
// Arguments:
//   - config: The run configuration.
//   - opts: Optional logger, metrics and clock.
//
// Returns:
//   - *Controller: The controller.
//   - error: An error if config is invalid.
//
// @example
// ctrl, err := controller.New(cfg, controller.WithLogger(logger))
// rep, err := ctrl.Run(ctx)
// path, err := report.Write(rep, rep.OutputDir)
func New(config Config, opts ...Option) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		config:    config,
		logger:    zerolog.Nop(),
		extractor: util.NewCameraIDExtractor(config.SnapshotSuffix, config.StrictSuffix),
		evaluator: NewOccupancyEvaluator(config.OccupancyThreshold),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the controller's configuration.
func (c *Controller) Config() Config {
	return c.config
}

// candidate is a test image whose name yielded a camera id.
type candidate struct {
	path   string
	name   string
	camera string
}

// Run evaluates every test image under the test root and returns the batch report.
//
// The catalog is loaded once up front; catalog errors abort the run. Images
// that cannot be evaluated are skipped and counted by reason. Cancellation is
// checked between images; a cancelled run returns the partial report together
// with the context error.
//
// Arguments:
//   - ctx: Context checked between images.
//
// Returns:
//   - *report.BatchReport: The report, results sorted by camera id and image name.
//   - error: A catalog, test root or context error.
func (c *Controller) Run(ctx context.Context) (*report.BatchReport, error) {
	created := c.now()
	rep := &report.BatchReport{
		RunID:       uuid.NewString(),
		ProjectID:   c.config.ProjectID,
		CreatedAt:   created,
		CatalogPath: c.config.CatalogPath,
		TestRoot:    c.config.TestRoot,
		OutputDir:   filepath.Join(c.config.OutputRoot, report.Timestamp(created)),
		Parameters:  c.config.Parameters(),
	}
	logger := c.logger.With().Str("run_id", rep.RunID).Logger()

	catalog, err := roi.Load(c.config.CatalogPath)
	if err != nil {
		c.metrics.RunFinished("failed")
		return nil, err
	}

	candidates, err := c.collect(rep, logger)
	if err != nil {
		c.metrics.RunFinished("failed")
		return nil, err
	}
	logger.Info().
		Int("found", rep.Summary.Found).
		Int("candidates", len(candidates)).
		Str("test_root", c.config.TestRoot).
		Msg("collected test images")

	var models *modelCache
	if c.config.CacheModels {
		models = newModelCache()
		defer models.Close()
	}

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			rep.Sort()
			c.metrics.RunFinished("failed")
			return rep, err
		}

		result, reason, err := c.process(cand, catalog, models, rep.OutputDir, logger)
		if err != nil {
			rep.Skip(reason)
			c.metrics.ImageSkipped(reason)
			logger.Warn().
				Err(err).
				Str("camera", cand.camera).
				Str("path", cand.path).
				Str("reason", reason).
				Msg("skipping test image")
			continue
		}
		rep.Add(result)
		c.metrics.ImageEvaluated(result.CameraID, result.Summary.OccupancyRate)
	}

	rep.Sort()
	c.metrics.RunFinished("ok")
	logger.Info().
		Int("found", rep.Summary.Found).
		Int("evaluated", rep.Summary.Evaluated).
		Int("skipped", rep.Summary.SkippedTotal()).
		Msg("batch run finished")
	return rep, nil
}

// collect walks the test root and returns the images whose names carry a camera id.
func (c *Controller) collect(rep *report.BatchReport, logger zerolog.Logger) ([]candidate, error) {
	var candidates []candidate
	err := filepath.WalkDir(c.config.TestRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == c.config.TestRoot {
				return err
			}
			logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable test path")
			return nil
		}
		if !d.Type().IsRegular() || !util.IsImageFile(d.Name()) {
			return nil
		}

		rep.Summary.Found++
		c.metrics.ImageFound()

		camera, ok := c.extractor.Extract(d.Name())
		if !ok {
			rep.Skip(report.SkipUnmatchedName)
			c.metrics.ImageSkipped(report.SkipUnmatchedName)
			logger.Warn().Str("path", path).Str("reason", report.SkipUnmatchedName).Msg("skipping test image")
			return nil
		}
		candidates = append(candidates, candidate{path: path, name: d.Name(), camera: camera})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walk test root %s", c.config.TestRoot)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].camera != candidates[j].camera {
			return candidates[i].camera < candidates[j].camera
		}
		return candidates[i].name < candidates[j].name
	})
	return candidates, nil
}

// process evaluates one candidate. On failure it returns the skip reason.
func (c *Controller) process(
	cand candidate,
	catalog *roi.Catalog,
	models *modelCache,
	runDir string,
	logger zerolog.Logger,
) (report.ImageResult, string, error) {
	regions := catalog.Regions(cand.camera, c.config.Catalog)
	if len(regions) == 0 {
		return report.ImageResult{}, report.SkipNoRegions, errors.Wrap(ErrNoRegionsResolved, cand.camera)
	}

	trainingDir := c.config.TrainingDir(cand.camera)
	session, release, err := c.session(cand.camera, trainingDir, models, logger)
	if err != nil {
		return report.ImageResult{}, report.SkipTrainingMissing, err
	}
	defer release()

	stopEvaluate := c.metrics.StartOperation("evaluate")
	frame, mask, err := session.EvaluateFile(cand.path)
	if err != nil {
		stopEvaluate()
		if errors.Is(err, ErrTestImageUnreadable) {
			return report.ImageResult{}, report.SkipTestImageUnusable, err
		}
		return report.ImageResult{}, report.SkipEvaluationFailed, err
	}
	defer frame.Close()
	defer mask.Close()

	assessments, err := c.evaluator.Assess(mask, regions)
	stopEvaluate()
	if err != nil {
		return report.ImageResult{}, report.SkipEvaluationFailed, err
	}

	records := Records(assessments)
	result := report.ImageResult{
		CameraID:         cand.camera,
		ImageName:        cand.name,
		ImagePath:        cand.path,
		LearningPath:     trainingDir,
		LearningDataSize: session.Consumed(),
		Timestamp:        c.now(),
		Parameters:       c.config.Parameters(),
		RoiResults:       records,
		Summary:          SummarizeOccupancy(records),
	}

	if c.config.Visualize {
		artifacts, err := c.visualize(cand, frame, mask, assessments, runDir)
		if err != nil {
			logger.Warn().Err(err).Str("camera", cand.camera).Str("path", cand.path).Msg("failed to write visualization")
		}
		result.Artifacts = artifacts
	}
	return result, "", nil
}

// session returns a trained session for camera and the function that releases it.
func (c *Controller) session(
	camera, dir string,
	models *modelCache,
	logger zerolog.Logger,
) (*BackgroundSession, func(), error) {
	sessionLogger := logger.With().Str("camera", camera).Logger()

	if models == nil {
		s, err := c.train(dir, sessionLogger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}

	if err := checkTrainingDir(dir); err != nil {
		return nil, nil, err
	}
	signature, err := util.DirectorySignature(dir)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrTrainingDataUnavailable, "%s: %v", dir, err)
	}
	key := modelKey(camera, signature)
	if s, ok := models.get(key); ok {
		return s, func() {}, nil
	}

	s, err := c.train(dir, sessionLogger)
	if err != nil {
		return nil, nil, err
	}
	models.put(key, s)
	return s, func() {}, nil
}

func (c *Controller) train(dir string, logger zerolog.Logger) (*BackgroundSession, error) {
	defer c.metrics.StartOperation("train")()

	s := NewBackgroundSession(c.config.Background(), logger)
	n, err := s.Train(dir)
	if err != nil {
		s.Close()
		return nil, err
	}
	c.metrics.TrainingUpdates(n)
	logger.Debug().Str("dir", dir).Int("consumed", n).Msg("background model trained")
	return s, nil
}

// visualize writes the annotated frame, the annotated mask and a preview under runDir/<camera>.
func (c *Controller) visualize(
	cand candidate,
	frame, mask gocv.Mat,
	assessments []Assessment,
	runDir string,
) ([]string, error) {
	defer c.metrics.StartOperation("render")()

	dir := filepath.Join(runDir, cand.camera)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", dir)
	}

	annotated, colorized := c.evaluator.Render(frame, mask, assessments)
	defer annotated.Close()
	defer colorized.Close()

	stem := strings.TrimSuffix(cand.name, filepath.Ext(cand.name))
	var artifacts []string
	write := func(name string, fn func(path string) error) error {
		if err := fn(filepath.Join(dir, name)); err != nil {
			return err
		}
		artifacts = append(artifacts, filepath.ToSlash(filepath.Join(cand.camera, name)))
		return nil
	}

	if err := write(stem+"_roi_result.jpg", func(p string) error { return writeImage(p, annotated) }); err != nil {
		return artifacts, err
	}
	if err := write(stem+"_fgmask.jpg", func(p string) error { return writeImage(p, colorized) }); err != nil {
		return artifacts, err
	}
	if c.config.PreviewWidth > 0 {
		format, _ := images.ParseFormat(c.config.PreviewFormat)
		preview := func(p string) error {
			img, err := annotated.ToImage()
			if err != nil {
				return errors.Wrap(err, "failed to convert frame for preview")
			}
			return images.WritePreview(p, img, uint(c.config.PreviewWidth), format)
		}
		if err := write(stem+"_preview"+format.Extension(), preview); err != nil {
			return artifacts, err
		}
	}
	return artifacts, nil
}

// Package jobs runs the mask, embed and swap stages over local work
// directories and wraps them in cloud storage transfers.
package jobs

import (
	"fmt"

	"github.com/dudu/deepswap/internal/config"
	"github.com/dudu/deepswap/internal/detector"
	"github.com/dudu/deepswap/internal/enhancer"
	"github.com/dudu/deepswap/internal/inference"
	"github.com/dudu/deepswap/internal/log"
	"github.com/dudu/deepswap/internal/masker"
	"github.com/dudu/deepswap/internal/pipeline"
	"github.com/dudu/deepswap/internal/swapper"
)

// ProgressFactory returns the per-frame callback for a run over total frames
type ProgressFactory func(desc string, total int) pipeline.ProgressFunc

// Engine holds the models and settings shared by every job
type Engine struct {
	Detector pipeline.KeypointDetector
	Encoder  pipeline.FaceEncoder
	Swapper  pipeline.FaceSwapper
	Masker   pipeline.FaceMasker
	Enhancer pipeline.FaceEnhancer // nil disables enhancement

	Policy   pipeline.SizingPolicy
	Progress ProgressFactory
	FPS      int
	Quality  int

	cache *inference.Cache
}

// Specs maps every configured model to its graph description
func Specs(cfg *config.Config) map[inference.ModelType]inference.ModelSpec {
	specs := map[inference.ModelType]inference.ModelSpec{
		inference.ModelDetector: detector.YOLOXSpec(cfg.DetectorModel),
		inference.ModelEmbedder: swapper.ArcFaceSpec(cfg.EmbedderModel),
		inference.ModelSwapper:  swapper.InswapperSpec(cfg.SwapperModel),
		inference.ModelOccluder: masker.OccluderSpec(cfg.OccluderModel),
	}
	if cfg.EnhancerModel != "" {
		specs[inference.ModelEnhancer] = enhancer.CodeFormerSpec(cfg.EnhancerModel)
	}
	return specs
}

// Policy builds the sizing policy selected by cfg
func Policy(cfg *config.Config) pipeline.SizingPolicy {
	fixed := pipeline.FixedPolicy{Workers: cfg.Workers, QueueRatio: cfg.QueueRatio}
	if cfg.Adaptive {
		return pipeline.NewAdaptivePolicy(fixed)
	}
	return fixed
}

// NewEngine initializes ONNX Runtime and wires every model to one shared
// session cache. Sessions are created on first use.
func NewEngine(cfg *config.Config) (*Engine, error) {
	if err := inference.Initialize(cfg.ORTLibrary); err != nil {
		return nil, err
	}

	var providers []inference.Provider
	if cfg.Providers != "" {
		var err error
		if providers, err = inference.ParseProviders(cfg.Providers); err != nil {
			return nil, err
		}
	}

	emap, err := loadEmap(cfg)
	if err != nil {
		return nil, err
	}

	cache := inference.NewCache(Specs(cfg), providers, nil)
	log.Info("model cache ready", "providers", cache.Providers())

	e := &Engine{
		Detector: detector.NewYOLOX(cache, cfg.NMSThreshold),
		Encoder:  swapper.NewArcFaceEncoder(cache),
		Swapper:  swapper.NewInswapper(cache, emap),
		Masker:   masker.NewOccluder(cache),
		Policy:   Policy(cfg),
		FPS:      cfg.VideoFPS,
		Quality:  cfg.VideoQuality,
		cache:    cache,
	}
	if cfg.EnhancerModel != "" {
		e.Enhancer = enhancer.NewCodeFormer(cache)
	}
	return e, nil
}

func loadEmap(cfg *config.Config) (*swapper.Emap, error) {
	if cfg.EmapPath != "" {
		return swapper.LoadEmap(cfg.EmapPath)
	}
	emap, err := swapper.LoadEmapFromModel(cfg.SwapperModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load emap: %w", err)
	}
	return emap, nil
}

// Close releases every model session
func (e *Engine) Close() error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Close()
}

func (e *Engine) newPipeline(desc string, total int) *pipeline.Pipeline {
	var progress pipeline.ProgressFunc
	if e.Progress != nil {
		progress = e.Progress(desc, total)
	}
	return pipeline.New(e.Policy, progress)
}

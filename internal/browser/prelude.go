package browser

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"fingerprint-shield/internal/config"
	"fingerprint-shield/internal/families"
	"fingerprint-shield/internal/noise"
	"fingerprint-shield/internal/seed"
)

//go:embed js/shield.js
var shieldTemplate string

// previewWidth and previewHeight are the canvas size pixel parameters are scaled for when the
// real size is unknown ahead of time.
const previewWidth, previewHeight = 300, 150

// Prelude holds the values injected into a page before any of its scripts
// run. It is computed from the same seed state the embedded host uses.
type Prelude struct {
	Profile          families.Profile
	CanvasSeed       uint32
	AudioSeed        uint32
	AudioSigma       float64
	JitterMs         float64
	MinSafeDim       int
	PixelProbability float64
	Stride           int
}

// NewPrelude derives the prelude for s at now.
func NewPrelude(s *seed.State, cfg config.NoiseConfig, now time.Time) Prelude {
	pixels := noise.Params(noise.PixelTuning{
		BaseProbability: cfg.Pixels.BaseProbability,
		MaxShiftBase:    cfg.Pixels.MaxShiftBase,
		MaxShiftCap:     cfg.Pixels.MaxShiftCap,
		Stride:          cfg.Pixels.Stride,
		SampleCap:       cfg.Pixels.SampleCap,
	}, previewWidth, previewHeight, s.Derive("canvas-params", previewWidth, previewHeight), now.UTC().Hour())

	return Prelude{
		Profile:          families.ProfileOf(s, cfg.Timing),
		CanvasSeed:       s.DeriveSeed("canvas"),
		AudioSeed:        s.DeriveSeed("audio"),
		AudioSigma:       noise.Sigma(cfg.Audio.BaseSigma, cfg.Audio.SigmaJitter, s.Derive("audio-sigma").Float64()),
		JitterMs:         cfg.Timing.JitterMaxMs,
		MinSafeDim:       cfg.Pixels.MinSafeDim,
		PixelProbability: pixels.Probability,
		Stride:           pixels.Stride,
	}
}

// Render fills the embedded template.
func (p Prelude) Render() (string, error) {
	vendor, err := sonic.MarshalString(p.Profile.GPU.Vendor)
	if err != nil {
		return "", fmt.Errorf("encode vendor: %w", err)
	}
	renderer, err := sonic.MarshalString(p.Profile.GPU.Renderer)
	if err != nil {
		return "", fmt.Errorf("encode renderer: %w", err)
	}

	r := strings.NewReplacer(
		"__VENDOR__", vendor,
		"__RENDERER__", renderer,
		"__CORES__", strconv.Itoa(p.Profile.Hardware.Cores),
		"__MEMORY__", number(p.Profile.Hardware.Memory),
		"__CANVAS_SEED__", strconv.FormatUint(uint64(p.CanvasSeed), 10),
		"__AUDIO_SEED__", strconv.FormatUint(uint64(p.AudioSeed), 10),
		"__AUDIO_SIGMA__", number(p.AudioSigma),
		"__JITTER_MS__", number(p.JitterMs),
		"__SKEW_MS__", strconv.FormatInt(p.Profile.DateSkewMs, 10),
		"__MIN_SAFE_DIM__", strconv.Itoa(p.MinSafeDim),
		"__PIXEL_PROBABILITY__", number(p.PixelProbability),
		"__STRIDE__", strconv.Itoa(max(1, p.Stride)),
	)
	return r.Replace(shieldTemplate), nil
}

func number(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

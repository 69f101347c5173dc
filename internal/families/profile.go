package families

import (
	"math"

	"fingerprint-shield/internal/config"
	"fingerprint-shield/internal/noise"
	"fingerprint-shield/internal/seed"
)

// Profile is the identity one seed state presents. Families compute the
// same values on demand; the browser prelude renders them up front.
type Profile struct {
	GPU        GPU
	Adapter    Adapter
	Hardware   Hardware
	DateSkewMs int64
}

// ProfileOf derives the profile for s.
func ProfileOf(s *seed.State, cfg config.TimingNoiseConfig) Profile {
	return Profile{
		GPU:        gpuOf(s),
		Adapter:    adapterOf(s),
		Hardware:   hardwareOf(s),
		DateSkewMs: dateSkew(s, cfg.DateSkewMaxMs),
	}
}

func gpuOf(s *seed.State) GPU {
	return PickGPU(s.Derive("webgl"))
}

func hardwareOf(s *seed.State) Hardware {
	return noise.Choose(s.Derive("navigator.hardware"), hardwareProfiles, hardwareProfiles[0].Value)
}

func dateSkew(s *seed.State, maxMs float64) int64 {
	return int64(math.Round(noise.Symmetric(s.Derive("Date.now"), maxMs)))
}

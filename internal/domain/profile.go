package domain

import (
	"sort"
	"time"
)

// Feature names produced by the extraction pipeline.
const (
	FeaturePitchMean            = "pitch_mean"
	FeaturePitchStd             = "pitch_std"
	FeaturePitchRange           = "pitch_range"
	FeatureSpectralCentroidMean = "spectral_centroid_mean"
	FeatureSpectralCentroidStd  = "spectral_centroid_std"
	FeatureMFCCMean             = "mfcc_mean"
	FeatureMFCCStd              = "mfcc_std"
	FeatureEnergyMean           = "energy_mean"
	FeatureEnergyStd            = "energy_std"
	FeatureZCRMean              = "zcr_mean"
	FeatureZCRStd               = "zcr_std"
	FeatureRolloffMean          = "rolloff_mean"
	FeatureRolloffStd           = "rolloff_std"
)

// FeatureNames lists every feature the extractor can emit.
var FeatureNames = []string{
	FeaturePitchMean,
	FeaturePitchStd,
	FeaturePitchRange,
	FeatureSpectralCentroidMean,
	FeatureSpectralCentroidStd,
	FeatureMFCCMean,
	FeatureMFCCStd,
	FeatureEnergyMean,
	FeatureEnergyStd,
	FeatureZCRMean,
	FeatureZCRStd,
	FeatureRolloffMean,
	FeatureRolloffStd,
}

// Features maps feature names to scalar descriptors. A missing key means the
// feature was not measured, which is different from a measured zero.
type Features map[string]float64

// Keys returns the feature names in sorted order.
func (f Features) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f Features) Clone() Features {
	if f == nil {
		return nil
	}
	out := make(Features, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge averages values present in both f and newer. Keys present on only one
// side are carried through unchanged.
func (f Features) Merge(newer Features) Features {
	out := make(Features, len(f)+len(newer))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range newer {
		if old, ok := f[k]; ok {
			out[k] = old/2 + v/2
			continue
		}
		out[k] = v
	}
	return out
}

// VoiceProfile associates a user with an enrolled passphrase and voice features.
type VoiceProfile struct {
	UserID     string
	Passphrase string
	Features   Features
	CreatedAt  time.Time
	UpdatedAt  *time.Time
}

// Info returns the redacted view of the profile.
func (p *VoiceProfile) Info() *ProfileInfo {
	if p == nil {
		return nil
	}
	return &ProfileInfo{
		UserID:       p.UserID,
		Passphrase:   p.Passphrase,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
		FeatureCount: len(p.Features),
	}
}

// ProfileInfo exposes profile metadata without raw feature values.
type ProfileInfo struct {
	UserID       string
	Passphrase   string
	CreatedAt    time.Time
	UpdatedAt    *time.Time
	FeatureCount int
}

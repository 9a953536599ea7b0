package radiology

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
)

const (
	BIRADS   = "BI-RADS"
	LIRADS   = "LI-RADS"
	TIRADS   = "TI-RADS"
	PIRADS   = "PI-RADS"
	LungRADS = "Lung-RADS"
)

// MaxJitter bounds the jitter amplitude in score points.
const MaxJitter = 5.0

var (
	ErrUnknownSystem  = errors.New("unknown RADS system")
	ErrUnknownFeature = errors.New("unknown RADS feature")
	ErrNoFeatures     = errors.New("no RADS features supplied")
)

// radsFeature scores one input. Raw values are clamped to [min, max] and
// normalized to [0, 1].
type radsFeature struct {
	name     string
	weight   float64
	min, max float64
}

func (f radsFeature) normalize(v float64) float64 {
	if v < f.min {
		v = f.min
	}
	if v > f.max {
		v = f.max
	}
	return (v - f.min) / (f.max - f.min)
}

// radsCategory covers scores below upTo.
type radsCategory struct {
	upTo           float64
	code           string
	label          string
	recommendation string
}

type radsSystem struct {
	name       string
	features   []radsFeature
	categories []radsCategory
}

func (s radsSystem) category(score float64) radsCategory {
	for _, c := range s.categories {
		if score < c.upTo {
			return c
		}
	}
	return s.categories[len(s.categories)-1]
}

var radsSystems = map[string]radsSystem{
	BIRADS: {
		name: BIRADS,
		features: []radsFeature{
			{"mass_shape", 0.20, 0, 2},
			{"mass_margin", 0.25, 0, 4},
			{"calcifications", 0.20, 0, 2},
			{"architectural_distortion", 0.15, 0, 1},
			{"size_mm", 0.10, 0, 50},
			{"breast_density", 0.10, 0, 3},
		},
		categories: []radsCategory{
			{10, "1", "Negative", "Routine screening mammography"},
			{25, "2", "Benign", "Routine screening mammography"},
			{45, "3", "Probably benign", "Short-interval (6 month) follow-up"},
			{70, "4", "Suspicious", "Tissue diagnosis recommended"},
			{math.Inf(1), "5", "Highly suggestive of malignancy", "Biopsy and appropriate action"},
		},
	},
	LIRADS: {
		name: LIRADS,
		features: []radsFeature{
			{"size_mm", 0.25, 0, 30},
			{"arterial_enhancement", 0.30, 0, 1},
			{"washout", 0.20, 0, 1},
			{"capsule", 0.15, 0, 1},
			{"threshold_growth", 0.10, 0, 1},
		},
		categories: []radsCategory{
			{15, "LR-1", "Definitely benign", "Return to routine surveillance"},
			{30, "LR-2", "Probably benign", "Return to routine surveillance"},
			{50, "LR-3", "Intermediate probability of malignancy", "Repeat or alternative imaging in 3-6 months"},
			{70, "LR-4", "Probably HCC", "Multidisciplinary discussion; repeat or alternative imaging in 3 months or biopsy"},
			{math.Inf(1), "LR-5", "Definitely HCC", "Multidisciplinary discussion for treatment"},
		},
	},
	TIRADS: {
		name: TIRADS,
		features: []radsFeature{
			{"composition", 0.20, 0, 2},
			{"echogenicity", 0.20, 0, 3},
			{"shape", 0.20, 0, 3},
			{"margin", 0.20, 0, 3},
			{"echogenic_foci", 0.20, 0, 3},
		},
		categories: []radsCategory{
			{15, "TR1", "Benign", "No FNA"},
			{30, "TR2", "Not suspicious", "No FNA"},
			{50, "TR3", "Mildly suspicious", "FNA if 2.5 cm or larger; follow up if 1.5 cm or larger"},
			{70, "TR4", "Moderately suspicious", "FNA if 1.5 cm or larger; follow up if 1 cm or larger"},
			{math.Inf(1), "TR5", "Highly suspicious", "FNA if 1 cm or larger; follow up if 0.5 cm or larger"},
		},
	},
	PIRADS: {
		name: PIRADS,
		features: []radsFeature{
			{"dwi_score", 0.35, 1, 5},
			{"t2w_score", 0.25, 1, 5},
			{"dce_positive", 0.15, 0, 1},
			{"lesion_size_mm", 0.15, 0, 20},
			{"extraprostatic_extension", 0.10, 0, 1},
		},
		categories: []radsCategory{
			{15, "1", "Very low", "Clinically significant cancer highly unlikely"},
			{30, "2", "Low", "Clinically significant cancer unlikely"},
			{50, "3", "Intermediate", "Consider biopsy based on clinical factors"},
			{70, "4", "High", "Biopsy recommended"},
			{math.Inf(1), "5", "Very high", "Biopsy strongly recommended"},
		},
	},
	LungRADS: {
		name: LungRADS,
		features: []radsFeature{
			{"nodule_size_mm", 0.40, 0, 30},
			{"nodule_type", 0.15, 0, 2},
			{"growth", 0.20, 0, 1},
			{"spiculation", 0.15, 0, 1},
			{"new_nodule", 0.10, 0, 1},
		},
		categories: []radsCategory{
			{15, "1", "Negative", "Continue annual screening with LDCT in 12 months"},
			{30, "2", "Benign appearance", "Continue annual screening with LDCT in 12 months"},
			{50, "3", "Probably benign", "6 month LDCT"},
			{70, "4A", "Suspicious", "3 month LDCT; PET/CT may be used for solid components 8 mm or larger"},
			{math.Inf(1), "4B", "Very suspicious", "Chest CT, PET/CT and/or tissue sampling"},
		},
	},
}

var systemAliases = map[string]string{
	"BIRADS": BIRADS, "LIRADS": LIRADS, "TIRADS": TIRADS, "PIRADS": PIRADS, "LUNGRADS": LungRADS,
}

// NormalizeSystem maps spellings such as "birads" or "lung_rads" to the
// canonical system name.
func NormalizeSystem(name string) (string, bool) {
	key := strings.ToUpper(strings.NewReplacer("-", "", "_", "", " ", "").Replace(name))
	canonical, ok := systemAliases[key]
	return canonical, ok
}

// Systems lists the supported systems with their feature names.
func Systems() map[string][]string {
	out := make(map[string][]string, len(radsSystems))
	for name, s := range radsSystems {
		for _, f := range s.features {
			out[name] = append(out[name], f.name)
		}
	}
	return out
}

type RADSResult struct {
	System         string             `json:"system"`
	Score          float64            `json:"score"`
	Category       string             `json:"category"`
	Label          string             `json:"label"`
	Recommendation string             `json:"recommendation"`
	Contributions  map[string]float64 `json:"contributions"`
}

// JitterFunc returns a value in [-1, 1].
type JitterFunc func() float64

// RandomJitter draws uniform jitter from r. Draws are serialized so one
// source can serve concurrent requests.
func RandomJitter(r *rand.Rand) JitterFunc {
	var mu sync.Mutex
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return r.Float64()*2 - 1
	}
}

// Calculator scores RADS features. With zero amplitude or a nil jitter
// source the score is a pure function of the input.
type Calculator struct {
	amplitude float64
	jitter    JitterFunc
}

// NewCalculator clamps amplitude to [0, MaxJitter].
func NewCalculator(amplitude float64, jitter JitterFunc) *Calculator {
	if amplitude < 0 {
		amplitude = 0
	}
	if amplitude > MaxJitter {
		amplitude = MaxJitter
	}
	return &Calculator{amplitude: amplitude, jitter: jitter}
}

// CalculateRADS scores features without jitter.
func CalculateRADS(system string, features map[string]float64) (*RADSResult, error) {
	return NewCalculator(0, nil).Calculate(system, features)
}

// Calculate computes the weighted score on a 0-100 scale and maps it to the
// system's category. Missing features count as their minimum.
func (c *Calculator) Calculate(system string, features map[string]float64) (*RADSResult, error) {
	name, ok := NormalizeSystem(system)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSystem, system)
	}
	if len(features) == 0 {
		return nil, ErrNoFeatures
	}
	sys := radsSystems[name]

	known := make(map[string]bool, len(sys.features))
	for _, f := range sys.features {
		known[f.name] = true
	}
	var unknown []string
	for k, v := range features {
		if !known[k] {
			unknown = append(unknown, k)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s is not a finite number", ErrInvalid, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w for %s: %s", ErrUnknownFeature, name, strings.Join(unknown, ", "))
	}

	var total, weights float64
	contributions := make(map[string]float64, len(sys.features))
	for _, f := range sys.features {
		part := f.weight * f.normalize(features[f.name])
		contributions[f.name] = round1(part * 100)
		total += part
		weights += f.weight
	}
	score := total / weights * 100

	if c.amplitude > 0 && c.jitter != nil {
		j := c.jitter()
		if j > 1 {
			j = 1
		}
		if j < -1 {
			j = -1
		}
		score += j * c.amplitude
	}
	score = round1(math.Max(0, math.Min(100, score)))

	cat := sys.category(score)
	return &RADSResult{
		System:         name,
		Score:          score,
		Category:       cat.code,
		Label:          cat.label,
		Recommendation: cat.recommendation,
		Contributions:  contributions,
	}, nil
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

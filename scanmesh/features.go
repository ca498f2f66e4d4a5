package scanmesh

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
)

// FeatureDetector scans mesh vertices for anatomical landmarks, contour
// lines and junctions using local curvature and shape index.
type FeatureDetector struct {
	cfg FeatureConfig
}

// NewFeatureDetector creates a FeatureDetector with the given configuration.
func NewFeatureDetector(cfg *FeatureConfig) *FeatureDetector {
	if cfg == nil {
		c := DefaultConfig().Feature
		cfg = &c
	}
	return &FeatureDetector{cfg: *cfg}
}

// Detect classifies every vertex against the landmark/contour/junction rules
// and returns the candidates that clear the adaptive confidence bar.
func (d *FeatureDetector) Detect(ctx context.Context, m *Mesh) ([]Feature, error) {
	if m == nil {
		return nil, ErrNilMesh
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.VertexCount() < 4 {
		return nil, ErrTooFewVertices
	}

	nbh := newNeighborhood(m)

	normals := m.Normals
	if len(normals) != len(m.Vertices) {
		min, max, _ := m.BoundingBox()
		interior := min.Add(max).Mul(0.5)
		normals = make([]r3.Vector, len(m.Vertices))
		for i := range m.Vertices {
			if m.IsRemoved(i) {
				continue
			}
			nbrs := nbh.nearest(m.Vertices[i], d.cfg.CurvatureNeighbors)
			normals[i] = estimateNormal(m.Vertices[i], nbrs, m.Vertices, interior)
		}
	}

	type candidate struct {
		idx        int
		class      FeatureClass
		confidence float64
	}
	candidates := make([]candidate, len(m.Vertices))
	present := make([]bool, len(m.Vertices))

	err := forEachChunk(ctx, len(m.Vertices), 512, func(start, end int) error {
		for i := start; i < end; i++ {
			if m.IsRemoved(i) {
				continue
			}
			p := m.Vertices[i]
			nbrs := nbh.within(p, d.cfg.NeighborRadius)
			curv := localCurvature(p, normals[i], normals, nbrs, m.Vertices)
			si := shapeIndex(p, nbrs, m.Vertices)

			class, conf, ok := d.classify(curv, si)
			if !ok {
				continue
			}

			// Strongly curved zones demand a higher confidence bar; damps
			// false positives where the surface is noisy but curved.
			bar := mix(d.cfg.BarLow, d.cfg.BarHigh, smoothstep(d.cfg.BarEdge0, d.cfg.BarEdge1, curv))
			if conf < bar {
				continue
			}

			candidates[i] = candidate{idx: i, class: class, confidence: conf}
			present[i] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("feature detection: %w", err)
	}

	var features []Feature
	for i := range candidates {
		if !present[i] {
			continue
		}
		c := candidates[i]
		features = append(features, Feature{
			ID:         uuid.NewString(),
			Position:   m.Vertices[c.idx],
			Normal:     normals[c.idx],
			Class:      c.class,
			Confidence: c.confidence,
		})
	}
	return features, nil
}

// classify applies the per-class curvature and shape-index rules. Confidence
// is a deterministic function of the two descriptors per class.
func (d *FeatureDetector) classify(curv, si float64) (FeatureClass, float64, bool) {
	abs := math.Abs(si)
	switch {
	case curv > d.cfg.LandmarkCurvature && abs > d.cfg.LandmarkShapeIndex:
		return FeatureLandmark, clamp01(0.5*curv + 0.5*abs), true
	case curv > d.cfg.ContourCurvature && abs < d.cfg.ContourShapeIndex:
		return FeatureContour, clamp01(0.7*curv + 0.3*(1-abs)), true
	case curv > d.cfg.JunctionCurvature && abs > d.cfg.JunctionShapeMin && abs < d.cfg.JunctionShapeMax:
		return FeatureJunction, clamp01(0.6*curv + 0.4*(1-2*math.Abs(abs-0.5))), true
	default:
		return 0, 0, false
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Preserver re-anchors vertices toward nearby detected features so that
// smoothing and decimation do not wash out clinically significant geometry.
type Preserver struct {
	cfg PreserveConfig
}

// NewPreserver creates a Preserver with the given configuration.
func NewPreserver(cfg *PreserveConfig) *Preserver {
	if cfg == nil {
		c := DefaultConfig().Preserve
		cfg = &c
	}
	return &Preserver{cfg: *cfg}
}

// Apply blends each vertex toward the weighted influence of features within
// the configured radius. A vertex with no nearby features is left untouched,
// exactly, bit for bit.
func (p *Preserver) Apply(ctx context.Context, m *Mesh, features []Feature) error {
	if m == nil {
		return ErrNilMesh
	}
	if len(features) == 0 {
		return nil
	}
	radius := p.cfg.FeatureRadius
	if radius <= 0 {
		return nil
	}
	strength := clamp01(p.cfg.PreservationStrength)

	radiusSq := radius * radius
	var changed atomic.Bool

	err := forEachChunk(ctx, len(m.Vertices), 512, func(start, end int) error {
		for i := start; i < end; i++ {
			if m.IsRemoved(i) {
				continue
			}
			v := m.Vertices[i]

			var totalWeight float64
			var pulledPos, pulledNorm r3.Vector
			for _, f := range features {
				diff := f.Position.Sub(v)
				distSq := diff.X*diff.X + diff.Y*diff.Y + diff.Z*diff.Z
				if distSq > radiusSq {
					continue
				}
				w := f.Confidence * (1 - distSq/radiusSq)
				if w <= 0 {
					continue
				}
				totalWeight += w
				pulledPos = pulledPos.Add(f.Position.Mul(w))
				pulledNorm = pulledNorm.Add(f.Normal.Mul(w))
			}
			if totalWeight == 0 {
				continue
			}

			blend := strength * math.Min(1, totalWeight)
			pulledPos = pulledPos.Mul(1 / totalWeight)
			m.Vertices[i] = v.Mul(1 - blend).Add(pulledPos.Mul(blend))

			if len(m.Normals) == len(m.Vertices) {
				pulledNorm = pulledNorm.Mul(1 / totalWeight)
				blended := m.Normals[i].Mul(1 - blend).Add(pulledNorm.Mul(blend))
				if n := blended.Norm(); n > 1e-12 {
					m.Normals[i] = blended.Mul(1 / n)
				}
			}
			changed.Store(true)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("feature preservation: %w", err)
	}

	if changed.Load() {
		m.LogStep("preserve_features")
	}
	return nil
}

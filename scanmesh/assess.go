package scanmesh

import (
	"context"
	"fmt"

	"github.com/golang/geo/r3"
)

// Assessor computes quality reports over mesh snapshots. Neighborhood
// queries go through a KD-tree, so a full assessment is O(n log n) rather
// than the quadratic scan the naive formulation suggests.
type Assessor struct {
	cfg AssessConfig
}

// NewAssessor creates an Assessor with the given configuration.
func NewAssessor(cfg *AssessConfig) *Assessor {
	if cfg == nil {
		c := DefaultConfig().Assess
		cfg = &c
	}
	return &Assessor{cfg: *cfg}
}

// Assess produces a quality report for the mesh using the mesh's own
// per-vertex confidence (1.0 where absent).
func (a *Assessor) Assess(ctx context.Context, m *Mesh) (*QualityReport, error) {
	return a.assess(ctx, m, nil)
}

// AssessWithConfidence produces a quality report using an external
// confidence map in place of the mesh's own, one value per vertex slot.
func (a *Assessor) AssessWithConfidence(ctx context.Context, m *Mesh, confidence []float64) (*QualityReport, error) {
	if m != nil && confidence != nil && len(confidence) != len(m.Vertices) {
		return nil, ErrConfidenceMismatch
	}
	return a.assess(ctx, m, confidence)
}

func (a *Assessor) assess(ctx context.Context, m *Mesh, confidence []float64) (*QualityReport, error) {
	if m == nil {
		return nil, ErrNilMesh
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	live := make([]int, 0, len(m.Vertices))
	var liveVerts []r3.Vector
	for i := range m.Vertices {
		if !m.IsRemoved(i) {
			live = append(live, i)
			liveVerts = append(liveVerts, m.Vertices[i])
		}
	}
	if len(live) < 4 {
		return nil, ErrTooFewVertices
	}

	min, max, _ := m.BoundingBox()

	report := &QualityReport{
		VertexCount:   len(live),
		TriangleCount: m.TriangleCount(),
	}

	report.PointDensity = float64(len(live)) / m.BoundingVolume()

	covered, total := voxelCoverage(liveVerts, min, max, a.cfg.VoxelResolution)
	report.Completeness = float64(covered) / float64(total)

	nbh := newNeighborhood(m)
	normals := m.Normals
	if len(normals) != len(m.Vertices) {
		var err error
		normals, err = a.estimateNormals(ctx, m, nbh, min, max)
		if err != nil {
			return nil, err
		}
	}

	noise, curvature, err := a.perVertexMetrics(ctx, m, nbh, normals, live)
	if err != nil {
		return nil, err
	}
	report.NoiseLevel = noise

	report.FeaturePreservation = featurePreservation(m, confidence, curvature, live, a.cfg.CurvatureFraction)

	report.Topology = assessTopology(m.Indices)

	report.Overall = a.grade(report)
	return report, nil
}

// estimateNormals derives per-vertex PCA normals for meshes whose sensor did
// not supply them. Normals are oriented away from the bounding-box center.
func (a *Assessor) estimateNormals(ctx context.Context, m *Mesh, nbh *neighborhood, min, max r3.Vector) ([]r3.Vector, error) {
	interior := min.Add(max).Mul(0.5)
	normals := make([]r3.Vector, len(m.Vertices))
	err := forEachChunk(ctx, len(m.Vertices), a.cfg.WorkerChunk, func(start, end int) error {
		for i := start; i < end; i++ {
			if m.IsRemoved(i) {
				continue
			}
			nbrs := nbh.nearest(m.Vertices[i], a.cfg.CurvatureNeighbors)
			normals[i] = estimateNormal(m.Vertices[i], nbrs, m.Vertices, interior)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("normal estimation: %w", err)
	}
	return normals, nil
}

// perVertexMetrics computes mean plane-deviation noise and per-vertex
// curvature in one parallel pass.
func (a *Assessor) perVertexMetrics(ctx context.Context, m *Mesh, nbh *neighborhood, normals []r3.Vector, live []int) (noise float64, curvature []float64, err error) {
	curvature = make([]float64, len(m.Vertices))
	deviations := make([]float64, len(m.Vertices))
	hasPlane := make([]bool, len(m.Vertices))

	err = forEachChunk(ctx, len(live), a.cfg.WorkerChunk, func(start, end int) error {
		for li := start; li < end; li++ {
			i := live[li]
			p := m.Vertices[i]
			nbrs := nbh.within(p, a.cfg.NeighborRadius)
			curvature[i] = localCurvature(p, normals[i], normals, nbrs, m.Vertices)

			if len(nbrs) < 3 {
				continue
			}
			pts := make([]r3.Vector, len(nbrs))
			for k, j := range nbrs {
				pts[k] = m.Vertices[j]
			}
			origin, normal, ferr := planeFit(pts)
			if ferr != nil {
				continue
			}
			deviations[i] = planeDistance(p, origin, normal)
			hasPlane[i] = true
		}
		return nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("noise estimation: %w", err)
	}

	var sum float64
	var count int
	for _, i := range live {
		if hasPlane[i] {
			sum += deviations[i]
			count++
		}
	}
	if count > 0 {
		noise = sum / float64(count)
	}
	return noise, curvature, nil
}

// featurePreservation is the mean confidence over vertices whose curvature
// exceeds the configured fraction of the maximum observed curvature. A mesh
// with no curvature field (a flat patch) has nothing to preserve and scores 1.
func featurePreservation(m *Mesh, confidence, curvature []float64, live []int, fraction float64) float64 {
	var maxCurv float64
	for _, i := range live {
		if curvature[i] > maxCurv {
			maxCurv = curvature[i]
		}
	}
	if maxCurv < 1e-12 {
		return 1.0
	}

	conf := func(i int) float64 {
		if confidence != nil {
			return confidence[i]
		}
		if len(m.Confidence) == len(m.Vertices) {
			return m.Confidence[i]
		}
		return 1.0
	}

	threshold := fraction * maxCurv
	var sum float64
	var count int
	for _, i := range live {
		if curvature[i] > threshold {
			sum += conf(i)
			count++
		}
	}
	if count == 0 {
		return 1.0
	}
	return sum / float64(count)
}

// assessTopology builds the edge-to-triangle-count multiset. A mesh is
// manifold when every edge is shared by exactly two triangles; edges seen
// once are boundary edges.
func assessTopology(indices []int) TopologyReport {
	type edge [2]int
	counts := make(map[edge]int, len(indices))

	add := func(a, b int) {
		if a > b {
			a, b = b, a
		}
		counts[edge{a, b}]++
	}
	for t := 0; t+2 < len(indices); t += 3 {
		add(indices[t], indices[t+1])
		add(indices[t+1], indices[t+2])
		add(indices[t+2], indices[t])
	}

	report := TopologyReport{Manifold: len(counts) > 0}
	for _, c := range counts {
		if c != 2 {
			report.Manifold = false
		}
		if c == 1 {
			report.BoundaryEdges++
		}
	}
	report.Watertight = report.Manifold && report.BoundaryEdges == 0
	return report
}

// grade derives the three-level overall quality. High means every acceptance
// threshold is met; medium means every threshold is met at the configured
// relaxation factor; anything else is low.
func (a *Assessor) grade(r *QualityReport) OverallQuality {
	if r.Acceptable(a.cfg) {
		return QualityHigh
	}
	f := a.cfg.MediumFactor
	if f <= 0 || f > 1 {
		f = 0.6
	}
	if r.Completeness >= f*a.cfg.MinCompleteness &&
		r.PointDensity >= f*a.cfg.MinDensity &&
		r.NoiseLevel <= a.cfg.MaxNoise/f &&
		r.FeaturePreservation >= f*a.cfg.MinFeaturePreservation {
		return QualityMedium
	}
	return QualityLow
}

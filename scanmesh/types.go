package scanmesh

import (
	"fmt"

	"github.com/golang/geo/r3"

	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/spatialmath"
)

// MeshSource identifies how a mesh was captured.
type MeshSource int

const (
	// SourceDepthSensor marks meshes built from structured depth frames.
	SourceDepthSensor MeshSource = iota
	// SourcePhotogrammetry marks meshes reconstructed from imagery.
	SourcePhotogrammetry
	// SourceFused marks meshes merged from both capture paths.
	SourceFused
)

func (s MeshSource) String() string {
	switch s {
	case SourceDepthSensor:
		return "depth_sensor"
	case SourcePhotogrammetry:
		return "photogrammetry"
	case SourceFused:
		return "fused"
	default:
		return "unknown"
	}
}

// removedVertex is the tombstone position for vertices collapsed away during
// decimation. Tombstoned vertices keep their slot until Compact runs so
// triangle indices stay stable mid-pass.
var removedVertex = r3.Vector{X: 1e30, Y: 1e30, Z: 1e30}

// Mesh is a triangle mesh snapshot of the scanned scalp surface. It owns
// per-vertex positions, normals and confidence plus flat triangle indices.
// One Mesh exists per capture session; the decimator and preserver mutate it
// in place, and it must be treated as immutable once handed to storage.
type Mesh struct {
	Vertices   []r3.Vector `json:"vertices"`
	Normals    []r3.Vector `json:"normals,omitempty"`
	Confidence []float64   `json:"confidence,omitempty"`
	Indices    []int       `json:"indices"`

	Source  MeshSource `json:"source"`
	History []string   `json:"history,omitempty"`
}

// NewMesh builds a mesh from vertex positions and triangle indices.
func NewMesh(vertices []r3.Vector, indices []int, source MeshSource) *Mesh {
	return &Mesh{
		Vertices: vertices,
		Indices:  indices,
		Source:   source,
	}
}

// VertexCount returns the number of live (non-tombstoned) vertices.
func (m *Mesh) VertexCount() int {
	n := 0
	for i := range m.Vertices {
		if !m.IsRemoved(i) {
			n++
		}
	}
	return n
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// IsRemoved reports whether vertex i has been tombstoned by decimation.
func (m *Mesh) IsRemoved(i int) bool {
	return m.Vertices[i] == removedVertex
}

// Validate checks the structural invariants: the index list is a whole
// number of triangles and every index references a live vertex.
func (m *Mesh) Validate() error {
	if m == nil {
		return ErrNilMesh
	}
	if len(m.Indices)%3 != 0 {
		return fmt.Errorf("%w: %d indices is not a multiple of 3", ErrInvalidTopology, len(m.Indices))
	}
	for _, idx := range m.Indices {
		if idx < 0 || idx >= len(m.Vertices) {
			return fmt.Errorf("%w: index %d out of range [0,%d)", ErrInvalidTopology, idx, len(m.Vertices))
		}
		if m.IsRemoved(idx) {
			return fmt.Errorf("%w: index %d references a removed vertex", ErrInvalidTopology, idx)
		}
	}
	return nil
}

// BoundingBox returns the axis-aligned bounds of the live vertices.
func (m *Mesh) BoundingBox() (min, max r3.Vector, ok bool) {
	first := true
	for i, v := range m.Vertices {
		if m.IsRemoved(i) {
			continue
		}
		if first {
			min, max = v, v
			first = false
			continue
		}
		if v.X < min.X {
			min.X = v.X
		}
		if v.Y < min.Y {
			min.Y = v.Y
		}
		if v.Z < min.Z {
			min.Z = v.Z
		}
		if v.X > max.X {
			max.X = v.X
		}
		if v.Y > max.Y {
			max.Y = v.Y
		}
		if v.Z > max.Z {
			max.Z = v.Z
		}
	}
	return min, max, !first
}

// BoundingVolume returns the volume of the bounding box. Degenerate axes
// (a flat patch has near-zero extent along its normal) are clamped so the
// volume never collapses to zero.
func (m *Mesh) BoundingVolume() float64 {
	min, max, ok := m.BoundingBox()
	if !ok {
		return 0
	}
	const minExtent = 1e-6
	dx := max.X - min.X
	dy := max.Y - min.Y
	dz := max.Z - min.Z
	if dx < minExtent {
		dx = minExtent
	}
	if dy < minExtent {
		dy = minExtent
	}
	if dz < minExtent {
		dz = minExtent
	}
	return dx * dy * dz
}

// Clone returns a deep copy of the mesh.
func (m *Mesh) Clone() *Mesh {
	c := &Mesh{
		Vertices: append([]r3.Vector(nil), m.Vertices...),
		Indices:  append([]int(nil), m.Indices...),
		Source:   m.Source,
	}
	if m.Normals != nil {
		c.Normals = append([]r3.Vector(nil), m.Normals...)
	}
	if m.Confidence != nil {
		c.Confidence = append([]float64(nil), m.Confidence...)
	}
	if m.History != nil {
		c.History = append([]string(nil), m.History...)
	}
	return c
}

// LogStep appends an entry to the mesh's processing history.
func (m *Mesh) LogStep(step string) {
	m.History = append(m.History, step)
}

// VertexCloud returns the live vertex positions as a point cloud, for
// building KD-trees over the mesh surface.
func (m *Mesh) VertexCloud() pointcloud.PointCloud {
	cloud := pointcloud.NewBasicEmpty()
	for i, v := range m.Vertices {
		if m.IsRemoved(i) {
			continue
		}
		//nolint:errcheck
		cloud.Set(v, nil)
	}
	return cloud
}

// Compact removes tombstoned vertices and remaps triangle indices. Triangles
// that reference a removed vertex are dropped. Index order of surviving
// vertices is preserved.
func (m *Mesh) Compact() {
	remap := make([]int, len(m.Vertices))
	next := 0
	for i := range m.Vertices {
		if m.IsRemoved(i) {
			remap[i] = -1
			continue
		}
		remap[i] = next
		if next != i {
			m.Vertices[next] = m.Vertices[i]
			if m.Normals != nil {
				m.Normals[next] = m.Normals[i]
			}
			if m.Confidence != nil {
				m.Confidence[next] = m.Confidence[i]
			}
		}
		next++
	}
	m.Vertices = m.Vertices[:next]
	if m.Normals != nil {
		m.Normals = m.Normals[:next]
	}
	if m.Confidence != nil {
		m.Confidence = m.Confidence[:next]
	}

	kept := m.Indices[:0]
	for t := 0; t+2 < len(m.Indices); t += 3 {
		a, b, c := remap[m.Indices[t]], remap[m.Indices[t+1]], remap[m.Indices[t+2]]
		if a < 0 || b < 0 || c < 0 {
			continue
		}
		if a == b || b == c || a == c {
			continue
		}
		kept = append(kept, a, b, c)
	}
	m.Indices = kept
}

// FeatureClass identifies the type of anatomical surface feature.
type FeatureClass int

const (
	// FeatureLandmark is an isolated high-curvature point such as a whorl center.
	FeatureLandmark FeatureClass = iota
	// FeatureContour is an elongated curvature line such as a hairline edge.
	FeatureContour
	// FeatureJunction is a saddle point where contours meet.
	FeatureJunction
)

func (f FeatureClass) String() string {
	switch f {
	case FeatureLandmark:
		return "landmark"
	case FeatureContour:
		return "contour"
	case FeatureJunction:
		return "junction"
	default:
		return "unknown"
	}
}

// Feature is a detected anatomical surface feature. Features are read-only
// constraints for the decimator and preserver once detected.
type Feature struct {
	ID         string
	Position   r3.Vector
	Normal     r3.Vector
	Class      FeatureClass
	Confidence float64
}

// Pose returns the feature as a pose for downstream collaborators: position
// at the feature point, orientation along the surface normal.
func (f Feature) Pose() spatialmath.Pose {
	n := f.Normal
	norm := n.Norm()
	if norm < 1e-9 {
		n = r3.Vector{Z: 1}
	} else {
		n = n.Mul(1.0 / norm)
	}
	ov := &spatialmath.OrientationVector{OX: n.X, OY: n.Y, OZ: n.Z}
	return spatialmath.NewPose(f.Position, ov)
}

// OverallQuality is the three-level grade derived from a quality report.
type OverallQuality int

const (
	QualityLow OverallQuality = iota
	QualityMedium
	QualityHigh
)

func (q OverallQuality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	case QualityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// TopologyReport summarizes edge-sharing structure of the mesh.
type TopologyReport struct {
	Manifold      bool
	Watertight    bool
	BoundaryEdges int
}

// QualityReport is an immutable snapshot of mesh quality at assessment time.
type QualityReport struct {
	PointDensity        float64 // live vertices per unit of bounding volume
	Completeness        float64 // covered voxels / expected voxels, 0..1
	NoiseLevel          float64 // mean abs deviation from local best-fit planes
	FeaturePreservation float64 // mean confidence over high-curvature vertices
	Topology            TopologyReport
	Overall             OverallQuality

	VertexCount   int
	TriangleCount int
}

// Acceptable applies the acceptance policy from the given thresholds.
func (r *QualityReport) Acceptable(cfg AssessConfig) bool {
	return r.Completeness >= cfg.MinCompleteness &&
		r.PointDensity >= cfg.MinDensity &&
		r.NoiseLevel <= cfg.MaxNoise &&
		r.FeaturePreservation >= cfg.MinFeaturePreservation
}

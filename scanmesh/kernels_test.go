package scanmesh

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
)

func TestPlaneFit_ExactPlane(t *testing.T) {
	//nolint:gosec
	rng := rand.New(rand.NewSource(11))
	points := make([]r3.Vector, 50)
	for i := range points {
		points[i] = r3.Vector{X: rng.Float64(), Y: rng.Float64(), Z: 2.0}
	}

	origin, normal, err := planeFit(points)
	if err != nil {
		t.Fatalf("planeFit failed: %v", err)
	}

	if math.Abs(origin.Z-2.0) > 1e-9 {
		t.Errorf("origin z = %f, want 2.0", origin.Z)
	}
	if math.Abs(math.Abs(normal.Z)-1.0) > 1e-6 {
		t.Errorf("normal = %v, want +/-Z", normal)
	}
	for _, p := range points {
		if d := planeDistance(p, origin, normal); d > 1e-9 {
			t.Fatalf("point %v has plane distance %g, want 0", p, d)
		}
	}
}

func TestPlaneFit_TooFewPoints(t *testing.T) {
	_, _, err := planeFit([]r3.Vector{{X: 1}, {Y: 1}})
	if err != ErrTooFewPoints {
		t.Errorf("expected ErrTooFewPoints, got %v", err)
	}
}

func TestTriangleQuality_Equilateral(t *testing.T) {
	v0 := r3.Vector{X: 0, Y: 0, Z: 0}
	v1 := r3.Vector{X: 1, Y: 0, Z: 0}
	v2 := r3.Vector{X: 0.5, Y: math.Sqrt(3) / 2, Z: 0}

	q, degenerate := triangleQuality(v0, v1, v2)
	if degenerate {
		t.Fatal("equilateral triangle flagged degenerate")
	}
	if math.Abs(q-1.0) > 1e-6 {
		t.Errorf("equilateral quality = %f, want 1.0", q)
	}
}

func TestTriangleQuality_Sliver(t *testing.T) {
	v0 := r3.Vector{X: 0, Y: 0, Z: 0}
	v1 := r3.Vector{X: 1, Y: 0, Z: 0}
	v2 := r3.Vector{X: 0.5, Y: 0.01, Z: 0}

	q, degenerate := triangleQuality(v0, v1, v2)
	if degenerate {
		t.Fatal("sliver with area > 1e-6 flagged degenerate")
	}
	if q > 0.2 {
		t.Errorf("sliver quality = %f, want < 0.2", q)
	}
}

func TestTriangleQuality_Degenerate(t *testing.T) {
	v0 := r3.Vector{X: 0, Y: 0, Z: 0}
	v1 := r3.Vector{X: 1, Y: 0, Z: 0}
	v2 := r3.Vector{X: 2, Y: 0, Z: 0}

	q, degenerate := triangleQuality(v0, v1, v2)
	if !degenerate {
		t.Error("collinear triangle not flagged degenerate")
	}
	if q != 0 {
		t.Errorf("degenerate quality = %f, want 0", q)
	}
}

func TestLocalCurvature_FlatAndCreased(t *testing.T) {
	positions := []r3.Vector{
		{X: 0, Y: 0, Z: 0},
		{X: 0.01, Y: 0, Z: 0},
		{X: 0, Y: 0.01, Z: 0},
		{X: -0.01, Y: 0, Z: 0},
	}
	up := r3.Vector{Z: 1}
	flatNormals := []r3.Vector{up, up, up, up}
	neighbors := []int{1, 2, 3}

	if c := localCurvature(positions[0], up, flatNormals, neighbors, positions); c != 0 {
		t.Errorf("flat curvature = %f, want 0", c)
	}

	tilted := []r3.Vector{up, {X: 1}, {Y: 1}, {X: -1}}
	c := localCurvature(positions[0], up, tilted, neighbors, positions)
	if math.Abs(c-1.0) > 1e-9 {
		t.Errorf("creased curvature = %f, want 1.0 (orthogonal neighbor normals)", c)
	}

	if c := localCurvature(positions[0], up, flatNormals, nil, positions); c != 0 {
		t.Errorf("curvature with no neighbors = %f, want 0", c)
	}
}

func TestShapeIndex_SphericalCap(t *testing.T) {
	// Points on a unit sphere around the north pole: both principal
	// curvatures equal, so |shape index| should approach 1.
	pole := r3.Vector{Z: 1}
	var positions []r3.Vector
	positions = append(positions, pole)
	for ring := 1; ring <= 3; ring++ {
		theta := float64(ring) * 0.25
		for k := 0; k < 12; k++ {
			phi := float64(k) / 12 * 2 * math.Pi
			positions = append(positions, r3.Vector{
				X: math.Sin(theta) * math.Cos(phi),
				Y: math.Sin(theta) * math.Sin(phi),
				Z: math.Cos(theta),
			})
		}
	}
	neighbors := make([]int, len(positions)-1)
	for i := range neighbors {
		neighbors[i] = i + 1
	}

	si := shapeIndex(pole, neighbors, positions)
	if math.Abs(si) < 0.8 {
		t.Errorf("spherical cap |shape index| = %f, want >= 0.8", math.Abs(si))
	}
	t.Logf("spherical cap shape index: %f", si)
}

func TestShapeIndex_Plane(t *testing.T) {
	positions := []r3.Vector{
		{X: 0, Y: 0},
		{X: 0.01, Y: 0},
		{X: 0, Y: 0.01},
		{X: -0.01, Y: 0.01},
		{X: 0.01, Y: -0.01},
	}
	si := shapeIndex(positions[0], []int{1, 2, 3, 4}, positions)
	if si != 0 {
		t.Errorf("planar shape index = %f, want 0", si)
	}
}

func TestShapeIndex_EmptyNeighborhood(t *testing.T) {
	if si := shapeIndex(r3.Vector{}, nil, nil); si != 0 {
		t.Errorf("empty neighborhood shape index = %f, want 0", si)
	}
}

func TestVoxelCoverage_FullGrid(t *testing.T) {
	var points []r3.Vector
	for x := 0; x < 12; x++ {
		for y := 0; y < 12; y++ {
			for z := 0; z < 12; z++ {
				points = append(points, r3.Vector{X: float64(x) / 11, Y: float64(y) / 11, Z: float64(z) / 11})
			}
		}
	}
	covered, total := voxelCoverage(points, r3.Vector{}, r3.Vector{X: 1, Y: 1, Z: 1}, 6)
	if total != 216 {
		t.Errorf("total = %d, want 216", total)
	}
	if covered != total {
		t.Errorf("covered = %d, want %d", covered, total)
	}
}

func TestVoxelCoverage_FlatPatchCollapsesAxis(t *testing.T) {
	var points []r3.Vector
	for x := 0; x < 12; x++ {
		for y := 0; y < 12; y++ {
			points = append(points, r3.Vector{X: float64(x) / 11, Y: float64(y) / 11, Z: 0.5})
		}
	}
	min := r3.Vector{Z: 0.5}
	max := r3.Vector{X: 1, Y: 1, Z: 0.5}
	covered, total := voxelCoverage(points, min, max, 6)
	if total != 36 {
		t.Errorf("flat patch total = %d, want 36 (z axis collapsed)", total)
	}
	if covered != total {
		t.Errorf("flat patch covered = %d, want %d", covered, total)
	}
}

func TestSmoothstepMix(t *testing.T) {
	if v := smoothstep(0.3, 0.8, 0.1); v != 0 {
		t.Errorf("smoothstep below edge0 = %f, want 0", v)
	}
	if v := smoothstep(0.3, 0.8, 0.9); v != 1 {
		t.Errorf("smoothstep above edge1 = %f, want 1", v)
	}
	mid := smoothstep(0.3, 0.8, 0.55)
	if math.Abs(mid-0.5) > 1e-9 {
		t.Errorf("smoothstep midpoint = %f, want 0.5", mid)
	}
	if v := mix(0.5, 0.9, 0); v != 0.5 {
		t.Errorf("mix(.., 0) = %f, want 0.5", v)
	}
	if v := mix(0.5, 0.9, 1); v != 0.9 {
		t.Errorf("mix(.., 1) = %f, want 0.9", v)
	}
}

func TestNeighborhood_Queries(t *testing.T) {
	m := makeGridMesh(5, 5, 0.01, 0)
	nbh := newNeighborhood(m)

	center := m.Vertices[12] // middle of the 5x5 grid
	within := nbh.within(center, 0.011)
	if len(within) != 4 {
		t.Errorf("within radius found %d neighbors, want 4 (N/S/E/W)", len(within))
	}
	for _, i := range within {
		if i == 12 {
			t.Error("within() returned the query vertex itself")
		}
	}

	nearest := nbh.nearest(center, 8)
	if len(nearest) != 8 {
		t.Errorf("nearest(8) found %d neighbors", len(nearest))
	}
}

// makeGridMesh builds an nx-by-ny planar grid in the XY plane with the given
// spacing, triangulated into quads, with +Z normals and unit confidence.
// bumpAmplitude > 0 adds a sinusoidal height field for non-planar test cases.
func makeGridMesh(nx, ny int, spacing, bumpAmplitude float64) *Mesh {
	vertices := make([]r3.Vector, 0, nx*ny)
	normals := make([]r3.Vector, 0, nx*ny)
	confidence := make([]float64, 0, nx*ny)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			px := float64(x) * spacing
			py := float64(y) * spacing
			pz := 0.0
			if bumpAmplitude > 0 {
				pz = bumpAmplitude * math.Sin(px/spacing/2) * math.Cos(py/spacing/2)
			}
			vertices = append(vertices, r3.Vector{X: px, Y: py, Z: pz})
			normals = append(normals, r3.Vector{Z: 1})
			confidence = append(confidence, 1.0)
		}
	}

	var indices []int
	for y := 0; y < ny-1; y++ {
		for x := 0; x < nx-1; x++ {
			i := y*nx + x
			indices = append(indices, i, i+1, i+nx)
			indices = append(indices, i+1, i+nx+1, i+nx)
		}
	}

	m := NewMesh(vertices, indices, SourceDepthSensor)
	m.Normals = normals
	m.Confidence = confidence
	return m
}

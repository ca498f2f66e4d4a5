package scanmesh

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rdk/pointcloud"
)

// neighborhood wraps a KD-tree over mesh vertices with a position-to-index
// map so kernel code can work in vertex indices. Queries share the index
// space of the mesh the neighborhood was built from.
type neighborhood struct {
	kd    *pointcloud.KDTree
	index map[r3.Vector]int
}

// newNeighborhood builds a spatial index over the live vertices of a mesh.
func newNeighborhood(m *Mesh) *neighborhood {
	idx := make(map[r3.Vector]int, len(m.Vertices))
	for i, v := range m.Vertices {
		if m.IsRemoved(i) {
			continue
		}
		idx[v] = i
	}
	return &neighborhood{
		kd:    pointcloud.ToKDTree(m.VertexCloud()),
		index: idx,
	}
}

// within returns the indices of vertices within radius of p, excluding p itself.
func (n *neighborhood) within(p r3.Vector, radius float64) []int {
	found := n.kd.RadiusNearestNeighbors(p, radius, false)
	out := make([]int, 0, len(found))
	for _, nb := range found {
		if i, ok := n.index[nb.P]; ok {
			out = append(out, i)
		}
	}
	return out
}

// nearest returns the indices of the k nearest vertices to p, excluding p itself.
func (n *neighborhood) nearest(p r3.Vector, k int) []int {
	found := n.kd.KNearestNeighbors(p, k, false)
	out := make([]int, 0, len(found))
	for _, nb := range found {
		if i, ok := n.index[nb.P]; ok {
			out = append(out, i)
		}
	}
	return out
}

// localCurvature computes the inverse-distance-weighted average of
// 1 - dot(normal, neighborNormal) over the given neighbor set. Returns 0
// when the vertex has no neighbors inside the radius.
func localCurvature(point, normal r3.Vector, normals []r3.Vector, neighbors []int, positions []r3.Vector) float64 {
	var sum, weight float64
	for _, j := range neighbors {
		dist := positions[j].Sub(point).Norm()
		w := 1.0 / math.Max(dist, 1e-9)
		sum += w * (1.0 - normal.Dot(normals[j]))
		weight += w
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}

// shapeIndex estimates the curvature-type descriptor at a point from the
// weighted covariance of position differences to its neighbors. The two
// principal curvatures are approximated from the covariance eigenvalues
// (normal-direction variance relative to each tangent spread) and combined
// as 2/pi * atan2(k1+k2, k1-k2). Returns 0 for empty or near-singular
// neighborhoods.
func shapeIndex(point r3.Vector, neighbors []int, positions []r3.Vector) float64 {
	if len(neighbors) < 3 {
		return 0
	}

	var cov [9]float64 // 3x3 row-major
	var totalW float64
	for _, j := range neighbors {
		d := positions[j].Sub(point)
		w := 1.0 / math.Max(d.Norm(), 1e-9)
		cov[0] += w * d.X * d.X
		cov[1] += w * d.X * d.Y
		cov[2] += w * d.X * d.Z
		cov[4] += w * d.Y * d.Y
		cov[5] += w * d.Y * d.Z
		cov[8] += w * d.Z * d.Z
		totalW += w
	}
	if totalW < 1e-12 {
		return 0
	}
	cov[3] = cov[1]
	cov[6] = cov[2]
	cov[7] = cov[5]
	for i := range cov {
		cov[i] /= totalW
	}

	covMat := mat.NewSymDense(3, []float64{
		cov[0], cov[1], cov[2],
		cov[3], cov[4], cov[5],
		cov[6], cov[7], cov[8],
	})

	var eigen mat.EigenSym
	if ok := eigen.Factorize(covMat, false); !ok {
		return 0
	}

	// Eigenvalues ascending: vals[0] is variance along the normal, the other
	// two are the tangent spreads.
	vals := eigen.Values(nil)
	if vals[1] < 1e-12 || vals[2] < 1e-12 {
		return 0
	}
	k1 := vals[0] / vals[1]
	k2 := vals[0] / vals[2]

	if math.Abs(k1)+math.Abs(k2) < 1e-12 {
		return 0
	}
	return (2.0 / math.Pi) * math.Atan2(k1+k2, k1-k2)
}

// triangleQuality scores a triangle in [0,1] by combining the normalized
// minimum interior angle with the equilateral area ratio 4*sqrt(3)*A / (a²+b²+c²).
// Triangles with Heron area below 1e-6 are flagged degenerate, not silently
// accepted.
func triangleQuality(v0, v1, v2 r3.Vector) (quality float64, degenerate bool) {
	a := v1.Sub(v0).Norm()
	b := v2.Sub(v1).Norm()
	c := v0.Sub(v2).Norm()

	// Heron's formula.
	s := (a + b + c) / 2
	under := s * (s - a) * (s - b) * (s - c)
	if under <= 0 {
		return 0, true
	}
	area := math.Sqrt(under)
	if area < 1e-6 {
		return 0, true
	}

	minAngle := math.Min(interiorAngle(v0, v1, v2), math.Min(interiorAngle(v1, v2, v0), interiorAngle(v2, v0, v1)))
	angleScore := minAngle / (math.Pi / 3)

	areaScore := 4 * math.Sqrt(3) * area / (a*a + b*b + c*c)

	return 0.5*angleScore + 0.5*areaScore, false
}

// interiorAngle returns the angle at vertex v between edges to p and q.
func interiorAngle(v, p, q r3.Vector) float64 {
	e1 := p.Sub(v)
	e2 := q.Sub(v)
	n1, n2 := e1.Norm(), e2.Norm()
	if n1 < 1e-12 || n2 < 1e-12 {
		return 0
	}
	cos := e1.Dot(e2) / (n1 * n2)
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos)
}

// planeFit computes a least-squares plane through the given points. The
// normal is the covariance eigenvector of the smallest eigenvalue.
func planeFit(points []r3.Vector) (origin, normal r3.Vector, err error) {
	if len(points) < 3 {
		return r3.Vector{}, r3.Vector{}, ErrTooFewPoints
	}

	var cx, cy, cz float64
	for _, p := range points {
		cx += p.X
		cy += p.Y
		cz += p.Z
	}
	n := float64(len(points))
	origin = r3.Vector{X: cx / n, Y: cy / n, Z: cz / n}

	var cov [9]float64
	for _, p := range points {
		dx := p.X - origin.X
		dy := p.Y - origin.Y
		dz := p.Z - origin.Z
		cov[0] += dx * dx
		cov[1] += dx * dy
		cov[2] += dx * dz
		cov[4] += dy * dy
		cov[5] += dy * dz
		cov[8] += dz * dz
	}
	cov[3] = cov[1]
	cov[6] = cov[2]
	cov[7] = cov[5]
	for i := range cov {
		cov[i] /= n
	}

	covMat := mat.NewSymDense(3, []float64{
		cov[0], cov[1], cov[2],
		cov[3], cov[4], cov[5],
		cov[6], cov[7], cov[8],
	})

	var eigen mat.EigenSym
	if ok := eigen.Factorize(covMat, true); !ok {
		return r3.Vector{}, r3.Vector{}, ErrSingularSystem
	}

	var vecs mat.Dense
	eigen.VectorsTo(&vecs)

	// Smallest eigenvalue's eigenvector (column 0) is the plane normal.
	normal = r3.Vector{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}
	norm := normal.Norm()
	if norm < 1e-12 {
		return r3.Vector{}, r3.Vector{}, ErrSingularSystem
	}
	return origin, normal.Mul(1.0 / norm), nil
}

// planeDistance returns the absolute distance from p to the plane.
func planeDistance(p, origin, normal r3.Vector) float64 {
	return math.Abs(p.Sub(origin).Dot(normal))
}

// estimateNormal computes a PCA surface normal from a neighbor set, oriented
// away from the given interior reference point.
func estimateNormal(point r3.Vector, neighbors []int, positions []r3.Vector, interior r3.Vector) r3.Vector {
	pts := make([]r3.Vector, 0, len(neighbors)+1)
	pts = append(pts, point)
	for _, j := range neighbors {
		pts = append(pts, positions[j])
	}
	_, normal, err := planeFit(pts)
	if err != nil {
		return r3.Vector{Z: 1}
	}
	outward := point.Sub(interior)
	if normal.Dot(outward) < 0 {
		return normal.Mul(-1)
	}
	return normal
}

// voxelCoverage counts occupied cells under a fixed-resolution voxelization
// of the bounding box. Axes with near-zero extent collapse to a single cell
// so a flat patch is judged by its surface coverage, not phantom volume.
func voxelCoverage(points []r3.Vector, min, max r3.Vector, resolution int) (covered, total int) {
	if resolution < 1 {
		resolution = 1
	}
	const minExtent = 1e-9
	ext := max.Sub(min)

	cells := func(extent float64) int {
		if extent < minExtent {
			return 1
		}
		return resolution
	}
	nx, ny, nz := cells(ext.X), cells(ext.Y), cells(ext.Z)

	cell := func(v, lo, extent float64, n int) int {
		if n == 1 || extent < minExtent {
			return 0
		}
		c := int((v - lo) / extent * float64(n))
		if c >= n {
			c = n - 1
		}
		if c < 0 {
			c = 0
		}
		return c
	}

	occupied := make(map[int]struct{}, len(points))
	for _, p := range points {
		ix := cell(p.X, min.X, ext.X, nx)
		iy := cell(p.Y, min.Y, ext.Y, ny)
		iz := cell(p.Z, min.Z, ext.Z, nz)
		occupied[(ix*ny+iy)*nz+iz] = struct{}{}
	}
	return len(occupied), nx * ny * nz
}

// smoothstep is the Hermite interpolation of x clamped between edge0 and edge1.
func smoothstep(edge0, edge1, x float64) float64 {
	if edge1 <= edge0 {
		if x < edge0 {
			return 0
		}
		return 1
	}
	t := (x - edge0) / (edge1 - edge0)
	t = math.Max(0, math.Min(1, t))
	return t * t * (3 - 2*t)
}

// mix linearly interpolates between a and b by t.
func mix(a, b, t float64) float64 {
	return a + (b-a)*t
}

// forEachChunk runs fn over [0,n) in chunk-sized ranges across workers.
// Cancellation is checked per chunk.
func forEachChunk(ctx context.Context, n, chunk int, fn func(start, end int) error) error {
	if chunk < 1 {
		chunk = 256
	}
	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		start, end := start, end
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(start, end)
		})
	}
	return g.Wait()
}

package scanmesh

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// quadric is a symmetric 4x4 quadratic form stored as its upper triangle:
// [q00 q01 q02 q03 q11 q12 q13 q22 q23 q33]. Evaluating it at a homogeneous
// point approximates the squared distance to the planes accumulated into it.
type quadric [10]float64

// addPlane accumulates the outer product of the plane equation (n, d),
// scaled by weight.
func (q *quadric) addPlane(n r3.Vector, d, weight float64) {
	q[0] += weight * n.X * n.X
	q[1] += weight * n.X * n.Y
	q[2] += weight * n.X * n.Z
	q[3] += weight * n.X * d
	q[4] += weight * n.Y * n.Y
	q[5] += weight * n.Y * n.Z
	q[6] += weight * n.Y * d
	q[7] += weight * n.Z * n.Z
	q[8] += weight * n.Z * d
	q[9] += weight * d * d
}

// add accumulates another quadric into q.
func (q *quadric) add(o *quadric) {
	for i := range q {
		q[i] += o[i]
	}
}

// scale multiplies the whole form by s.
func (q *quadric) scale(s float64) {
	for i := range q {
		q[i] *= s
	}
}

// evaluate returns v^T Q v for the homogeneous point (v, 1).
func (q *quadric) evaluate(v r3.Vector) float64 {
	return q[0]*v.X*v.X + 2*q[1]*v.X*v.Y + 2*q[2]*v.X*v.Z + 2*q[3]*v.X +
		q[4]*v.Y*v.Y + 2*q[5]*v.Y*v.Z + 2*q[6]*v.Y +
		q[7]*v.Z*v.Z + 2*q[8]*v.Z +
		q[9]
}

// optimalPosition solves the 3x3 system for the least-error merge position.
// Near-singular systems (|det| < 1e-10) report ok=false; the caller must
// treat that edge as uncollapsible.
func (q *quadric) optimalPosition() (r3.Vector, bool) {
	a := mat.NewDense(3, 3, []float64{
		q[0], q[1], q[2],
		q[1], q[4], q[5],
		q[2], q[5], q[7],
	})
	if math.Abs(mat.Det(a)) < 1e-10 {
		return r3.Vector{}, false
	}
	b := mat.NewVecDense(3, []float64{-q[3], -q[6], -q[8]})
	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return r3.Vector{}, false
	}
	return r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}, true
}

// Decimator simplifies meshes with quadric-error-metric edge collapses.
// Vertices near detected features carry inflated quadrics and resist
// removal. Collapsed vertices are tombstoned in place so indices stay stable
// until the final compaction.
type Decimator struct {
	cfg DecimateConfig
}

// NewDecimator creates a Decimator with the given configuration.
func NewDecimator(cfg *DecimateConfig) *Decimator {
	if cfg == nil {
		c := DefaultConfig().Decimate
		cfg = &c
	}
	return &Decimator{cfg: *cfg}
}

// Decimate collapses edges whose quadric error at the optimal merge position
// stays at or below the quality threshold, in ascending cost order, ties
// broken by lowest vertex index. The mesh is mutated in place and returned.
// A run that accepts no collapse returns the mesh bit-identical to its input.
func (d *Decimator) Decimate(ctx context.Context, m *Mesh, features []Feature) (*Mesh, error) {
	if m == nil {
		return nil, ErrNilMesh
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.VertexCount() < 4 {
		return nil, ErrTooFewVertices
	}

	importance := d.vertexImportance(m, features)

	maxPasses := d.cfg.MaxPasses
	if maxPasses < 1 {
		maxPasses = 1
	}

	totalCollapsed := 0
	for pass := 0; pass < maxPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		collapsed, err := d.collapsePass(ctx, m, importance)
		if err != nil {
			return nil, err
		}
		if collapsed == 0 {
			break
		}
		totalCollapsed += collapsed
	}

	if totalCollapsed > 0 {
		m.Compact()
		m.LogStep(fmt.Sprintf("decimate: removed %d vertices", totalCollapsed))
	}
	return m, nil
}

// vertexImportance derives per-vertex feature importance: the strongest
// confidence-weighted pull of any feature within the feature radius.
func (d *Decimator) vertexImportance(m *Mesh, features []Feature) []float64 {
	importance := make([]float64, len(m.Vertices))
	radius := d.cfg.FeatureRadius
	if radius <= 0 || len(features) == 0 {
		return importance
	}
	for i, v := range m.Vertices {
		if m.IsRemoved(i) {
			continue
		}
		for _, f := range features {
			dist := f.Position.Sub(v).Norm()
			if dist > radius {
				continue
			}
			w := f.Confidence * (1 - dist/radius)
			if w > importance[i] {
				importance[i] = w
			}
		}
	}
	return importance
}

// collapsePass runs one full quadric-accumulate / evaluate / apply cycle.
// The three stages are strictly ordered: all quadrics exist before any
// candidate is costed, and all candidates are costed before any collapse
// is applied.
func (d *Decimator) collapsePass(ctx context.Context, m *Mesh, importance []float64) (int, error) {
	nTri := len(m.Indices) / 3

	// Stage 1: per-triangle planes, then per-vertex quadrics.
	planes := make([]struct {
		n r3.Vector
		d float64
		ok bool
	}, nTri)
	err := forEachChunk(ctx, nTri, d.cfg.WorkerChunk, func(start, end int) error {
		for t := start; t < end; t++ {
			v0 := m.Vertices[m.Indices[3*t]]
			v1 := m.Vertices[m.Indices[3*t+1]]
			v2 := m.Vertices[m.Indices[3*t+2]]
			n := v1.Sub(v0).Cross(v2.Sub(v0))
			norm := n.Norm()
			if norm < 1e-12 {
				continue
			}
			n = n.Mul(1 / norm)
			planes[t].n = n
			planes[t].d = -n.Dot(v0)
			planes[t].ok = true
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("quadric planes: %w", err)
	}

	adjacency := make([][]int, len(m.Vertices))
	for t := 0; t < nTri; t++ {
		for k := 0; k < 3; k++ {
			i := m.Indices[3*t+k]
			adjacency[i] = append(adjacency[i], t)
		}
	}

	quadrics := make([]quadric, len(m.Vertices))
	err = forEachChunk(ctx, len(m.Vertices), d.cfg.WorkerChunk, func(start, end int) error {
		for i := start; i < end; i++ {
			if m.IsRemoved(i) {
				continue
			}
			for _, t := range adjacency[i] {
				if !planes[t].ok {
					continue
				}
				quadrics[i].addPlane(planes[t].n, planes[t].d, 1)
			}
			// Features resist decimation.
			quadrics[i].scale(1 + importance[i]*importance[i])
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("quadric accumulation: %w", err)
	}

	// Stage 2: cost every unique edge.
	type edgeKey [2]int
	seen := make(map[edgeKey]struct{}, nTri*2)
	type candidate struct {
		a, b int // a < b
		cost float64
		pos  r3.Vector
	}
	var candidates []candidate

	consider := func(a, b int) {
		if a > b {
			a, b = b, a
		}
		key := edgeKey{a, b}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}

		if m.Vertices[a].Sub(m.Vertices[b]).Norm() > d.cfg.MaxEdgeLength {
			return
		}

		var combined quadric
		combined.add(&quadrics[a])
		combined.add(&quadrics[b])
		pos, ok := combined.optimalPosition()
		if !ok {
			return
		}
		cost := combined.evaluate(pos)
		if cost > d.cfg.QualityThreshold {
			return
		}
		candidates = append(candidates, candidate{a: a, b: b, cost: cost, pos: pos})
	}
	for t := 0; t < nTri; t++ {
		consider(m.Indices[3*t], m.Indices[3*t+1])
		consider(m.Indices[3*t+1], m.Indices[3*t+2])
		consider(m.Indices[3*t+2], m.Indices[3*t])
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].cost != candidates[j].cost {
			return candidates[i].cost < candidates[j].cost
		}
		if candidates[i].a != candidates[j].a {
			return candidates[i].a < candidates[j].a
		}
		return candidates[i].b < candidates[j].b
	})

	// Stage 3: greedy, non-overlapping collapses. The lower-indexed vertex
	// survives at the optimal position; the other is tombstoned.
	touched := make([]bool, len(m.Vertices))
	remap := make(map[int]int)
	collapsed := 0

	for _, c := range candidates {
		if touched[c.a] || touched[c.b] {
			continue
		}
		touched[c.a] = true
		touched[c.b] = true

		m.Vertices[c.a] = c.pos
		if len(m.Normals) == len(m.Vertices) {
			sum := m.Normals[c.a].Add(m.Normals[c.b])
			if n := sum.Norm(); n > 1e-12 {
				m.Normals[c.a] = sum.Mul(1 / n)
			}
		}
		if len(m.Confidence) == len(m.Vertices) {
			m.Confidence[c.a] = math.Min(m.Confidence[c.a], m.Confidence[c.b])
		}

		m.Vertices[c.b] = removedVertex
		remap[c.b] = c.a
		collapsed++
	}

	if collapsed == 0 {
		return 0, nil
	}

	// Rewrite indices toward surviving vertices and drop triangles that
	// degenerated. Surviving vertices keep their slots, so indices written
	// here stay valid in later passes.
	kept := m.Indices[:0]
	for t := 0; t < nTri; t++ {
		a, b, c := m.Indices[3*t], m.Indices[3*t+1], m.Indices[3*t+2]
		if to, ok := remap[a]; ok {
			a = to
		}
		if to, ok := remap[b]; ok {
			b = to
		}
		if to, ok := remap[c]; ok {
			c = to
		}
		if a == b || b == c || a == c {
			continue
		}
		kept = append(kept, a, b, c)
	}
	m.Indices = kept

	return collapsed, nil
}

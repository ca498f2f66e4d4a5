// Package meshio persists mesh snapshots to disk: JSON for lossless
// round-trips between pipeline stages, PCD for inspection in point cloud
// viewers.
package meshio

import (
	"encoding/json"
	"fmt"
	"os"

	"go.viam.com/rdk/pointcloud"

	"github.com/biotinker/scalpscan/scanmesh"
)

// Load reads and parses a mesh snapshot from a JSON file.
func Load(path string) (*scanmesh.Mesh, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mesh file: %w", err)
	}
	var m scanmesh.Mesh
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing mesh file: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mesh in %s: %w", path, err)
	}
	return &m, nil
}

// Save writes a mesh snapshot to a JSON file.
func Save(m *scanmesh.Mesh, path string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("serialize mesh: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write mesh to %s: %w", path, err)
	}
	return nil
}

// ExportPCD writes the mesh's vertex cloud to a PCD file in binary format.
// Connectivity is not representable in PCD and is dropped.
func ExportPCD(m *scanmesh.Mesh, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	if err := pointcloud.ToPCD(m.VertexCloud(), file, pointcloud.PCDBinary); err != nil {
		return fmt.Errorf("write PCD: %w", err)
	}
	return nil
}

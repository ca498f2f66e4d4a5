package meshio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/biotinker/scalpscan/scanmesh"
)

func testMesh() *scanmesh.Mesh {
	m := scanmesh.NewMesh(
		[]r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}, {X: 0, Y: 0, Z: 1}},
		[]int{0, 1, 2, 0, 1, 3, 0, 2, 3, 1, 2, 3},
		scanmesh.SourceFused,
	)
	m.Confidence = []float64{0.9, 0.8, 0.7, 0.6}
	return m
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh.json")
	orig := testMesh()

	if err := Save(orig, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.VertexCount() != orig.VertexCount() {
		t.Errorf("vertex count = %d, want %d", loaded.VertexCount(), orig.VertexCount())
	}
	if loaded.TriangleCount() != orig.TriangleCount() {
		t.Errorf("triangle count = %d, want %d", loaded.TriangleCount(), orig.TriangleCount())
	}
	if loaded.Source != scanmesh.SourceFused {
		t.Errorf("source = %v, want %v", loaded.Source, scanmesh.SourceFused)
	}
	for i, c := range orig.Confidence {
		if loaded.Confidence[i] != c {
			t.Errorf("confidence[%d] = %v, want %v", i, loaded.Confidence[i], c)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRejectsInvalidMesh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	body := `{"vertices":[{"X":0,"Y":0,"Z":0}],"indices":[0,1,2]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for out-of-range indices")
	}
}

func TestExportPCD(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh.pcd")
	if err := ExportPCD(testMesh(), path); err != nil {
		t.Fatalf("export: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() == 0 {
		t.Error("PCD file is empty")
	}
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/biotinker/scalpscan"
	"github.com/biotinker/scalpscan/internal/meshio"
	"github.com/biotinker/scalpscan/scanmesh"

	"go.viam.com/rdk/logging"
)

const validSteps = "assess, features, decimate, full"

func main() {
	meshPath := flag.String("mesh", "", "path to mesh snapshot JSON file")
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	step := flag.String("step", "", "step to run: "+validSteps)
	outPath := flag.String("out", "", "path to write the processed mesh JSON (optional)")
	pcdPath := flag.String("pcd", "", "path to export the vertex cloud as PCD (optional)")
	flag.Parse()

	logger := logging.NewLogger("scalpscan-cli")

	if *meshPath == "" {
		logger.Fatal("-mesh flag is required")
	}
	if *step == "" {
		logger.Fatal("-step flag is required; valid steps: " + validSteps)
	}

	cfg := scalpscan.DefaultConfig()
	if *configPath != "" {
		loaded, err := scalpscan.LoadConfig(*configPath)
		if err != nil {
			logger.Fatal(err)
		}
		cfg = *loaded
	}

	mesh, err := meshio.Load(*meshPath)
	if err != nil {
		logger.Fatal(err)
	}
	logger.Infof("Loaded mesh: %d vertices, %d triangles", mesh.VertexCount(), mesh.TriangleCount())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Infof("=== Running step: %s ===", *step)

	switch *step {
	case "assess":
		err = runAssess(ctx, &cfg.Mesh, mesh, logger)
	case "features":
		err = runFeatures(ctx, &cfg.Mesh, mesh, logger)
	case "decimate":
		mesh, err = runDecimate(ctx, &cfg.Mesh, mesh, logger)
	case "full":
		mesh, err = runFull(ctx, &cfg.Mesh, mesh, logger)
	default:
		logger.Fatalf("unknown step %q; valid steps: %s", *step, validSteps)
	}
	if err != nil {
		logger.Fatal(err)
	}

	if *outPath != "" {
		if err := meshio.Save(mesh, *outPath); err != nil {
			logger.Fatal(err)
		}
		logger.Infof("Wrote processed mesh to %s", *outPath)
	}
	if *pcdPath != "" {
		if err := meshio.ExportPCD(mesh, *pcdPath); err != nil {
			logger.Fatal(err)
		}
		logger.Infof("Exported vertex cloud to %s", *pcdPath)
	}

	logger.Infof("Step %s completed successfully", *step)
}

func runAssess(ctx context.Context, cfg *scanmesh.Config, mesh *scanmesh.Mesh, logger logging.Logger) error {
	report, err := scanmesh.NewAssessor(&cfg.Assess).Assess(ctx, mesh)
	if err != nil {
		return err
	}
	logger.Infof("Overall quality: %s", report.Overall)
	logger.Infof("  point density:        %.1f pts/m^3", report.PointDensity)
	logger.Infof("  noise level:          %.4f", report.NoiseLevel)
	logger.Infof("  completeness:         %.2f", report.Completeness)
	logger.Infof("  feature preservation: %.2f", report.FeaturePreservation)
	logger.Infof("  topology: manifold=%v watertight=%v boundary_edges=%d",
		report.Topology.Manifold, report.Topology.Watertight, report.Topology.BoundaryEdges)
	return nil
}

func runFeatures(ctx context.Context, cfg *scanmesh.Config, mesh *scanmesh.Mesh, logger logging.Logger) error {
	features, err := scanmesh.NewFeatureDetector(&cfg.Feature).Detect(ctx, mesh)
	if err != nil {
		return err
	}
	logger.Infof("Features found: %d", len(features))
	for i, f := range features {
		logger.Infof("  Feature %d (%s): %v confidence=%.2f pos=(%.4f, %.4f, %.4f)",
			i, f.ID, f.Class, f.Confidence, f.Position.X, f.Position.Y, f.Position.Z)
	}
	return nil
}

func runDecimate(ctx context.Context, cfg *scanmesh.Config, mesh *scanmesh.Mesh, logger logging.Logger) (*scanmesh.Mesh, error) {
	before := mesh.VertexCount()
	out, err := scanmesh.NewDecimator(&cfg.Decimate).Decimate(ctx, mesh, nil)
	if err != nil {
		return nil, err
	}
	logger.Infof("Decimated %d -> %d vertices", before, out.VertexCount())
	return out, nil
}

func runFull(ctx context.Context, cfg *scanmesh.Config, mesh *scanmesh.Mesh, logger logging.Logger) (*scanmesh.Mesh, error) {
	features, err := scanmesh.NewFeatureDetector(&cfg.Feature).Detect(ctx, mesh)
	if err != nil {
		return nil, err
	}
	logger.Infof("Features found: %d", len(features))

	if err := scanmesh.NewPreserver(&cfg.Preserve).Apply(ctx, mesh, features); err != nil {
		return nil, err
	}

	mesh, err = runDecimate(ctx, cfg, mesh, logger)
	if err != nil {
		return nil, err
	}

	if err := runAssess(ctx, cfg, mesh, logger); err != nil {
		return nil, err
	}
	return mesh, nil
}

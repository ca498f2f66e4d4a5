package scanmesh

// Config holds all configuration for the mesh quality core.
type Config struct {
	Assess   AssessConfig   `yaml:"assess"`
	Feature  FeatureConfig  `yaml:"feature"`
	Preserve PreserveConfig `yaml:"preserve"`
	Decimate DecimateConfig `yaml:"decimate"`
}

// AssessConfig holds parameters and acceptance thresholds for quality assessment.
type AssessConfig struct {
	NeighborRadius         float64 `yaml:"neighbor_radius"`          // Radius for noise/curvature neighborhoods
	CurvatureNeighbors     int     `yaml:"curvature_neighbors"`      // K for PCA normal/curvature estimation
	VoxelResolution        int     `yaml:"voxel_resolution"`         // Cells per bounding-box axis for completeness
	CurvatureFraction      float64 `yaml:"curvature_fraction"`       // Fraction of max curvature marking a feature vertex
	MinCompleteness        float64 `yaml:"min_completeness"`         // Acceptance floor for completeness
	MinDensity             float64 `yaml:"min_density"`              // Acceptance floor for point density
	MaxNoise               float64 `yaml:"max_noise"`                // Acceptance ceiling for noise level
	MinFeaturePreservation float64 `yaml:"min_feature_preservation"` // Acceptance floor for feature preservation
	MediumFactor           float64 `yaml:"medium_factor"`            // Threshold relaxation for the medium grade
	WorkerChunk            int     `yaml:"worker_chunk"`             // Vertices per parallel work unit
}

// FeatureConfig holds classification rules for anatomical feature detection.
type FeatureConfig struct {
	CurvatureNeighbors int     `yaml:"curvature_neighbors"` // K for PCA curvature estimation
	NeighborRadius     float64 `yaml:"neighbor_radius"`     // Radius for curvature neighborhoods

	LandmarkCurvature  float64 `yaml:"landmark_curvature"`   // Min curvature for landmark class
	LandmarkShapeIndex float64 `yaml:"landmark_shape_index"` // Min |shape index| for landmark class
	ContourCurvature   float64 `yaml:"contour_curvature"`    // Min curvature for contour class
	ContourShapeIndex  float64 `yaml:"contour_shape_index"`  // Max |shape index| for contour class
	JunctionCurvature  float64 `yaml:"junction_curvature"`   // Min curvature for junction class
	JunctionShapeMin   float64 `yaml:"junction_shape_min"`   // Lower |shape index| bound for junction class
	JunctionShapeMax   float64 `yaml:"junction_shape_max"`   // Upper |shape index| bound for junction class

	// Adaptive acceptance bar: candidates in strongly curved zones must clear
	// a higher confidence threshold, damping false positives where the surface
	// is noisy but curved. Threshold = mix(BarLow, BarHigh, smoothstep(Edge0, Edge1, curvature)).
	BarLow   float64 `yaml:"bar_low"`
	BarHigh  float64 `yaml:"bar_high"`
	BarEdge0 float64 `yaml:"bar_edge0"`
	BarEdge1 float64 `yaml:"bar_edge1"`
}

// PreserveConfig holds parameters for feature-weighted vertex preservation.
type PreserveConfig struct {
	FeatureRadius        float64 `yaml:"feature_radius"`        // Influence radius around each feature
	PreservationStrength float64 `yaml:"preservation_strength"` // Blend strength, 0..1
}

// DecimateConfig holds parameters for quadric-error-metric simplification.
type DecimateConfig struct {
	QualityThreshold float64 `yaml:"quality_threshold"` // Max quadric error to accept a collapse
	MaxEdgeLength    float64 `yaml:"max_edge_length"`   // Collapses of longer edges are rejected
	FeatureRadius    float64 `yaml:"feature_radius"`    // Radius within which features raise vertex importance
	MaxPasses        int     `yaml:"max_passes"`        // Hard cap on collapse passes
	WorkerChunk      int     `yaml:"worker_chunk"`      // Vertices per parallel work unit
}

// DefaultConfig returns a Config with sensible defaults for a scalp scan
// captured in meters at clinical density.
func DefaultConfig() Config {
	return Config{
		Assess: AssessConfig{
			NeighborRadius:         0.02,
			CurvatureNeighbors:     12,
			VoxelResolution:        6,
			CurvatureFraction:      0.2,
			MinCompleteness:        0.85,
			MinDensity:             100,
			MaxNoise:               0.1,
			MinFeaturePreservation: 0.8,
			MediumFactor:           0.6,
			WorkerChunk:            512,
		},
		Feature: FeatureConfig{
			CurvatureNeighbors: 12,
			NeighborRadius:     0.02,
			LandmarkCurvature:  0.7,
			LandmarkShapeIndex: 0.8,
			ContourCurvature:   0.5,
			ContourShapeIndex:  0.3,
			JunctionCurvature:  0.6,
			JunctionShapeMin:   0.4,
			JunctionShapeMax:   0.6,
			BarLow:             0.5,
			BarHigh:            0.9,
			BarEdge0:           0.3,
			BarEdge1:           0.8,
		},
		Preserve: PreserveConfig{
			FeatureRadius:        0.03,
			PreservationStrength: 0.6,
		},
		Decimate: DecimateConfig{
			QualityThreshold: 0.001,
			MaxEdgeLength:    0.05,
			FeatureRadius:    0.03,
			MaxPasses:        10,
			WorkerChunk:      512,
		},
	}
}

// Package detect defines the detection types exchanged with the external
// inference backend and the filter applied before tracking.
//
// Key types: Detection, BoundingBox, Point, Detector, Capabilities.
//
// Dependency rule: detect depends on nothing else under internal/vision.
// Inference itself happens behind the Detector interface.
package detect

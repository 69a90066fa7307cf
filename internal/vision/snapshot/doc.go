// Package snapshot writes annotated JPEG copies of the frames the save
// policy selects. Each detection gets a class-colored outline and a
// "class NN%" label; files are named after the capture time and the
// detected types.
package snapshot

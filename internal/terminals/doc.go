// Package terminals infers the two terminal points of a bus line from its
// historical position samples.
//
// Samples are binned into the shared grid (Aggregate), cells where the median
// speed is zero become candidates (FilterStationary), and SelectEndpoints
// picks the busiest candidate as the start and the candidate with the best
// combined volume and distance score as the end. Estimator runs that
// pipeline for one line; Runner fans it out over many lines.
//
// Nothing in this package mutates the grid or keeps state between lines.
package terminals

// Package sim generates seeded Byzantine sensor datasets, runs them through
// the fusion engine and scores the engine against median and mean baselines.
//
// This package implements:
//   - Generate: one truthful, one noisy and one drifting liar sensor
//   - WriteCSV / ReadCSV: the "ts,s0..sN,ground_truth" dataset format
//   - Score: engine vs median vs mean against the ground truth
//   - Sweep: Score across many seeds on a worker pool
package sim

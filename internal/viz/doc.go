// Package viz renders solve results and solver progress in the terminal and
// as image files.
//
//   - [Summary]: a lipgloss panel with cost, status, timings and metrics
//   - [Chart]: asciigraph line charts of named series over time
//   - [PhasePortrait]: a Braille [Canvas] plot of one series against another
//   - [SavePNG]: gonum/plot figures for reports
//   - [Progress]: a Bubble Tea model fed by the solver observer
//
// # Key Bindings
//
// The progress view quits and cancels the solve on q or ctrl+c.
package viz

// Package monitor serves the agent's HTTP surface: JSON stats, stored
// scenes and saved frames, go-echarts debug pages, and PNG throughput plots
// rendered with gonum/plot.
package monitor

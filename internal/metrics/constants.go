package metrics

const Namespace = "tetris_recorder"

// StageBuckets spans sub-millisecond locate stages to slow digit reads.
var StageBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5}

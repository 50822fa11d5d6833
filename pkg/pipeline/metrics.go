package pipeline

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Metrics measures how much the stages changed the written frames.
type Metrics struct {
	// Frames is the number of frames compared
	Frames int

	// ChangedPixels counts output samples that differ from their input
	ChangedPixels int64

	// RMSE is the root mean square difference between input and output
	RMSE float64

	// MeanIn and MeanOut are the average frame means before and after
	MeanIn  float64
	MeanOut float64
}

type metricsAccumulator struct {
	bufIn, bufOut []float64
	meansIn       []float64
	meansOut      []float64
	sumSq         float64
	samples       int64
	changed       int64
}

func (m *metricsAccumulator) add(in, out []uint16) {
	if cap(m.bufIn) < len(in) {
		m.bufIn = make([]float64, len(in))
		m.bufOut = make([]float64, len(in))
	}
	m.bufIn = m.bufIn[:len(in)]
	m.bufOut = m.bufOut[:len(in)]

	for i := range in {
		a, b := float64(in[i]), float64(out[i])
		m.bufIn[i], m.bufOut[i] = a, b
		if a != b {
			m.changed++
			m.sumSq += (a - b) * (a - b)
		}
	}
	m.samples += int64(len(in))
	m.meansIn = append(m.meansIn, stat.Mean(m.bufIn, nil))
	m.meansOut = append(m.meansOut, stat.Mean(m.bufOut, nil))
}

func (m *metricsAccumulator) result() Metrics {
	res := Metrics{Frames: len(m.meansIn), ChangedPixels: m.changed}
	if m.samples == 0 {
		return res
	}
	res.RMSE = math.Sqrt(m.sumSq / float64(m.samples))
	res.MeanIn = stat.Mean(m.meansIn, nil)
	res.MeanOut = stat.Mean(m.meansOut, nil)
	return res
}

package chunk

import "fmt"

// Window is one batch: the padded range [Start, End) read into memory
// together. Its interior [Start+Pad, End-Pad) is what the batch produces.
type Window struct {
	Start int
	End   int
	Pad   int
}

// Len returns the number of frames in the window.
func (w Window) Len() int { return w.End - w.Start }

// DataStart is the first frame the window produces.
func (w Window) DataStart() int { return w.Start + w.Pad }

// DataEnd is one past the last frame the window produces.
func (w Window) DataEnd() int { return w.End - w.Pad }

// Batches splits the padded span [start, end) into windows of at most
// batchSize frames. Consecutive windows overlap by 2*pad so that their
// interiors tile [start+pad, end-pad) with no gaps and no overlaps. The
// final window may be shorter than batchSize.
func Batches(start, end, batchSize, pad int) ([]Window, error) {
	if pad < 0 {
		return nil, fmt.Errorf("pad must be non-negative, got %d", pad)
	}
	if batchSize <= 2*pad {
		return nil, fmt.Errorf("batch size %d must exceed twice the padding %d", batchSize, pad)
	}
	if end-start <= 2*pad {
		return nil, nil
	}

	step := batchSize - 2*pad
	var windows []Window
	for b := start; ; b += step {
		e := b + batchSize
		if e > end {
			e = end
		}
		windows = append(windows, Window{Start: b, End: e, Pad: pad})
		if e >= end {
			break
		}
	}
	return windows, nil
}

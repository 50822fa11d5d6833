package dezinger

import (
	"fmt"

	"tomoprep/internal/models"
)

func errShape[T models.Sample](in, out *models.FrameStack[T]) error {
	if in == nil || out == nil {
		return fmt.Errorf("input and output frame stacks are required")
	}
	return fmt.Errorf("input frames are %dx%d but output frames are %dx%d",
		in.Width(), in.Height(), out.Width(), out.Height())
}

func errBatchSize(batch, in, out int) error {
	return fmt.Errorf("batch of %d frames does not fit buffers of %d input and %d output frames", batch, in, out)
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tomoprep/internal/models"
	"tomoprep/pkg/frameio"
	"tomoprep/pkg/visualization"
)

var (
	sliceDir      string
	slicePattern  string
	sliceAxis     string
	slicePosition int
	sliceFrom     int
	sliceTo       int
	sliceOut      string
	sliceAll      bool
	sliceRegion   []int
)

// sliceCmd cuts a projection, sinogram or column view out of a range of
// frames on disk, typically the output of run.
var sliceCmd = &cobra.Command{
	Use:   "slice",
	Short: "Save a 2D view through a range of frames as PNG",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := sliceDir
		if dir == "" {
			dir = cfg.Output.OutputDir
		}
		crop := frameio.Crop{Width: cfg.Crop.Width, Height: cfg.Crop.Height}
		src, err := frameio.NewDirSource(dir, slicePattern, crop, nil)
		if err != nil {
			return err
		}
		stack, err := loadStack(cmd.Context(), src, sliceFrom, sliceTo)
		if err != nil {
			return err
		}

		stack, err = cutRegion(stack, sliceRegion)
		if err != nil {
			return err
		}

		viewer := visualization.NewViewer(stack)
		if sliceAll {
			if err := viewer.SaveSliceSequence(sliceAxis, sliceOut); err != nil {
				return err
			}
			logger.Info("Saved slice sequence", zap.String("axis", sliceAxis), zap.String("dir", sliceOut))
			return nil
		}
		img, err := viewer.ExtractSlice(sliceAxis, slicePosition)
		if err != nil {
			return err
		}
		if err := viewer.SaveSlice(img, sliceOut); err != nil {
			return err
		}
		logger.Info("Saved slice",
			zap.String("axis", sliceAxis),
			zap.Int("position", slicePosition),
			zap.String("path", sliceOut))
		return nil
	},
}

func registerSliceFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&sliceDir, "dir", "", "Directory holding the frames (default: configured output)")
	f.StringVar(&slicePattern, "pattern", frameio.DefaultPattern, "Printf pattern of frame file names")
	f.StringVar(&sliceAxis, "axis", "y", "Axis: z (projection), y (sinogram) or x (column)")
	f.IntVar(&slicePosition, "position", 0, "Position along the axis")
	f.IntVar(&sliceFrom, "from", 0, "First frame")
	f.IntVar(&sliceTo, "to", 0, "One past the last frame")
	f.StringVar(&sliceOut, "out", "slice.png", "Output file, or directory with --all")
	f.BoolVar(&sliceAll, "all", false, "Save every position along the axis")
	f.IntSliceVar(&sliceRegion, "region", nil, "Detector region x,y,width,height to keep before slicing")
}

// cutRegion keeps the detector region x,y,width,height of every frame.
// An empty region returns the stack unchanged.
func cutRegion(stack *models.FrameStack[uint16], region []int) (*models.FrameStack[uint16], error) {
	if len(region) == 0 {
		return stack, nil
	}
	if len(region) != 4 {
		return nil, fmt.Errorf("region needs x,y,width,height, got %v", region)
	}
	return visualization.NewViewer(stack).ExtractRegion(region[0], region[1], 0, region[2], region[3], stack.Len())
}

// loadStack reads frames [from, to) of src into one stack.
func loadStack(ctx context.Context, src frameio.Source, from, to int) (*models.FrameStack[uint16], error) {
	if from < 0 || to <= from {
		return nil, fmt.Errorf("invalid frame range [%d,%d)", from, to)
	}
	stack := models.NewFrameStack[uint16](src.Width(), src.Height(), to-from)
	for k := from; k < to; k++ {
		frame, err := src.ReadFrame(ctx, k)
		if err != nil {
			return nil, err
		}
		copy(stack.Frame(k-from), frame)
	}
	return stack, nil
}

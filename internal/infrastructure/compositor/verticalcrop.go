package compositor

import (
	"context"

	"stagecast/internal/core/domain"

	"go.uber.org/zap"
)

// CropTargetProvider chooses where the 9:16 crop window should center,
// normalized to [0,1] across the source width. CenterTarget is the default;
// activity- or face-driven providers plug in here.
type CropTargetProvider interface {
	TargetCenterX(frame domain.VideoFrame) float64
}

// CenterTarget keeps the crop centered.
type CenterTarget struct{}

func (CenterTarget) TargetCenterX(domain.VideoFrame) float64 { return 0.5 }

// VerticalCropper derives a 9:16 portrait stream from the 16:9 composite. It
// is an optional, independent consumer of the same composite frames. The crop
// window never jumps: each frame the center moves toward the provider's
// target by an exponential smoothing step.
type VerticalCropper struct {
	factor   float64
	provider CropTargetProvider

	current float64
	primed  bool

	output *CompositeOutput
	logger *zap.SugaredLogger
}

func NewVerticalCropper(smoothingFactor float64, provider CropTargetProvider, logger *zap.SugaredLogger) *VerticalCropper {
	if provider == nil {
		provider = CenterTarget{}
	}
	return &VerticalCropper{
		factor:   smoothingFactor,
		provider: provider,
		output:   NewCompositeOutput(),
		logger:   logger,
	}
}

// Output is the portrait composite stream.
func (v *VerticalCropper) Output() *CompositeOutput { return v.output }

// Run consumes composite frames until the channel closes or ctx is cancelled.
func (v *VerticalCropper) Run(ctx context.Context, frames <-chan domain.VideoFrame) {
	defer v.output.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			v.output.publishVideo(v.Apply(frame))
		}
	}
}

// Apply crops one frame around the smoothed center.
func (v *VerticalCropper) Apply(frame domain.VideoFrame) domain.VideoFrame {
	target := v.provider.TargetCenterX(frame)
	if !v.primed {
		v.current = target
		v.primed = true
	} else {
		v.current = Smooth(v.current, target, v.factor)
	}

	cropW := frame.Height * 9 / 16
	if cropW > frame.Width {
		cropW = frame.Width
	}

	centerPx := int(v.current * float64(frame.Width))
	x := centerPx - cropW/2
	if x < 0 {
		x = 0
	}
	if x+cropW > frame.Width {
		x = frame.Width - cropW
	}

	out := domain.VideoFrame{
		Width:    cropW,
		Height:   frame.Height,
		Pix:      make([]byte, cropW*frame.Height*4),
		Captured: frame.Captured,
	}
	for y := 0; y < frame.Height; y++ {
		srcOff := (y*frame.Width + x) * 4
		dstOff := y * cropW * 4
		copy(out.Pix[dstOff:dstOff+cropW*4], frame.Pix[srcOff:srcOff+cropW*4])
	}
	return out
}

// Smooth is one exponential smoothing step: current moves toward target by
// factor of the remaining distance. With factor in (0,1] the sequence
// converges monotonically and never overshoots.
func Smooth(current, target, factor float64) float64 {
	return current + (target-current)*factor
}

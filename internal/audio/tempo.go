package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// unityTolerance is how close to 1.0 a ratio must be to skip stretching.
const unityTolerance = 1e-3

// StepStretcher time-scales a clip by a ratio inside its supported bounds.
// A ratio above 1 shortens the clip.
type StepStretcher interface {
	StretchStep(ctx context.Context, in, out string, ratio float64) error
}

// PlanTempoChain splits ratio into factors that each lie in [minStep, maxStep]
// and multiply back to ratio. A ratio within tolerance of 1 yields no steps.
func PlanTempoChain(ratio, minStep, maxStep float64) ([]float64, error) {
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) || ratio <= 0 {
		return nil, fmt.Errorf("tempo chain: invalid ratio %v", ratio)
	}
	if minStep <= 0 || minStep >= 1 || maxStep <= 1 {
		return nil, fmt.Errorf("tempo chain: invalid step bounds [%v, %v]", minStep, maxStep)
	}
	if math.Abs(ratio-1) < unityTolerance {
		return nil, nil
	}

	var steps []float64
	remaining := ratio
	for remaining > maxStep {
		steps = append(steps, maxStep)
		remaining /= maxStep
	}
	for remaining < minStep {
		steps = append(steps, minStep)
		remaining /= minStep
	}
	if math.Abs(remaining-1) >= unityTolerance || len(steps) == 0 {
		steps = append(steps, remaining)
	}
	return steps, nil
}

// ChainStretcher applies an arbitrary ratio as a sequence of bounded steps.
type ChainStretcher struct {
	Step    StepStretcher
	MinStep float64
	MaxStep float64
}

// Stretch writes in time-scaled by ratio to out. Intermediate files sit next
// to out and are removed before returning.
func (c ChainStretcher) Stretch(ctx context.Context, in, out string, ratio float64) error {
	if c.Step == nil {
		return errors.New("tempo chain: no step stretcher configured")
	}
	steps, err := PlanTempoChain(ratio, c.MinStep, c.MaxStep)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return copyFile(in, out)
	}

	base := strings.TrimSuffix(out, filepath.Ext(out))
	current := in
	var temps []string
	defer func() {
		for _, tmp := range temps {
			_ = os.Remove(tmp)
		}
	}()
	for i, step := range steps {
		target := out
		if i < len(steps)-1 {
			target = fmt.Sprintf("%s.step%d.wav", base, i+1)
			temps = append(temps, target)
		}
		if err := c.Step.StretchStep(ctx, current, target, step); err != nil {
			return fmt.Errorf("tempo chain step %d/%d (x%.4f): %w", i+1, len(steps), step, err)
		}
		current = target
	}
	return nil
}

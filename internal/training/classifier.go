package training

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Artifact is the serialized classifier blob stored in object storage.
// Labels maps class index to identity ID; Weights is row-per-class.
type Artifact struct {
	Dim         int         `json:"dim"`
	Labels      []int64     `json:"labels"`
	Weights     [][]float64 `json:"weights"`
	Bias        []float64   `json:"bias"`
	Accuracy    float64     `json:"accuracy"`
	SampleCount int         `json:"sample_count"`
	Epochs      int         `json:"epochs"`
	TrainedAt   time.Time   `json:"trained_at"`
}

type sample struct {
	vec   []float64
	class int
}

// trainSeed fixes the shuffle order so a training run over the same
// data always produces the same weights.
const trainSeed = 42

// fitClassifier runs multinomial logistic regression by SGD over the
// given samples. Weights start at zero and the per-epoch shuffle is
// seeded, so the result is fully deterministic.
func fitClassifier(samples []sample, numClasses, dim, epochs int, lr float64) ([][]float64, []float64) {
	weights := make([][]float64, numClasses)
	for k := range weights {
		weights[k] = make([]float64, dim)
	}
	bias := make([]float64, numClasses)

	rng := rand.New(rand.NewSource(trainSeed))
	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}

	probs := make([]float64, numClasses)
	for epoch := 0; epoch < epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
		for _, idx := range order {
			s := samples[idx]
			softmaxInto(weights, bias, s.vec, probs)
			for k := 0; k < numClasses; k++ {
				grad := probs[k]
				if k == s.class {
					grad -= 1.0
				}
				if grad == 0 {
					continue
				}
				step := lr * grad
				wk := weights[k]
				for d, x := range s.vec {
					wk[d] -= step * x
				}
				bias[k] -= step
			}
		}
	}
	return weights, bias
}

// softmaxInto writes class probabilities for vec into out.
func softmaxInto(weights [][]float64, bias []float64, vec []float64, out []float64) {
	maxLogit := math.Inf(-1)
	for k, wk := range weights {
		logit := bias[k]
		for d, x := range vec {
			logit += wk[d] * x
		}
		out[k] = logit
		if logit > maxLogit {
			maxLogit = logit
		}
	}
	var sum float64
	for k := range out {
		out[k] = math.Exp(out[k] - maxLogit)
		sum += out[k]
	}
	for k := range out {
		out[k] /= sum
	}
}

// Predict returns the most probable identity for the given vector and
// its probability.
func (a *Artifact) Predict(vec []float32) (int64, float64, error) {
	if len(vec) != a.Dim {
		return 0, 0, fmt.Errorf("vector dimension %d does not match model dimension %d", len(vec), a.Dim)
	}
	x := make([]float64, len(vec))
	for i, v := range vec {
		x[i] = float64(v)
	}

	probs := make([]float64, len(a.Labels))
	softmaxInto(a.Weights, a.Bias, x, probs)

	best := 0
	for k := 1; k < len(probs); k++ {
		if probs[k] > probs[best] {
			best = k
		}
	}
	return a.Labels[best], probs[best], nil
}

// evaluate scores samples against the trained parameters and returns
// overall accuracy plus per-class (support, correct) counts.
func evaluate(weights [][]float64, bias []float64, samples []sample, numClasses int) (float64, []int, []int) {
	support := make([]int, numClasses)
	correct := make([]int, numClasses)
	probs := make([]float64, numClasses)

	total := 0
	for _, s := range samples {
		softmaxInto(weights, bias, s.vec, probs)
		best := 0
		for k := 1; k < numClasses; k++ {
			if probs[k] > probs[best] {
				best = k
			}
		}
		support[s.class]++
		if best == s.class {
			correct[s.class]++
			total++
		}
	}

	if len(samples) == 0 {
		return 0, support, correct
	}
	return float64(total) / float64(len(samples)), support, correct
}

// stratifiedSplit splits samples 80/20 per class. A class keeps at
// least one sample in the training portion; single-sample classes
// contribute nothing to the holdout.
func stratifiedSplit(samples []sample, numClasses int) (train, holdout []sample) {
	byClass := make([][]sample, numClasses)
	for _, s := range samples {
		byClass[s.class] = append(byClass[s.class], s)
	}

	rng := rand.New(rand.NewSource(trainSeed))
	for _, group := range byClass {
		rng.Shuffle(len(group), func(i, j int) {
			group[i], group[j] = group[j], group[i]
		})
		nHold := len(group) / 5
		if len(group)-nHold < 1 {
			nHold = 0
		}
		train = append(train, group[:len(group)-nHold]...)
		holdout = append(holdout, group[len(group)-nHold:]...)
	}
	return train, holdout
}

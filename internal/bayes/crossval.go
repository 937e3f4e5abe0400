package bayes

// DefaultAlphaGrid is the smoothing grid searched during training.
var DefaultAlphaGrid = []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.0}

// DefaultFolds is the cross-validation fold count.
const DefaultFolds = 5

// CVResult is the outcome of a cross-validated hyperparameter search.
type CVResult struct {
	Alpha    float64
	Accuracy float64 // mean held-out accuracy at the chosen α
	F1       float64 // macro F1 over pooled held-out predictions at the chosen α
}

// CrossValidate searches the α grid with k-fold cross-validation and
// returns the α maximizing mean held-out accuracy. Folds are contiguous,
// non-overlapping partitions of the samples in their given order, so the
// result is deterministic for a fixed sample order. Ties break toward the
// earlier grid entry.
func CrossValidate(samples []Sample, alphas []float64, folds int) CVResult {
	if len(alphas) == 0 {
		alphas = DefaultAlphaGrid
	}
	if folds < 2 {
		folds = DefaultFolds
	}
	if folds > len(samples) {
		folds = len(samples)
	}
	if len(samples) < 2 {
		return CVResult{Alpha: alphas[0]}
	}

	best := CVResult{Alpha: alphas[0], Accuracy: -1}

	for _, alpha := range alphas {
		accuracy, f1 := evaluateAlpha(samples, alpha, folds)
		if accuracy > best.Accuracy {
			best = CVResult{Alpha: alpha, Accuracy: accuracy, F1: f1}
		}
	}

	return best
}

// evaluateAlpha runs one full k-fold pass for a single α and returns mean
// held-out accuracy plus macro F1 over the pooled held-out predictions.
func evaluateAlpha(samples []Sample, alpha float64, folds int) (accuracy, f1 float64) {
	foldSize := len(samples) / folds
	var correct, total int
	predicted := make([]int, 0, len(samples))
	actual := make([]int, 0, len(samples))

	for f := 0; f < folds; f++ {
		lo := f * foldSize
		hi := lo + foldSize
		if f == folds-1 {
			hi = len(samples)
		}

		train := make([]Sample, 0, len(samples)-(hi-lo))
		train = append(train, samples[:lo]...)
		train = append(train, samples[hi:]...)
		if len(train) == 0 {
			continue
		}

		m := Train(train, alpha)
		for _, s := range samples[lo:hi] {
			p := m.Predict(s.Features)
			predicted = append(predicted, p.CategoryID)
			actual = append(actual, s.CategoryID)
			if p.CategoryID == s.CategoryID {
				correct++
			}
			total++
		}
	}

	if total == 0 {
		return 0, 0
	}
	return float64(correct) / float64(total), macroF1(predicted, actual)
}

// macroF1 computes the unweighted mean of per-class F1 scores.
func macroF1(predicted, actual []int) float64 {
	classes := make(map[int]struct{})
	for _, c := range actual {
		classes[c] = struct{}{}
	}
	if len(classes) == 0 {
		return 0
	}

	var sum float64
	for class := range classes {
		var tp, fp, fn float64
		for i := range actual {
			switch {
			case predicted[i] == class && actual[i] == class:
				tp++
			case predicted[i] == class:
				fp++
			case actual[i] == class:
				fn++
			}
		}

		if tp == 0 {
			continue
		}
		precision := tp / (tp + fp)
		recall := tp / (tp + fn)
		sum += 2 * precision * recall / (precision + recall)
	}

	return sum / float64(len(classes))
}

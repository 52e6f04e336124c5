package personalize

import "github.com/hybridcore/core/internal/model"

// LearningRate is the fixed step size used by Update's low-rank gradient
// step. The core never trains the underlying embedding model; this is a
// small, explainable nudge toward recent positive/negative signal, not a
// full training loop.
const LearningRate = 0.01

// eventAffinity maps an activity kind to a signed training signal:
// positive kinds pull the adapter's projection toward the content's
// embedding, PlaybackAbandon pushes away from it. Kinds with no personalization
// signal (SearchQuery) are ignored by Update.
func eventAffinity(kind model.ActivityKind, metadata map[string]any) float32 {
	switch kind {
	case model.ActivitySearchResultClick:
		return 0.4
	case model.ActivityContentView:
		return 0.3
	case model.ActivityPlaybackStart:
		return 0.2
	case model.ActivityPlaybackComplete:
		return 1.0
	case model.ActivityPlaybackAbandon:
		return -0.5
	case model.ActivityContentRating:
		if v, ok := metadata["rating"].(float64); ok {
			// Center a 0-10 rating around the neutral point so a rating
			// below 5 contributes a negative signal.
			return float32((v - 5.0) / 5.0)
		}
		return 0.2
	default:
		return 0
	}
}

// ContentEmbedFn resolves a content item's embedding for use as an
// Update training example.
type ContentEmbedFn func(contentID string) ([]float32, error)

// Update performs one low-rank gradient step per content-kind event in
// batch, nudging user_layer and base_layer toward (signal>0) or away from
// (signal<0) the event's content embedding, then bumps
// training_iterations. Events without a resolvable content embedding or
// with zero affinity are skipped. Returns the mutated adapter; callers are
// responsible for persisting it via AdapterStore.Save.
func Update(a model.LoRAAdapter, batch []model.ActivityEvent, embedFn ContentEmbedFn, preferenceVec []float32) model.LoRAAdapter {
	applied := 0
	for _, event := range batch {
		if event.ContentID == "" {
			continue
		}
		signal := eventAffinity(event.Kind, event.Metadata)
		if signal == 0 {
			continue
		}
		embedding, err := embedFn(event.ContentID)
		if err != nil || len(embedding) == 0 {
			continue
		}
		applyGradientStep(&a, embedding, preferenceVec, signal)
		applied++
	}
	if applied > 0 {
		a.TrainingIterations += applied
	}
	return a
}

// applyGradientStep nudges the adapter's matrices by one step of gradient
// descent on ||signal*(forward(x) - target)||^2 w.r.t. user_layer and
// base_layer, where x is the content embedding and target is the user's
// preference vector (or the zero vector if the caller has none).
func applyGradientStep(a *model.LoRAAdapter, x, target []float32, signal float32) {
	out := Forward(*a, x)

	residual := make([]float32, a.OutputDim)
	for o := 0; o < a.OutputDim; o++ {
		var t float32
		if o < len(target) {
			t = target[o]
		}
		residual[o] = signal * (t - out[o])
	}

	hidden := make([]float32, a.Rank)
	for r := 0; r < a.Rank; r++ {
		var sum float64
		row := a.BaseLayer[r]
		for i := 0; i < a.InputDim && i < len(x); i++ {
			sum += float64(row[i]) * float64(x[i])
		}
		hidden[r] = float32(sum)
	}

	// user_layer update: d(loss)/d(user_layer[o][r]) ~ -residual[o]*hidden[r]
	for o := 0; o < a.OutputDim; o++ {
		for r := 0; r < a.Rank; r++ {
			a.UserLayer[o][r] += LearningRate * residual[o] * hidden[r]
		}
	}

	// base_layer update: propagate residual back through user_layer.
	hiddenGrad := make([]float32, a.Rank)
	for r := 0; r < a.Rank; r++ {
		var sum float64
		for o := 0; o < a.OutputDim; o++ {
			sum += float64(a.UserLayer[o][r]) * float64(residual[o])
		}
		hiddenGrad[r] = float32(sum)
	}
	for r := 0; r < a.Rank; r++ {
		for i := 0; i < a.InputDim && i < len(x); i++ {
			a.BaseLayer[r][i] += LearningRate * hiddenGrad[r] * x[i]
		}
	}
}

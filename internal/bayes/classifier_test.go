package bayes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardamom-hq/cardamom/internal/common"
	"github.com/cardamom-hq/cardamom/internal/feature"
)

func TestClassifierPredictWithoutModel(t *testing.T) {
	c := NewClassifier(nil)

	_, err := c.Predict(feature.Map{"word_a": 1})
	assert.ErrorIs(t, err, common.ErrModelUnavailable)
}

func TestClassifierPublishAndPredict(t *testing.T) {
	c := NewClassifier(nil)
	c.Publish(Train(grocerySamples(), 1.0))

	p, err := c.Predict(feature.Map{"word_whole": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, p.CategoryID)
	assert.Equal(t, 1, c.Active().Version)
}

func TestClassifierLearnRepublishesNewVersion(t *testing.T) {
	c := NewClassifier(nil)
	c.Publish(Train(grocerySamples(), 1.0))
	before := c.Active()

	err := c.Learn(Sample{Features: feature.Map{"word_sushi": 1}, CategoryID: 2})
	require.NoError(t, err)

	after := c.Active()
	assert.NotSame(t, before, after)
	assert.Equal(t, before.Version+1, after.Version)
	assert.Equal(t, before.TotalSamples+1, after.TotalSamples)

	// The retired version still predicts; in-flight readers are unaffected.
	p := before.Predict(feature.Map{"word_whole": 1})
	assert.Equal(t, 1, p.CategoryID)
}

func TestClassifierLearnWithoutModel(t *testing.T) {
	c := NewClassifier(nil)

	err := c.Learn(Sample{Features: feature.Map{"word_a": 1}, CategoryID: 1})
	assert.ErrorIs(t, err, common.ErrModelUnavailable)
}

func TestTrainAndEvaluateActivatesFirstModel(t *testing.T) {
	c := NewClassifier(nil)

	candidate, activated := c.TrainAndEvaluate(grocerySamples(), DefaultAlphaGrid, DefaultFolds)

	assert.True(t, activated)
	require.NotNil(t, candidate)
	assert.Same(t, candidate, c.Active())
}

func TestTrainAndEvaluateRejectsWeakerCandidate(t *testing.T) {
	c := NewClassifier(nil)

	strong := Train(grocerySamples(), 1.0)
	strong.Metrics = Metrics{Accuracy: 1.0, F1: 1.0}
	c.Publish(strong)

	// Contradictory labels cap the candidate's held-out F1 well below 1.
	noisy := make([]Sample, 0, 20)
	for i := 0; i < 10; i++ {
		noisy = append(noisy, Sample{Features: feature.Map{"word_x": 1}, CategoryID: 1})
		noisy = append(noisy, Sample{Features: feature.Map{"word_x": 1}, CategoryID: 2})
	}

	_, activated := c.TrainAndEvaluate(noisy, DefaultAlphaGrid, DefaultFolds)

	assert.False(t, activated)
	assert.Same(t, strong, c.Active())
}

package optim_test

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoforge/nanoforge/x/math/autograd"
	"github.com/nanoforge/nanoforge/x/math/losses"
	"github.com/nanoforge/nanoforge/x/math/nn"
	"github.com/nanoforge/nanoforge/x/math/optim"
	"github.com/nanoforge/nanoforge/x/math/tensor"
	"github.com/nanoforge/nanoforge/x/math/tensor/types"
)

// spiralMLP is the 2 -> 30 -> 30 -> 3 ReLU classifier used by the spiral
// scenario.
type spiralMLP struct {
	nn.Module
	L1, L2, L3 *nn.Linear
}

func newSpiralMLP(rng *tensor.Rng) *spiralMLP {
	m := &spiralMLP{}
	m.Init()
	m.L1 = m.RegisterModule("l1", nn.NewLinearWithBias(rng, 2, 30)).(*nn.Linear)
	m.L2 = m.RegisterModule("l2", nn.NewLinearWithBias(rng, 30, 30)).(*nn.Linear)
	m.L3 = m.RegisterModule("l3", nn.NewLinearWithBias(rng, 30, 3)).(*nn.Linear)
	return m
}

func (m *spiralMLP) Forward(x *autograd.Variable) (*autograd.Variable, error) {
	h, err := m.L1.Forward(x)
	if err != nil {
		return nil, err
	}
	h, err = autograd.ReLU(h)
	if err != nil {
		return nil, err
	}
	h, err = m.L2.Forward(h)
	if err != nil {
		return nil, err
	}
	h, err = autograd.ReLU(h)
	if err != nil {
		return nil, err
	}
	return m.L3.Forward(h)
}

// spiralDataset builds the deterministic 300-point 3-class spiral: each
// class is one interleaved arm, with a small seeded angular jitter.
func spiralDataset(rng *tensor.Rng) (points []float32, labels []int) {
	const perClass = 100
	noise := rng.Randn(types.NewShape(3 * perClass))
	points = make([]float32, 0, 3*perClass*2)
	labels = make([]int, 0, 3*perClass)
	for class := 0; class < 3; class++ {
		for i := 0; i < perClass; i++ {
			r := float32(i) / perClass
			theta := float32(class)*4 + r*4 + 0.2*noise.Data()[class*perClass+i]
			points = append(points, r*math32.Sin(theta), r*math32.Cos(theta))
			labels = append(labels, class)
		}
	}
	return points, labels
}

// TestSpiralClassificationReachesHighTrainingAccuracy trains the MLP with
// softmax cross-entropy and plain SGD (lr 0.1, minibatches of 30) for 300
// epochs and expects at least 95% training accuracy.
func TestSpiralClassificationReachesHighTrainingAccuracy(t *testing.T) {
	if testing.Short() {
		t.Skip("full training loop, skipped with -short")
	}

	rng := tensor.NewRng(23)
	points, labels := spiralDataset(rng)
	n := len(labels)

	model := newSpiralMLP(rng)
	opt, err := optim.NewSGD(model, 0.1)
	require.NoError(t, err)

	const batchSize = 30
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for epoch := 0; epoch < 300; epoch++ {
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		for start := 0; start < n; start += batchSize {
			batch := order[start : start+batchSize]
			xData := make([]float32, 0, len(batch)*2)
			targets := make([][]int, 0, len(batch))
			for _, idx := range batch {
				xData = append(xData, points[idx*2], points[idx*2+1])
				targets = append(targets, []int{labels[idx]})
			}
			x := autograd.New(tensor.MustFromFlat(xData, types.NewShape(len(batch), 2)), false)

			nn.ClearGrads(model)
			logits, err := model.Forward(x)
			require.NoError(t, err)
			logits, err = autograd.Reshape(logits, types.NewShape(len(batch), 1, 3))
			require.NoError(t, err)
			loss, err := losses.CausalLM(logits, targets, nil)
			require.NoError(t, err)
			require.NoError(t, loss.Backward())
			require.NoError(t, opt.Step())
		}
	}

	x := autograd.New(tensor.MustFromFlat(points, types.NewShape(n, 2)), false)
	logits, err := model.Forward(x)
	require.NoError(t, err)
	data := logits.Value.Data()
	correct := 0
	for i := 0; i < n; i++ {
		best := 0
		for c := 1; c < 3; c++ {
			if data[i*3+c] > data[i*3+best] {
				best = c
			}
		}
		if best == labels[i] {
			correct++
		}
	}
	accuracy := float32(correct) / float32(n)
	assert.GreaterOrEqual(t, accuracy, float32(0.95), "training accuracy")
}

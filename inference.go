package emotiongo

import (
	"image"
	"math"
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// initEnvironment loads the ONNX Runtime shared library once per process.
func initEnvironment(libPath string) error {
	ortOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			ortErr = errors.Wrap(err, "error initializing ORT environment")
		}
	})
	return ortErr
}

type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

// ORTClassifier runs an ONNX export of the emotion network through ONNX
// Runtime. The input tensor is 1x1xHxW of gray pixels and the output holds
// one score per class in DEFAULTEMOTIONS order.
type ORTClassifier struct {
	ModelPath   string
	LibraryPath string
	InputName   string
	OutputName  string
	InputWidth  int
	InputHeight int
	// PixelScale multiplies the [0,1] pixels of the preprocessed patch.
	// Networks trained on raw 0..255 values want 255.
	PixelScale   float32
	TotalClasses int
	Softmax      bool

	ModelSession *ModelSession
	mu           sync.Mutex
}

type ORTOptions func(*ORTClassifier) error

func WithSharedLibraryPath(path string) ORTOptions {
	return func(c *ORTClassifier) error {
		if _, err := os.Stat(path); err != nil {
			return errors.Wrap(err, "onnxruntime library")
		}
		c.LibraryPath = path
		return nil
	}
}

func WithTensorNames(input, output string) ORTOptions {
	return func(c *ORTClassifier) error {
		c.InputName, c.OutputName = input, output
		return nil
	}
}

func WithInputSize(width, height int) ORTOptions {
	return func(c *ORTClassifier) error {
		if width <= 0 || height <= 0 {
			return errors.Errorf("invalid input size %dx%d", width, height)
		}
		c.InputWidth, c.InputHeight = width, height
		return nil
	}
}

func WithPixelScale(scale float32) ORTOptions {
	return func(c *ORTClassifier) error {
		c.PixelScale = scale
		return nil
	}
}

func WithClasses(n int) ORTOptions {
	return func(c *ORTClassifier) error {
		if n <= 0 {
			return errors.Errorf("invalid class count %d", n)
		}
		c.TotalClasses = n
		return nil
	}
}

// WithSoftmax normalizes raw logits into probabilities.
func WithSoftmax(on bool) ORTOptions {
	return func(c *ORTClassifier) error {
		c.Softmax = on
		return nil
	}
}

func NewORTClassifier(modelPath string, opts ...ORTOptions) (*ORTClassifier, error) {
	c := &ORTClassifier{
		ModelPath:    modelPath,
		InputName:    "input",
		OutputName:   "output",
		InputWidth:   ModelInputSize,
		InputHeight:  ModelInputSize,
		PixelScale:   1,
		TotalClasses: len(DEFAULTEMOTIONS),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, errors.Wrap(err, "model file")
	}
	if err := c.initSession(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ORTClassifier) initSession() error {
	if err := initEnvironment(c.LibraryPath); err != nil {
		return err
	}

	inputShape := ort.NewShape(1, 1, int64(c.InputHeight), int64(c.InputWidth))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return errors.Wrap(err, "error creating input tensor")
	}
	outputShape := ort.NewShape(1, int64(c.TotalClasses))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return errors.Wrap(err, "error creating output tensor")
	}
	options, err := ort.NewSessionOptions()
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return errors.Wrap(err, "error creating ORT session options")
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(c.ModelPath,
		[]string{c.InputName}, []string{c.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return errors.Wrap(err, "error creating ORT session")
	}

	c.ModelSession = &ModelSession{
		Session: session,
		Input:   inputTensor,
		Output:  outputTensor,
	}
	return nil
}

// prepareInput copies the float patch into the input tensor, resizing it
// first when the network wants a different size than ModelInputSize.
func (c *ORTClassifier) prepareInput(input gocv.Mat) error {
	patch := input
	if input.Cols() != c.InputWidth || input.Rows() != c.InputHeight {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(input, &resized, image.Pt(c.InputWidth, c.InputHeight), 0, 0, gocv.InterpolationLinear)
		patch = resized
	}

	data := c.ModelSession.Input.GetData()
	if len(data) < c.InputWidth*c.InputHeight {
		return errors.Errorf("destination tensor only holds %d floats, needs %d",
			len(data), c.InputWidth*c.InputHeight)
	}
	i := 0
	for y := 0; y < c.InputHeight; y++ {
		for x := 0; x < c.InputWidth; x++ {
			data[i] = patch.GetFloatAt(y, x) * c.PixelScale
			i++
		}
	}
	return nil
}

func (c *ORTClassifier) Classify(input gocv.Mat) ([]float32, error) {
	if input.Empty() {
		return nil, errors.New("empty model input")
	}
	if input.Type() != gocv.MatTypeCV32F {
		return nil, errors.New("model input must be a single channel float patch")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.prepareInput(input); err != nil {
		return nil, err
	}
	if err := c.ModelSession.Session.Run(); err != nil {
		return nil, errors.Wrap(err, "model inference")
	}

	out := c.ModelSession.Output.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	if c.Softmax {
		softmax(scores)
	}
	return scores, nil
}

func (c *ORTClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ModelSession != nil {
		c.ModelSession.Destroy()
		c.ModelSession = nil
	}
	return nil
}

func softmax(v []float32) {
	if len(v) == 0 {
		return
	}
	maxV := v[0]
	for _, x := range v[1:] {
		if x > maxV {
			maxV = x
		}
	}
	var sum float64
	for i, x := range v {
		e := math.Exp(float64(x - maxV))
		v[i] = float32(e)
		sum += e
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / sum)
	}
}

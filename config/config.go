package config

import (
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every key when reading the environment,
// e.g. EMOTIONGO_CASCADE_PATH.
const EnvPrefix = "EMOTIONGO_"

type Config struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`

	// Detection
	Detector     string  `mapstructure:"detector" yaml:"detector"` // "haar" or "pigo"
	CascadePath  string  `mapstructure:"cascade_path" yaml:"cascade_path"`
	PigoPath     string  `mapstructure:"pigo_path" yaml:"pigo_path"`
	ScaleFactor  float64 `mapstructure:"scale_factor" yaml:"scale_factor"`
	MinNeighbors int     `mapstructure:"min_neighbors" yaml:"min_neighbors"`
	MinFaceSize  int     `mapstructure:"min_face_size" yaml:"min_face_size"`

	// Classification
	ModelPath      string  `mapstructure:"model_path" yaml:"model_path"`
	ORTLibraryPath string  `mapstructure:"ort_library_path" yaml:"ort_library_path"` // enables ONNX Runtime for .onnx models
	ORTInputName   string  `mapstructure:"ort_input_name" yaml:"ort_input_name"`
	ORTOutputName  string  `mapstructure:"ort_output_name" yaml:"ort_output_name"`
	ORTSoftmax     bool    `mapstructure:"ort_softmax" yaml:"ort_softmax"`
	ORTInputWidth  int     `mapstructure:"ort_input_width" yaml:"ort_input_width"`
	ORTInputHeight int     `mapstructure:"ort_input_height" yaml:"ort_input_height"`
	ORTPixelScale  float64 `mapstructure:"ort_pixel_scale" yaml:"ort_pixel_scale"` // 255 for networks trained on raw pixels
	ORTClasses     int     `mapstructure:"ort_classes" yaml:"ort_classes"`

	// Runs
	MediaDir      string  `mapstructure:"media_dir" yaml:"media_dir"` // relative image/video names are resolved here
	Headless      bool    `mapstructure:"headless" yaml:"headless"`
	CameraDevice  int     `mapstructure:"camera_device" yaml:"camera_device"`
	CameraDelayMs int     `mapstructure:"camera_delay_ms" yaml:"camera_delay_ms"`
	SampleStep    float64 `mapstructure:"sample_step" yaml:"sample_step"`
	HistogramFile string  `mapstructure:"histogram_file" yaml:"histogram_file"`
	FramesDir     string  `mapstructure:"frames_dir" yaml:"frames_dir"`
	RawFramesDir  string  `mapstructure:"raw_frames_dir" yaml:"raw_frames_dir"` // sampled frames before annotation

	// Storage. MySQL is used when MySQLDSN is set, SQLite when SQLiteFile is.
	MySQLDSN   string `mapstructure:"mysql_dsn" yaml:"mysql_dsn"`
	SQLiteFile string `mapstructure:"sqlite_file" yaml:"sqlite_file"`

	// Network
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`
	RTMPAddress string `mapstructure:"rtmp_address" yaml:"rtmp_address"`
	RecordDir   string `mapstructure:"record_dir" yaml:"record_dir"`
}

func Default() Config {
	return Config{
		Detector:       "haar",
		CascadePath:    "model/haarcascade_frontalface_alt2.xml",
		PigoPath:       "model/facefinder",
		ScaleFactor:    1.1,
		MinNeighbors:   2,
		MinFaceSize:    100,
		ModelPath:      "model/tensorflow_model.pb",
		ORTInputName:   "input",
		ORTOutputName:  "output",
		ORTInputWidth:  48,
		ORTInputHeight: 48,
		ORTPixelScale:  1,
		ORTClasses:     7,
		MediaDir:       ".",
		CameraDelayMs:  100,
		SampleStep:     1,
		HistogramFile:  "emotion_histogram.txt",
		BindAddress:    "127.0.0.1:8080",
		RTMPAddress:    "0.0.0.0:1935",
		RecordDir:      "received",
	}
}

// Load starts from Default, applies the YAML file at path (if any) and then
// EMOTIONGO_* environment variables.
func Load(path string) (Config, error) {
	values := map[string]interface{}{}
	if err := mapstructure.Decode(Default(), &values); err != nil {
		return Config{}, errors.Wrap(err, "encode defaults")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
		fileValues := map[string]interface{}{}
		if err := yaml.Unmarshal(data, &fileValues); err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
		for k, v := range fileValues {
			values[strings.ToLower(k)] = v
		}
	}

	for k := range values {
		if v, ok := os.LookupEnv(EnvPrefix + strings.ToUpper(k)); ok {
			values[k] = v
		}
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, errors.Wrap(err, "create decoder")
	}
	if err := decoder.Decode(values); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Detector {
	case "haar", "pigo":
	default:
		return errors.Errorf("unknown detector %q", c.Detector)
	}
	if c.ScaleFactor <= 1 {
		return errors.Errorf("scale_factor must be greater than 1, got %v", c.ScaleFactor)
	}
	if c.ORTInputWidth <= 0 || c.ORTInputHeight <= 0 {
		return errors.Errorf("ort input size must be positive, got %dx%d", c.ORTInputWidth, c.ORTInputHeight)
	}
	if c.ORTClasses <= 0 {
		return errors.Errorf("ort_classes must be positive, got %d", c.ORTClasses)
	}
	if c.SampleStep <= 0 {
		return errors.Errorf("sample_step must be positive, got %v", c.SampleStep)
	}
	return nil
}

package main

import (
	"path/filepath"

	"github.com/emotiongo"
	"github.com/emotiongo/config"
	"github.com/emotiongo/store"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	cli "github.com/spf13/cobra"
)

// app holds what every mode needs: configuration, the pipeline, the display
// and an optional store.
type app struct {
	cfg      config.Config
	pipeline *emotiongo.Pipeline
	display  emotiongo.Display
	store    *store.Store
}

func newApp(cmd *cli.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newAppFromConfig(cfg, cfg.Headless)
}

func newAppFromConfig(cfg config.Config, headless bool) (*app, error) {
	pipeline, err := emotiongo.NewPipelineFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, pipeline: pipeline}

	if cfg.MySQLDSN != "" || cfg.SQLiteFile != "" {
		s, err := store.Open(cfg.MySQLDSN, cfg.SQLiteFile)
		if err != nil {
			pipeline.Close()
			return nil, err
		}
		a.store = s
	}

	if headless {
		a.display = &emotiongo.HeadlessDisplay{}
	} else {
		a.display = emotiongo.NewWindowDisplay(emotiongo.AppName)
	}
	return a, nil
}

// runner returns a Runner set up from the configuration.
func (a *app) runner() *emotiongo.Runner {
	r := emotiongo.NewRunner(a.pipeline, a.display)
	r.CameraDelay = a.cfg.CameraDelayMs
	r.Step = a.cfg.SampleStep
	r.HistogramFile = a.cfg.HistogramFile
	r.FramesDir = a.cfg.FramesDir
	r.RawFramesDir = a.cfg.RawFramesDir
	r.ShowTimeline = !a.cfg.Headless
	return r
}

// startRun records a new run when a store is configured. The returned
// function marks it finished.
func (a *app) startRun(r *emotiongo.Runner, mode, source string) func() {
	if a.store == nil {
		return func() {}
	}
	run, err := a.store.StartRun(mode, source)
	if err != nil {
		log.WithError(err).Warn("run will not be recorded")
		return func() {}
	}
	r.Recorder = a.store.Recorder(run.ID)
	return func() {
		if err := a.store.FinishRun(run.ID); err != nil {
			log.WithError(err).WithField("run", run.ID).Warn("failed to finish run")
		}
	}
}

// mediaPath resolves a bare file name against the media directory.
func (a *app) mediaPath(name string) string {
	if filepath.IsAbs(name) || a.cfg.MediaDir == "" {
		return name
	}
	return filepath.Join(a.cfg.MediaDir, name)
}

func (a *app) Close() error {
	var result error
	if a.display != nil {
		if err := a.display.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if a.pipeline != nil {
		if err := a.pipeline.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return errors.Wrap(result, "close")
}

package main

import (
	"context"
	"sync"

	"github.com/emotiongo"
	"github.com/emotiongo/ingest"
	"github.com/emotiongo/server"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	cli "github.com/spf13/cobra"
)

var imageCmd = &cli.Command{
	Use:   "image <file>",
	Short: "Recognize the emotions in a still image",
	Args:  cli.ExactArgs(1),
	RunE: func(cmd *cli.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.runImage(args[0])
	},
}

var cameraCmd = &cli.Command{
	Use:   "camera",
	Short: "Recognize emotions on a live camera feed until ESC is pressed",
	Args:  cli.NoArgs,
	RunE: func(cmd *cli.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		if cmd.Flags().Changed("device") {
			a.cfg.CameraDevice, _ = cmd.Flags().GetInt("device")
		}
		return a.runCamera(cmd.Context())
	},
}

var videoCmd = &cli.Command{
	Use:   "video <file>",
	Short: "Sample a video once per second and build an emotion histogram",
	Args:  cli.ExactArgs(1),
	RunE: func(cmd *cli.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		if cmd.Flags().Changed("frames-dir") {
			a.cfg.FramesDir, _ = cmd.Flags().GetString("frames-dir")
		}
		if cmd.Flags().Changed("histogram") {
			a.cfg.HistogramFile, _ = cmd.Flags().GetString("histogram")
		}
		_, err = a.runVideo(cmd.Context(), a.mediaPath(args[0]))
		return err
	},
}

var serveCmd = &cli.Command{
	Use:   "serve",
	Short: "Serve the emotion recognizer over HTTP",
	Args:  cli.NoArgs,
	RunE: func(cmd *cli.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("bind") {
			cfg.BindAddress, _ = cmd.Flags().GetString("bind")
		}
		a, err := newAppFromConfig(cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()

		var runs server.RunStore
		if a.store != nil {
			runs = a.store
		}
		return server.New(a.pipeline, runs).ListenAndServe(cmd.Context(), cfg.BindAddress)
	},
}

var ingestCmd = &cli.Command{
	Use:   "ingest",
	Short: "Record RTMP streams and analyze each recording when it ends",
	Args:  cli.NoArgs,
	RunE: func(cmd *cli.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("listen") {
			cfg.RTMPAddress, _ = cmd.Flags().GetString("listen")
		}
		if cmd.Flags().Changed("dir") {
			cfg.RecordDir, _ = cmd.Flags().GetString("dir")
		}
		cfg.Headless = true
		a, err := newAppFromConfig(cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		// recordings finish on their own connection goroutines
		var mu sync.Mutex
		srv := &ingest.Server{
			Dir: cfg.RecordDir,
			OnRecorded: func(path string) {
				mu.Lock()
				defer mu.Unlock()
				if _, err := a.runVideo(ctx, path); err != nil {
					log.WithError(err).WithField("file", path).Error("failed to analyze recording")
				}
			},
		}
		return srv.Serve(ctx, cfg.RTMPAddress)
	},
}

func init() {
	cameraCmd.Flags().Int("device", 0, "Camera device id")
	videoCmd.Flags().String("frames-dir", "", "Directory to save the annotated sampled frames in")
	videoCmd.Flags().String("histogram", emotiongo.DefaultHistogramFile, "File to save the histogram in")
	serveCmd.Flags().String("bind", "", "Address to listen on")
	ingestCmd.Flags().String("listen", "", "RTMP address to listen on")
	ingestCmd.Flags().String("dir", "", "Directory to record streams in")
}

func (a *app) runImage(name string) error {
	path := a.mediaPath(name)
	r := a.runner()
	finish := a.startRun(r, "image", path)
	defer finish()

	res, err := r.RunImage(path)
	if err != nil {
		return err
	}
	return res.Close()
}

func (a *app) runCamera(ctx context.Context) error {
	r := a.runner()
	finish := a.startRun(r, "camera", "")
	defer finish()
	return errors.Wrap(r.RunCamera(ctx, a.cfg.CameraDevice), "camera")
}

func (a *app) runVideo(ctx context.Context, path string) (*emotiongo.VideoReport, error) {
	r := a.runner()
	finish := a.startRun(r, "video", path)
	defer finish()
	return r.RunVideo(ctx, path)
}

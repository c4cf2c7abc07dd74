package main

import (
	"os"

	"github.com/emotiongo"
	"github.com/emotiongo/config"
	log "github.com/sirupsen/logrus"
	cli "github.com/spf13/cobra"
	"gocv.io/x/gocv"
)

var rootCmd = &cli.Command{
	Use:   "process_video <source> <target>",
	Short: "Write a copy of a video with every face boxed and labeled",
	Args:  cli.ExactArgs(2),
	RunE: func(cmd *cli.Command, args []string) error {
		return run(cmd, args[0], args[1])
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().String("config", "", "YAML configuration file")
	rootCmd.Flags().String("codec", "mp4v", "FourCC of the output video")
	rootCmd.Flags().Float32("resize", 1, "Scale applied to the output frames")
	rootCmd.Flags().Bool("show", false, "Show the frames while processing, ESC stops")
}

func run(cmd *cli.Command, source, target string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	codec, _ := cmd.Flags().GetString("codec")
	resize, _ := cmd.Flags().GetFloat32("resize")
	show, _ := cmd.Flags().GetBool("show")

	pipeline, err := emotiongo.NewPipelineFromConfig(cfg)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	var display emotiongo.Display = &emotiongo.HeadlessDisplay{}
	if show {
		display = emotiongo.NewWindowDisplay(emotiongo.AppName)
	}
	defer display.Close()

	frames := 0
	callback := func(frame *gocv.Mat) error {
		res, err := pipeline.Analyze(frame)
		if err != nil {
			return err
		}
		if first, ok := res.First(); ok {
			log.WithFields(log.Fields{"frame": frames, "faces": len(res.Faces)}).Debug(first)
		}
		res.Close()
		frames++

		display.Show(*frame)
		if show && display.WaitKey(1) == emotiongo.KeyEsc {
			return emotiongo.ErrStopped
		}
		return nil
	}

	if err := emotiongo.ProcessVideo(source, target, codec, resize, callback); err != nil {
		return err
	}
	log.WithFields(log.Fields{"frames": frames, "target": target}).Info("video written")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Errorln("ERROR:", err)
		os.Exit(1)
	}
}

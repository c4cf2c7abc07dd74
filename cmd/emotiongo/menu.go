package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

type mode int

const (
	modeImage mode = iota
	modeCamera
	modeVideo
)

// choose asks for the mode and, for files, the file name.
func choose(in io.Reader, out io.Writer) (mode, string, error) {
	scanner := bufio.NewScanner(in)
	next := func() (string, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", errors.Wrap(err, "read input")
			}
			return "", io.EOF
		}
		return strings.TrimSpace(scanner.Text()), nil
	}

	fmt.Fprintln(out, "What you want to use")
	fmt.Fprintln(out, "0) image")
	fmt.Fprintln(out, "1) camera")
	fmt.Fprintln(out, "2) video")
	answer, err := next()
	if err != nil {
		return 0, "", err
	}

	switch answer {
	case "0":
		fmt.Fprintln(out, "input name of the image like <name.jpg>")
		name, err := next()
		if err != nil {
			return 0, "", err
		}
		return modeImage, name, nil
	case "1":
		return modeCamera, "", nil
	case "2":
		fmt.Fprint(out, "input name of the video: ")
		name, err := next()
		if err != nil {
			return 0, "", err
		}
		return modeVideo, name, nil
	default:
		return 0, "", errors.Errorf("unknown choice %q", answer)
	}
}

func (a *app) menu(ctx context.Context, in io.Reader, out io.Writer) error {
	m, name, err := choose(in, out)
	if err != nil {
		return err
	}
	switch m {
	case modeImage:
		return a.runImage(name)
	case modeCamera:
		return a.runCamera(ctx)
	default:
		_, err := a.runVideo(ctx, a.mediaPath(name))
		return err
	}
}

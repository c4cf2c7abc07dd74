// Package ingest receives RTMP streams and records them as FLV files so
// they can be analyzed like any other video once the publisher disconnects.
package ingest

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/yutopp/go-flv"
	flvtag "github.com/yutopp/go-flv/tag"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

const defaultStreamName = "stream"

// Handler records one RTMP connection.
type Handler struct {
	rtmp.DefaultHandler
	dir        string
	onRecorded func(path string)

	path    string
	flvFile *os.File
	flvEnc  *flv.Encoder
}

func NewHandler(dir string, onRecorded func(path string)) *Handler {
	return &Handler{dir: dir, onRecorded: onRecorded}
}

// Path is the file being recorded, empty before publishing starts.
func (h *Handler) Path() string {
	return h.path
}

func (h *Handler) OnServe(conn *rtmp.Conn) {}

func (h *Handler) OnConnect(timestamp uint32, cmd *rtmpmsg.NetConnectionConnect) error {
	log.WithField("app", cmd.Command.App).Info("new connection")
	return nil
}

func (h *Handler) OnCreateStream(timestamp uint32, cmd *rtmpmsg.NetConnectionCreateStream) error {
	return nil
}

func (h *Handler) OnPublish(_ *rtmp.StreamContext, timestamp uint32, cmd *rtmpmsg.NetStreamPublish) error {
	if h.flvFile != nil {
		return errors.New("already publishing")
	}
	if err := os.MkdirAll(h.dir, 0755); err != nil {
		return errors.Wrap(err, "create record dir")
	}

	p := recordingPath(h.dir, cmd.PublishingName)
	log.WithFields(log.Fields{"stream": cmd.PublishingName, "file": p}).Info("recording stream")

	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "create flv file")
	}
	enc, err := flv.NewEncoder(f, flv.FlagsAudio|flv.FlagsVideo)
	if err != nil {
		_ = f.Close()
		return errors.Wrap(err, "create flv encoder")
	}
	h.path = p
	h.flvFile = f
	h.flvEnc = enc
	return nil
}

func (h *Handler) OnSetDataFrame(timestamp uint32, data *rtmpmsg.NetStreamSetDataFrame) error {
	if h.flvEnc == nil {
		return nil
	}
	var script flvtag.ScriptData
	if err := flvtag.DecodeScriptData(bytes.NewReader(data.Payload), &script); err != nil {
		log.WithError(err).Warn("failed to decode script data")
		return nil
	}
	h.encode(flvtag.TagTypeScriptData, timestamp, &script)
	return nil
}

func (h *Handler) OnAudio(timestamp uint32, payload io.Reader) error {
	if h.flvEnc == nil {
		return nil
	}
	var audio flvtag.AudioData
	if err := flvtag.DecodeAudioData(payload, &audio); err != nil {
		return err
	}
	body := new(bytes.Buffer)
	if _, err := io.Copy(body, audio.Data); err != nil {
		return err
	}
	audio.Data = body
	h.encode(flvtag.TagTypeAudio, timestamp, &audio)
	return nil
}

func (h *Handler) OnVideo(timestamp uint32, payload io.Reader) error {
	if h.flvEnc == nil {
		return nil
	}
	var video flvtag.VideoData
	if err := flvtag.DecodeVideoData(payload, &video); err != nil {
		return err
	}
	body := new(bytes.Buffer)
	if _, err := io.Copy(body, video.Data); err != nil {
		return err
	}
	video.Data = body
	h.encode(flvtag.TagTypeVideo, timestamp, &video)
	return nil
}

func (h *Handler) encode(tagType flvtag.TagType, timestamp uint32, data interface{}) {
	if err := h.flvEnc.Encode(&flvtag.FlvTag{
		TagType:   tagType,
		Timestamp: timestamp,
		Data:      data,
	}); err != nil {
		log.WithError(err).WithField("tag", tagType).Warn("failed to write flv tag")
	}
}

// OnClose finishes the recording and hands it to onRecorded.
func (h *Handler) OnClose() {
	log.Info("connection closed")
	if h.flvFile == nil {
		return
	}
	if err := h.flvFile.Close(); err != nil {
		log.WithError(err).WithField("file", h.path).Warn("failed to close recording")
		return
	}
	h.flvFile = nil
	h.flvEnc = nil
	if h.onRecorded != nil {
		h.onRecorded(h.path)
	}
}

// recordingPath keeps the publishing name inside dir.
func recordingPath(dir, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultStreamName
	}
	return filepath.Join(dir, filepath.Clean(filepath.Join("/", name+".flv")))
}

// Server accepts RTMP publishers and records each stream under Dir.
type Server struct {
	Dir        string
	OnRecorded func(path string)

	mu  sync.Mutex
	srv *rtmp.Server
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", addr)
	}
	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}
	return s.ServeListener(ctx, listener)
}

func (s *Server) ServeListener(ctx context.Context, listener net.Listener) error {
	logger := log.StandardLogger()
	srv := rtmp.NewServer(&rtmp.ServerConfig{
		OnConnect: func(conn net.Conn) (io.ReadWriteCloser, *rtmp.ConnConfig) {
			return conn, &rtmp.ConnConfig{
				Handler: NewHandler(s.Dir, s.OnRecorded),
				ControlState: rtmp.StreamControlStateConfig{
					DefaultBandwidthWindowSize: 6 * 1024 * 1024 / 8,
				},
				Logger: logger,
			}
		},
	})
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	log.WithField("addr", listener.Addr().String()).Info("accepting rtmp streams")
	if err := srv.Serve(listener); err != nil && err != rtmp.ErrClosed {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		return errors.Wrap(err, "serve rtmp")
	}
	return nil
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	return s.srv.Close()
}

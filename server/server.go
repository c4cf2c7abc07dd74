package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/jpeg"
	"io"
	"mime"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/emotiongo"
	"github.com/emotiongo/store"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

const (
	maxUploadSize    = 10 << 20
	DefaultThumbSize = 640
)

// Analyzer is satisfied by *emotiongo.Pipeline.
type Analyzer interface {
	Analyze(frame *gocv.Mat) (*emotiongo.Result, error)
}

// RunStore is the read side of store.Store.
type RunStore interface {
	Run(id string) (*store.Run, error)
	Runs(limit int) ([]store.Run, error)
	Histogram(runID string) (*emotiongo.Histogram, error)
}

type Server struct {
	analyzer  Analyzer
	runs      RunStore
	thumbSize uint
	// maxUpload bounds the request body of /analyze.
	maxUpload int64
	// mu serializes analysis; OpenCV networks keep per-call state.
	mu sync.Mutex
}

// New returns a Server. runs may be nil when storage is disabled.
func New(analyzer Analyzer, runs RunStore) *Server {
	return &Server{analyzer: analyzer, runs: runs, thumbSize: DefaultThumbSize, maxUpload: maxUploadSize}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/histogram", s.handleHistogram).Methods(http.MethodGet)
	r.Use(logRequests)
	return r
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Handler:      s.Router(),
		Addr:         addr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("starting server")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "serve http")
	}
	return nil
}

type FaceResponse struct {
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Emotion     string  `json:"emotion,omitempty"`
	Probability float32 `json:"probability,omitempty"`
	Label       string  `json:"label,omitempty"`
}

type AnalyzeResponse struct {
	RequestID string         `json:"request_id"`
	FaceCount int            `json:"face_count"`
	Faces     []FaceResponse `json:"faces"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type HistogramEntry struct {
	Emotion string `json:"emotion"`
	Count   int    `json:"count"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	data, err := readImageBytes(r, s.maxUpload)
	if err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		sendErrorResponse(w, "invalid_image", "failed to decode image", http.StatusBadRequest)
		return
	}
	frame, err := gocv.ImageToMatRGB(img)
	if err != nil {
		sendErrorResponse(w, "invalid_image", err.Error(), http.StatusBadRequest)
		return
	}
	defer frame.Close()

	s.mu.Lock()
	res, err := s.analyzer.Analyze(&frame)
	s.mu.Unlock()
	if err != nil {
		log.WithError(err).WithField("request", requestID).Error("analysis failed")
		sendErrorResponse(w, "processing_error", err.Error(), http.StatusInternalServerError)
		return
	}
	defer res.Close()

	log.WithFields(log.Fields{"request": requestID, "faces": len(res.Faces)}).Debug("image analyzed")

	if annotate, _ := strconv.ParseBool(r.URL.Query().Get("annotate")); annotate {
		if err := s.writeThumbnail(w, frame); err != nil {
			sendErrorResponse(w, "encode_error", err.Error(), http.StatusInternalServerError)
		}
		return
	}

	resp := AnalyzeResponse{
		RequestID: requestID,
		FaceCount: len(res.Faces),
		Faces:     make([]FaceResponse, 0, len(res.Faces)),
	}
	for i, f := range res.Faces {
		fr := FaceResponse{X: f.Min.X, Y: f.Min.Y, Width: f.Dx(), Height: f.Dy()}
		if i < len(res.Predictions) {
			p := res.Predictions[i]
			fr.Emotion = string(p.Emotion)
			fr.Probability = p.Probability
			fr.Label = p.String()
		}
		resp.Faces = append(resp.Faces, fr)
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeThumbnail sends the annotated frame as a JPEG no larger than thumbSize.
func (s *Server) writeThumbnail(w http.ResponseWriter, frame gocv.Mat) error {
	img, err := frame.ToImage()
	if err != nil {
		return errors.Wrap(err, "convert frame")
	}
	thumb := resize.Thumbnail(s.thumbSize, s.thumbSize, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 90}); err != nil {
		return errors.Wrap(err, "encode jpeg")
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, err = io.Copy(w, &buf)
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		sendErrorResponse(w, "storage_disabled", "no database configured", http.StatusNotFound)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			sendErrorResponse(w, "invalid_request", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.runs.Runs(limit)
	if err != nil {
		sendErrorResponse(w, "storage_error", err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		sendErrorResponse(w, "storage_disabled", "no database configured", http.StatusNotFound)
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.runs.Run(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			sendErrorResponse(w, "not_found", "run "+id+" not found", http.StatusNotFound)
			return
		}
		sendErrorResponse(w, "storage_error", err.Error(), http.StatusInternalServerError)
		return
	}
	h, err := s.runs.Histogram(id)
	if err != nil {
		sendErrorResponse(w, "storage_error", err.Error(), http.StatusInternalServerError)
		return
	}
	counts := h.Counts()
	out := make([]HistogramEntry, 0, len(counts))
	for _, e := range emotiongo.Emotions() {
		out = append(out, HistogramEntry{Emotion: string(e), Count: counts[e]})
	}
	writeJSON(w, http.StatusOK, out)
}

// readImageBytes accepts a JSON body {"image": "<base64>"}, a multipart
// form with a "file" part, or the raw image as the body.
func readImageBytes(r *http.Request, limit int64) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var req struct {
			Image string `json:"image"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, errors.Wrap(err, "decode json")
		}
		if req.Image == "" {
			return nil, errors.New("image field is empty")
		}
		return base64.StdEncoding.DecodeString(req.Image)
	case "multipart/form-data":
		if err := r.ParseMultipartForm(limit); err != nil {
			return nil, errors.Wrap(err, "parse form")
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, errors.Wrap(err, "file part")
		}
		defer file.Close()
		return io.ReadAll(file)
	default:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, errors.Wrap(err, "read body")
		}
		if len(data) == 0 {
			return nil, errors.New("empty body")
		}
		return data, nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("http request")
	})
}

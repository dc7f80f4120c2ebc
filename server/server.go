// Package server exposes the reflection suppressor over HTTP.
package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/setanarut/dereflect"
	"github.com/setanarut/dereflect/appconfig"
	"github.com/setanarut/dereflect/utils"
)

type Server struct {
	cfg     appconfig.Config
	palette utils.PaletteMethod
}

func New(cfg appconfig.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	method, err := cfg.PaletteMethod()
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, palette: method}, nil
}

// Handler returns the routed handler with logging and CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", ApplyMiddlewares(indexHandler))
	mux.HandleFunc("/health", ApplyMiddlewares(healthHandler))
	mux.HandleFunc("/process_image", ApplyMiddlewares(s.processImageHandler))
	mux.HandleFunc("/upload", ApplyMiddlewares(s.uploadHandler))
	return mux
}

func indexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	fmt.Fprintln(w, "dereflect: POST an image to /process_image or /upload")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Use GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// processImageHandler answers with the processed image as a PNG attachment.
func (s *Server) processImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Use POST", http.StatusMethodNotAllowed)
		return
	}
	res, err := s.process(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `attachment; filename="processed_image.png"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.png)))
	w.Write(res.png)
}

type uploadResponse struct {
	Image    string   `json:"image"`
	Format   string   `json:"format"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	Channels int      `json:"channels"`
	H        float64  `json:"h"`
	Palette  []string `json:"palette,omitempty"`
	DebugDir string   `json:"debugDir,omitempty"`
}

// uploadHandler answers with a JSON envelope carrying the base64 PNG.
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Use POST", http.StatusMethodNotAllowed)
		return
	}
	res, err := s.process(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := uploadResponse{
		Image:    base64.StdEncoding.EncodeToString(res.png),
		Format:   "png",
		Width:    res.out.W,
		Height:   res.out.H,
		Channels: res.out.C,
		H:        res.h,
		DebugDir: res.debugDir,
	}
	if s.cfg.Palette.Size > 0 {
		resp.Palette = utils.PaletteHex(utils.ExtractPalette(res.img, s.cfg.Palette.Size, s.palette))
	}
	writeJSON(w, http.StatusOK, resp)
}

// requestError carries the status and user-facing text of a rejected request.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string {
	return e.msg
}

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func writeError(w http.ResponseWriter, err error) {
	var re *requestError
	switch {
	case errors.As(err, &re):
		http.Error(w, re.msg, re.status)
	case errors.Is(err, dereflect.ErrInvalidParameter),
		errors.Is(err, dereflect.ErrInvalidImageDomain),
		errors.Is(err, dereflect.ErrInvalidImageShape):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error().Err(err).Msg("processing failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode JSON response")
	}
}

type result struct {
	out      *dereflect.Image
	img      image.Image
	png      []byte
	h        float64
	debugDir string
}

// process parses the multipart form (file, h, debug), runs the suppressor and
// encodes the result as PNG.
func (s *Server) process(w http.ResponseWriter, r *http.Request) (*result, error) {
	id := uuid.NewString()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &requestError{
				status: http.StatusRequestEntityTooLarge,
				msg:    fmt.Sprintf("Upload exceeds %s", humanize.Bytes(uint64(s.cfg.MaxUploadBytes))),
			}
		}
		return nil, badRequest("Invalid multipart form: %v", err)
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		// A file input submitted without a selection arrives as a plain value.
		if _, ok := r.MultipartForm.Value["file"]; ok {
			return nil, badRequest("No file selected for uploading")
		}
		return nil, badRequest("No file part in the request")
	}
	if err != nil {
		return nil, badRequest("Invalid file part: %v", err)
	}
	defer file.Close()
	if header.Filename == "" {
		return nil, badRequest("No file selected for uploading")
	}

	h := s.cfg.Suppression.H
	if v := strings.TrimSpace(r.FormValue("h")); v != "" {
		h, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, badRequest("Invalid value for parameter 'h'")
		}
	}
	debug := strings.EqualFold(r.FormValue("debug"), "true")

	src, format, err := utils.Decode(file)
	if err != nil {
		return nil, badRequest("Unsupported or corrupt image file")
	}
	src = utils.Downscale(src, s.cfg.MaxSide)

	opt := s.cfg.Options()
	opt.H = h
	rs, err := dereflect.NewReflectionSuppressor(opt)
	if err != nil {
		return nil, err
	}
	res := &result{h: h}
	var store *utils.DebugStorage
	if debug && s.cfg.DebugDir != "" {
		store, err = utils.NewDebugStorage(s.cfg.DebugDir)
		if err != nil {
			return nil, err
		}
		rs = rs.WithObserver(store)
		res.debugDir = store.Dir()
	}

	start := time.Now()
	in := utils.FromImage(src)
	res.out, err = rs.RemoveReflections(in)
	if err != nil {
		return nil, err
	}
	res.img = utils.ToImage(res.out)
	if store != nil {
		if err := store.StoreImage(res.img, utils.GroupResult, "final_output"); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("store final debug image")
		}
		if err := store.Err(); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("store debug fields")
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, res.img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	res.png = buf.Bytes()

	log.Info().
		Str("id", id).
		Str("file", header.Filename).
		Str("format", format).
		Str("size", humanize.Bytes(uint64(header.Size))).
		Ints("shape", in.Shape()).
		Float64("h", h).
		Bool("debug", store != nil).
		Dur("elapsed", time.Since(start)).
		Msg("reflections removed")
	return res, nil
}

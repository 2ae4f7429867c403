// ABOUTME: HTTP handlers for stream endpoints
// ABOUTME: Implements WebSocket join, stream info, stream listing, and health check routes
package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/harper/audiorelay/internal/application/manager"
	"github.com/harper/audiorelay/internal/domain/stream"
	"github.com/harper/audiorelay/internal/infrastructure/ws"
)

// NewRouter wires every route. Stream routes live under /{stream}/.
func NewRouter(mgr *manager.Manager, up *ws.Upgrader, logger *log.Logger) http.Handler {
	streamHandler := NewStreamHandler(mgr, up, logger)
	infoHandler := NewInfoHandler(mgr)

	mux := http.NewServeMux()
	mux.Handle("/streams", NewStreamsHandler(mgr))
	mux.HandleFunc("/healthz", HealthzHandler)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/ws"):
			streamHandler.ServeHTTP(w, r)
		case strings.HasSuffix(r.URL.Path, "/info"):
			infoHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
	return mux
}

// lookup resolves /{stream}/{leaf} to a stream.
func lookup(mgr *manager.Manager, path, leaf string) *stream.Stream {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[1] != leaf {
		return nil
	}
	return mgr.Get(parts[0])
}

type StreamHandler struct {
	mgr *manager.Manager
	up  *ws.Upgrader
	log *log.Logger
}

func NewStreamHandler(mgr *manager.Manager, up *ws.Upgrader, logger *log.Logger) *StreamHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &StreamHandler{mgr: mgr, up: up, log: logger}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := lookup(h.mgr, r.URL.Path, "ws")
	if st == nil {
		http.NotFound(w, r)
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Upgrade", "websocket")
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	conn, err := h.up.Upgrade(w, r)
	if err != nil {
		h.log.Debug("upgrade failed", "stream", st.ID(), "remote", r.RemoteAddr, "error", err)
		return
	}

	remote := conn.RemoteAddr()
	h.log.Info("listener joined", "stream", st.ID(), "remote", remote)
	// The hub logs per-client failures; this call returns when the client
	// leaves or the stream shuts down.
	st.Hub().ServeConn(r.Context(), conn)
	h.log.Info("listener left", "stream", st.ID(), "remote", remote)
}

type InfoHandler struct {
	mgr *manager.Manager
}

func NewInfoHandler(mgr *manager.Manager) *InfoHandler {
	return &InfoHandler{mgr: mgr}
}

type streamInfo struct {
	ID             string `json:"id"`
	WSURL          string `json:"ws_url"`
	InfoURL        string `json:"info_url"`
	Codec          string `json:"codec"`
	SampleRate     int    `json:"sample_rate"`
	Channels       int    `json:"channels"`
	FrameSamples   int    `json:"frame_samples"`
	Clients        int    `json:"clients"`
	Frames         uint64 `json:"frames"`
	ClientDrops    uint64 `json:"client_drops"`
	CaptureDropped uint64 `json:"capture_dropped"`
	SentBytes      uint64 `json:"sent_bytes"`
	SourceHealthy  bool   `json:"sourceHealthy"`
}

func describe(st *stream.Stream) streamInfo {
	stats := st.Stats()
	return streamInfo{
		ID:             st.ID(),
		WSURL:          fmt.Sprintf("/%s/ws", st.ID()),
		InfoURL:        fmt.Sprintf("/%s/info", st.ID()),
		Codec:          st.Codec(),
		SampleRate:     st.SampleRate(),
		Channels:       st.Channels(),
		FrameSamples:   st.FrameSamples(),
		Clients:        stats.Clients,
		Frames:         stats.Frames,
		ClientDrops:    stats.ClientDrops,
		CaptureDropped: stats.CaptureDropped,
		SentBytes:      stats.BytesOut,
		SourceHealthy:  stats.SourceHealthy,
	}
}

func (h *InfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := lookup(h.mgr, r.URL.Path, "info")
	if st == nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(describe(st))
}

type StreamsHandler struct {
	mgr *manager.Manager
}

func NewStreamsHandler(mgr *manager.Manager) *StreamsHandler {
	return &StreamsHandler{mgr: mgr}
}

func (h *StreamsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	streams := h.mgr.List()
	result := make([]streamInfo, 0, len(streams))
	for _, st := range streams {
		result = append(result, describe(st))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func HealthzHandler(w http.ResponseWriter, r *http.Request) {
	type response struct {
		OK bool `json:"ok"`
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response{OK: true})
}

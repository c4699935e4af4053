package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	"workpipe/internal/events"
	"workpipe/internal/logger"
	"workpipe/internal/metrics"
	"workpipe/internal/pipeline"
)

// Server はAPIサーバー
type Server struct {
	addr     string
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	bus      *events.Bus
	baseCtx  context.Context

	mu        sync.RWMutex
	engine    *pipeline.Engine
	cancel    context.CancelFunc
	last      *pipeline.Result
	lastErr   string
	wsClients map[*websocket.Conn]bool

	server *http.Server
}

// NewServer は新しいAPIサーバーを作成する
func NewServer(addr string) (*Server, error) {
	m := metrics.New()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		return nil, err
	}

	return &Server{
		addr:      addr,
		metrics:   m,
		registry:  reg,
		bus:       events.NewBus(),
		baseCtx:   context.Background(),
		wsClients: make(map[*websocket.Conn]bool),
	}, nil
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/run", s.handleRun)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/presets", s.handlePresets)

	// Prometheus
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// WebSocket
	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))

	return mux
}

// Start はサーバーを開始し、ctx がキャンセルされるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// バックグラウンドでイベント配信
	go s.streamEvents(ctx)

	logger.Info("", "API Server starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		s.bus.Close()
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	pipeline.Status
	LastResult *pipeline.Result `json:"last_result,omitempty"`
	LastError  string           `json:"last_error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := StatusResponse{
		LastResult: s.last,
		LastError:  s.lastErr,
	}
	if s.engine != nil {
		resp.Status = s.engine.Status()
	}

	s.writeJSON(w, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, s.metrics.Snapshot())
}

// RunRequest は実行開始リクエスト
type RunRequest struct {
	Preset    string `json:"preset"`
	Items     *int   `json:"items,omitempty"`
	Workers   *int   `json:"workers,omitempty"`
	Transform string `json:"transform,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	config, err := req.config()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		http.Error(w, "Pipeline already running", http.StatusConflict)
		return
	}

	engine := pipeline.New(config)
	engine.SetEventBus(s.bus)
	engine.SetMetrics(s.metrics)
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.engine = engine
	s.cancel = cancel
	s.mu.Unlock()

	// バックグラウンドで実行
	go func() {
		defer cancel()
		result, err := engine.Run(ctx)

		s.mu.Lock()
		s.cancel = nil
		s.last = result
		s.lastErr = ""
		if err != nil {
			s.lastErr = err.Error()
		}
		s.mu.Unlock()

		if err != nil {
			logger.Error("", "Run failed: %v", err)
		} else {
			logger.Info("", "Run completed: %d items processed", result.Processed)
		}

		s.broadcast(map[string]interface{}{
			"type":   "run_result",
			"result": result,
			"error":  errString(err),
		})
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	s.writeJSON(w, map[string]string{"status": "started", "name": config.Name})
}

// config はリクエストからパイプライン設定を組み立てる
func (req RunRequest) config() (pipeline.Config, error) {
	config := pipeline.QuickPreset()
	if req.Preset != "" {
		preset, ok := pipeline.GetPreset(req.Preset)
		if !ok {
			return config, errors.New("unknown preset: " + req.Preset)
		}
		config = preset
	}

	// オーバーライド
	if req.Items != nil {
		config.MaxItems = *req.Items
	}
	if req.Workers != nil {
		config.Workers = *req.Workers
	}
	if req.Transform != "" {
		config.Transform = req.Transform
	}

	return config, config.Validate()
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		http.Error(w, "No pipeline running", http.StatusBadRequest)
		return
	}
	cancel()

	s.writeJSON(w, map[string]string{"status": "stop requested"})
}

// PresetInfo はプリセット情報
type PresetInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	MaxItems    int    `json:"max_items"`
	Workers     int    `json:"workers"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var presets []PresetInfo
	for _, name := range pipeline.ListPresets() {
		cfg, _ := pipeline.GetPreset(name)
		presets = append(presets, PresetInfo{
			Name:        name,
			Description: cfg.Description,
			MaxItems:    cfg.MaxItems,
			Workers:     cfg.Workers,
		})
	}

	s.writeJSON(w, presets)
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) broadcast(data interface{}) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// streamEvents はイベントバスの内容を WebSocket クライアントへ転送する
func (s *Server) streamEvents(ctx context.Context) {
	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(ev)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("", "Failed to encode JSON: %v", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

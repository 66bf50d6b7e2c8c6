// Package nodesync implements the Node Protocol (§4.F): register,
// heartbeat, config pull, event ingest, metrics push, and the pull-based
// command channel used by secondary sync-agents.
package nodesync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/ingest"
	"github.com/Zerostate-IO/powerblockade/internal/app/pberrors"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage"
)

// Server holds the dependencies shared by every node-sync handler.
type Server struct {
	store     storage.Store
	ingest    *ingest.Pipeline
	sharedDir string
	log       *logrus.Entry
	clock     func() time.Time
	validate  *validator.Validate
}

// New builds a Server. sharedDir must contain the "rpz" subdirectory the
// policy compiler writes into.
func New(store storage.Store, pipeline *ingest.Pipeline, sharedDir string, log *logrus.Entry) *Server {
	return &Server{
		store:     store,
		ingest:    pipeline,
		sharedDir: sharedDir,
		log:       log,
		clock:     time.Now,
		validate:  validator.New(),
	}
}

// Router mounts every node-sync endpoint under the bearer-auth middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(authMiddleware(s.store))
	r.Post("/register", s.handleRegister)
	r.Post("/heartbeat", s.handleHeartbeat)
	r.Get("/config", s.handleConfig)
	r.Post("/ingest", s.handleIngest)
	r.Post("/metrics", s.handleMetrics)
	r.Get("/commands", s.handleCommandsPoll)
	r.Post("/commands/result", s.handleCommandsResult)
	return r
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	node, _ := nodeFromContext(r.Context())
	var req RegisterRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	node.Name = req.Name
	if req.Version != "" {
		node.Version = req.Version
	}
	if req.IPAddress != "" {
		node.IPAddress = req.IPAddress
	}
	node.Status = domain.NodeStatusActive
	now := s.clock().UTC()
	node.LastSeen = &now
	node.LastError = ""

	if _, err := s.store.UpdateNode(r.Context(), node); err != nil {
		s.writeError(w, err)
		return
	}

	version, _, _ := s.store.GetSetting(r.Context(), domain.SettingConfigVersion)
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "config_version": version})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	node, _ := nodeFromContext(r.Context())
	var req HeartbeatRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	if req.QueriesTotal != nil {
		node.QueriesTotal = *req.QueriesTotal
	}
	if req.QueriesBlocked != nil {
		node.QueriesBlocked = *req.QueriesBlocked
	}
	if req.Version != "" {
		node.Version = req.Version
	}
	node.Status = domain.NodeStatusActive
	now := s.clock().UTC()
	node.LastSeen = &now
	node.LastError = ""

	if _, err := s.store.UpdateNode(r.Context(), node); err != nil {
		s.writeError(w, err)
		return
	}

	version, _, _ := s.store.GetSetting(r.Context(), domain.SettingConfigVersion)
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "config_version": version})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	node, _ := nodeFromContext(r.Context())
	ctx := r.Context()

	version, _, err := s.store.GetSetting(ctx, domain.SettingConfigVersion)
	if err != nil {
		s.writeError(w, err)
		return
	}

	files := make([]rpzFileView, 0, 2)
	for _, filename := range []string{"blocklist-combined.rpz", "whitelist.rpz"} {
		view, err := s.readRPZFile(filename)
		if err != nil {
			continue // a missing file means no compile has run yet; omit it
		}
		files = append(files, view)
	}

	zones, err := s.store.ListForwardZonesForNode(ctx, node.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	zoneViews := make([]forwardZoneView, 0, len(zones))
	for _, z := range zones {
		zoneViews = append(zoneViews, forwardZoneView{Domain: z.Domain, Servers: z.Servers, IsOverride: z.NodeID != nil})
	}

	stored, err := s.store.ListSettings(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	settings := domain.DefaultSettings()
	for k, v := range stored {
		settings[k] = v
	}

	lists, err := s.store.ListBlocklists(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	summaries := make([]blocklistSummaryView, 0, len(lists))
	for _, b := range lists {
		summaries = append(summaries, blocklistSummaryView{
			Name: b.Name, ListType: string(b.ListType), Enabled: b.Enabled, EntryCount: b.EntryCount,
		})
	}

	s.writeJSON(w, http.StatusOK, configResponse{
		OK:            true,
		ConfigVersion: version,
		RPZFiles:      files,
		ForwardZones:  zoneViews,
		Settings:      settings,
		Blocklists:    summaries,
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	node, _ := nodeFromContext(r.Context())
	var req IngestRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	raw := make([]ingest.RawEvent, 0, len(req.Events))
	for _, e := range req.Events {
		raw = append(raw, ingest.RawEvent{
			TS: e.TS, ClientIP: e.ClientIP, QName: e.QName, QType: e.QType, RCode: e.RCode,
			Blocked: e.Blocked, BlockReason: e.BlockReason, BlocklistName: e.BlocklistName,
			LatencyMs: e.LatencyMs, EventID: e.EventID,
		})
	}

	inserted, err := s.ingest.Ingest(r.Context(), node.ID, raw)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "received": inserted, "node": node.Name})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	node, _ := nodeFromContext(r.Context())
	var req MetricsRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	now := s.clock().UTC()
	err := s.store.WithTx(r.Context(), func(ctx context.Context, tx storage.Store) error {
		if err := tx.InsertNodeMetrics(ctx, domain.NodeMetrics{
			NodeID: node.ID, TS: now,
			CacheHits: req.CacheHits, CacheMisses: req.CacheMisses, CacheEntries: req.CacheEntries,
			ConcurrentQueries: req.ConcurrentQueries, OutgoingTimeouts: req.OutgoingTimeouts,
			ServFailAnswers: req.ServFailAnswers, NXDomainAnswers: req.NXDomainAnswers,
			Questions: req.Questions, UptimeSeconds: req.UptimeSeconds,
		}); err != nil {
			return err
		}
		node.Status = domain.NodeStatusActive
		node.LastSeen = &now
		_, err := tx.UpdateNode(ctx, node)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "node": node.Name})
}

func (s *Server) handleCommandsPoll(w http.ResponseWriter, r *http.Request) {
	node, _ := nodeFromContext(r.Context())
	commands, err := s.store.PendingCommandsForNode(r.Context(), node.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	type commandView struct {
		ID      string         `json:"id"`
		Command string         `json:"command"`
		Params  map[string]any `json:"params"`
	}
	views := make([]commandView, 0, len(commands))
	for _, c := range commands {
		views = append(views, commandView{ID: c.ID, Command: c.Command, Params: c.Params})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"commands": views})
}

func (s *Server) handleCommandsResult(w http.ResponseWriter, r *http.Request) {
	var req CommandResultRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	result := req.Result
	if result == nil {
		result = map[string]any{}
	}
	result["success"] = req.Success

	if err := s.store.RecordCommandResult(r.Context(), req.ID, result, s.clock().UTC()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) readRPZFile(filename string) (rpzFileView, error) {
	path := filepath.Join(s.sharedDir, "rpz", filename)
	content, err := os.ReadFile(path)
	if err != nil {
		return rpzFileView{}, err
	}
	sum := sha256.Sum256(content)
	return rpzFileView{
		Filename: filename,
		Content:  string(content),
		Checksum: hex.EncodeToString(sum[:])[:16],
	}, nil
}

func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, fmt.Errorf("%w: malformed json body: %v", pberrors.ErrValidation, err))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", pberrors.ErrValidation, err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := pberrors.StatusForError(err)
	if status == http.StatusUnauthorized {
		w.WriteHeader(status)
		return
	}
	if s.log != nil && status == http.StatusInternalServerError {
		s.log.WithError(err).Error("nodesync: handler error")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/stocktake/stocktake/internal/domain/connstore"
	"github.com/stocktake/stocktake/internal/registry"
)

func (s *httpServer) configStatus(w http.ResponseWriter, r *http.Request) {
	stores, err := s.connStore.ListStores(r.Context())
	if err != nil {
		s.logger.Printf("config status: %v", err)
		writeError(w, http.StatusInternalServerError, "configuration unavailable")
		return
	}
	primaries := 0
	for _, conn := range stores {
		if conn.IsPrimary && conn.IsActive {
			primaries++
		}
	}
	adminConfigured := true
	if _, err := s.connStore.GetAdminConfig(r.Context()); err != nil {
		if !errors.Is(err, connstore.ErrAdminNotConfigured) {
			s.logger.Printf("config status: %v", err)
			writeError(w, http.StatusInternalServerError, "configuration unavailable")
			return
		}
		adminConfigured = false
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"adminConfigured":   adminConfigured,
		"storeCount":        len(stores),
		"primaryConfigured": primaries == 1,
	})
}

type adminDBPayload struct {
	Server   string `json:"server"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (p adminDBPayload) validate() string {
	if strings.TrimSpace(p.Server) == "" {
		return "server required"
	}
	if strings.TrimSpace(p.Database) == "" {
		return "database required"
	}
	return ""
}

func (s *httpServer) getAdminDB(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.connStore.GetAdminConfig(r.Context())
	if err != nil {
		if errors.Is(err, connstore.ErrAdminNotConfigured) {
			writeJSON(w, http.StatusOK, map[string]any{"configured": false})
			return
		}
		s.logger.Printf("get admin config: %v", err)
		writeError(w, http.StatusInternalServerError, "configuration unavailable")
		return
	}
	// Secret is json:"-"; only the shape of the connection comes back.
	writeJSON(w, http.StatusOK, map[string]any{"configured": true, "config": cfg})
}

func (s *httpServer) saveAdminDB(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var payload adminDBPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	if msg := payload.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.connStore.SaveAdminConfig(r.Context(), connstore.AdminConfig{
		Server:   strings.TrimSpace(payload.Server),
		Database: strings.TrimSpace(payload.Database),
		Username: strings.TrimSpace(payload.Username),
		Secret:   payload.Password,
	}); err != nil {
		s.logger.Printf("save admin config: %v", err)
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *httpServer) testAdminDB(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var payload adminDBPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	s.runConnectionTest(w, r, registry.Descriptor{
		Nickname: "admin",
		Server:   payload.Server,
		Database: payload.Database,
		Username: payload.Username,
		Secret:   payload.Password,
	})
}

type storePayload struct {
	Nickname  string `json:"nickname"`
	Server    string `json:"server"`
	Database  string `json:"database"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	IsPrimary *bool  `json:"isPrimary,omitempty"`
	IsActive  *bool  `json:"isActive,omitempty"`
}

func (s *httpServer) listStores(w http.ResponseWriter, r *http.Request) {
	stores, err := s.connStore.ListStores(r.Context())
	if err != nil {
		s.logger.Printf("list stores: %v", err)
		writeError(w, http.StatusInternalServerError, "configuration unavailable")
		return
	}
	if stores == nil {
		stores = []connstore.StoreConnection{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stores": stores})
}

func (s *httpServer) createStore(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var payload storePayload
	if err := decodeJSON(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	conn := connstore.StoreConnection{
		Nickname: strings.TrimSpace(payload.Nickname),
		Server:   strings.TrimSpace(payload.Server),
		Database: strings.TrimSpace(payload.Database),
		Username: strings.TrimSpace(payload.Username),
		Secret:   payload.Password,
		IsActive: true,
	}
	if payload.IsPrimary != nil {
		conn.IsPrimary = *payload.IsPrimary
	}
	if payload.IsActive != nil {
		conn.IsActive = *payload.IsActive
	}
	if conn.Nickname == "" || conn.Server == "" || conn.Database == "" {
		writeError(w, http.StatusBadRequest, "nickname, server and database required")
		return
	}

	id, err := s.connStore.AddStore(r.Context(), conn)
	if err != nil {
		s.logger.Printf("create store: %v", err)
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	created, err := s.connStore.GetStore(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusCreated, map[string]any{"id": id})
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *httpServer) handleStore(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, storeDetailPrefix), "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "store id required")
		return
	}

	rawID, action, hasAction := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "store id required")
		return
	}

	if !hasAction {
		s.handleStoreResource(w, r, id)
		return
	}
	s.handleStoreAction(w, r, id, strings.TrimSpace(action))
}

func (s *httpServer) handleStoreResource(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		conn, err := s.connStore.GetStore(r.Context(), id)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conn)
	case http.MethodPut:
		limitRequestBody(w, r)
		var payload storePayload
		if err := decodeJSON(r, &payload); err != nil {
			writeDecodeError(w, err)
			return
		}
		update := storeUpdateFromPayload(payload)
		if err := s.connStore.UpdateStore(r.Context(), id, update); err != nil {
			s.writeStoreError(w, err)
			return
		}
		conn, err := s.connStore.GetStore(r.Context(), id)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conn)
	case http.MethodDelete:
		if err := s.connStore.DeleteStore(r.Context(), id); err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "removed", "id": id})
	default:
		methodNotAllowed(w, http.MethodDelete, http.MethodGet, http.MethodPut)
	}
}

func (s *httpServer) handleStoreAction(w http.ResponseWriter, r *http.Request, id int64, action string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	switch action {
	case "test":
		conn, err := s.connStore.GetStore(r.Context(), id)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.runConnectionTest(w, r, registry.Descriptor{
			Nickname: conn.Nickname,
			Server:   conn.Server,
			Database: conn.Database,
			Username: conn.Username,
			Secret:   conn.Secret,
		})
	case "set-primary":
		if err := s.connStore.SetPrimaryStore(r.Context(), id); err != nil {
			s.writeStoreError(w, err)
			return
		}
		conn, err := s.connStore.GetStore(r.Context(), id)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conn)
	default:
		writeError(w, http.StatusNotFound, "unsupported action")
	}
}

func (s *httpServer) runConnectionTest(w http.ResponseWriter, r *http.Request, desc registry.Descriptor) {
	err := s.registry.TestConnection(r.Context(), desc)
	s.metrics.RecordConnectionTest(r.Context(), err == nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *httpServer) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, connstore.ErrStoreNotFound) {
		writeError(w, http.StatusNotFound, "store not found")
		return
	}
	s.logger.Printf("store config: %v", err)
	writeError(w, http.StatusInternalServerError, "configuration unavailable")
}

func storeUpdateFromPayload(payload storePayload) connstore.StoreUpdate {
	update := connstore.StoreUpdate{
		IsPrimary: payload.IsPrimary,
		IsActive:  payload.IsActive,
	}
	if trimmed := strings.TrimSpace(payload.Nickname); trimmed != "" {
		update.Nickname = &trimmed
	}
	if trimmed := strings.TrimSpace(payload.Server); trimmed != "" {
		update.Server = &trimmed
	}
	if trimmed := strings.TrimSpace(payload.Database); trimmed != "" {
		update.Database = &trimmed
	}
	if trimmed := strings.TrimSpace(payload.Username); trimmed != "" {
		update.Username = &trimmed
	}
	if payload.Password != "" {
		secret := payload.Password
		update.Secret = &secret
	}
	return update
}

type thresholdPayload struct {
	Threshold *decimal.Decimal `json:"threshold"`
}

func (s *httpServer) getQuantityThreshold(w http.ResponseWriter, r *http.Request) {
	threshold, err := s.threshold.Threshold(r.Context())
	if err != nil {
		s.logger.Printf("get threshold: %v", err)
		writeError(w, http.StatusInternalServerError, "settings unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threshold": threshold})
}

func (s *httpServer) saveQuantityThreshold(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var payload thresholdPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	if payload.Threshold == nil {
		writeError(w, http.StatusBadRequest, "threshold required")
		return
	}
	if err := s.threshold.SaveThreshold(r.Context(), *payload.Threshold); err != nil {
		writeError(w, http.StatusBadRequest, "invalid threshold")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "threshold": payload.Threshold})
}

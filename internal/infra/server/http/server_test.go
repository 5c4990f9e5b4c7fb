package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/stocktake/stocktake/internal/auth"
	"github.com/stocktake/stocktake/internal/domain/connstore"
	"github.com/stocktake/stocktake/internal/domain/sessionstore"
	"github.com/stocktake/stocktake/internal/domain/settingstore"
	"github.com/stocktake/stocktake/internal/domain/txlog"
	"github.com/stocktake/stocktake/internal/inventory"
	"github.com/stocktake/stocktake/internal/registry"
	"github.com/stocktake/stocktake/internal/session"
)

type memConnStore struct {
	stores map[int64]connstore.StoreConnection
	nextID int64
	admin  *connstore.AdminConfig
}

func newMemConnStore() *memConnStore {
	return &memConnStore{stores: map[int64]connstore.StoreConnection{}, nextID: 1}
}

func (m *memConnStore) ListStores(context.Context) ([]connstore.StoreConnection, error) {
	out := make([]connstore.StoreConnection, 0, len(m.stores))
	for _, conn := range m.stores {
		out = append(out, conn)
	}
	return out, nil
}

func (m *memConnStore) GetStore(_ context.Context, id int64) (connstore.StoreConnection, error) {
	conn, ok := m.stores[id]
	if !ok {
		return connstore.StoreConnection{}, connstore.ErrStoreNotFound
	}
	return conn, nil
}

func (m *memConnStore) GetStoreByNickname(_ context.Context, nickname string) (connstore.StoreConnection, error) {
	for _, conn := range m.stores {
		if conn.Nickname == nickname {
			return conn, nil
		}
	}
	return connstore.StoreConnection{}, connstore.ErrStoreNotFound
}

func (m *memConnStore) ListPrimaryStores(context.Context) ([]connstore.StoreConnection, error) {
	var out []connstore.StoreConnection
	for _, conn := range m.stores {
		if conn.IsPrimary && conn.IsActive {
			out = append(out, conn)
		}
	}
	return out, nil
}

func (m *memConnStore) AddStore(_ context.Context, conn connstore.StoreConnection) (int64, error) {
	id := m.nextID
	m.nextID++
	conn.ID = id
	m.stores[id] = conn
	return id, nil
}

func (m *memConnStore) UpdateStore(_ context.Context, id int64, update connstore.StoreUpdate) error {
	conn, ok := m.stores[id]
	if !ok {
		return connstore.ErrStoreNotFound
	}
	if update.Nickname != nil {
		conn.Nickname = *update.Nickname
	}
	if update.Server != nil {
		conn.Server = *update.Server
	}
	if update.Database != nil {
		conn.Database = *update.Database
	}
	if update.Username != nil {
		conn.Username = *update.Username
	}
	if update.Secret != nil {
		conn.Secret = *update.Secret
	}
	if update.IsPrimary != nil {
		conn.IsPrimary = *update.IsPrimary
	}
	if update.IsActive != nil {
		conn.IsActive = *update.IsActive
	}
	m.stores[id] = conn
	return nil
}

func (m *memConnStore) DeleteStore(_ context.Context, id int64) error {
	if _, ok := m.stores[id]; !ok {
		return connstore.ErrStoreNotFound
	}
	delete(m.stores, id)
	return nil
}

func (m *memConnStore) SetPrimaryStore(_ context.Context, id int64) error {
	if _, ok := m.stores[id]; !ok {
		return connstore.ErrStoreNotFound
	}
	for key, conn := range m.stores {
		conn.IsPrimary = key == id
		m.stores[key] = conn
	}
	return nil
}

func (m *memConnStore) GetAdminConfig(context.Context) (connstore.AdminConfig, error) {
	if m.admin == nil {
		return connstore.AdminConfig{}, connstore.ErrAdminNotConfigured
	}
	return *m.admin, nil
}

func (m *memConnStore) SaveAdminConfig(_ context.Context, cfg connstore.AdminConfig) error {
	m.admin = &cfg
	return nil
}

type memSessionStore struct {
	sessions map[string]sessionstore.Session
}

func (m *memSessionStore) Create(_ context.Context, s sessionstore.Session) error {
	m.sessions[s.Token] = s
	return nil
}

func (m *memSessionStore) Get(_ context.Context, token string) (sessionstore.Session, error) {
	s, ok := m.sessions[token]
	if !ok {
		return sessionstore.Session{}, sessionstore.ErrSessionNotFound
	}
	return s, nil
}

func (m *memSessionStore) Delete(_ context.Context, token string) error {
	delete(m.sessions, token)
	return nil
}

func (m *memSessionStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var removed int64
	for token, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, token)
			removed++
		}
	}
	return removed, nil
}

type memTxLog struct {
	records []txlog.Record
}

func (m *memTxLog) Append(_ context.Context, entry txlog.Entry) (txlog.Record, error) {
	record := txlog.Record{Entry: entry, ID: int64(len(m.records) + 1), CreatedAt: time.Now()}
	m.records = append(m.records, record)
	return record, nil
}

func (m *memTxLog) List(_ context.Context, query txlog.Query) ([]txlog.Record, error) {
	var out []txlog.Record
	for _, record := range m.records {
		if query.Status != "" && record.Status != query.Status {
			continue
		}
		if query.Username != "" && record.Username != query.Username {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

type memSettings struct {
	values map[string]string
}

func (m *memSettings) Get(_ context.Context, key string) (string, error) {
	value, ok := m.values[key]
	if !ok {
		return "", settingstore.ErrSettingNotFound
	}
	return value, nil
}

func (m *memSettings) Save(_ context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

type staticRow struct {
	scan func(dest ...any) error
}

func (r staticRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

// scriptedConn answers the fixed query set the external clients issue.
type scriptedConn struct {
	user    *adminUserRow
	product *productRow
}

type adminUserRow struct {
	id        int64
	username  string
	fullName  string
	activated *bool
}

type productRow struct {
	id          int64
	upc         string
	sku         string
	description string
	quantity    string
	units       string
}

func (c *scriptedConn) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not scripted")
}

func (c *scriptedConn) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "SELECT 1"):
		return staticRow{scan: func(dest ...any) error {
			if p, ok := dest[0].(*int); ok {
				*p = 1
			}
			return nil
		}}
	case strings.Contains(sql, "FROM admin_users"):
		if c.user == nil {
			return staticRow{}
		}
		return staticRow{scan: func(dest ...any) error {
			*dest[0].(*int64) = c.user.id
			*dest[1].(*string) = c.user.username
			*dest[2].(*string) = c.user.fullName
			*dest[3].(*string) = ""
			*dest[4].(**bool) = c.user.activated
			return nil
		}}
	case strings.Contains(sql, "FROM items"):
		if c.product == nil {
			return staticRow{}
		}
		return staticRow{scan: func(dest ...any) error {
			*dest[0].(*int64) = c.product.id
			*dest[1].(*string) = c.product.upc
			*dest[2].(*string) = c.product.sku
			*dest[3].(*string) = c.product.description
			*dest[4].(*string) = c.product.quantity
			*dest[5].(**time.Time) = nil
			*dest[6].(*string) = c.product.units
			return nil
		}}
	default:
		return staticRow{scan: func(...any) error {
			return fmt.Errorf("unexpected query %q", sql)
		}}
	}
}

func (c *scriptedConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	switch {
	case strings.Contains(sql, "UPDATE items"):
		return pgconn.NewCommandTag("UPDATE 1"), nil
	case strings.Contains(sql, "INSERT INTO manual_inventory_updates"):
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	default:
		return pgconn.CommandTag{}, fmt.Errorf("unexpected exec %q", sql)
	}
}

func (c *scriptedConn) Close(context.Context) error { return nil }

type testEnv struct {
	handler   http.Handler
	connStore *memConnStore
	txLog     *memTxLog
	settings  *memSettings
	storeConn *scriptedConn
	adminConn *scriptedConn
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := log.New(io.Discard, "", 0)

	connStore := newMemConnStore()
	if _, err := connStore.AddStore(context.Background(), connstore.StoreConnection{
		Nickname:  "main",
		Server:    "store-db",
		Database:  "store",
		Username:  "svc",
		IsPrimary: true,
		IsActive:  true,
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	connStore.admin = &connstore.AdminConfig{Server: "admin-db", Database: "admin", Username: "svc"}

	storeConn := &scriptedConn{product: &productRow{
		id: 42, upc: "012345678905", sku: "WID-1", description: "Widget",
		quantity: "12", units: "6",
	}}
	adminConn := &scriptedConn{user: &adminUserRow{id: 7, username: "mira", fullName: "Mira K"}}

	dial := func(_ context.Context, dsn string) (registry.Conn, error) {
		if strings.Contains(dsn, "admin") {
			return adminConn, nil
		}
		return storeConn, nil
	}
	reg := registry.New(connStore, time.Second, time.Second, registry.WithDialFunc(dial))

	sessions := session.NewDirectory(&memSessionStore{sessions: map[string]sessionstore.Session{}}, 24*time.Hour, logger)
	txLog := &memTxLog{}
	settings := &memSettings{values: map[string]string{}}

	handler := NewHandler(Deps{
		Logger:    logger,
		Registry:  reg,
		ConnStore: connStore,
		TxLog:     txLog,
		Sessions:  sessions,
		Auth:      auth.NewAuthenticator(sessions, logger),
		Orch:      inventory.NewOrchestrator(txLog, logger),
		Threshold: inventory.NewThresholdChecker(settings),
	})
	return &testEnv{
		handler:   handler,
		connStore: connStore,
		txLog:     txLog,
		settings:  settings,
		storeConn: storeConn,
		adminConn: adminConn,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) loginAs(t *testing.T, username string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, loginPath, "", map[string]string{"username": username})
	if rec.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.Token
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, healthPath, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProductEndpointsRequireSession(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, productLookupPath+"?barcode=012345678905", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLoginMeLogout(t *testing.T) {
	env := newTestEnv(t)
	token := env.loginAs(t, "mira")

	rec := env.do(t, http.MethodGet, mePath, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me returned %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Mira K") {
		t.Fatalf("expected full name in response, got %s", rec.Body.String())
	}

	if rec := env.do(t, http.MethodPost, logoutPath, token, nil); rec.Code != http.StatusOK {
		t.Fatalf("logout returned %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, mePath, token, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked session to be rejected, got %d", rec.Code)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	env.adminConn.user = nil

	rec := env.do(t, http.MethodPost, loginPath, "", map[string]string{"username": "ghost"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestProductLookup(t *testing.T) {
	env := newTestEnv(t)
	token := env.loginAs(t, "mira")

	rec := env.do(t, http.MethodGet, productLookupPath+"?barcode=012345678905", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup returned %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Widget") {
		t.Fatalf("expected product payload, got %s", rec.Body.String())
	}
}

func TestProductLookupWithoutPrimaryStore(t *testing.T) {
	env := newTestEnv(t)
	token := env.loginAs(t, "mira")
	for id := range env.connStore.stores {
		delete(env.connStore.stores, id)
	}

	rec := env.do(t, http.MethodGet, productLookupPath+"?barcode=012345678905", token, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateQuantityRecordsAttempt(t *testing.T) {
	env := newTestEnv(t)
	token := env.loginAs(t, "mira")

	entered := decimal.RequireFromString("10.5")
	rec := env.do(t, http.MethodPost, updateQuantityPath, token, map[string]any{
		"productId":      42,
		"userEnteredQty": entered,
		"quotationsQty":  decimal.RequireFromString("3"),
		"topBinsQty":     decimal.RequireFromString("2"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update returned %d: %s", rec.Code, rec.Body.String())
	}

	var result inventory.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Status != txlog.StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", result.Status, result.ErrorMessage)
	}
	if !result.NewQuantity.Equal(decimal.RequireFromString("15.5")) {
		t.Fatalf("unexpected new quantity %s", result.NewQuantity)
	}
	if len(env.txLog.records) != 1 {
		t.Fatalf("expected one transaction log row, got %d", len(env.txLog.records))
	}
	if env.txLog.records[0].Username != "mira" {
		t.Fatalf("expected actor recorded, got %q", env.txLog.records[0].Username)
	}
}

func TestUpdateQuantityTargetsNamedStore(t *testing.T) {
	env := newTestEnv(t)
	token := env.loginAs(t, "mira")

	if _, err := env.connStore.AddStore(context.Background(), connstore.StoreConnection{
		Nickname: "east",
		Server:   "east-db",
		Database: "store",
		IsActive: true,
	}); err != nil {
		t.Fatalf("seed east store: %v", err)
	}

	rec := env.do(t, http.MethodPost, updateQuantityPath, token, map[string]any{
		"store":          "east",
		"productId":      42,
		"userEnteredQty": decimal.RequireFromString("9"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update returned %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.txLog.records) != 1 {
		t.Fatalf("expected one transaction log row, got %d", len(env.txLog.records))
	}
	if env.txLog.records[0].StoreNickname != "east" {
		t.Fatalf("expected east store recorded, got %q", env.txLog.records[0].StoreNickname)
	}
}

func TestUpdateQuantityRejectsUnknownStore(t *testing.T) {
	env := newTestEnv(t)
	token := env.loginAs(t, "mira")

	rec := env.do(t, http.MethodPost, updateQuantityPath, token, map[string]any{
		"store":          "ghost",
		"productId":      42,
		"userEnteredQty": decimal.RequireFromString("9"),
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown store, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.txLog.records) != 0 {
		t.Fatalf("expected no transaction log rows, got %d", len(env.txLog.records))
	}
}

func TestUpdateQuantityValidation(t *testing.T) {
	env := newTestEnv(t)
	token := env.loginAs(t, "mira")

	rec := env.do(t, http.MethodPost, updateQuantityPath, token, map[string]any{"productId": 42})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTransactionsRejectsUnknownStatus(t *testing.T) {
	env := newTestEnv(t)
	token := env.loginAs(t, "mira")

	rec := env.do(t, http.MethodGet, transactionsPath+"?status=failed", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStoreCRUDAndSetPrimary(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, storesPath, "", map[string]any{
		"nickname": "east",
		"server":   "east-db",
		"database": "store",
		"username": "svc",
		"password": "secret",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("secret must not appear in responses: %s", rec.Body.String())
	}
	var created connstore.StoreConnection
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created store: %v", err)
	}

	rec = env.do(t, http.MethodPost, fmt.Sprintf("%s%d/set-primary", storeDetailPrefix, created.ID), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("set-primary returned %d: %s", rec.Code, rec.Body.String())
	}
	primaries, _ := env.connStore.ListPrimaryStores(context.Background())
	if len(primaries) != 1 || primaries[0].Nickname != "east" {
		t.Fatalf("expected east to be the only primary, got %+v", primaries)
	}

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("%s%d", storeDetailPrefix, created.ID), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete returned %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, fmt.Sprintf("%s%d", storeDetailPrefix, created.ID), "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestAdminConfigRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.connStore.admin = nil

	rec := env.do(t, http.MethodGet, adminDBPath, "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"configured":false`) {
		t.Fatalf("expected unconfigured admin, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, adminDBPath, "", map[string]string{
		"server": "admin-db", "database": "admin", "username": "svc", "password": "hunter2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("save returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, adminDBPath, "", nil)
	if !strings.Contains(rec.Body.String(), `"configured":true`) {
		t.Fatalf("expected configured admin, got %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Fatalf("secret must not appear in responses: %s", rec.Body.String())
	}
}

func TestConnectionTestEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, testAdminDBPath, "", map[string]string{
		"server": "admin-db", "database": "admin", "username": "svc",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("test returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestQuantityThresholdDefaults(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, quantityThresholdPath, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("threshold returned %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "10") {
		t.Fatalf("expected default threshold, got %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, quantityThresholdPath, "", map[string]any{"threshold": 25})
	if rec.Code != http.StatusOK {
		t.Fatalf("save returned %d: %s", rec.Code, rec.Body.String())
	}
	if env.settings.values["quantity_threshold"] != "25" {
		t.Fatalf("expected threshold persisted, got %v", env.settings.values)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodDelete, loginPath, "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); !strings.Contains(allow, http.MethodPost) {
		t.Fatalf("expected Allow header, got %q", allow)
	}
}

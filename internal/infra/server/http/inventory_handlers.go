package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/stocktake/stocktake/internal/domain/txlog"
	"github.com/stocktake/stocktake/internal/inventory"
	"github.com/stocktake/stocktake/internal/registry"
)

type loginPayload struct {
	Username string `json:"username"`
}

func (s *httpServer) login(w http.ResponseWriter, r *http.Request) {
	if !s.loginLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}
	limitRequestBody(w, r)
	var payload loginPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}

	admin, err := s.registry.ResolveAdmin(r.Context())
	if err != nil {
		s.metrics.RecordLogin(r.Context(), false)
		writeDomainError(w, err)
		return
	}
	defer s.closeClient(admin)

	sess, err := s.authn.Login(r.Context(), admin, payload.Username)
	if err != nil {
		s.metrics.RecordLogin(r.Context(), false)
		writeDomainError(w, err)
		return
	}
	s.metrics.RecordLogin(r.Context(), true)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     sess.Token,
		"username":  sess.Username,
		"fullName":  sess.FullName,
		"expiresAt": sess.ExpiresAt,
	})
}

func (s *httpServer) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.authn.Logout(r.Context(), bearerToken(r)); err != nil {
		s.logger.Printf("logout: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *httpServer) me(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username":  sess.Username,
		"fullName":  sess.FullName,
		"expiresAt": sess.ExpiresAt,
	})
}

// resolveStore picks the named store when a nickname is supplied and falls
// back to the primary otherwise.
func (s *httpServer) resolveStore(ctx context.Context, nickname string) (*registry.StoreClient, error) {
	if strings.TrimSpace(nickname) == "" {
		return s.registry.ResolvePrimary(ctx)
	}
	return s.registry.ResolveNickname(ctx, nickname)
}

func (s *httpServer) productLookup(w http.ResponseWriter, r *http.Request) {
	barcode := r.URL.Query().Get("barcode")

	store, err := s.resolveStore(r.Context(), r.URL.Query().Get("store"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer s.closeClient(store)

	snapshot, err := inventory.Lookup(r.Context(), store, barcode)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"store":   store.Nickname(),
		"product": snapshot,
	})
}

type quantityPayload struct {
	// Store optionally targets a named store connection; blank means primary.
	Store             string           `json:"store,omitempty"`
	ProductID         int64            `json:"productId"`
	UserEnteredQty    *decimal.Decimal `json:"userEnteredQty"`
	QuotationsQty     decimal.Decimal  `json:"quotationsQty"`
	PurchaseOrdersQty decimal.Decimal  `json:"purchaseOrdersQty"`
	TopBinsQty        decimal.Decimal  `json:"topBinsQty"`
}

func (p quantityPayload) validate() string {
	if p.ProductID <= 0 {
		return "productId required"
	}
	if p.UserEnteredQty == nil {
		return "userEnteredQty required"
	}
	return ""
}

func (s *httpServer) checkDifference(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var payload quantityPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	if msg := payload.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	store, err := s.resolveStore(r.Context(), payload.Store)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer s.closeClient(store)

	snapshot, err := inventory.Fetch(r.Context(), store, payload.ProductID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	finalQty := payload.UserEnteredQty.Add(payload.QuotationsQty).Add(payload.TopBinsQty)
	check, err := s.threshold.Check(r.Context(), snapshot.OldQuantity, finalQty)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "threshold check failed")
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *httpServer) updateQuantity(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	limitRequestBody(w, r)
	var payload quantityPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	if msg := payload.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	store, err := s.resolveStore(r.Context(), payload.Store)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer s.closeClient(store)

	admin, err := s.registry.ResolveAdmin(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer s.closeClient(admin)

	snapshot, err := inventory.Fetch(r.Context(), store, payload.ProductID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := s.orch.Apply(r.Context(), store, admin, inventory.UpdateRequest{
		Product:           snapshot,
		Actor:             inventory.Actor{Username: sess.Username, FullName: sess.FullName},
		UserEnteredQty:    *payload.UserEnteredQty,
		QuotationsQty:     payload.QuotationsQty,
		PurchaseOrdersQty: payload.PurchaseOrdersQty,
		TopBinsQty:        payload.TopBinsQty,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	// Terminal outcomes other than success still return the result body; the
	// client decides how to present partial and error attempts.
	writeJSON(w, http.StatusOK, result)
}

type quotationLine struct {
	SourceStore     string           `json:"sourceStore"`
	QuotationNumber string           `json:"quotationNumber"`
	QtyOrdered      *decimal.Decimal `json:"qtyOrdered,omitempty"`
	StoreConfigured bool             `json:"storeConfigured"`
	Error           string           `json:"error,omitempty"`
}

func (s *httpServer) productQuotations(w http.ResponseWriter, r *http.Request) {
	upc := strings.TrimSpace(r.URL.Query().Get("upc"))
	if upc == "" {
		writeError(w, http.StatusBadRequest, "upc required")
		return
	}

	admin, err := s.registry.ResolveAdmin(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer s.closeClient(admin)

	refs, err := admin.PendingQuotations(r.Context())
	if err != nil {
		s.logger.Printf("quotations: %v", err)
		writeError(w, http.StatusBadGateway, "quotation lookup failed")
		return
	}

	lines := make([]quotationLine, 0, len(refs))
	total := decimal.Zero
	for _, ref := range refs {
		line, qty := s.quotationLineFor(r.Context(), ref, upc)
		if line != nil {
			lines = append(lines, *line)
		}
		total = total.Add(qty)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"quotations": lines,
		"totalQty":   total,
	})
}

// quotationLineFor resolves the quotation's source store and sums the
// product's quoted quantity there. A nil line means the product does not
// appear on the quotation.
func (s *httpServer) quotationLineFor(ctx context.Context, ref registry.QuotationRef, upc string) (*quotationLine, decimal.Decimal) {
	store, err := s.registry.ResolveNickname(ctx, ref.SourceStore)
	if err != nil {
		return &quotationLine{
			SourceStore:     ref.SourceStore,
			QuotationNumber: ref.Number,
			StoreConfigured: false,
			Error:           "store not configured",
		}, decimal.Zero
	}
	defer s.closeClient(store)

	qty, err := store.ProductInQuotation(ctx, ref.DetailID, upc)
	if err != nil {
		s.logger.Printf("quotation %s on %s: %v", ref.Number, ref.SourceStore, err)
		return &quotationLine{
			SourceStore:     ref.SourceStore,
			QuotationNumber: ref.Number,
			StoreConfigured: true,
			Error:           "quotation lookup failed",
		}, decimal.Zero
	}
	if qty.IsZero() {
		return nil, decimal.Zero
	}
	return &quotationLine{
		SourceStore:     ref.SourceStore,
		QuotationNumber: ref.Number,
		QtyOrdered:      &qty,
		StoreConfigured: true,
	}, qty
}

type purchaseOrderLine struct {
	PoNumber   string          `json:"poNumber"`
	QtyOrdered decimal.Decimal `json:"qtyOrdered"`
}

func (s *httpServer) productPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	upc := strings.TrimSpace(r.URL.Query().Get("upc"))
	if upc == "" {
		writeError(w, http.StatusBadRequest, "upc required")
		return
	}

	store, err := s.resolveStore(r.Context(), r.URL.Query().Get("store"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer s.closeClient(store)

	refs, err := store.PendingPurchaseOrders(r.Context())
	if err != nil {
		s.logger.Printf("purchase orders: %v", err)
		writeError(w, http.StatusBadGateway, "purchase order lookup failed")
		return
	}

	lines := make([]purchaseOrderLine, 0, len(refs))
	total := decimal.Zero
	for _, ref := range refs {
		qty, err := store.ProductInPurchaseOrder(r.Context(), ref.ID, upc)
		if err != nil {
			s.logger.Printf("purchase order %s: %v", ref.Number, err)
			continue
		}
		if qty.IsZero() {
			continue
		}
		lines = append(lines, purchaseOrderLine{PoNumber: ref.Number, QtyOrdered: qty})
		total = total.Add(qty)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"purchaseOrders": lines,
		"totalQty":       total,
	})
}

func (s *httpServer) productBinLocations(w http.ResponseWriter, r *http.Request) {
	upc := strings.TrimSpace(r.URL.Query().Get("upc"))
	if upc == "" {
		writeError(w, http.StatusBadRequest, "upc required")
		return
	}

	store, err := s.resolveStore(r.Context(), r.URL.Query().Get("store"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer s.closeClient(store)

	total, err := store.BinLocationsTotal(r.Context(), upc)
	if err != nil {
		s.logger.Printf("bin locations: %v", err)
		writeError(w, http.StatusBadGateway, "bin location lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"totalQty": total})
}

func (s *httpServer) listTransactions(w http.ResponseWriter, r *http.Request) {
	query := txlog.Query{
		Limit:    intQueryParam(r, "limit"),
		Offset:   intQueryParam(r, "offset"),
		Username: strings.TrimSpace(r.URL.Query().Get("username")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := txlog.Status(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status filter")
			return
		}
		query.Status = status
	}

	records, err := s.txLog.List(r.Context(), query)
	if err != nil {
		s.logger.Printf("transactions: %v", err)
		writeError(w, http.StatusInternalServerError, "transaction history unavailable")
		return
	}
	if records == nil {
		records = []txlog.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": records})
}

func intQueryParam(r *http.Request, name string) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

type closer interface {
	Close(ctx context.Context) error
}

// closeClient releases a resolved client even when the request context is
// already done.
func (s *httpServer) closeClient(c closer) {
	if err := c.Close(context.Background()); err != nil {
		s.logger.Printf("close connection: %v", err)
	}
}

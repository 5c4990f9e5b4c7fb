package inventory

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stocktake/stocktake/errs"
	"github.com/stocktake/stocktake/internal/domain/txlog"
	"github.com/stocktake/stocktake/internal/registry"
)

// auditUpdateType tags orchestrated corrections in the admin audit table.
const auditUpdateType = "Inventory"

// StoreWriter is the write side of a resolved store client.
type StoreWriter interface {
	Nickname() string
	UpdateQuantity(ctx context.Context, id int64, quantity decimal.Decimal, countedAt time.Time) error
}

// AuditWriter records completed store writes in the admin database.
type AuditWriter interface {
	RecordInventoryUpdate(ctx context.Context, record registry.AuditRecord) error
}

// Actor identifies the operator performing an update.
type Actor struct {
	Username string
	FullName string
}

// UpdateRequest carries one quantity correction attempt. The final written
// quantity is UserEnteredQty + QuotationsQty + TopBinsQty; purchase orders are
// recorded for the breakdown but never added in.
type UpdateRequest struct {
	Product           Snapshot
	Actor             Actor
	UserEnteredQty    decimal.Decimal
	QuotationsQty     decimal.Decimal
	PurchaseOrdersQty decimal.Decimal
	TopBinsQty        decimal.Decimal
}

// Result reports the terminal outcome of one attempt. Status partial means
// the store quantity changed but the audit row is missing; callers must
// surface that, not treat it as success.
type Result struct {
	AttemptID         string          `json:"attemptId"`
	Status            txlog.Status    `json:"status"`
	OldQuantity       decimal.Decimal `json:"oldQuantity"`
	NewQuantity       decimal.Decimal `json:"newQuantity"`
	Difference        decimal.Decimal `json:"difference"`
	UserEnteredQty    decimal.Decimal `json:"userEnteredQty"`
	QuotationsQty     decimal.Decimal `json:"quotationsQty"`
	PurchaseOrdersQty decimal.Decimal `json:"purchaseOrdersQty"`
	TopBinsQty        decimal.Decimal `json:"topBinsQty"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`
}

// AttemptRecorder counts terminal attempt outcomes. Implementations must be
// safe to call with a detached context.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, status txlog.Status, storeNickname string)
}

// Orchestrator drives the three-step write sequence: store quantity update,
// admin audit insert, local transaction log append. There is no rollback;
// every attempt ends in exactly one logged terminal status.
type Orchestrator struct {
	log     txlog.Store
	logger  *log.Logger
	metrics AttemptRecorder

	now          func() time.Time
	newAttemptID func() string
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithAttemptIDs overrides attempt id generation. Used by tests.
func WithAttemptIDs(gen func() string) OrchestratorOption {
	return func(o *Orchestrator) {
		if gen != nil {
			o.newAttemptID = gen
		}
	}
}

// WithAttemptRecorder wires outcome metrics.
func WithAttemptRecorder(recorder AttemptRecorder) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = recorder
	}
}

// NewOrchestrator constructs an Orchestrator writing terminal outcomes to log.
func NewOrchestrator(logStore txlog.Store, logger *log.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		log:          logStore,
		logger:       logger,
		now:          time.Now,
		newAttemptID: uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Apply executes one quantity correction attempt against the given store and
// admin clients.
//
// Once the store write begins the attempt runs on a context detached from the
// caller, so a dropped HTTP connection cannot abandon the sequence half way.
// A store write failure is terminal status error and the audit step is
// skipped. An audit failure after a landed store write is terminal status
// partial. The log append always runs last; if it fails the attempt outcome
// is unrecorded and Apply returns a log_write_failed error instead of a
// result.
func (o *Orchestrator) Apply(ctx context.Context, store StoreWriter, audit AuditWriter, req UpdateRequest) (Result, error) {
	finalQty := req.UserEnteredQty.Add(req.QuotationsQty).Add(req.TopBinsQty)
	if req.UserEnteredQty.IsNegative() {
		return Result{}, errs.New(store.Nickname(), errs.CodeInvalid,
			errs.WithMessage("entered quantity cannot be negative"))
	}
	if finalQty.IsNegative() {
		return Result{}, errs.New(store.Nickname(), errs.CodeInvalid,
			errs.WithMessage("resulting quantity cannot be negative"))
	}

	result := Result{
		AttemptID:         o.newAttemptID(),
		Status:            txlog.StatusPending,
		OldQuantity:       req.Product.OldQuantity,
		NewQuantity:       finalQty,
		Difference:        finalQty.Sub(req.Product.OldQuantity),
		UserEnteredQty:    req.UserEnteredQty,
		QuotationsQty:     req.QuotationsQty,
		PurchaseOrdersQty: req.PurchaseOrdersQty,
		TopBinsQty:        req.TopBinsQty,
	}
	countedAt := o.now()

	// From here on the sequence must finish even if the caller goes away.
	writeCtx := context.WithoutCancel(ctx)

	if err := store.UpdateQuantity(writeCtx, req.Product.ID, finalQty, countedAt); err != nil {
		result.Status = txlog.StatusError
		result.ErrorMessage = "store write failed: " + err.Error()
	} else if err := audit.RecordInventoryUpdate(writeCtx, registry.AuditRecord{
		CreatedAt:          countedAt,
		Username:           req.Actor.Username,
		UpdateType:         auditUpdateType,
		ProductDescription: req.Product.Description,
		ProductSKU:         req.Product.SKU,
		ProductUPC:         req.Product.UPC,
		OldQty:             req.Product.OldQuantity,
		NewQty:             finalQty,
		DiffQty:            result.Difference,
	}); err != nil {
		result.Status = txlog.StatusPartial
		result.ErrorMessage = "audit write failed after store update: " + err.Error()
	} else {
		result.Status = txlog.StatusSuccess
	}

	if err := o.appendLog(writeCtx, store.Nickname(), req, result); err != nil {
		o.logger.Printf("attempt %s: transaction log append failed after status %s: %v",
			result.AttemptID, result.Status, err)
		return Result{}, errs.New(store.Nickname(), errs.CodeLogWrite,
			errs.WithMessage("transaction log write failed"),
			errs.WithDetail("attempt "+result.AttemptID+" ended "+string(result.Status)+" but was not recorded"),
			errs.WithCause(err))
	}

	if result.Status != txlog.StatusSuccess {
		o.logger.Printf("attempt %s: store=%s product=%d status=%s %s",
			result.AttemptID, store.Nickname(), req.Product.ID, result.Status, result.ErrorMessage)
	}
	if o.metrics != nil {
		o.metrics.RecordAttempt(writeCtx, result.Status, store.Nickname())
	}
	return result, nil
}

func (o *Orchestrator) appendLog(ctx context.Context, storeNickname string, req UpdateRequest, result Result) error {
	entry := txlog.Entry{
		AttemptID:          result.AttemptID,
		Username:           req.Actor.Username,
		StoreNickname:      storeNickname,
		ProductID:          req.Product.ID,
		ProductUPC:         req.Product.UPC,
		ProductSKU:         req.Product.SKU,
		ProductDescription: req.Product.Description,
		NewQuantity:        result.NewQuantity,
		UserEnteredQty:     req.UserEnteredQty,
		QuotationsQty:      req.QuotationsQty,
		PurchaseOrdersQty:  req.PurchaseOrdersQty,
		TopBinsQty:         req.TopBinsQty,
		Status:             result.Status,
		ErrorMessage:       result.ErrorMessage,
	}
	if result.Status != txlog.StatusError {
		oldQty := result.OldQuantity
		diff := result.Difference
		entry.OldQuantity = &oldQty
		entry.Difference = &diff
	}
	_, err := o.log.Append(ctx, entry)
	return err
}

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tablefirst/paydesk/internal/domain"
)

type entryRepo interface {
	Create(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error
	MarkSuccess(ctx context.Context, tx *sql.Tx, id uuid.UUID, gatewayStatus, utr, payerVPA, payerName, remark string) error
}

// mutationRule is the single source of truth for how each category moves
// money. Signs are multiplied by the entry amount. The share_distribution
// system decrement is deliberately absent: the distribution job applies it
// once for the whole batch, not per entry.
type mutationRule struct {
	vendorDue   int
	shareholder int
	system      int
	floor       bool
}

var mutationRules = map[domain.Category]mutationRule{
	domain.CategoryOrder:             {},
	domain.CategoryTransactionFee:    {vendorDue: 1},
	domain.CategorySubscriptionFee:   {system: 1},
	domain.CategoryQRStandOrder:      {system: 1},
	domain.CategoryDuePaid:           {vendorDue: -1, floor: true, system: 1},
	domain.CategoryShareDistribution: {shareholder: 1},
	domain.CategoryShareWithdrawal:   {shareholder: -1, floor: true},
	domain.CategoryWhatsAppUsage:     {vendorDue: 1},
}

// GatewayMeta carries the gateway's confirmation fields onto success rows.
type GatewayMeta struct {
	Status    string
	UTR       string
	PayerVPA  string
	PayerName string
	Remark    string
}

// Writer creates ledger rows and their balance mutations as one unit. A
// dual write always produces exactly two rows with complementary directions
// and opposite is_system flags; failure anywhere leaves the caller's
// transaction poisoned so the whole pair rolls back.
type Writer struct {
	ledger  entryRepo
	mutator *Mutator
}

func NewWriter(ledger entryRepo, mutator *Mutator) *Writer {
	return &Writer{ledger: ledger, mutator: mutator}
}

type DualParams struct {
	Owner           domain.OwnerRef
	Amount          int64
	Category        domain.Category
	SystemDirection domain.Direction
	ClientTxnID     string
	OrderID         *uuid.UUID
	QRStandOrderID  *uuid.UUID
	Gateway         *GatewayMeta
}

type SingleParams struct {
	Owner       domain.OwnerRef
	Amount      int64
	Category    domain.Category
	Direction   domain.Direction
	ClientTxnID string
	Remark      string
}

// WriteDual creates a fresh success pair plus the category's balance
// mutations. Used where no pending intent precedes the write, e.g. share
// distribution and order fee pairs.
func (w *Writer) WriteDual(ctx context.Context, tx *sql.Tx, p DualParams) (*domain.LedgerEntry, *domain.LedgerEntry, error) {
	if _, ok := mutationRules[p.Category]; !ok {
		return nil, nil, fmt.Errorf("WriteDual: %q: %w", p.Category, domain.ErrInvalidCategory)
	}
	if p.Amount < 0 {
		return nil, nil, fmt.Errorf("WriteDual: %w", domain.ErrInvalidAmount)
	}

	now := time.Now().UTC()
	clientTxnID := p.ClientTxnID

	ownerEntry := &domain.LedgerEntry{
		ID:             uuid.New(),
		OwnerType:      p.Owner.Type,
		OwnerID:        p.Owner.ID,
		Amount:         p.Amount,
		Direction:      p.SystemDirection.Opposite(),
		Category:       p.Category,
		IsSystem:       false,
		Status:         domain.EntryStatusSuccess,
		ClientTxnID:    &clientTxnID,
		OrderID:        p.OrderID,
		QRStandOrderID: p.QRStandOrderID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	applyGatewayMeta(ownerEntry, p.Gateway)

	if err := w.ledger.Create(ctx, tx, ownerEntry); err != nil {
		return nil, nil, fmt.Errorf("WriteDual: owner entry: %w", err)
	}

	systemEntry := twinOf(ownerEntry)
	if err := w.ledger.Create(ctx, tx, systemEntry); err != nil {
		return nil, nil, fmt.Errorf("WriteDual: system entry: %w", err)
	}

	if err := w.applyMutations(ctx, tx, p.Owner, p.Category, p.Amount); err != nil {
		return nil, nil, fmt.Errorf("WriteDual: %w", err)
	}

	return ownerEntry, systemEntry, nil
}

// CompleteDual finishes a pending intent entry: marks it success with the
// gateway's confirmation, inserts its system-side twin, and applies the
// category's balance mutations. The terminal-status guard in MarkSuccess
// makes a second completion fail with ErrIntentTerminal before any effect.
func (w *Writer) CompleteDual(ctx context.Context, tx *sql.Tx, intent *domain.LedgerEntry, g GatewayMeta) (*domain.LedgerEntry, error) {
	if _, ok := mutationRules[intent.Category]; !ok {
		return nil, fmt.Errorf("CompleteDual: %q: %w", intent.Category, domain.ErrInvalidCategory)
	}

	if err := w.ledger.MarkSuccess(ctx, tx, intent.ID, g.Status, g.UTR, g.PayerVPA, g.PayerName, g.Remark); err != nil {
		return nil, fmt.Errorf("CompleteDual: %w", err)
	}
	intent.Status = domain.EntryStatusSuccess
	applyGatewayMeta(intent, &g)

	systemEntry := twinOf(intent)
	if err := w.ledger.Create(ctx, tx, systemEntry); err != nil {
		return nil, fmt.Errorf("CompleteDual: system entry: %w", err)
	}

	if err := w.applyMutations(ctx, tx, intent.Owner(), intent.Category, intent.Amount); err != nil {
		return nil, fmt.Errorf("CompleteDual: %w", err)
	}

	return systemEntry, nil
}

// WriteSingle creates one success row plus its balance mutations, for
// categories where only the owner side exists (whatsapp_usage,
// share_withdrawal).
func (w *Writer) WriteSingle(ctx context.Context, tx *sql.Tx, p SingleParams) (*domain.LedgerEntry, error) {
	if _, ok := mutationRules[p.Category]; !ok {
		return nil, fmt.Errorf("WriteSingle: %q: %w", p.Category, domain.ErrInvalidCategory)
	}
	if p.Amount < 0 {
		return nil, fmt.Errorf("WriteSingle: %w", domain.ErrInvalidAmount)
	}

	now := time.Now().UTC()
	entry := &domain.LedgerEntry{
		ID:        uuid.New(),
		OwnerType: p.Owner.Type,
		OwnerID:   p.Owner.ID,
		Amount:    p.Amount,
		Direction: p.Direction,
		Category:  p.Category,
		IsSystem:  false,
		Status:    domain.EntryStatusSuccess,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if p.ClientTxnID != "" {
		entry.ClientTxnID = &p.ClientTxnID
	}
	if p.Remark != "" {
		entry.Remark = &p.Remark
	}

	if err := w.ledger.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("WriteSingle: %w", err)
	}

	if err := w.applyMutations(ctx, tx, p.Owner, p.Category, p.Amount); err != nil {
		return nil, fmt.Errorf("WriteSingle: %w", err)
	}

	return entry, nil
}

func (w *Writer) applyMutations(ctx context.Context, tx *sql.Tx, owner domain.OwnerRef, category domain.Category, amount int64) error {
	rule := mutationRules[category]

	if rule.vendorDue != 0 {
		if err := w.applyDelta(ctx, tx, domain.VendorDueKey(owner.ID), int64(rule.vendorDue)*amount, rule.floor); err != nil {
			return err
		}
	}
	if rule.shareholder != 0 {
		if err := w.applyDelta(ctx, tx, domain.ShareholderKey(owner.ID), int64(rule.shareholder)*amount, rule.floor); err != nil {
			return err
		}
	}
	if rule.system != 0 {
		if err := w.applyDelta(ctx, tx, domain.SystemBalanceKey(), int64(rule.system)*amount, false); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) applyDelta(ctx context.Context, tx *sql.Tx, key domain.AccountKey, delta int64, floor bool) error {
	var err error
	if floor && delta < 0 {
		_, err = w.mutator.ApplyWithFloor(ctx, tx, key, delta)
	} else {
		_, err = w.mutator.Apply(ctx, tx, key, delta)
	}
	if err != nil {
		return fmt.Errorf("applyDelta: %w", err)
	}
	return nil
}

func twinOf(e *domain.LedgerEntry) *domain.LedgerEntry {
	now := time.Now().UTC()
	return &domain.LedgerEntry{
		ID:             uuid.New(),
		OwnerType:      e.OwnerType,
		OwnerID:        e.OwnerID,
		Amount:         e.Amount,
		Direction:      e.Direction.Opposite(),
		Category:       e.Category,
		IsSystem:       true,
		Status:         domain.EntryStatusSuccess,
		ClientTxnID:    e.ClientTxnID,
		GatewayStatus:  e.GatewayStatus,
		Remark:         e.Remark,
		UTR:            e.UTR,
		PayerVPA:       e.PayerVPA,
		PayerName:      e.PayerName,
		OrderID:        e.OrderID,
		QRStandOrderID: e.QRStandOrderID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func applyGatewayMeta(e *domain.LedgerEntry, g *GatewayMeta) {
	if g == nil {
		return
	}
	if g.Status != "" {
		e.GatewayStatus = &g.Status
	}
	if g.UTR != "" {
		e.UTR = &g.UTR
	}
	if g.PayerVPA != "" {
		e.PayerVPA = &g.PayerVPA
	}
	if g.PayerName != "" {
		e.PayerName = &g.PayerName
	}
	if g.Remark != "" {
		e.Remark = &g.Remark
	}
}

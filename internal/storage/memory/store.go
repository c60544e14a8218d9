// Package memory provides in-memory implementations of the storage
// interfaces. They honor the same atomicity contracts as the PostgreSQL
// implementations and back the unit and property tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vesna-shop/checkout-api/internal/domain/cart"
	"github.com/vesna-shop/checkout-api/internal/domain/catalog"
	"github.com/vesna-shop/checkout-api/internal/domain/inventory"
	"github.com/vesna-shop/checkout-api/internal/domain/order"
)

// Store holds all in-memory state behind one mutex. Reserve and the
// order-create transaction take the same lock, which models the row-level
// atomicity the SQL layer gets from conditional updates.
type Store struct {
	mu       sync.Mutex
	variants map[string]catalog.Variant
	stock    map[string]int
	carts    map[string]*memCart
	orders   map[string]*order.Order // keyed by reference
}

type memCart struct {
	cart    cart.Cart
	claimed bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		variants: make(map[string]catalog.Variant),
		stock:    make(map[string]int),
		carts:    make(map[string]*memCart),
		orders:   make(map[string]*order.Order),
	}
}

// AddVariant seeds a catalog variant with the given stock level.
func (s *Store) AddVariant(v catalog.Variant, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.ID] = v
	s.stock[v.ID] = stock
}

// Stock returns the current stock level for a variant.
func (s *Store) Stock(variantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[variantID]
}

// --- catalog.Repository ---

var _ catalog.Repository = (*Store)(nil)

func (s *Store) GetByID(_ context.Context, id string) (*catalog.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &v, nil
}

func (s *Store) GetByIDs(_ context.Context, ids []string) ([]catalog.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.Variant, 0, len(ids))
	for _, id := range ids {
		if v, ok := s.variants[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) StockLevel(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.variants[id]; !ok {
		return 0, catalog.ErrNotFound
	}
	return s.stock[id], nil
}

// --- inventory.Ledger ---

var _ inventory.Ledger = (*Store)(nil)

func (s *Store) Reserve(_ context.Context, variantID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserveLocked(variantID, qty)
}

func (s *Store) reserveLocked(variantID string, qty int) error {
	if current, ok := s.stock[variantID]; !ok || current < qty {
		return &inventory.OutOfStockError{VariantID: variantID, Requested: qty}
	}
	s.stock[variantID] -= qty
	return nil
}

func (s *Store) Release(_ context.Context, variantID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[variantID] += qty
	return nil
}

// --- cart.Repository ---

var _ cart.Repository = (*Store)(nil)

// PutCart seeds a cart.
func (s *Store) PutCart(c cart.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[c.SessionID] = &memCart{cart: c}
}

func (s *Store) Get(_ context.Context, sessionID string) (*cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mc, ok := s.carts[sessionID]
	if !ok {
		return nil, cart.ErrNotFound
	}
	c := mc.cart
	return &c, nil
}

func (s *Store) UpsertItem(_ context.Context, sessionID string, item cart.Item) (*cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mc, ok := s.carts[sessionID]
	if !ok {
		mc = &memCart{cart: cart.Cart{SessionID: sessionID}}
		s.carts[sessionID] = mc
	}
	replaced := false
	for i, it := range mc.cart.Items {
		if it.VariantID == item.VariantID {
			mc.cart.Items[i].Quantity = item.Quantity
			replaced = true
			break
		}
	}
	if !replaced {
		mc.cart.Items = append(mc.cart.Items, item)
	}
	mc.cart.UpdatedAt = time.Now()
	c := mc.cart
	return &c, nil
}

func (s *Store) RemoveItem(_ context.Context, sessionID, variantID string) (*cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mc, ok := s.carts[sessionID]
	if !ok {
		return nil, cart.ErrNotFound
	}
	items := mc.cart.Items[:0]
	for _, it := range mc.cart.Items {
		if it.VariantID != variantID {
			items = append(items, it)
		}
	}
	mc.cart.Items = items
	mc.cart.UpdatedAt = time.Now()
	c := mc.cart
	return &c, nil
}

func (s *Store) Claim(_ context.Context, sessionID string) (*cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mc, ok := s.carts[sessionID]
	if !ok {
		return nil, cart.ErrNotFound
	}
	if mc.claimed {
		return nil, cart.ErrAlreadyCheckedOut
	}
	mc.claimed = true
	c := mc.cart
	return &c, nil
}

func (s *Store) Unclaim(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mc, ok := s.carts[sessionID]; ok {
		mc.claimed = false
	}
	return nil
}

func (s *Store) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, sessionID)
	return nil
}

// --- order.Store ---

var _ order.Store = (*Store)(nil)

func (s *Store) CreateWithReservations(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	taken := make([]inventory.Reservation, 0, len(o.Lines))
	for _, l := range o.Lines {
		if err := s.reserveLocked(l.VariantID, l.Quantity); err != nil {
			// Roll back reservations taken in this call.
			for _, r := range taken {
				s.stock[r.VariantID] += r.Quantity
			}
			return err
		}
		taken = append(taken, inventory.Reservation{VariantID: l.VariantID, Quantity: l.Quantity})
	}

	cp := *o
	cp.Lines = append([]order.Line(nil), o.Lines...)
	s.orders[o.Reference] = &cp
	return nil
}

func (s *Store) GetByReference(_ context.Context, reference string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[reference]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	cp.Lines = append([]order.Line(nil), o.Lines...)
	return &cp, nil
}

func (s *Store) BeginPayment(_ context.Context, reference, intentID, clientSecret, approvalURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[reference]
	if !ok {
		return order.ErrNotFound
	}
	if o.PaymentStatus != order.PaymentUnpaid {
		return order.ErrStale
	}
	o.PaymentStatus = order.PaymentPending
	o.IntentID = intentID
	o.ClientSecret = clientSecret
	o.ApprovalURL = approvalURL
	return nil
}

func (s *Store) SetPaymentStatus(_ context.Context, reference string, from, to order.PaymentStatus, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[reference]
	if !ok {
		return order.ErrNotFound
	}
	if o.PaymentStatus != from {
		return order.ErrStale
	}
	o.PaymentStatus = to
	if transactionID != "" {
		o.TransactionID = transactionID
	}
	if to == order.PaymentPaid {
		now := time.Now()
		o.PaidAt = &now
	}
	return nil
}

func (s *Store) SetFulfillmentStatus(_ context.Context, reference string, from, to order.FulfillmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[reference]
	if !ok {
		return order.ErrNotFound
	}
	if o.FulfillmentStatus != from {
		return order.ErrStale
	}
	o.FulfillmentStatus = to
	return nil
}

func (s *Store) SweepStalePending(_ context.Context, cutoff time.Time, limit int) ([]*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var swept []*order.Order
	for _, o := range s.orders {
		if limit > 0 && len(swept) >= limit {
			break
		}
		if o.PaymentMethod.Offline() {
			continue
		}
		if (o.PaymentStatus == order.PaymentUnpaid || o.PaymentStatus == order.PaymentPending) && o.CreatedAt.Before(cutoff) {
			o.PaymentStatus = order.PaymentFailed
			cp := *o
			cp.Lines = append([]order.Line(nil), o.Lines...)
			swept = append(swept, &cp)
		}
	}
	return swept, nil
}

package shop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"Pantry/internal/foodapi"
)

const (
	CartKey    = "cart"
	CompareKey = "compare"

	// CompareCapacity is the number of products that can sit side by side.
	CompareCapacity = 3

	// UnitPriceCents is the flat price of every product; upstream has no
	// prices.
	UnitPriceCents = 500
)

var (
	ErrCompareFull = errors.New("compare list is full")
	ErrPersist     = errors.New("persist snapshot failed")
)

type CartEntry struct {
	foodapi.Product
	Quantity int `json:"quantity"`
}

// State is one session's cart and compare list. Every mutation that changes
// a list writes that list's full snapshot to the KV before returning.
type State struct {
	mu  sync.Mutex
	kv  KV
	log *zap.Logger

	cart     []CartEntry
	compare  []foodapi.Product
	cartOpen bool
}

// Load hydrates a State from kv. Missing or unreadable snapshots start
// empty; Load itself never fails.
func Load(ctx context.Context, kv KV, log *zap.Logger) *State {
	if log == nil {
		log = zap.NewNop()
	}

	s := &State{kv: kv, log: log}

	s.cart = sanitizeCart(restore[CartEntry](ctx, s, CartKey))
	s.compare = sanitizeCompare(restore[foodapi.Product](ctx, s, CompareKey))

	return s
}

// restore reads the snapshot under key. Any decode error discards the
// whole snapshot; json.Unmarshal leaves a partly filled slice behind on
// type mismatches.
func restore[T any](ctx context.Context, s *State, key string) []T {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.log.Warn("snapshot read failed, starting empty", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	var out []T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		s.log.Warn("snapshot corrupt, starting empty", zap.String("key", key), zap.Error(err))
		return nil
	}
	return out
}

func sanitizeCart(in []CartEntry) []CartEntry {
	out := make([]CartEntry, 0, len(in))
	for _, e := range in {
		if e.Code == "" || e.Quantity < 1 || slices.ContainsFunc(out, func(x CartEntry) bool { return x.Code == e.Code }) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func sanitizeCompare(in []foodapi.Product) []foodapi.Product {
	out := make([]foodapi.Product, 0, len(in))
	for _, p := range in {
		if len(out) == CompareCapacity {
			break
		}
		if p.Code == "" || slices.ContainsFunc(out, func(x foodapi.Product) bool { return x.Code == p.Code }) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// AddToCart increments the entry for p.Code, inserting it with quantity 1
// when absent.
func (s *State) AddToCart(ctx context.Context, p foodapi.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.cartIndex(p.Code); i >= 0 {
		s.cart[i].Quantity++
	} else {
		s.cart = append(s.cart, CartEntry{Product: p, Quantity: 1})
	}
	return s.persist(ctx, CartKey, s.cart)
}

// DecreaseQuantity decrements the entry for code; an entry at quantity 1 is
// removed rather than kept at zero.
func (s *State) DecreaseQuantity(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.cartIndex(code)
	if i < 0 {
		return nil
	}

	if s.cart[i].Quantity > 1 {
		s.cart[i].Quantity--
	} else {
		s.cart = slices.Delete(s.cart, i, i+1)
	}
	return s.persist(ctx, CartKey, s.cart)
}

func (s *State) RemoveFromCart(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.cartIndex(code)
	if i < 0 {
		return nil
	}
	s.cart = slices.Delete(s.cart, i, i+1)
	return s.persist(ctx, CartKey, s.cart)
}

// AddToCompare appends p unless it is already listed. A full list rejects
// the add with ErrCompareFull, even for a product already in it.
func (s *State) AddToCompare(ctx context.Context, p foodapi.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.compare) >= CompareCapacity {
		return ErrCompareFull
	}
	if s.compareIndex(p.Code) >= 0 {
		return nil
	}

	s.compare = append(s.compare, p)
	return s.persist(ctx, CompareKey, s.compare)
}

func (s *State) RemoveFromCompare(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.compareIndex(code)
	if i < 0 {
		return nil
	}
	s.compare = slices.Delete(s.compare, i, i+1)
	return s.persist(ctx, CompareKey, s.compare)
}

// OpenCart raises the cart-drawer flag. It is UI state and never persisted.
func (s *State) OpenCart() {
	s.mu.Lock()
	s.cartOpen = true
	s.mu.Unlock()
}

// ToggleCart flips the cart-drawer flag and returns the new value.
func (s *State) ToggleCart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cartOpen = !s.cartOpen
	return s.cartOpen
}

func (s *State) CartOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartOpen
}

func (s *State) Cart() []CartEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.cart)
}

func (s *State) Compare() []foodapi.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.compare)
}

func (s *State) InCart(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartIndex(code) >= 0
}

// CartCount is the number of units in the cart.
func (s *State) CartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.cart {
		n += e.Quantity
	}
	return n
}

func (s *State) CartTotalCents() int64 {
	return int64(s.CartCount()) * UnitPriceCents
}

func (s *State) cartIndex(code string) int {
	return slices.IndexFunc(s.cart, func(e CartEntry) bool { return e.Code == code })
}

func (s *State) compareIndex(code string) int {
	return slices.IndexFunc(s.compare, func(p foodapi.Product) bool { return p.Code == code })
}

// persist runs with s.mu held so snapshots reach the KV in mutation order.
func (s *State) persist(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPersist, key, err)
	}
	if err := s.kv.Set(ctx, key, string(b)); err != nil {
		s.log.Error("snapshot write failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrPersist, key, err)
	}
	return nil
}

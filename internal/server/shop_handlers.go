package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"Pantry/internal/catalog"
	"Pantry/internal/foodapi"
	"Pantry/internal/shop"
	"Pantry/pkg/kit"
)

type cartResp struct {
	Items      []shop.CartEntry `json:"items"`
	Count      int              `json:"count"`
	TotalCents int64            `json:"total_cents"`
	Open       bool             `json:"open"`
}

func cartView(st *shop.State) cartResp {
	return cartResp{
		Items:      st.Cart(),
		Count:      st.CartCount(),
		TotalCents: st.CartTotalCents(),
		Open:       st.CartOpen(),
	}
}

type compareResp struct {
	Items []foodapi.Product    `json:"items"`
	Table catalog.CompareTable `json:"table"`
}

func compareView(st *shop.State) compareResp {
	items := st.Compare()
	return compareResp{Items: items, Table: catalog.BuildCompareTable(items, shop.CompareCapacity)}
}

type productReq struct {
	Product foodapi.Product `json:"product"`
}

func (s *Server) cart(w http.ResponseWriter, r *http.Request) {
	kit.WriteJSON(w, http.StatusOK, cartView(s.current(r).Shop))
}

func (s *Server) addToCart(w http.ResponseWriter, r *http.Request) {
	var req productReq
	if err := kit.DecodeJSON(w, r, &req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "invalid product", kit.ValidationDetails(err))
		return
	}

	st := s.current(r).Shop
	err := st.AddToCart(r.Context(), req.Product)
	st.OpenCart()
	if err != nil {
		s.writeShopError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, cartView(st))
}

func (s *Server) decreaseQuantity(w http.ResponseWriter, r *http.Request) {
	st := s.current(r).Shop
	if err := st.DecreaseQuantity(r.Context(), chi.URLParam(r, "code")); err != nil {
		s.writeShopError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, cartView(st))
}

func (s *Server) removeFromCart(w http.ResponseWriter, r *http.Request) {
	st := s.current(r).Shop
	if err := st.RemoveFromCart(r.Context(), chi.URLParam(r, "code")); err != nil {
		s.writeShopError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, cartView(st))
}

func (s *Server) toggleCart(w http.ResponseWriter, r *http.Request) {
	st := s.current(r).Shop
	st.ToggleCart()
	kit.WriteJSON(w, http.StatusOK, cartView(st))
}

func (s *Server) compare(w http.ResponseWriter, r *http.Request) {
	kit.WriteJSON(w, http.StatusOK, compareView(s.current(r).Shop))
}

func (s *Server) addToCompare(w http.ResponseWriter, r *http.Request) {
	var req productReq
	if err := kit.DecodeJSON(w, r, &req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "invalid product", kit.ValidationDetails(err))
		return
	}

	st := s.current(r).Shop
	if err := st.AddToCompare(r.Context(), req.Product); err != nil {
		s.writeShopError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, compareView(st))
}

func (s *Server) removeFromCompare(w http.ResponseWriter, r *http.Request) {
	st := s.current(r).Shop
	if err := st.RemoveFromCompare(r.Context(), chi.URLParam(r, "code")); err != nil {
		s.writeShopError(w, r, err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, compareView(st))
}

// writeShopError maps state store failures. A persist failure still left the
// in-memory change applied.
func (s *Server) writeShopError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shop.ErrCompareFull):
		kit.WriteError(w, r, http.StatusConflict, shop.ErrCompareFull.Error(), map[string]any{"capacity": shop.CompareCapacity})
	case errors.Is(err, shop.ErrPersist):
		kit.WriteError(w, r, http.StatusServiceUnavailable, "change not saved", nil)
	default:
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
	}
}

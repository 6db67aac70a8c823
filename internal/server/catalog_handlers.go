package server

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"Pantry/internal/catalog"
	"Pantry/pkg/kit"
)

type catalogResp struct {
	catalog.State
	Sort catalog.SortKey `json:"sort"`
}

func (s *Server) catalogState(w http.ResponseWriter, r *http.Request) {
	key, err := catalog.ParseSortKey(r.URL.Query().Get("sort"))
	if err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "unknown sort key", map[string]any{"sort": r.URL.Query().Get("sort")})
		return
	}

	st := s.current(r).Browse.State()
	st.Items = catalog.SortProducts(st.Items, key)
	kit.WriteJSON(w, http.StatusOK, catalogResp{State: st, Sort: key})
}

type filterReq struct {
	Query    string `json:"query" validate:"max=200,excluded_with=Category"`
	Category string `json:"category" validate:"max=200"`
}

// setFilter switches the listing; the first page arrives after the debounce
// delay, so the response only acknowledges the new generation.
func (s *Server) setFilter(w http.ResponseWriter, r *http.Request) {
	var req filterReq
	if err := kit.DecodeJSON(w, r, &req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "invalid filter", kit.ValidationDetails(err))
		return
	}

	browse := s.current(r).Browse
	switch {
	case req.Category != "":
		browse.SetCategory(req.Category)
	case req.Query != "":
		browse.SetQuery(req.Query)
	default:
		browse.ClearFilters()
	}

	kit.WriteJSON(w, http.StatusAccepted, browse.State())
}

type moreResp struct {
	Issued bool          `json:"issued"`
	State  catalog.State `json:"state"`
}

func (s *Server) loadMore(w http.ResponseWriter, r *http.Request) {
	browse := s.current(r).Browse

	// a client hanging up must not leave the listing half fetched
	issued, err := browse.LoadMore(context.WithoutCancel(r.Context()))
	if err != nil && !errors.Is(err, catalog.ErrClosed) {
		s.log().Debug("load more failed", zap.Error(err))
	}

	kit.WriteJSON(w, http.StatusOK, moreResp{Issued: issued, State: browse.State()})
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	browse := s.current(r).Browse

	if err := browse.Reload(context.WithoutCancel(r.Context())); err != nil {
		s.log().Debug("reload failed", zap.Error(err))
	}

	kit.WriteJSON(w, http.StatusOK, browse.State())
}

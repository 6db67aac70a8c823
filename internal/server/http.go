package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"Pantry/internal/catalog"
	"Pantry/internal/foodapi"
	"Pantry/internal/session"
	"Pantry/internal/shop"
	"Pantry/pkg/kit"
)

// Upstream is the product database. *foodapi.Client satisfies it.
type Upstream interface {
	catalog.Source
	Product(ctx context.Context, code string) (foodapi.Product, bool, error)
	Categories(ctx context.Context) ([]foodapi.Category, error)
}

const (
	readyTimeout  = time.Second
	topCategories = 20
)

type Server struct {
	Log      *zap.Logger
	KV       shop.KV
	Upstream Upstream
	Sessions *Registry
	Tokens   *session.TokenMaker
	TokenTTL time.Duration

	// Limiter throttles session creation per client IP; nil disables it.
	Limiter *kit.IPRateLimiter
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", s.readyz)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.Limiter != nil {
				r.Use(s.Limiter.Middleware)
			}
			r.Post("/sessions", s.createSession)
		})

		r.Get("/categories", s.categories)

		r.Group(func(r chi.Router) {
			r.Use(session.Require(s.Tokens))

			r.Get("/products/{code}", s.product)

			r.Get("/catalog", s.catalogState)
			r.Put("/catalog/filter", s.setFilter)
			r.Post("/catalog/more", s.loadMore)
			r.Post("/catalog/reload", s.reload)

			r.Get("/cart", s.cart)
			r.Post("/cart/items", s.addToCart)
			r.Post("/cart/items/{code}/decrease", s.decreaseQuantity)
			r.Delete("/cart/items/{code}", s.removeFromCart)
			r.Post("/cart/toggle", s.toggleCart)

			r.Get("/compare", s.compare)
			r.Post("/compare/items", s.addToCompare)
			r.Delete("/compare/items/{code}", s.removeFromCompare)
		})
	})

	return r
}

func (s *Server) log() *zap.Logger { return kit.OrNop(s.Log) }

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := s.KV.Ping(ctx); err != nil {
		s.log().Warn("readyz failed", zap.Error(err))
		kit.WriteError(w, r, http.StatusServiceUnavailable, "not ready", nil)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type sessionResp struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	id := session.NewID()

	tok, exp, err := s.Tokens.New(id, s.TokenTTL)
	if err != nil {
		s.log().Error("sign session token failed", zap.Error(err))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}

	s.Sessions.Get(r.Context(), id)

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    tok,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	kit.WriteJSON(w, http.StatusCreated, sessionResp{SessionID: id, Token: tok, ExpiresAt: exp.UTC()})
}

// current returns the caller's session; Require has already run.
func (s *Server) current(r *http.Request) *Session {
	id, _ := session.IDFromContext(r.Context())
	return s.Sessions.Get(r.Context(), id)
}

func (s *Server) categories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.Upstream.Categories(r.Context())
	if err != nil {
		s.writeUpstreamError(w, r, "categories", err)
		return
	}
	kit.WriteJSON(w, http.StatusOK, map[string]any{"categories": catalog.TopCategories(cats, topCategories)})
}

type productResp struct {
	Product    foodapi.Product      `json:"product"`
	Grade      string               `json:"grade"`
	Brand      string               `json:"brand"`
	Radar      []catalog.RadarPoint `json:"radar"`
	Highlights []catalog.Highlight  `json:"highlights"`
	InCart     bool                 `json:"in_cart"`
}

func (s *Server) product(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	p, ok, err := s.Upstream.Product(r.Context(), code)
	if err != nil {
		s.writeUpstreamError(w, r, "product", err)
		return
	}
	if !ok {
		kit.WriteError(w, r, http.StatusNotFound, "product not found", map[string]any{"code": code})
		return
	}

	kit.WriteJSON(w, http.StatusOK, productResp{
		Product:    p,
		Grade:      p.Grade(),
		Brand:      p.PrimaryBrand(),
		Radar:      catalog.Radar(p),
		Highlights: catalog.Highlights(p),
		InCart:     s.current(r).Shop.InCart(p.Code),
	})
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, foodapi.ErrUnavailable):
		s.log().Warn("upstream unavailable", zap.String("op", op), zap.Error(err))
		kit.WriteError(w, r, http.StatusServiceUnavailable, "product database unavailable", nil)
	case errors.Is(err, foodapi.ErrBadStatus), errors.Is(err, foodapi.ErrDecode):
		s.log().Warn("upstream bad response", zap.String("op", op), zap.Error(err))
		kit.WriteError(w, r, http.StatusBadGateway, "bad response from product database", nil)
	case errors.Is(err, context.DeadlineExceeded):
		kit.WriteError(w, r, http.StatusGatewayTimeout, "timeout", nil)
	default:
		s.log().Error("upstream call failed", zap.String("op", op), zap.Error(err))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
	}
}

// RunJanitor evicts idle sessions and stale limiter entries every interval
// until ctx is done.
func (s *Server) RunJanitor(ctx context.Context, idle, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sessions.Sweep(idle); n > 0 {
				s.log().Debug("idle sessions evicted", zap.Int("count", n))
			}
			if s.Limiter != nil {
				s.Limiter.Sweep()
			}
		}
	}
}

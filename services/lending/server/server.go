package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"peerlend/native/lending"
	"peerlend/services/lending/engine"
)

const (
	requestLimit   = 1 << 20 // 1 MiB
	defaultTimeout = 15 * time.Second
)

// Options configures the HTTP surface.
type Options struct {
	Auth      AuthConfig
	RateLimit RateLimit
	// Timeout bounds each engine call.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Server exposes the lending engine over HTTP. Queries are public; flows
// require client credentials and market administration requires an admin
// token.
type Server struct {
	engine  engine.Engine
	logger  *slog.Logger
	timeout time.Duration
	auth    *authenticator
	limiter *rateLimiter
}

// New constructs a new lending service instance.
func New(eng engine.Engine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Server{
		engine:  eng,
		logger:  logger,
		timeout: timeout,
		auth:    newAuthenticator(opts.Auth),
		limiter: newRateLimiter(opts.RateLimit),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, recoverer(s.logger), instrument(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(q chi.Router) {
			q.Use(s.limiter.middleware)
			q.Get("/markets", s.listMarkets)
			q.Get("/markets/{market}", s.getMarket)
			q.Get("/markets/{market}/lists/{list}", s.listAccounts)
			q.Get("/accounts/{account}/health", s.getHealth)
			q.Get("/accounts/{account}/positions/{market}", s.getPosition)
		})
		v1.Group(func(m chi.Router) {
			m.Use(s.auth.requireClient, s.limiter.middleware)
			m.Post("/supply", s.flowHandler("supply", s.engine.Supply))
			m.Post("/borrow", s.flowHandler("borrow", s.engine.Borrow))
			m.Post("/withdraw", s.flowHandler("withdraw", s.engine.Withdraw))
			m.Post("/repay", s.flowHandler("repay", s.engine.Repay))
			m.Post("/liquidate", s.liquidate)
		})
		v1.Route("/admin", func(a chi.Router) {
			a.Use(s.auth.requireAdmin)
			a.Post("/markets", s.createMarket)
			a.Patch("/markets/{market}", s.updateMarket)
			a.Post("/markets/{market}/deltas", s.increaseDeltas)
			a.Post("/markets/{market}/reserve", s.claimReserve)
			a.Put("/pause", s.setPaused)
		})
	})
	return r
}

func (s *Server) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()

	markets, err := s.engine.ListMarkets(ctx)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	views := make([]marketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, toMarketView(m.Market))
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": views})
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()

	m, err := s.engine.GetMarket(ctx, chi.URLParam(r, "market"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketView(m.Market))
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()

	list := chi.URLParam(r, "list")
	accounts, err := s.engine.ListAccounts(ctx, chi.URLParam(r, "market"), list)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"list": list, "accounts": accounts})
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()

	p, err := s.engine.GetPosition(ctx, chi.URLParam(r, "account"), chi.URLParam(r, "market"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionView(p.Position))
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()

	h, err := s.engine.GetHealth(ctx, chi.URLParam(r, "account"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHealthView(h))
}

type flowFunc func(context.Context, engine.FlowRequest) (*lending.Receipt, error)

func (s *Server) flowHandler(action string, run flowFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req engine.FlowRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		ctx, cancel := s.context(r.Context())
		defer cancel()

		receipt, err := run(ctx, req)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"action": action, "receipt": toReceiptView(receipt)})
	}
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	var req engine.LiquidationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	result, err := s.engine.Liquidate(ctx, req)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidationView{
		Repaid: toReceiptView(result.Repaid),
		Seized: toReceiptView(result.Seized),
	})
}

func (s *Server) createMarket(w http.ResponseWriter, r *http.Request) {
	var params engine.MarketParams
	if err := decodeBody(r, &params); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	m, err := s.engine.CreateMarket(ctx, params)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMarketView(m.Market))
}

func (s *Server) updateMarket(w http.ResponseWriter, r *http.Request) {
	var update engine.MarketUpdate
	if err := decodeBody(r, &update); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if update.Empty() {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "update changes nothing")
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	m, err := s.engine.UpdateMarket(ctx, chi.URLParam(r, "market"), update)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketView(m.Market))
}

type amountBody struct {
	Amount string `json:"amount"`
}

func (s *Server) increaseDeltas(w http.ResponseWriter, r *http.Request) {
	var body amountBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	moved, err := s.engine.IncreaseP2PDeltas(ctx, chi.URLParam(r, "market"), body.Amount)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"moved": amountString(moved)})
}

// claimReserve accepts an empty body, which claims the whole reserve.
func (s *Server) claimReserve(w http.ResponseWriter, r *http.Request) {
	var body amountBody
	if err := decodeBody(r, &body); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	claimed, err := s.engine.ClaimReserve(ctx, chi.URLParam(r, "market"), body.Amount)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"claimed": amountString(claimed)})
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Paused *bool `json:"paused"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if body.Paused == nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "paused is required")
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()

	if err := s.engine.SetModulePaused(ctx, *body.Paused); err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": *body.Paused})
}

var errEmptyBody = errors.New("request body is empty")

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, requestLimit))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return errEmptyBody
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

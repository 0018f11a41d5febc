package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/spotbook/pkg/app/core/account"
	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotbook/pkg/app/spot"
)

const (
	defaultBookDepth   = 20
	defaultTradesLimit = 100
)

// Server handles REST API and WebSocket connections
type Server struct {
	app    *spot.App
	router *mux.Router
	hub    *Hub
	logger *zap.Logger
	http   *http.Server
}

var (
	_ spot.TradeSink   = (*Server)(nil)
	_ spot.BookWatcher = (*Server)(nil)
)

func NewServer(app *spot.App, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		app:    app,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		logger: logger,
	}
	s.setupRoutes()
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go s.hub.Run()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleCancelOrder).Methods("DELETE")

	api.HandleFunc("/book", s.handleGetBook).Methods("GET")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")

	api.HandleFunc("/accounts", s.handleListAccounts).Methods("GET")
	api.HandleFunc("/accounts", s.handleOpenAccount).Methods("POST")
	api.HandleFunc("/accounts/{id}", s.handleGetAccount).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until Shutdown is called. It returns nil after a
// clean shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("api_server_starting", zap.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	return s.http.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}

	res, err := s.app.SubmitOrder(r.Context(), spot.OrderRequest{
		ID:      orderbook.OrderID(req.ID),
		Account: req.Account,
		Side:    side,
		Price:   req.Price,
		Qty:     req.Qty,
	})
	if err != nil {
		s.respondAppError(w, "order rejected", err)
		return
	}

	trades := res.Trades
	if trades == nil {
		trades = []orderbook.Trade{}
	}
	respondJSON(w, http.StatusCreated, SubmitOrderResponse{
		OrderID: uint64(res.OrderID),
		Status:  orderStatus(req.Qty, res),
		Resting: res.Resting,
		Trades:  trades,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	o, found := s.app.Order(orderbook.OrderID(id))
	if !found {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":        uint64(o.ID),
		"side":      o.Side.String(),
		"price":     o.Price,
		"remaining": o.Qty,
		"account":   o.Owner.ID(),
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.app.CancelOrder(r.Context(), orderbook.OrderID(id)); err != nil {
		s.respondAppError(w, "cancel failed", err)
		return
	}
	respondJSON(w, http.StatusOK, CancelOrderResponse{OrderID: id, Status: "cancelled"})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	depth, err := queryInt(r, "depth", defaultBookDepth)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid depth", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.app.Book(depth))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultTradesLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.app.RecentTrades(limit))
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	snap, err := s.app.OpenAccount(req.ID, req.Name, req.Balance, req.Holdings)
	if err != nil {
		s.respondAppError(w, "account not opened", err)
		return
	}
	respondJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.app.Accounts())
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	snap, err := s.app.Account(id)
	if err != nil {
		s.respondAppError(w, "account not found", err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast
// ==============================

// PublishTrades pushes executed trades and the resulting book to
// WebSocket subscribers.
func (s *Server) PublishTrades(_ context.Context, trades []orderbook.Trade) error {
	s.hub.BroadcastToChannel(ChannelTrades, TradesUpdate{
		Type:   ChannelTrades,
		Ticker: s.app.Ticker(),
		Trades: trades,
	})
	s.broadcastBook()
	return nil
}

// BookChanged pushes the book after an order rests or is cancelled.
func (s *Server) BookChanged(context.Context) {
	s.broadcastBook()
}

func (s *Server) broadcastBook() {
	s.hub.BroadcastToChannel(ChannelBook, BookUpdate{
		Type:      ChannelBook,
		Book:      s.app.Book(defaultBookDepth),
		Timestamp: time.Now().UnixMilli(),
	})
}

// ==============================
// Helper Functions
// ==============================

func parseSide(s string) (orderbook.Side, error) {
	var side orderbook.Side
	err := side.UnmarshalText([]byte(s))
	return side, err
}

func orderStatus(qty int64, res spot.OrderResult) string {
	switch {
	case res.Resting == 0:
		return "filled"
	case res.Resting < qty:
		return "partially_filled"
	default:
		return "resting"
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id", err.Error())
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return n, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orderbook.ErrInvalidOrder), errors.Is(err, account.ErrInvalidAccount):
		return http.StatusBadRequest
	case errors.Is(err, orderbook.ErrOrderNotFound), errors.Is(err, account.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, orderbook.ErrTradeRejected), errors.Is(err, account.ErrAccountExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondAppError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request_failed", zap.String("msg", msg), zap.Error(err))
	}
	respondError(w, status, msg, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{Error: error, Message: message})
}

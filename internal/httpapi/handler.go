// Package httpapi exposes the economy over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/currency-ledger/internal/economy"
	interfaces "github.com/sheikh-saqib/currency-ledger/internal/interfaces"
	"github.com/sheikh-saqib/currency-ledger/internal/ledger"
	"github.com/sheikh-saqib/currency-ledger/internal/models"
	"github.com/sheikh-saqib/currency-ledger/internal/session"
	"github.com/sheikh-saqib/currency-ledger/internal/workers"
)

// PageSize is the number of leaderboard rows per page.
const PageSize = 10

type Server struct {
	eco      *economy.Facade
	sessions *session.Handler
	logger   *slog.Logger
}

func NewServer(eco *economy.Facade, sessions *session.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{eco: eco, sessions: sessions, logger: logger}
}

// Routes returns the handler with every endpoint registered.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.health)
	mux.HandleFunc("/balance", s.balance)
	mux.HandleFunc("/deposit", s.mutation(s.eco.DepositAsync))
	mux.HandleFunc("/withdraw", s.mutation(s.eco.WithdrawAsync))
	mux.HandleFunc("/balance/set", s.mutation(s.eco.SetBalanceAsync))
	mux.HandleFunc("/transfer", s.transfer)
	mux.HandleFunc("/leaderboard", s.leaderboard)
	mux.HandleFunc("/accounts", s.accounts)
	mux.HandleFunc("/players/lookup", s.lookup)
	mux.HandleFunc("/sessions/connect", s.connect)
	mux.HandleFunc("/sessions/disconnect", s.disconnect)
	return mux
}

type balanceResponse struct {
	economy.Response
	PlayerID  string `json:"player_id"`
	Currency  string `json:"currency"`
	Formatted string `json:"formatted,omitempty"`
}

func statusFor(t economy.ResponseType) int {
	switch t {
	case economy.Success:
		return http.StatusOK
	case economy.InvalidCurrency, economy.InvalidAmount:
		return http.StatusBadRequest
	case economy.AccountNotFound:
		return http.StatusNotFound
	case economy.InsufficientFunds, economy.PlayerNotOnline:
		return http.StatusConflict
	case economy.Failure:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeResponse(w http.ResponseWriter, playerID, currency string, r economy.Response) {
	out := balanceResponse{Response: r, PlayerID: playerID, Currency: currency}
	if r.OK() {
		out.Formatted = s.eco.Format(r.Balance, currency)
	}
	writeJSON(w, statusFor(r.Type), out)
}

func (s *Server) currencyOrDefault(c string) string {
	if c == "" {
		return s.eco.DefaultCurrency()
	}
	return c
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		http.Error(w, "player_id is a mandatory field", http.StatusBadRequest)
		return
	}
	currency := s.currencyOrDefault(r.URL.Query().Get("currency"))

	resp := economy.Await(r.Context(), s.eco.BalanceAsync(r.Context(), playerID, currency))
	s.writeResponse(w, playerID, currency, resp)
}

type mutationRequest struct {
	PlayerID string          `json:"player_id"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

type asyncMutation func(ctx context.Context, playerID, currency string, amount decimal.Decimal) *workers.Future[economy.Response]

func (s *Server) mutation(run asyncMutation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req mutationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.PlayerID == "" {
			http.Error(w, "player_id is a mandatory field", http.StatusBadRequest)
			return
		}
		currency := s.currencyOrDefault(req.Currency)

		resp := economy.Await(r.Context(), run(r.Context(), req.PlayerID, currency, req.Amount))
		s.writeResponse(w, req.PlayerID, currency, resp)
	}
}

type transferRequest struct {
	FromPlayer string          `json:"from_player"`
	ToPlayer   string          `json:"to_player"`
	Currency   string          `json:"currency"`
	Amount     decimal.Decimal `json:"amount"`
}

func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.FromPlayer == "" || req.ToPlayer == "" {
		http.Error(w, "from_player and to_player are mandatory fields", http.StatusBadRequest)
		return
	}
	currency := s.currencyOrDefault(req.Currency)

	resp := economy.Await(r.Context(), s.eco.TransferAsync(r.Context(), req.FromPlayer, req.ToPlayer, currency, req.Amount))
	s.writeResponse(w, req.FromPlayer, currency, resp)
}

type leaderboardRow struct {
	Rank      int             `json:"rank"`
	PlayerID  string          `json:"player_id"`
	Amount    decimal.Decimal `json:"amount"`
	Formatted string          `json:"formatted"`
}

type leaderboardResponse struct {
	Currency   string           `json:"currency"`
	Name       string           `json:"name"`
	Page       int              `json:"page"`
	TotalPages int              `json:"total_pages"`
	Rows       []leaderboardRow `json:"rows"`
}

// leaderboard serves one page of the cached ranking. The ranking is refreshed
// from storage when nothing is cached or refresh=true is passed.
func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	currency := s.currencyOrDefault(q.Get("currency"))
	c, ok := s.eco.Manager().Currencies().Get(currency)
	if !ok {
		http.Error(w, "unknown currency", http.StatusBadRequest)
		return
	}
	if !c.Leaderboard {
		http.Error(w, "currency has no leaderboard", http.StatusBadRequest)
		return
	}
	page := 1
	if p := q.Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			http.Error(w, "page must be a positive integer", http.StatusBadRequest)
			return
		}
		page = n
	}

	m := s.eco.Manager()
	rows, cached := m.CachedLeaderboard(currency)
	if !cached || q.Get("refresh") == "true" {
		var err error
		rows, err = m.TopBalances(r.Context(), currency, ledger.DefaultLeaderboardLimit).Await(r.Context())
		if err != nil {
			s.logger.Error("leaderboard query failed", "currency", currency, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusOK, s.page(c, rows, page))
}

func (s *Server) page(c models.Currency, rows []models.Ranking, page int) leaderboardResponse {
	total := (len(rows) + PageSize - 1) / PageSize
	out := leaderboardResponse{Currency: c.ID, Name: c.Name, Page: page, TotalPages: total, Rows: []leaderboardRow{}}
	if page > total {
		return out
	}
	start := (page - 1) * PageSize
	end := min(start+PageSize, len(rows))
	for i, row := range rows[start:end] {
		out.Rows = append(out.Rows, leaderboardRow{
			Rank:      start + i + 1,
			PlayerID:  row.PlayerID,
			Amount:    row.Amount,
			Formatted: c.FormatAmount(row.Amount.String()),
		})
	}
	return out
}

type accountRequest struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

func (s *Server) accounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		playerID := r.URL.Query().Get("player_id")
		if playerID == "" {
			http.Error(w, "player_id is a mandatory field", http.StatusBadRequest)
			return
		}
		exists, err := s.eco.HasAccount(r.Context(), playerID).Await(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"player_id": playerID, "exists": exists})

	case http.MethodPost:
		var req accountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		resp := economy.Await(r.Context(), s.eco.CreateAccount(r.Context(), req.PlayerID, req.Name))
		s.writeResponse(w, req.PlayerID, s.eco.DefaultCurrency(), resp)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "name is a mandatory field", http.StatusBadRequest)
		return
	}
	e, err := s.eco.Manager().LoadByName(r.Context(), name)
	if errors.Is(err, interfaces.ErrNotFound) {
		http.Error(w, "player not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"player_id": e.ID(),
		"name":      e.DisplayName(),
		"balances":  e.Balances(),
	})
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.sessions.OnConnect(r.Context(), req.PlayerID, req.Name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.sessions.OnDisconnect(r.Context(), req.PlayerID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

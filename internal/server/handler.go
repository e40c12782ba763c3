package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/STTM-NSU/simtrade/internal/logger"
	"github.com/STTM-NSU/simtrade/internal/storage"
)

type orderView struct {
	OrderID       int64   `json:"order_id"`
	Ts            string  `json:"ts"`
	AccountID     int64   `json:"account_id"`
	Symbol        string  `json:"symbol"`
	Count         float64 `json:"count"`
	Quantity      float64 `json:"quantity"`
	Price         float64 `json:"price"`
	Action        string  `json:"action"`
	FailureReason string  `json:"failure_reason"`
}

type reportView struct {
	AccountID   int64   `json:"account_id"`
	Date        string  `json:"date"`
	NetValue    float64 `json:"net_value"`
	CashToTrade float64 `json:"cash_to_trade"`
}

type accountView struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	Mode        string  `json:"mode"`
	NetValue    float64 `json:"net_value"`
	CashToTrade float64 `json:"cash_to_trade"`
	InitialCash float64 `json:"initial_cash"`
}

type handler struct {
	store  storage.Reader
	logger logger.Logger
}

// NewHandler serves /accounts, /orders and /reports. Orders and reports
// take an optional account query parameter.
func NewHandler(store storage.Reader, l logger.Logger) http.Handler {
	h := &handler{store: store, logger: l}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /accounts", h.accounts)
	mux.HandleFunc("GET /orders", h.orders)
	mux.HandleFunc("GET /reports", h.reports)
	return mux
}

func accountFilter(r *http.Request) (int64, bool) {
	s := r.URL.Query().Get("account")
	if s == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil && id > 0
}

func (h *handler) accounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.Accounts(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountView{
			ID:          a.ID,
			Type:        string(a.Type),
			Mode:        string(a.Mode),
			NetValue:    a.NetValue,
			CashToTrade: a.CashToTrade,
			InitialCash: a.InitialCash,
		})
	}
	h.write(w, out)
}

func (h *handler) orders(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFilter(r)
	if !ok {
		http.Error(w, "bad account", http.StatusBadRequest)
		return
	}
	orders, err := h.store.Orders(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		if account != 0 && o.AccountID != account {
			continue
		}
		out = append(out, orderView{
			OrderID:       o.OrderID,
			Ts:            o.Ts.Format("2006-01-02 15:04:05 MST"),
			AccountID:     o.AccountID,
			Symbol:        o.Symbol,
			Count:         o.Count,
			Quantity:      o.SignedQuantity(),
			Price:         o.Price,
			Action:        o.Action.String(),
			FailureReason: o.FailureReason,
		})
	}
	h.write(w, out)
}

func (h *handler) reports(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFilter(r)
	if !ok {
		http.Error(w, "bad account", http.StatusBadRequest)
		return
	}
	reports, err := h.store.DayReports(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]reportView, 0, len(reports))
	for _, rep := range reports {
		if account != 0 && rep.AccountID != account {
			continue
		}
		out = append(out, reportView{
			AccountID:   rep.AccountID,
			Date:        rep.Date.Format("2006-01-02"),
			NetValue:    rep.NetValue,
			CashToTrade: rep.CashToTrade,
		})
	}
	h.write(w, out)
}

func (h *handler) write(w http.ResponseWriter, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		h.logger.Warnf("%s: can't write response", err)
	}
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	h.logger.Errorf("%s: request failed", err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}


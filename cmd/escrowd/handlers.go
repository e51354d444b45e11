package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/clearhold-labs/clearhold/core/pkg/audit"
	"github.com/clearhold-labs/clearhold/core/pkg/config"
	"github.com/clearhold-labs/clearhold/core/pkg/money"
	"github.com/clearhold-labs/clearhold/core/pkg/orchestrator"
	"github.com/clearhold-labs/clearhold/core/pkg/store"
	"github.com/clearhold-labs/clearhold/core/pkg/walletsec"
)

type createTransactionBody struct {
	BuyerAgentID       string `json:"buyer_agent_id"`
	SellerAgentID      string `json:"seller_agent_id"`
	PropertyID         string `json:"property_id"`
	PurchasePriceMinor int64  `json:"purchase_price_minor"`
	EarnestMoneyMinor  int64  `json:"earnest_money_minor"`
	Currency           string `json:"currency"`
	ClosingDate        string `json:"closing_date"`
	WalletID           string `json:"wallet_id"`
}

type disputeBody struct {
	RaisedBy string `json:"raised_by"`
	Reason   string `json:"reason"`
}

type walletPolicyBody struct {
	Profile string `json:"profile"`
}

// registerHandlers wires the daemon's HTTP surface. Verification task
// execution stays internal; the HTTP surface covers transaction intake,
// wallet policy administration, and audit reads.
func registerHandlers(mux *http.ServeMux, orch *orchestrator.Orchestrator, auditor *audit.Logger, engine *walletsec.Engine, profilesDir string) {
	mux.HandleFunc("POST /transactions", func(w http.ResponseWriter, r *http.Request) {
		var body createTransactionBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if body.Currency == "" {
			body.Currency = "USD"
		}
		closing, err := time.Parse(time.RFC3339, body.ClosingDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		tx, err := orch.CreateTransaction(r.Context(), orchestrator.CreateTransactionRequest{
			BuyerAgentID:  body.BuyerAgentID,
			SellerAgentID: body.SellerAgentID,
			PropertyID:    body.PropertyID,
			PurchasePrice: money.New(body.PurchasePriceMinor, body.Currency),
			EarnestMoney:  money.New(body.EarnestMoneyMinor, body.Currency),
			ClosingDate:   closing,
			WalletID:      body.WalletID,
		})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, tx)
	})

	mux.HandleFunc("POST /transactions/{id}/dispute", func(w http.ResponseWriter, r *http.Request) {
		var body disputeBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := orch.RaiseDispute(r.Context(), r.PathValue("id"), body.RaisedBy, body.Reason); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /transactions/{id}/audit_trail", func(w http.ResponseWriter, r *http.Request) {
		verify := r.URL.Query().Get("verify") == "true"
		entries, err := auditor.GetAuditTrail(r.Context(), r.PathValue("id"), audit.TrailQuery{
			IncludeVerification: verify,
		})
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	})

	mux.HandleFunc("GET /transactions/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"entries": auditor.GetTransactionEvents(r.PathValue("id")),
		})
	})

	mux.HandleFunc("PUT /wallets/{id}/policy", func(w http.ResponseWriter, r *http.Request) {
		var body walletPolicyBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if body.Profile == "" {
			writeError(w, http.StatusBadRequest, errors.New("profile code is required"))
			return
		}
		profile, err := config.LoadProfile(profilesDir, body.Profile)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		cfg, err := profile.SecurityConfig(r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		if err := engine.Configure(r.Context(), *cfg); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	})

	mux.HandleFunc("GET /audit/checkpoint", func(w http.ResponseWriter, r *http.Request) {
		cp, err := auditor.Checkpoint()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, cp)
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

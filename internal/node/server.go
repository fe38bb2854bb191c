package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sharding-experiment/slotvault/internal/custody"
	"github.com/sharding-experiment/slotvault/internal/protocol"
	"github.com/sharding-experiment/slotvault/internal/registry"
)

// Router returns the HTTP router for testing
func (n *Node) Router() *mux.Router {
	return n.router
}

func (n *Node) setupRoutes() {
	n.router.HandleFunc("/invoke", n.handleInvoke).Methods("POST")

	// Queries
	n.router.HandleFunc("/fees", n.handleFees).Methods("GET")
	n.router.HandleFunc("/holdings", n.handleHoldings).Methods("GET")
	n.router.HandleFunc("/holdings/{slot}", n.handleHolding).Methods("GET")
	n.router.HandleFunc("/stranded", n.handleStranded).Methods("GET")
	n.router.HandleFunc("/receipts/{id}", n.handleReceipt).Methods("GET")

	n.router.HandleFunc("/health", n.handleHealth).Methods("GET")
	n.router.HandleFunc("/info", n.handleInfo).Methods("GET")
}

// Start serves the node API on port. The API takes the envelope sender at
// face value, so it must sit behind a transport that authenticates senders.
func (n *Node) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	n.logger.Info("Custodian node starting", "addr", addr, "admin", n.controller.Config().Admin)
	return http.ListenAndServe(addr, n.router)
}

// errorResponse is the body of every failed invocation
type errorResponse struct {
	Error   string            `json:"error"`
	Receipt *protocol.Receipt `json:"receipt,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps controller errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, custody.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, custody.ErrInvalidDeposit):
		return http.StatusBadRequest
	case errors.Is(err, custody.ErrBidTooLow),
		errors.Is(err, custody.ErrAssetHeld),
		errors.Is(err, custody.ErrUnknownRelease):
		return http.StatusConflict
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// handleInvoke trusts the sender in the request body; see Start
func (n *Node) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var env protocol.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if env.Message == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing message"})
		return
	}

	receipt, err := n.Submit(env)
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), Receipt: receipt})
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (n *Node) handleFees(w http.ResponseWriter, r *http.Request) {
	profit := n.controller.Profit()
	writeJSON(w, http.StatusOK, map[string]string{
		"profit":      protocol.FormatUnits(profit),
		"profit_nano": profit.Dec(),
	})
}

func (n *Node) handleHoldings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, n.controller.Holdings())
}

func (n *Node) handleHolding(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.Atoi(mux.Vars(r)["slot"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid slot"})
		return
	}
	h, err := n.controller.Holding(slot)
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (n *Node) handleStranded(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, n.controller.Stranded())
}

func (n *Node) handleReceipt(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	receipt := n.ledger.Get(id)
	if receipt == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("receipt %q not found", id)})
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (n *Node) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (n *Node) handleInfo(w http.ResponseWriter, r *http.Request) {
	cfg := n.controller.Config()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"admin":         cfg.Admin,
		"self":          cfg.Self,
		"capacity":      cfg.Capacity,
		"batch_limit":   cfg.BatchLimit,
		"policy":        cfg.Policy.Name(),
		"withdraw_to":   cfg.WithdrawTo,
		"auto_continue": n.autoContinue,
		"height":        n.ledger.Height(),
		"holdings":      n.controller.Count(),
	})
}

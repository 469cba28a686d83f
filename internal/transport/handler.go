// Package transport exposes the node's HTTP API.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/qxchain/qxchain-node/internal/ledger"
	"github.com/qxchain/qxchain-node/internal/node"
	"github.com/qxchain/qxchain-node/internal/wallet"
)

// NodeService is the slice of the node the HTTP layer needs.
type NodeService interface {
	SubmitTransaction(tx *ledger.Transaction) error
	PendingTransactions() []*ledger.Transaction
	MineBlock(ctx context.Context, minerAddress string) (*ledger.Block, error)
	Chain() []*ledger.Block
	Balance(address string) (uint64, error)
	History(address string) ([]*ledger.Transaction, error)
	ValidateChain() error
	Stats() node.Stats
	ReceiveCandidateChain(ctx context.Context, candidate []*ledger.Block) error
}

// WalletService manages server-side wallets.
type WalletService interface {
	Create(id string) (*wallet.Wallet, error)
	Get(id string) (*wallet.Wallet, error)
	List() []*wallet.Wallet
}

// TransactionSigner builds hashes and lattice signatures for wallet-signed
// transfers.
type TransactionSigner interface {
	ledger.Hasher
	ledger.Signer
}

// Metrics tracks served requests.
type Metrics interface {
	ObserveRequest(route, method string, code int, started time.Time)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRequest(string, string, int, time.Time) {}

// Handler serves the node API.
type Handler struct {
	node    NodeService
	wallets WalletService
	signer  TransactionSigner
	logger  *zap.Logger
	metrics Metrics
	rps     int
}

// Option customizes a Handler.
type Option func(*Handler)

// WithMetrics reports request counts and latencies.
func WithMetrics(m Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithRequestsPerSecond caps the request rate across all routes.
func WithRequestsPerSecond(rps int) Option {
	return func(h *Handler) { h.rps = rps }
}

// NewHandler wires the API routes.
func NewHandler(n NodeService, wallets WalletService, signer TransactionSigner, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		node:    n,
		wallets: wallets,
		signer:  signer,
		logger:  logger.Named("http"),
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.observe)
	if h.rps > 0 {
		r.Use(rateLimit(h.rps))
	}

	r.HandleFunc("/healthcheck", h.healthcheck).Methods(http.MethodGet)

	r.HandleFunc("/wallets", h.createWallet).Methods(http.MethodPost)
	r.HandleFunc("/wallets", h.listWallets).Methods(http.MethodGet)
	r.HandleFunc("/wallets/{id}", h.getWallet).Methods(http.MethodGet)

	r.HandleFunc("/transactions", h.createTransaction).Methods(http.MethodPost)
	r.HandleFunc("/transactions/pending", h.pendingTransactions).Methods(http.MethodGet)

	r.HandleFunc("/mine", h.mine).Methods(http.MethodPost)

	r.HandleFunc("/chain", h.chain).Methods(http.MethodGet)
	r.HandleFunc("/chain/stats", h.stats).Methods(http.MethodGet)
	r.HandleFunc("/chain/validate", h.validate).Methods(http.MethodGet)
	r.HandleFunc("/chain/candidate", h.candidate).Methods(http.MethodPost)

	r.HandleFunc("/addresses/{address}/balance", h.balance).Methods(http.MethodGet)
	r.HandleFunc("/addresses/{address}/history", h.history).Methods(http.MethodGet)

	return r
}

func (h *Handler) healthcheck(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createWalletRequest struct {
	ID string `json:"id"`
}

// walletView hides secret key material from API responses.
type walletView struct {
	ID                 string    `json:"id"`
	Address            string    `json:"address"`
	SignaturePublicKey []byte    `json:"signature_public_key"`
	KEMPublicKey       []byte    `json:"kem_public_key"`
	CreatedAt          time.Time `json:"created_at"`
}

func viewOf(w *wallet.Wallet) walletView {
	return walletView{
		ID:                 w.ID,
		Address:            w.Address,
		SignaturePublicKey: w.SignaturePublicKey,
		KEMPublicKey:       w.KEMPublicKey,
		CreatedAt:          w.CreatedAt,
	}
}

func (h *Handler) createWallet(w http.ResponseWriter, r *http.Request) {
	var req createWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" {
		h.writeError(w, r, http.StatusBadRequest, errors.New("wallet id is required"))
		return
	}

	created, err := h.wallets.Create(req.ID)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, viewOf(created))
}

func (h *Handler) listWallets(w http.ResponseWriter, _ *http.Request) {
	all := h.wallets.List()
	views := make([]walletView, 0, len(all))
	for _, wl := range all {
		views = append(views, viewOf(wl))
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) getWallet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wl, err := h.wallets.Get(id)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewOf(wl))
}

type createTransactionRequest struct {
	WalletID  string `json:"wallet_id"`
	Recipient string `json:"recipient_address"`
	Amount    uint64 `json:"amount"`
	Fee       uint64 `json:"fee"`
	Data      string `json:"data"`
}

func (h *Handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	wl, err := h.wallets.Get(req.WalletID)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}

	tx, err := wl.NewTransaction(h.signer, h.signer, req.Recipient, req.Amount, req.Fee, req.Data, time.Now())
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	if err := h.node.SubmitTransaction(tx); err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tx)
}

func (h *Handler) pendingTransactions(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.node.PendingTransactions())
}

type mineRequest struct {
	MinerAddress string `json:"miner_address"`
}

func (h *Handler) mine(w http.ResponseWriter, r *http.Request) {
	var req mineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	block, err := h.node.MineBlock(r.Context(), req.MinerAddress)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, block)
}

func (h *Handler) chain(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.node.Chain())
}

func (h *Handler) stats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.node.Stats())
}

func (h *Handler) validate(w http.ResponseWriter, _ *http.Request) {
	if err := h.node.ValidateChain(); err != nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"is_valid": false, "reason": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"is_valid": true})
}

func (h *Handler) candidate(w http.ResponseWriter, r *http.Request) {
	var blocks []*ledger.Block
	if err := json.NewDecoder(r.Body).Decode(&blocks); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := h.node.ReceiveCandidateChain(r.Context(), blocks); err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	amount, err := h.node.Balance(address)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"address": address, "balance": amount})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	txs, err := h.node.History(address)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("response not encoded", zap.Error(err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	} else {
		h.logger.Debug("request rejected",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	h.writeJSON(w, code, errorResponse{Error: err.Error()})
}

// writeMappedError translates domain sentinels into HTTP statuses.
func (h *Handler) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	h.writeError(w, r, statusCodeFor(err), err)
}

func statusCodeFor(err error) int {
	switch {
	case errors.Is(err, wallet.ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, wallet.ErrWalletExists),
		errors.Is(err, ledger.ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrMalformedAddress),
		errors.Is(err, ledger.ErrStaleTimestamp),
		errors.Is(err, ledger.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrChainTooShort),
		errors.Is(err, ledger.ErrInvalidBlockLinkage),
		errors.Is(err, ledger.ErrDifficultyNotMet),
		errors.Is(err, ledger.ErrInvalidBlock):
		return http.StatusConflict
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

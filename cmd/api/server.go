package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/duckrwx/jurisland/auth"
	"github.com/duckrwx/jurisland/jury"
	"github.com/duckrwx/jurisland/ledger"
	"github.com/duckrwx/jurisland/marketplace"
	"github.com/duckrwx/jurisland/reputation"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyRole
)

type escrowService interface {
	ListProduct(ctx context.Context, params marketplace.ListProductParams) (marketplace.Product, error)
	DeactivateProduct(ctx context.Context, sellerID string, productID int64) error
	GetProduct(ctx context.Context, id int64) (marketplace.Product, error)
	ListActiveProducts(ctx context.Context, offset, limit int) (marketplace.ProductPage, error)
	PurchaseProduct(ctx context.Context, buyerID string, productID, payment int64) (marketplace.Purchase, error)
	GetPurchase(ctx context.Context, id int64) (marketplace.Purchase, error)
	ConfirmDelivery(ctx context.Context, delivererID string, purchaseID int64) error
	FinalizePurchase(ctx context.Context, callerID string, purchaseID int64) error
	RequestReturn(ctx context.Context, buyerID string, purchaseID int64) error
	ConfirmReturnReceipt(ctx context.Context, sellerID string, purchaseID int64) error
	ApproveReturn(ctx context.Context, callerID string, purchaseID int64) error
	OpenDispute(ctx context.Context, callerID string, purchaseID int64) error
}

type juryService interface {
	Stake(ctx context.Context, userID string, amount int64) error
	Unstake(ctx context.Context, userID string, amount int64) error
	CastVote(ctx context.Context, jurorID string, purchaseID int64, forPlaintiff bool) error
	ResolveDispute(ctx context.Context, purchaseID int64) error
	GetDispute(ctx context.Context, purchaseID int64) (jury.Dispute, []jury.Vote, error)
	GetJuror(ctx context.Context, userID string) (jury.Juror, error)
}

type adminService interface {
	SetPlatformFee(ctx context.Context, callerID string, bps int) error
	SetFeeRecipient(ctx context.Context, callerID, recipientID string) error
	Settings(ctx context.Context) (marketplace.Settings, error)
}

type reputationService interface {
	RegisterPersona(ctx context.Context, userID, personaHash string) (reputation.Record, error)
	Get(ctx context.Context, userID string) (reputation.Record, error)
}

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

// Server is the HTTP facade over the escrow and jury services.
type Server struct {
	authService       authService
	escrowService     escrowService
	juryService       juryService
	adminService      adminService
	reputationService reputationService
	logger            *slog.Logger
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/register", s.handleRegister)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/products", s.withAuth(s.handleProducts))
	mux.HandleFunc("/api/products/", s.withAuth(s.handleProductDetail))
	mux.HandleFunc("/api/purchases", s.withAuth(s.handlePurchases))
	mux.HandleFunc("/api/purchases/", s.withAuth(s.handlePurchaseDetail))
	mux.HandleFunc("/api/jury/stake", s.withAuth(s.handleStake))
	mux.HandleFunc("/api/jury/unstake", s.withAuth(s.handleUnstake))
	mux.HandleFunc("/api/jury/jurors/", s.withAuth(s.handleJurorDetail))
	mux.HandleFunc("/api/disputes/", s.withAuth(s.handleDisputeDetail))
	mux.HandleFunc("/api/reputation/persona", s.withAuth(s.handleRegisterPersona))
	mux.HandleFunc("/api/reputation/", s.withAuth(s.handleReputationDetail))
	mux.HandleFunc("/api/settings", s.withAuth(s.handleSettings))
	return mux
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		userID, role, err := s.authService.VerifyToken(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	}
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

type productResponse struct {
	ID            int64   `json:"id"`
	SellerID      string  `json:"sellerId"`
	DelivererID   string  `json:"delivererId"`
	CreatorID     *string `json:"creatorId,omitempty"`
	Price         int64   `json:"price"`
	CommissionBps int     `json:"commissionBps"`
	MetadataRef   string  `json:"metadataRef"`
	Active        bool    `json:"active"`
	CreatedAt     string  `json:"createdAt"`
}

type purchaseResponse struct {
	ID           int64   `json:"id"`
	ProductID    int64   `json:"productId"`
	BuyerID      string  `json:"buyerId"`
	SellerID     string  `json:"sellerId"`
	Price        int64   `json:"price"`
	Status       string  `json:"status"`
	ReleaseAt    *string `json:"releaseAt,omitempty"`
	InspectionAt *string `json:"inspectionAt,omitempty"`
}

type disputeResponse struct {
	PurchaseID     int64   `json:"purchaseId"`
	Value          int64   `json:"value"`
	PlaintiffID    string  `json:"plaintiffId"`
	DefendantID    string  `json:"defendantId"`
	Status         string  `json:"status"`
	VotingDeadline string  `json:"votingDeadline"`
	WinnerID       *string `json:"winnerId,omitempty"`
	VotesCast      int     `json:"votesCast"`
	Seated         int     `json:"seated"`
}

type reputationResponse struct {
	UserID            string `json:"userId"`
	BuyerScore        int64  `json:"buyerScore"`
	SellerScore       int64  `json:"sellerScore"`
	CreatorScore      int64  `json:"creatorScore"`
	BuyerReturnCount  int64  `json:"buyerReturnCount"`
	SellerReturnCount int64  `json:"sellerReturnCount"`
	PersonaHash       string `json:"personaHash"`
}

func toReputationResponse(rec reputation.Record) reputationResponse {
	return reputationResponse{
		UserID:            rec.UserID,
		BuyerScore:        rec.BuyerScore,
		SellerScore:       rec.SellerScore,
		CreatorScore:      rec.CreatorScore,
		BuyerReturnCount:  rec.BuyerReturnCount,
		SellerReturnCount: rec.SellerReturnCount,
		PersonaHash:       rec.PersonaHash,
	}
}

func toProductResponse(p marketplace.Product) productResponse {
	return productResponse{
		ID:            p.ID,
		SellerID:      p.SellerID,
		DelivererID:   p.DelivererID,
		CreatorID:     p.CreatorID,
		Price:         p.Price,
		CommissionBps: p.CommissionBps,
		MetadataRef:   p.MetadataRef,
		Active:        p.Active,
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
}

func toPurchaseResponse(p marketplace.Purchase) purchaseResponse {
	resp := purchaseResponse{
		ID:        p.ID,
		ProductID: p.ProductID,
		BuyerID:   p.BuyerID,
		SellerID:  p.SellerID,
		Price:     p.Price,
		Status:    string(p.Status),
	}
	if p.ReleaseAt != nil {
		ts := p.ReleaseAt.Format(time.RFC3339)
		resp.ReleaseAt = &ts
	}
	if p.InspectionAt != nil {
		ts := p.InspectionAt.Format(time.RFC3339)
		resp.InspectionAt = &ts
	}
	return resp
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) || errors.Is(err, auth.ErrDuplicateEmail) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"id":    user.ID,
		"email": user.Email,
		"role":  user.Role,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": map[string]any{
			"id":    result.User.ID,
			"email": result.User.Email,
			"role":  result.User.Role,
		},
	})
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 || limit > 100 {
			limit = 20
		}
		page, err := s.escrowService.ListActiveProducts(r.Context(), offset, limit)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		items := make([]productResponse, 0, len(page.Items))
		for _, p := range page.Items {
			items = append(items, toProductResponse(p))
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"items":     items,
			"processed": page.TotalProcessed,
		})
	case http.MethodPost:
		var body struct {
			DelivererID   string  `json:"delivererId"`
			CreatorID     *string `json:"creatorId"`
			Price         int64   `json:"price"`
			CommissionBps int     `json:"commissionBps"`
			MetadataRef   string  `json:"metadataRef"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		prod, err := s.escrowService.ListProduct(r.Context(), marketplace.ListProductParams{
			SellerID:      callerID(r),
			DelivererID:   body.DelivererID,
			CreatorID:     body.CreatorID,
			Price:         body.Price,
			CommissionBps: body.CommissionBps,
			MetadataRef:   body.MetadataRef,
		})
		if err != nil {
			s.writeEscrowError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, toProductResponse(prod))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleProductDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "/api/products/")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		prod, err := s.escrowService.GetProduct(r.Context(), id)
		if err != nil {
			s.writeEscrowError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, toProductResponse(prod))
	case http.MethodDelete:
		if err := s.escrowService.DeactivateProduct(r.Context(), callerID(r), id); err != nil {
			s.writeEscrowError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePurchases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ProductID int64 `json:"productId"`
		Payment   int64 `json:"payment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	purchase, err := s.escrowService.PurchaseProduct(r.Context(), callerID(r), body.ProductID, body.Payment)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toPurchaseResponse(purchase))
}

// handlePurchaseDetail serves GET /api/purchases/{id} and the transition
// actions POST /api/purchases/{id}/{action}.
func (s *Server) handlePurchaseDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/purchases/")
	idPart, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid purchase id", http.StatusBadRequest)
		return
	}

	if action == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		purchase, err := s.escrowService.GetPurchase(r.Context(), id)
		if err != nil {
			s.writeEscrowError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, toPurchaseResponse(purchase))
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	caller := callerID(r)
	switch action {
	case "confirm-delivery":
		err = s.escrowService.ConfirmDelivery(r.Context(), caller, id)
	case "finalize":
		err = s.escrowService.FinalizePurchase(r.Context(), caller, id)
	case "request-return":
		err = s.escrowService.RequestReturn(r.Context(), caller, id)
	case "confirm-return":
		err = s.escrowService.ConfirmReturnReceipt(r.Context(), caller, id)
	case "approve-return":
		err = s.escrowService.ApproveReturn(r.Context(), caller, id)
	case "dispute":
		err = s.escrowService.OpenDispute(r.Context(), caller, id)
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	purchase, err := s.escrowService.GetPurchase(r.Context(), id)
	if err != nil {
		s.writeEscrowError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPurchaseResponse(purchase))
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	s.handleStakeChange(w, r, s.juryService.Stake)
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	s.handleStakeChange(w, r, s.juryService.Unstake)
}

func (s *Server) handleStakeChange(w http.ResponseWriter, r *http.Request, apply func(context.Context, string, int64) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := apply(r.Context(), callerID(r), body.Amount); err != nil {
		s.writeJuryError(w, r, err)
		return
	}
	juror, err := s.juryService.GetJuror(r.Context(), callerID(r))
	if err != nil {
		s.writeJuryError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"jurorId": juror.UserID,
		"staked":  juror.Staked,
	})
}

// handleDisputeDetail serves GET /api/disputes/{id} and the actions
// POST /api/disputes/{id}/votes and /resolve.
func (s *Server) handleDisputeDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/disputes/")
	idPart, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid dispute id", http.StatusBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		d, votes, err := s.juryService.GetDispute(r.Context(), id)
		if err != nil {
			s.writeJuryError(w, r, err)
			return
		}
		cast := 0
		for _, v := range votes {
			if v.HasVoted {
				cast++
			}
		}
		resp := disputeResponse{
			PurchaseID:     d.PurchaseID,
			Value:          d.Value,
			PlaintiffID:    d.PlaintiffID,
			DefendantID:    d.DefendantID,
			Status:         string(d.Status),
			VotingDeadline: d.VotingDeadline.Format(time.RFC3339),
			WinnerID:       d.WinnerID,
			VotesCast:      cast,
			Seated:         len(votes),
		}
		s.writeJSON(w, http.StatusOK, resp)
	case action == "votes" && r.Method == http.MethodPost:
		var body struct {
			ForPlaintiff bool `json:"forPlaintiff"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if err := s.juryService.CastVote(r.Context(), callerID(r), id, body.ForPlaintiff); err != nil {
			s.writeJuryError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case action == "resolve" && r.Method == http.MethodPost:
		if err := s.juryService.ResolveDispute(r.Context(), id); err != nil {
			s.writeJuryError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRegisterPersona binds the caller's persona hash, creating the
// reputation record at the initial scores on first call. Idempotent.
func (s *Server) handleRegisterPersona(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		PersonaHash string `json:"personaHash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	rec, err := s.reputationService.RegisterPersona(r.Context(), callerID(r), body.PersonaHash)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toReputationResponse(rec))
}

func (s *Server) handleReputationDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/api/reputation/")
	if userID == "" || strings.Contains(userID, "/") {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	rec, err := s.reputationService.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, reputation.ErrUserNotRegistered) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toReputationResponse(rec))
}

func (s *Server) handleJurorDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/api/jury/jurors/")
	if userID == "" || strings.Contains(userID, "/") {
		http.Error(w, "invalid juror id", http.StatusBadRequest)
		return
	}
	juror, err := s.juryService.GetJuror(r.Context(), userID)
	if err != nil {
		s.writeJuryError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"jurorId":       juror.UserID,
		"staked":        juror.Staked,
		"totalVotes":    juror.TotalVotes,
		"correctVotes":  juror.CorrectVotes,
		"rewardsEarned": juror.RewardsEarned,
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := s.adminService.Settings(r.Context())
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"platformFeeBps": settings.PlatformFeeBps,
			"feeRecipientId": settings.FeeRecipientID,
		})
	case http.MethodPatch:
		var body struct {
			PlatformFeeBps *int    `json:"platformFeeBps"`
			FeeRecipientID *string `json:"feeRecipientId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		caller := callerID(r)
		if body.PlatformFeeBps != nil {
			if err := s.adminService.SetPlatformFee(r.Context(), caller, *body.PlatformFeeBps); err != nil {
				s.writeEscrowError(w, r, err)
				return
			}
		}
		if body.FeeRecipientID != nil {
			if err := s.adminService.SetFeeRecipient(r.Context(), caller, *body.FeeRecipientID); err != nil {
				s.writeEscrowError(w, r, err)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, prefix string) (int64, bool) {
	raw := strings.TrimPrefix(r.URL.Path, prefix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) writeEscrowError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, marketplace.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, marketplace.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, marketplace.ErrInvalidState),
		errors.Is(err, marketplace.ErrWindowOpen),
		errors.Is(err, marketplace.ErrWindowClosed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, marketplace.ErrInvalidAmount):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.internalError(w, r, err)
	}
}

func (s *Server) writeJuryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, jury.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, jury.ErrUnauthorized), errors.Is(err, jury.ErrNotSelected):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, jury.ErrInvalidState),
		errors.Is(err, jury.ErrAlreadyVoted),
		errors.Is(err, jury.ErrStakeLocked),
		errors.Is(err, jury.ErrWindowOpen),
		errors.Is(err, jury.ErrWindowClosed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, jury.ErrInvalidAmount):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.internalError(w, r, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	if s.logger != nil {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && s.logger != nil {
		s.logger.Error("encode response", "err", err)
	}
}

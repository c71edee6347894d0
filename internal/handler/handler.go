package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/Dan9191/p2p-lending/internal/middleware"
	"github.com/Dan9191/p2p-lending/internal/scoring"
	"github.com/Dan9191/p2p-lending/internal/service"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	svc      *service.Service
	log      *logrus.Logger
	validate *validator.Validate
}

func NewHandler(svc *service.Service, log *logrus.Logger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{svc: svc, log: log, validate: v}
}

// Routes registers the public routes on r and the wallet routes behind auth.
func (h *Handler) Routes(r *mux.Router, auth mux.MiddlewareFunc) {
	r.HandleFunc("/healthz", h.Health).Methods("GET")
	r.HandleFunc("/policy", h.Policy).Methods("GET")
	r.HandleFunc("/stats", h.Stats).Methods("GET")
	r.HandleFunc("/scoring/evaluate", h.Evaluate).Methods("POST")
	r.HandleFunc("/scoring/eligibility", h.Eligibility).Methods("POST")
	r.HandleFunc("/scoring/simulate", h.Simulate).Methods("POST")
	r.HandleFunc("/evaluations/{id:[0-9]+}", h.GetEvaluation).Methods("GET")
	r.HandleFunc("/users/{wallet}/evaluations", h.UserEvaluations).Methods("GET")
	r.HandleFunc("/users/{wallet}/loans", h.UserLoans).Methods("GET")
	r.HandleFunc("/marketplace", h.Marketplace).Methods("GET")
	r.HandleFunc("/loans/{id:[0-9]+}", h.GetLoan).Methods("GET")
	r.HandleFunc("/loans/{id:[0-9]+}/schedule", h.LoanSchedule).Methods("GET")

	wallet := r.NewRoute().Subrouter()
	wallet.Use(auth)
	wallet.HandleFunc("/registration", h.ConfirmRegistration).Methods("POST")
	wallet.HandleFunc("/loans", h.SubmitLoan).Methods("POST")
	wallet.HandleFunc("/loans/{id:[0-9]+}/contract", h.LinkContract).Methods("POST")
	wallet.HandleFunc("/loans/{id:[0-9]+}/investments/call", h.InvestmentCall).Methods("POST")
	wallet.HandleFunc("/loans/{id:[0-9]+}/investments", h.Invest).Methods("POST")
	wallet.HandleFunc("/loans/{id:[0-9]+}/repayments/call", h.RepaymentCall).Methods("POST")
	wallet.HandleFunc("/loans/{id:[0-9]+}/repayments", h.Repay).Methods("POST")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Errorf("Failed to encode response: %v", err)
	}
}

type errorBody struct {
	Error  string               `json:"error"`
	Fields []scoring.FieldError `json:"fields,omitempty"`
}

// writeError maps service and scoring errors to status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, scoring.ErrInvalidInput), errors.Is(err, service.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrSelfInvestment):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrNotApproved):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrNotAcceptingInvestments),
		errors.Is(err, service.ErrInvestmentExceedsRequest),
		errors.Is(err, service.ErrNotRepayable),
		errors.Is(err, service.ErrNotOnChain):
		status = http.StatusConflict
	}

	body := errorBody{Error: err.Error()}
	var verr *scoring.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}
	if status == http.StatusInternalServerError {
		h.log.Errorf("%s %s failed: %v", r.Method, r.URL.Path, err)
		body.Error = "internal server error"
	}
	h.writeJSON(w, status, body)
}

// decode reads a JSON body into dst. Scoring inputs are checked by the
// engine; request envelopes are checked with check.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &scoring.ValidationError{Fields: []scoring.FieldError{{Field: "body", Reason: "must be valid JSON"}}}
	}
	return nil
}

// check runs the validate tags on a decoded request.
func (h *Handler) check(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	verr := &scoring.ValidationError{}
	for _, fe := range fieldErrs {
		verr.Fields = append(verr.Fields, scoring.FieldError{Field: fe.Field(), Reason: "failed " + fe.Tag() + " check"})
	}
	return verr
}

func (h *Handler) checkWallet(wallet string) error {
	if err := h.validate.Var(wallet, "eth_addr"); err != nil {
		return &scoring.ValidationError{Fields: []scoring.FieldError{{Field: "wallet", Reason: "must be a 0x-prefixed 20-byte hex address"}}}
	}
	return nil
}

func pathID(r *http.Request) int64 {
	// the route pattern only admits digits
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func authWallet(r *http.Request) string {
	wallet, _ := middleware.WalletFromContext(r.Context())
	return wallet
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Policy(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Policy())
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.PlatformStats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// Evaluate scores an application and optionally stores the result
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req service.EvaluateRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.check(req.User); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.WalletAddress != "" {
		if err := h.checkWallet(req.WalletAddress); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	out, err := h.svc.CalculateCreditScore(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

type eligibilityRequest struct {
	scoring.Input
	WalletAddress string `json:"wallet_address"`
}

func (h *Handler) Eligibility(w http.ResponseWriter, r *http.Request) {
	var req eligibilityRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.WalletAddress != "" {
		if err := h.checkWallet(req.WalletAddress); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	el, err := h.svc.CheckLoanEligibility(r.Context(), req.WalletAddress, req.Input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, el)
}

func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req service.SimulationRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.SimulateScenarios(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ev, err := h.svc.GetEvaluation(r.Context(), pathID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ev)
}

func (h *Handler) UserEvaluations(w http.ResponseWriter, r *http.Request) {
	wallet := mux.Vars(r)["wallet"]
	if err := h.checkWallet(wallet); err != nil {
		h.writeError(w, r, err)
		return
	}
	evs, err := h.svc.UserCreditHistory(r.Context(), wallet)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, evs)
}

func (h *Handler) UserLoans(w http.ResponseWriter, r *http.Request) {
	wallet := mux.Vars(r)["wallet"]
	if err := h.checkWallet(wallet); err != nil {
		h.writeError(w, r, err)
		return
	}
	loans, err := h.svc.ListUserLoans(r.Context(), wallet)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, loans)
}

// Marketplace lists loans open for investment; ?exclude=<wallet> hides that wallet's loans
func (h *Handler) Marketplace(w http.ResponseWriter, r *http.Request) {
	loans, err := h.svc.ListMarketplace(r.Context(), r.URL.Query().Get("exclude"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, loans)
}

func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.svc.GetLoan(r.Context(), pathID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, loan)
}

func (h *Handler) LoanSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.svc.LoanSchedule(r.Context(), pathID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, schedule)
}

// SubmitLoan lists a loan for the authenticated borrower
func (h *Handler) SubmitLoan(w http.ResponseWriter, r *http.Request) {
	var app service.LoanApplication
	if err := h.decode(r, &app); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.check(app.User); err != nil {
		h.writeError(w, r, err)
		return
	}
	app.WalletAddress = authWallet(r)
	sub, err := h.svc.SubmitLoanRequest(r.Context(), app)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sub)
}

type linkRequest struct {
	ContractRequestRef string `json:"contract_request_ref" validate:"required"`
	TransactionHash    string `json:"transaction_hash" validate:"required"`
}

func (h *Handler) LinkContract(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.check(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	loan, err := h.svc.LinkContractRequest(r.Context(), authWallet(r), pathID(r), req.ContractRequestRef, req.TransactionHash)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, loan)
}

type registrationRequest struct {
	TransactionHash string `json:"transaction_hash" validate:"required"`
}

// ConfirmRegistration records the caller's registerUser transaction
func (h *Handler) ConfirmRegistration(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.check(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.svc.ConfirmRegistration(r.Context(), authWallet(r), req.TransactionHash)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

type callRequest struct {
	Amount float64 `json:"amount" validate:"gt=0"`
}

type transactionRequest struct {
	Amount          float64 `json:"amount" validate:"gt=0"`
	TransactionHash string  `json:"transaction_hash" validate:"required"`
}

func (h *Handler) InvestmentCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.check(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	calls, err := h.svc.InvestmentCall(r.Context(), authWallet(r), pathID(r), req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

func (h *Handler) Invest(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.check(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	loan, err := h.svc.InvestInLoan(r.Context(), authWallet(r), pathID(r), req.Amount, req.TransactionHash)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, loan)
}

func (h *Handler) RepaymentCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.check(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	call, err := h.svc.RepaymentCall(r.Context(), authWallet(r), pathID(r), req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, call)
}

func (h *Handler) Repay(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.check(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	loan, err := h.svc.RepayLoan(r.Context(), authWallet(r), pathID(r), req.Amount, req.TransactionHash)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, loan)
}

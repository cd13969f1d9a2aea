package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/chronofi/chronolend/internal/fixedpoint"
	"github.com/chronofi/chronolend/internal/tokens"
	"github.com/chronofi/chronolend/internal/validation"
)

// Handler provides HTTP endpoints for loan operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new loan handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the loan routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/loans", h.IssueLoan)
	r.POST("/loans/:id/repay", h.RepayLoan)
	r.GET("/loans/:id", h.GetLoan)
	r.GET("/borrowers/:address/loans", h.ListLoans)
	r.GET("/borrowers/:address/terms", h.PreviewTerms)
	r.GET("/borrowers/:address/rates/compare", h.CompareRates)
	r.GET("/borrowers/:address/optimal-hours", h.OptimalHours)
	r.GET("/borrowers/:address/totals", h.BorrowerTotals)
	r.GET("/events", h.ListEvents)
}

// RegisterAdminRoutes sets up admin-only loan routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/loans/:id/forfeit", h.ForfeitLoan)
	// :account, not :address — deposits also fund the reserved protocol
	// and escrow accounts, which are not hex addresses.
	r.POST("/accounts/:account/deposit", h.Deposit)
	r.POST("/forfeit-sweep", h.ForfeitSweep)
}

type issueLoanRequest struct {
	Borrower        string    `json:"borrower" binding:"required"`
	Token           string    `json:"token" binding:"required"`
	Amount          string    `json:"amount" binding:"required"`
	Collateral      string    `json:"collateral" binding:"required"`
	ActivityPattern []float64 `json:"activityPattern"`
}

// IssueLoan handles POST /v1/loans
func (h *Handler) IssueLoan(c *gin.Context) {
	var req issueLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Borrower, token, amount, and collateral are required",
		})
		return
	}

	if !common.IsHexAddress(req.Borrower) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "Borrower must be a hex address",
		})
		return
	}

	tokenType, err := tokens.ParseType(req.Token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_token", "message": err.Error()})
		return
	}

	if !validation.IsValidAmount(req.Amount) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "Amount must be a positive decimal"})
		return
	}
	amount, ok := fixedpoint.Parse(req.Amount)
	if !ok || amount.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "Amount must be a positive decimal"})
		return
	}
	collateralAmt, ok := fixedpoint.Parse(req.Collateral)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "Collateral must be a decimal"})
		return
	}

	issue := IssueRequest{
		Borrower:   validation.SanitizeAddress(req.Borrower),
		TokenType:  tokenType,
		Amount:     amount,
		Collateral: collateralAmt,
	}
	if len(req.ActivityPattern) == 24 {
		var pattern [24]float64
		copy(pattern[:], req.ActivityPattern)
		issue.Pattern = &pattern
	}

	loan, err := h.service.Issue(c.Request.Context(), issue)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrInsufficientCollateral):
			status = http.StatusUnprocessableEntity
			code = "insufficient_collateral"
		case errors.Is(err, ErrInsufficientFunds):
			status = http.StatusUnprocessableEntity
			code = "insufficient_funds"
		case errors.Is(err, ErrInvalidAmount):
			status = http.StatusBadRequest
			code = "invalid_amount"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"loan": loan})
}

type repayLoanRequest struct {
	Borrower string `json:"borrower" binding:"required"`
}

// RepayLoan handles POST /v1/loans/:id/repay
func (h *Handler) RepayLoan(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id", "message": "Loan ID must be an integer"})
		return
	}

	var req repayLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Borrower is required",
		})
		return
	}

	loan, err := h.service.Repay(c.Request.Context(), id, req.Borrower)
	if err != nil {
		var insufficient *InsufficientBalanceError
		if errors.As(err, &insufficient) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":     "insufficient_balance",
				"message":   insufficient.Error(),
				"token":     insufficient.TokenType.String(),
				"required":  fixedpoint.Format(insufficient.Required),
				"available": fixedpoint.Format(insufficient.Available),
				"shortage":  fixedpoint.Format(insufficient.Shortage()),
			})
			return
		}

		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrLoanNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, ErrLoanNotActive):
			status = http.StatusConflict
			code = "not_active"
		case errors.Is(err, ErrUnauthorized):
			status = http.StatusForbidden
			code = "unauthorized"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"loan": loan})
}

// GetLoan handles GET /v1/loans/:id
func (h *Handler) GetLoan(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id", "message": "Loan ID must be an integer"})
		return
	}

	loan, err := h.service.GetLoan(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrLoanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No loan with this ID"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"loan": loan})
}

// ListLoans handles GET /v1/borrowers/:address/loans
func (h *Handler) ListLoans(c *gin.Context) {
	address := c.Param("address")
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	loans, next, err := h.service.ListByBorrower(c.Request.Context(), address, c.Query("cursor"), limit)
	if err != nil {
		if errors.Is(err, ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "Cursor is not a valid page token"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	resp := gin.H{"loans": loans, "count": len(loans)}
	if next != "" {
		resp["next_cursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// PreviewTerms handles GET /v1/borrowers/:address/terms?token=ETH&amount=0.20
func (h *Handler) PreviewTerms(c *gin.Context) {
	address := c.Param("address")

	tokenType, err := tokens.ParseType(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_token", "message": err.Error()})
		return
	}
	amount, ok := fixedpoint.Parse(c.Query("amount"))
	if !ok || amount.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "Amount must be a positive decimal"})
		return
	}

	terms, err := h.service.PreviewTerms(c.Request.Context(), address, tokenType, amount)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"terms": terms})
}

// CompareRates handles GET /v1/borrowers/:address/rates/compare?token=ETH&hour=3
func (h *Handler) CompareRates(c *gin.Context) {
	address := c.Param("address")

	tokenType, err := tokens.ParseType(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_token", "message": err.Error()})
		return
	}

	hour, err := strconv.Atoi(c.Query("hour"))
	if err != nil || hour < 0 || hour > 23 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_hour", "message": "Hour must be in [0,23]"})
		return
	}

	cmp, err := h.service.CompareRates(c.Request.Context(), address, tokenType, hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"comparison": cmp})
}

// OptimalHours handles GET /v1/borrowers/:address/optimal-hours?token=ETH
func (h *Handler) OptimalHours(c *gin.Context) {
	address := c.Param("address")

	tokenType, err := tokens.ParseType(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_token", "message": err.Error()})
		return
	}

	hours, err := h.service.OptimalHours(c.Request.Context(), address, tokenType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"optimalHours": hours})
}

// BorrowerTotals handles GET /v1/borrowers/:address/totals
func (h *Handler) BorrowerTotals(c *gin.Context) {
	totals, err := h.service.BorrowerTotals(c.Request.Context(), c.Param("address"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"totals": totals})
}

// ListEvents handles GET /v1/events
func (h *Handler) ListEvents(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events, err := h.service.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// ForfeitLoan handles POST /v1/admin/loans/:id/forfeit
func (h *Handler) ForfeitLoan(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id", "message": "Loan ID must be an integer"})
		return
	}

	loan, err := h.service.Forfeit(c.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrLoanNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, ErrLoanNotActive):
			status = http.StatusConflict
			code = "not_active"
		case errors.Is(err, ErrForfeitureNotEligible):
			status = http.StatusUnprocessableEntity
			code = "not_eligible"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"loan": loan})
}

type depositRequest struct {
	Asset  string `json:"asset" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// Deposit handles POST /v1/admin/accounts/:account/deposit
func (h *Handler) Deposit(c *gin.Context) {
	address := c.Param("account")

	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Asset and amount are required",
		})
		return
	}

	if !validation.IsValidAmount(req.Amount) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "Amount must be a positive decimal"})
		return
	}
	amount, ok := fixedpoint.Parse(req.Amount)
	if !ok || amount.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "Amount must be a positive decimal"})
		return
	}

	if err := h.service.Deposit(c.Request.Context(), address, req.Asset, amount); err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		if errors.Is(err, tokens.ErrUnknownToken) {
			status = http.StatusBadRequest
			code = "invalid_asset"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	balance, err := h.service.VaultBalance(c.Request.Context(), address, req.Asset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account": address,
		"asset":   req.Asset,
		"balance": fixedpoint.Format(balance),
	})
}

// ForfeitSweep handles POST /v1/admin/forfeit-sweep
func (h *Handler) ForfeitSweep(c *gin.Context) {
	count, err := h.service.SweepForfeitures(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"forfeited": count,
		"message":   "forfeiture sweep completed",
	})
}

package profile

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/chronofi/chronolend/internal/chronotype"
)

// Handler provides HTTP endpoints for circadian profile reads.
type Handler struct {
	service *Service
}

// NewHandler creates a new profile handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) profile routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/borrowers/:address/insights", h.GetInsights)
}

// RegisterAdminRoutes sets up admin-only profile routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/borrowers/:address/chronotype", h.SetChronotype)
}

// GetInsights handles GET /v1/borrowers/:address/insights
func (h *Handler) GetInsights(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "Borrower must be a hex address",
		})
		return
	}

	prof, err := h.service.Get(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	minSessions := h.service.MinSessionsForML()
	c.JSON(http.StatusOK, gin.H{
		"profile":              prof,
		"preferred_hours":      prof.TopHours(5),
		"effective_chronotype": prof.EffectiveChronotype(minSessions).String(),
		"ml_eligible":          prof.MLEligible(minSessions),
		"sessions_until_ml":    max(0, minSessions-prof.TotalBorrowSessions),
	})
}

// SetChronotype handles POST /v1/admin/borrowers/:address/chronotype
func (h *Handler) SetChronotype(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "Borrower must be a hex address",
		})
		return
	}

	var req struct {
		Chronotype    string `json:"chronotype" binding:"required"`
		ConfidenceBps uint64 `json:"confidence_bps"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Chronotype is required",
		})
		return
	}

	ct, err := chronotype.Parse(req.Chronotype)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_chronotype",
			"message": err.Error(),
		})
		return
	}

	prof, err := h.service.SetChronotype(c.Request.Context(), address, ct, req.ConfidenceBps)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"profile": prof})
}

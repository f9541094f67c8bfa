package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/presale"
	"presale-ledger/internal/sale"
)

// Handler serves the sale endpoints.
type Handler struct {
	svc *sale.Service
}

// NewHandler creates a Handler backed by svc.
func NewHandler(svc *sale.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the public routes on router and the authority
// routes on admin.
func (h *Handler) RegisterRoutes(router, admin *gin.RouterGroup) {
	sales := router.Group("/sales")
	{
		sales.GET("", h.ListSales)
		sales.GET("/:id", h.GetSale)
		sales.GET("/:id/events", h.ListEvents)
		sales.GET("/:id/contributors", h.ListContributors)
		sales.GET("/:id/contributors/:pubkey", h.GetContributor)
		sales.POST("/:id/contributions", h.Contribute)
		sales.POST("/:id/claims", h.Claim)
		sales.POST("/:id/refunds", h.Refund)
	}

	adminSales := admin.Group("/sales")
	{
		adminSales.POST("", h.CreateSale)
		adminSales.POST("/:id/pause", h.Pause)
		adminSales.POST("/:id/unpause", h.Unpause)
		adminSales.POST("/:id/finalize", h.Finalize)
		adminSales.POST("/:id/phase", h.SetPhase)
		adminSales.POST("/:id/withdraw", h.Withdraw)
		adminSales.POST("/:id/vesting", h.InitializeVesting)
	}
}

func (h *Handler) ListSales(c *gin.Context) {
	sales, err := h.svc.Sales(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]*sale.Status, len(sales))
	for i, s := range sales {
		out[i] = sale.NewStatus(s)
	}
	c.JSON(http.StatusOK, gin.H{"sales": out})
}

func (h *Handler) GetSale(c *gin.Context) {
	status, err := h.svc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) ListEvents(c *gin.Context) {
	events, err := h.svc.Events(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) ListContributors(c *gin.Context) {
	records, err := h.svc.Contributors(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]ContributorResponse, len(records))
	for i, rec := range records {
		out[i] = newContributorResponse(rec)
	}
	c.JSON(http.StatusOK, gin.H{"contributors": out})
}

func (h *Handler) GetContributor(c *gin.Context) {
	pk, err := domain.ParsePublicKey(c.Param("pubkey"))
	if err != nil {
		badRequest(c, err)
		return
	}
	view, err := h.svc.Contributor(c.Request.Context(), c.Param("id"), pk)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newContributorView(view))
}

func (h *Handler) Contribute(c *gin.Context) {
	var body ContributeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	req, err := body.toService(c.Param("id"))
	if err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.Contribute(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newContributeResponse(res))
}

func bindContributor(c *gin.Context) (domain.PublicKey, bool) {
	var body ContributorRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return domain.PublicKey{}, false
	}
	if body.Contributor.IsZero() {
		badRequest(c, fmt.Errorf("contributor is required"))
		return domain.PublicKey{}, false
	}
	return body.Contributor, true
}

func (h *Handler) Claim(c *gin.Context) {
	pk, ok := bindContributor(c)
	if !ok {
		return
	}
	res, err := h.svc.Claim(c.Request.Context(), c.Param("id"), pk)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ClaimResponse{Amount: res.Amount, Claimed: res.Claimed, Remaining: res.Remaining})
}

func (h *Handler) Refund(c *gin.Context) {
	pk, ok := bindContributor(c)
	if !ok {
		return
	}
	res, err := h.svc.Refund(c.Request.Context(), c.Param("id"), pk)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRefundResponse(res))
}

func (h *Handler) CreateSale(c *gin.Context) {
	var body CreateSaleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	cfg, err := body.Config()
	if err != nil {
		writeError(c, err)
		return
	}
	// only the authority named in the config may create it
	if cfg.Authority != callerFrom(c) {
		writeError(c, presale.ErrUnauthorized)
		return
	}
	created, err := h.svc.CreateSale(c.Request.Context(), cfg)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sale.NewStatus(created))
}

func (h *Handler) Pause(c *gin.Context) {
	if err := h.svc.Pause(c.Request.Context(), c.Param("id"), callerFrom(c)); err != nil {
		writeError(c, err)
		return
	}
	h.GetSale(c)
}

func (h *Handler) Unpause(c *gin.Context) {
	if err := h.svc.Unpause(c.Request.Context(), c.Param("id"), callerFrom(c)); err != nil {
		writeError(c, err)
		return
	}
	h.GetSale(c)
}

func (h *Handler) Finalize(c *gin.Context) {
	status, err := h.svc.Finalize(c.Request.Context(), c.Param("id"), callerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, FinalizeResponse{Status: status})
}

func (h *Handler) SetPhase(c *gin.Context) {
	var body PhaseRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if !body.Phase.IsValid() {
		badRequest(c, fmt.Errorf("unknown phase %q", body.Phase))
		return
	}
	if err := h.svc.SetPhase(c.Request.Context(), c.Param("id"), callerFrom(c), body.Phase); err != nil {
		writeError(c, err)
		return
	}
	h.GetSale(c)
}

func (h *Handler) Withdraw(c *gin.Context) {
	results, err := h.svc.Withdraw(c.Request.Context(), c.Param("id"), callerFrom(c))
	if err != nil {
		if len(results) > 0 {
			loggerFrom(c).WithField("swept", len(results)).Warn("Withdraw stopped part way")
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sweeps": newSweepResponses(results)})
}

func (h *Handler) InitializeVesting(c *gin.Context) {
	var body VestingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if body.Contributor.IsZero() {
		badRequest(c, fmt.Errorf("contributor is required"))
		return
	}
	rec, err := h.svc.InitializeVesting(c.Request.Context(), c.Param("id"), callerFrom(c), body.Contributor, body.params())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newContributorResponse(rec))
}

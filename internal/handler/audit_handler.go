package handler

import (
	"net/http"

	"agentex/internal/middleware"
	"agentex/internal/service"
	"agentex/pkg/pagination"
	"agentex/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
	authz        service.AuthzService
	authn        *middleware.Authenticator
}

func NewAuditHandler(auditService service.AuditService, authz service.AuthzService, authn *middleware.Authenticator) *AuditHandler {
	return &AuditHandler{auditService: auditService, authz: authz, authn: authn}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/audit-logs", h.authn.Authenticate())
	group.Use(middleware.RequirePermission(h.authz, "audit:read"))
	{
		group.GET("", h.GetAuditLogs)
	}
}

// GetAuditLogs retrieves strictly paginated records with Users pre-loaded joining details
// @Summary      Get audit logs
// @Description  Retrieves list of audit logs securely mapping User interaction history
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Number of items per page (default 20)"
// @Success      200    {object}  response.Response{data=pagination.Paged}
// @Router       /audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	p := pagination.Parse(c)

	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), p.Page, p.Limit)
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, pagination.NewPaged(logs, total, p)))
}

package deficiencies

import (
	"net/http"
	"strconv"

	"LERS-backend/internal/platform/apierr"
	"LERS-backend/internal/platform/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	svc *Service
	log *zap.Logger
}

func RegisterRoutes(r gin.IRoutes, svc *Service, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{svc: svc, log: log}

	r.POST("/borrows/:borrow_id/deficiencies", h.Log)
	r.GET("/borrows/:borrow_id/deficiencies", h.ListByBorrow)
	r.GET("/deficiencies", h.List)
	r.PATCH("/deficiencies/:deficiency_id", h.Update)
}

// Log godoc
// @Summary  Record a deficiency against a borrow
// @Tags     deficiencies
// @Accept   json
// @Produce  json
// @Param    borrow_id path string true "borrow id"
// @Param    body body LogRequest true "deficiency"
// @Success  201 {object} DeficiencyResponse
// @Router   /borrows/{borrow_id}/deficiencies [post]
func (h *Handler) Log(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, apierr.Body(apierr.CodeUnauthorized, "authentication required"))
		return
	}
	var req LogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.LogDeficiency(c.Request.Context(), actor, c.Param("borrow_id"), req)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.Header("Location", "/deficiencies/"+res.DeficiencyID)
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListByBorrow(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, apierr.Body(apierr.CodeUnauthorized, "authentication required"))
		return
	}
	res, err := h.svc.ListByBorrow(c.Request.Context(), actor, c.Param("borrow_id"))
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": res})
}

func (h *Handler) List(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, apierr.Body(apierr.CodeUnauthorized, "authentication required"))
		return
	}
	f := Filter{}
	if v := c.Query("status"); v != "" {
		st := Status(v)
		f.Status = &st
	}
	if v := c.Query("type"); v != "" {
		t := Type(v)
		f.Type = &t
	}
	if v := c.Query("user_id"); v != "" {
		f.UserID = &v
	}
	p := Page{
		Limit:  parseIntDefault(c.Query("limit"), 50),
		Offset: parseIntDefault(c.Query("offset"), 0),
	}
	res, err := h.svc.List(c.Request.Context(), actor, f, p)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Update(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, apierr.Body(apierr.CodeUnauthorized, "authentication required"))
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.UpdateDeficiency(c.Request.Context(), actor, c.Param("deficiency_id"), req)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

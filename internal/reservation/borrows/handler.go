package borrows

import (
	"context"
	"net/http"
	"strconv"
	"time"

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

	// 申請・参照
	r.POST("/borrows", h.Submit)
	r.GET("/borrows/pending-returns", h.ListPendingReturns)
	r.GET("/borrows/:borrow_id", h.Get)

	// 状態遷移
	r.POST("/borrows/bulk-approve", h.BulkApprove)
	r.POST("/borrows/:borrow_id/return-request", h.RequestReturn)
	r.POST("/borrows/:borrow_id/approve", h.Approve)
	r.POST("/borrows/:borrow_id/reject", h.simple(svc.Reject))
	r.POST("/borrows/:borrow_id/cancel", h.simple(svc.Cancel))
	r.POST("/borrows/:borrow_id/checkout", h.simple(svc.Checkout))
	r.POST("/borrows/:borrow_id/confirm-return", h.simple(svc.ConfirmReturn))
	r.POST("/borrows/:borrow_id/complete", h.simple(svc.Complete))

	// データ請求
	r.POST("/borrows/:borrow_id/data-files", h.AddDataFiles)
	r.DELETE("/data-requests/:request_id/files/:file_id", h.DeleteDataFile)

	// グループ
	r.GET("/borrow-groups/:group_id", h.FetchGroup)
	r.GET("/borrow-groups/:group_id/calendar.ics", h.GroupCalendar)
}

// ---------- handlers ----------

// Submit godoc
// @Summary  Submit a reservation request
// @Tags     borrows
// @Accept   json
// @Produce  json
// @Param    body body SubmitRequest true "reservation"
// @Success  201 {object} SubmitResponse
// @Router   /borrows [post]
func (h *Handler) Submit(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.Submit(c.Request.Context(), actor, req)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) Get(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	res, err := h.svc.Get(c.Request.Context(), actor, c.Param("borrow_id"))
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RequestReturn godoc
// @Summary  Borrower requests a return, optionally requesting generated data
// @Tags     borrows
// @Accept   json
// @Produce  json
// @Param    borrow_id path string true "borrow id"
// @Param    body body ReturnRequest true "return request"
// @Success  200 {object} BorrowResponse
// @Router   /borrows/{borrow_id}/return-request [post]
func (h *Handler) RequestReturn(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req ReturnRequest
	// 空ボディは「データ請求なし」として扱う
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json"))
			return
		}
	}
	res, err := h.svc.RequestReturn(c.Request.Context(), actor, c.Param("borrow_id"), req)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// BulkApprove godoc
// @Summary  Approve every PENDING borrow in the list; others are skipped
// @Tags     borrows
// @Accept   json
// @Produce  json
// @Param    body body BulkApproveRequest true "ids"
// @Success  200 {object} BulkApproveResponse
// @Router   /borrows/bulk-approve [post]
func (h *Handler) BulkApprove(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req BulkApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.BulkApprove(c.Request.Context(), actor, req)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Approve(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req ApproveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json"))
			return
		}
	}
	res, err := h.svc.Approve(c.Request.Context(), actor, c.Param("borrow_id"), req)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// simple はボディ無しの遷移エンドポイント用
func (h *Handler) simple(fn func(ctx context.Context, actor auth.Actor, id string) (BorrowResponse, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := h.actor(c)
		if !ok {
			return
		}
		res, err := fn(c.Request.Context(), actor, c.Param("borrow_id"))
		if err != nil {
			apierr.Respond(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (h *Handler) ListPendingReturns(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	p := Page{
		Limit:  parseIntDefault(c.Query("limit"), 50),
		Offset: parseIntDefault(c.Query("offset"), 0),
	}
	res, err := h.svc.ListPendingReturns(c.Request.Context(), actor, p)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) AddDataFiles(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req AddDataFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.AddDataFiles(c.Request.Context(), actor, c.Param("borrow_id"), req)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// DeleteDataFile godoc
// @Summary  Delete a data file (artifact first, then metadata)
// @Tags     data-requests
// @Produce  json
// @Param    request_id path string true "borrow id carrying the data request"
// @Param    file_id path string true "data file id"
// @Success  200 {object} BorrowResponse
// @Router   /data-requests/{request_id}/files/{file_id} [delete]
func (h *Handler) DeleteDataFile(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	res, err := h.svc.DeleteDataFile(c.Request.Context(), actor, c.Param("request_id"), c.Param("file_id"))
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// FetchGroup godoc
// @Summary  Borrows and participants of a borrow group
// @Tags     borrow-groups
// @Produce  json
// @Param    group_id path string true "group id"
// @Success  200 {object} GroupResponse
// @Router   /borrow-groups/{group_id} [get]
func (h *Handler) FetchGroup(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	res, err := h.svc.FetchGroup(c.Request.Context(), actor, c.Param("group_id"))
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /borrow-groups/:group_id/calendar.ics
func (h *Handler) GroupCalendar(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	res, err := h.svc.FetchGroup(c.Request.Context(), actor, c.Param("group_id"))
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+res.BorrowGroupID+`.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(GroupCalendar(res, time.Now().UTC())))
}

// ---------- helpers ----------

func (h *Handler) actor(c *gin.Context) (auth.Actor, bool) {
	a, ok := auth.ActorFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, apierr.Body(apierr.CodeUnauthorized, "authentication required"))
		return auth.Actor{}, false
	}
	return a, true
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

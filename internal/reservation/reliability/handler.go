package reliability

import (
	"bytes"
	"net/http"
	"strings"
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

	r.GET("/reports/mtbf", h.MTBF)
	r.GET("/reports/mttr", h.MTTR)
	r.GET("/reports/utilization", h.Utilization)
	r.GET("/reports/weekly-usage", h.WeeklyUsage)
	r.GET("/reports/dashboard", h.Dashboard)
}

func (h *Handler) actor(c *gin.Context) (auth.Actor, bool) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, apierr.Body(apierr.CodeUnauthorized, "authentication required"))
	}
	return actor, ok
}

// MTBF godoc
// @Summary  Mean time between mishandling incidents per user
// @Tags     reports
// @Produce  json
// @Param    format query string false "json | csv | xlsx"
// @Success  200 {array} UserMTBF
// @Router   /reports/mtbf [get]
func (h *Handler) MTBF(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	rows, err := h.svc.MTBF(c.Request.Context(), actor)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	h.render(c, rows, func() Table { return MTBFTable(rows) })
}

// MTTR godoc
// @Summary  Mean time to repair per equipment
// @Tags     reports
// @Produce  json
// @Param    format query string false "json | csv | xlsx"
// @Success  200 {array} EquipmentMTTR
// @Router   /reports/mttr [get]
func (h *Handler) MTTR(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	rows, err := h.svc.MTTR(c.Request.Context(), actor)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	h.render(c, rows, func() Table { return MTTRTable(rows) })
}

// Utilization godoc
// @Summary  Equipment ranked by total contact hours
// @Tags     reports
// @Produce  json
// @Param    start    query string false "RFC3339 or YYYY-MM-DD"
// @Param    end      query string false "RFC3339 or YYYY-MM-DD (inclusive)"
// @Param    format   query string false "json | csv | xlsx"
// @Param    encoding query string false "utf-8 | cp932 (csv only)"
// @Success  200 {array} Utilization
// @Router   /reports/utilization [get]
func (h *Handler) Utilization(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	start, end, err := h.svc.ParseRange(c.Query("start"), c.Query("end"))
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	rows, err := h.svc.Utilization(c.Request.Context(), actor, start, end)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	h.render(c, rows, func() Table { return UtilizationTable(rows) })
}

// GET /reports/weekly-usage
func (h *Handler) WeeklyUsage(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	days, err := h.svc.WeeklyUsage(c.Request.Context(), actor)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days})
}

// GET /reports/dashboard
func (h *Handler) Dashboard(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	d, err := h.svc.Dashboard(c.Request.Context(), actor)
	if err != nil {
		apierr.Respond(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// render は format クエリに応じて JSON / CSV / XLSX を返す
func (h *Handler) render(c *gin.Context, body any, table func() Table) {
	format := strings.ToLower(c.DefaultQuery("format", FormatJSON))
	switch format {
	case FormatJSON:
		c.JSON(http.StatusOK, body)
	case FormatCSV:
		t := table()
		enc := strings.ToLower(c.DefaultQuery("encoding", EncodingUTF8))
		charset := "utf-8"
		if enc == EncodingCP932 || enc == "shift_jis" || enc == "sjis" {
			charset = "shift_jis"
		}
		var buf bytes.Buffer
		if err := WriteCSV(&buf, t, enc); err != nil {
			apierr.Respond(c, h.log, err)
			return
		}
		c.Header("Content-Disposition", attachment(t.Sheet, "csv"))
		c.Data(http.StatusOK, "text/csv; charset="+charset, buf.Bytes())
	case FormatXLSX:
		t := table()
		var buf bytes.Buffer
		if err := WriteXLSX(&buf, t); err != nil {
			h.log.Error("xlsx export failed", zap.String("sheet", t.Sheet), zap.Error(err))
			apierr.Respond(c, h.log, apierr.ErrInternal("export failed"))
			return
		}
		c.Header("Content-Disposition", attachment(t.Sheet, "xlsx"))
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
	default:
		apierr.Respond(c, h.log, apierr.ErrInvalid("format must be json, csv or xlsx"))
	}
}

func attachment(name, ext string) string {
	return `attachment; filename="` + name + "_" + time.Now().Format("20060102") + "." + ext + `"`
}

package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	dashboard "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Dashboard"
	logger "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Logger"
)

const exportFilename = "iot_log.csv"

// ExportController streams the reading log as a CSV download
type ExportController struct {
	service *dashboard.Service
	logger  *logger.Logger
}

// NewExportController creates a new export controller
func NewExportController(service *dashboard.Service, logger *logger.Logger) *ExportController {
	return &ExportController{service: service, logger: logger}
}

// RegisterRoutes registers the export routes with Gin
func (c *ExportController) RegisterRoutes(router *gin.Engine) {
	router.GET("/export/"+exportFilename, c.ExportCSV)
}

func (c *ExportController) ExportCSV(ctx *gin.Context) {
	ctx.Header("Content-Type", "text/csv; charset=utf-8")
	ctx.Header("Content-Disposition", `attachment; filename="`+exportFilename+`"`)
	ctx.Status(http.StatusOK)

	rows, err := c.service.ExportCSV(ctx.Request.Context(), ctx.Writer)
	if err != nil {
		// Headers are already sent, so the client only sees a truncated file
		_ = ctx.Error(err)
		c.logger.Logger.Error().Err(err).Int("rows", rows).Msg("CSV export failed")
		return
	}
	c.logger.Logger.Debug().Int("rows", rows).Msg("CSV export complete")
}

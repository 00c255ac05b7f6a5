package controllers

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	dashboard "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Dashboard"
	logger "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Logger"
)

//go:embed templates/*.html
var templateFS embed.FS

// DashboardController serves the rendered dashboard as HTML and JSON
type DashboardController struct {
	service    *dashboard.Service
	logger     *logger.Logger
	database   string
	collection string
}

// NewDashboardController creates a new dashboard controller
func NewDashboardController(service *dashboard.Service, database, collection string, logger *logger.Logger) *DashboardController {
	return &DashboardController{
		service:    service,
		logger:     logger,
		database:   database,
		collection: collection,
	}
}

// Templates parses the embedded page templates
func Templates() *template.Template {
	funcs := template.FuncMap{
		"toJSON": func(v interface{}) template.JS {
			b, err := json.Marshal(v)
			if err != nil {
				return template.JS("null")
			}
			return template.JS(b)
		},
		"inc": func(i int) int { return i + 1 },
		"dec": func(i int) int { return i - 1 },
	}
	return template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))
}

// RegisterRoutes registers the dashboard routes with Gin
func (c *DashboardController) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(Templates())

	router.GET("/", c.Index)
	api := router.Group("/api")
	{
		api.GET("/dashboard", c.GetDashboard)
		api.GET("/readings", c.GetReadings)
	}
}

// Index runs one render pass. The Sync Database button simply requests it again.
func (c *DashboardController) Index(ctx *gin.Context) {
	page, limit := pageParams(ctx)
	view, err := c.service.Render(ctx.Request.Context(), page, limit)

	status := http.StatusOK
	if err != nil {
		_ = ctx.Error(err)
		status = http.StatusInternalServerError
	}
	ctx.HTML(status, "dashboard.html", gin.H{
		"View":       view,
		"Database":   c.database,
		"Collection": c.collection,
	})
}

func (c *DashboardController) GetDashboard(ctx *gin.Context) {
	page, limit := pageParams(ctx)
	view, err := c.service.Render(ctx.Request.Context(), page, limit)
	if err != nil {
		_ = ctx.Error(err)
		ctx.JSON(http.StatusInternalServerError, view)
		return
	}
	ctx.JSON(http.StatusOK, view)
}

func (c *DashboardController) GetReadings(ctx *gin.Context) {
	page, limit := pageParams(ctx)
	history, err := c.service.History(ctx.Request.Context(), page, limit)
	if err != nil {
		c.logger.ErrorWithError(err, "Failed to load readings")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, history)
}

// pageParams reads page and limit; missing or invalid values become 0 and
// the service applies its defaults
func pageParams(ctx *gin.Context) (int, int) {
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.Query("limit"))
	return page, limit
}

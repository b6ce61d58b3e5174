package routes

import (
	"context"
	"net/http"
	"strconv"

	"ai-tutor-platform/middleware"
	"ai-tutor-platform/models"
	"ai-tutor-platform/services"
	"ai-tutor-platform/utils"

	"github.com/gin-gonic/gin"
)

// IngestionEnqueuer hands an ingestion request to the background worker.
type IngestionEnqueuer interface {
	EnqueueIngestion(ctx context.Context, req services.IngestRequest) (string, error)
}

type pdfHandlers struct {
	deps         *services.PipelineDependencies
	ingestion    *services.IngestionPipeline
	retrieval    *services.RetrievalPipeline
	ingestionErr error
	retrievalErr error
	enqueuer     IngestionEnqueuer
}

// SetupPDFRoutes registers the ingestion and answering endpoints. Both
// pipelines are built here once; a pipeline that cannot be built answers
// every request with the configuration error that stopped it.
func SetupPDFRoutes(router *gin.Engine, deps *services.PipelineDependencies, enqueuer IngestionEnqueuer, guards ...gin.HandlerFunc) {
	h := &pdfHandlers{deps: deps, enqueuer: enqueuer}
	h.ingestion, h.ingestionErr = services.NewIngestionPipeline(deps)
	h.retrieval, h.retrievalErr = services.NewRetrievalPipeline(deps)

	api := router.Group("/api")
	api.Use(guards...)
	{
		api.POST("/process-pdf", h.processPDF)
		api.POST("/chat-with-pdf", h.chatWithPDF)
		api.GET("/pdfs/:id/status", h.status)
	}
}

func (h *pdfHandlers) processPDF(c *gin.Context) {
	if h.ingestionErr != nil {
		respondWithPipelineError(c, h.ingestionErr)
		return
	}

	var req models.ProcessPDFRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithBadRequest(c, "Invalid request body", gin.H{"error": err.Error()})
		return
	}
	in := services.IngestRequest{PDFID: req.PDFID, FileURL: req.FileURL, Title: req.Title}

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		h.enqueue(c, in)
		return
	}

	result, err := h.ingestion.Ingest(c.Request.Context(), in)
	if err != nil {
		respondWithPipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ProcessPDFResponse{
		Message: "PDF processed successfully",
		PDFID:   result.PDFID,
		Chunks:  result.Chunks,
		Pages:   result.Pages,
	})
}

func (h *pdfHandlers) enqueue(c *gin.Context, in services.IngestRequest) {
	if h.enqueuer == nil {
		utils.RespondWithServiceUnavailable(c, "Background processing is not available")
		return
	}
	if err := services.ValidateIngestRequest(in); err != nil {
		respondWithPipelineError(c, err)
		return
	}

	taskID, err := h.enqueuer.EnqueueIngestion(c.Request.Context(), in)
	if err != nil {
		middleware.RequestLogger(c).Error("failed to enqueue ingestion", "pdf_id", in.PDFID, "error", err)
		utils.RespondWithInternalError(c, "Failed to queue PDF for processing", nil)
		return
	}

	c.JSON(http.StatusAccepted, models.EnqueuePDFResponse{
		Message: "PDF queued for processing",
		PDFID:   in.PDFID,
		TaskID:  taskID,
	})
}

func (h *pdfHandlers) chatWithPDF(c *gin.Context) {
	if h.retrievalErr != nil {
		respondWithPipelineError(c, h.retrievalErr)
		return
	}

	var req models.ChatWithPDFRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithBadRequest(c, "Invalid request body", gin.H{"error": err.Error()})
		return
	}

	result, err := h.retrieval.Answer(c.Request.Context(), services.AnswerRequest{
		Question: req.Question,
		PDFID:    req.PDFID,
		PDFTitle: req.PDFTitle,
	})
	if err != nil {
		respondWithPipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ChatWithPDFResponse{
		Answer:  result.Answer,
		Sources: result.Sources,
	})
}

func (h *pdfHandlers) status(c *gin.Context) {
	if h.deps.StatusStore == nil {
		respondWithPipelineError(c, services.NewConfigurationError("status", []string{"MONGO_URI"}))
		return
	}

	ctx, cancel := utils.WithShortTimeout(c.Request.Context())
	defer cancel()

	doc, err := h.deps.StatusStore.Get(ctx, c.Param("id"))
	if err != nil {
		respondWithPipelineError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func respondWithPipelineError(c *gin.Context, err error) {
	pe := services.AsPipelineError(err)
	status := pe.HTTPStatus()
	if status >= http.StatusInternalServerError {
		middleware.RequestLogger(c).Error("request failed", "path", c.FullPath(), "kind", string(pe.Kind), "pdf_id", pe.DocumentID, "error", err)
	}

	var details interface{}
	if pe.Stage != "" {
		details = gin.H{"stage": pe.Stage}
	}
	utils.RespondWithError(c, status, string(pe.Kind), pe.Message(), details)
}

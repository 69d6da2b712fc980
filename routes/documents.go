package routes

import (
	"fmt"
	"net/http"
	"strconv"

	"rag-knowledge-platform/middleware"
	"rag-knowledge-platform/models"
	"rag-knowledge-platform/services"
	"rag-knowledge-platform/utils"

	"github.com/gin-gonic/gin"
)

// multipart framing on top of the file itself
const uploadOverheadBytes = 1 << 20

func SetupDocumentRoutes(api *gin.RouterGroup, d Deps) {
	docs := api.Group("/documents")
	docs.GET("", handleListDocuments(d))
	docs.GET("/:id/job", handleLatestJob(d))

	admin := docs.Group("")
	admin.Use(middleware.AdminGuard())
	admin.POST("/upload",
		middleware.RequestSizeLimit(d.Config.MaxFileSize+uploadOverheadBytes),
		middleware.Audit(d.auditor(), models.AuditDocUpload),
		handleUpload(d))
	admin.POST("/:id/reindex", middleware.Audit(d.auditor(), models.AuditDocReindex), handleReindex(d))
	admin.DELETE("/:id", middleware.Audit(d.auditor(), models.AuditDocDelete), handleDelete(d))

	api.GET("/jobs/:id", handleGetJob(d))
}

func handleListDocuments(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		views, err := d.Ingestion.ListDocuments(ctx)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": views})
	}
}

func handleUpload(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		header, err := c.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, "Multipart field \"file\" is required", gin.H{"error": err.Error()})
			return
		}
		if header.Size > d.Config.MaxFileSize {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "file_too_large",
				fmt.Sprintf("File exceeds %d MB", d.Config.MaxFileSize/(1024*1024)), nil)
			return
		}
		if _, err := services.InferSourceType(header.Filename); err != nil {
			respondServiceError(c, err)
			return
		}

		file, err := header.Open()
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to read upload", nil)
			return
		}
		defer file.Close()

		// the upload must survive a client that disconnects after sending
		ctx, cancel := utils.WithLongTimeout(utils.Detached(c.Request.Context()))
		defer cancel()

		doc, job, err := d.Ingestion.Upload(ctx, services.UploadInput{
			Filename:    header.Filename,
			Title:       c.PostForm("title"),
			Size:        header.Size,
			ContentType: header.Header.Get("Content-Type"),
			Body:        file,
			UploadedBy:  middleware.GetUserID(c),
		})
		if err != nil {
			respondServiceError(c, err)
			return
		}

		middleware.SetAuditResource(c, doc.ID, map[string]string{
			"filename": header.Filename,
			"size":     strconv.FormatInt(header.Size, 10),
		})
		c.JSON(http.StatusAccepted, gin.H{"document": doc, "job": job})
	}
}

func handleReindex(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := d.Ingestion.Enqueue(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondServiceError(c, err)
			return
		}
		middleware.SetAuditResource(c, job.DocumentID, map[string]string{"job_id": job.ID})
		c.JSON(http.StatusAccepted, gin.H{"job": job})
	}
}

func handleDelete(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := d.Ingestion.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true, "id": c.Param("id")})
	}
}

func handleLatestJob(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		job, err := d.Ingestion.LatestJob(ctx, c.Param("id"))
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

func handleGetJob(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		job, err := d.Ingestion.Job(ctx, c.Param("id"))
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

package routes

import (
	"net/http"

	"rag-knowledge-platform/internal/ai"
	"rag-knowledge-platform/internal/vectorstore"
	"rag-knowledge-platform/models"
	"rag-knowledge-platform/services"
	"rag-knowledge-platform/utils"

	"github.com/gin-gonic/gin"
)

var serviceErrors = []utils.ErrorMapping{
	{Err: ai.ErrPolicyViolation, Status: http.StatusBadRequest, Code: "policy_violation"},
	{Err: services.ErrUnsupportedFormat, Status: http.StatusBadRequest, Code: "unsupported_format"},
	{Err: models.ErrInvalidRemoteSettings, Status: http.StatusBadRequest, Code: "invalid_remote_settings"},
	{Err: services.ErrInvalidInput, Status: http.StatusBadRequest, Code: "invalid_input"},
	{Err: services.ErrNotFound, Status: http.StatusNotFound, Code: "not_found"},
	{Err: services.ErrConflict, Status: http.StatusConflict, Code: "conflict"},
	{Err: ai.ErrEmbeddingProvider, Status: http.StatusBadGateway, Code: "embedding_provider_error"},
	{Err: ai.ErrGenerationProvider, Status: http.StatusBadGateway, Code: "generation_provider_error"},
	{Err: vectorstore.ErrVectorStore, Status: http.StatusBadGateway, Code: "vector_store_error"},
}

func respondServiceError(c *gin.Context, err error) {
	utils.RespondWithMappedError(c, err, serviceErrors)
}

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pcbrecon-backend/internal/apperr"
	"pcbrecon-backend/internal/logger"
	"pcbrecon-backend/internal/models"
)

// respondError maps the error taxonomy onto HTTP statuses and writes the
// standard error body.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	var (
		validation *apperr.ValidationError
		upstream   *apperr.UpstreamError
		network    *apperr.NetworkError
		tooLarge   *http.MaxBytesError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation failed",
			Message: validation.Message,
			Code:    apperr.CodeValidationFailed,
		})
	case errors.As(err, &tooLarge):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation failed",
			Message: "request body is too large",
			Code:    apperr.CodeValidationFailed,
		})
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not found",
			Message: err.Error(),
			Code:    apperr.CodeNotFound,
		})
	case errors.Is(err, apperr.ErrBusy):
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "turn in flight",
			Message: err.Error(),
			Code:    apperr.CodeTurnInFlight,
		})
	case errors.As(err, &upstream):
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Error:   "upstream error",
			Message: upstream.Error(),
			Code:    apperr.CodeUpstreamError,
		})
	case errors.As(err, &network):
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Error:   "network error",
			Message: unreachable(network.Service),
			Code:    apperr.CodeNetworkError,
		})
	default:
		_ = c.Error(err)
		log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "internal error",
			Message: "an unexpected error occurred",
			Code:    apperr.CodeInternalError,
		})
	}
}

func unreachable(service string) string {
	if service == "" {
		return "a backing service could not be reached"
	}
	return fmt.Sprintf("the %s service could not be reached", service)
}

func projectIDParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("project_id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("project_id", "invalid project id")
	}
	return id, nil
}

func badBody(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return apperr.Validation("body", "invalid request body: "+err.Error())
}

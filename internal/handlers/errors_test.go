package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pcbrecon-backend/internal/apperr"
	"pcbrecon-backend/internal/logger"
	"pcbrecon-backend/internal/models"
)

func errorResponseFor(t *testing.T, err error) (int, models.ErrorResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/projects/1/chat", nil)

	respondError(c, logger.Nop(), err)

	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestRespondError_NetworkNamesService(t *testing.T) {
	tests := []struct {
		service string
		message string
	}{
		{"gemini", "the gemini service could not be reached"},
		{"redis", "the redis service could not be reached"},
		{"", "a backing service could not be reached"},
	}
	for _, tt := range tests {
		code, body := errorResponseFor(t, &apperr.NetworkError{Service: tt.service, Err: errors.New("connection refused")})
		assert.Equal(t, http.StatusBadGateway, code)
		assert.Equal(t, apperr.CodeNetworkError, body.Code)
		assert.Equal(t, tt.message, body.Message)
	}
}

func TestRespondError_Mapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.Validation("name", "Please enter a project name"), http.StatusBadRequest, apperr.CodeValidationFailed},
		{apperr.NotFound("project", 9), http.StatusNotFound, apperr.CodeNotFound},
		{apperr.ErrBusy, http.StatusConflict, apperr.CodeTurnInFlight},
		{&apperr.UpstreamError{Service: "gemini", Message: "quota"}, http.StatusBadGateway, apperr.CodeUpstreamError},
		{context.Canceled, http.StatusInternalServerError, apperr.CodeInternalError},
	}
	for _, tt := range tests {
		code, body := errorResponseFor(t, tt.err)
		assert.Equal(t, tt.status, code, tt.err.Error())
		assert.Equal(t, tt.code, body.Code, tt.err.Error())
	}
}

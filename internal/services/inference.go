package services

import (
	"context"
	"errors"
	"time"

	"pcbrecon-backend/internal/apperr"
	"pcbrecon-backend/internal/gemini"
	"pcbrecon-backend/internal/imagedata"
	"pcbrecon-backend/internal/metrics"
	"pcbrecon-backend/internal/models"
)

// InferenceClient is satisfied by *gemini.Client.
type InferenceClient interface {
	GenerateContent(ctx context.Context, model string, req *gemini.GenerateRequest) (string, error)
}

// ImageArchive is satisfied by *supabase.StorageClient.
type ImageArchive interface {
	UploadImage(ctx context.Context, projectID int64, ext, contentType string, data []byte) (string, error)
	DeleteProjectImages(ctx context.Context, projectID int64) error
}

const (
	operationAnalysis = "analysis"
	operationAssess   = "assessment"
	operationChat     = "chat"
)

func recordInference(operation string, start time.Time, err error) {
	metrics.InferenceDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	metrics.InferenceCallsTotal.WithLabelValues(operation, outcome(err)).Inc()
}

func outcome(err error) string {
	var upstream *apperr.UpstreamError
	var network *apperr.NetworkError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &upstream):
		return "upstream_error"
	case errors.As(err, &network):
		return "network_error"
	default:
		return "error"
	}
}

// detach keeps ctx's values but drops its cancellation, bounding the result
// by timeout instead. An issued inference call is never abandoned because the
// caller went away.
func detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func imagePart(p *models.Project) (gemini.Part, error) {
	img, err := imagedata.Load(p.ImageBase64)
	if err != nil {
		return gemini.Part{}, err
	}
	return gemini.InlinePart(img.MIMEType, img.Base64()), nil
}

func emptyReply(operation string) error {
	return &apperr.UpstreamError{Service: "gemini", Message: operation + " response was empty"}
}

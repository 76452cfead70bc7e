package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pcbrecon-backend/internal/apperr"
	"pcbrecon-backend/internal/config"
	"pcbrecon-backend/internal/database"
	"pcbrecon-backend/internal/gemini"
	"pcbrecon-backend/internal/imagedata"
	"pcbrecon-backend/internal/logger"
	"pcbrecon-backend/internal/metrics"
	"pcbrecon-backend/internal/models"
)

type ProjectServiceConfig struct {
	AnalysisModel    string
	AnalysisMode     string
	MaxImageBytes    int64
	MaxImagePixels   int64
	InferenceTimeout time.Duration
}

// ProjectService owns project creation, analysis, listing and deletion.
type ProjectService struct {
	store     database.Store
	inference InferenceClient
	archive   ImageArchive
	cfg       ProjectServiceConfig
	log       *logger.Logger

	background sync.WaitGroup
}

// NewProjectService builds the service. archive may be nil.
func NewProjectService(store database.Store, inference InferenceClient, archive ImageArchive, cfg ProjectServiceConfig, log *logger.Logger) *ProjectService {
	if cfg.AnalysisMode == "" {
		cfg.AnalysisMode = config.AnalysisModeSync
	}
	return &ProjectService{
		store:     store,
		inference: inference,
		archive:   archive,
		cfg:       cfg,
		log:       log.With("service", "ProjectService"),
	}
}

// CreateProject validates the upload, persists the project and runs the
// initial analysis. Analysis failures never fail creation: the project is
// returned with a null analysis.
func (s *ProjectService) CreateProject(ctx context.Context, req models.CreateProjectRequest) (*models.Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("name", "Please enter a project name")
	}
	img, err := imagedata.Parse(req.ImageBase64, imagedata.Limits{
		MaxBytes:  s.cfg.MaxImageBytes,
		MaxPixels: s.cfg.MaxImagePixels,
	})
	if err != nil {
		return nil, err
	}

	imagePath := strings.TrimSpace(req.ImagePath)
	if imagePath == "" {
		imagePath = "image" + img.Extension()
	}

	project := &models.Project{
		Name:        name,
		ImagePath:   imagePath,
		ImageBase64: img.DataURL(),
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	metrics.ProjectsCreatedTotal.Inc()
	s.log.Info("project created",
		"project_id", project.ID,
		"mime_type", img.MIMEType,
		"width", img.Width,
		"height", img.Height,
	)

	if s.archive != nil {
		s.goBackground(ctx, func(bg context.Context) {
			s.archiveImage(bg, project.ID, img)
		})
	}

	if s.cfg.AnalysisMode == config.AnalysisModeAsync {
		s.goBackground(ctx, func(bg context.Context) {
			if _, err := s.analyze(bg, project); err != nil {
				s.log.Warn("background analysis failed", "project_id", project.ID, "error", err)
			}
		})
		return project, nil
	}

	analyzed, err := s.analyze(ctx, project)
	if err != nil {
		s.log.Warn("initial analysis failed", "project_id", project.ID, "error", err)
		return project, nil
	}
	return analyzed, nil
}

// Analyze re-runs the analysis for an existing project and stores the result,
// replacing any previous one.
func (s *ProjectService) Analyze(ctx context.Context, id int64) (*models.Project, error) {
	project, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.analyze(ctx, project)
}

func (s *ProjectService) analyze(ctx context.Context, project *models.Project) (*models.Project, error) {
	image, err := imagePart(project)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := detach(ctx, s.cfg.InferenceTimeout)
	defer cancel()

	text, err := s.generate(callCtx, operationAnalysis, buildAnalysisRequest(image))
	if err != nil {
		return nil, err
	}
	return s.store.SetAnalysis(callCtx, project.ID, text)
}

// Assess identifies the board's components, then derives the main
// microcontroller and a security assessment from that list. The two
// follow-up calls run concurrently. The report is returned, not stored.
func (s *ProjectService) Assess(ctx context.Context, id int64) (*models.Assessment, error) {
	project, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	image, err := imagePart(project)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := detach(ctx, 2*s.cfg.InferenceTimeout)
	defer cancel()

	components, err := s.generate(callCtx, operationAssess, buildComponentsRequest(image))
	if err != nil {
		return nil, err
	}

	var microcontroller, security string
	var g errgroup.Group
	g.Go(func() error {
		var err error
		microcontroller, err = s.generate(callCtx, operationAssess, buildTextRequest(microcontrollerPrompt, components))
		return err
	})
	g.Go(func() error {
		var err error
		security, err = s.generate(callCtx, operationAssess, buildTextRequest(securityPrompt, components))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.log.Info("assessment generated", "project_id", project.ID)
	return &models.Assessment{
		ProjectID:        project.ID,
		Components:       components,
		Microcontroller:  microcontroller,
		SecurityAnalysis: security,
		Report:           renderReport(project.Name, components, microcontroller, security),
		GeneratedAt:      time.Now().UTC(),
	}, nil
}

// generate issues one call against the analysis model and returns the
// trimmed text. Empty text is an upstream failure.
func (s *ProjectService) generate(ctx context.Context, operation string, req *gemini.GenerateRequest) (string, error) {
	start := time.Now()
	text, err := s.inference.GenerateContent(ctx, s.cfg.AnalysisModel, req)
	text = strings.TrimSpace(text)
	if err == nil && text == "" {
		err = emptyReply(operation)
	}
	recordInference(operation, start, err)
	if err != nil {
		return "", err
	}
	return text, nil
}

func (s *ProjectService) archiveImage(ctx context.Context, projectID int64, img *imagedata.Image) {
	path, err := s.archive.UploadImage(ctx, projectID, img.Extension(), img.MIMEType, img.Data)
	if err != nil {
		metrics.ArchiveFailuresTotal.Inc()
		s.log.Warn("failed to archive image", "project_id", projectID, "error", err)
		return
	}
	if err := s.store.SetImageStoragePath(ctx, projectID, path); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			// Deleted while the upload ran; its cleanup may have missed this object.
			if err := s.archive.DeleteProjectImages(ctx, projectID); err != nil {
				metrics.ArchiveFailuresTotal.Inc()
				s.log.Warn("failed to remove image of deleted project", "project_id", projectID, "path", path, "error", err)
			}
			return
		}
		s.log.Warn("failed to record archived image", "project_id", projectID, "path", path, "error", err)
	}
}

func (s *ProjectService) goBackground(ctx context.Context, fn func(context.Context)) {
	bg, cancel := detach(ctx, max(2*s.cfg.InferenceTimeout, time.Minute))
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()
		fn(bg)
	}()
}

// Wait blocks until background analysis and archive jobs have finished.
func (s *ProjectService) Wait() {
	s.background.Wait()
}

func (s *ProjectService) GetProject(ctx context.Context, id int64) (*models.Project, []models.ChatMessage, error) {
	project, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return project, msgs, nil
}

func (s *ProjectService) ListProjects(ctx context.Context, opts database.ListOptions) ([]models.Project, error) {
	return s.store.ListProjects(ctx, opts)
}

// DeleteProject removes the project and its transcript. Archived images are
// removed afterwards on a best-effort basis.
func (s *ProjectService) DeleteProject(ctx context.Context, id int64) error {
	if err := s.store.DeleteProject(ctx, id); err != nil {
		return err
	}
	metrics.ProjectsDeletedTotal.Inc()
	s.log.Info("project deleted", "project_id", id)

	if s.archive != nil {
		if err := s.archive.DeleteProjectImages(ctx, id); err != nil {
			metrics.ArchiveFailuresTotal.Inc()
			s.log.Warn("failed to remove archived images", "project_id", id, "error", err)
		}
	}
	return nil
}

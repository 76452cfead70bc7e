package models

import "time"

type ProjectResponse struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	ImagePath        string    `json:"image_path"`
	ImageBase64      string    `json:"image_base64"`
	ImageStoragePath string    `json:"image_storage_path,omitempty"`
	Analysis         *string   `json:"analysis"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type ProjectWithMessagesResponse struct {
	ProjectResponse
	ChatMessages []ChatMessageResponse `json:"chat_messages"`
}

type ChatMessageResponse struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	Sender    Sender    `json:"sender" swaggertype:"string" enums:"user,bot"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type AssessmentResponse struct {
	ProjectID        int64     `json:"project_id"`
	Components       string    `json:"components"`
	Microcontroller  string    `json:"microcontroller"`
	SecurityAnalysis string    `json:"security_analysis"`
	Report           string    `json:"report"`
	GeneratedAt      time.Time `json:"generated_at"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func NewProjectResponse(p *Project) ProjectResponse {
	resp := ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		ImagePath:   p.ImagePath,
		ImageBase64: p.ImageBase64,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.ImageStoragePath.Valid {
		resp.ImageStoragePath = p.ImageStoragePath.String
	}
	if p.Analysis.Valid && p.Analysis.String != "" {
		analysis := p.Analysis.String
		resp.Analysis = &analysis
	}
	return resp
}

func NewAssessmentResponse(a *Assessment) AssessmentResponse {
	return AssessmentResponse{
		ProjectID:        a.ProjectID,
		Components:       a.Components,
		Microcontroller:  a.Microcontroller,
		SecurityAnalysis: a.SecurityAnalysis,
		Report:           a.Report,
		GeneratedAt:      a.GeneratedAt,
	}
}

func NewChatMessageResponse(m *ChatMessage) ChatMessageResponse {
	return ChatMessageResponse{
		ID:        m.ID,
		ProjectID: m.ProjectID,
		Sender:    m.Sender,
		Message:   m.Message,
		CreatedAt: m.CreatedAt,
	}
}

func NewChatMessageResponses(msgs []ChatMessage) []ChatMessageResponse {
	out := make([]ChatMessageResponse, len(msgs))
	for i := range msgs {
		out[i] = NewChatMessageResponse(&msgs[i])
	}
	return out
}

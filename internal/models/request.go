package models

// CreateProjectRequest is the body of POST /projects. ImageBase64 carries the
// image as a data URL (data:image/...;base64,...).
type CreateProjectRequest struct {
	Name        string `json:"name" example:"Arduino Board Rev 2"`
	ImagePath   string `json:"image_path" example:"arduino-rev2.jpg"`
	ImageBase64 string `json:"image_base64" example:"data:image/jpeg;base64,/9j/4AAQ..."`
}

// ChatRequest is the body of POST /projects/{project_id}/chat.
type ChatRequest struct {
	Message string `json:"message" example:"What is U3?"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

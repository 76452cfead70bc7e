// Package docs registers the OpenAPI document served at /swagger/*any.
// Regenerate with: swag init -g cmd/server/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.HealthResponse"}}
                }
            }
        },
        "/ready": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.HealthResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/models.HealthResponse"}}
                }
            }
        },
        "/projects": {
            "get": {
                "security": [{"Bearer": []}],
                "produces": ["application/json"],
                "tags": ["projects"],
                "summary": "List projects",
                "parameters": [
                    {"type": "integer", "default": 0, "description": "Number of projects to skip", "name": "skip", "in": "query"},
                    {"type": "integer", "default": 100, "description": "Maximum number of projects (max 100)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/models.ProjectResponse"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"Bearer": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["projects"],
                "summary": "Create a project",
                "parameters": [
                    {"description": "Project name and image data URL", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.CreateProjectRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/models.ProjectResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/projects/{project_id}": {
            "get": {
                "security": [{"Bearer": []}],
                "produces": ["application/json"],
                "tags": ["projects"],
                "summary": "Get a project",
                "parameters": [{"type": "integer", "description": "Project ID", "name": "project_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.ProjectWithMessagesResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            },
            "delete": {
                "security": [{"Bearer": []}],
                "produces": ["application/json"],
                "tags": ["projects"],
                "summary": "Delete a project",
                "parameters": [{"type": "integer", "description": "Project ID", "name": "project_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.StatusResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/projects/{project_id}/analysis": {
            "post": {
                "security": [{"Bearer": []}],
                "produces": ["application/json"],
                "tags": ["projects"],
                "summary": "Re-run analysis",
                "parameters": [{"type": "integer", "description": "Project ID", "name": "project_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.ProjectResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/projects/{project_id}/assessment": {
            "post": {
                "security": [{"Bearer": []}],
                "produces": ["application/json"],
                "tags": ["projects"],
                "summary": "Hardware security assessment",
                "parameters": [{"type": "integer", "description": "Project ID", "name": "project_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.AssessmentResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/projects/{project_id}/chat": {
            "get": {
                "security": [{"Bearer": []}],
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "Get the chat transcript",
                "parameters": [{"type": "integer", "description": "Project ID", "name": "project_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/models.ChatMessageResponse"}}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"Bearer": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "Send a chat message",
                "parameters": [
                    {"type": "integer", "description": "Project ID", "name": "project_id", "in": "path", "required": true},
                    {"description": "User message", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.ChatRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.ChatMessageResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "models.ChatMessageResponse": {
            "type": "object",
            "properties": {
                "created_at": {"type": "string"},
                "id": {"type": "integer"},
                "message": {"type": "string"},
                "project_id": {"type": "integer"},
                "sender": {"type": "string", "enum": ["user", "bot"]}
            }
        },
        "models.ChatRequest": {
            "type": "object",
            "properties": {"message": {"type": "string", "example": "What is U3?"}}
        },
        "models.CreateProjectRequest": {
            "type": "object",
            "properties": {
                "image_base64": {"type": "string", "example": "data:image/jpeg;base64,/9j/4AAQ..."},
                "image_path": {"type": "string", "example": "arduino-rev2.jpg"},
                "name": {"type": "string", "example": "Arduino Board Rev 2"}
            }
        },
        "models.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "error": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "models.HealthResponse": {
            "type": "object",
            "properties": {
                "checks": {"type": "object", "additionalProperties": {"type": "string"}},
                "status": {"type": "string"}
            }
        },
        "models.AssessmentResponse": {
            "type": "object",
            "properties": {
                "components": {"type": "string"},
                "generated_at": {"type": "string"},
                "microcontroller": {"type": "string"},
                "project_id": {"type": "integer"},
                "report": {"type": "string"},
                "security_analysis": {"type": "string"}
            }
        },
        "models.ProjectResponse": {
            "type": "object",
            "properties": {
                "analysis": {"type": "string"},
                "created_at": {"type": "string"},
                "id": {"type": "integer"},
                "image_base64": {"type": "string"},
                "image_path": {"type": "string"},
                "image_storage_path": {"type": "string"},
                "name": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "models.ProjectWithMessagesResponse": {
            "type": "object",
            "properties": {
                "analysis": {"type": "string"},
                "chat_messages": {"type": "array", "items": {"$ref": "#/definitions/models.ChatMessageResponse"}},
                "created_at": {"type": "string"},
                "id": {"type": "integer"},
                "image_base64": {"type": "string"},
                "image_path": {"type": "string"},
                "image_storage_path": {"type": "string"},
                "name": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "models.StatusResponse": {
            "type": "object",
            "properties": {"status": {"type": "string"}}
        }
    },
    "securityDefinitions": {
        "Bearer": {
            "description": "Type \"Bearer\" followed by a space and JWT token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "localhost:8000",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "PCBRecon API",
	Description:      "Backend API for PCB reverse engineering: upload a board image, get an AI analysis, and chat about the board.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

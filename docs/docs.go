// Package docs holds the swagger document of the imaged API. It is
// regenerated by `swag init -g cmd/imaged/docs.go` and served by builds
// with -tags=swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/generators": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["generators"],
                "summary": "Create a generator",
                "parameters": [
                    {
                        "description": "generator",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/types.GeneratorInput"}
                    }
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/types.Generator"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/generators/{id}/start": {
            "patch": {
                "produces": ["application/json"],
                "tags": ["generators"],
                "summary": "Start a generator's worker process",
                "parameters": [
                    {"type": "integer", "description": "generator id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/types.Generator"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/generators/{id}/close": {
            "patch": {
                "produces": ["application/json"],
                "tags": ["generators"],
                "summary": "Ask a generator's worker to close",
                "parameters": [
                    {"type": "integer", "description": "generator id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/types.Generator"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/jobs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "List jobs",
                "parameters": [
                    {"type": "integer", "description": "only jobs of this generator", "name": "generator_id", "in": "query"},
                    {"type": "string", "description": "waiting, processing, done or failed", "name": "status", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/types.Job"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Submit a job to a generator",
                "parameters": [
                    {
                        "description": "job",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/types.JobInput"}
                    }
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/types.Job"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/images/{id}/file": {
            "get": {
                "produces": ["image/png", "image/jpeg", "image/webp"],
                "tags": ["images"],
                "summary": "Download a rendered image",
                "parameters": [
                    {"type": "integer", "description": "image id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.FieldError": {
            "type": "object",
            "properties": {
                "field": {"type": "string", "example": "engine_id"},
                "error": {"type": "string", "example": "engine with id 7 doesn't exist"}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "invalid JSON body"},
                "code": {"type": "integer", "example": 400},
                "fields": {"type": "array", "items": {"$ref": "#/definitions/types.FieldError"}}
            }
        },
        "types.GeneratorInput": {
            "type": "object",
            "properties": {
                "name": {"type": "string", "example": "gpu0-portraits"},
                "engine_id": {"type": "integer", "example": 1},
                "gpu_id": {"type": "integer", "example": 0}
            }
        },
        "types.Generator": {
            "type": "object",
            "properties": {
                "id": {"type": "integer", "example": 1},
                "name": {"type": "string", "example": "gpu0-portraits"},
                "gpu_id": {"type": "integer", "example": 0},
                "engine": {"type": "object"},
                "status": {"type": "string", "example": "closed"},
                "last_error": {"type": "string"},
                "created_at": {"type": "string"}
            }
        },
        "types.ImageInput": {
            "type": "object",
            "properties": {
                "prompt": {"type": "string", "example": "a lighthouse at dusk"},
                "negative_prompt": {"type": "string", "example": "blurry"},
                "name": {"type": "string"},
                "seed": {"type": "integer"},
                "guidance_scale": {"type": "number"},
                "width": {"type": "integer"},
                "height": {"type": "integer"},
                "steps": {"type": "integer"},
                "file_type": {"type": "string", "example": "png"},
                "control_images": {"type": "array", "items": {"type": "object"}}
            }
        },
        "types.JobInput": {
            "type": "object",
            "properties": {
                "generator_id": {"type": "integer", "example": 1},
                "images": {"type": "array", "items": {"$ref": "#/definitions/types.ImageInput"}},
                "ip_adapter_config": {"type": "object"}
            }
        },
        "types.Job": {
            "type": "object",
            "properties": {
                "id": {"type": "integer", "example": 1},
                "generator_id": {"type": "integer", "example": 1},
                "status": {"type": "string", "example": "waiting"},
                "images": {"type": "array", "items": {"type": "object"}},
                "ip_adapter_config": {"type": "object"},
                "created_at": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "imaged API",
	Description:      "HTTP API for image generation engines, generators and jobs.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

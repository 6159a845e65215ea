// Package docs holds the OpenAPI document served at /api/v1/openapi.json.
// Regenerate with: swag init -g pkg/api/docs.go -o pkg/api/docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "ethPandaOps",
            "url": "https://github.com/ethpandaops/jenkdash"
        },
        "license": {
            "name": "MIT",
            "url": "https://github.com/ethpandaops/jenkdash/blob/main/LICENSE"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["auth"],
                "summary": "Login with username and password",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/api.LoginRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.LoginResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "429": {"description": "Rate limit exceeded", "schema": {"$ref": "#/definitions/api.RateLimitErrorResponse"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["auth"],
                "summary": "Logout",
                "responses": {"204": {"description": "Logged out successfully"}}
            }
        },
        "/auth/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["auth"],
                "summary": "Get current user",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/store.User"}}}
            }
        },
        "/auth/github": {
            "get": {
                "tags": ["auth"],
                "summary": "GitHub OAuth initiation",
                "responses": {"307": {"description": "Redirect to GitHub"}}
            }
        },
        "/auth/github/callback": {
            "get": {
                "tags": ["auth"],
                "summary": "GitHub OAuth callback",
                "parameters": [
                    {"type": "string", "in": "query", "name": "code", "required": true},
                    {"type": "string", "in": "query", "name": "state", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.LoginResponse"}},
                    "307": {"description": "Redirect for browser clients"}
                }
            }
        },
        "/jenkins/connect": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["jenkins"],
                "summary": "Connect to Jenkins",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/api.ConnectRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.Envelope"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.Envelope"}}
                }
            }
        },
        "/jenkins/disconnect": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["jenkins"],
                "summary": "Disconnect from Jenkins",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.Envelope"}}}
            }
        },
        "/jenkins/status": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["jenkins"],
                "summary": "Connection status",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.Envelope"}}}
            }
        },
        "/jenkins/test": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["jenkins"],
                "summary": "Test connection",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.Envelope"}},
                    "400": {"description": "Not connected", "schema": {"$ref": "#/definitions/api.Envelope"}}
                }
            }
        },
        "/jenkins/jobs": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["jenkins"],
                "summary": "List jobs",
                "parameters": [{"type": "string", "in": "query", "name": "view"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.Envelope"}},
                    "400": {"description": "Not connected", "schema": {"$ref": "#/definitions/api.Envelope"}}
                }
            }
        },
        "/jenkins/jobs/{name}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["jenkins"],
                "summary": "Job detail",
                "parameters": [{"type": "string", "in": "path", "name": "name", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.Envelope"}}}
            }
        },
        "/jenkins/jobs/{name}/config": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["jenkins"],
                "summary": "Job config",
                "parameters": [{"type": "string", "in": "path", "name": "name", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.Envelope"}}}
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["jenkins"],
                "summary": "Update job config",
                "parameters": [
                    {"type": "string", "in": "path", "name": "name", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/api.JobConfig"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.Envelope"}}}
            }
        },
        "/jenkins/jobs/{name}/script": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["jenkins"],
                "summary": "Pipeline script",
                "parameters": [{"type": "string", "in": "path", "name": "name", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.Envelope"}}}
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["jenkins"],
                "summary": "Replace pipeline script",
                "parameters": [
                    {"type": "string", "in": "path", "name": "name", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/api.PipelineScript"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.Envelope"}}}
            }
        },
        "/jenkins/server-info": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["jenkins"],
                "summary": "Server info",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.Envelope"}}}
            }
        },
        "/jenkins/debug": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["jenkins"],
                "summary": "Debug info",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.Envelope"}}}
            }
        },
        "/audit": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["audit"],
                "summary": "List audit entries",
                "parameters": [
                    {"type": "string", "in": "query", "name": "entity_type"},
                    {"type": "string", "in": "query", "name": "entity_id"},
                    {"type": "string", "in": "query", "name": "action"},
                    {"type": "string", "in": "query", "name": "actor"},
                    {"type": "string", "in": "query", "name": "since"},
                    {"type": "string", "in": "query", "name": "until"},
                    {"type": "integer", "in": "query", "name": "limit"},
                    {"type": "integer", "in": "query", "name": "offset"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.AuditListResponse"}}}
            }
        },
        "/status": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["system"],
                "summary": "System status",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.SystemStatusResponse"}}}
            }
        },
        "/ws": {
            "get": {
                "tags": ["websocket"],
                "summary": "WebSocket connection",
                "parameters": [{"type": "string", "in": "query", "name": "token"}],
                "responses": {"101": {"description": "WebSocket connection established"}}
            }
        },
        "/openapi.json": {
            "get": {
                "tags": ["system"],
                "summary": "OpenAPI specification",
                "responses": {"200": {"description": "OpenAPI specification"}}
            }
        }
    },
    "definitions": {
        "api.Envelope": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean", "example": true},
                "message": {"type": "string", "example": "Connected successfully to Jenkins v2.440.1"},
                "data": {}
            }
        },
        "api.ConnectRequest": {
            "type": "object",
            "properties": {
                "url": {"type": "string", "example": "https://ci.example.com"},
                "username": {"type": "string", "example": "admin"},
                "password": {"type": "string", "example": "api-token"}
            }
        },
        "api.JobConfig": {
            "type": "object",
            "properties": {"config_xml": {"type": "string", "example": "<project/>"}}
        },
        "api.PipelineScript": {
            "type": "object",
            "properties": {"script": {"type": "string", "example": "pipeline { agent any }"}}
        },
        "api.LoginRequest": {
            "type": "object",
            "properties": {
                "username": {"type": "string", "example": "admin"},
                "password": {"type": "string", "example": "password123"}
            }
        },
        "api.LoginResponse": {
            "type": "object",
            "properties": {
                "token": {"type": "string"},
                "user": {"$ref": "#/definitions/store.User"}
            }
        },
        "api.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string", "example": "Something went wrong"}}
        },
        "api.RateLimitErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string", "example": "rate limit exceeded"}}
        },
        "api.AuditListResponse": {
            "type": "object",
            "properties": {
                "entries": {"type": "array", "items": {"$ref": "#/definitions/store.AuditEntry"}},
                "total": {"type": "integer", "example": 42},
                "limit": {"type": "integer", "example": 50},
                "offset": {"type": "integer", "example": 0}
            }
        },
        "api.SystemStatusResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "healthy"},
                "timestamp": {"type": "string"},
                "database": {"type": "object"},
                "jenkins": {"type": "object"},
                "websocket": {"type": "object"},
                "version": {"type": "object"}
            }
        },
        "store.User": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "username": {"type": "string"},
                "role": {"type": "string", "enum": ["readonly", "admin"]},
                "auth_provider": {"type": "string", "enum": ["basic", "github"]},
                "github_id": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "store.AuditEntry": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "action": {"type": "string"},
                "entity_type": {"type": "string"},
                "entity_id": {"type": "string"},
                "actor": {"type": "string"},
                "details": {"type": "string"},
                "created_at": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Bearer token authentication. Format: \"Bearer {token}\"",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "jenkdash API",
	Description:      "Single-operator Jenkins dashboard backend.\nEvery /jenkins endpoint answers with {success, message, data}.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

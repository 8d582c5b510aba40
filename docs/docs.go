package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "SmartWard Backend",
    "description": "Hostel issue reporting with AI triage, duplicate detection and staff assignment",
    "version": "1.0"
  },
  "basePath": "/",
  "securityDefinitions": {
    "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
  },
  "security": [{"BearerAuth": []}],
  "paths": {
    "/healthz": {"get": {"summary": "Liveness and database check", "security": [], "responses": {"200": {"description": "ok"}, "503": {"description": "database unreachable"}}}},
    "/api/issues": {
      "post": {"summary": "Report an issue", "responses": {"201": {"description": "created"}, "200": {"description": "linked to an existing issue"}, "400": {"description": "validation error"}, "409": {"description": "possible duplicate, confirmation required"}}},
      "get": {"summary": "List issues", "responses": {"200": {"description": "ok"}}}
    },
    "/api/issues/{id}": {
      "get": {"summary": "Get an issue", "responses": {"200": {"description": "ok"}, "404": {"description": "not found"}}},
      "delete": {"summary": "Soft-delete an issue", "responses": {"204": {"description": "deleted"}, "404": {"description": "not found"}}}
    },
    "/api/issues/{id}/history": {"get": {"summary": "Status history", "responses": {"200": {"description": "ok"}}}},
    "/api/issues/{id}/duplicates": {"get": {"summary": "Issues linked as duplicates", "responses": {"200": {"description": "ok"}}}},
    "/api/issues/{id}/status": {"patch": {"summary": "Change status", "responses": {"200": {"description": "ok"}, "409": {"description": "invalid transition"}}}},
    "/api/issues/{id}/assign": {"post": {"summary": "Assign staff", "responses": {"200": {"description": "ok"}, "409": {"description": "staff unavailable"}}}},
    "/api/issues/{id}/merge": {"post": {"summary": "Merge into a master issue", "responses": {"200": {"description": "ok"}}}},
    "/api/issues/{id}/recommendations": {"get": {"summary": "Ranked staff recommendations", "responses": {"200": {"description": "ok"}}}},
    "/api/staff": {"get": {"summary": "List staff", "responses": {"200": {"description": "ok"}}}},
    "/api/events": {"get": {"summary": "Server-sent event stream", "produces": ["text/event-stream"], "responses": {"200": {"description": "stream"}}}}
  }
}`

func init() {
	swag.Register(swag.Name, &s{})
}

type s struct{}

func (s *s) ReadDoc() string {
	return docTemplate
}

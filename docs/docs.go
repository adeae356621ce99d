// Package docs registers the OpenAPI document served at /swagger in dev mode.
// Regenerate with: swag init -g main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "paths": {
        "/borrows": {
            "post": {"tags": ["borrows"], "summary": "Submit a reservation request", "responses": {"201": {"description": "Created"}}}
        },
        "/borrows/bulk-approve": {
            "post": {"tags": ["borrows"], "summary": "Approve every PENDING borrow in the batch", "responses": {"200": {"description": "OK"}}}
        },
        "/borrows/pending-returns": {
            "get": {"tags": ["borrows"], "summary": "Borrows waiting for return inspection", "responses": {"200": {"description": "OK"}}}
        },
        "/borrows/{borrow_id}": {
            "get": {"tags": ["borrows"], "summary": "Get a borrow", "responses": {"200": {"description": "OK"}}}
        },
        "/borrows/{borrow_id}/return-request": {
            "post": {"tags": ["borrows"], "summary": "Request return, optionally with a data request", "responses": {"200": {"description": "OK"}}}
        },
        "/borrows/{borrow_id}/deficiencies": {
            "get": {"tags": ["deficiencies"], "summary": "Deficiencies recorded against a borrow", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["deficiencies"], "summary": "Record a deficiency", "responses": {"201": {"description": "Created"}}}
        },
        "/data-requests/{request_id}/files/{file_id}": {
            "delete": {"tags": ["borrows"], "summary": "Delete a data file and its stored artifact", "responses": {"200": {"description": "OK"}}}
        },
        "/borrow-groups/{group_id}": {
            "get": {"tags": ["borrows"], "summary": "Borrows and participants of a group", "responses": {"200": {"description": "OK"}}}
        },
        "/deficiencies": {
            "get": {"tags": ["deficiencies"], "summary": "List deficiencies", "responses": {"200": {"description": "OK"}}}
        },
        "/reports/mtbf": {
            "get": {"tags": ["reports"], "summary": "MTBF per user", "responses": {"200": {"description": "OK"}}}
        },
        "/reports/mttr": {
            "get": {"tags": ["reports"], "summary": "MTTR per equipment", "responses": {"200": {"description": "OK"}}}
        },
        "/reports/utilization": {
            "get": {"tags": ["reports"], "summary": "Utilization ranking", "responses": {"200": {"description": "OK"}}}
        },
        "/reports/weekly-usage": {
            "get": {"tags": ["reports"], "summary": "Returns per day over the last 7 days", "responses": {"200": {"description": "OK"}}}
        },
        "/reports/dashboard": {
            "get": {"tags": ["reports"], "summary": "Equipment and borrow counters", "responses": {"200": {"description": "OK"}}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "2.0",
	Host:             "",
	BasePath:         "/api/v2",
	Schemes:          []string{"https"},
	Title:            "LERS API",
	Description:      "Lab equipment reservation service.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

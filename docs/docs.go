// Package docs registers the Swagger 2.0 description of the HTTP API with
// swag. The template is maintained by hand alongside the handler annotations
// in package api; keep paths and definitions in step with them.
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
        "/fee": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Jobs"],
                "summary": "Current job creation fee",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.FeeResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/jobs": {
            "get": {
                "description": "Without an address every observed job is returned.",
                "produces": ["application/json"],
                "tags": ["Jobs"],
                "summary": "List observed jobs",
                "parameters": [
                    {"type": "string", "description": "Client or freelancer account", "name": "address", "in": "query"},
                    {"enum": ["client", "freelancer"], "type": "string", "description": "client or freelancer", "name": "role", "in": "query"},
                    {"type": "string", "description": "Only jobs in this status", "name": "status", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.JobsResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}": {
            "get": {
                "description": "Jobs not yet observed are read from the ledger.",
                "produces": ["application/json"],
                "tags": ["Jobs"],
                "summary": "Get one job",
                "parameters": [
                    {"type": "integer", "description": "Job ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.JobResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}/spec": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Documents"],
                "summary": "Get the job specification document",
                "parameters": [
                    {"type": "integer", "description": "Job ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/metadata.JobSpec"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}/work": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Documents"],
                "summary": "Get the submitted work manifest",
                "parameters": [
                    {"type": "integer", "description": "Job ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/metadata.WorkManifest"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}/qr.png": {
            "get": {
                "produces": ["image/png"],
                "tags": ["Jobs"],
                "summary": "QR code of the escrow address",
                "parameters": [
                    {"type": "integer", "description": "Job ID", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "default": 256, "description": "Edge length in pixels", "name": "size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/pending": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Jobs"],
                "summary": "Writes submitted but not yet confirmed",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.PendingResponse"}}
                }
            }
        }
    },
    "definitions": {
        "api.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "kind": {"type": "string"}
            }
        },
        "api.FeeResponse": {
            "type": "object",
            "properties": {
                "fee": {"type": "string"},
                "fee_wei": {"type": "string"}
            }
        },
        "api.JobResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "client_address": {"type": "string"},
                "freelancer_address": {"type": "string"},
                "escrow_address": {"type": "string"},
                "amount": {"type": "string"},
                "amount_wei": {"type": "string"},
                "metadata_hash": {"type": "string"},
                "work_hash": {"type": "string"},
                "status": {"type": "string"},
                "created_at": {"type": "string"},
                "completed_at": {"type": "string"}
            }
        },
        "api.JobsResponse": {
            "type": "object",
            "properties": {
                "jobs": {"type": "array", "items": {"$ref": "#/definitions/api.JobResponse"}},
                "total": {"type": "integer"}
            }
        },
        "api.PendingItem": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "action": {"type": "string"},
                "job_id": {"type": "integer"},
                "escrow": {"type": "string"},
                "signer": {"type": "string"},
                "target": {"type": "string"},
                "tx_hash": {"type": "string"},
                "started_at": {"type": "string"}
            }
        },
        "api.PendingResponse": {
            "type": "object",
            "properties": {
                "pending": {"type": "array", "items": {"$ref": "#/definitions/api.PendingItem"}},
                "total": {"type": "integer"}
            }
        },
        "metadata.JobSpec": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "description": {"type": "string"},
                "requirements": {"type": "array", "items": {"type": "string"}},
                "deliverables": {"type": "array", "items": {"type": "string"}},
                "price": {"type": "string"},
                "clientAddress": {"type": "string"},
                "freelancerAddress": {"type": "string"},
                "createdAt": {"type": "string"},
                "version": {"type": "string"}
            }
        },
        "metadata.WorkFile": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "hash": {"type": "string"},
                "size": {"type": "integer"}
            }
        },
        "metadata.WorkManifest": {
            "type": "object",
            "properties": {
                "files": {"type": "array", "items": {"$ref": "#/definitions/metadata.WorkFile"}},
                "submittedBy": {"type": "string"},
                "note": {"type": "string"},
                "version": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "Escrow API",
	Description:      "Read-only view of escrow jobs observed on the ledger.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

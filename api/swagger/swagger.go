package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Agenda Lina API",
        "description": "Grade engine, report cards and class statistics for Agenda Lina schools",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Authentication", "description": "Login and token introspection"},
        {"name": "Grades", "description": "Grade entry, averages and final situations"},
        {"name": "Report Cards", "description": "Read-only grade views and exports"},
        {"name": "Observability", "description": "Health, readiness and metrics"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Current user",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/grades/entries": {
            "post": {
                "tags": ["Grades"],
                "summary": "Record an activity grade and refresh the bimester average",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RecordGradeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Activity not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Activity cannot be graded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/grades/bimester-averages": {
            "post": {
                "tags": ["Grades"],
                "summary": "Recompute a bimester average",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BimesterKey"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/grades/final-situations": {
            "post": {
                "tags": ["Grades"],
                "summary": "Recompute the yearly final situation",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/FinalSituationKey"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "School year not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/grades/recalculate": {
            "post": {
                "tags": ["Grades"],
                "summary": "Queue a background recalculation of a class",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RecalculateClassRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "School year not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Queue unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/grades/recovery/simulate": {
            "post": {
                "tags": ["Grades"],
                "summary": "Simulate a recovery exam",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SimulateRecoveryRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/report-cards/{studentId}": {
            "get": {
                "tags": ["Report Cards"],
                "summary": "Student report card",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "studentId", "in": "path", "required": true, "type": "string"},
                    {"name": "schoolYearId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/report-cards/{studentId}/export": {
            "get": {
                "tags": ["Report Cards"],
                "summary": "Download a report card",
                "produces": ["text/csv", "application/pdf"],
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "studentId", "in": "path", "required": true, "type": "string"},
                    {"name": "schoolYearId", "in": "query", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"], "default": "csv"}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}}
                }
            }
        },
        "/classes/{classId}/stats": {
            "get": {
                "tags": ["Report Cards"],
                "summary": "Class statistics for a subject",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "classId", "in": "path", "required": true, "type": "string"},
                    {"name": "subjectId", "in": "query", "required": true, "type": "string"},
                    {"name": "schoolYearId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics/summary": {
            "get": {
                "tags": ["Observability"],
                "summary": "Instrumentation summary",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "RecordGradeRequest": {
            "type": "object",
            "required": ["activity_id", "student_id", "value"],
            "properties": {
                "activity_id": {"type": "string"},
                "student_id": {"type": "string"},
                "value": {"type": "number", "minimum": 0}
            }
        },
        "BimesterKey": {
            "type": "object",
            "required": ["student_id", "subject_id", "bimester_id"],
            "properties": {
                "student_id": {"type": "string"},
                "subject_id": {"type": "string"},
                "bimester_id": {"type": "string"}
            }
        },
        "FinalSituationKey": {
            "type": "object",
            "required": ["student_id", "subject_id", "school_year_id"],
            "properties": {
                "student_id": {"type": "string"},
                "subject_id": {"type": "string"},
                "school_year_id": {"type": "string"}
            }
        },
        "RecalculateClassRequest": {
            "type": "object",
            "required": ["class_id", "subject_id", "school_year_id"],
            "properties": {
                "class_id": {"type": "string"},
                "subject_id": {"type": "string"},
                "school_year_id": {"type": "string"}
            }
        },
        "SimulateRecoveryRequest": {
            "type": "object",
            "required": ["current_average", "recovery_exam_score"],
            "properties": {
                "current_average": {"type": "number", "minimum": 0, "maximum": 10},
                "recovery_exam_score": {"type": "number", "minimum": 0, "maximum": 10}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}

// Package apidocs registers the OpenAPI description of the bootcamp REST
// API with swag. It is generated from the handler annotations in pkg/api
// by swag init; regenerate it after changing them.
package apidocs

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
                "description": "Reports database connectivity. Always answers 200.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Health"
                ],
                "summary": "Service health",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/health.StatusResponse"
                        }
                    }
                }
            }
        },
        "/containers": {
            "post": {
                "description": "Launches, inspects or terminates a sandbox depending on action. A second launch while a session is active answers 400 with the active sessionId.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Containers"
                ],
                "summary": "Manage a sandbox",
                "consumes": [
                    "application/json"
                ],
                "security": [
                    {
                        "ApiKeyAuth": []
                    },
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "description": "Action and identifiers",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/api.containerRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/api.launchResponse"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/api.conflictResponse"
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "500": {
                        "description": "Internal Server Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/challenges": {
            "get": {
                "description": "Returns the published challenges grouped by category.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Challenges"
                ],
                "summary": "List challenges",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/learning.ChallengeList"
                        }
                    },
                    "500": {
                        "description": "Internal Server Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/leaderboard": {
            "get": {
                "description": "Returns learners ranked by points.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Challenges"
                ],
                "summary": "Leaderboard",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/learning.Leaderboard"
                        }
                    },
                    "500": {
                        "description": "Internal Server Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/user/profile": {
            "get": {
                "description": "Returns the caller's profile, creating it on first access.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "User"
                ],
                "summary": "Get profile",
                "security": [
                    {
                        "ApiKeyAuth": []
                    },
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/learning.Profile"
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "500": {
                        "description": "Internal Server Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            },
            "put": {
                "description": "Updates the caller's display name and preferences.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "User"
                ],
                "summary": "Update profile",
                "consumes": [
                    "application/json"
                ],
                "security": [
                    {
                        "ApiKeyAuth": []
                    },
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "description": "Profile fields",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/learning.ProfileUpdate"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/learning.Profile"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "500": {
                        "description": "Internal Server Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/user/progress": {
            "get": {
                "description": "Returns the caller's challenge progress and totals.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "User"
                ],
                "summary": "Get progress",
                "security": [
                    {
                        "ApiKeyAuth": []
                    },
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/learning.ProgressReport"
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "500": {
                        "description": "Internal Server Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            },
            "post": {
                "description": "Records a challenge attempt for the caller.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "User"
                ],
                "summary": "Record progress",
                "consumes": [
                    "application/json"
                ],
                "security": [
                    {
                        "ApiKeyAuth": []
                    },
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "description": "Attempt",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/learning.ProgressRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/learning.ProgressResult"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "500": {
                        "description": "Internal Server Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/user/sessions": {
            "get": {
                "description": "Lists sandbox sessions, newest first. Instructors may pass userId.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "User"
                ],
                "summary": "Session history",
                "security": [
                    {
                        "ApiKeyAuth": []
                    },
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Maximum sessions",
                        "name": "limit",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "Learner to list (instructors only)",
                        "name": "userId",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/api.sessionHistoryResponse"
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "500": {
                        "description": "Internal Server Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/user/activity": {
            "get": {
                "description": "Lists audited sandbox actions, newest first. Instructors may pass userId.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "User"
                ],
                "summary": "Activity",
                "security": [
                    {
                        "ApiKeyAuth": []
                    },
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Maximum events",
                        "name": "limit",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "Learner to list (instructors only)",
                        "name": "userId",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/api.activityResponse"
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "500": {
                        "description": "Internal Server Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "api.containerRequest": {
            "type": "object",
            "properties": {
                "action": {
                    "type": "string",
                    "enum": [
                        "launch",
                        "status",
                        "terminate"
                    ]
                },
                "userId": {
                    "type": "string"
                },
                "challengeId": {
                    "type": "string"
                },
                "sessionId": {
                    "type": "string"
                }
            }
        },
        "api.launchResponse": {
            "type": "object",
            "properties": {
                "sessionId": {
                    "type": "string"
                },
                "taskHandle": {
                    "type": "string"
                },
                "status": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                }
            }
        },
        "api.conflictResponse": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "string"
                },
                "sessionId": {
                    "type": "string"
                }
            }
        },
        "api.sessionHistoryResponse": {
            "type": "object",
            "properties": {
                "sessions": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/session.Session"
                    }
                },
                "total": {
                    "type": "integer"
                }
            }
        },
        "api.activityResponse": {
            "type": "object",
            "properties": {
                "events": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/audit.Event"
                    }
                },
                "total": {
                    "type": "integer"
                }
            }
        },
        "audit.Event": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "timestamp": {
                    "type": "string",
                    "format": "date-time"
                },
                "durationMs": {
                    "type": "integer"
                },
                "userId": {
                    "type": "string"
                },
                "action": {
                    "type": "string"
                },
                "sessionId": {
                    "type": "string"
                },
                "challengeId": {
                    "type": "string"
                },
                "success": {
                    "type": "boolean"
                },
                "errorMessage": {
                    "type": "string"
                }
            }
        },
        "session.Session": {
            "type": "object",
            "properties": {
                "sessionId": {
                    "type": "string"
                },
                "userId": {
                    "type": "string"
                },
                "challengeId": {
                    "type": "string"
                },
                "taskHandle": {
                    "type": "string"
                },
                "containerName": {
                    "type": "string"
                },
                "status": {
                    "type": "string",
                    "enum": [
                        "PROVISIONING",
                        "RUNNING",
                        "TERMINATED"
                    ]
                },
                "publicEndpoint": {
                    "type": "string"
                },
                "createdAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "updatedAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "expiresAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "terminatedAt": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "session.StatusView": {
            "type": "object",
            "properties": {
                "sessionId": {
                    "type": "string"
                },
                "status": {
                    "type": "string"
                },
                "taskStatus": {
                    "type": "string"
                },
                "publicEndpoint": {
                    "type": "string"
                },
                "connectionHint": {
                    "type": "string"
                },
                "expiresInSeconds": {
                    "type": "integer"
                },
                "message": {
                    "type": "string"
                }
            }
        },
        "health.StatusResponse": {
            "type": "object",
            "properties": {
                "status": {
                    "type": "string"
                },
                "timestamp": {
                    "type": "string",
                    "format": "date-time"
                },
                "service": {
                    "type": "string"
                },
                "version": {
                    "type": "string"
                },
                "database": {
                    "type": "string"
                }
            }
        },
        "learning.Challenge": {
            "type": "object",
            "properties": {
                "challengeId": {
                    "type": "string"
                },
                "name": {
                    "type": "string"
                },
                "description": {
                    "type": "string"
                },
                "category": {
                    "type": "string"
                },
                "level": {
                    "type": "integer"
                },
                "difficulty": {
                    "type": "string"
                },
                "points": {
                    "type": "integer"
                },
                "prerequisites": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                },
                "skills": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                }
            }
        },
        "learning.ChallengeList": {
            "type": "object",
            "properties": {
                "challenges": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/learning.Challenge"
                    }
                },
                "total": {
                    "type": "integer"
                },
                "categories": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                }
            }
        },
        "learning.Preferences": {
            "type": "object",
            "properties": {
                "theme": {
                    "type": "string"
                },
                "notifications": {
                    "type": "boolean"
                }
            }
        },
        "learning.Profile": {
            "type": "object",
            "properties": {
                "userId": {
                    "type": "string"
                },
                "email": {
                    "type": "string"
                },
                "displayName": {
                    "type": "string"
                },
                "avatar": {
                    "type": "string"
                },
                "bio": {
                    "type": "string"
                },
                "rank": {
                    "type": "string"
                },
                "points": {
                    "type": "integer"
                },
                "completedChallenges": {
                    "type": "integer"
                },
                "completedChallengesList": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                },
                "totalTimeSpent": {
                    "type": "integer"
                },
                "achievements": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                },
                "streak": {
                    "type": "integer"
                },
                "lastActiveDate": {
                    "type": "string"
                },
                "joinedAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "updatedAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "preferences": {
                    "$ref": "#/definitions/learning.Preferences"
                }
            }
        },
        "learning.ProfileUpdate": {
            "type": "object",
            "properties": {
                "displayName": {
                    "type": "string"
                },
                "avatar": {
                    "type": "string"
                },
                "bio": {
                    "type": "string"
                },
                "preferences": {
                    "$ref": "#/definitions/learning.Preferences"
                }
            }
        },
        "learning.Progress": {
            "type": "object",
            "properties": {
                "userId": {
                    "type": "string"
                },
                "challengeId": {
                    "type": "string"
                },
                "status": {
                    "type": "string"
                }
            }
        },
        "learning.ProgressStats": {
            "type": "object",
            "properties": {
                "totalPoints": {
                    "type": "integer"
                },
                "completedCount": {
                    "type": "integer"
                },
                "totalTimeSpent": {
                    "type": "integer"
                },
                "averageTime": {
                    "type": "integer"
                },
                "streak": {
                    "type": "integer"
                },
                "lastActivity": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "learning.ProgressReport": {
            "type": "object",
            "properties": {
                "progress": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/learning.Progress"
                    }
                },
                "statistics": {
                    "$ref": "#/definitions/learning.ProgressStats"
                }
            }
        },
        "learning.ProgressRequest": {
            "type": "object",
            "properties": {
                "challengeId": {
                    "type": "string"
                },
                "status": {
                    "type": "string"
                },
                "timeSpent": {
                    "type": "integer"
                },
                "hintsUsed": {
                    "type": "integer"
                },
                "attempts": {
                    "type": "integer"
                },
                "startedAt": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "learning.ProgressResult": {
            "type": "object",
            "properties": {
                "success": {
                    "type": "boolean"
                },
                "pointsEarned": {
                    "type": "integer"
                },
                "newStatus": {
                    "type": "string"
                },
                "timestamp": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "learning.LeaderEntry": {
            "type": "object",
            "properties": {
                "userId": {
                    "type": "string"
                },
                "displayName": {
                    "type": "string"
                },
                "points": {
                    "type": "integer"
                },
                "rank": {
                    "type": "string"
                },
                "completedChallenges": {
                    "type": "integer"
                },
                "avatar": {
                    "type": "string"
                },
                "position": {
                    "type": "integer"
                }
            }
        },
        "learning.Leaderboard": {
            "type": "object",
            "properties": {
                "global": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/learning.LeaderEntry"
                    }
                },
                "byRank": {
                    "type": "object",
                    "additionalProperties": {
                        "type": "array",
                        "items": {
                            "$ref": "#/definitions/learning.LeaderEntry"
                        }
                    }
                },
                "lastUpdated": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {
            "type": "apiKey",
            "name": "X-API-Key",
            "in": "header"
        },
        "BearerAuth": {
            "description": "Bearer token (JWT or OIDC).",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "DevOps Bootcamp API",
	Description:      "Sandbox lifecycle and learning platform endpoints.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

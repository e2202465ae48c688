package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Library Sync API",
        "description": "Versioned optimistic-concurrency sync API for bibliographic libraries. Every /users/{libraryID} path also exists under /groups/{libraryID}.",
        "version": "3.0"
    },
    "basePath": "/",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "in": "header", "name": "Authorization"},
        "BasicAuth": {"type": "basic"}
    },
    "tags": [
        {"name": "Objects", "description": "Collections, items and searches"},
        {"name": "Tags", "description": "Aggregated item tags"},
        {"name": "Settings", "description": "Library settings"},
        {"name": "Keys", "description": "API keys and login sessions"}
    ],
    "parameters": {
        "libraryID": {"name": "libraryID", "in": "path", "required": true, "type": "integer"},
        "key": {"name": "key", "in": "path", "required": true, "type": "string"},
        "ifUnmodified": {"name": "If-Unmodified-Since-Version", "in": "header", "type": "integer"},
        "ifModified": {"name": "If-Modified-Since-Version", "in": "header", "type": "integer"},
        "format": {"name": "format", "in": "query", "type": "string", "enum": ["json", "atom", "keys", "versions", "csljson", "bib", "bibtex", "ris"]},
        "include": {"name": "include", "in": "query", "type": "string"},
        "since": {"name": "since", "in": "query", "type": "integer"},
        "start": {"name": "start", "in": "query", "type": "integer"},
        "limit": {"name": "limit", "in": "query", "type": "integer"},
        "sort": {"name": "sort", "in": "query", "type": "string"},
        "direction": {"name": "direction", "in": "query", "type": "string", "enum": ["asc", "desc"]},
        "tag": {"name": "tag", "in": "query", "type": "string"},
        "q": {"name": "q", "in": "query", "type": "string"},
        "qmode": {"name": "qmode", "in": "query", "type": "string", "enum": ["titleCreatorYear", "everything"]}
    },
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "A dependency is unavailable"}
                }
            }
        },
        "/users/{libraryID}/items": {
            "get": {
                "tags": ["Objects"],
                "summary": "List items",
                "parameters": [
                    {"$ref": "#/parameters/libraryID"},
                    {"$ref": "#/parameters/format"},
                    {"$ref": "#/parameters/include"},
                    {"$ref": "#/parameters/since"},
                    {"$ref": "#/parameters/start"},
                    {"$ref": "#/parameters/limit"},
                    {"$ref": "#/parameters/sort"},
                    {"$ref": "#/parameters/direction"},
                    {"$ref": "#/parameters/tag"},
                    {"$ref": "#/parameters/q"},
                    {"$ref": "#/parameters/qmode"},
                    {"$ref": "#/parameters/ifModified"}
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "headers": {
                            "Last-Modified-Version": {"type": "integer"},
                            "Total-Results": {"type": "integer"},
                            "Link": {"type": "string"}
                        },
                        "schema": {"type": "array", "items": {"$ref": "#/definitions/ObjectView"}}
                    },
                    "304": {"description": "Not modified"}
                }
            },
            "post": {
                "tags": ["Objects"],
                "summary": "Write items in a batch",
                "parameters": [
                    {"$ref": "#/parameters/libraryID"},
                    {"$ref": "#/parameters/ifUnmodified"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"type": "array", "items": {"type": "object"}}}
                ],
                "responses": {
                    "200": {"description": "Per-object outcome", "schema": {"$ref": "#/definitions/WriteResult"}},
                    "400": {"description": "Malformed payload"},
                    "412": {"description": "Library modified since the given version"},
                    "413": {"description": "Too many objects"}
                }
            },
            "delete": {
                "tags": ["Objects"],
                "summary": "Delete several items",
                "parameters": [
                    {"$ref": "#/parameters/libraryID"},
                    {"name": "itemKey", "in": "query", "required": true, "type": "string"},
                    {"$ref": "#/parameters/ifUnmodified"}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "412": {"description": "Library modified since the given version"},
                    "428": {"description": "Version header missing"}
                }
            }
        },
        "/users/{libraryID}/items/{key}": {
            "get": {
                "tags": ["Objects"],
                "summary": "Get an item",
                "parameters": [
                    {"$ref": "#/parameters/libraryID"},
                    {"$ref": "#/parameters/key"},
                    {"$ref": "#/parameters/format"},
                    {"$ref": "#/parameters/ifModified"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ObjectView"}},
                    "304": {"description": "Not modified"},
                    "404": {"description": "Not found"}
                }
            },
            "put": {
                "tags": ["Objects"],
                "summary": "Replace an item",
                "parameters": [
                    {"$ref": "#/parameters/libraryID"},
                    {"$ref": "#/parameters/key"},
                    {"$ref": "#/parameters/ifUnmodified"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "204": {"description": "Written"},
                    "412": {"description": "Item modified since the given version"},
                    "428": {"description": "Version missing"}
                }
            },
            "patch": {
                "tags": ["Objects"],
                "summary": "Patch an item",
                "parameters": [
                    {"$ref": "#/parameters/libraryID"},
                    {"$ref": "#/parameters/key"},
                    {"$ref": "#/parameters/ifUnmodified"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "204": {"description": "Written"},
                    "412": {"description": "Item modified since the given version"},
                    "428": {"description": "Version missing"}
                }
            },
            "delete": {
                "tags": ["Objects"],
                "summary": "Delete an item",
                "parameters": [
                    {"$ref": "#/parameters/libraryID"},
                    {"$ref": "#/parameters/key"},
                    {"$ref": "#/parameters/ifUnmodified"}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "404": {"description": "Not found"},
                    "412": {"description": "Item modified since the given version"},
                    "428": {"description": "Version header missing"}
                }
            }
        },
        "/users/{libraryID}/collections": {
            "get": {
                "tags": ["Objects"],
                "summary": "List collections",
                "parameters": [
                    {"$ref": "#/parameters/libraryID"},
                    {"$ref": "#/parameters/format"},
                    {"$ref": "#/parameters/since"},
                    {"$ref": "#/parameters/start"},
                    {"$ref": "#/parameters/limit"},
                    {"$ref": "#/parameters/ifModified"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/ObjectView"}}},
                    "304": {"description": "Not modified"}
                }
            },
            "post": {
                "tags": ["Objects"],
                "summary": "Write collections in a batch",
                "parameters": [
                    {"$ref": "#/parameters/libraryID"},
                    {"$ref": "#/parameters/ifUnmodified"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"type": "array", "items": {"type": "object"}}}
                ],
                "responses": {
                    "200": {"description": "Per-object outcome", "schema": {"$ref": "#/definitions/WriteResult"}}
                }
            }
        },
        "/users/{libraryID}/searches": {
            "get": {
                "tags": ["Objects"],
                "summary": "List saved searches",
                "parameters": [
                    {"$ref": "#/parameters/libraryID"},
                    {"$ref": "#/parameters/format"},
                    {"$ref": "#/parameters/since"},
                    {"$ref": "#/parameters/ifModified"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/ObjectView"}}}
                }
            },
            "post": {
                "tags": ["Objects"],
                "summary": "Write searches in a batch",
                "parameters": [
                    {"$ref": "#/parameters/libraryID"},
                    {"$ref": "#/parameters/ifUnmodified"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"type": "array", "items": {"type": "object"}}}
                ],
                "responses": {
                    "200": {"description": "Per-object outcome", "schema": {"$ref": "#/definitions/WriteResult"}}
                }
            }
        },
        "/users/{libraryID}/tags": {
            "get": {
                "tags": ["Tags"],
                "summary": "List tags",
                "parameters": [
                    {"$ref": "#/parameters/libraryID"},
                    {"$ref": "#/parameters/tag"},
                    {"$ref": "#/parameters/start"},
                    {"$ref": "#/parameters/limit"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/TagView"}}}
                }
            },
            "delete": {
                "tags": ["Tags"],
                "summary": "Delete tags",
                "parameters": [
                    {"$ref": "#/parameters/libraryID"},
                    {"name": "tag", "in": "query", "required": true, "type": "string"},
                    {"$ref": "#/parameters/ifUnmodified"}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "412": {"description": "Library modified since the given version"}
                }
            }
        },
        "/users/{libraryID}/settings": {
            "get": {
                "tags": ["Settings"],
                "summary": "List settings",
                "parameters": [
                    {"$ref": "#/parameters/libraryID"},
                    {"$ref": "#/parameters/since"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"$ref": "#/definitions/SettingView"}}}
                }
            },
            "post": {
                "tags": ["Settings"],
                "summary": "Write several settings",
                "parameters": [
                    {"$ref": "#/parameters/libraryID"},
                    {"$ref": "#/parameters/ifUnmodified"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "204": {"description": "Written"},
                    "412": {"description": "Library modified since the given version"}
                }
            }
        },
        "/users/{libraryID}/settings/{name}": {
            "get": {
                "tags": ["Settings"],
                "summary": "Get a setting",
                "parameters": [
                    {"$ref": "#/parameters/libraryID"},
                    {"name": "name", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/SettingView"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/users/{libraryID}/deleted": {
            "get": {
                "tags": ["Objects"],
                "summary": "List deletions since a version",
                "parameters": [
                    {"$ref": "#/parameters/libraryID"},
                    {"name": "since", "in": "query", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/DeletedView"}},
                    "400": {"description": "since missing"}
                }
            }
        },
        "/keys/current": {
            "get": {
                "tags": ["Keys"],
                "summary": "Describe the calling key",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/KeyResponse"}},
                    "403": {"description": "No key"}
                }
            }
        },
        "/keys/sessions": {
            "post": {
                "tags": ["Keys"],
                "summary": "Start a login session",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/LoginSession"}}
                }
            }
        },
        "/keys/sessions/{token}": {
            "get": {
                "tags": ["Keys"],
                "summary": "Poll a login session",
                "parameters": [{"name": "token", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/LoginSession"}},
                    "404": {"description": "Unknown or expired"}
                }
            },
            "delete": {
                "tags": ["Keys"],
                "summary": "Cancel a login session",
                "parameters": [{"name": "token", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "204": {"description": "Cancelled"},
                    "409": {"description": "Not pending"}
                }
            }
        },
        "/keys/sessions/{token}/complete": {
            "post": {
                "tags": ["Keys"],
                "summary": "Issue a key for a login session",
                "security": [{"BasicAuth": []}],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CompleteLoginSessionRequest"}}
                ],
                "responses": {
                    "200": {"description": "Completed", "schema": {"$ref": "#/definitions/LoginSession"}},
                    "409": {"description": "Not pending"}
                }
            }
        }
    },
    "definitions": {
        "ObjectView": {
            "type": "object",
            "properties": {
                "key": {"type": "string"},
                "version": {"type": "integer"},
                "library": {"type": "object"},
                "links": {"type": "object"},
                "meta": {"type": "object"},
                "bib": {"type": "string"},
                "citation": {"type": "string"},
                "csljson": {"type": "object"},
                "data": {"type": "object"}
            }
        },
        "FailedWrite": {
            "type": "object",
            "properties": {
                "key": {"type": "string"},
                "code": {"type": "integer"},
                "message": {"type": "string"},
                "data": {"type": "object"}
            }
        },
        "WriteResult": {
            "type": "object",
            "properties": {
                "successful": {"type": "object", "additionalProperties": {"$ref": "#/definitions/ObjectView"}},
                "success": {"type": "object", "additionalProperties": {"type": "string"}},
                "unchanged": {"type": "object", "additionalProperties": {"type": "string"}},
                "failed": {"type": "object", "additionalProperties": {"$ref": "#/definitions/FailedWrite"}}
            }
        },
        "TagView": {
            "type": "object",
            "properties": {
                "tag": {"type": "string"},
                "links": {"type": "object"},
                "meta": {
                    "type": "object",
                    "properties": {
                        "type": {"type": "integer"},
                        "numItems": {"type": "integer"}
                    }
                }
            }
        },
        "SettingView": {
            "type": "object",
            "properties": {
                "value": {},
                "version": {"type": "integer"}
            }
        },
        "DeletedView": {
            "type": "object",
            "properties": {
                "collections": {"type": "array", "items": {"type": "string"}},
                "items": {"type": "array", "items": {"type": "string"}},
                "searches": {"type": "array", "items": {"type": "string"}},
                "tags": {"type": "array", "items": {"type": "string"}},
                "settings": {"type": "array", "items": {"type": "string"}}
            }
        },
        "KeyResponse": {
            "type": "object",
            "properties": {
                "key": {"type": "string"},
                "userID": {"type": "integer"},
                "username": {"type": "string"},
                "access": {"type": "object"}
            }
        },
        "LoginSession": {
            "type": "object",
            "properties": {
                "sessionToken": {"type": "string"},
                "loginURL": {"type": "string"},
                "status": {"type": "string", "enum": ["pending", "completed", "cancelled"]},
                "apiKey": {"type": "string"},
                "userID": {"type": "integer"},
                "username": {"type": "string"}
            }
        },
        "CompleteLoginSessionRequest": {
            "type": "object",
            "properties": {
                "userID": {"type": "integer"},
                "username": {"type": "string"},
                "access": {"type": "object"}
            },
            "required": ["userID", "username"]
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

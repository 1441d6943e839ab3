// Package docs registers the admin API's swagger spec with
// swaggo/swag, the same shape `swag init` would generate from the
// handler annotations in handlers.go. Hand-maintained here because
// there is no Go toolchain available in this build to run swag.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{.Description}}",
        "version": "{{.Version}}"
    },
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "tags": ["system"],
                "summary": "Health check",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/status": {
            "get": {
                "tags": ["system"],
                "summary": "Node status",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/roster": {
            "get": {
                "tags": ["system"],
                "summary": "Family roster",
                "responses": {"200": {"description": "OK"}}
            }
        }
    }
}`

// SwaggerInfo mirrors the variable swag generates for each parsed
// package, registered below exactly the way its generated init() does.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "nsmesh admin API",
	Description:      "Read-only status and roster API for a running nsmesh node.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// Package docs holds the generated OpenAPI spec for the REST surface of
// spec §6. Regenerate with `swag init -g cmd/engine/main.go -o docs` after
// changing any @-annotated handler; this file is a build artifact, not
// meant to be hand-edited directly.
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
    "paths": {},
    "securityDefinitions": {
        "WebhookSecret": {
            "description": "Shared secret configured as AGENT_WEBHOOK_SECRET, sent as the x-api-key header",
            "type": "apiKey",
            "name": "x-api-key",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Purchase Order Resolve Engine API",
	Description:      "Batch dispatch and lifecycle engine for purchase-order worklists.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

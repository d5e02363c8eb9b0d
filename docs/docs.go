// Package docs 注册 Swagger 文档，供 /swagger 页面读取
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
        "ApiKeyAuth": {"type": "apiKey", "name": "X-API-Key", "in": "header"}
    },
    "paths": {
        "/webhook": {
            "post": {
                "tags": ["Webhook"],
                "summary": "上行 webhook",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "X-Webhook-Secret", "in": "header"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "processed / partial", "schema": {"$ref": "#/definitions/webhook.Body"}},
                    "202": {"description": "unassigned", "schema": {"$ref": "#/definitions/webhook.Body"}},
                    "400": {"description": "bad payload", "schema": {"$ref": "#/definitions/webhook.Body"}},
                    "401": {"description": "secret missing or invalid", "schema": {"$ref": "#/definitions/webhook.Body"}},
                    "500": {"description": "history write failed", "schema": {"$ref": "#/definitions/webhook.Body"}}
                }
            }
        },
        "/api/emulator/state": {"get": {"tags": ["模拟器"], "summary": "查询会话状态", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}}},
        "/api/emulator/bundle": {"get": {"tags": ["模拟器"], "summary": "预览同步包", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}}},
        "/api/emulator/preflight": {"get": {"tags": ["模拟器"], "summary": "预检", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}}},
        "/api/emulator/pull": {"post": {"tags": ["模拟器"], "summary": "拉取组织状态", "security": [{"ApiKeyAuth": []}], "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"type": "object", "properties": {"org_id": {"type": "string"}, "selected_user_id": {"type": "string"}, "default_site_hint": {"type": "string"}}}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}, "400": {"description": "invalid org id", "schema": {"$ref": "#/definitions/api.StandardResponse"}}, "502": {"description": "platform failure", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}}},
        "/api/emulator/push": {"post": {"tags": ["模拟器"], "summary": "推送同步包", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "success / partial / failed in data.kind", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}}},
        "/api/emulator/site": {"put": {"tags": ["模拟器"], "summary": "切换站点", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}}},
        "/api/emulator/reset": {"post": {"tags": ["模拟器"], "summary": "重置会话", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}}},
        "/api/emulator/devices": {"post": {"tags": ["模拟器 - 设备"], "summary": "新增设备", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}}},
        "/api/emulator/devices/{id}": {
            "put": {"tags": ["模拟器 - 设备"], "summary": "更新设备", "security": [{"ApiKeyAuth": []}], "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}, "409": {"description": "credentials locked", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}},
            "delete": {"tags": ["模拟器 - 设备"], "summary": "删除设备", "security": [{"ApiKeyAuth": []}], "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}, "404": {"description": "not found", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}}
        },
        "/api/emulator/devices/{id}/credentials": {"put": {"tags": ["模拟器 - 设备"], "summary": "设置设备凭证", "security": [{"ApiKeyAuth": []}], "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}}},
        "/api/emulator/devices/{id}/credentials/generate": {"post": {"tags": ["模拟器 - 设备"], "summary": "生成设备凭证", "security": [{"ApiKeyAuth": []}], "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}}},
        "/api/emulator/gateways": {"post": {"tags": ["模拟器 - 网关"], "summary": "新增网关", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}}},
        "/api/emulator/gateways/{id}": {
            "put": {"tags": ["模拟器 - 网关"], "summary": "更新网关", "security": [{"ApiKeyAuth": []}], "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}},
            "delete": {"tags": ["模拟器 - 网关"], "summary": "删除网关", "security": [{"ApiKeyAuth": []}], "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}}
        },
        "/api/emulator/lock": {
            "get": {"tags": ["模拟器 - 操作员锁"], "summary": "查询操作员锁", "security": [{"ApiKeyAuth": []}], "parameters": [{"type": "string", "name": "org_id", "in": "query", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}},
            "post": {"tags": ["模拟器 - 操作员锁"], "summary": "获取操作员锁", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}, "409": {"description": "held by another operator", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}}
        },
        "/api/emulator/lock/heartbeat": {"post": {"tags": ["模拟器 - 操作员锁"], "summary": "操作员锁心跳", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}, "409": {"description": "lock lost", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}}},
        "/api/emulator/lock/release": {"post": {"tags": ["模拟器 - 操作员锁"], "summary": "释放操作员锁", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}}},
        "/api/ttn/provision": {"post": {"tags": ["TTN"], "summary": "TTN 设备编排", "security": [{"ApiKeyAuth": []}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}, "503": {"description": "ttn key missing", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}}},
        "/api/webhook/unassigned": {"get": {"tags": ["Webhook"], "summary": "未归属上行", "security": [{"ApiKeyAuth": []}], "parameters": [{"type": "integer", "name": "limit", "in": "query"}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StandardResponse"}}}}}
    },
    "definitions": {
        "api.StandardResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer"},
                "message": {"type": "string"},
                "data": {},
                "request_id": {"type": "string"},
                "timestamp": {"type": "integer"}
            }
        },
        "webhook.Body": {
            "type": "object",
            "properties": {
                "ok": {"type": "boolean"},
                "status": {"type": "string", "enum": ["processed", "partial", "unassigned", "rejected", "error"]},
                "dev_eui": {"type": "string"},
                "org_id": {"type": "string"},
                "sensor_id": {"type": "string"},
                "resolution": {"type": "string"},
                "history_id": {"type": "integer"},
                "warnings": {"type": "array", "items": {"type": "string"}},
                "error_code": {"type": "string"},
                "error": {"type": "string"},
                "hint": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "FrostGuard LoRaWAN Emulator API",
	Description:      "模拟器会话控制、TTN 设备编排与上行 webhook",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

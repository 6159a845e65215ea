// Package api provides the HTTP API for jenkdash.
//
//	@title						jenkdash API
//	@version					1.0
//	@description				Single-operator Jenkins dashboard backend.
//	@description				Every /jenkins endpoint answers with {success, message, data}.
//
//	@contact.name				ethPandaOps
//	@contact.url				https://github.com/ethpandaops/jenkdash
//
//	@license.name				MIT
//	@license.url				https://github.com/ethpandaops/jenkdash/blob/main/LICENSE
//
//	@host						localhost:8080
//	@BasePath					/api/v1
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"
//
//	@tag.name					auth
//	@tag.description			Operator authentication
//
//	@tag.name					jenkins
//	@tag.description			Jenkins session, jobs and server information
//
//	@tag.name					audit
//	@tag.description			Audit log
//
//	@tag.name					system
//	@tag.description			System health and status
//
//	@tag.name					websocket
//	@tag.description			Real-time event streaming
package api

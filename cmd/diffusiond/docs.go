package main

// General API documentation for swaggo. Regenerate with `swag init -g cmd/diffusiond/docs.go`.
//
// @title           diffusiond API
// @version         1.0
// @description     OpenAI-compatible HTTP API for text-to-image generation.
//
// @contact.name   diffusiond maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
//
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization

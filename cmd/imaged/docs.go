package main

// General API documentation for swaggo. Regenerate docs/ with
// `swag init -g cmd/imaged/docs.go`.
//
// @title           imaged API
// @version         1.0
// @description     HTTP API for image generation engines, generators and jobs.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http

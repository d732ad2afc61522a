// Package http provides the shared HTTP surface of the gateway: response
// envelopes, the business error writer, request validation and the Fiber
// middlewares every route mounts.
package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// SuccessResponse is the wire shape of every successful gateway reply.
// Result carries the operation payload; Metadata carries caller-supplied
// correlation values echoed back verbatim.
type SuccessResponse struct {
	Success         bool           `json:"success"`
	Result          any            `json:"result,omitempty"`
	BankName        string         `json:"bankName,omitempty"`
	TransactionType string         `json:"transactionType,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ErrorResponse is the wire shape of every failed gateway reply. Error is the
// caller-facing message; Code and Title identify the business error class.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Title   string `json:"title,omitempty"`
}

// OK sends an HTTP 200 OK response with a custom body.
func OK(c *fiber.Ctx, s any) error {
	return c.Status(http.StatusOK).JSON(s)
}

// Created sends an HTTP 201 Created response with a custom body.
func Created(c *fiber.Ctx, s any) error {
	return c.Status(http.StatusCreated).JSON(s)
}

// Accepted sends an HTTP 202 Accepted response with a custom body.
func Accepted(c *fiber.Ctx, s any) error {
	return c.Status(http.StatusAccepted).JSON(s)
}

// NoContent sends an HTTP 204 No Content response without a body.
func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(http.StatusNoContent)
}

// JSONResponse sends a custom status code and body as a JSON response.
func JSONResponse(c *fiber.Ctx, status int, s any) error {
	return c.Status(status).JSON(s)
}

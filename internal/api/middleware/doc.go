// Package middleware provides gin middleware for the HTTP gateway.
package middleware

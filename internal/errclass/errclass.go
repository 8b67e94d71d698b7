// Package errclass classifies upstream RPC/HTTP errors so the scanners can
// decide whether to retry locally or surface the failure to the caller.
//
// Classification prefers the provider's structured error code and only
// falls back to substring matching on the error text when no code is
// available, since raw substring matching on provider messages is brittle
// across providers.
package errclass

import (
	"errors"
	"strings"
)

// Class is the outcome of classifying an upstream error.
type Class int

const (
	// Unknown means the error could not be classified; treat as permanent.
	Unknown Class = iota
	// Transient means the caller should retry (optionally with a smaller
	// request) rather than surface the error.
	Transient
	// Permanent means the error should propagate to the caller unchanged.
	Permanent
)

// rpcCoder is implemented by go-ethereum's rpc.Error and similar
// JSON-RPC error types that carry a provider error code.
type rpcCoder interface {
	ErrorCode() int
}

// retryableCodes are JSON-RPC error codes known to mean "ask again with a
// smaller request": -32062 (limit exceeded) and -32005 (rate limited /
// range too large, provider-dependent).
var retryableCodes = map[int]bool{
	-32062: true,
	-32005: true,
}

// retryableSubstrings are matched only when the error carries no code at
// all (plain HTTP client errors, context deadline wrapped text, etc).
var retryableSubstrings = []string{
	"range is too large",
	"block range",
	"query returned more than",
	"limit exceeded",
	"timeout",
	"too many requests",
	"rate limit",
}

// Classify inspects err and returns whether it represents a transient
// upstream condition the caller should retry.
func Classify(err error) Class {
	if err == nil {
		return Unknown
	}

	var coder rpcCoder
	if errors.As(err, &coder) {
		if retryableCodes[coder.ErrorCode()] {
			return Transient
		}
		return Permanent
	}

	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return Transient
		}
	}
	return Permanent
}

// SPDX-License-Identifier: MPL-2.0

// Package issue wraps errors that reach the user with the operation that
// failed, the resource involved and suggestions for fixing it.
package issue

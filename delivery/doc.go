// Package delivery sends one logical notification to every device token of
// its recipient and classifies each per-token outcome.
//
// The push provider is consumed through the [Transport] capability. A
// token is only ever reported invalid when the provider returns an explicit
// per-token verdict saying so; a failed provider call marks every token in
// that call as a transient failure.
package delivery

// Package provider implements the Provider Dispatcher: a registry of remote
// image transformation endpoints behind one Dispatch call, with per-provider
// sliding-window rate limiting, linear retry on transport failures and bounded
// failover to the next usable provider.
//
// Request shaping is selected by the provider's Kind. Gemini uses the genai
// SDK, Qwen uses the DashScope HTTP API and custom providers use the generic
// JSON contract.
package provider

// Package api is the local control surface of the service: job submission
// and lifecycle, image staging, provider registry, cache and hot folder
// management, and a server-sent event stream of job events. It translates
// HTTP concerns to calls on the scheduler and its collaborators.
package api

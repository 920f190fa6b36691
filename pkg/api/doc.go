/*
Package api is the REST client for the cluster controller.

It carries the wire types shared by the front-ends (job descriptors,
allocation responses, back-channel callback messages, job records and
updates) and a thin HTTP client that maps controller error envelopes
onto typed errors. SubmitError distinguishes retryable busy conditions
from immediate-mode refusals and fatal configuration conflicts;
TransportError wraps everything below HTTP.

Authentication is a bearer-style X-SLURM-USER-TOKEN header taken from
the client configuration.
*/
package api

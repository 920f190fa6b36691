/*
Package log provides structured logging for the slurmc tools using zerolog.

All three binaries share one global logger. Console output mimics the
classic "prog: message" diagnostic prefix; scrun can switch to JSON with
RFC3339 timestamps via --log-format=json. Verbosity is the max of the -v
repeat count and the *_DEBUG environment variables, resolved by the
caller before Init.

Usage:

	log.Init(log.Config{Program: "salloc", Verbosity: 1})
	log.Info("Granted job allocation 1234")

	allocLog := log.WithComponent("alloc")
	allocLog.Debug().Uint32("job_id", 1234).Msg("waiting for readiness")
*/
package log

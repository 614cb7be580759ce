/*
Package server manages the lifecycle of the gateway's HTTP listener:
non-blocking start, graceful shutdown and signal handling.

Manager wraps net/http.Server. Start binds the listener and serves in a
background goroutine; Shutdown drains in-flight requests within the
configured timeout; WaitForShutdown blocks until SIGINT/SIGTERM or an
asynchronous serve error and then shuts down.
*/
package server

/*
Package api is the gateway's thin HTTP surface: JSON handlers over the
engine for team registration, routing, task dispatch, the decision
ledger and gateway statistics, plus Prometheus exposition.

NewMux mounts everything on a net/http ServeMux:

	POST   /api/v1/teams              register or re-register a team
	GET    /api/v1/teams              list teams (?capability= filters)
	GET    /api/v1/teams/{id}         one team
	DELETE /api/v1/teams/{id}         unregister
	GET    /api/v1/teams/{id}/status  health and breaker state
	POST   /api/v1/route              rank candidates without dispatching
	POST   /api/v1/tasks              route and dispatch a task
	POST   /api/v1/teams/{id}/task    dispatch to an explicit team
	GET    /api/v1/decisions          scan the routing ledger
	GET    /api/v1/decisions/{id}     one decision
	GET    /api/v1/stats              aggregate and per-team statistics
	GET    /api/v1/capabilities       capability inventory
	GET    /health, /healthz          gateway liveness
	GET    /version                   build information
	GET    /metrics                   Prometheus exposition

Authentication is out of scope; put the gateway behind a proxy that
handles it.
*/
package api

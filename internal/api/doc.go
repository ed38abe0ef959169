// Package api hosts the delegating HTTP endpoint. Notable routes:
//   - GET /egp runs the SQL query through the retrying fetcher and relays the
//     portal's JSON verbatim, so a watcher that cannot reach the portal
//     directly can use this service as its last tier.
//   - GET /healthz / readyz for probes.
//   - GET /metrics for Prometheus scraping.
package api

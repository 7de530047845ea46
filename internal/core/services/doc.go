// Package services contains the core business logic of kiln.
//
// Services implement the driving ports and depend only on the driven
// ports, never on concrete adapters. The pipeline orchestrator, dirty-set
// resolver, session cache, circuit breaker, and the two built-in
// consumers (hash record writer, embedding gate) all live here.
package services

package model

import "time"

// Route identifies which layer produced the accepted classification.
type Route string

// Route constants.
const (
	RouteCache       Route = "cache"
	RouteSimilarity  Route = "similarity"
	RouteStatistical Route = "statistical"
	RouteRemote      Route = "remote"
	RouteUnresolved  Route = "unresolved"
)

// Valid reports whether r is one of the defined route values.
func (r Route) Valid() bool {
	switch r {
	case RouteCache, RouteSimilarity, RouteStatistical, RouteRemote, RouteUnresolved:
		return true
	}
	return false
}

// Decision records the outcome of a single classification request.
// Created exactly once per request; only the correctness flag is mutated
// later, when user feedback arrives.
type Decision struct {
	CreatedAt       time.Time
	ID              string
	TransactionID   string
	MerchantName    string
	Route           Route
	Reasoning       string
	CategoryID      int
	ComplexityScore float64
	Confidence      float64
	CostCents       int64
	Latency         time.Duration
	Correct         *bool // nil until feedback arrives
}

// Result is the classification outcome returned to the caller.
type Result struct {
	Reasoning  string
	Route      Route
	CategoryID int
	Confidence float64
	CostCents  int64
}

// Package bankquery turns banking analytics questions into validated
// QueryPlans and executes them over local datasets.
//
// Usage:
//
//	import "github.com/spektr-org/bankquery/pipeline"
//
//	p := pipeline.New(
//	    pipeline.WithClient(client, 3),
//	    pipeline.WithStore(datastore.NewEmbedded()),
//	)
//	resp := p.Ask(ctx, "Show monthly NSFR trend and flag months below 100%", "")
//
// A text generator (the translator package) drafts the plan. The schema
// package validates it and the repair loop asks the generator to fix it,
// falling back to an error plan. The engine executes the plan against a
// datastore without calling any external service.
package bankquery

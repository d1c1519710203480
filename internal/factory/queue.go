// Package factory assembles every collaborator (PRD, router, rate limiter,
// worker pool, merge coordinator, planner) into the orchestrator's main
// control loop (spec §4.I).
package factory

import (
	"sort"

	"github.com/gammazero/toposort"

	"ralph/internal/models"
	"ralph/internal/prd"
	"ralph/internal/router"
)

// buildQueue rebuilds the dispatch queue from the set of ready PRD items,
// excluding anything already queued, in progress, completed, or retired
// past the retry limit. It pre-sorts by dependency order with toposort
// (an item's dependencies, even once satisfied, are favoured to have
// unblocked their dependents first) and then stable-sorts by priority
// ascending, complexity descending (spec §4.I, §8's testable property).
func buildQueue(ready []prd.ReadyItem, excluded map[string]bool, retries map[string]int, retryLimit int, escalateOnRetry bool) []models.FactoryTask {
	candidates := make([]prd.ReadyItem, 0, len(ready))
	for _, r := range ready {
		if excluded[r.Item.ID] {
			continue
		}
		if retries[r.Item.ID] > retryLimit {
			continue
		}
		candidates = append(candidates, r)
	}

	order := dependencyOrder(candidates)

	tasks := make([]models.FactoryTask, 0, len(candidates))
	for _, r := range candidates {
		tasks = append(tasks, router.BuildFactoryTask(r.Item, r.PrdFilePath, r.PrdCategory, retries[r.Item.ID], escalateOnRetry))
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		pi, pj := tasks[i].Item.Priority, tasks[j].Item.Priority
		if pi != pj {
			return pi.Less(pj)
		}
		if tasks[i].ComplexityScore != tasks[j].ComplexityScore {
			return tasks[i].ComplexityScore > tasks[j].ComplexityScore
		}
		return order[tasks[i].ID] < order[tasks[j].ID]
	})

	return tasks
}

// dependencyOrder topologically sorts candidates by DependsOn, returning
// each id's position in that order. A cycle or unresolvable edge (a
// dependency outside this candidate set, already satisfied elsewhere)
// falls back to the input order rather than blocking the queue, since
// completeness has already been checked by IsReady upstream.
func dependencyOrder(candidates []prd.ReadyItem) map[string]int {
	ids := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		ids[c.Item.ID] = true
	}

	var edges []toposort.Edge
	for _, c := range candidates {
		hasInternalDep := false
		for _, dep := range c.Item.DependsOn {
			if ids[dep] {
				edges = append(edges, toposort.Edge{dep, c.Item.ID})
				hasInternalDep = true
			}
		}
		if !hasInternalDep {
			edges = append(edges, toposort.Edge{nil, c.Item.ID})
		}
	}

	order := make(map[string]int, len(candidates))
	sorted, err := toposort.Toposort(edges)
	if err != nil {
		for i, c := range candidates {
			order[c.Item.ID] = i
		}
		return order
	}

	i := 0
	for _, v := range sorted {
		id, ok := v.(string)
		if !ok {
			continue
		}
		if _, already := order[id]; already {
			continue
		}
		order[id] = i
		i++
	}
	for _, c := range candidates {
		if _, ok := order[c.Item.ID]; !ok {
			order[c.Item.ID] = i
			i++
		}
	}
	return order
}

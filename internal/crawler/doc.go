// Package crawler implements the depth-bounded channel discovery engine: the
// domain types, the ports it drives (entity store, source client, job queue),
// the orchestrator that runs one crawl pass over an entity, and the trigger
// that seeds a traversal.
package crawler

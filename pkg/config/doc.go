// Package config loads everything the catalog reads from disk: schema
// documents, datasets of root facts, single fact files and the catalog.yaml
// configuration itself.
//
// # Schema documents
//
// A schema document lists type definitions. It may be written in YAML, JSON
// or CUE; CUE sources are evaluated first, so they can share definitions
// through references and comprehensions:
//
//	_name: {inherits: ["String"]}
//
//	types: [
//		{name: "Title"} & _name,
//		{
//			name: "Film"
//			fields: [{name: "title", type: "Title"}, {name: "cast", type: "Actor[]"}]
//		},
//	]
//
// Every document is checked twice: against the validator struct tags on
// schema.Document and against the built-in #SchemaDocument CUE definition
// held by SchemaRegistry. Problems are collected as ValidationError values
// with file positions where CUE provides them.
//
//	loader := config.NewSchemaLoader(logger)
//	s, err := loader.Load(ctx, []string{"schemas/", "extra.cue"})
//
// # Datasets
//
// A dataset is a list of {type, value} facts. YAML, JSON and CUE datasets
// are decoded directly; a Starlark dataset is executed and must assign a
// global named facts.
//
// # Predicates
//
// StarlarkPredicate turns an expression such as `not is_null and value > 7`
// into a facts.ValidityPredicate. Evaluation is bounded by a step limit and
// any evaluation error rejects the candidate.
//
// # Watching
//
// Watcher reports changes to schema and dataset files, coalescing bursts of
// file system events into a single callback.
package config

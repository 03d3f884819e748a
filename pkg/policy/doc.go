// Package policy evaluates Rego validity policies against candidate facts.
//
// A policy is a Rego module whose package document may define a boolean
// rule named valid, a set rule named deny, or both. A candidate passes when
// valid is not false and deny is empty; the deny messages are returned as
// the reasons of a Decision.
//
// Each candidate is presented to Rego as an Input document:
//
//	{
//	  "value": {"title": "Jaws", "imdbScore": 8.1},
//	  "type": "Film",
//	  "inherits": [],
//	  "source": {"kind": "provided", "id": "provided"},
//	  "is_null": false
//	}
//
// # Built-in policies
//
//   - exclude_failed_sources rejects placeholders of failed operations
//   - non_null_values rejects null values
//   - provided_only accepts provided and schema-defined values only
//
// # Usage
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := engine.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//	validity, err := engine.Predicate(policy.ExcludeFailedSources, "short_titles")
//	if err != nil {
//	    return err
//	}
//	title := bag.GetFactOrNil(s.MustType("Title"), facts.AnyDepthExpectOne, validity)
//
// The predicate returned by Engine.Predicate embeds each policy's revision in
// its ID. Reloading or disabling a policy changes the ID, so a fact bag never
// serves a cached result computed under a previous revision.
//
// Loader reads .rego files, .json policies and .json bundles. It rejects
// modules that define neither valid nor deny, and can watch its paths,
// publishing a PolicyReloaded event for every reload.
package policy

// Package dynaquery derives DynamoDB-family query plans from entity
// metadata and finder method names.
//
// Given a struct annotated with `dynaquery` tags describing its partition
// key, optional sort key, and secondary index memberships, and a finder
// name of the form "FindByCustomerIdAndOrderDateBetween", the package
// parses the name into an ordered list of criteria, chooses the cheapest
// viable backend operation (a point Get, a single-partition Query against
// the table or one of its indexes, or a full Scan), and synthesizes the
// key-condition expression, filter expression, and placeholder maps for
// that operation.
//
// The pipeline has six stages, each in its own file: entity metadata
// (metadata.go), method-name parsing (methodname.go), criteria
// accumulation (criteria.go), index selection (index.go), expression
// synthesis (expression.go), and request dispatch (dispatcher.go).
// Repository.Find ties all six together; callers who want a single
// derived query without a repository can drive the stages directly.
package dynaquery

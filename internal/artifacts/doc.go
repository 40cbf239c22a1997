// Package artifacts resolves object keys produced by handlers into
// downloadable references.
//
// When storage is configured the resolver confirms the object exists in the
// bucket and returns a presigned GET URL. Without storage, keys pass through
// unchanged so a pipeline can run against a local filesystem.
package artifacts

// Package internalcheck holds source-level checks on the zenoh packages.
//
// It contains tests only and is not meant to be imported.
package internalcheck

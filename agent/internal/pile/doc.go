// Package pile resolves the metadata (start date, feedstock masses and
// location) of every configured pile from its attribute backend.
package pile

// SPDX-License-Identifier: MPL-2.0

// Package cueutil holds the CUE decoding path shared by the project file and
// the tool configuration.
//
// Decoding always follows the same three steps: compile the embedded schema,
// compile the user document and unify it with the schema definition, then
// validate and decode into a Go value.
//
//	//go:embed project_schema.cue
//	var projectSchema []byte
//
//	res, err := cueutil.ParseAndDecode[File](projectSchema, data, "#Project",
//		cueutil.WithFilename("buildmc.cue"))
//
// Errors carry the file name and a JSON-style path to the offending field
// (for example "buildmc.cue: dependencies[1].deployment: ...").
package cueutil

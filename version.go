// Package warden holds project-wide metadata.
package warden

// Version is the warden release version.
const Version = "0.3.1"

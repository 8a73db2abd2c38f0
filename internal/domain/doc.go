// Package domain holds the core types shared across the console: account
// roles, session handles, launch descriptors, session artifacts, and the
// persistence strategy resolver. It has no dependencies on transport or
// storage packages.
package domain

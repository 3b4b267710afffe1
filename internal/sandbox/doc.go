// Package sandbox prepares isolated build directories and environments for
// packages and launches processes inside them.
//
// The environment seen by a build or by a dispatched command is layered, from
// lowest to highest precedence:
//
//  1. the base process environment, optionally filtered by an allowlist
//  2. each dependency's exported environment, later dependencies winning
//  3. the package's own exported environment
//  4. reserved variables (cur__name, cur__install, <dep>__install, ...) and
//     PATH with the package and dependency bin directories prepended
package sandbox

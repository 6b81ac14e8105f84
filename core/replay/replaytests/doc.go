// Package replaytests runs the replay engine against every store
// implementation of this module.
package replaytests

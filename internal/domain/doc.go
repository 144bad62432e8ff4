// Package domain contains the core entities of the bridge: the Run and
// its lifecycle status. Runs move forward-only through their status
// transitions; the rules live here so that every store implementation
// enforces the same invariants.
package domain

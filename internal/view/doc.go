// Package view selects the top-level view a frontend should render.
//
// Select is a pure function over the resolved application state. The
// precedence between branches (demo before everything, loading before
// mode branching, provisioning before the wizard, and so on) is encoded
// as an ordered rule table rather than nested conditionals, so the
// ordering is explicit and testable on its own.
package view

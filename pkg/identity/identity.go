// Package identity resolves (pid, command) observations into stable labels
// for one aggregation run.
//
// The first command seen for a pid gets the bare pid as its label. Each
// later, different command for the same pid gets "pid(n)" with n counting
// from 2. Labels are never persisted: create a Resolver per run.
package identity

import "strconv"

// Identity is one minted label and the command it stands for.
type Identity struct {
	Label   string
	PID     int
	Command string
}

type entry struct {
	command string
	label   string
}

// Resolver holds the per-run pid history. It is not safe for concurrent use.
type Resolver struct {
	byPID map[int][]entry
	order []Identity
}

// NewResolver returns an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{byPID: make(map[int][]entry)}
}

// Resolve returns the label for (pid, command), minting one on first sight.
func (r *Resolver) Resolve(pid int, command string) string {
	seen := r.byPID[pid]
	for _, e := range seen {
		if e.command == command {
			return e.label
		}
	}

	label := strconv.Itoa(pid)
	if len(seen) > 0 {
		label += "(" + strconv.Itoa(len(seen)+1) + ")"
	}
	r.byPID[pid] = append(seen, entry{command: command, label: label})
	r.order = append(r.order, Identity{Label: label, PID: pid, Command: command})
	return label
}

// Identities returns every minted identity in first-appearance order.
func (r *Resolver) Identities() []Identity {
	out := make([]Identity, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of minted identities.
func (r *Resolver) Len() int {
	return len(r.order)
}

package models

import "slices"

// Permissions maps a feature name to the actions allowed on it,
// e.g. {"billing": ["view", "create"]}.
type Permissions map[string][]string

// Has reports whether action is listed under feature.
func (p Permissions) Has(feature, action string) bool {
	return slices.Contains(p[feature], action)
}

// Merge returns the union of p and other. Neither input is modified.
func (p Permissions) Merge(other Permissions) Permissions {
	out := make(Permissions, len(p)+len(other))
	for _, src := range []Permissions{p, other} {
		for feature, actions := range src {
			for _, action := range actions {
				if !slices.Contains(out[feature], action) {
					out[feature] = append(out[feature], action)
				}
			}
		}
	}
	return out
}

// Covers reports whether every feature/action pair in sub is also in p.
func (p Permissions) Covers(sub Permissions) bool {
	for feature, actions := range sub {
		for _, action := range actions {
			if !p.Has(feature, action) {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy of p.
func (p Permissions) Clone() Permissions {
	out := make(Permissions, len(p))
	for feature, actions := range p {
		out[feature] = slices.Clone(actions)
	}
	return out
}

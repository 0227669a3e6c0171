package core

// Invocation is the caller configuration passed unchanged through every
// layer of a turn: who is asking, which model to use, and feature flags.
type Invocation struct {
	SessionID string
	UserID    string
	Provider  string
	Model     string
	Flags     map[string]any
}

// Flag reports whether a boolean feature flag is set.
func (inv Invocation) Flag(name string) bool {
	if inv.Flags == nil {
		return false
	}
	v, ok := inv.Flags[name].(bool)
	return ok && v
}

// StringFlag returns a string-valued flag, or the empty string.
func (inv Invocation) StringFlag(name string) string {
	if inv.Flags == nil {
		return ""
	}
	v, _ := inv.Flags[name].(string)
	return v
}

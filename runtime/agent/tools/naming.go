package tools

import "strings"

// NamingStrategy transforms tool names at registration time so tools from
// different sources can coexist within one prompt runner scope.
type NamingStrategy func(name string) string

// IdentityNaming leaves tool names unchanged.
func IdentityNaming() NamingStrategy {
	return func(name string) string { return name }
}

// PrefixNaming prepends the given prefix followed by an underscore. Both the
// prefix and the resulting name are sanitized to the provider-safe character
// set [a-zA-Z0-9_].
func PrefixNaming(prefix string) NamingStrategy {
	return func(name string) string {
		if prefix == "" {
			return SanitizeName(name)
		}
		return SanitizeName(prefix + "_" + name)
	}
}

// NamingFunc adapts an arbitrary transform into a NamingStrategy. The result
// is sanitized.
func NamingFunc(fn func(string) string) NamingStrategy {
	return func(name string) string { return SanitizeName(fn(name)) }
}

// ApplyNaming returns copies of the given tools with the strategy applied to
// their definition names.
func ApplyNaming(ts []Tool, strategy NamingStrategy) []Tool {
	out := make([]Tool, len(ts))
	for i, t := range ts {
		out[i] = t.renamed(strategy(t.Definition.Name))
	}
	return out
}

// SanitizeName replaces every character outside [a-zA-Z0-9_] with an
// underscore. Providers commonly reject other characters in tool names.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

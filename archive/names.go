package archive

import "strings"

// UnitPath maps a qualified unit name to its archive path.
func UnitPath(qualifiedName string) string {
	return strings.ReplaceAll(qualifiedName, ".", "/") + UnitExt
}

// PackageOf returns the package part of a qualified name, or "" for units in
// the default package.
func PackageOf(qualifiedName string) string {
	if i := strings.LastIndexByte(qualifiedName, '.'); i >= 0 {
		return qualifiedName[:i]
	}
	return ""
}

// PackageOfPath returns the package owning a resource path.
func PackageOfPath(p string) string {
	p = strings.TrimPrefix(p, "/")
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return strings.ReplaceAll(p[:i], "/", ".")
}

// MatchPackage reports whether pkg matches pattern. Patterns are exact names,
// "*" for everything, or a "prefix.*" wildcard matching prefix and its
// sub-packages.
func MatchPackage(pattern, pkg string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, ".*"):
		prefix := strings.TrimSuffix(pattern, ".*")
		return pkg == prefix || strings.HasPrefix(pkg, prefix+".")
	default:
		return pattern == pkg
	}
}

// Package supertype answers class-hierarchy questions without ever loading
// a class: it reads just enough of each .class file's header (superclass,
// interfaces, access flags) to walk the hierarchy, the way a verifier
// resolves supertypes during bytecode verification rather than running the
// JVM's actual classloader (spec §5 "no class loading").
package supertype

import (
	"strings"

	"github.com/VirtusLab/lazyvalgrade/classfile"
)

// jdkPrefixes lists the internal-name prefixes this resolver is willing to
// answer IsAssignableFrom for via its fallback table (below), since
// java.lang.Object, java.lang.Integer and friends are never present as a
// .class file anywhere in a source tree being patched.
var jdkPrefixes = []string{"java/", "javax/", "jdk/", "sun/"}

// ClassInfo is the header-only shape this package needs from a .class
// file: its own name, its superclass, and its declared interfaces.
type ClassInfo struct {
	Name       string
	Super      string
	Interfaces []string
}

// Resolver answers supertype queries over a fixed set of classes (normally
// every .class file under a scan root, loaded once via Load) plus a small
// fallback table over the well-known JDK hierarchy for classes it
// never sees a .class file for.
type Resolver struct {
	classes map[string]ClassInfo
}

// NewResolver returns an empty Resolver; call Load to populate it.
func NewResolver() *Resolver {
	return &Resolver{classes: map[string]ClassInfo{}}
}

// Load parses just the header of data (via classfile.ReadSuperclassOnly)
// and records it under its internal name, so later IsAssignableFrom calls
// can walk the hierarchy without holding the full parsed class tree in
// memory for classes the rewriter itself never touches.
func (r *Resolver) Load(name string, data []byte) error {
	super, flags, ifaces, err := classfile.ReadSuperclassOnly(data)
	if err != nil {
		return err
	}
	r.classes[name] = ClassInfo{Name: name, Super: super, Interfaces: ifaces}
	_ = flags // access flags are read but not recorded
	return nil
}

// LoadClass records an already-parsed class's header directly, letting
// callers reuse a class they parsed in full for other reasons instead of
// re-reading its bytes just for the header.
func (r *Resolver) LoadClass(c *classfile.Class) {
	r.classes[c.Name] = ClassInfo{Name: c.Name, Super: c.SuperName, Interfaces: c.Interfaces}
}

// IsAssignableFrom reports whether a value of type sub can be assigned to
// a variable of type super - i.e. whether super is sub itself, one of its
// superclasses, or one of the interfaces implemented anywhere in that
// chain. Classes outside the loaded set are resolved against the JDK
// fallback table when their name carries a jdkPrefixes prefix; anything
// else is treated as unknown and answered false, since this package never
// loads arbitrary bytecode off the classpath.
func (r *Resolver) IsAssignableFrom(super, sub string) bool {
	if super == sub || super == "java/lang/Object" {
		return true
	}

	visited := map[string]bool{}
	queue := []string{sub}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if cur == super {
			return true
		}

		if info, ok := r.classes[cur]; ok {
			if info.Super != "" {
				queue = append(queue, info.Super)
			}
			queue = append(queue, info.Interfaces...)
			continue
		}

		if isJDKName(cur) {
			if parent, ok := jdkFallback(cur); ok {
				queue = append(queue, parent)
			}
		}
	}
	return false
}

func isJDKName(name string) bool {
	for _, p := range jdkPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// jdkFallback answers a handful of JDK superclass edges (boxed wrapper
// types and common collection roots); it is not a general classpath
// scanner, and any other JDK name has no known parent here.
func jdkFallback(name string) (string, bool) {
	switch name {
	case "java/lang/Integer", "java/lang/Long", "java/lang/Short", "java/lang/Byte",
		"java/lang/Double", "java/lang/Float":
		return "java/lang/Number", true
	case "java/lang/Number", "java/lang/Boolean", "java/lang/Character", "java/lang/String":
		return "java/lang/Object", true
	case "java/util/ArrayList", "java/util/LinkedList":
		return "java/util/AbstractList", true
	case "java/util/AbstractList":
		return "java/util/AbstractCollection", true
	case "java/util/AbstractCollection":
		return "java/lang/Object", true
	default:
		return "", false
	}
}

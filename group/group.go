// Package group matches each class to its companion, the way the Scala 3
// compiler itself pairs a `class Foo` with its `object Foo` at compile time:
// a class that owns an ObjectUnsafe-family lazy val keeps the computed value
// on its own instance but may publish the OFFSET field and <clinit> CAS
// sequence from the companion object instead, so the rewriter must treat
// the pair as one atomic rewrite unit or risk leaving one half patched and
// the other half referencing scaffold that no longer exists.
package group

import (
	"strings"

	"github.com/VirtusLab/lazyvalgrade/classfile"
	"github.com/VirtusLab/lazyvalgrade/detect"
)

// Kind distinguishes a lone class from a class/companion-object pair.
type Kind int

const (
	Singleton Kind = iota
	CompanionPair
)

// Group is one unit of work for the rewriter: either a single class, or a
// class and its companion object classfile, plus every lazy val accessor
// detected across both.
type Group struct {
	Kind Kind

	Class     *classfile.Class
	Companion *classfile.Class // nil for Singleton

	LazyVals []detect.LazyValInfo
}

// companionSuffix is the classfile-name suffix javac/dotty give a module
// (Scala `object`) class; "Foo" and "Foo$" are the class/companion pair for
// source-level `class Foo` / `object Foo`.
const companionSuffix = "$"

// Build groups classes by name, pairing "Foo" with "Foo$" when both are
// present in the input set, and scans each resulting group for lazy val
// accessors via detect.DetectAll. A companion class with no matching plain
// class (a source-level standalone `object`) is also grouped as a
// Singleton — it has lazy vals of its own and no partner to coordinate with.
func Build(classes []*classfile.Class) []*Group {
	byName := make(map[string]*classfile.Class, len(classes))
	for _, c := range classes {
		byName[c.Name] = c
	}

	seen := make(map[string]bool, len(classes))
	var groups []*Group

	for _, c := range classes {
		if seen[c.Name] {
			continue
		}
		if isCompanion(c.Name) {
			plainName := strings.TrimSuffix(c.Name, companionSuffix)
			if plain, ok := byName[plainName]; ok && !seen[plainName] {
				seen[plainName] = true
				seen[c.Name] = true
				groups = append(groups, newGroup(plain, c))
				continue
			}
			// Standalone `object`, no sibling class in this input set.
			seen[c.Name] = true
			groups = append(groups, newGroup(c, nil))
			continue
		}

		companionName := c.Name + companionSuffix
		if companion, ok := byName[companionName]; ok && !seen[companionName] {
			seen[c.Name] = true
			seen[companionName] = true
			groups = append(groups, newGroup(c, companion))
			continue
		}

		seen[c.Name] = true
		groups = append(groups, newGroup(c, nil))
	}

	return groups
}

func isCompanion(name string) bool {
	return strings.HasSuffix(name, companionSuffix) && len(name) > len(companionSuffix)
}

func newGroup(primary, companion *classfile.Class) *Group {
	g := &Group{Class: primary}
	lazyVals := detect.DetectAll(primary)

	if companion != nil {
		g.Kind = CompanionPair
		g.Companion = companion
		lazyVals = append(lazyVals, detect.DetectAll(companion)...)
		resolveCompanionOffsets(primary, companion, lazyVals)
	} else {
		g.Kind = Singleton
	}

	g.LazyVals = lazyVals
	return g
}

// resolveCompanionOffsets fixes up LazyValInfo.OffsetOwner for ObjectUnsafe
// entries whose OFFSET field is not declared on the class that owns the
// lazy val but is declared on the other half of the pair, in either
// direction: a lazy val on primary with its OFFSET field on companion, or a
// lazy val on companion with its OFFSET field on primary.
func resolveCompanionOffsets(primary, companion *classfile.Class, infos []detect.LazyValInfo) {
	for i := range infos {
		if infos[i].Family != detect.ObjectUnsafe {
			continue
		}
		owner, partner := primary, companion
		if infos[i].Owner == companion.Name {
			owner, partner = companion, primary
		}
		if owner.FindField(infos[i].OffsetField, "J") == nil {
			if partner.FindField(infos[i].OffsetField, "J") != nil {
				infos[i].OffsetOwner = partner.Name
			}
		}
	}
}

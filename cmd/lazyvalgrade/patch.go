package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/VirtusLab/lazyvalgrade/classfile"
	"github.com/VirtusLab/lazyvalgrade/group"
	"github.com/VirtusLab/lazyvalgrade/internal/logging"
	"github.com/VirtusLab/lazyvalgrade/internal/walk"
	"github.com/VirtusLab/lazyvalgrade/lazyvalgrade"
)

var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "Scan --scan-root and rewrite every eligible lazy val accessor in place.",
	RunE:  runPatch,
}

func init() {
	rootCmd.AddCommand(patchCmd)
}

func runPatch(cmd *cobra.Command, args []string) error {
	c := resolveCfg()

	entries, err := walk.Discover(c.ScanRoot)
	if err != nil {
		return err
	}
	logging.Info("discovered class files", "count", len(entries), "root", c.ScanRoot)

	classes := make([]*classfile.Class, len(entries))
	byName := make(map[string]walk.Entry, len(entries))
	for i, e := range entries {
		classes[i] = e.Class
		byName[e.Class.Name] = e
	}

	groups := group.Build(classes)

	results := lazyvalgrade.PatchAllWithScanLimit(context.Background(), groups, c.Concurrency, c.ScanLimit)

	var patched, skipped, failed int
	jarBuffers := map[string]map[string][]byte{} // jar path -> member name -> bytes

	for _, res := range results {
		switch res.Kind {
		case lazyvalgrade.NotApplicable:
			skipped++
			logging.Trace("skipped group", "class", res.Group.Class.Name, "reason", res.Diagnostic.Reason)
		case lazyvalgrade.Failed:
			failed++
			if res.Diagnostic.Kind == lazyvalgrade.UnknownScheme {
				// Spec §9's never-throw boundary: an Unknown classification
				// must not be treated like an ordinary skip-and-move-on
				// failure, since the class still carries soon-to-be-removed
				// Unsafe references a JVM would fail to verify.
				color.Red("UNKNOWN %s: %s", res.Group.Class.Name, res.Diagnostic.Reason)
				continue
			}
			color.Red("FAILED  %s: %s", res.Group.Class.Name, res.Diagnostic.Reason)
		case lazyvalgrade.PatchedSingle, lazyvalgrade.PatchedPair:
			patched++
			color.Green("PATCHED %s (%s)", res.Group.Class.Name, res.Kind)
			if c.DryRun {
				continue
			}
			if err := writeOutput(res, byName, jarBuffers); err != nil {
				failed++
				color.Red("WRITE FAILED %s: %v", res.Group.Class.Name, err)
			}
		}
	}

	if !c.DryRun {
		for jarPath, members := range jarBuffers {
			if err := walk.RewriteJar(jarPath, jarPath, members); err != nil {
				return fmt.Errorf("rewriting %s: %w", jarPath, err)
			}
		}
	}

	fmt.Printf("patched=%d skipped=%d failed=%d\n", patched, skipped, failed)
	if failed > 0 {
		return fmt.Errorf("%d group(s) failed to patch", failed)
	}
	return nil
}

func writeOutput(res lazyvalgrade.PatchResult, byName map[string]walk.Entry, jarBuffers map[string]map[string][]byte) error {
	for className, data := range res.Output {
		entry, ok := byName[className]
		if !ok {
			continue
		}
		if entry.InJarEntry != "" {
			members := jarBuffers[entry.SourcePath]
			if members == nil {
				members = map[string][]byte{}
				jarBuffers[entry.SourcePath] = members
			}
			members[entry.InJarEntry] = data
			continue
		}
		if err := walk.WriteClass(entry.SourcePath, data); err != nil {
			return err
		}
	}
	return nil
}

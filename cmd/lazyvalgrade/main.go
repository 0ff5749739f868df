// Command lazyvalgrade retrofits Scala 3 lazy val accessors compiled
// against sun.misc.Unsafe or the inline bitmap scheme onto the
// java.lang.invoke.VarHandle scheme Scala 3.8 targets.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

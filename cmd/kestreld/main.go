// Command kestreld is the CLI harness around the kernel substrate: it can
// boot an in-process kernel simulation (memfs root, devfs /dev, sync
// worker, two demo threads) or mount a real host directory into one for
// manual poking, the way rclone's cmd/ tree wires cobra subcommands around
// its fs.Fs machinery.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kestrel-os/kestrel/internal/klog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kestreld",
		Short: "kestrel kernel substrate harness",
	}
	root.AddCommand(newBootCmd())
	root.AddCommand(newMountCmd())
	return root
}

func init() {
	klog.SetLevel(logrus.InfoLevel)
}

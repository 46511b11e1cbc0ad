package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kestrel-os/kestrel/backend/diskfs"
	"github.com/kestrel-os/kestrel/backend/memfs"
	"github.com/kestrel-os/kestrel/internal/kernel"
	"github.com/kestrel-os/kestrel/internal/klog"
)

func newMountCmd() *cobra.Command {
	var source, target string
	cmd := &cobra.Command{
		Use:   "mount",
		Short: "mount a host directory into a fresh in-process kernel via the diskfs driver and hold it up until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMount(source, target)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "host directory to mount")
	cmd.Flags().StringVar(&target, "target", "/mnt", "mountpoint inside the kernel's VFS")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func runMount(source, target string) error {
	k := kernel.New()
	defer k.Stop()

	if err := memfs.Register(k.VFS.Registry(), "memfs"); err != nil {
		return err
	}
	if err := k.Mount("none", "/", "memfs", 0, nil); err != nil {
		return err
	}

	if err := diskfs.Register(k.VFS.Registry(), "diskfs"); err != nil {
		return err
	}
	if err := k.Mount(source, target, "diskfs", 0, nil); err != nil {
		return fmt.Errorf("mount %q at %q: %w", source, target, err)
	}

	klog.Logf("kestreld", "mounted %q at %q; holding the kernel up for inspection until interrupted", source, target)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	klog.Logf("kestreld", "shutting down")
	return nil
}

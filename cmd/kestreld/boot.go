package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrel-os/kestrel/backend/devfs"
	"github.com/kestrel-os/kestrel/backend/memfs"
	"github.com/kestrel-os/kestrel/internal/kernel"
	"github.com/kestrel-os/kestrel/internal/klog"
	"github.com/kestrel-os/kestrel/internal/sched"
)

func newBootCmd() *cobra.Command {
	var priority uint8
	cmd := &cobra.Command{
		Use:   "boot",
		Short: "boot a kernel simulation: mount memfs at / and devfs at /dev, start the sync worker and demo threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoot(cmd.Context(), priority)
		},
	}
	cmd.Flags().Uint8Var(&priority, "priority", 1, "priority of the boot process's demo threads")
	return cmd
}

// sleepYielder backs /dev/kbd reads issued outside a scheduled thread (the
// boot demo never reads the kbd node itself, but devfs.Register still needs
// a concrete klock.Yielder to hand its open handles).
type sleepYielder struct{}

func (sleepYielder) Yield(ms int) { time.Sleep(time.Duration(ms) * time.Millisecond) }

func runBoot(ctx context.Context, priority uint8) error {
	k := kernel.New()
	defer k.Stop()

	if err := memfs.Register(k.VFS.Registry(), "memfs"); err != nil {
		return err
	}
	if err := k.Mount("none", "/", "memfs", 0, nil); err != nil {
		return err
	}

	if err := devfs.Register(k.VFS.Registry(), "devfs", k.Keyboard, sleepYielder{}); err != nil {
		return err
	}
	if err := k.Mount("none", "/dev", "devfs", 0, nil); err != nil {
		return err
	}

	// Ctrl-C read off the keyboard line discipline (scancode 0x2e while ctrl
	// is held) is swallowed by kbd's handler rather than producing a
	// character; §9 leaves what happens next open. Here it logs and requests
	// shutdown, the same way the OS-signal path below does, rather than
	// being silently dropped.
	shutdown := make(chan struct{}, 1)
	k.Keyboard.SetInterruptHandler(func() {
		klog.Logf("kestreld", "ctrl-C from keyboard line discipline")
		select {
		case shutdown <- struct{}{}:
		default:
		}
	})

	pid, err := k.CreateProcess(priority)
	if err != nil {
		return err
	}

	syncCtx, cancelSync := context.WithCancel(ctx)
	defer cancelSync()
	if _, err := k.StartSyncWorker(syncCtx, pid, priority); err != nil {
		return err
	}

	if _, err := k.ThreadCreate(pid, priority, demoWriter(k), nil); err != nil {
		return err
	}
	if _, err := k.ThreadCreate(pid, priority, demoReader(k), nil); err != nil {
		return err
	}

	klog.Logf("kestreld", "booted: memfs at /, devfs at /dev, pid %d", pid)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		klog.Logf("kestreld", "shutting down")
	case <-shutdown:
		klog.Logf("kestreld", "shutting down")
	case <-ctx.Done():
	}
	return nil
}

// demoWriter periodically writes a line to a memfs file, exercising open,
// write, close, and the scheduler's yield loop together.
func demoWriter(k *kernel.Kernel) func(t *sched.Thread, arg any) {
	return func(t *sched.Thread, arg any) {
		for i := 0; ; i++ {
			fd, err := k.Open("/boot.log", os.O_CREATE|os.O_WRONLY)
			if err == nil {
				_, _ = k.Write(fd, []byte(fmt.Sprintf("tick %d at %s\n", i, time.Now().Format(time.RFC3339))))
				_ = k.Close(fd)
			}
			t.Yield(1000)
		}
	}
}

// demoReader periodically reads the demo writer's output back, exercising
// the read side of the same file.
func demoReader(k *kernel.Kernel) func(t *sched.Thread, arg any) {
	return func(t *sched.Thread, arg any) {
		for {
			t.Yield(1500)
			fd, err := k.Open("/boot.log", os.O_RDONLY)
			if err != nil {
				continue
			}
			buf := make([]byte, 256)
			n, _ := k.Read(fd, buf)
			_ = k.Close(fd)
			klog.Debugf("kestreld", "read back %d bytes", n)
		}
	}
}

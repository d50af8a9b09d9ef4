package state

import (
	"context"
	"os/exec"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// Restart applies committed network identity by rebooting the device.
// Configured restart.command replaces direct reboot syscall, e.g. for systemd.
func (g *Global) Restart(ctx context.Context) error {
	g.Log.Infof("restart requested")
	g.Close()
	if cmd := g.Config.Restart.Command; len(cmd) != 0 {
		out, err := exec.CommandContext(ctx, cmd[0], cmd[1:]...).CombinedOutput()
		return errors.Annotatef(err, "restart command=%q output=%s", cmd, out)
	}
	unix.Sync()
	return errors.Annotate(unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART), "restart reboot")
}

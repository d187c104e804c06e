package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Linux truncates process names to 15 bytes.
const commLen = 15

// KillByName kills every process, other than this one, whose name matches
// the executable's base name. It returns how many it killed.
func KillByName(ctx context.Context, executable string) (int, error) {
	target := filepath.Base(executable)
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, err
	}

	self := int32(os.Getpid())
	killed := 0
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || !matchesName(name, target) {
			continue
		}
		if err := p.KillWithContext(ctx); err == nil {
			killed++
		}
	}
	return killed, ctx.Err()
}

func matchesName(name, target string) bool {
	if name == "" || target == "" {
		return false
	}
	if strings.EqualFold(name, target) {
		return true
	}
	return len(name) == commLen && len(target) > commLen &&
		strings.EqualFold(name, target[:commLen])
}

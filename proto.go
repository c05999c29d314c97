package combivox

import (
	"fmt"
	"strings"
)

// Panel endpoints. The firmware routes by path, the parameters travel as
// raw form bodies.
const (
	statusPath      = "/status9.xml"
	loginPath       = "/login.cgi"
	login2Path      = "/login2.cgi"
	armPath         = "/insAree.xml"
	bypassPath      = "/execBypass.xml"
	macroPath       = "/execChangeImp.xml?id=2"
	switchPath      = "/execCmd.xml"
	clearMemPath    = "/execDelMem.xml"
	reqProgPath     = "/reqProg.cgi"
	progLabelsPath  = "/labelProgStato.xml"
	macroIDsPath    = "/numMacro.xml"
	macroLabelsPath = "/labelMacro.xml"
	cmdIDsPath      = "/numComandiProg.xml"
	cmdLabelsPath   = "/labelComandi.xml"
	scriptPath      = "/jscript9.js"
)

// idcWeb tags every command as coming from the web interface.
const idcWeb = 49

// macroAck is the <nc> code the panel answers on a accepted macro run.
const macroAck = 31

// ArmMode selects how the panel treats open zones and exit delays.
type ArmMode int

const (
	// ArmNormal arms with the programmed exit delay.
	ArmNormal ArmMode = iota
	// ArmImmediate arms skipping the exit delay.
	ArmImmediate
	// ArmForced bypasses open zones, then arms with the delay.
	ArmForced
)

func (m ArmMode) String() string {
	switch m {
	case ArmImmediate:
		return "immediate"
	case ArmForced:
		return "forced"
	default:
		return "normal"
	}
}

// fIns is the wire flag for the mode.
func (m ArmMode) fIns() int {
	switch m {
	case ArmImmediate:
		return 2
	case ArmForced:
		return 1
	default:
		return 0
	}
}

// CommandKind enumerates the outbound actions the panel accepts.
type CommandKind int

const (
	KindArm CommandKind = iota + 1
	KindDisarm
	KindBypass
	KindMacro
	KindClearMemory
	KindSwitch
)

func (k CommandKind) String() string {
	switch k {
	case KindArm:
		return "arm"
	case KindDisarm:
		return "disarm"
	case KindBypass:
		return "bypass"
	case KindMacro:
		return "macro"
	case KindClearMemory:
		return "clear-memory"
	case KindSwitch:
		return "switch"
	default:
		return "unknown"
	}
}

// CommandRequest describes one outbound action. Only the fields relevant
// to Kind are read.
type CommandRequest struct {
	Kind    CommandKind
	Areas   []int   // arm/disarm targets; empty disarm means all areas
	Mode    ArmMode // arm only
	Zone    int     // bypass toggle target
	Macro   int     // macro id
	Command int     // switch command id, 1-80 or 145-208
	On      bool    // switch target state
}

// command is an encoded request ready for the transport: path, raw form
// body and the Referer the firmware insists on for some endpoints.
type command struct {
	path    string
	body    string
	referer string
}

// encodeArm builds the arm request for the given areas.
func encodeArm(areas []int, mode ArmMode) command {
	return command{
		path: armPath,
		body: fmt.Sprintf("bIns0=%d&idc=%d&fIns=%d", maskOf(areas), idcWeb, mode.fIns()),
	}
}

// encodeDisarm builds the disarm request. The panel takes an absolute
// armed bitmask, so disarming means re-sending the currently armed mask
// minus the targets. An empty target list disarms everything, which by
// contract is the same request as naming all eight areas explicitly.
func encodeDisarm(armed AreaMask, targets []int) command {
	var remaining AreaMask
	if len(targets) > 0 {
		remaining = armed &^ maskOf(targets)
	}
	return command{
		path: armPath,
		body: fmt.Sprintf("bIns0=%d&idc=%d&fIns=0", remaining, idcWeb),
	}
}

// encodeBypass builds the zone inclusion toggle. The panel has no
// set/clear form: the same request flips whatever the current state is.
func encodeBypass(zone int) command {
	return command{
		path: bypassPath,
		body: fmt.Sprintf("nCmd=%d&idc=%d", zone, idcWeb),
	}
}

// encodeMacro builds the scenario execution request. The command list is
// semicolon separated and the firmware does not url-decode it, so the
// separators stay literal.
func encodeMacro(macro int, code string) command {
	return command{
		path:    macroPath,
		body:    fmt.Sprintf("comandi=%d;%d;%s;", macro, idcWeb, code),
		referer: "/index.htm?id=2",
	}
}

// encodeSwitch builds the on/off request for a command output or a
// domotic channel. 7 activates, 0 releases.
func encodeSwitch(cmd int, on bool) command {
	val := 0
	if on {
		val = 7
	}
	return command{
		path:    switchPath,
		body:    fmt.Sprintf("nCmd=%d&idc=%d&val=%d", cmd, idcWeb, val),
		referer: "/index.htm?id=6",
	}
}

// encodeClearMemory builds the alarm-memory wipe request.
func encodeClearMemory() command {
	return command{
		path: clearMemPath,
		body: "comandi=del",
	}
}

// encodeLabelQuery builds the semicolon list the label endpoints expect.
func encodeLabelQuery(ids []int) string {
	var sb strings.Builder
	sb.WriteString("comandi=")
	for _, id := range ids {
		fmt.Fprintf(&sb, "%d;", id)
	}
	return sb.String()
}

// padCode right-pads the master code with zeros to the 6 digits the
// panel's credential scheme works on.
func padCode(code string) string {
	for len(code) < 6 {
		code += "0"
	}
	return code
}

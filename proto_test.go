package combivox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeArm(t *testing.T) {
	cmd := encodeArm([]int{1, 2}, ArmNormal)
	require.Equal(t, armPath, cmd.path)
	require.Equal(t, "bIns0=3&idc=49&fIns=0", cmd.body)

	require.Equal(t, "bIns0=1&idc=49&fIns=2", encodeArm([]int{1}, ArmImmediate).body)
	require.Equal(t, "bIns0=128&idc=49&fIns=1", encodeArm([]int{8}, ArmForced).body)
}

func TestEncodeDisarmAll(t *testing.T) {
	armed := AreaMask(0xff)

	// disarming everything and naming every area are the same request
	all := encodeDisarm(armed, []int{1, 2, 3, 4, 5, 6, 7, 8})
	empty := encodeDisarm(armed, nil)
	require.Equal(t, all, empty)
	require.Equal(t, "bIns0=0&idc=49&fIns=0", empty.body)
}

func TestEncodeDisarmSelective(t *testing.T) {
	armed := maskOf([]int{1, 3, 4})
	cmd := encodeDisarm(armed, []int{3})
	require.Equal(t, "bIns0=9&idc=49&fIns=0", cmd.body)

	// disarming an area that is not armed changes nothing
	cmd = encodeDisarm(armed, []int{7})
	require.Equal(t, "bIns0=13&idc=49&fIns=0", cmd.body)
}

func TestEncodeBypass(t *testing.T) {
	cmd := encodeBypass(12)
	require.Equal(t, bypassPath, cmd.path)
	require.Equal(t, "nCmd=12&idc=49", cmd.body)
}

func TestEncodeMacro(t *testing.T) {
	cmd := encodeMacro(3, "123456")
	require.Equal(t, macroPath, cmd.path)
	require.Equal(t, "comandi=3;49;123456;", cmd.body)
	require.Equal(t, "/index.htm?id=2", cmd.referer)
}

func TestEncodeSwitch(t *testing.T) {
	on := encodeSwitch(7, true)
	require.Equal(t, switchPath, on.path)
	require.Equal(t, "nCmd=7&idc=49&val=7", on.body)
	require.Equal(t, "/index.htm?id=6", on.referer)

	require.Equal(t, "nCmd=150&idc=49&val=0", encodeSwitch(150, false).body)
}

func TestEncodeClearMemory(t *testing.T) {
	cmd := encodeClearMemory()
	require.Equal(t, clearMemPath, cmd.path)
	require.Equal(t, "comandi=del", cmd.body)
}

func TestEncodeLabelQuery(t *testing.T) {
	require.Equal(t, "comandi=1;2;5;", encodeLabelQuery([]int{1, 2, 5}))
	require.Equal(t, "comandi=", encodeLabelQuery(nil))
}

func TestPadCode(t *testing.T) {
	require.Equal(t, "123400", padCode("1234"))
	require.Equal(t, "123456", padCode("123456"))
}

func TestMaskOf(t *testing.T) {
	require.Equal(t, AreaMask(0x81), maskOf([]int{1, 8}))
	require.Equal(t, AreaMask(0), maskOf([]int{0, 9}))
	require.Equal(t, AreaMask(0x01), maskOf([]int{1, 1}))
}

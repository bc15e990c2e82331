package hardware

// ArgKind 请求参数的编码方式
type ArgKind int

const (
	ArgNone        ArgKind = iota // 无参数
	ArgAnglePair                  // 十六进制角度对
	ArgBytes                      // 定长原始字节
	ArgPassthrough                // 转发给子设备的7字节包
)

// ReplyFormat 应答负载格式
type ReplyFormat int

const (
	ReplyBinary    ReplyFormat = iota // 原始字节
	ReplyHexPair                      // "XXXX,XXXX" 形式的角度对
	ReplyASCIIFlag                    // ASCII '0' 或 '1'
)

// ReplyShape 应答形状：负载长度（不含结束符'#'）和格式
type ReplyShape struct {
	Length int
	Format ReplyFormat
}

// Command 一条协议命令的静态描述
type Command struct {
	ID     byte
	Name   string
	Args   ArgKind
	ArgLen int // ArgBytes 时的参数长度
	Reply  ReplyShape

	// 仅对角度类命令有意义
	Mode      CoordinateMode
	Precision Precision
}

func hexPairReply(p Precision) ReplyShape {
	return ReplyShape{Length: 2*p.Digits() + 1, Format: ReplyHexPair}
}

var (
	ack = ReplyShape{Length: 0, Format: ReplyBinary}

	CmdGetPositionRADec = Command{ID: 'E', Name: "get_position_ra_dec",
		Reply: hexPairReply(PrecisionStandard), Mode: RightAscensionDeclination, Precision: PrecisionStandard}
	CmdGetPositionRADecPrecise = Command{ID: 'e', Name: "get_position_ra_dec_precise",
		Reply: hexPairReply(PrecisionPrecise), Mode: RightAscensionDeclination, Precision: PrecisionPrecise}
	CmdGetPositionAzmAlt = Command{ID: 'Z', Name: "get_position_azm_alt",
		Reply: hexPairReply(PrecisionStandard), Mode: AzimuthAltitude, Precision: PrecisionStandard}
	CmdGetPositionAzmAltPrecise = Command{ID: 'z', Name: "get_position_azm_alt_precise",
		Reply: hexPairReply(PrecisionPrecise), Mode: AzimuthAltitude, Precision: PrecisionPrecise}

	CmdGotoRADec = Command{ID: 'R', Name: "goto_ra_dec", Args: ArgAnglePair,
		Reply: ack, Mode: RightAscensionDeclination, Precision: PrecisionStandard}
	CmdGotoRADecPrecise = Command{ID: 'r', Name: "goto_ra_dec_precise", Args: ArgAnglePair,
		Reply: ack, Mode: RightAscensionDeclination, Precision: PrecisionPrecise}
	CmdGotoAzmAlt = Command{ID: 'B', Name: "goto_azm_alt", Args: ArgAnglePair,
		Reply: ack, Mode: AzimuthAltitude, Precision: PrecisionStandard}
	CmdGotoAzmAltPrecise = Command{ID: 'b', Name: "goto_azm_alt_precise", Args: ArgAnglePair,
		Reply: ack, Mode: AzimuthAltitude, Precision: PrecisionPrecise}

	CmdSync = Command{ID: 'S', Name: "sync", Args: ArgAnglePair,
		Reply: ack, Mode: RightAscensionDeclination, Precision: PrecisionStandard}
	CmdSyncPrecise = Command{ID: 's', Name: "sync_precise", Args: ArgAnglePair,
		Reply: ack, Mode: RightAscensionDeclination, Precision: PrecisionPrecise}

	CmdGetTrackingMode = Command{ID: 't', Name: "get_tracking_mode", Reply: ReplyShape{Length: 1}}
	CmdSetTrackingMode = Command{ID: 'T', Name: "set_tracking_mode", Args: ArgBytes, ArgLen: 1, Reply: ack}

	CmdGetLocation = Command{ID: 'w', Name: "get_location", Reply: ReplyShape{Length: 8}}
	CmdSetLocation = Command{ID: 'W', Name: "set_location", Args: ArgBytes, ArgLen: 8, Reply: ack}

	CmdGetTime = Command{ID: 'h', Name: "get_time", Reply: ReplyShape{Length: 8}}
	CmdSetTime = Command{ID: 'H', Name: "set_time", Args: ArgBytes, ArgLen: 8, Reply: ack}

	CmdGetVersion           = Command{ID: 'V', Name: "get_version", Reply: ReplyShape{Length: 2}}
	CmdGetModel             = Command{ID: 'm', Name: "get_model", Reply: ReplyShape{Length: 1}}
	CmdEcho                 = Command{ID: 'K', Name: "echo", Args: ArgBytes, ArgLen: 1, Reply: ReplyShape{Length: 1}}
	CmdGetAlignmentComplete = Command{ID: 'J', Name: "get_alignment_complete", Reply: ReplyShape{Length: 1}}
	CmdGetGotoInProgress    = Command{ID: 'L', Name: "get_goto_in_progress", Reply: ReplyShape{Length: 1, Format: ReplyASCIIFlag}}
	CmdCancelGoto           = Command{ID: 'M', Name: "cancel_goto", Reply: ack}

	// 应答长度由每次请求决定
	CmdPassthrough = Command{ID: 'P', Name: "passthrough", Args: ArgPassthrough}
)

// Commands 全部命令，按标识符索引
var Commands = func() map[byte]Command {
	all := []Command{
		CmdGetPositionRADec, CmdGetPositionRADecPrecise, CmdGetPositionAzmAlt, CmdGetPositionAzmAltPrecise,
		CmdGotoRADec, CmdGotoRADecPrecise, CmdGotoAzmAlt, CmdGotoAzmAltPrecise,
		CmdSync, CmdSyncPrecise,
		CmdGetTrackingMode, CmdSetTrackingMode,
		CmdGetLocation, CmdSetLocation,
		CmdGetTime, CmdSetTime,
		CmdGetVersion, CmdGetModel, CmdEcho, CmdGetAlignmentComplete,
		CmdGetGotoInProgress, CmdCancelGoto, CmdPassthrough,
	}
	m := make(map[byte]Command, len(all))
	for _, c := range all {
		m[c.ID] = c
	}
	return m
}()

// RequestLength 请求的总字节数（含命令字节）
func (c Command) RequestLength() int {
	switch c.Args {
	case ArgAnglePair:
		return 1 + 2*c.Precision.Digits() + 1
	case ArgBytes:
		return 1 + c.ArgLen
	case ArgPassthrough:
		return 1 + passthroughArgLen
	default:
		return 1
	}
}

func positionCommand(mode CoordinateMode, p Precision) (Command, bool) {
	switch {
	case mode == AzimuthAltitude && p == PrecisionStandard:
		return CmdGetPositionAzmAlt, true
	case mode == AzimuthAltitude && p == PrecisionPrecise:
		return CmdGetPositionAzmAltPrecise, true
	case mode == RightAscensionDeclination && p == PrecisionStandard:
		return CmdGetPositionRADec, true
	case mode == RightAscensionDeclination && p == PrecisionPrecise:
		return CmdGetPositionRADecPrecise, true
	}
	return Command{}, false
}

func gotoCommand(mode CoordinateMode, p Precision) (Command, bool) {
	switch {
	case mode == AzimuthAltitude && p == PrecisionStandard:
		return CmdGotoAzmAlt, true
	case mode == AzimuthAltitude && p == PrecisionPrecise:
		return CmdGotoAzmAltPrecise, true
	case mode == RightAscensionDeclination && p == PrecisionStandard:
		return CmdGotoRADec, true
	case mode == RightAscensionDeclination && p == PrecisionPrecise:
		return CmdGotoRADecPrecise, true
	}
	return Command{}, false
}

// 子设备消息号
const (
	MsgSlewVariablePositive byte = 6
	MsgSlewVariableNegative byte = 7
	MsgSlewDone             byte = 0x13
	MsgSlewFixedPositive    byte = 36
	MsgSlewFixedNegative    byte = 37
	MsgGetDeviceVersion     byte = 254
)

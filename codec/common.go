package codec

// rules shared by every Oxford Instruments controller
func commonRules(protocols []int) map[Opcode]Rule {
	return map[Opcode]Rule{
		OpSetRemote: {
			Letter: 'C',
			Params: []ParamSpec{{Name: "mode", Kind: KindInt, Min: 0, Max: 3}},
			Reply:  ReplyAck,
		},
		OpClearFault: {Letter: 'C', Suffix: "3", Reply: ReplyAck},
		OpUnlock: {
			Letter: 'U',
			Params: []ParamSpec{{Name: "key", Kind: KindInt, Min: 0, Max: 9999}},
			Reply:  ReplyAck,
		},
		OpSetWait: {
			Letter: 'W',
			Params: []ParamSpec{{Name: "delay", Kind: KindInt, Min: 0, Max: 32767}},
			Reply:  ReplyAck,
		},
		OpSetProtocol: {
			Letter: 'Q',
			Params: []ParamSpec{{Name: "protocol", Kind: KindInt, Allowed: protocols}},
			Reply:  ReplyNone,
		},
	}
}

func controlText(c int) string {
	switch c {
	case 0:
		return "LOCAL and LOCKED"
	case 1:
		return "REMOTE and LOCKED"
	case 2:
		return "LOCAL and UNLOCKED"
	case 3:
		return "REMOTE and UNLOCKED"
	default:
		return "AUTO-RUN-DOWN"
	}
}

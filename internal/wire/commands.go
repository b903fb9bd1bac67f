package wire

// commandSpec describes one message's text-mode keyword and argument shape
// (spec §4.B table; §4.B "Text decoder state machine").
//
// format is a sequence of tokens consumed in order:
//
//	'i'  decimal integer, 0-255
//	't'  string, quoted or unquoted
//	'|'  everything from here on is optional
//
// format "kv" is a sentinel for WRITE/INFO's two-shape argument (a bare key
// for delete, or "<key> <value>" for store): it is handled by
// decodeKeyValueArgs instead of the generic per-token loop, since whether
// the key gets a trailing NUL depends on whether a value follows at all.
type commandSpec struct {
	name   string
	msg    Msg
	format string
}

const keyValueFormat = "kv"

// maxCommandWordLen bounds the command keyword the text decoder will
// collect before giving up (spec §4.B: "collects a command word (max 16
// chars)").
const maxCommandWordLen = 16

var commandTable = []commandSpec{
	{"HELLO", HELLO, "i|t"},
	{"SUB", SUB, "t"},
	{"UNSUB", UNSUB, "t"},
	{"GET", GET, "t"},
	{"READ", GET, "t"},
	{"PUT", PUT, keyValueFormat},
	{"WRITE", PUT, keyValueFormat},
	{"BEGIN", BEGIN, ""},
	{"COMMIT", COMMIT, ""},
	{"PING", PING, "t"},
	{"VERSION", VERSION, "i|t"},
	{"INFO", INFO, keyValueFormat},
	{"PONG", PONG, "|t"},
	{"ERROR", ERROR, "t"},
}

var (
	commandsByName = make(map[string]commandSpec, len(commandTable))
	commandsByMsg  = make(map[Msg]commandSpec, len(commandTable))
)

func init() {
	for _, c := range commandTable {
		commandsByName[c.name] = c
		// First table entry for a given Msg wins the canonical text name
		// (GET before READ, PUT before WRITE): used only when re-encoding
		// that Msg as text.
		if _, ok := commandsByMsg[c.msg]; !ok {
			commandsByMsg[c.msg] = c
		}
	}
}

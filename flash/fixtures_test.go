package flash

import "github.com/flashcore/flashcore/flash/power"

var (
	seqOffFull = power.Sequence{{Op: "off", Arg: "full"}}
	seqOnFull  = power.Sequence{{Op: "on", Arg: "full"}}
)

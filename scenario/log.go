package scenario

import (
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("tracegc.scenario")

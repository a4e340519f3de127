package gc

import "github.com/tliron/commonlog"

var log = commonlog.GetLogger("tracegc.gc")
